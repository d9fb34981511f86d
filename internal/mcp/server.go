package mcp

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/framingui/keygate/internal/model"
)

// verifier is the slice of VerifyClient the tools need. Narrowed for
// testing.
type verifier interface {
	Verify(ctx context.Context) (*model.VerifySuccess, error)
}

// MCPServer wraps the mcp-go server with keygate tool and resource
// registrations. It lets AI agents check who they are authenticated as and
// which themes their key unlocks.
type MCPServer struct {
	client verifier
	logger *slog.Logger
	server *server.MCPServer
}

// NewMCPServer creates an MCPServer pre-loaded with the keygate tools and
// resources. The returned server is ready to serve over stdio or HTTP.
func NewMCPServer(client verifier, logger *slog.Logger) *MCPServer {
	s := &MCPServer{
		client: client,
		logger: logger,
	}

	mcpServer := server.NewMCPServer(
		"Keygate",
		"1.0.0",
		server.WithResourceCapabilities(true, false),
		server.WithToolCapabilities(true),
	)

	s.registerTools(mcpServer)
	s.registerResources(mcpServer)

	s.server = mcpServer
	return s
}

// Server returns the underlying mcp-go MCPServer instance. Useful for
// advanced configuration or testing.
func (s *MCPServer) Server() *server.MCPServer {
	return s.server
}

// ServeStdio starts the MCP server in stdio mode. This is the primary
// integration path for MCP clients that launch the server as a subprocess.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server in stdio mode")
	return server.ServeStdio(s.server)
}

// ServeHTTP starts the MCP server in Streamable HTTP mode, listening on
// the given address (e.g. ":3001").
func (s *MCPServer) ServeHTTP(addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.server)
	s.logger.Info("MCP HTTP server starting", "addr", addr)
	return httpServer.Start(addr)
}

func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(true),
	}
}

func boolPtr(b bool) *bool {
	return &b
}
