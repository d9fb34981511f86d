package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// registerResources adds MCP resource definitions to the server. Resources
// provide read-only data that LLM clients can load into their context.
func (s *MCPServer) registerResources(srv *server.MCPServer) {
	srv.AddResource(
		mcp.NewResource(
			"keygate://entitlements",
			"Theme Entitlements",
			mcp.WithResourceDescription(
				"The account and theme entitlements of the configured API key: "+
					"user identity, active licenses, and accessible theme IDs.",
			),
			mcp.WithMIMEType("application/json"),
		),
		s.handleEntitlementsResource,
	)
}

// handleEntitlementsResource returns the full verification payload as a
// resource.
func (s *MCPServer) handleEntitlementsResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	res, err := s.client.Verify(ctx)
	if err != nil {
		return nil, fmt.Errorf("verifying api key: %w", err)
	}

	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entitlements: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "keygate://entitlements",
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}
