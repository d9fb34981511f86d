package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	kmcp "github.com/framingui/keygate/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	var (
		transport string
		port      int
		url       string
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server for AI agents",
		Long: `Start a Model Context Protocol (MCP) server that exposes API key
verification and theme entitlements as tools for AI agents.

The server calls a running keygate deployment over HTTP using the API key
from the KEYGATE_API_KEY environment variable. In stdio mode it
communicates over stdin/stdout using JSON-RPC, suitable for MCP clients
that launch it as a subprocess.`,
		Example: `  KEYGATE_API_KEY=fg_live_... keygate mcp
  KEYGATE_API_KEY=fg_live_... keygate mcp --url https://keys.example.com
  KEYGATE_API_KEY=fg_live_... keygate mcp --transport http --port 3001`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP(transport, port, url)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport mode: stdio or http")
	cmd.Flags().IntVar(&port, "port", 3001, "HTTP port (only used with --transport http)")
	cmd.Flags().StringVar(&url, "url", "http://localhost:8080", "Base URL of the keygate deployment")

	return cmd
}

func runMCP(transport string, port int, url string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	apiKey := os.Getenv("KEYGATE_API_KEY")
	if apiKey == "" {
		return fmt.Errorf("KEYGATE_API_KEY environment variable is required")
	}

	client := kmcp.NewVerifyClient(url, apiKey)
	mcpSrv := kmcp.NewMCPServer(client, logger)

	switch transport {
	case "stdio":
		return mcpSrv.ServeStdio()
	case "http":
		return mcpSrv.ServeHTTP(fmt.Sprintf(":%d", port))
	default:
		return fmt.Errorf("unsupported transport %q; use 'stdio' or 'http'", transport)
	}
}
