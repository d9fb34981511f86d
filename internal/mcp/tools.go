package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// registerTools registers the keygate MCP tools on the given server.
func (s *MCPServer) registerTools(srv *server.MCPServer) {

	srv.AddTool(
		mcp.NewTool("keygate_whoami",
			mcp.WithDescription(
				"Verify the configured API key and return the account it belongs to: "+
					"user ID, email, and subscription plan. Use this to confirm the key "+
					"is valid before relying on theme access.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		s.handleWhoami,
	)

	srv.AddTool(
		mcp.NewTool("keygate_list_themes",
			mcp.WithDescription(
				"List the themes the configured API key can access, split into the "+
					"free baseline catalog and the themes unlocked by purchased licenses. "+
					"Also returns the underlying licenses with their tier and expiry.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		s.handleListThemes,
	)

	srv.AddTool(
		mcp.NewTool("keygate_check_theme",
			mcp.WithDescription(
				"Check whether the configured API key grants access to one specific "+
					"theme, by ID. Free themes are accessible to every valid key.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("theme",
				mcp.Required(),
				mcp.Description("Theme ID to check access for"),
			),
		),
		s.handleCheckTheme,
	)
}

func (s *MCPServer) handleWhoami(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := s.client.Verify(ctx)
	if err != nil {
		return verifyError(err)
	}

	return successJSON(map[string]interface{}{
		"id":    res.User.ID,
		"email": res.User.Email,
		"plan":  res.User.Plan,
	})
}

func (s *MCPServer) handleListThemes(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := s.client.Verify(ctx)
	if err != nil {
		return verifyError(err)
	}

	return successJSON(map[string]interface{}{
		"free":     res.Themes.Free,
		"licensed": res.Themes.Licensed,
		"licenses": res.Licenses,
	})
}

func (s *MCPServer) handleCheckTheme(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	theme, err := request.RequireString("theme")
	if err != nil {
		return toolError("missing required parameter %q", "theme")
	}

	res, err := s.client.Verify(ctx)
	if err != nil {
		return verifyError(err)
	}

	accessible := false
	for _, id := range res.Themes.Free {
		if id == theme {
			accessible = true
		}
	}
	for _, id := range res.Themes.Licensed {
		if id == theme {
			accessible = true
		}
	}

	return successJSON(map[string]interface{}{
		"theme":      theme,
		"accessible": accessible,
	})
}

// verifyError maps a verification failure to a tool-level error the LLM
// can read and act on without terminating the session.
func verifyError(err error) (*mcp.CallToolResult, error) {
	var throttled *ThrottledError
	switch {
	case errors.Is(err, ErrUnauthorized):
		return toolError("API key rejected. Check the KEYGATE_API_KEY environment variable: %v", err)
	case errors.As(err, &throttled):
		return toolError("Rate limited. Retry after %d seconds.", throttled.RetryAfter)
	default:
		return toolError("verification failed: %v", err)
	}
}

// successJSON marshals data to JSON and returns it as a tool result.
func successJSON(data interface{}) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}

// toolError returns a tool-level error result. Errors returned this way
// are visible to the LLM so it can self-correct; they do NOT terminate the
// MCP session.
func toolError(format string, args ...interface{}) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(fmt.Sprintf(format, args...)), nil
}
