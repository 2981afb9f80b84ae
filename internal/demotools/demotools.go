// Package demotools provides a small MCP server used for local runs and
// integration tests.
package demotools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const maxCount = 100

// NewServer creates an MCP server exposing greet, echo and count.
func NewServer(name string) *server.MCPServer {
	s := server.NewMCPServer(name, "1.0.0",
		server.WithToolCapabilities(true),
	)
	RegisterTools(s)
	return s
}

// RegisterTools adds the demo tools to an MCP server.
func RegisterTools(s *server.MCPServer) {
	s.AddTool(
		mcp.NewTool("greet",
			mcp.WithDescription("Greet someone by name."),
			mcp.WithString("name", mcp.Required(), mcp.Description("Name of the person to greet")),
			mcp.WithReadOnlyHintAnnotation(true),
		),
		greet,
	)

	s.AddTool(
		mcp.NewTool("echo",
			mcp.WithDescription("Return the given text unchanged."),
			mcp.WithString("text", mcp.Required(), mcp.Description("Text to echo")),
			mcp.WithReadOnlyHintAnnotation(true),
		),
		echo,
	)

	s.AddTool(
		mcp.NewTool("count",
			mcp.WithDescription("Count up to a number, reporting progress along the way."),
			mcp.WithNumber("to", mcp.Required(), mcp.Description("Number to count to (max 100)")),
			mcp.WithNumber("delay_ms", mcp.Description("Delay between steps in milliseconds")),
			mcp.WithReadOnlyHintAnnotation(true),
		),
		count,
	)
}

func greet(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := strings.TrimSpace(req.GetString("name", ""))
	if name == "" {
		return mcp.NewToolResultError("name is required"), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Hello, %s!", name)), nil
}

func echo(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(req.GetString("text", "")), nil
}

// count sends a progress notification per step when the caller supplied a
// progress token.
func count(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	to := int(req.GetFloat("to", 0))
	if to <= 0 || to > maxCount {
		return mcp.NewToolResultError(fmt.Sprintf("to must be between 1 and %d", maxCount)), nil
	}
	delay := time.Duration(req.GetFloat("delay_ms", 0)) * time.Millisecond

	var token mcp.ProgressToken
	if req.Params.Meta != nil {
		token = req.Params.Meta.ProgressToken
	}
	srv := server.ServerFromContext(ctx)

	for i := 1; i <= to; i++ {
		if delay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
		if token != nil && srv != nil {
			_ = srv.SendNotificationToClient(ctx, "notifications/progress", map[string]any{
				"progressToken": token,
				"progress":      i,
				"total":         to,
				"message":       fmt.Sprintf("%d/%d", i, to),
			})
		}
	}

	return mcp.NewToolResultText(fmt.Sprintf("counted to %d", to)), nil
}
