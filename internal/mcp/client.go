package mcp

import (
	"context"
	"log/slog"
	"time"

	"agent-toolbridge/internal/config"
	"agent-toolbridge/internal/probe"
)

// Client is one connection to an MCP server.
//
// Init never returns an error for expected failures: the outcome is recorded
// in Status. Close is idempotent.
type Client interface {
	Init(ctx context.Context) bool
	Status() probe.Status
	Server() config.ServerConfig
	Tools() map[string]Tool
	ToolList() []Tool
	CallTool(ctx context.Context, name string, args map[string]any, progressToken string) (*CallToolResult, error)
	Close() error
}

// ProgressSink receives progress notifications for in-flight calls.
type ProgressSink interface {
	OnNotification(token string, progress float64, total *float64, message string)
}

// Factory builds a client for a server.
type Factory func(server config.ServerConfig) Client

// ClientOptions configures HTTP clients built by a factory.
type ClientOptions struct {
	ConnectTimeout time.Duration
	CallTimeout    time.Duration
	Progress       ProgressSink
	Logger         *slog.Logger
}

// NewFactory returns a Factory that builds streamable HTTP clients.
func NewFactory(opts ClientOptions) Factory {
	return func(server config.ServerConfig) Client {
		return NewHTTPClient(server, opts)
	}
}
