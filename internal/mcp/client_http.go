package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"agent-toolbridge/internal/apperr"
	"agent-toolbridge/internal/auth"
	"agent-toolbridge/internal/config"
	"agent-toolbridge/internal/probe"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultCallTimeout    = 60 * time.Second

	clientName    = "agent-toolbridge"
	clientVersion = "1.0.0"

	progressMethod = "notifications/progress"
)

// HTTPClient communicates with an MCP server over Streamable HTTP.
type HTTPClient struct {
	server         config.ServerConfig
	connectTimeout time.Duration
	callTimeout    time.Duration
	progress       ProgressSink
	logger         *slog.Logger

	probe *probe.Probe

	mu     sync.Mutex
	client *mcpclient.Client
	tools  []Tool
	closed bool
}

// NewHTTPClient creates a new HTTP MCP client. No I/O happens until Init.
func NewHTTPClient(server config.ServerConfig, opts ClientOptions) *HTTPClient {
	c := &HTTPClient{
		server:         server,
		connectTimeout: opts.ConnectTimeout,
		callTimeout:    opts.CallTimeout,
		progress:       opts.Progress,
		logger:         opts.Logger,
		probe:          probe.New(),
	}
	if c.connectTimeout <= 0 {
		c.connectTimeout = defaultConnectTimeout
	}
	if c.callTimeout <= 0 {
		c.callTimeout = defaultCallTimeout
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("mcp_server", server.Name)
	return c
}

// Server returns the configuration the client was built from.
func (c *HTTPClient) Server() config.ServerConfig { return c.server }

// Status returns the last known connection status.
func (c *HTTPClient) Status() probe.Status { return c.probe.Status() }

// Init connects to the server and loads its tools. It returns true once the
// client is ready. A ready client returns true without further I/O; a failed
// client must be Reset first.
func (c *HTTPClient) Init(ctx context.Context) bool {
	state, ok := c.probe.Begin()
	if !ok {
		return state == probe.StateReady
	}

	if err := c.server.Validate(); err != nil {
		c.probe.Fail(err.Error())
		return false
	}

	client, tools, err := c.connect(ctx)
	if err != nil {
		reason := probe.Describe(err, c.connectTimeout)
		c.logger.Warn("MCP server unavailable", "url", c.server.Endpoint, "error", reason)
		c.probe.Fail(reason)
		return false
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = client.Close()
		c.probe.Fail("client closed during initialization")
		return false
	}
	c.client = client
	c.tools = tools
	c.mu.Unlock()

	c.probe.Succeed()
	c.logger.Debug("MCP server ready", "tools", len(tools), "headers", len(c.server.Headers))
	return true
}

// Reset returns a failed client to uninitialized so Init can run again.
func (c *HTTPClient) Reset() bool { return c.probe.Reset() }

// forwardHeaderFunc forwards the caller's Bearer token and session ID.
func forwardHeaderFunc(ctx context.Context) map[string]string {
	return auth.ForwardHeaders(ctx)
}

// connect performs one connection attempt. No lock is held while dialing.
func (c *HTTPClient) connect(ctx context.Context) (*mcpclient.Client, []Tool, error) {
	opts := []transport.StreamableHTTPCOption{
		transport.WithHTTPHeaderFunc(forwardHeaderFunc),
	}
	if len(c.server.Headers) > 0 {
		opts = append(opts, transport.WithHTTPHeaders(c.server.Headers))
	}

	t, err := transport.NewStreamableHTTP(c.server.Endpoint, opts...)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.KindConfigurationInvalid, "create transport", err)
	}
	client := mcpclient.NewClient(t)
	client.OnNotification(c.handleNotification)

	ctx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	if err := client.Start(ctx); err != nil {
		_ = client.Close()
		return nil, nil, apperr.Wrap(apperr.KindConnectionFailed, "start transport", err)
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{
		Name:    clientName,
		Version: clientVersion,
	}
	initReq.Params.Capabilities = mcpgo.ClientCapabilities{}

	if _, err := client.Initialize(ctx, initReq); err != nil {
		_ = client.Close()
		return nil, nil, initializeError(err)
	}

	tools, err := loadTools(ctx, client, c.server.Name)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	return client, tools, nil
}

// Tools returns the discovered tools keyed by name.
func (c *HTTPClient) Tools() map[string]Tool {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]Tool, len(c.tools))
	for _, t := range c.tools {
		out[t.Name] = t
	}
	return out
}

// ToolList returns the discovered tools in server order.
func (c *HTTPClient) ToolList() []Tool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Tool(nil), c.tools...)
}

// CallTool executes a tool. A non-empty progressToken is attached to the
// request so the server can report progress against it.
func (c *HTTPClient) CallTool(ctx context.Context, name string, args map[string]any, progressToken string) (*CallToolResult, error) {
	c.mu.Lock()
	client, closed := c.client, c.closed
	c.mu.Unlock()

	if closed || client == nil {
		return nil, apperr.New(apperr.KindConnectionFailed, "call tool",
			fmt.Sprintf("MCP server %s is not connected", c.server.Name))
	}

	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	req := mcpgo.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	if progressToken != "" {
		req.Params.Meta = &mcpgo.Meta{ProgressToken: mcpgo.ProgressToken(progressToken)}
	}

	result, err := client.CallTool(ctx, req)
	if err != nil {
		if isHTTP401Error(err) {
			c.logger.Warn("MCP server returned HTTP 401", "tool", name)
			return nil, apperr.Wrap(apperr.KindUnauthorized, "call tool",
				&AuthRequiredError{Server: c.server.Endpoint, Tool: name})
		}
		return nil, apperr.Wrap(apperr.KindConnectionFailed, "call tool",
			fmt.Errorf("MCP tool call failed: %w", err))
	}

	return adaptCallToolResult(result), nil
}

// Close releases the transport. It is safe to call more than once and on a
// client that never became ready.
func (c *HTTPClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	client := c.client
	c.client = nil
	c.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.Close()
}

// handleNotification forwards progress notifications to the progress sink.
func (c *HTTPClient) handleNotification(n mcpgo.JSONRPCNotification) {
	if n.Method != progressMethod || c.progress == nil {
		return
	}
	fields := n.Params.AdditionalFields
	token, ok := fields["progressToken"]
	if !ok || token == nil {
		return
	}
	progress, _ := toFloat(fields["progress"])
	var total *float64
	if v, ok := toFloat(fields["total"]); ok {
		total = &v
	}
	message, _ := fields["message"].(string)

	c.progress.OnNotification(fmt.Sprint(token), progress, total, message)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// isHTTP401Error checks if an error from mcp-go indicates an HTTP 401 Unauthorized response.
func isHTTP401Error(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "status 401") || strings.Contains(msg, "(401)")
}

// initializeError classifies a failed handshake. A 401 stays unauthorized;
// anything else is a connection failure.
func initializeError(err error) error {
	if isHTTP401Error(err) {
		return apperr.Wrap(apperr.KindUnauthorized, "initialize", err)
	}
	return apperr.Wrap(apperr.KindConnectionFailed, "initialize", err)
}

// loadTools fetches tools from the given client and converts them.
func loadTools(ctx context.Context, client *mcpclient.Client, server string) ([]Tool, error) {
	result, err := client.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConnectionFailed, "list tools", err)
	}

	tools := make([]Tool, 0, len(result.Tools))
	for _, t := range result.Tools {
		tool, err := adaptTool(t)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindProtocolInvalid, "list tools", err)
		}
		tool.Server = server
		tools = append(tools, tool)
	}
	return tools, nil
}

// adaptTool converts an mcp-go Tool to our internal Tool type.
func adaptTool(t mcpgo.Tool) (Tool, error) {
	if strings.TrimSpace(t.Name) == "" {
		return Tool{}, errors.New("tool without a name")
	}

	schema, err := inputSchema(t)
	if err != nil {
		return Tool{}, fmt.Errorf("tool %s: %w", t.Name, err)
	}

	tool := Tool{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: schema,
	}

	// Per MCP, destructiveHint defaults to true when unset, so a tool is only
	// marked destructive when explicitly annotated.
	if t.Annotations.ReadOnlyHint != nil && *t.Annotations.ReadOnlyHint {
		tool.ReadOnlyHint = true
	} else if t.Annotations.DestructiveHint != nil {
		tool.DestructiveHint = *t.Annotations.DestructiveHint
	}

	return tool, nil
}

// inputSchema renders the tool's input schema, raw or structured, as a map.
func inputSchema(t mcpgo.Tool) (map[string]any, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool: %w", err)
	}
	var wire struct {
		InputSchema json.RawMessage `json:"inputSchema"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("failed to read input schema: %w", err)
	}
	if len(wire.InputSchema) == 0 || string(wire.InputSchema) == "null" {
		return map[string]any{"type": "object"}, nil
	}
	var schema map[string]any
	if err := json.Unmarshal(wire.InputSchema, &schema); err != nil {
		return nil, fmt.Errorf("input schema is not an object: %w", err)
	}
	return schema, nil
}

// adaptCallToolResult converts an mcp-go CallToolResult to our internal type.
func adaptCallToolResult(result *mcpgo.CallToolResult) *CallToolResult {
	r := &CallToolResult{
		IsError: result.IsError,
	}

	for _, content := range result.Content {
		if tc, ok := mcpgo.AsTextContent(content); ok {
			r.Content = append(r.Content, ContentBlock{
				Type: "text",
				Text: tc.Text,
			})
			continue
		}
		if ic, ok := mcpgo.AsImageContent(content); ok {
			r.Content = append(r.Content, ContentBlock{
				Type:     "image",
				MIMEType: ic.MIMEType,
			})
		}
	}

	return r
}
