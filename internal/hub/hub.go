// Package hub is the application service behind the HTTP API and the CLI.
// It ties the stored server configurations to the MCP and A2A adapters, the
// tool registry, the event log and the progress tracker.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	a2asdk "github.com/a2aproject/a2a-go/a2a"

	"agent-toolbridge/internal/a2a"
	"agent-toolbridge/internal/apperr"
	"agent-toolbridge/internal/builtin"
	"agent-toolbridge/internal/config"
	"agent-toolbridge/internal/conversation"
	"agent-toolbridge/internal/eventlog"
	"agent-toolbridge/internal/mcp"
	"agent-toolbridge/internal/metrics"
	"agent-toolbridge/internal/progress"
	"agent-toolbridge/internal/registry"
	"agent-toolbridge/internal/storage"
)

// Options configures a Hub.
type Options struct {
	Builtins *builtin.Set
	// Static servers are offered to every caller in addition to the stored
	// ones. They come from the configuration file and the environment.
	Static map[config.Kind][]config.ServerConfig

	ConnectTimeout   time.Duration
	CallTimeout      time.Duration
	DiscoveryTimeout time.Duration
	HTTPClient       *http.Client

	Tracker *progress.Tracker
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Hub handles server management, discovery and invocation for callers.
type Hub struct {
	store      *storage.Storage
	builtins   *builtin.Set
	tracker    *progress.Tracker
	metrics    *metrics.Metrics
	logger     *slog.Logger
	aggregator *registry.Aggregator

	mcpFactory mcp.Factory
	a2aFactory a2a.Factory
	a2aOpts    a2a.ClientOptions

	mu       sync.Mutex
	sessions map[string]*conversation.Session
}

// New creates a hub backed by store.
func New(store *storage.Storage, opts Options) *Hub {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracker == nil {
		opts.Tracker = progress.NewTracker()
	}
	if opts.Builtins == nil {
		opts.Builtins = builtin.NewSet()
	}

	h := &Hub{
		store:    store,
		builtins: opts.Builtins,
		tracker:  opts.Tracker,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		sessions: map[string]*conversation.Session{},
	}
	h.mcpFactory = mcp.NewFactory(mcp.ClientOptions{
		ConnectTimeout: opts.ConnectTimeout,
		CallTimeout:    opts.CallTimeout,
		Progress:       opts.Tracker,
		Logger:         opts.Logger,
	})
	h.a2aOpts = a2a.ClientOptions{
		ConnectTimeout: opts.ConnectTimeout,
		HTTPClient:     opts.HTTPClient,
		Logger:         opts.Logger,
	}
	h.a2aFactory = a2a.NewFactory(h.a2aOpts)
	h.aggregator = registry.New(opts.Builtins, serverSource{store: store, static: opts.Static}, registry.Options{
		MCPFactory:       h.mcpFactory,
		A2AFactory:       h.a2aFactory,
		DiscoveryTimeout: opts.DiscoveryTimeout,
		Metrics:          opts.Metrics,
		Logger:           opts.Logger,
	})
	return h
}

// Tracker returns the progress tracker fed by tool calls.
func (h *Hub) Tracker() *progress.Tracker { return h.tracker }

// serverSource lists the static servers followed by the caller's stored ones.
type serverSource struct {
	store  *storage.Storage
	static map[config.Kind][]config.ServerConfig
}

func (s serverSource) ActiveServers(ctx context.Context, userID string, kind config.Kind) ([]config.ServerConfig, error) {
	var servers []config.ServerConfig
	for _, srv := range s.static[kind] {
		if srv.IsActive {
			servers = append(servers, srv)
		}
	}
	if s.store == nil {
		return servers, nil
	}
	stored, err := s.store.ActiveServers(ctx, userID, kind)
	if err != nil {
		return servers, err
	}
	return append(servers, stored...), nil
}

// Tools builds the aggregated registry of a caller. Connections opened for
// the build are released before returning.
func (h *Hub) Tools(ctx context.Context, userID string) *registry.Result {
	res := h.aggregator.GetAllTools(ctx, userID)
	if err := res.Close(); err != nil {
		h.logger.Warn("failed to release registry connections", "error", err)
	}
	return res
}

// ListServers returns the stored servers of a caller with masked headers.
func (h *Hub) ListServers(ctx context.Context, userID string, kind config.Kind) ([]config.ServerConfig, error) {
	servers, err := h.store.ListServers(ctx, userID, kind)
	if err != nil {
		return nil, err
	}
	for i := range servers {
		servers[i] = servers[i].Redacted()
	}
	return servers, nil
}

// CreateServer stores a new server for a caller.
func (h *Hub) CreateServer(ctx context.Context, userID string, kind config.Kind, srv config.ServerConfig) (config.ServerConfig, error) {
	srv.UserID = userID
	created, err := h.store.CreateServer(ctx, kind, srv)
	if err != nil {
		return created, err
	}
	h.logger.Info("server created", "kind", kind, "id", created.ID, "name", created.Name, "headers", len(created.Headers))
	return created.Redacted(), nil
}

// DeleteServer removes a stored server.
func (h *Hub) DeleteServer(ctx context.Context, userID string, kind config.Kind, id string) error {
	ok, err := h.store.DeleteServer(ctx, userID, kind, id)
	if err != nil {
		return err
	}
	if !ok {
		return notFound("delete server", kind, id)
	}
	return nil
}

// SetActive enables or disables a stored server.
func (h *Hub) SetActive(ctx context.Context, userID string, kind config.Kind, id string, active bool) error {
	ok, err := h.store.SetActive(ctx, userID, kind, id, active)
	if err != nil {
		return err
	}
	if !ok {
		return notFound("update server", kind, id)
	}
	return nil
}

func notFound(op string, kind config.Kind, id string) error {
	return apperr.New(apperr.KindNotFound, op, fmt.Sprintf("%s server not found: %s", kind, id))
}

// server loads a stored server, which must exist and, when requireActive is
// set, be active.
func (h *Hub) server(ctx context.Context, op, userID string, kind config.Kind, id string, requireActive bool) (config.ServerConfig, error) {
	srv, err := h.store.GetServer(ctx, userID, kind, id)
	if err != nil {
		return config.ServerConfig{}, err
	}
	if srv == nil {
		return config.ServerConfig{}, notFound(op, kind, id)
	}
	if requireActive && !srv.IsActive {
		return config.ServerConfig{}, apperr.New(apperr.KindBadRequest, op, fmt.Sprintf("server %s is inactive", srv.Name))
	}
	return *srv, nil
}

func (h *Hub) recordConnection(ctx context.Context, kind config.Kind, id string, ok bool, lastErr string, toolCount int) {
	status := config.ConnectionFailed
	if ok {
		status = config.ConnectionConnected
		lastErr = ""
	}
	r := storage.ConnectionResult{Status: status, LastError: lastErr, ToolCount: toolCount}
	if err := h.store.RecordConnection(ctx, kind, id, r); err != nil {
		h.logger.Warn("failed to record connection status", "kind", kind, "id", id, "error", err)
	}
}

// ServerTools is the tool listing of one MCP server.
type ServerTools struct {
	ServerID   string `json:"serverId"`
	ServerName string `json:"serverName"`
	// Tools is keyed by tool name.
	Tools     map[string]mcp.Tool `json:"tools"`
	IsCached  bool                `json:"isCached"`
	Status    string              `json:"status"`
	LastError string              `json:"lastError,omitempty"`
	CachedAt  time.Time           `json:"cachedAt,omitzero"`
}

// ServerTools connects to one stored MCP server and lists its tools. A
// successful listing replaces the server's snapshot. When the server cannot
// be reached the last snapshot is returned with IsCached set; only without
// a snapshot does the call fail.
func (h *Hub) ServerTools(ctx context.Context, userID, id string) (*ServerTools, error) {
	const op = "list server tools"
	srv, err := h.server(ctx, op, userID, config.KindMCP, id, true)
	if err != nil {
		return nil, err
	}

	client := h.mcpFactory(srv)
	defer client.Close()

	ok := client.Init(ctx)
	h.metrics.ObserveProbe(metrics.ProtocolMCP, ok)
	st := client.Status()

	if ok {
		tools := client.ToolList()
		if err := h.store.SaveSnapshot(ctx, userID, srv.ID, tools); err != nil {
			h.logger.Warn("failed to save registry snapshot", "server", srv.Name, "error", err)
		}
		h.recordConnection(ctx, config.KindMCP, srv.ID, true, "", len(tools))
		return &ServerTools{
			ServerID:   srv.ID,
			ServerName: srv.Name,
			Tools:      client.Tools(),
			Status:     config.ConnectionConnected,
		}, nil
	}

	h.recordConnection(ctx, config.KindMCP, srv.ID, false, st.LastError, 0)

	snap, err := h.store.LoadSnapshot(ctx, userID, srv.ID)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, apperr.New(apperr.KindConnectionFailed, op,
			fmt.Sprintf("MCP server %s is unavailable: %s", srv.Name, st.LastError))
	}

	var tools []mcp.Tool
	if err := decodeSnapshot(snap, &tools); err != nil {
		return nil, err
	}
	h.logger.Info("serving cached tools", "server", srv.Name, "tools", len(tools), "cached_at", snap.UpdatedAt)
	return &ServerTools{
		ServerID:   srv.ID,
		ServerName: srv.Name,
		Tools:      toolsByName(tools),
		IsCached:   true,
		Status:     config.ConnectionOffline,
		LastError:  st.LastError,
		CachedAt:   snap.UpdatedAt,
	}, nil
}

func toolsByName(tools []mcp.Tool) map[string]mcp.Tool {
	out := make(map[string]mcp.Tool, len(tools))
	for _, t := range tools {
		out[t.Name] = t
	}
	return out
}

func decodeSnapshot(snap *storage.Snapshot, out any) error {
	if err := json.Unmarshal(snap.Tools, out); err != nil {
		return fmt.Errorf("decode snapshot of %s: %w", snap.ServerID, err)
	}
	return nil
}

// TestResult is the outcome of a connection test.
type TestResult struct {
	Server    config.ServerConfig `json:"server"`
	Connected bool                `json:"connected"`
	Error     string              `json:"error,omitempty"`
	Tools     []mcp.Tool          `json:"tools,omitempty"`
	AgentCard *a2asdk.AgentCard   `json:"agentCard,omitempty"`
}

// testTarget resolves the server of a connection test: the stored server
// when an ID is given, else the submitted configuration.
func (h *Hub) testTarget(ctx context.Context, userID string, kind config.Kind, srv config.ServerConfig) (config.ServerConfig, bool, error) {
	if srv.ID != "" {
		stored, err := h.server(ctx, "test server", userID, kind, srv.ID, false)
		return stored, true, err
	}
	srv.UserID = userID
	srv.Kind = kind
	if err := srv.Validate(); err != nil {
		return srv, false, err
	}
	return srv, false, nil
}

// TestMCPServer runs one connection cycle against an MCP server. The
// outcome of a stored server is recorded on it.
func (h *Hub) TestMCPServer(ctx context.Context, userID string, srv config.ServerConfig) (*TestResult, error) {
	srv, stored, err := h.testTarget(ctx, userID, config.KindMCP, srv)
	if err != nil {
		return nil, err
	}

	client := h.mcpFactory(srv)
	defer client.Close()

	ok := client.Init(ctx)
	h.metrics.ObserveProbe(metrics.ProtocolMCP, ok)
	res := &TestResult{Server: srv.Redacted(), Connected: ok, Error: client.Status().LastError}
	if ok {
		res.Tools = client.ToolList()
	}

	if stored {
		h.recordConnection(ctx, config.KindMCP, srv.ID, ok, res.Error, len(res.Tools))
		if ok {
			if err := h.store.SaveSnapshot(ctx, userID, srv.ID, res.Tools); err != nil {
				h.logger.Warn("failed to save registry snapshot", "server", srv.Name, "error", err)
			}
		}
	}
	return res, nil
}

// TestA2AServer fetches the card of an agent and prepares its transport.
// The outcome of a stored agent is recorded on it.
func (h *Hub) TestA2AServer(ctx context.Context, userID string, srv config.ServerConfig) (*TestResult, error) {
	srv, stored, err := h.testTarget(ctx, userID, config.KindA2A, srv)
	if err != nil {
		return nil, err
	}

	agent := h.a2aFactory(srv)
	defer agent.Close()

	ok := agent.Init(ctx)
	h.metrics.ObserveProbe(metrics.ProtocolA2A, ok)
	res := &TestResult{Server: srv.Redacted(), Connected: ok, Error: agent.Status().LastError}
	if ok {
		res.AgentCard = agent.AgentCard()
	}

	if stored {
		h.recordConnection(ctx, config.KindA2A, srv.ID, ok, res.Error, 0)
		if ok {
			if err := h.store.SaveAgentCard(ctx, userID, srv.ID, res.AgentCard); err != nil {
				h.logger.Warn("failed to save agent card", "agent", srv.Name, "error", err)
			}
		}
	}
	return res, nil
}

// AgentCard fetches the card of a stored agent. When the agent cannot be
// reached the last card fetched from it is returned instead.
func (h *Hub) AgentCard(ctx context.Context, userID, id string) (*a2asdk.AgentCard, error) {
	srv, err := h.server(ctx, "get agent card", userID, config.KindA2A, id, false)
	if err != nil {
		return nil, err
	}

	card, err := a2a.NewClient(srv, h.a2aOpts).FetchCard(ctx)
	h.metrics.ObserveProbe(metrics.ProtocolA2A, err == nil)
	if err != nil {
		if !apperr.Is(err, apperr.KindConnectionFailed) {
			return nil, err
		}
		cached, loadErr := h.cachedAgentCard(ctx, userID, srv)
		if loadErr != nil || cached == nil {
			if loadErr != nil {
				h.logger.Warn("failed to load stored agent card", "agent", srv.Name, "error", loadErr)
			}
			return nil, err
		}
		h.logger.Info("serving cached agent card", "agent", srv.Name, "error", err)
		return cached, nil
	}
	if err := h.store.SaveAgentCard(ctx, userID, srv.ID, card); err != nil {
		h.logger.Warn("failed to save agent card", "agent", srv.Name, "error", err)
	}
	return card, nil
}

func (h *Hub) cachedAgentCard(ctx context.Context, userID string, srv config.ServerConfig) (*a2asdk.AgentCard, error) {
	raw, err := h.store.LoadAgentCard(ctx, userID, srv.ID)
	if err != nil || raw == nil {
		return nil, err
	}
	var card a2asdk.AgentCard
	if err := json.Unmarshal(raw, &card); err != nil {
		return nil, fmt.Errorf("decode stored card of %s: %w", srv.Name, err)
	}
	return &card, nil
}

func sessionKey(userID, chatID, agentKey string) string {
	return userID + "|" + chatID + "|" + agentKey
}

// Session returns the session held with an agent in a chat, or nil.
func (h *Hub) Session(userID, chatID, agentKey string) *conversation.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions[sessionKey(userID, chatID, agentKey)]
}

func (h *Hub) saveSession(userID, chatID, agentKey string, s *conversation.Session) {
	if s == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[sessionKey(userID, chatID, agentKey)] = s
}

// invoke sends text to an agent of mgr, continuing the chat's session, and
// persists the resulting entry.
func (h *Hub) invoke(ctx context.Context, mgr *a2a.Manager, userID, chatID, key, text string) (*eventlog.Entry, error) {
	mgr.RestoreSession(key, h.Session(userID, chatID, key))

	entry, err := mgr.Invoke(ctx, key, text)
	h.metrics.ObserveToolCall(string(registry.SourceA2A), err)
	if err != nil {
		return nil, err
	}
	h.saveSession(userID, chatID, key, mgr.Session(key))

	if _, err := h.store.AppendEvent(ctx, userID, chatID, entry); err != nil {
		h.logger.Warn("failed to persist A2A event", "agent", key, "error", err)
	}
	return entry, nil
}

// InvokeAgent sends a message to a stored agent and returns the event log
// entry of the exchange.
func (h *Hub) InvokeAgent(ctx context.Context, userID, chatID, id, text string) (*eventlog.Entry, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperr.New(apperr.KindBadRequest, "invoke agent", "text is required")
	}
	srv, err := h.server(ctx, "invoke agent", userID, config.KindA2A, id, true)
	if err != nil {
		return nil, err
	}

	mgr := a2a.NewManager(h.a2aFactory, h.logger)
	defer mgr.Cleanup()

	mgr.InitializeAgents(ctx, []config.ServerConfig{srv})
	for _, st := range mgr.Statuses() {
		h.metrics.ObserveProbe(metrics.ProtocolA2A, st.Ready())
	}
	return h.invoke(ctx, mgr, userID, chatID, srv.Key(), text)
}

// EventLog returns the stored entries of a chat merged with entries the
// caller holds locally, newest first and without duplicates.
func (h *Hub) EventLog(ctx context.Context, userID, chatID string, live []*eventlog.Entry) ([]eventlog.Entry, error) {
	persisted, err := h.store.ListEvents(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}
	return eventlog.Merge(persisted, live), nil
}

// ToolCallResult is the outcome of a tool call.
type ToolCallResult struct {
	ToolID        string              `json:"toolId"`
	SourceKind    registry.SourceKind `json:"sourceKind"`
	ProgressToken string              `json:"progressToken,omitempty"`
	Result        any                 `json:"result"`
}

// withProgress runs call under a fresh progress token owned by userID,
// tracked until call returns.
func (h *Hub) withProgress(userID, server, tool string, call func(token string) error) (string, error) {
	token := progress.NewToken(server)
	h.tracker.Start(token, userID, server, tool)
	h.metrics.SetProgressActive(h.tracker.Len())
	defer func() {
		h.tracker.Clear(token)
		h.metrics.SetProgressActive(h.tracker.Len())
	}()
	return token, call(token)
}

// CallMCPTool calls a tool of one stored MCP server by its plain name.
func (h *Hub) CallMCPTool(ctx context.Context, userID, serverID, tool string, args map[string]any) (*ToolCallResult, error) {
	const op = "call tool"
	srv, err := h.server(ctx, op, userID, config.KindMCP, serverID, true)
	if err != nil {
		return nil, err
	}

	client := h.mcpFactory(srv)
	defer client.Close()

	ok := client.Init(ctx)
	h.metrics.ObserveProbe(metrics.ProtocolMCP, ok)
	if !ok {
		return nil, apperr.New(apperr.KindConnectionFailed, op,
			fmt.Sprintf("MCP server %s is unavailable: %s", srv.Name, client.Status().LastError))
	}
	if _, exists := client.Tools()[tool]; !exists {
		return nil, apperr.New(apperr.KindNotFound, op, fmt.Sprintf("tool %s not found on %s", tool, srv.Name))
	}

	var out *mcp.CallToolResult
	token, err := h.withProgress(userID, srv.Name, tool, func(token string) error {
		var err error
		out, err = client.CallTool(ctx, tool, args, token)
		return err
	})
	h.metrics.ObserveToolCall(string(registry.SourceMCP), err)
	if err != nil {
		return nil, err
	}
	return &ToolCallResult{
		ToolID:        mcp.ToolID(srv.Name, tool),
		SourceKind:    registry.SourceMCP,
		ProgressToken: token,
		Result:        out,
	}, nil
}

// CallTool calls any tool of the caller's registry by its registry ID.
// Agent tools take their message from the "text" argument.
func (h *Hub) CallTool(ctx context.Context, userID, chatID, toolID string, args map[string]any) (*ToolCallResult, error) {
	const op = "call tool"
	if _, ok := h.builtins.Get(toolID); ok {
		out, err := h.builtins.Call(ctx, toolID, args)
		h.metrics.ObserveToolCall(string(registry.SourceLocal), err)
		if err != nil {
			return nil, err
		}
		return &ToolCallResult{ToolID: toolID, SourceKind: registry.SourceLocal, Result: out}, nil
	}
	if !strings.HasPrefix(toolID, mcp.ToolPrefix) && !strings.HasPrefix(toolID, a2a.ToolPrefix) {
		return nil, apperr.New(apperr.KindNotFound, op, fmt.Sprintf("tool not found: %s", toolID))
	}

	res := h.aggregator.GetAllTools(ctx, userID)
	defer res.Close()

	entry, ok := res.Find(toolID)
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, op, fmt.Sprintf("tool not found: %s", toolID))
	}

	switch entry.SourceKind {
	case registry.SourceMCP:
		meta := res.MCPRegistry.Tools[toolID]
		var out *mcp.CallToolResult
		token, err := h.withProgress(userID, meta.ServerName, meta.ToolName, func(token string) error {
			var err error
			out, err = res.MCP.CallTool(ctx, toolID, args, token)
			return err
		})
		h.metrics.ObserveToolCall(string(registry.SourceMCP), err)
		if err != nil {
			return nil, err
		}
		return &ToolCallResult{ToolID: toolID, SourceKind: registry.SourceMCP, ProgressToken: token, Result: out}, nil

	case registry.SourceA2A:
		text, _ := args["text"].(string)
		if strings.TrimSpace(text) == "" {
			return nil, apperr.New(apperr.KindBadRequest, op, "text is required")
		}
		out, err := h.invoke(ctx, res.A2A, userID, chatID, entry.SourceServerID, text)
		if err != nil {
			return nil, err
		}
		return &ToolCallResult{ToolID: toolID, SourceKind: registry.SourceA2A, Result: out}, nil
	}
	return nil, apperr.New(apperr.KindNotFound, op, fmt.Sprintf("tool not found: %s", toolID))
}
