// Package registry builds the aggregated tool catalog of one caller: local
// built-ins, the tools of every active MCP server and one tool per ready A2A
// agent. Every build starts from scratch.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"agent-toolbridge/internal/a2a"
	"agent-toolbridge/internal/builtin"
	"agent-toolbridge/internal/config"
	"agent-toolbridge/internal/mcp"
	"agent-toolbridge/internal/metrics"
)

// SourceKind tells where a tool comes from.
type SourceKind string

const (
	SourceLocal SourceKind = "local"
	SourceMCP   SourceKind = "mcp"
	SourceA2A   SourceKind = "a2a"
)

// ToolEntry is one tool of the aggregated registry.
type ToolEntry struct {
	ID             string         `json:"id"`
	DisplayName    string         `json:"displayName"`
	Description    string         `json:"description,omitempty"`
	SourceKind     SourceKind     `json:"sourceKind"`
	SourceServerID string         `json:"sourceServerId,omitempty"`
	Schema         map[string]any `json:"schema"`
}

// ServerSource lists the servers a caller may use.
type ServerSource interface {
	ActiveServers(ctx context.Context, userID string, kind config.Kind) ([]config.ServerConfig, error)
}

// Options configures an Aggregator.
type Options struct {
	MCPFactory mcp.Factory
	A2AFactory a2a.Factory
	// DiscoveryTimeout bounds each protocol's discovery phase.
	DiscoveryTimeout time.Duration
	Metrics          *metrics.Metrics
	Logger           *slog.Logger
}

// Aggregator builds registries.
type Aggregator struct {
	builtins *builtin.Set
	source   ServerSource
	opts     Options
}

// New creates an aggregator. source may be nil, in which case only the
// built-in tools are listed.
func New(builtins *builtin.Set, source ServerSource, opts Options) *Aggregator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DiscoveryTimeout <= 0 {
		opts.DiscoveryTimeout = 15 * time.Second
	}
	if builtins == nil {
		builtins = builtin.NewSet()
	}
	return &Aggregator{builtins: builtins, source: source, opts: opts}
}

// Result is the outcome of one registry build. The managers stay open so
// the tools can be invoked; Close releases them.
type Result struct {
	Tools       []ToolEntry        `json:"tools"`
	MCPRegistry *mcp.Registry      `json:"mcpRegistry,omitempty"`
	A2ARegistry *a2a.AgentRegistry `json:"a2aRegistry,omitempty"`

	MCP *mcp.Manager `json:"-"`
	A2A *a2a.Manager `json:"-"`
}

// IDs returns the tool IDs in registry order.
func (r *Result) IDs() []string {
	ids := make([]string, 0, len(r.Tools))
	for _, t := range r.Tools {
		ids = append(ids, t.ID)
	}
	return ids
}

// Find returns the entry with the given ID.
func (r *Result) Find(id string) (ToolEntry, bool) {
	for _, t := range r.Tools {
		if t.ID == id {
			return t, true
		}
	}
	return ToolEntry{}, false
}

// Close releases every connection opened by the build.
func (r *Result) Close() error {
	var errs []error
	if r.MCP != nil {
		errs = append(errs, r.MCP.Cleanup())
	}
	if r.A2A != nil {
		errs = append(errs, r.A2A.Cleanup())
	}
	return errors.Join(errs...)
}

// GetAllTools builds the registry for callerID. Server failures never fail
// the build: they show up in the MCP server status and A2A agent metadata.
// An empty callerID yields the built-in tools only.
func (a *Aggregator) GetAllTools(ctx context.Context, callerID string) *Result {
	start := time.Now()
	defer func() { a.opts.Metrics.ObserveRegistryBuild(time.Since(start)) }()

	res := &Result{}
	for _, t := range a.builtins.List() {
		res.Tools = append(res.Tools, ToolEntry{
			ID:          t.Name,
			DisplayName: t.Name,
			Description: t.Description,
			SourceKind:  SourceLocal,
			Schema:      t.InputSchema,
		})
	}

	if callerID == "" || a.source == nil {
		return res
	}

	mcpServers := a.activeServers(ctx, callerID, config.KindMCP)
	a2aAgents := a.activeServers(ctx, callerID, config.KindA2A)

	var g errgroup.Group
	if len(a2aAgents) > 0 && a.opts.A2AFactory != nil {
		res.A2A = a2a.NewManager(a.opts.A2AFactory, a.opts.Logger)
		g.Go(func() error {
			dctx, cancel := context.WithTimeout(ctx, a.opts.DiscoveryTimeout)
			defer cancel()
			res.A2A.InitializeAgents(dctx, a2aAgents)
			res.A2ARegistry = res.A2A.BuildTools()
			return nil
		})
	}
	if len(mcpServers) > 0 && a.opts.MCPFactory != nil {
		res.MCP = mcp.NewManager(a.opts.MCPFactory, a.opts.Logger)
		g.Go(func() error {
			dctx, cancel := context.WithTimeout(ctx, a.opts.DiscoveryTimeout)
			defer cancel()
			res.MCPRegistry = res.MCP.InitializeServers(dctx, mcpServers)
			return nil
		})
	}
	_ = g.Wait()

	if res.A2ARegistry != nil {
		for _, rec := range res.A2A.Records() {
			a.opts.Metrics.ObserveProbe(metrics.ProtocolA2A, rec.Status.Ready())
		}
		for _, id := range res.A2ARegistry.Order {
			tool := res.A2ARegistry.Tools[id]
			meta := res.A2ARegistry.Agents[tool.AgentKey]
			res.Tools = append(res.Tools, ToolEntry{
				ID:             id,
				DisplayName:    meta.DisplayName,
				Description:    tool.Description,
				SourceKind:     SourceA2A,
				SourceServerID: meta.ID,
				Schema:         tool.InputSchema,
			})
		}
	}
	if res.MCPRegistry != nil {
		for _, st := range res.MCPRegistry.ServerStatus {
			a.opts.Metrics.ObserveProbe(metrics.ProtocolMCP, st.IsConnected)
		}
		for _, id := range res.MCPRegistry.Order {
			tool := res.MCPRegistry.Tools[id]
			res.Tools = append(res.Tools, ToolEntry{
				ID:             id,
				DisplayName:    tool.ToolName,
				Description:    tool.Description,
				SourceKind:     SourceMCP,
				SourceServerID: tool.ServerKey,
				Schema:         tool.InputSchema,
			})
		}
	}

	a.opts.Logger.Debug("tool registry built",
		"caller", callerID,
		"tools", len(res.Tools),
		"mcp_servers", len(mcpServers),
		"a2a_agents", len(a2aAgents),
		"duration", time.Since(start),
	)
	return res
}

func (a *Aggregator) activeServers(ctx context.Context, userID string, kind config.Kind) []config.ServerConfig {
	servers, err := a.source.ActiveServers(ctx, userID, kind)
	if err != nil {
		a.opts.Logger.Warn("failed to load servers, continuing with local tools",
			"kind", kind, "error", err)
		return nil
	}
	active := servers[:0:0]
	for _, s := range servers {
		if s.IsActive {
			active = append(active, s)
		}
	}
	return active
}
