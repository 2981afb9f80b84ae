package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"agent-toolbridge/internal/apperr"
	"agent-toolbridge/internal/config"
)

// ToolMetadata describes one namespaced tool in the registry.
type ToolMetadata struct {
	ID              string         `json:"id"`
	ServerKey       string         `json:"serverKey"`
	ServerName      string         `json:"serverName"`
	ServerURL       string         `json:"serverUrl"`
	ToolName        string         `json:"toolName"`
	Description     string         `json:"description,omitempty"`
	InputSchema     map[string]any `json:"inputSchema"`
	DestructiveHint bool           `json:"destructiveHint,omitempty"`
	IsHealthy       bool           `json:"isHealthy"`
}

// ServerStatus is the outcome of connecting to one server.
type ServerStatus struct {
	Key          string    `json:"key"`
	Name         string    `json:"name"`
	URL          string    `json:"url"`
	IsConnected  bool      `json:"isConnected"`
	LastError    string    `json:"lastError,omitempty"`
	LastTestedAt time.Time `json:"lastTestedAt,omitzero"`
	ToolCount    int       `json:"toolCount"`
	DroppedTools []string  `json:"droppedTools,omitempty"`
}

// Registry is the namespaced view of every tool discovered across servers.
type Registry struct {
	Tools        map[string]ToolMetadata `json:"tools"`
	ServerStatus map[string]ServerStatus `json:"serverStatus"`
	// Order lists tool IDs in discovery order.
	Order []string `json:"-"`
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		Tools:        map[string]ToolMetadata{},
		ServerStatus: map[string]ServerStatus{},
	}
}

// Manager owns the clients of a set of MCP servers and routes tool calls by
// namespaced tool ID.
type Manager struct {
	factory Factory
	logger  *slog.Logger

	mu       sync.RWMutex
	clients  map[string]Client
	registry *Registry
}

// NewManager creates a manager that builds clients with factory.
func NewManager(factory Factory, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		factory:  factory,
		logger:   logger,
		clients:  map[string]Client{},
		registry: NewRegistry(),
	}
}

// InitializeServers connects to every server concurrently and rebuilds the
// registry. A failing server never prevents the others from connecting; its
// failure is recorded in the registry's server status. Previously held
// clients are closed first.
func (m *Manager) InitializeServers(ctx context.Context, servers []config.ServerConfig) *Registry {
	if err := m.Cleanup(); err != nil {
		m.logger.Warn("failed to close previous MCP clients", "error", err)
	}

	clients := make([]Client, len(servers))
	seen := make(map[string]bool, len(servers))
	for i, s := range servers {
		if seen[s.Key()] {
			continue
		}
		seen[s.Key()] = true
		clients[i] = m.factory(s)
	}

	// Goroutines never return an error: each server is joined independently.
	var g errgroup.Group
	for _, c := range clients {
		if c == nil {
			continue
		}
		g.Go(func() error {
			c.Init(ctx)
			return nil
		})
	}
	_ = g.Wait()

	reg := buildRegistry(servers, clients, m.logger)

	m.mu.Lock()
	for _, c := range clients {
		if c != nil {
			m.clients[c.Server().Key()] = c
		}
	}
	m.registry = reg
	m.mu.Unlock()

	return reg
}

// ErrDuplicateServerKey is the LastError of a server skipped because an
// earlier server has the same key.
const ErrDuplicateServerKey = "duplicate server key"

// DuplicateStatusKey is the ServerStatus key of the skipped server at
// configuration index i.
func DuplicateStatusKey(key string, i int) string {
	return fmt.Sprintf("%s#%d", key, i)
}

// buildRegistry namespaces tools in server configuration order. When two
// tools map to the same ID the first one is kept and the later server's
// status lists the dropped tool.
func buildRegistry(servers []config.ServerConfig, clients []Client, logger *slog.Logger) *Registry {
	reg := NewRegistry()

	for i, s := range servers {
		c := clients[i]
		if c == nil {
			logger.Warn("duplicate MCP server key, keeping first", "server_key", s.Key())
			reg.ServerStatus[DuplicateStatusKey(s.Key(), i)] = ServerStatus{
				Key:       s.Key(),
				Name:      s.Name,
				URL:       s.Endpoint,
				LastError: ErrDuplicateServerKey,
			}
			continue
		}

		st := c.Status()
		status := ServerStatus{
			Key:          s.Key(),
			Name:         s.Name,
			URL:          s.Endpoint,
			IsConnected:  st.Ready(),
			LastError:    st.LastError,
			LastTestedAt: st.LastTestedAt,
		}

		if st.Ready() {
			for _, tool := range c.ToolList() {
				id := ToolID(s.Name, tool.Name)
				if owner, exists := reg.Tools[id]; exists {
					logger.Warn("duplicate MCP tool ID, keeping first",
						"tool_id", id, "kept_server", owner.ServerName, "dropped_server", s.Name)
					status.DroppedTools = append(status.DroppedTools, tool.Name)
					continue
				}
				reg.Tools[id] = ToolMetadata{
					ID:              id,
					ServerKey:       s.Key(),
					ServerName:      s.Name,
					ServerURL:       s.Endpoint,
					ToolName:        tool.Name,
					Description:     tool.Description,
					InputSchema:     tool.InputSchema,
					DestructiveHint: tool.DestructiveHint,
					IsHealthy:       true,
				}
				reg.Order = append(reg.Order, id)
				status.ToolCount++
			}
		}

		reg.ServerStatus[s.Key()] = status
	}

	return reg
}

// Registry returns the registry built by the last InitializeServers call.
func (m *Manager) Registry() *Registry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.registry
}

// Client returns the client for a server key. The client may not be ready.
func (m *Manager) Client(key string) (Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[key]
	return c, ok
}

// CallTool routes a namespaced tool call to the server that owns the tool.
func (m *Manager) CallTool(ctx context.Context, toolID string, args map[string]any, progressToken string) (*CallToolResult, error) {
	m.mu.RLock()
	meta, ok := m.registry.Tools[toolID]
	var client Client
	if ok {
		client = m.clients[meta.ServerKey]
	}
	m.mu.RUnlock()

	if !ok || client == nil {
		return nil, apperr.New(apperr.KindNotFound, "call tool", fmt.Sprintf("tool not found: %s", toolID))
	}
	return client.CallTool(ctx, meta.ToolName, args, progressToken)
}

// Cleanup closes every client, collecting errors. It is safe to call at any
// time, including before InitializeServers.
func (m *Manager) Cleanup() error {
	m.mu.Lock()
	clients := m.clients
	m.clients = map[string]Client{}
	m.registry = NewRegistry()
	m.mu.Unlock()

	var errs []string
	for key, c := range clients {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return errors.New("errors stopping MCP clients: " + strings.Join(errs, "; "))
	}
	return nil
}
