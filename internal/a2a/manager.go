package a2a

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/a2aproject/a2a-go/a2a"
	"golang.org/x/sync/errgroup"

	"agent-toolbridge/internal/config"
	"agent-toolbridge/internal/conversation"
	"agent-toolbridge/internal/mcp"
	"agent-toolbridge/internal/probe"
)

// Record is everything the manager knows about one agent.
type Record struct {
	Config  config.ServerConfig   `json:"config"`
	Status  probe.Status          `json:"status"`
	Card    *a2a.AgentCard        `json:"card,omitempty"`
	Session *conversation.Session `json:"session,omitempty"`
}

// AgentMetadata is the registry view of one agent.
type AgentMetadata struct {
	ID                 string           `json:"id"`
	ToolID             string           `json:"toolId"`
	DisplayName        string           `json:"displayName"`
	CardURL            string           `json:"cardUrl"`
	Description        string           `json:"description,omitempty"`
	IsReady            bool             `json:"isReady"`
	LastError          string           `json:"lastError,omitempty"`
	SupportsStreaming  bool             `json:"supportsStreaming"`
	DefaultInputModes  []string         `json:"defaultInputModes,omitempty"`
	DefaultOutputModes []string         `json:"defaultOutputModes,omitempty"`
	Skills             []a2a.AgentSkill `json:"skills,omitempty"`
	DocumentationURL   string           `json:"documentationUrl,omitempty"`
	IconURL            string           `json:"iconUrl,omitempty"`
	// Shadowed is set when another agent already owns ToolID.
	Shadowed bool `json:"shadowed,omitempty"`
}

// ToolDescriptor is the tool exposed for one ready agent.
type ToolDescriptor struct {
	ID          string         `json:"id"`
	AgentKey    string         `json:"agentKey"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// AgentRegistry is the result of BuildTools.
type AgentRegistry struct {
	Agents map[string]AgentMetadata  `json:"agents"`
	Tools  map[string]ToolDescriptor `json:"tools"`
	// Order lists tool IDs in agent configuration order.
	Order []string `json:"-"`
}

// ToolID returns the registry ID of the tool for an agent key.
func ToolID(agentKey string) string {
	return ToolPrefix + mcp.Sanitize(agentKey)
}

// ParseAgentConfig parses an A2A_AGENTS style list ("name:url" or bare URL
// entries, comma separated). Malformed entries are dropped.
func ParseAgentConfig(raw string) []config.ServerConfig {
	return config.ParseServerList(raw, config.KindA2A)
}

// Manager owns the connections to a set of A2A agents and the session held
// with each of them.
type Manager struct {
	factory Factory
	logger  *slog.Logger

	mu       sync.RWMutex
	agents   map[string]Agent
	order    []string
	sessions map[string]*conversation.Session
	// skipped holds configurations dropped for a duplicate key, by index.
	skipped map[int]config.ServerConfig
}

// NewManager creates a manager that builds agents with factory.
func NewManager(factory Factory, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		factory:  factory,
		logger:   logger,
		agents:   map[string]Agent{},
		sessions: map[string]*conversation.Session{},
	}
}

// InitializeAgents connects to every agent concurrently. Previously held
// agents are closed and their sessions dropped first. Duplicate keys keep
// the first configuration.
func (m *Manager) InitializeAgents(ctx context.Context, configs []config.ServerConfig) {
	if err := m.Cleanup(); err != nil {
		m.logger.Warn("failed to close previous A2A clients", "error", err)
	}

	var agents []Agent
	var order []string
	skipped := map[int]config.ServerConfig{}
	seen := make(map[string]bool, len(configs))
	for i, cfg := range configs {
		key := cfg.Key()
		if seen[key] {
			m.logger.Warn("duplicate A2A agent key, keeping first", "agent_key", key)
			skipped[i] = cfg
			continue
		}
		seen[key] = true
		agents = append(agents, m.factory(cfg))
		order = append(order, key)
	}

	var g errgroup.Group
	for _, a := range agents {
		g.Go(func() error {
			a.Init(ctx)
			return nil
		})
	}
	_ = g.Wait()

	m.mu.Lock()
	for i, a := range agents {
		m.agents[order[i]] = a
	}
	m.order = order
	m.skipped = skipped
	m.mu.Unlock()
}

// Agent returns the agent for a key. It may not be ready.
func (m *Manager) Agent(key string) (Agent, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[key]
	return a, ok
}

// Statuses returns the connection status of every agent.
func (m *Manager) Statuses() map[string]probe.Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]probe.Status, len(m.agents))
	for k, a := range m.agents {
		out[k] = a.Status()
	}
	return out
}

// Records returns a record per agent in configuration order.
func (m *Manager) Records() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0, len(m.order))
	for _, key := range m.order {
		a := m.agents[key]
		out = append(out, Record{
			Config:  a.Server(),
			Status:  a.Status(),
			Card:    a.AgentCard(),
			Session: m.sessions[key],
		})
	}
	return out
}

// Session returns the session held with an agent, or nil.
func (m *Manager) Session(key string) *conversation.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[key]
}

// UpdateSession merges u into the agent's session and returns the result.
func (m *Manager) UpdateSession(key string, u conversation.Update) *conversation.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.sessions[key].Apply(u)
	m.sessions[key] = next
	return next
}

// RestoreSession installs a session carried over from an earlier manager.
// It must be called after InitializeAgents, which drops all sessions.
func (m *Manager) RestoreSession(key string, s *conversation.Session) {
	if s == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[key] = s
}

// Cleanup closes every agent and forgets all sessions.
func (m *Manager) Cleanup() error {
	m.mu.Lock()
	agents := m.agents
	m.agents = map[string]Agent{}
	m.order = nil
	m.skipped = nil
	m.sessions = map[string]*conversation.Session{}
	m.mu.Unlock()

	var errs []string
	for key, a := range agents {
		if err := a.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return errors.New("errors stopping A2A clients: " + strings.Join(errs, "; "))
	}
	return nil
}

// ErrDuplicateAgentKey is the LastError of an agent skipped because an
// earlier agent has the same key.
const ErrDuplicateAgentKey = "duplicate agent key"

// BuildTools builds metadata for every agent and a tool for every ready
// one. When two agent keys sanitize to the same tool ID the first agent in
// configuration order keeps it.
func (m *Manager) BuildTools() *AgentRegistry {
	reg := &AgentRegistry{
		Agents: map[string]AgentMetadata{},
		Tools:  map[string]ToolDescriptor{},
	}

	for _, rec := range m.Records() {
		key := rec.Config.Key()
		meta := buildMetadata(key, rec)

		if rec.Status.Ready() {
			if owner, taken := reg.Tools[meta.ToolID]; taken {
				m.logger.Warn("duplicate A2A tool ID, keeping first",
					"tool_id", meta.ToolID, "kept_agent", owner.AgentKey, "dropped_agent", key)
				meta.Shadowed = true
			} else {
				description := meta.Description
				if description == "" {
					description = fmt.Sprintf("Interact with the %s A2A agent", meta.DisplayName)
				}
				reg.Tools[meta.ToolID] = ToolDescriptor{
					ID:          meta.ToolID,
					AgentKey:    key,
					Description: description,
					InputSchema: InputSchema(),
				}
				reg.Order = append(reg.Order, meta.ToolID)
			}
		}

		reg.Agents[key] = meta
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for i, cfg := range m.skipped {
		meta := buildMetadata(cfg.Key(), Record{Config: cfg})
		meta.LastError = ErrDuplicateAgentKey
		reg.Agents[mcp.DuplicateStatusKey(cfg.Key(), i)] = meta
	}
	return reg
}

func buildMetadata(key string, rec Record) AgentMetadata {
	id := rec.Config.ID
	if id == "" {
		id = key
	}
	cardURL, err := ResolveCardURL(rec.Config.Endpoint)
	if err != nil {
		cardURL = rec.Config.Endpoint
	}
	meta := AgentMetadata{
		ID:          id,
		ToolID:      ToolID(key),
		DisplayName: rec.Config.Name,
		CardURL:     cardURL,
		Description: rec.Config.Description,
		IsReady:     rec.Status.Ready(),
		LastError:   rec.Status.LastError,
	}
	if card := rec.Card; card != nil {
		if meta.Description == "" {
			meta.Description = card.Description
		}
		meta.SupportsStreaming = card.Capabilities.Streaming
		meta.DefaultInputModes = card.DefaultInputModes
		meta.DefaultOutputModes = card.DefaultOutputModes
		meta.Skills = card.Skills
		meta.DocumentationURL = card.DocumentationURL
		meta.IconURL = card.IconURL
	}
	return meta
}

// InputSchema is the JSON schema of an agent tool's arguments.
func InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Message to send to the agent",
			},
		},
		"required": []any{"text"},
	}
}
