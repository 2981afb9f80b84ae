package a2a

import (
	"context"
	"testing"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-toolbridge/internal/config"
	"agent-toolbridge/internal/conversation"
	"agent-toolbridge/internal/mcp"
)

func TestBuildTools(t *testing.T) {
	agents := map[string]*fakeAgent{
		"travel": {card: &a2a.AgentCard{
			Name:         "Travel",
			Description:  "Books trips",
			Capabilities: a2a.AgentCapabilities{Streaming: true},
			Skills:       []a2a.AgentSkill{{ID: "book", Name: "Book"}},
		}},
		"plain": {},
		"down":  {fail: "timeout"},
	}
	m := NewManager(fakeFactory(agents), nil)
	m.InitializeAgents(context.Background(), []config.ServerConfig{agentCfg("travel"), agentCfg("plain"), agentCfg("down")})

	reg := m.BuildTools()

	assert.Len(t, reg.Agents, 3)
	assert.Len(t, reg.Tools, 2)
	assert.Equal(t, []string{"a2a_travel", "a2a_plain"}, reg.Order)

	travel := reg.Agents["travel"]
	assert.Equal(t, "Books trips", travel.Description)
	assert.True(t, travel.SupportsStreaming)
	assert.True(t, travel.IsReady)
	assert.Len(t, travel.Skills, 1)
	assert.Equal(t, "http://travel.local/.well-known/agent-card.json", travel.CardURL)

	assert.Equal(t, "Interact with the plain A2A agent", reg.Tools["a2a_plain"].Description)
	assert.Equal(t, []any{"text"}, reg.Tools["a2a_plain"].InputSchema["required"])

	down := reg.Agents["down"]
	assert.False(t, down.IsReady)
	assert.Equal(t, "timeout", down.LastError)
	assert.NotContains(t, reg.Tools, "a2a_down")
}

func TestBuildTools_CollisionKeepsFirst(t *testing.T) {
	agents := map[string]*fakeAgent{
		"my.agent": {},
		"my_agent": {},
	}
	m := NewManager(fakeFactory(agents), nil)
	m.InitializeAgents(context.Background(), []config.ServerConfig{agentCfg("my.agent"), agentCfg("my_agent")})

	reg := m.BuildTools()

	require.Contains(t, reg.Tools, "a2a_my_agent")
	assert.Equal(t, "my.agent", reg.Tools["a2a_my_agent"].AgentKey)
	assert.False(t, reg.Agents["my.agent"].Shadowed)
	assert.True(t, reg.Agents["my_agent"].Shadowed)
}

func TestManager_DuplicateKeyAndCleanup(t *testing.T) {
	first := &fakeAgent{}
	calls := 0
	factory := func(s config.ServerConfig) Agent {
		calls++
		first.server = s
		return first
	}
	m := NewManager(factory, nil)
	m.InitializeAgents(context.Background(), []config.ServerConfig{agentCfg("a"), agentCfg("a")})
	assert.Equal(t, 1, calls)
	assert.Len(t, m.Records(), 1)

	reg := m.BuildTools()
	require.Len(t, reg.Agents, 2)
	dup, ok := reg.Agents[mcp.DuplicateStatusKey("a", 1)]
	require.True(t, ok, "skipped duplicate has no metadata")
	assert.False(t, dup.IsReady)
	assert.Equal(t, ErrDuplicateAgentKey, dup.LastError)

	m.UpdateSession("a", conversation.Update{ContextID: "ctx"})
	require.NotNil(t, m.Session("a"))

	require.NoError(t, m.Cleanup())
	assert.Equal(t, int32(1), first.closed.Load())
	assert.Nil(t, m.Session("a"))
	assert.Empty(t, m.Statuses())

	require.NoError(t, m.Cleanup())
}

func TestParseAgentConfig(t *testing.T) {
	agents := ParseAgentConfig("travel:https://travel.example.com, https://weather.example.org/a2a, broken, :https://x")
	require.Len(t, agents, 2)
	assert.Equal(t, "travel", agents[0].Name)
	assert.Equal(t, "weather_example_org", agents[1].Name)
	for _, a := range agents {
		assert.Equal(t, config.KindA2A, a.Kind)
	}

	assert.NotNil(t, ParseAgentConfig(""))
	assert.Empty(t, ParseAgentConfig("   "))
}
