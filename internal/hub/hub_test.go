package hub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-toolbridge/internal/apperr"
	"agent-toolbridge/internal/builtin"
	"agent-toolbridge/internal/config"
	"agent-toolbridge/internal/demoagent"
	"agent-toolbridge/internal/demotools"
	"agent-toolbridge/internal/eventlog"
	"agent-toolbridge/internal/mcp"
	"agent-toolbridge/internal/metrics"
	"agent-toolbridge/internal/registry"
	"agent-toolbridge/internal/storage"
)

const user = "user-1"

type fixture struct {
	hub   *Hub
	store *storage.Storage
	mcp   *httptest.Server
	agent *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := storage.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	mcpServer := httptest.NewServer(server.NewStreamableHTTPServer(demotools.NewServer("demo")))
	t.Cleanup(mcpServer.Close)

	var agentHandler http.Handler
	agentServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agentHandler.ServeHTTP(w, r)
	}))
	t.Cleanup(agentServer.Close)
	agentHandler = demoagent.Handler("echo", agentServer.URL+"/rpc")

	builtins, err := builtin.Default(config.WeatherConfig{BaseURL: "http://localhost"}, nil)
	require.NoError(t, err)

	h := New(store, Options{
		Builtins:         builtins,
		ConnectTimeout:   3 * time.Second,
		CallTimeout:      5 * time.Second,
		DiscoveryTimeout: 5 * time.Second,
		Metrics:          metrics.New(),
	})
	return &fixture{hub: h, store: store, mcp: mcpServer, agent: agentServer}
}

func (f *fixture) addMCP(t *testing.T, name, endpoint string) config.ServerConfig {
	t.Helper()
	srv, err := f.hub.CreateServer(context.Background(), user, config.KindMCP, config.ServerConfig{Name: name, Endpoint: endpoint})
	require.NoError(t, err)
	return srv
}

func (f *fixture) addAgent(t *testing.T, name, endpoint string) config.ServerConfig {
	t.Helper()
	srv, err := f.hub.CreateServer(context.Background(), user, config.KindA2A, config.ServerConfig{Name: name, Endpoint: endpoint})
	require.NoError(t, err)
	return srv
}

func TestCreateServer_RedactsHeaders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.hub.CreateServer(ctx, user, config.KindMCP, config.ServerConfig{
		Name: "demo", Endpoint: f.mcp.URL + "/mcp", Headers: map[string]string{"Authorization": "Bearer secret"},
	})
	require.NoError(t, err)
	assert.Equal(t, "***", created.Headers["Authorization"])

	list, err := f.hub.ListServers(ctx, user, config.KindMCP)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "***", list[0].Headers["Authorization"])

	stored, err := f.store.GetServer(ctx, user, config.KindMCP, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", stored.Headers["Authorization"])

	err = f.hub.DeleteServer(ctx, user, config.KindMCP, "missing")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	err = f.hub.SetActive(ctx, "user-2", config.KindMCP, created.ID, false)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestServerTools_SnapshotFallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	srv := f.addMCP(t, "demo", f.mcp.URL+"/mcp")

	live, err := f.hub.ServerTools(ctx, user, srv.ID)
	require.NoError(t, err)
	assert.False(t, live.IsCached)
	assert.Equal(t, config.ConnectionConnected, live.Status)
	assert.Len(t, live.Tools, 3)
	assert.Contains(t, live.Tools, "greet")

	stored, err := f.store.GetServer(ctx, user, config.KindMCP, srv.ID)
	require.NoError(t, err)
	assert.Equal(t, config.ConnectionConnected, stored.LastConnectionStatus)
	assert.Equal(t, 3, stored.ToolCount)

	f.mcp.Close()

	cached, err := f.hub.ServerTools(ctx, user, srv.ID)
	require.NoError(t, err)
	assert.True(t, cached.IsCached)
	assert.Equal(t, config.ConnectionOffline, cached.Status)
	assert.NotEmpty(t, cached.LastError)
	assert.Len(t, cached.Tools, 3)
	for _, name := range []string{"greet", "echo", "count"} {
		assert.Equal(t, name, cached.Tools[name].Name)
	}
	assert.False(t, cached.CachedAt.IsZero())

	stored, err = f.store.GetServer(ctx, user, config.KindMCP, srv.ID)
	require.NoError(t, err)
	assert.Equal(t, config.ConnectionFailed, stored.LastConnectionStatus)
	assert.NotEmpty(t, stored.LastError)
}

func TestServerTools_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.hub.ServerTools(ctx, user, "missing")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	down := f.addMCP(t, "down", "http://127.0.0.1:1/mcp")
	_, err = f.hub.ServerTools(ctx, user, down.ID)
	assert.True(t, apperr.Is(err, apperr.KindConnectionFailed), "got %v", err)

	off := f.addMCP(t, "off", f.mcp.URL+"/mcp")
	require.NoError(t, f.hub.SetActive(ctx, user, config.KindMCP, off.ID, false))
	_, err = f.hub.ServerTools(ctx, user, off.ID)
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))
}

func TestTestServers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.hub.TestMCPServer(ctx, user, config.ServerConfig{Name: "adhoc", Endpoint: f.mcp.URL + "/mcp"})
	require.NoError(t, err)
	assert.True(t, res.Connected)
	assert.Len(t, res.Tools, 3)

	_, err = f.hub.TestMCPServer(ctx, user, config.ServerConfig{Name: "bad", Endpoint: "not a url"})
	assert.True(t, apperr.Is(err, apperr.KindConfigurationInvalid))

	agent := f.addAgent(t, "echo", f.agent.URL)
	res, err = f.hub.TestA2AServer(ctx, user, config.ServerConfig{ID: agent.ID})
	require.NoError(t, err)
	assert.True(t, res.Connected)
	require.NotNil(t, res.AgentCard)
	assert.Equal(t, "echo", res.AgentCard.Name)

	stored, err := f.store.GetServer(ctx, user, config.KindA2A, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, config.ConnectionConnected, stored.LastConnectionStatus)
	assert.False(t, stored.LastConnectionTest.IsZero())

	card, err := f.store.LoadAgentCard(ctx, user, agent.ID)
	require.NoError(t, err)
	assert.Contains(t, string(card), `"name":"echo"`)

	gone := f.addAgent(t, "gone", "http://127.0.0.1:1")
	res, err = f.hub.TestA2AServer(ctx, user, config.ServerConfig{ID: gone.ID})
	require.NoError(t, err)
	assert.False(t, res.Connected)
	assert.NotEmpty(t, res.Error)

	_, err = f.hub.TestA2AServer(ctx, user, config.ServerConfig{ID: "missing"})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestAgentCard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	agent := f.addAgent(t, "echo", f.agent.URL)
	card, err := f.hub.AgentCard(ctx, user, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, "echo", card.Name)

	_, err = f.hub.AgentCard(ctx, "user-2", agent.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	gone := f.addAgent(t, "gone", "http://127.0.0.1:1")
	_, err = f.hub.AgentCard(ctx, user, gone.ID)
	assert.True(t, apperr.Is(err, apperr.KindConnectionFailed), "got %v", err)
}

func TestAgentCard_OfflineServesStoredCard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	agent := f.addAgent(t, "echo", f.agent.URL)
	live, err := f.hub.AgentCard(ctx, user, agent.ID)
	require.NoError(t, err)

	f.agent.Close()

	cached, err := f.hub.AgentCard(ctx, user, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, live.Name, cached.Name)
	assert.Equal(t, live.URL, cached.URL)
}

func TestInvokeAgent_PersistsAndContinues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	agent := f.addAgent(t, "echo", f.agent.URL)

	first, err := f.hub.InvokeAgent(ctx, user, "chat-1", agent.ID, "hello")
	require.NoError(t, err)
	assert.Equal(t, "echo: hello", first.ResponseText)
	assert.Equal(t, "chat-1", first.ChatID)
	require.NotEmpty(t, first.ContextID)

	session := f.hub.Session(user, "chat-1", agent.ID)
	require.NotNil(t, session)
	assert.Equal(t, first.ContextID, session.ContextID)

	second, err := f.hub.InvokeAgent(ctx, user, "chat-1", agent.ID, "again")
	require.NoError(t, err)
	assert.Equal(t, first.ContextID, second.ContextID)

	// another chat starts a fresh session
	other, err := f.hub.InvokeAgent(ctx, user, "chat-2", agent.ID, "hi")
	require.NoError(t, err)
	assert.NotEqual(t, first.ContextID, other.ContextID)

	log, err := f.hub.EventLog(ctx, user, "chat-1", []*eventlog.Entry{first, nil})
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, "echo: again", log[0].ResponseText)
	assert.Equal(t, "echo: hello", log[1].ResponseText)

	_, err = f.hub.InvokeAgent(ctx, user, "chat-1", agent.ID, "  ")
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))
	_, err = f.hub.InvokeAgent(ctx, user, "chat-1", "missing", "hi")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	gone := f.addAgent(t, "gone", "http://127.0.0.1:1")
	_, err = f.hub.InvokeAgent(ctx, user, "chat-1", gone.ID, "hi")
	assert.True(t, apperr.Is(err, apperr.KindConnectionFailed))
}

func TestCallMCPTool_TracksProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	srv := f.addMCP(t, "demo", f.mcp.URL+"/mcp")

	updates, cancel := f.hub.Tracker().Subscribe(user, 64)
	defer cancel()
	others, cancelOthers := f.hub.Tracker().Subscribe("user-2", 64)
	defer cancelOthers()

	res, err := f.hub.CallMCPTool(ctx, user, srv.ID, "count", map[string]any{"to": 3})
	require.NoError(t, err)
	assert.Equal(t, "mcp_demo_count", res.ToolID)
	require.NotEmpty(t, res.ProgressToken)

	out, ok := res.Result.(*mcp.CallToolResult)
	require.True(t, ok)
	assert.Equal(t, "counted to 3", out.Text())

	// the token is cleared once the call returns
	_, tracked := f.hub.Tracker().Get(res.ProgressToken)
	assert.False(t, tracked)
	assert.Equal(t, 0, f.hub.Tracker().Len())

	var sawStart, sawDone bool
	for len(updates) > 0 {
		u := <-updates
		if u.Token != res.ProgressToken {
			continue
		}
		if u.Done {
			sawDone = true
		} else {
			sawStart = true
		}
	}
	assert.True(t, sawStart)
	assert.True(t, sawDone)
	assert.Empty(t, others, "progress of a call is only published to its caller")

	_, err = f.hub.CallMCPTool(ctx, user, srv.ID, "missing", nil)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestCallTool_RoutesByRegistryID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addMCP(t, "demo", f.mcp.URL+"/mcp")
	agent := f.addAgent(t, "echo", f.agent.URL)

	tools := f.hub.Tools(ctx, user)
	ids := tools.IDs()
	assert.Contains(t, ids, "mcp_demo_greet")
	assert.Contains(t, ids, "a2a_"+mcp.Sanitize(agent.ID))
	assert.Contains(t, ids, "codeCompare")

	local, err := f.hub.CallTool(ctx, user, "chat-1", "codeCompare", map[string]any{
		"filename": "a.txt", "beforeCode": "a", "afterCode": "b",
	})
	require.NoError(t, err)
	assert.Equal(t, registry.SourceLocal, local.SourceKind)

	greet, err := f.hub.CallTool(ctx, user, "chat-1", "mcp_demo_greet", map[string]any{"name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "Hello, Ada!", greet.Result.(*mcp.CallToolResult).Text())

	reply, err := f.hub.CallTool(ctx, user, "chat-1", "a2a_"+mcp.Sanitize(agent.ID), map[string]any{"text": "ping"})
	require.NoError(t, err)
	entry := reply.Result.(*eventlog.Entry)
	assert.Equal(t, "echo: ping", entry.ResponseText)

	stored, err := f.store.ListEvents(ctx, user, "chat-1")
	require.NoError(t, err)
	assert.Len(t, stored, 1)

	_, err = f.hub.CallTool(ctx, user, "chat-1", "mcp_nothing_here", nil)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	_, err = f.hub.CallTool(ctx, user, "chat-1", "plain", nil)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestTools_StaticServers(t *testing.T) {
	f := newFixture(t)
	static := config.ParseServerList("demo:"+f.mcp.URL+"/mcp", config.KindMCP)
	for i := range static {
		static[i].Kind = config.KindMCP
	}
	f.hub = New(f.store, Options{Static: map[config.Kind][]config.ServerConfig{config.KindMCP: static}})

	res := f.hub.Tools(context.Background(), user)
	assert.Contains(t, res.IDs(), "mcp_demo_echo")

	// no caller, no remote tools
	res = f.hub.Tools(context.Background(), "")
	assert.Empty(t, res.IDs())
}
