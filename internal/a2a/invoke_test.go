package a2a

import (
	"context"
	"errors"
	"iter"
	"sync/atomic"
	"testing"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-toolbridge/internal/apperr"
	"agent-toolbridge/internal/config"
	"agent-toolbridge/internal/eventlog"
	"agent-toolbridge/internal/probe"
)

// fakeAgent replays scripted events and records what it was sent.
type fakeAgent struct {
	server config.ServerConfig
	card   *a2a.AgentCard
	fail   string
	events []StreamEvent
	err    error

	status probe.Status
	sent   []SendParams
	closed atomic.Int32
}

func (f *fakeAgent) Init(context.Context) bool {
	if f.fail != "" {
		f.status = probe.Status{State: probe.StateFailed, LastError: f.fail, LastTestedAt: time.Now()}
		return false
	}
	f.status = probe.Status{State: probe.StateReady, LastTestedAt: time.Now()}
	return true
}

func (f *fakeAgent) Reset() bool                 { return false }
func (f *fakeAgent) Status() probe.Status        { return f.status }
func (f *fakeAgent) Server() config.ServerConfig { return f.server }
func (f *fakeAgent) AgentCard() *a2a.AgentCard   { return f.card }

func (f *fakeAgent) SendMessageStream(_ context.Context, p SendParams) iter.Seq2[StreamEvent, error] {
	f.sent = append(f.sent, p)
	return func(yield func(StreamEvent, error) bool) {
		for _, ev := range f.events {
			if !yield(ev, nil) {
				return
			}
		}
		if f.err != nil {
			yield(StreamEvent{}, f.err)
		}
	}
}

func (f *fakeAgent) Close() error {
	f.closed.Add(1)
	return nil
}

func fakeFactory(agents map[string]*fakeAgent) Factory {
	return func(s config.ServerConfig) Agent {
		a := agents[s.Name]
		a.server = s
		return a
	}
}

func agentCfg(name string) config.ServerConfig {
	return config.ServerConfig{ID: name, Name: name, Kind: config.KindA2A, Endpoint: "http://" + name + ".local", IsActive: true}
}

func agentMessage(id, text string) StreamEvent {
	return StreamEvent{
		Kind:      eventlog.EventMessage,
		ContextID: "ctx-1",
		Message:   &eventlog.MessageSummary{MessageID: id, Role: "agent", Text: text, ContextID: "ctx-1"},
	}
}

func TestInvoke_MessageReply(t *testing.T) {
	agent := &fakeAgent{events: []StreamEvent{
		agentMessage("m1", "first"),
		agentMessage("m2", "second"),
	}}
	m := NewManager(fakeFactory(map[string]*fakeAgent{"echo": agent}), nil)
	m.InitializeAgents(context.Background(), []config.ServerConfig{agentCfg("echo")})

	entry, err := m.Invoke(context.Background(), "echo", "hi")
	require.NoError(t, err)

	assert.Equal(t, "first\n\nsecond", entry.ResponseText)
	assert.Equal(t, "ctx-1", entry.ContextID)
	assert.Equal(t, "a2a_echo", entry.AgentToolID)
	assert.Equal(t, "echo", entry.AgentName)
	assert.Equal(t, eventlog.EventMessage, entry.EventType)
	assert.Empty(t, entry.PrimaryTaskID)
	assert.Len(t, entry.Messages, 2)

	require.Len(t, agent.sent, 1)
	assert.Empty(t, agent.sent[0].ContextID)
	assert.Empty(t, agent.sent[0].ReferenceTaskIDs)

	session := m.Session("echo")
	require.NotNil(t, session)
	assert.Equal(t, "ctx-1", session.ContextID)
	// no task: the context ID stands in as primary task
	assert.Equal(t, "ctx-1", session.PrimaryTaskID)
	assert.Equal(t, "first\n\nsecond", session.LastResponseText)

	_, err = m.Invoke(context.Background(), "echo", "again")
	require.NoError(t, err)
	require.Len(t, agent.sent, 2)
	assert.Equal(t, "ctx-1", agent.sent[1].ContextID)
	assert.Equal(t, []string{"ctx-1"}, agent.sent[1].ReferenceTaskIDs)
	// same message IDs are not duplicated in the session
	assert.Len(t, m.Session("echo").Messages, 2)
}

func TestInvoke_TaskLifecycle(t *testing.T) {
	ts := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	agent := &fakeAgent{events: []StreamEvent{
		{Kind: eventlog.EventTask, TaskID: "t1", ContextID: "ctx-9", Task: &eventlog.TaskSummary{TaskID: "t1", ContextID: "ctx-9", State: "submitted"}},
		{Kind: eventlog.EventStatusUpdate, TaskID: "t1", ContextID: "ctx-9", Status: &eventlog.StatusUpdate{TaskID: "t1", ContextID: "ctx-9", State: "working"}},
		{Kind: eventlog.EventArtifactUpdate, TaskID: "t1", ContextID: "ctx-9", Artifact: &eventlog.ArtifactSummary{ArtifactID: "a1", TaskID: "t1", Name: "draft", Text: "v1"}},
		{Kind: eventlog.EventArtifactUpdate, TaskID: "t1", ContextID: "ctx-9", Artifact: &eventlog.ArtifactSummary{ArtifactID: "a1", TaskID: "t1", Name: "draft", Text: "v2"}},
		{Kind: eventlog.EventStatusUpdate, TaskID: "t1", ContextID: "ctx-9", Status: &eventlog.StatusUpdate{TaskID: "t1", ContextID: "ctx-9", State: "completed", Message: "all done", Final: true, Timestamp: ts}},
	}}
	m := NewManager(fakeFactory(map[string]*fakeAgent{"writer": agent}), nil)
	m.InitializeAgents(context.Background(), []config.ServerConfig{agentCfg("writer")})

	entry, err := m.Invoke(context.Background(), "writer", "write something")
	require.NoError(t, err)

	assert.Equal(t, eventlog.EventTask, entry.EventType)
	assert.Equal(t, "t1", entry.PrimaryTaskID)
	assert.Equal(t, "ctx-9", entry.ContextID)
	assert.Empty(t, entry.ResponseText)
	assert.Len(t, entry.StatusUpdates, 2)
	assert.Len(t, entry.Artifacts, 2)

	require.Len(t, entry.Tasks, 1)
	task := entry.Tasks[0]
	assert.Equal(t, "completed", task.State)
	assert.Equal(t, "all done", task.StatusMessage)
	assert.Equal(t, ts, task.UpdatedAt)
	require.Len(t, task.Artifacts, 1)
	assert.Equal(t, "v2", task.Artifacts[0].Text)

	session := m.Session("writer")
	assert.Equal(t, "t1", session.PrimaryTaskID)
	assert.Contains(t, session.Tasks, "t1")
}

func TestInvoke_MessageDefaults(t *testing.T) {
	agent := &fakeAgent{events: []StreamEvent{
		agentMessage("", "reply"),
		{Kind: eventlog.EventMessage, Message: &eventlog.MessageSummary{}},
	}}
	m := NewManager(fakeFactory(map[string]*fakeAgent{"echo": agent}), nil)
	m.InitializeAgents(context.Background(), []config.ServerConfig{agentCfg("echo")})

	entry, err := m.Invoke(context.Background(), "echo", "hi")
	require.NoError(t, err)

	require.Len(t, entry.Messages, 2)
	for _, msg := range entry.Messages {
		assert.Contains(t, msg.MessageID, "a2a_echo-")
		assert.Equal(t, "reply", msg.Text)
		assert.Equal(t, "agent", msg.Role)
	}
}

func TestInvoke_Errors(t *testing.T) {
	agents := map[string]*fakeAgent{
		"down":   {fail: "connection refused"},
		"broken": {events: []StreamEvent{agentMessage("m1", "partial")}, err: errors.New("stream reset")},
	}
	m := NewManager(fakeFactory(agents), nil)
	m.InitializeAgents(context.Background(), []config.ServerConfig{agentCfg("down"), agentCfg("broken")})

	_, err := m.Invoke(context.Background(), "missing", "hi")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = m.Invoke(context.Background(), "down", "hi")
	assert.True(t, apperr.Is(err, apperr.KindConnectionFailed))
	assert.Contains(t, err.Error(), "connection refused")

	_, err = m.Invoke(context.Background(), "broken", "")
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))

	_, err = m.Invoke(context.Background(), "broken", "hi")
	require.Error(t, err)
	assert.Nil(t, m.Session("broken"), "a failed stream must not update the session")
}
