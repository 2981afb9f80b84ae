package a2a

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"agent-toolbridge/internal/apperr"
	"agent-toolbridge/internal/conversation"
	"agent-toolbridge/internal/eventlog"
)

// Invoke sends text to the agent registered under key, continuing its
// session, and returns the event log entry describing the exchange.
func (m *Manager) Invoke(ctx context.Context, key, text string) (*eventlog.Entry, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperr.New(apperr.KindBadRequest, "invoke agent", "text is required")
	}
	agent, ok := m.Agent(key)
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "invoke agent", fmt.Sprintf("agent not found: %s", key))
	}
	st := agent.Status()
	if !st.Ready() {
		msg := fmt.Sprintf("agent %s is not ready", key)
		if st.LastError != "" {
			msg += ": " + st.LastError
		}
		return nil, apperr.New(apperr.KindConnectionFailed, "invoke agent", msg)
	}

	meta := buildMetadata(key, Record{Config: agent.Server(), Status: st, Card: agent.AgentCard()})
	session := m.Session(key)

	acc := newAccumulator(session)
	params := SendParams{Text: text, ReferenceTaskIDs: session.ReferenceTaskIDs()}
	if session != nil {
		params.ContextID = session.ContextID
	}

	for ev, err := range agent.SendMessageStream(ctx, params) {
		if err != nil {
			return nil, err
		}
		acc.add(ev)
	}

	entry, update := acc.finish(key, meta, time.Now().UTC())
	m.UpdateSession(key, update)

	m.logger.Info("A2A session update",
		"agent", meta.DisplayName,
		"context_id", entry.ContextID,
		"primary_task_id", entry.PrimaryTaskID,
		"tasks", len(entry.Tasks),
		"messages", len(entry.Messages),
		"status_updates", len(entry.StatusUpdates),
		"artifacts", len(entry.Artifacts),
	)
	return entry, nil
}

// accumulator folds the events of one reply stream.
type accumulator struct {
	responses     []string
	messages      []eventlog.MessageSummary
	statusUpdates []eventlog.StatusUpdate
	artifacts     []eventlog.ArtifactSummary

	tasks     map[string]eventlog.TaskSummary
	taskOrder []string

	contextID    string
	latestTaskID string
	prevPrimary  string
}

func newAccumulator(s *conversation.Session) *accumulator {
	a := &accumulator{tasks: map[string]eventlog.TaskSummary{}}
	if s != nil {
		a.contextID = s.ContextID
		a.latestTaskID = s.PrimaryTaskID
		a.prevPrimary = s.PrimaryTaskID
	}
	return a
}

func (a *accumulator) putTask(t eventlog.TaskSummary) {
	if _, ok := a.tasks[t.TaskID]; !ok {
		a.taskOrder = append(a.taskOrder, t.TaskID)
	}
	a.tasks[t.TaskID] = t
}

func (a *accumulator) add(ev StreamEvent) {
	switch ev.Kind {
	case eventlog.EventMessage:
		msg := *ev.Message
		if msg.Role == conversation.RoleAgent && msg.Text != "" {
			a.responses = append(a.responses, msg.Text)
		}
		a.messages = append(a.messages, msg)
		if a.contextID == "" && ev.ContextID != "" {
			a.contextID = ev.ContextID
		}

	case eventlog.EventTask:
		if ev.ContextID != "" {
			a.contextID = ev.ContextID
		}
		a.latestTaskID = ev.TaskID
		a.putTask(*ev.Task)

	case eventlog.EventStatusUpdate:
		su := *ev.Status
		if ev.ContextID != "" {
			a.contextID = ev.ContextID
		}
		a.latestTaskID = ev.TaskID
		a.statusUpdates = append(a.statusUpdates, su)

		task, ok := a.tasks[su.TaskID]
		if !ok {
			task = eventlog.TaskSummary{TaskID: su.TaskID, ContextID: su.ContextID}
		}
		task.State = su.State
		if su.Message != "" {
			task.StatusMessage = su.Message
		}
		if !su.Timestamp.IsZero() {
			task.UpdatedAt = su.Timestamp
		}
		a.putTask(task)

	case eventlog.EventArtifactUpdate:
		art := *ev.Artifact
		if ev.ContextID != "" {
			a.contextID = ev.ContextID
		}
		if ev.TaskID != "" {
			a.latestTaskID = ev.TaskID
		}
		a.artifacts = append(a.artifacts, art)

		task, ok := a.tasks[ev.TaskID]
		if !ok {
			if art.ArtifactID == "" {
				return
			}
			task = eventlog.TaskSummary{TaskID: ev.TaskID, ContextID: ev.ContextID}
		}
		if art.ArtifactID != "" {
			task.Artifacts = mergeArtifact(task.Artifacts, art)
		}
		a.putTask(task)
	}
}

// mergeArtifact replaces the artifact with the same ID or appends it.
func mergeArtifact(list []eventlog.ArtifactSummary, art eventlog.ArtifactSummary) []eventlog.ArtifactSummary {
	out := make([]eventlog.ArtifactSummary, 0, len(list)+1)
	replaced := false
	for _, existing := range list {
		if existing.ArtifactID == art.ArtifactID {
			out = append(out, art)
			replaced = true
			continue
		}
		out = append(out, existing)
	}
	if !replaced {
		out = append(out, art)
	}
	return out
}

// finish builds the log entry and the session update. Messages missing an
// ID, text or role are filled from the entry.
func (a *accumulator) finish(key string, meta AgentMetadata, now time.Time) (*eventlog.Entry, conversation.Update) {
	responseText := strings.Join(a.responses, "\n\n")

	tasks := make([]eventlog.TaskSummary, 0, len(a.taskOrder))
	for _, id := range a.taskOrder {
		tasks = append(tasks, a.tasks[id])
	}

	primary := a.latestTaskID
	if primary == "" {
		primary = a.contextID
	}
	if primary == "" {
		primary = a.prevPrimary
	}

	messages := make([]eventlog.MessageSummary, len(a.messages))
	for i, msg := range a.messages {
		if msg.MessageID == "" {
			msg.MessageID = meta.ToolID + "-" + strconv.FormatInt(now.UnixMilli(), 10)
		}
		if msg.Text == "" {
			msg.Text = responseText
		}
		if msg.Role == "" {
			msg.Role = conversation.RoleAgent
		}
		messages[i] = msg
	}

	eventType := eventlog.EventMessage
	if len(tasks) > 0 {
		eventType = eventlog.EventTask
	}

	entry := &eventlog.Entry{
		AgentKey:      key,
		AgentID:       meta.ID,
		AgentToolID:   meta.ToolID,
		AgentName:     meta.DisplayName,
		ContextID:     a.contextID,
		PrimaryTaskID: a.latestTaskID,
		Timestamp:     now,
		EventType:     eventType,
		ResponseText:  responseText,
		Tasks:         tasks,
		StatusUpdates: a.statusUpdates,
		Artifacts:     a.artifacts,
		Messages:      messages,
	}

	update := conversation.Update{
		ContextID:        a.contextID,
		PrimaryTaskID:    primary,
		Tasks:            tasks,
		Messages:         messages,
		LastUpdated:      now,
		LastResponseText: responseText,
	}
	return entry, update
}
