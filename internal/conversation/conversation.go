// Package conversation tracks the A2A session held with each remote agent:
// the context to continue, the task to reference and the messages seen so far.
package conversation

import (
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"

	"agent-toolbridge/internal/eventlog"
)

// Role values used in message summaries.
const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

// Session is the state carried between invocations of one agent.
type Session struct {
	ID               string                          `json:"id"`
	ContextID        string                          `json:"contextId,omitempty"`
	PrimaryTaskID    string                          `json:"primaryTaskId,omitempty"`
	Tasks            map[string]eventlog.TaskSummary `json:"tasks"`
	Messages         []eventlog.MessageSummary       `json:"messages"`
	LastUpdated      time.Time                       `json:"lastUpdated,omitzero"`
	LastResponseText string                          `json:"lastResponseText,omitempty"`
}

// New creates an empty session.
func New() *Session {
	return &Session{
		ID:       uuid.New().String(),
		Tasks:    map[string]eventlog.TaskSummary{},
		Messages: []eventlog.MessageSummary{},
	}
}

// Update is a partial session. Empty fields keep the current value.
type Update struct {
	ContextID        string
	PrimaryTaskID    string
	Tasks            []eventlog.TaskSummary
	Messages         []eventlog.MessageSummary
	LastUpdated      time.Time
	LastResponseText string
}

// Apply returns a new session with u merged in. Tasks are replaced by ID,
// messages are appended and deduplicated. The receiver is not modified and
// may be nil.
func (s *Session) Apply(u Update) *Session {
	next := New()
	if s != nil {
		*next = *s
		next.Tasks = maps.Clone(s.Tasks)
		if next.Tasks == nil {
			next.Tasks = map[string]eventlog.TaskSummary{}
		}
	}

	if u.ContextID != "" {
		next.ContextID = u.ContextID
	}
	if u.PrimaryTaskID != "" {
		next.PrimaryTaskID = u.PrimaryTaskID
	}
	for _, t := range u.Tasks {
		next.Tasks[t.TaskID] = t
	}
	if !u.LastUpdated.IsZero() {
		next.LastUpdated = u.LastUpdated
	}
	if u.LastResponseText != "" {
		next.LastResponseText = u.LastResponseText
	}

	var prev []eventlog.MessageSummary
	if s != nil {
		prev = s.Messages
	}
	next.Messages = DedupMessages(append(append([]eventlog.MessageSummary{}, prev...), u.Messages...))

	return next
}

// ReferenceTaskIDs returns the task IDs a follow-up message should reference.
func (s *Session) ReferenceTaskIDs() []string {
	if s == nil || s.PrimaryTaskID == "" {
		return nil
	}
	return []string{s.PrimaryTaskID}
}

// MessageKey identifies a message for deduplication: its ID, or its task,
// role, text and position when the agent sent no ID.
func MessageKey(m eventlog.MessageSummary, index int) string {
	if m.MessageID != "" {
		return m.MessageID
	}
	return fmt.Sprintf("%s:%s:%s:%d", m.TaskID, m.Role, m.Text, index)
}

// DedupMessages keeps the first message for each key, preserving order.
func DedupMessages(msgs []eventlog.MessageSummary) []eventlog.MessageSummary {
	out := make([]eventlog.MessageSummary, 0, len(msgs))
	seen := make(map[string]struct{}, len(msgs))
	for i, m := range msgs {
		k := MessageKey(m, i)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, m)
	}
	return out
}
