// Package eventlog merges persisted and live A2A events into one ordered,
// deduplicated log.
package eventlog

import (
	"cmp"
	"slices"
	"strconv"
	"strings"
	"time"
)

// EventType is the kind of protocol event that produced an entry.
type EventType string

const (
	EventMessage        EventType = "message"
	EventTask           EventType = "task"
	EventStatusUpdate   EventType = "status-update"
	EventArtifactUpdate EventType = "artifact-update"
)

// MessageSummary is one message exchanged with an agent.
type MessageSummary struct {
	MessageID string `json:"messageId"`
	Role      string `json:"role"`
	Text      string `json:"text"`
	TaskID    string `json:"taskId,omitempty"`
	ContextID string `json:"contextId,omitempty"`
}

// ArtifactSummary is the text view of an artifact produced by a task.
type ArtifactSummary struct {
	ArtifactID  string `json:"artifactId"`
	TaskID      string `json:"taskId,omitempty"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Text        string `json:"text,omitempty"`
}

// StatusUpdate is one task status transition.
type StatusUpdate struct {
	TaskID    string    `json:"taskId"`
	ContextID string    `json:"contextId,omitempty"`
	State     string    `json:"state"`
	Final     bool      `json:"final,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// TaskSummary is the latest known state of a task.
type TaskSummary struct {
	TaskID        string            `json:"taskId"`
	ContextID     string            `json:"contextId,omitempty"`
	State         string            `json:"state,omitempty"`
	StatusMessage string            `json:"statusMessage,omitempty"`
	Artifacts     []ArtifactSummary `json:"artifacts,omitempty"`
	UpdatedAt     time.Time         `json:"updatedAt,omitzero"`
}

// Entry is one agent invocation as recorded in the event log.
type Entry struct {
	AgentKey      string            `json:"agentKey,omitempty"`
	AgentID       string            `json:"agentId,omitempty"`
	AgentToolID   string            `json:"agentToolId,omitempty"`
	AgentName     string            `json:"agentName,omitempty"`
	ChatID        string            `json:"chatId,omitempty"`
	ContextID     string            `json:"contextId,omitempty"`
	PrimaryTaskID string            `json:"primaryTaskId,omitempty"`
	Timestamp     time.Time         `json:"timestamp,omitzero"`
	EventType     EventType         `json:"eventType,omitempty"`
	ResponseText  string            `json:"responseText"`
	Tasks         []TaskSummary     `json:"tasks,omitempty"`
	StatusUpdates []StatusUpdate    `json:"statusUpdates,omitempty"`
	Artifacts     []ArtifactSummary `json:"artifacts,omitempty"`
	Messages      []MessageSummary  `json:"messages,omitempty"`
}

// Key returns the identity of an entry. Two entries with equal keys are the
// same event regardless of the path that delivered them.
func Key(e *Entry) string {
	agent := e.AgentToolID
	if agent == "" {
		agent = e.AgentKey
	}
	if agent == "" {
		agent = "unknown"
	}

	var ts string
	if !e.Timestamp.IsZero() {
		ts = strconv.FormatInt(e.Timestamp.UnixMilli(), 10)
	}

	return strings.ToLower(strings.Join([]string{
		agent, e.ContextID, e.PrimaryTaskID, ts, e.ResponseText,
	}, ":"))
}

// Merge concatenates persisted and live entries, drops nils and duplicates
// (the first occurrence wins) and orders the result newest first by
// millisecond timestamp. An entry without a timestamp sorts as the Unix
// epoch. The inputs are not modified and the result is never nil.
func Merge(persisted, live []*Entry) []Entry {
	out := make([]Entry, 0, len(persisted)+len(live))
	seen := make(map[string]struct{}, len(persisted)+len(live))

	for _, src := range [][]*Entry{persisted, live} {
		for _, e := range src {
			if e == nil {
				continue
			}
			k := Key(e)
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, *e)
		}
	}

	slices.SortStableFunc(out, func(a, b Entry) int {
		return cmp.Compare(sortMillis(b.Timestamp), sortMillis(a.Timestamp))
	})
	return out
}

func sortMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
