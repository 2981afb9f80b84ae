package a2a

import (
	"fmt"
	"strings"
	"time"

	"github.com/a2aproject/a2a-go/a2a"

	"agent-toolbridge/internal/apperr"
	"agent-toolbridge/internal/eventlog"
)

// ToolPrefix starts every agent tool ID in the aggregated registry.
const ToolPrefix = "a2a_"

// StreamEvent is one validated event of a message stream. Exactly one of
// Message, Task, Status or Artifact is set, matching Kind.
type StreamEvent struct {
	Kind      eventlog.EventType
	TaskID    string
	ContextID string

	Message  *eventlog.MessageSummary
	Task     *eventlog.TaskSummary
	Status   *eventlog.StatusUpdate
	Artifact *eventlog.ArtifactSummary
}

// ConvertEvent validates an event received from an agent and converts it to
// a StreamEvent. Events of an unexpected shape yield a protocol-invalid error.
func ConvertEvent(ev a2a.Event) (StreamEvent, error) {
	switch e := ev.(type) {
	case *a2a.Message:
		if e == nil {
			break
		}
		return StreamEvent{
			Kind:      eventlog.EventMessage,
			TaskID:    string(e.TaskID),
			ContextID: e.ContextID,
			Message: &eventlog.MessageSummary{
				MessageID: e.ID,
				Role:      string(e.Role),
				Text:      TextFromParts(e.Parts),
				TaskID:    string(e.TaskID),
				ContextID: e.ContextID,
			},
		}, nil

	case *a2a.Task:
		if e == nil {
			break
		}
		if e.ID == "" {
			return StreamEvent{}, invalid("task without id")
		}
		task := eventlog.TaskSummary{
			TaskID:    string(e.ID),
			ContextID: e.ContextID,
			State:     string(e.Status.State),
			UpdatedAt: time.Now().UTC(),
		}
		if e.Status.Message != nil {
			task.StatusMessage = TextFromParts(e.Status.Message.Parts)
		}
		for _, art := range e.Artifacts {
			if art == nil {
				continue
			}
			task.Artifacts = append(task.Artifacts, artifactSummary(string(e.ID), art))
		}
		return StreamEvent{
			Kind:      eventlog.EventTask,
			TaskID:    task.TaskID,
			ContextID: e.ContextID,
			Task:      &task,
		}, nil

	case *a2a.TaskStatusUpdateEvent:
		if e == nil {
			break
		}
		if e.TaskID == "" {
			return StreamEvent{}, invalid("status update without task id")
		}
		state := string(e.Status.State)
		if state == "" {
			state = "unknown"
		}
		st := eventlog.StatusUpdate{
			TaskID:    string(e.TaskID),
			ContextID: e.ContextID,
			State:     state,
			Final:     e.Final,
		}
		if e.Status.Message != nil {
			st.Message = TextFromParts(e.Status.Message.Parts)
		}
		if e.Status.Timestamp != nil {
			st.Timestamp = *e.Status.Timestamp
		}
		return StreamEvent{
			Kind:      eventlog.EventStatusUpdate,
			TaskID:    st.TaskID,
			ContextID: e.ContextID,
			Status:    &st,
		}, nil

	case *a2a.TaskArtifactUpdateEvent:
		if e == nil {
			break
		}
		if e.Artifact == nil {
			return StreamEvent{}, invalid("artifact update without artifact")
		}
		art := artifactSummary(string(e.TaskID), e.Artifact)
		return StreamEvent{
			Kind:      eventlog.EventArtifactUpdate,
			TaskID:    string(e.TaskID),
			ContextID: e.ContextID,
			Artifact:  &art,
		}, nil
	}

	return StreamEvent{}, invalid(fmt.Sprintf("unexpected event %T", ev))
}

func invalid(msg string) error {
	return apperr.New(apperr.KindProtocolInvalid, "convert event", msg)
}

func artifactSummary(taskID string, art *a2a.Artifact) eventlog.ArtifactSummary {
	return eventlog.ArtifactSummary{
		ArtifactID:  string(art.ID),
		TaskID:      taskID,
		Name:        art.Name,
		Description: art.Description,
		Text:        TextFromParts(art.Parts),
	}
}

// TextFromParts joins the trimmed, non-empty text parts with blank lines.
func TextFromParts(parts []a2a.Part) string {
	var texts []string
	for _, p := range parts {
		var text string
		switch tp := p.(type) {
		case a2a.TextPart:
			text = tp.Text
		case *a2a.TextPart:
			if tp != nil {
				text = tp.Text
			}
		}
		if text = strings.TrimSpace(text); text != "" {
			texts = append(texts, text)
		}
	}
	return strings.Join(texts, "\n\n")
}
