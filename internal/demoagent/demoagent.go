// Package demoagent is a small A2A echo agent used for local runs and
// integration tests.
//
// A plain message is answered with one agent message. A message starting
// with "task:" runs as a task: submitted, working, one artifact, completed.
package demoagent

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/a2aproject/a2a-go/a2asrv/eventqueue"
)

const taskPrefix = "task:"

// Executor implements a2asrv.AgentExecutor.
type Executor struct{}

// Execute answers the incoming message.
func (Executor) Execute(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue) error {
	if reqCtx.Message == nil {
		return fmt.Errorf("message not provided")
	}
	text := strings.TrimSpace(textOf(reqCtx.Message))

	if !strings.HasPrefix(text, taskPrefix) {
		reply := a2a.NewMessage(a2a.MessageRoleAgent, a2a.TextPart{Text: "echo: " + text})
		reply.ContextID = reqCtx.ContextID
		return queue.Write(ctx, reply)
	}

	body := strings.TrimSpace(strings.TrimPrefix(text, taskPrefix))

	if reqCtx.StoredTask == nil {
		if err := queue.Write(ctx, a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateSubmitted, nil)); err != nil {
			return err
		}
	}
	if err := queue.Write(ctx, a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateWorking, nil)); err != nil {
		return err
	}

	artifact := a2a.NewArtifactEvent(reqCtx, a2a.TextPart{Text: strings.ToUpper(body)})
	artifact.Artifact.Name = "result"
	if err := queue.Write(ctx, artifact); err != nil {
		return err
	}

	done := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateCompleted,
		a2a.NewMessageForTask(a2a.MessageRoleAgent, reqCtx, a2a.TextPart{Text: "done: " + body}))
	done.Final = true
	return queue.Write(ctx, done)
}

// Cancel marks the task canceled.
func (Executor) Cancel(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue) error {
	ev := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateCanceled, nil)
	ev.Final = true
	return queue.Write(ctx, ev)
}

var _ a2asrv.AgentExecutor = Executor{}

// Card returns the agent card advertised at url.
func Card(name, url string) *a2a.AgentCard {
	return &a2a.AgentCard{
		Name:               name,
		Description:        "Echoes messages back; prefix with task: to run a task.",
		URL:                url,
		Version:            "1.0.0",
		ProtocolVersion:    "0.3.0",
		PreferredTransport: a2a.TransportProtocolJSONRPC,
		DefaultInputModes:  []string{"text/plain"},
		DefaultOutputModes: []string{"text/plain"},
		Capabilities:       a2a.AgentCapabilities{Streaming: true},
		Skills: []a2a.AgentSkill{{
			ID:          "echo",
			Name:        "Echo",
			Description: "Repeat the message",
			Tags:        []string{"demo"},
		}},
	}
}

// Handler serves the agent card at the well-known path and JSON-RPC on
// every other path. rpcURL is the address clients should post to.
func Handler(name, rpcURL string) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(a2asrv.WellKnownAgentCardPath, a2asrv.NewStaticAgentCardHandler(Card(name, rpcURL)))
	mux.Handle("/", a2asrv.NewJSONRPCHandler(a2asrv.NewHandler(Executor{})))
	return mux
}

func textOf(m *a2a.Message) string {
	var b strings.Builder
	for _, p := range m.Parts {
		switch tp := p.(type) {
		case a2a.TextPart:
			b.WriteString(tp.Text)
		case *a2a.TextPart:
			b.WriteString(tp.Text)
		}
	}
	return b.String()
}
