package api

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"agent-toolbridge/internal/progress"
)

const keepAliveInterval = 15 * time.Second

type progressView struct {
	progress.State
	Percentage *int `json:"percentage,omitempty"`
}

func viewOf(s progress.State) progressView {
	v := progressView{State: s}
	if p, ok := s.Percentage(); ok {
		v.Percentage = &p
	}
	return v
}

// progressHandler returns the caller's tool calls currently in flight.
func (s *Server) progressHandler(c *fiber.Ctx) error {
	states := s.hub.Tracker().Snapshot(userID(c))
	views := make([]progressView, 0, len(states))
	for _, st := range states {
		views = append(views, viewOf(st))
	}
	return c.JSON(fiber.Map{
		"progress": views,
	})
}

// progressStreamHandler streams the progress updates of the caller's tool
// calls as server-sent events. The current snapshot is sent first.
func (s *Server) progressStreamHandler(c *fiber.Ctx) error {
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	uid := userID(c)
	tracker := s.hub.Tracker()
	updates, cancel := tracker.Subscribe(uid, 64)
	snapshot := tracker.Snapshot(uid)

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer cancel()

		for _, st := range snapshot {
			if err := writeEvent(w, "progress", viewOf(st)); err != nil {
				return
			}
		}

		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()

		for {
			select {
			case u, ok := <-updates:
				if !ok {
					return
				}
				event := "progress"
				if u.Done {
					event = "done"
				}
				if err := writeEvent(w, event, u); err != nil {
					return
				}
			case <-ticker.C:
				if _, err := w.WriteString(": keep-alive\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	}))
	return nil
}

// writeEvent writes one SSE frame and flushes it. A flush error means the
// client went away.
func writeEvent(w *bufio.Writer, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	return w.Flush()
}
