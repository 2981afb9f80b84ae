// Package probe holds the connection state machine shared by the MCP and A2A adapters.
//
// A Probe moves uninitialized -> connecting -> ready|failed. Ready is terminal
// for the lifetime of the owning adapter; a failed probe may be reset to
// uninitialized for another attempt.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"agent-toolbridge/internal/apperr"
)

// State is the connection state of one remote endpoint.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateConnecting    State = "connecting"
	StateReady         State = "ready"
	StateFailed        State = "failed"
)

// Status is the last known connection status.
type Status struct {
	State        State     `json:"state"`
	LastError    string    `json:"lastError,omitempty"`
	LastTestedAt time.Time `json:"lastTestedAt,omitzero"`
}

// Ready reports whether the status is ready.
func (s Status) Ready() bool { return s.State == StateReady }

// Probe guards a Status. The zero value is an uninitialized probe.
type Probe struct {
	mu     sync.Mutex
	status Status
	now    func() time.Time
}

// New returns an uninitialized probe.
func New() *Probe {
	return &Probe{status: Status{State: StateUninitialized}}
}

func (p *Probe) clock() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}

// Begin moves an uninitialized probe to connecting. It returns false and the
// current state when the probe is not uninitialized; the caller must then
// skip the connection attempt.
func (p *Probe) Begin() (State, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status.State == "" {
		p.status.State = StateUninitialized
	}
	if p.status.State != StateUninitialized {
		return p.status.State, false
	}
	p.status.State = StateConnecting
	return StateConnecting, true
}

// Succeed marks a connecting probe ready.
func (p *Probe) Succeed() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status.State != StateConnecting {
		return
	}
	p.status = Status{State: StateReady, LastTestedAt: p.clock()}
}

// Fail marks a connecting probe failed with a human readable reason.
// A ready probe is never downgraded.
func (p *Probe) Fail(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status.State == StateReady {
		return
	}
	if reason == "" {
		reason = "connection failed"
	}
	p.status = Status{State: StateFailed, LastError: reason, LastTestedAt: p.clock()}
}

// Reset returns a failed probe to uninitialized, keeping the last error and
// test time for display. Ready and connecting probes are not reset.
func (p *Probe) Reset() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.status.State {
	case StateReady, StateConnecting:
		return false
	}
	p.status.State = StateUninitialized
	return true
}

// Status returns the current status without side effects.
func (p *Probe) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.status
	if s.State == "" {
		s.State = StateUninitialized
	}
	return s
}

// ValidateEndpoint checks that raw is an absolute http(s) URL.
func ValidateEndpoint(raw string) error {
	if raw == "" {
		return apperr.New(apperr.KindConfigurationInvalid, "validate endpoint", "endpoint is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return apperr.Wrap(apperr.KindConfigurationInvalid, "validate endpoint", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return apperr.New(apperr.KindConfigurationInvalid, "validate endpoint",
			fmt.Sprintf("endpoint %q must use http or https", raw))
	}
	if u.Host == "" {
		return apperr.New(apperr.KindConfigurationInvalid, "validate endpoint",
			fmt.Sprintf("endpoint %q has no host", raw))
	}
	return nil
}

// Describe turns a connection error into the message stored as LastError.
func Describe(err error, timeout time.Duration) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("connection timed out after %s", timeout)
	}
	if errors.Is(err, context.Canceled) {
		return "connection attempt cancelled"
	}
	return err.Error()
}
