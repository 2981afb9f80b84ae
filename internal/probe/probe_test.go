package probe

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-toolbridge/internal/apperr"
)

func fixedProbe(at time.Time) *Probe {
	p := New()
	p.now = func() time.Time { return at }
	return p
}

func TestProbeLifecycle(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := fixedProbe(at)

	assert.Equal(t, StateUninitialized, p.Status().State)

	state, ok := p.Begin()
	require.True(t, ok)
	assert.Equal(t, StateConnecting, state)

	p.Succeed()
	st := p.Status()
	assert.Equal(t, StateReady, st.State)
	assert.Empty(t, st.LastError)
	assert.Equal(t, at, st.LastTestedAt)

	// ready is terminal
	state, ok = p.Begin()
	assert.False(t, ok)
	assert.Equal(t, StateReady, state)
	p.Fail("late failure")
	assert.Equal(t, StateReady, p.Status().State)
	assert.False(t, p.Reset())
}

func TestProbeFailAndReset(t *testing.T) {
	p := New()

	_, ok := p.Begin()
	require.True(t, ok)
	p.Fail("dial tcp: connection refused")

	st := p.Status()
	assert.Equal(t, StateFailed, st.State)
	assert.Equal(t, "dial tcp: connection refused", st.LastError)
	assert.False(t, st.LastTestedAt.IsZero())

	_, ok = p.Begin()
	assert.False(t, ok, "failed probe must be reset before a new attempt")

	require.True(t, p.Reset())
	st = p.Status()
	assert.Equal(t, StateUninitialized, st.State)
	assert.Equal(t, "dial tcp: connection refused", st.LastError)

	_, ok = p.Begin()
	assert.True(t, ok)
}

func TestProbeZeroValue(t *testing.T) {
	var p Probe
	assert.Equal(t, StateUninitialized, p.Status().State)
	_, ok := p.Begin()
	assert.True(t, ok)
}

func TestValidateEndpoint(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"https", "https://tools.example.com/mcp", false},
		{"http with port", "http://127.0.0.1:8090/mcp", false},
		{"empty", "", true},
		{"relative", "/mcp", true},
		{"ftp scheme", "ftp://example.com", true},
		{"no host", "http://", true},
		{"garbage", "http://[::1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEndpoint(tt.raw)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, apperr.KindConfigurationInvalid, apperr.KindOf(err))
		})
	}
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "", Describe(nil, time.Second))
	assert.Equal(t, "connection timed out after 2s",
		Describe(fmt.Errorf("initialize: %w", context.DeadlineExceeded), 2*time.Second))
	assert.Equal(t, "boom", Describe(errors.New("boom"), time.Second))
}
