package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := New()

	m.ObserveProbe(ProtocolMCP, true)
	m.ObserveProbe(ProtocolMCP, false)
	m.ObserveProbe(ProtocolMCP, false)
	m.ObserveRegistryBuild(120 * time.Millisecond)
	m.SetProgressActive(3)
	m.ObserveToolCall("mcp", nil)
	m.ObserveToolCall("a2a", errors.New("boom"))

	body := scrape(t, m)
	for _, line := range []string{
		`toolbridge_probe_total{outcome="ready",protocol="mcp"} 1`,
		`toolbridge_probe_total{outcome="failed",protocol="mcp"} 2`,
		`toolbridge_progress_active 3`,
		`toolbridge_tool_calls_total{outcome="error",source="a2a"} 1`,
		`toolbridge_registry_build_seconds_count 1`,
	} {
		assert.Contains(t, body, line)
	}
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveProbe(ProtocolA2A, true)
	m.ObserveRegistryBuild(time.Second)
	m.SetProgressActive(1)
	m.ObserveToolCall("local", nil)
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveProbe(ProtocolA2A, true)

	body := scrape(t, m)
	assert.True(t, strings.Contains(body, `toolbridge_probe_total{outcome="ready",protocol="a2a"} 1`), body)
	assert.Contains(t, body, "go_goroutines")
}
