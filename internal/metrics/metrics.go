// Package metrics exposes the Prometheus collectors of the service.
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Protocol label values.
const (
	ProtocolMCP = "mcp"
	ProtocolA2A = "a2a"
)

// Metrics holds the collectors and the registry they are registered with.
type Metrics struct {
	registry *prometheus.Registry

	probeTotal     *prometheus.CounterVec
	registryBuild  prometheus.Histogram
	progressActive prometheus.Gauge
	toolCalls      *prometheus.CounterVec
}

// New creates the collectors on a dedicated registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		probeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "toolbridge_probe_total",
			Help: "Connection attempts to remote servers by protocol and outcome.",
		}, []string{"protocol", "outcome"}),
		registryBuild: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "toolbridge_registry_build_seconds",
			Help:    "Time spent building the aggregated tool registry.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		progressActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "toolbridge_progress_active",
			Help: "Tool calls currently reporting progress.",
		}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "toolbridge_tool_calls_total",
			Help: "Tool and agent invocations by source and outcome.",
		}, []string{"source", "outcome"}),
	}
	m.registry.MustRegister(
		m.probeTotal,
		m.registryBuild,
		m.progressActive,
		m.toolCalls,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func outcome(ok bool) string {
	if ok {
		return "ready"
	}
	return "failed"
}

// ObserveProbe counts one connection attempt.
func (m *Metrics) ObserveProbe(protocol string, ready bool) {
	if m == nil {
		return
	}
	m.probeTotal.WithLabelValues(protocol, outcome(ready)).Inc()
}

// ObserveRegistryBuild records the duration of one registry build.
func (m *Metrics) ObserveRegistryBuild(d time.Duration) {
	if m == nil {
		return
	}
	m.registryBuild.Observe(d.Seconds())
}

// SetProgressActive sets the number of tracked progress tokens.
func (m *Metrics) SetProgressActive(n int) {
	if m == nil {
		return
	}
	m.progressActive.Set(float64(n))
}

// ObserveToolCall counts one tool or agent invocation.
func (m *Metrics) ObserveToolCall(source string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.toolCalls.WithLabelValues(source, result).Inc()
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
