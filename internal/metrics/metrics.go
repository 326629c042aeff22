package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for retrieval and graph sync.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Retrieval metrics
	RetrievalsTotal   *prometheus.CounterVec
	GraphFallbacks    *prometheus.CounterVec
	GraphPathDuration prometheus.Histogram

	// Background metrics
	RecorderDropped prometheus.Counter
	SyncFailures    prometheus.Counter
	SyncedMemories  prometheus.Counter
}

// NewMetrics creates and registers all metrics on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		RetrievalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memgraph_retrievals_total",
				Help: "Total number of context retrievals",
			},
			[]string{"mode", "applied_strategy"},
		),
		GraphFallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memgraph_graph_fallbacks_total",
				Help: "Total number of graph-path fallbacks to baseline",
			},
			[]string{"reason"},
		),
		GraphPathDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "memgraph_graph_path_seconds",
				Help:    "Duration of the graph expansion path in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		RecorderDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "memgraph_recorder_dropped_total",
				Help: "Total number of rollout metric events dropped on a full buffer",
			},
		),
		SyncFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "memgraph_sync_failures_total",
				Help: "Total number of failed graph synchronizations",
			},
		),
		SyncedMemories: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "memgraph_synced_memories_total",
				Help: "Total number of memory writes projected into the graph",
			},
		),
	}

	registry.MustRegister(
		m.RetrievalsTotal,
		m.GraphFallbacks,
		m.GraphPathDuration,
		m.RecorderDropped,
		m.SyncFailures,
		m.SyncedMemories,
	)

	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRetrieval counts one retrieval and, when set, its fallback reason.
func (m *Metrics) RecordRetrieval(mode, appliedStrategy, fallbackReason string) {
	if m == nil {
		return
	}
	m.RetrievalsTotal.WithLabelValues(mode, appliedStrategy).Inc()
	if fallbackReason != "" {
		m.GraphFallbacks.WithLabelValues(fallbackReason).Inc()
	}
}

// ObserveGraphPath records how long the graph path ran.
func (m *Metrics) ObserveGraphPath(d time.Duration) {
	if m == nil {
		return
	}
	m.GraphPathDuration.Observe(d.Seconds())
}

// IncRecorderDropped counts a dropped rollout event.
func (m *Metrics) IncRecorderDropped() {
	if m == nil {
		return
	}
	m.RecorderDropped.Inc()
}

// IncSyncFailure counts a failed graph synchronization.
func (m *Metrics) IncSyncFailure() {
	if m == nil {
		return
	}
	m.SyncFailures.Inc()
}

// IncSynced counts a successful graph synchronization.
func (m *Metrics) IncSynced() {
	if m == nil {
		return
	}
	m.SyncedMemories.Inc()
}
