// Package metrics exposes Prometheus collectors for the execution engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine collectors. A nil *Metrics is a no-op recorder,
// so callers never have to guard instrumentation sites.
type Metrics struct {
	inflightNodes prometheus.Gauge
	readyDepth    prometheus.Gauge
	nodeLatency   *prometheus.HistogramVec
	nodeRetries   *prometheus.CounterVec
	evictions     prometheus.Counter
	executions    *prometheus.CounterVec
}

// New registers the engine collectors with the given registry.
// Passing nil registers on the default registerer.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		inflightNodes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "weft",
			Subsystem: "engine",
			Name:      "inflight_nodes",
			Help:      "Nodes currently dispatched and awaiting results",
		}),
		readyDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "weft",
			Subsystem: "engine",
			Name:      "ready_depth",
			Help:      "Nodes in the ready queue at the last scheduling round",
		}),
		nodeLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "weft",
			Subsystem: "engine",
			Name:      "node_latency_ms",
			Help:      "Node execution duration in milliseconds, dispatch to final result",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 60000},
		}, []string{"node_type", "status"}),
		nodeRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weft",
			Subsystem: "engine",
			Name:      "node_retries_total",
			Help:      "Retry attempts beyond the first, by node type and error type",
		}, []string{"node_type", "error_type"}),
		evictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "weft",
			Subsystem: "engine",
			Name:      "output_evictions_total",
			Help:      "Node outputs evicted to keep the execution context under its cap",
		}),
		executions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weft",
			Subsystem: "engine",
			Name:      "executions_total",
			Help:      "Finished executions by outcome",
		}, []string{"status"}),
	}
}

func (m *Metrics) SetInflight(n int) {
	if m == nil {
		return
	}
	m.inflightNodes.Set(float64(n))
}

func (m *Metrics) SetReadyDepth(n int) {
	if m == nil {
		return
	}
	m.readyDepth.Set(float64(n))
}

func (m *Metrics) ObserveNodeLatency(nodeType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.nodeLatency.WithLabelValues(nodeType, status).Observe(float64(d.Milliseconds()))
}

func (m *Metrics) AddRetries(nodeType, errorType string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.nodeRetries.WithLabelValues(nodeType, errorType).Add(float64(n))
}

func (m *Metrics) AddEvictions(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.evictions.Add(float64(n))
}

func (m *Metrics) CountExecution(status string) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(status).Inc()
}
