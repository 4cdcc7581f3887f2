// Package observability holds the pipeline's Prometheus metrics, the
// WhatsApp user notifier, and a best-effort broadcaster for webhook events
// that never enter the pipeline. OpenTelemetry spans are emitted directly
// from internal/batching, not from here. Only the two gauges are updated
// (through Sample); the counters are registered, but nothing in this module
// increments them.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the gauges/counters §5 and §9 name.
type Metrics struct {
	ActiveUsers      prometheus.Gauge
	PendingMessages  prometheus.Gauge
	BatchesTotal     *prometheus.CounterVec // label: outcome
	RetriesTotal     prometheus.Counter
	DeadLettersTotal prometheus.Counter
	LimiterRejections *prometheus.CounterVec // label: reason (token|window)
	IngestTotal      *prometheus.CounterVec // label: outcome
}

// NewMetrics registers and returns the pipeline's metrics on the default
// registerer. Call once per process.
func NewMetrics() *Metrics {
	return &Metrics{
		ActiveUsers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_active_users",
			Help: "Number of users with a live UserBuffer.",
		}),
		PendingMessages: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_pending_messages",
			Help: "Total messages currently buffered across all users.",
		}),
		BatchesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_batches_total",
			Help: "Batches processed, by terminal outcome.",
		}, []string{"outcome"}),
		RetriesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_retries_total",
			Help: "Total retry attempts scheduled.",
		}),
		DeadLettersTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_dead_letters_total",
			Help: "Batches handed to the dead-letter handler.",
		}),
		LimiterRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_limiter_rejections_total",
			Help: "Rate limiter rejections, by component.",
		}, []string{"reason"}),
		IngestTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_ingest_total",
			Help: "Ingest calls, by outcome.",
		}, []string{"outcome"}),
	}
}

// Sample updates the two gauge metrics from a batching.Snapshot-shaped
// read. Decoupled from the batching package's concrete type so
// observability never imports batching.
func (m *Metrics) Sample(activeUsers, pendingMessages int) {
	m.ActiveUsers.Set(float64(activeUsers))
	m.PendingMessages.Set(float64(pendingMessages))
}
