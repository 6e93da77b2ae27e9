// Package metrics exposes Prometheus instrumentation for the admission engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains the Prometheus collectors for the engine.
type Metrics struct {
	decisions     *prometheus.CounterVec
	bypasses      *prometheus.CounterVec
	storeDuration *prometheus.HistogramVec
	storeErrors   prometheus.Counter
}

// New creates a Metrics instance registered with reg. A nil registerer
// falls back to the default one.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rategate_decisions_total",
				Help: "Total number of admission decisions produced",
			},
			[]string{"outcome"},
		),

		bypasses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rategate_bypasses_total",
				Help: "Total number of evaluations bypassed without touching the backend",
			},
			[]string{"reason"},
		),

		storeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rategate_store_operation_duration_seconds",
				Help:    "Duration of counting backend operations in seconds",
				Buckets: prometheus.ExponentialBuckets(0.000001, 4, 12),
			},
			[]string{"operation"},
		),

		storeErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "rategate_store_errors_total",
				Help: "Total number of counting backend failures",
			},
		),
	}
}

// RecordDecision records an allow or deny outcome.
func (m *Metrics) RecordDecision(allowed bool) {
	if m == nil {
		return
	}
	outcome := "allowed"
	if !allowed {
		outcome = "denied"
	}
	m.decisions.WithLabelValues(outcome).Inc()
}

// RecordBypass records an evaluation that never reached the backend.
func (m *Metrics) RecordBypass(reason string) {
	if m == nil {
		return
	}
	m.bypasses.WithLabelValues(reason).Inc()
}

// ObserveStoreDuration records the latency of one backend operation.
func (m *Metrics) ObserveStoreDuration(operation string, seconds float64) {
	if m == nil {
		return
	}
	m.storeDuration.WithLabelValues(operation).Observe(seconds)
}

// RecordStoreError records a backend failure.
func (m *Metrics) RecordStoreError() {
	if m == nil {
		return
	}
	m.storeErrors.Inc()
}

// Handler returns the HTTP handler serving the default metrics registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
