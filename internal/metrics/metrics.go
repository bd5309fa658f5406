// Package metrics exposes Prometheus collectors for the engine.
//
// A nil *Metrics is valid and records nothing, so tests and embedded
// callers can skip metrics wiring entirely.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's collectors.
type Metrics struct {
	EventsIngested    *prometheus.CounterVec
	DuplicatesIgnored prometheus.Counter
	ChainsCompleted   prometheus.Counter
	ChainsAborted     prometheus.Counter
	ChainsFailed      prometheus.Counter
	StepDuration      *prometheus.HistogramVec
	ProjectionsMade   *prometheus.CounterVec
	ProjectionsVoided *prometheus.CounterVec
	Corrections       *prometheus.CounterVec
}

// New registers the engine collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kairon",
			Name:      "events_ingested_total",
			Help:      "Events appended to the log, by event type.",
		}, []string{"event_type"}),
		DuplicatesIgnored: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kairon",
			Name:      "events_duplicate_total",
			Help:      "Re-deliveries ignored by idempotency key.",
		}),
		ChainsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kairon",
			Name:      "chains_completed_total",
			Help:      "Chains that ran every step.",
		}),
		ChainsAborted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kairon",
			Name:      "chains_aborted_total",
			Help:      "Chains aborted by a cancellation marker.",
		}),
		ChainsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kairon",
			Name:      "chains_failed_total",
			Help:      "Chains that stopped on a step failure.",
		}),
		StepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kairon",
			Name:      "step_duration_seconds",
			Help:      "Wall time per chain step.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"step"}),
		ProjectionsMade: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kairon",
			Name:      "projections_created_total",
			Help:      "Projections persisted, by projection type.",
		}, []string{"type"}),
		ProjectionsVoided: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kairon",
			Name:      "projections_voided_total",
			Help:      "Projections voided, by reason.",
		}, []string{"reason"}),
		Corrections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kairon",
			Name:      "corrections_total",
			Help:      "Correction requests, by kind.",
		}, []string{"kind"}),
	}
}

// ObserveIngest records an appended or duplicate event.
func (m *Metrics) ObserveIngest(eventType string, isNew bool) {
	if m == nil {
		return
	}
	if isNew {
		m.EventsIngested.WithLabelValues(eventType).Inc()
	} else {
		m.DuplicatesIgnored.Inc()
	}
}

// ObserveChain records a chain outcome by status name.
func (m *Metrics) ObserveChain(status string) {
	if m == nil {
		return
	}
	switch status {
	case "completed":
		m.ChainsCompleted.Inc()
	case "aborted":
		m.ChainsAborted.Inc()
	case "failed":
		m.ChainsFailed.Inc()
	}
}

// ObserveStep records one step's duration.
func (m *Metrics) ObserveStep(step string, d time.Duration) {
	if m == nil {
		return
	}
	m.StepDuration.WithLabelValues(step).Observe(d.Seconds())
}

// ObserveProjection records a created projection.
func (m *Metrics) ObserveProjection(projType string) {
	if m == nil {
		return
	}
	m.ProjectionsMade.WithLabelValues(projType).Inc()
}

// ObserveVoid records a voided projection.
func (m *Metrics) ObserveVoid(reason string) {
	if m == nil {
		return
	}
	m.ProjectionsVoided.WithLabelValues(reason).Inc()
}

// ObserveCorrection records a correction request.
func (m *Metrics) ObserveCorrection(kind string) {
	if m == nil {
		return
	}
	m.Corrections.WithLabelValues(kind).Inc()
}
