// Package metrics exposes prometheus collectors for the orchestrator.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/careloop/intake/internal/domain"
)

// Metrics holds the orchestrator's collectors. All are registered against
// the default registry and served at /metrics.
type Metrics struct {
	StepsTotal        *prometheus.CounterVec
	TransitionsTotal  *prometheus.CounterVec
	CollaboratorCalls *prometheus.CounterVec
	CollaboratorTime  *prometheus.HistogramVec
}

// New creates and registers the orchestrator metrics.
func New() *Metrics {
	return &Metrics{
		StepsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_steps_total",
			Help: "Intake steps processed, by session phase at entry.",
		}, []string{"phase"}),
		TransitionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_phase_transitions_total",
			Help: "Committed phase transitions.",
		}, []string{"from", "to"}),
		CollaboratorCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_collaborator_requests_total",
			Help: "Collaborator agent calls, by agent and outcome.",
		}, []string{"agent", "outcome"}),
		CollaboratorTime: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name: "intake_collaborator_request_seconds",
			Help: "Collaborator agent call duration.",
			// Agent calls run from seconds to minutes.
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"agent"}),
	}
}

// RecordStep counts a processed step by the phase the session was in.
func (m *Metrics) RecordStep(phase domain.Phase) {
	m.StepsTotal.WithLabelValues(string(phase)).Inc()
}

// RecordTransition counts a committed phase transition.
func (m *Metrics) RecordTransition(from, to domain.Phase) {
	m.TransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
}

// ObserveCall implements the gateway observer.
func (m *Metrics) ObserveCall(agent string, duration time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.CollaboratorCalls.WithLabelValues(agent, outcome).Inc()
	m.CollaboratorTime.WithLabelValues(agent).Observe(duration.Seconds())
}
