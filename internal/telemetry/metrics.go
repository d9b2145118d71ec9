package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the engine-level counters exposed on /metrics.
type Metrics struct {
	AnswersRecorded  prometheus.Counter
	ProgressUpdates  prometheus.Counter
	StateTransitions prometheus.Counter
	GuestsJoined     prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		AnswersRecorded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "live_answers_recorded_total",
			Help: "Guest answers accepted across all sessions.",
		}),
		ProgressUpdates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "live_progress_updates_total",
			Help: "Race counter updates accepted across all sessions.",
		}),
		StateTransitions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "live_state_transitions_total",
			Help: "Replicated session state commits.",
		}),
		GuestsJoined: promauto.NewCounter(prometheus.CounterOpts{
			Name: "live_guests_joined_total",
			Help: "Guest registrations accepted.",
		}),
	}
}
