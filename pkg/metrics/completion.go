package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func (m *Manager) initCompletionMetrics(cfg Config) {
	m.completionCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completion_calls_total",
			Help:      "Total number of completion collaborator calls by provider and status",
		},
		[]string{"provider", "status"},
	)

	m.completionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_duration_seconds",
			Help:      "Completion collaborator call duration in seconds",
			Buckets:   cfg.CompletionDurationBuckets,
		},
		[]string{"provider"},
	)

	m.registry.MustRegister(m.completionCalls, m.completionDuration)
}

// RecordCompletion records one collaborator call.
func (m *Manager) RecordCompletion(provider, status string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.completionCalls.WithLabelValues(provider, status).Inc()
	m.completionDuration.WithLabelValues(provider).Observe(duration.Seconds())
}
