package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

func (m *Manager) initEventMetrics() {
	m.eventPublishes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publishes_total",
			Help:      "Total number of record event publishes by transport and status",
		},
		[]string{"transport", "status"},
	)

	m.eventRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_retries_total",
			Help:      "Total number of record event publish retries",
		},
		[]string{"transport"},
	)

	m.eventDegraded = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_publisher_degraded",
			Help:      "1 while the last record event publish failed",
		},
		[]string{"transport"},
	)

	m.registry.MustRegister(m.eventPublishes, m.eventRetries, m.eventDegraded)
}

// RecordPublish records one publish outcome.
func (m *Manager) RecordPublish(transport, status string) {
	if !m.enabled {
		return
	}
	m.eventPublishes.WithLabelValues(transport, status).Inc()
}

// RecordRetry records one publish retry.
func (m *Manager) RecordRetry(transport string) {
	if !m.enabled {
		return
	}
	m.eventRetries.WithLabelValues(transport).Inc()
}

// SetDegradedMode flags or clears publisher degradation.
func (m *Manager) SetDegradedMode(transport string, active bool) {
	if !m.enabled {
		return
	}
	v := 0.0
	if active {
		v = 1
	}
	m.eventDegraded.WithLabelValues(transport).Set(v)
}
