package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func (m *Manager) initStoreMetrics(cfg Config) {
	m.recordAppends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "record_appends_total",
			Help:      "Total number of record appends by kind and status",
		},
		[]string{"kind", "status"},
	)

	m.recordAppendDur = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "record_append_duration_seconds",
			Help:      "Record append duration in seconds, including the durable commit",
			Buckets:   cfg.StoreDurationBuckets,
		},
		[]string{"kind"},
	)

	m.recordQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "record_queries_total",
			Help:      "Total number of record reads by operation and status",
		},
		[]string{"op", "status"},
	)

	m.recordQueryDur = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "record_query_duration_seconds",
			Help:      "Record read duration in seconds",
			Buckets:   cfg.StoreDurationBuckets,
		},
		[]string{"op"},
	)

	m.recordCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "records",
			Help:      "Number of stored records",
		},
	)

	m.registry.MustRegister(m.recordAppends, m.recordAppendDur, m.recordQueries, m.recordQueryDur, m.recordCount)
}

// RecordAppend records one append attempt.
func (m *Manager) RecordAppend(kind, status string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.recordAppends.WithLabelValues(kind, status).Inc()
	m.recordAppendDur.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordQuery records one read operation.
func (m *Manager) RecordQuery(op, status string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.recordQueries.WithLabelValues(op, status).Inc()
	m.recordQueryDur.WithLabelValues(op).Observe(duration.Seconds())
}

// SetRecordCount sets the stored record gauge.
func (m *Manager) SetRecordCount(count int) {
	if !m.enabled {
		return
	}
	m.recordCount.Set(float64(count))
}
