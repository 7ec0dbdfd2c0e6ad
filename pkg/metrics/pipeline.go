package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func (m *Manager) initPipelineMetrics(cfg Config) {
	m.pipelineRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_requests_total",
			Help:      "Total number of orchestrated requests by operation and status",
		},
		[]string{"op", "status"},
	)

	m.pipelineDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Orchestrated request duration in seconds",
			Buckets:   cfg.PipelineDurationBuckets,
		},
		[]string{"op"},
	)

	m.pipelineStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Time spent reaching each request stage from the previous one",
			Buckets:   cfg.PipelineDurationBuckets,
		},
		[]string{"op", "stage"},
	)

	m.pipelineRecommendations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_recommendations_total",
			Help:      "Total number of recommendations issued by operation and band",
		},
		[]string{"op", "recommendation"},
	)

	m.pipelineDegraded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_degraded_total",
			Help:      "Total number of results produced through collaborator fallbacks",
		},
		[]string{"op"},
	)

	m.registry.MustRegister(
		m.pipelineRequests,
		m.pipelineDuration,
		m.pipelineStageDuration,
		m.pipelineRecommendations,
		m.pipelineDegraded,
	)
}

// RecordRequest records one orchestrated request.
func (m *Manager) RecordRequest(op, status string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.pipelineRequests.WithLabelValues(op, status).Inc()
	m.pipelineDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordStage records a stage transition.
func (m *Manager) RecordStage(op, stage string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.pipelineStageDuration.WithLabelValues(op, stage).Observe(duration.Seconds())
}

// RecordRecommendation counts an issued recommendation.
func (m *Manager) RecordRecommendation(op, recommendation string) {
	if !m.enabled {
		return
	}
	m.pipelineRecommendations.WithLabelValues(op, recommendation).Inc()
}

// RecordDegraded counts a degraded result.
func (m *Manager) RecordDegraded(op string) {
	if !m.enabled {
		return
	}
	m.pipelineDegraded.WithLabelValues(op).Inc()
}
