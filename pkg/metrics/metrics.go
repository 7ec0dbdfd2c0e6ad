// Package metrics provides Prometheus metrics instrumentation for neuroguard.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "neuroguard"

// Manager manages all Prometheus metrics for neuroguard. It implements the
// metrics recorder interfaces of the record store, the completion
// collaborator, the orchestrator and the event publisher.
type Manager struct {
	registry *prometheus.Registry
	enabled  bool

	// Record store metrics
	recordAppends   *prometheus.CounterVec
	recordAppendDur *prometheus.HistogramVec
	recordQueries   *prometheus.CounterVec
	recordQueryDur  *prometheus.HistogramVec
	recordCount     prometheus.Gauge

	// Completion collaborator metrics
	completionCalls    *prometheus.CounterVec
	completionDuration *prometheus.HistogramVec

	// Pipeline metrics
	pipelineRequests        *prometheus.CounterVec
	pipelineDuration        *prometheus.HistogramVec
	pipelineStageDuration   *prometheus.HistogramVec
	pipelineRecommendations *prometheus.CounterVec
	pipelineDegraded        *prometheus.CounterVec

	// Event metrics
	eventPublishes *prometheus.CounterVec
	eventRetries   *prometheus.CounterVec
	eventDegraded  *prometheus.GaugeVec

	// HTTP metrics
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	httpConnections prometheus.Gauge
	wsClients       prometheus.Gauge
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool
	Port    int
	Path    string

	// Histogram bucket configurations
	StoreDurationBuckets      []float64
	CompletionDurationBuckets []float64
	PipelineDurationBuckets   []float64
	HTTPDurationBuckets       []float64
}

// DefaultConfig returns default metrics configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:                   true,
		Port:                      9091,
		Path:                      "/metrics",
		StoreDurationBuckets:      []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		CompletionDurationBuckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		PipelineDurationBuckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		HTTPDurationBuckets:       []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}
}

// NewManager creates a new metrics manager.
func NewManager(cfg Config) *Manager {
	if !cfg.Enabled {
		return &Manager{enabled: false}
	}

	registry := prometheus.NewRegistry()

	// Register Go runtime metrics
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Manager{
		registry: registry,
		enabled:  true,
	}

	m.initStoreMetrics(cfg)
	m.initCompletionMetrics(cfg)
	m.initPipelineMetrics(cfg)
	m.initEventMetrics()
	m.initHTTPMetrics(cfg)

	return m
}

// Enabled returns whether metrics collection is enabled.
func (m *Manager) Enabled() bool {
	return m.enabled
}

// Registry exposes the underlying registry; nil when disabled.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Manager) Handler() http.Handler {
	if !m.enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts a dedicated metrics HTTP server. It blocks until ctx
// is canceled or the server fails.
func (m *Manager) StartServer(ctx context.Context, port int, path string) error {
	if !m.enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// NoOpManager returns a no-op metrics manager for when metrics are disabled.
func NoOpManager() *Manager {
	return &Manager{enabled: false}
}
