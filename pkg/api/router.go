// Package api provides the HTTP surface of neuroguard.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/neuroguard/neuroguard/config"
	"github.com/neuroguard/neuroguard/pkg/api/handlers"
	"github.com/neuroguard/neuroguard/pkg/api/middleware"
	"github.com/neuroguard/neuroguard/pkg/api/response"
	"github.com/neuroguard/neuroguard/pkg/logger"
)

// Handlers holds all HTTP handlers. Nil handlers leave their routes
// unregistered.
type Handlers struct {
	// Pipeline handles pattern, ethics and system endpoints.
	Pipeline *handlers.PipelineHandler

	// Records handles record lookups and searches.
	Records *handlers.RecordHandler

	// Health handles liveness and readiness probes.
	Health *handlers.HealthHandler

	// Stream serves the websocket record stream.
	Stream *handlers.StreamHandler

	// Metrics is the optional HTTP metrics recorder.
	Metrics middleware.MetricsRecorder

	// MetricsHandler serves Prometheus scrapes on the API port.
	MetricsHandler http.Handler
}

// NewRouter creates a new chi router with middleware and routes.
func NewRouter(cfg *config.Config, log logger.Logger, h *Handlers) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID())
	r.Use(middleware.Tracing(middleware.DefaultTracingOptions()))
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))
	if h.Metrics != nil {
		r.Use(middleware.Metrics(h.Metrics))
	}
	r.Use(middleware.CORS(&cfg.Server.CORS))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotFound, response.ErrCodeNotFound, "route not found", middleware.GetRequestID(r.Context()))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, response.ErrCodeMethodNotAllowed, "method not allowed", middleware.GetRequestID(r.Context()))
	})

	RegisterRoutes(r, cfg, h)
	return r
}

// RegisterRoutes registers all API routes.
func RegisterRoutes(r chi.Router, cfg *config.Config, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.Server.HTTP.RequestTimeout))
		r.Use(middleware.MaxBody(cfg.Server.HTTP.MaxBodyBytes))

		if h.Pipeline != nil {
			r.Post("/patterns/review", h.Pipeline.ReviewPattern)
			r.Post("/patterns/interpret", h.Pipeline.InterpretPattern)
			r.Post("/ethics/evaluate", h.Pipeline.EvaluateEthics)
			r.Post("/systems/analyze", h.Pipeline.AnalyzeSystem)
		}

		if h.Records != nil {
			r.Get("/records", h.Records.SearchRecords)
			r.Get("/records/{id}", h.Records.GetRecord)
		}
	})

	if h.Health != nil {
		r.Get("/health", h.Health.Health)
		r.Get("/ready", h.Health.Ready)
	}

	if h.MetricsHandler != nil {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, h.MetricsHandler)
	}

	if h.Stream != nil && cfg.Server.WebSocket.Enabled {
		r.Method(http.MethodGet, "/ws/records", h.Stream)
	}
}
