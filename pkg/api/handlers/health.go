package handlers

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/neuroguard/neuroguard/pkg/api/models"
	"github.com/neuroguard/neuroguard/pkg/api/response"
	"github.com/neuroguard/neuroguard/pkg/version"
)

const readinessTimeout = 2 * time.Second

// CheckFunc reports whether a dependency is usable.
type CheckFunc func(ctx context.Context) error

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	store RecordReader

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(store RecordReader) *HealthHandler {
	return &HealthHandler{store: store, checks: make(map[string]CheckFunc)}
}

// AddCheck registers a named readiness check.
func (h *HealthHandler) AddCheck(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// Health handles the /health endpoint (liveness probe).
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, models.HealthResponse{
		Status:  "ok",
		Version: version.Info(),
	})
}

// Ready handles the /ready endpoint. The store must answer a count and
// every registered check must pass.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	resp := models.ReadyResponse{Ready: true, Checks: make(map[string]string)}

	count, err := h.store.Count(ctx)
	if err != nil {
		resp.Ready = false
		resp.Checks["store"] = err.Error()
	} else {
		resp.Records = count
		resp.Checks["store"] = "ok"
	}

	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			resp.Ready = false
			resp.Checks[name] = err.Error()
			continue
		}
		resp.Checks[name] = "ok"
	}
	h.mu.RUnlock()

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, status, resp)
}
