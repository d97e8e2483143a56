package api

import (
	"context"
	"net/http"
	"time"

	"github.com/deepresearch/orchestrator/health"
	"go.uber.org/zap"
)

// HealthHandler serves the liveness probe and the detailed startup report.
type HealthHandler struct {
	registry *health.Registry
	logger   *zap.Logger
}

// NewHealthHandler wires a HealthHandler around a populated Registry.
func NewHealthHandler(registry *health.Registry, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{registry: registry, logger: logger.With(zap.String("component", "health_handler"))}
}

// HandleLiveness GET /health is a bare liveness check: it never runs
// probes, only confirms the process is serving requests.
func (h *HealthHandler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, map[string]string{"status": "alive"})
}

// HandleDetailed GET /health/detailed runs every registered probe and
// returns the feature matrix, with a status code mirroring Report.ExitCode.
func (h *HealthHandler) HandleDetailed(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	report := h.registry.Run(ctx)

	status := http.StatusOK
	switch report.ExitCode() {
	case 1:
		status = http.StatusOK // degraded but serving
	case 2:
		status = http.StatusServiceUnavailable
	}

	WriteJSON(w, status, Response{
		Success:   report.Healthy,
		Data:      report,
		Timestamp: time.Now(),
	})
}
