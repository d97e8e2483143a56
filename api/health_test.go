package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/deepresearch/orchestrator/health"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type stubProbe struct {
	name   string
	result health.CheckResult
}

func (p stubProbe) Name() string { return p.name }
func (p stubProbe) Check(ctx context.Context) health.CheckResult { return p.result }

func TestHandleLivenessNeverRunsProbes(t *testing.T) {
	registry := health.NewRegistry()
	registry.Register(stubProbe{name: "never_called", result: health.CheckResult{Status: health.StatusFail, Fatal: true}})
	h := NewHealthHandler(registry, zap.NewNop())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	h.HandleLiveness(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleDetailedReturnsOKWhenHealthy(t *testing.T) {
	registry := health.NewRegistry()
	registry.Register(stubProbe{name: "ok", result: health.CheckResult{Status: health.StatusPass}})
	h := NewHealthHandler(registry, zap.NewNop())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/health/detailed", nil)
	h.HandleDetailed(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	assert.True(t, resp.Success)
}

func TestHandleDetailedReturnsOKWhenDegraded(t *testing.T) {
	registry := health.NewRegistry()
	registry.Register(stubProbe{name: "degraded", result: health.CheckResult{Status: health.StatusWarn}})
	h := NewHealthHandler(registry, zap.NewNop())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/health/detailed", nil)
	h.HandleDetailed(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleDetailedReturnsServiceUnavailableWhenFatal(t *testing.T) {
	registry := health.NewRegistry()
	registry.Register(stubProbe{name: "fatal", result: health.CheckResult{Status: health.StatusFail, Fatal: true}})
	h := NewHealthHandler(registry, zap.NewNop())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/health/detailed", nil)
	h.HandleDetailed(w, r)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp := decodeResponse(t, w)
	assert.False(t, resp.Success)
}
