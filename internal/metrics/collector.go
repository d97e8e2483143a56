// Package metrics provides internal Prometheus instrumentation for the
// research pipeline. Internal: not meant to be imported outside this
// module.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector holds every Prometheus metric the orchestrator emits, grouped
// by subsystem: HTTP API, pipeline node execution, search providers, LLM
// completions, and the content fetcher.
type Collector struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	nodeExecutionsTotal   *prometheus.CounterVec
	nodeExecutionDuration *prometheus.HistogramVec

	providerRequestsTotal   *prometheus.CounterVec
	providerRequestDuration *prometheus.HistogramVec

	llmRequestsTotal   *prometheus.CounterVec
	llmTokensUsed      *prometheus.CounterVec
	llmRequestDuration *prometheus.HistogramVec

	fetchAttemptsTotal *prometheus.CounterVec

	sessionsActive  prometheus.Gauge
	sessionsByPhase *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector registers every metric under namespace and returns the
// Collector. Call once per process; promauto registers against the
// default registry.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{logger: logger.With(zap.String("component", "metrics"))}

	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total number of HTTP requests"},
		[]string{"method", "path", "status"},
	)
	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: namespace, Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds", Buckets: prometheus.DefBuckets},
		[]string{"method", "path"},
	)

	c.nodeExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "pipeline_node_executions_total", Help: "Total pipeline node executions"},
		[]string{"node", "status"},
	)
	c.nodeExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: namespace, Name: "pipeline_node_duration_seconds", Help: "Pipeline node execution duration in seconds", Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}},
		[]string{"node"},
	)

	c.providerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "search_provider_requests_total", Help: "Total search provider requests"},
		[]string{"provider", "status"},
	)
	c.providerRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: namespace, Name: "search_provider_duration_seconds", Help: "Search provider request duration in seconds", Buckets: prometheus.DefBuckets},
		[]string{"provider"},
	)

	c.llmRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "llm_requests_total", Help: "Total LLM completion requests"},
		[]string{"tier", "status"},
	)
	c.llmTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "llm_tokens_used_total", Help: "Total tokens consumed"},
		[]string{"tier"},
	)
	c.llmRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: namespace, Name: "llm_request_duration_seconds", Help: "LLM completion duration in seconds", Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60}},
		[]string{"tier"},
	)

	c.fetchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "content_fetch_attempts_total", Help: "Total content fetch attempts"},
		[]string{"kind"},
	)

	c.sessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{Namespace: namespace, Name: "sessions_active", Help: "Number of research sessions currently running"},
	)
	c.sessionsByPhase = promauto.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: namespace, Name: "sessions_by_phase", Help: "Number of sessions currently in each phase"},
		[]string{"phase"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// RecordHTTPRequest records one completed HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusClass(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordNodeExecution records one pipeline node's Run invocation.
func (c *Collector) RecordNodeExecution(node, status string, duration time.Duration) {
	c.nodeExecutionsTotal.WithLabelValues(node, status).Inc()
	c.nodeExecutionDuration.WithLabelValues(node).Observe(duration.Seconds())
}

// RecordProviderRequest records one search provider call.
func (c *Collector) RecordProviderRequest(provider, status string, duration time.Duration) {
	c.providerRequestsTotal.WithLabelValues(provider, status).Inc()
	c.providerRequestDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordLLMRequest records one completion call.
func (c *Collector) RecordLLMRequest(tier, status string, duration time.Duration, tokens int) {
	c.llmRequestsTotal.WithLabelValues(tier, status).Inc()
	c.llmRequestDuration.WithLabelValues(tier).Observe(duration.Seconds())
	c.llmTokensUsed.WithLabelValues(tier).Add(float64(tokens))
}

// RecordFetchAttempt records one content-fetch outcome by FailureKind
// (empty string for a successful fetch).
func (c *Collector) RecordFetchAttempt(kind string) {
	if kind == "" {
		kind = "success"
	}
	c.fetchAttemptsTotal.WithLabelValues(kind).Inc()
}

// SetSessionsActive sets the current count of running sessions.
func (c *Collector) SetSessionsActive(n int) {
	c.sessionsActive.Set(float64(n))
}

// SetSessionsByPhase replaces the gauge for one phase with count.
func (c *Collector) SetSessionsByPhase(phase string, count int) {
	c.sessionsByPhase.WithLabelValues(phase).Set(float64(count))
}

func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
