package api

import (
	"net/http"
	"time"

	"github.com/deepresearch/orchestrator/internal/metrics"
)

// Routes bundles every handler the router wires up.
type Routes struct {
	Research *ResearchHandler
	Health   *HealthHandler
	Crawl    *CrawlHandler
	Stream   *StreamHandler
}

// NewMux builds the HTTP router. authMiddleware, when non-nil, wraps every
// /research/* route; metrics, when non-nil, records per-request counters.
func NewMux(routes Routes, authMiddleware func(http.Handler) http.Handler, collector *metrics.Collector) *http.ServeMux {
	mux := http.NewServeMux()

	wrap := func(path string, h http.HandlerFunc) {
		var handler http.Handler = h
		if collector != nil {
			handler = instrument(path, handler, collector)
		}
		mux.Handle(path, handler)
	}

	research := func(path string, h http.HandlerFunc) {
		var handler http.Handler = h
		if authMiddleware != nil {
			handler = authMiddleware(handler)
		}
		if collector != nil {
			handler = instrument(path, handler, collector)
		}
		mux.Handle(path, handler)
	}

	research("POST /research/start", routes.Research.HandleStart)
	research("GET /research/{id}/status", routes.Research.HandleStatus)
	research("POST /research/{id}/approve", routes.Research.HandleApprove)
	research("POST /research/{id}/stop", routes.Research.HandleStop)
	research("GET /research/{id}/report", routes.Research.HandleReport)
	research("GET /research/{id}/stream", routes.Stream.HandleStream)

	wrap("POST /crawl/batch", routes.Crawl.HandleBatch)
	wrap("GET /health", routes.Health.HandleLiveness)
	wrap("GET /health/detailed", routes.Health.HandleDetailed)

	return mux
}

// instrument records request count and latency against path's route
// pattern (not the raw URL, to keep cardinality bounded).
func instrument(pattern string, next http.Handler, collector *metrics.Collector) http.Handler {
	method, path := splitPattern(pattern)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rw, r)
		collector.RecordHTTPRequest(method, path, rw.status, time.Since(start))
	})
}

func splitPattern(pattern string) (method, path string) {
	for i := 0; i < len(pattern); i++ {
		if pattern[i] == ' ' {
			return pattern[:i], pattern[i+1:]
		}
	}
	return "", pattern
}

// statusWriter captures the status code written through it, since
// http.ResponseWriter doesn't expose one after the fact.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
		w.ResponseWriter.WriteHeader(code)
	}
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}
