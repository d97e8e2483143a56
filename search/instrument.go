package search

import (
	"context"
	"time"

	"github.com/deepresearch/orchestrator/domain"
	"github.com/deepresearch/orchestrator/internal/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// instrumentedProvider decorates a Provider's Search call with metrics and
// tracing, leaving every other method a pure passthrough. Modeled on the
// metrics/tracing middleware pattern for LLM requests: wrap, don't
// reimplement, the inner call.
type instrumentedProvider struct {
	Provider
	collector *metrics.Collector
	tracer    trace.Tracer
}

// Instrument wraps next so every Search call records a provider_requests_*
// metric and, when a tracer is supplied, an OpenTelemetry span. Either
// collector or tracer may be nil.
func Instrument(next Provider, collector *metrics.Collector, tracer trace.Tracer) Provider {
	if collector == nil && tracer == nil {
		return next
	}
	return &instrumentedProvider{Provider: next, collector: collector, tracer: tracer}
}

func (p *instrumentedProvider) Search(ctx context.Context, query string, maxResults int, filters Filters) ([]domain.Entity, error) {
	var span trace.Span
	if p.tracer != nil {
		ctx, span = p.tracer.Start(ctx, "search."+p.Provider.Name())
		span.SetAttributes(attribute.String("provider", p.Provider.Name()), attribute.Int("max_results", maxResults))
		defer span.End()
	}

	start := time.Now()
	results, err := p.Provider.Search(ctx, query, maxResults, filters)
	duration := time.Since(start)

	if p.collector != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		p.collector.RecordProviderRequest(p.Provider.Name(), status, duration)
	}

	if span != nil {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.Int("results", len(results)))
		}
	}

	return results, err
}
