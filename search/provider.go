// Package search provides the uniform query interface over heterogeneous
// search backends (C4): a base implementation wraps every concrete
// provider's transport call with circuit breaking, rate limiting, retry,
// and structured logging, so a provider can never throw through the
// contract except for cancellation.
package search

import (
	"context"
	"time"

	"github.com/deepresearch/orchestrator/domain"
	"github.com/deepresearch/orchestrator/internal/resilience"
	"go.uber.org/zap"
)

// Filters narrows a search query (e.g. date range, content type). Kept as a
// free-form map per spec §9's guidance to keep only opaque passthrough
// fields loose.
type Filters map[string]string

// Provider is the capability every search/crawl backend implements.
type Provider interface {
	Name() string
	RPS() float64
	IsAvailable(ctx context.Context) bool
	Search(ctx context.Context, query string, maxResults int, filters Filters) ([]domain.Entity, error)
}

// doSearcher is the minimal transport hook a concrete provider supplies;
// BaseProvider wraps it with resilience and normalization.
type doSearcher interface {
	name() string
	rps() float64
	doSearch(ctx context.Context, query string, maxResults int, filters Filters) ([]domain.Entity, error)
}

// FailureRecorder receives AccessFailures observed during Search so Collect
// can persist them (spec §4.4, §4.5).
type FailureRecorder interface {
	RecordAccessFailure(url, provider string, kind domain.AccessFailureKind)
}

// BaseProvider implements Provider around a concrete transport (do), adding
// (a) circuit-breaker check, (b) rate-limiter acquire, (c) retry engine,
// (d) structured logging — the sequence spec §4.4 mandates.
type BaseProvider struct {
	impl     doSearcher
	breakers *resilience.BreakerRegistry
	limiter  *resilience.RateLimiter
	policy   resilience.RetryPolicy
	failures FailureRecorder
	logger   *zap.Logger
}

// NewBaseProvider wraps impl with the shared resilience stack. breakers and
// limiter are process-wide and shared across every provider instance so
// circuit isolation (spec §8.7) holds.
func NewBaseProvider(impl doSearcher, breakers *resilience.BreakerRegistry, limiter *resilience.RateLimiter, failures FailureRecorder, logger *zap.Logger) *BaseProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BaseProvider{
		impl:     impl,
		breakers: breakers,
		limiter:  limiter,
		policy:   resilience.DefaultRetryPolicy(),
		failures: failures,
		logger:   logger.With(zap.String("component", "search_provider"), zap.String("provider", impl.name())),
	}
}

func (p *BaseProvider) Name() string { return p.impl.name() }
func (p *BaseProvider) RPS() float64 { return p.impl.rps() }

func (p *BaseProvider) IsAvailable(ctx context.Context) bool {
	return p.breakers.CanExecute(p.impl.name())
}

// Search never returns an error except for context cancellation; transport
// failures are converted to an empty result plus a recorded AccessFailure
// (spec §4.4, §7).
func (p *BaseProvider) Search(ctx context.Context, query string, maxResults int, filters Filters) ([]domain.Entity, error) {
	name := p.impl.name()

	if !p.breakers.CanExecute(name) {
		p.logger.Info("circuit open, skipping provider", zap.String("reason", "circuit_open"))
		return nil, nil
	}

	if err := p.limiter.Acquire(ctx, name, p.impl.rps()); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, nil
	}

	start := time.Now()
	var results []domain.Entity
	err := resilience.Do(ctx, p.policy, func(ctx context.Context) error {
		out, err := p.impl.doSearch(ctx, query, maxResults, filters)
		if err != nil {
			return err
		}
		results = out
		return nil
	})

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.breakers.RecordFailure(name)
		if p.failures != nil {
			p.failures.RecordAccessFailure(query, name, classifyFailure(err))
		}
		p.logger.Warn("search failed, degrading to empty result",
			zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return nil, nil
	}

	p.breakers.RecordSuccess(name)
	for i := range results {
		results[i].URL = domain.NormalizeURL(results[i].URL)
		results[i].Provider = name
		results[i].RetrievedAt = start
	}
	p.logger.Debug("search succeeded", zap.Int("results", len(results)), zap.Duration("elapsed", time.Since(start)))
	return results, nil
}

func classifyFailure(err error) domain.AccessFailureKind {
	var statusErr *resilience.HTTPStatusError
	if asHTTPStatusError(err, &statusErr) {
		if statusErr.StatusCode == 403 || statusErr.StatusCode == 429 {
			return domain.AccessFailureBlocked
		}
		return domain.AccessFailureHTTPError
	}
	return domain.AccessFailureTimeout
}

func asHTTPStatusError(err error, target **resilience.HTTPStatusError) bool {
	for err != nil {
		if se, ok := err.(*resilience.HTTPStatusError); ok {
			*target = se
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
