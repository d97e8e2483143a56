package pipeline

import (
	"context"
	"sort"
	"sync"

	"github.com/deepresearch/orchestrator/domain"
	"github.com/deepresearch/orchestrator/fetch"
	"github.com/deepresearch/orchestrator/search"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// FailureRecorder persists AccessFailures observed during Collect, and
// answers how many times a (url, provider) pair has already failed, so
// Collect can skip known-dead endpoints (spec §4.9.3).
type FailureRecorder interface {
	RecordAccessFailure(url, provider string, kind domain.AccessFailureKind)
	RecentFailureCount(ctx context.Context, url, provider string) int
}

// maxRecentFailures is the failure count past which Collect skips a
// (url, provider) pair outright, mirroring the circuit breaker's own
// consecutive-failure threshold (resilience.DefaultBreakerConfig).
const maxRecentFailures = 5

// CollectNode fans a query out to the session's ranked providers
// concurrently, merges results deterministically by normalized URL, and
// enriches the top-K merged entities via the Content Fetcher.
type CollectNode struct {
	selector    *search.Selector
	fetcher     *fetch.Fetcher
	failures    FailureRecorder
	enrichTopK  int
	maxResults  int
	logger      *zap.Logger
}

// NewCollectNode builds a CollectNode. enrichTopK bounds how many merged
// entities get a full-content fetch per cycle (spec §4.9.3: "enrich top-K
// entities").
func NewCollectNode(selector *search.Selector, fetcher *fetch.Fetcher, failures FailureRecorder, enrichTopK, maxResultsPerProvider int, logger *zap.Logger) *CollectNode {
	if logger == nil {
		logger = zap.NewNop()
	}
	if enrichTopK <= 0 {
		enrichTopK = 10
	}
	if maxResultsPerProvider <= 0 {
		maxResultsPerProvider = 10
	}
	return &CollectNode{
		selector:   selector,
		fetcher:    fetcher,
		failures:   failures,
		enrichTopK: enrichTopK,
		maxResults: maxResultsPerProvider,
		logger:     logger.With(zap.String("component", "collect_node")),
	}
}

func (n *CollectNode) Name() string { return "collect" }

func (n *CollectNode) Run(ctx context.Context, sess *domain.Session) Result {
	ranked := n.selector.Rank(ctx, sess.Config)
	providers := make([]search.Provider, 0, len(ranked))
	for _, p := range ranked {
		if n.failures != nil && n.failures.RecentFailureCount(ctx, sess.RefinedQuery, p.Name()) >= maxRecentFailures {
			sess.ProvidersSkipped = append(sess.ProvidersSkipped, p.Name())
			continue
		}
		providers = append(providers, p)
	}
	if len(providers) == 0 {
		n.logger.Warn("no providers available for collect cycle", zap.String("session", sess.ID))
		return Result{NextPhase: domain.PhaseProcess}
	}

	priority := make(map[string]int, len(providers))
	for i, p := range providers {
		priority[p.Name()] = i
	}

	maxConcurrent := n.selector.MaxConcurrent()
	if maxConcurrent > len(providers) {
		maxConcurrent = len(providers)
	}

	var mu sync.Mutex
	byProvider := make(map[string][]domain.Entity, len(providers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)

	for _, p := range providers {
		p := p
		g.Go(func() error {
			results, err := p.Search(gctx, sess.RefinedQuery, n.maxResults, nil)
			if err != nil {
				// Only cancellation propagates past the provider's own
				// resilience wrapper (spec §4.4).
				return err
			}
			mu.Lock()
			byProvider[p.Name()] = results
			sess.ProvidersQueried = append(sess.ProvidersQueried, p.Name())
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			sess.StopReason = domain.StopCancelled
			return Result{NextPhase: domain.PhaseFailed, Err: err}
		}
	}

	merged := mergeByURL(byProvider, priority)

	newCount := 0
	for _, e := range merged {
		key := e.URL
		if _, exists := sess.Entities[key]; exists {
			continue
		}
		sess.Entities[key] = e
		sess.EntityOrder = append(sess.EntityOrder, key)
		newCount++
	}

	// Stable order independent of provider response timing (spec §4.9.3).
	sort.Strings(sess.EntityOrder)

	n.enrichTopEntities(ctx, sess)

	n.logger.Info("collect cycle complete",
		zap.String("session", sess.ID),
		zap.Int("new_entities", newCount),
		zap.Int("total_entities", sess.TotalEntities()),
	)

	return Result{NextPhase: domain.PhaseProcess}
}

// mergeByURL resolves duplicate URLs across providers by higher provider
// priority, then higher per-result score (spec §4.9.3).
func mergeByURL(byProvider map[string][]domain.Entity, priority map[string]int) map[string]*domain.Entity {
	best := make(map[string]*domain.Entity)
	bestRank := make(map[string]int)

	for provider, entities := range byProvider {
		rank := priority[provider]
		for i := range entities {
			e := entities[i]
			key := domain.NormalizeURL(e.URL)
			e.URL = key

			if _, exists := best[key]; !exists {
				cp := e
				best[key] = &cp
				bestRank[key] = rank
				continue
			}

			if rank < bestRank[key] {
				cp := e
				best[key] = &cp
				bestRank[key] = rank
			} else if rank == bestRank[key] && e.Score > best[key].Score {
				cp := e
				best[key] = &cp
			}
		}
	}
	return best
}

// enrichTopEntities fetches full content for up to enrichTopK entities
// that don't already have it, bounded by the fetcher's own per-host
// concurrency cap.
func (n *CollectNode) enrichTopEntities(ctx context.Context, sess *domain.Session) {
	if n.fetcher == nil {
		return
	}

	candidates := make([]string, 0, n.enrichTopK)
	for _, key := range sess.EntityOrder {
		e := sess.Entities[key]
		if e.FullText != "" {
			continue
		}
		candidates = append(candidates, key)
		if len(candidates) >= n.enrichTopK {
			break
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	for _, key := range candidates {
		key := key
		g.Go(func() error {
			entity := sess.Entities[key]
			if n.failures != nil && n.failures.RecentFailureCount(gctx, entity.URL, entity.Provider) >= maxRecentFailures {
				mu.Lock()
				sess.ProvidersSkipped = append(sess.ProvidersSkipped, entity.Provider)
				mu.Unlock()
				return nil
			}
			result := n.fetcher.Fetch(gctx, entity.URL)

			mu.Lock()
			defer mu.Unlock()
			if result.Text != "" {
				entity.FullText = result.Text
				return nil
			}
			sess.FetchFailures++
			if n.failures != nil {
				n.failures.RecordAccessFailure(entity.URL, entity.Provider, failureKindFor(result.Kind))
			}
			return nil
		})
	}
	_ = g.Wait() // individual fetch failures are degradable, never fatal
}

func failureKindFor(k fetch.FailureKind) domain.AccessFailureKind {
	switch k {
	case fetch.FailureTimeout:
		return domain.AccessFailureTimeout
	case fetch.FailureBlocked:
		return domain.AccessFailureBlocked
	default:
		return domain.AccessFailureHTTPError
	}
}
