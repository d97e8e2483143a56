package search

import (
	"context"
	"sort"
	"sync"

	"github.com/deepresearch/orchestrator/domain"
)

// EffectivenessSource supplies the persisted (domain, provider) -> EMA score
// used to break ties beyond static playbook priority (spec §4.4, §7).
type EffectivenessSource interface {
	Effectiveness(domain domain.Domain, provider string) (score float64, ok bool)
}

// Selector orders and fans a query out across the subset of registered
// providers a domain's playbook prefers, honoring circuit state and a
// concurrency cap (spec §4.4: "sort by priority, then effectiveness, then
// circuit health; run up to N concurrently").
type Selector struct {
	mu            sync.RWMutex
	providers     map[string]Provider
	effectiveness EffectivenessSource
	maxConcurrent int
}

// NewSelector builds a Selector. effectiveness may be nil, in which case
// ties fall back to playbook order alone.
func NewSelector(effectiveness EffectivenessSource, maxConcurrent int) *Selector {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Selector{
		providers:     make(map[string]Provider),
		effectiveness: effectiveness,
		maxConcurrent: maxConcurrent,
	}
}

// Register adds a provider under its own name, replacing any prior
// registration with the same name.
func (s *Selector) Register(p Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[p.Name()] = p
}

type rankedProvider struct {
	provider    Provider
	priority    int // lower index in preferred list = higher priority
	effectiveness float64
	healthy     bool
}

// Rank orders the providers preferred by cfg for querying: playbook
// priority first, then persisted effectiveness descending, then circuit
// health (closed/half-open before unavailable). Unregistered preferred
// providers are skipped silently — a domain playbook may name a provider
// that was never wired into this process.
func (s *Selector) Rank(ctx context.Context, cfg domain.DomainConfiguration) []Provider {
	s.mu.RLock()
	defer s.mu.RUnlock()

	preferred := cfg.PreferredProviders
	if len(preferred) == 0 {
		for name := range s.providers {
			preferred = append(preferred, name)
		}
	}

	ranked := make([]rankedProvider, 0, len(preferred))
	for i, name := range preferred {
		p, ok := s.providers[name]
		if !ok {
			continue
		}
		eff := 0.0
		if s.effectiveness != nil {
			if score, ok := s.effectiveness.Effectiveness(cfg.Domain, name); ok {
				eff = score
			}
		}
		ranked = append(ranked, rankedProvider{
			provider:      p,
			priority:      i,
			effectiveness: eff,
			healthy:       p.IsAvailable(ctx),
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].priority != ranked[j].priority {
			return ranked[i].priority < ranked[j].priority
		}
		if ranked[i].effectiveness != ranked[j].effectiveness {
			return ranked[i].effectiveness > ranked[j].effectiveness
		}
		return ranked[i].healthy && !ranked[j].healthy // healthy providers sort first
	})

	out := make([]Provider, len(ranked))
	for i, r := range ranked {
		out[i] = r.provider
	}
	return out
}

// MaxConcurrent returns the configured fan-out concurrency cap.
func (s *Selector) MaxConcurrent() int { return s.maxConcurrent }
