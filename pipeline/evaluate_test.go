package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/deepresearch/orchestrator/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEvaluateSession(cfg domain.DomainConfiguration, budgets domain.Budgets) *domain.Session {
	sess := domain.NewSession("sess-eval", "query", domain.PrivacyCloudAllowed, time.Now())
	sess.Config = cfg
	sess.Budgets = budgets
	return sess
}

func TestEvaluateStopsOnSaturation(t *testing.T) {
	sess := newEvaluateSession(
		domain.DomainConfiguration{MinCycles: 1, MaxCycles: 10, SaturationThreshold: 0.5},
		domain.Budgets{MaxCycles: 10},
	)
	// No new entities/facts since last snapshot -> ratios are 0, overall == 1.
	sess.PrevCycleEntities = 0
	sess.PrevCycleFacts = 0

	node := NewEvaluateNode(nil)
	result := node.Run(context.Background(), sess)

	require.Equal(t, domain.PhaseSynthesize, result.NextPhase)
	assert.Equal(t, domain.StopSaturationReached, sess.StopReason)
}

func TestEvaluateLoopsBackBelowMinCycles(t *testing.T) {
	sess := newEvaluateSession(
		domain.DomainConfiguration{MinCycles: 3, MaxCycles: 10, SaturationThreshold: 0.1},
		domain.Budgets{MaxCycles: 10},
	)

	node := NewEvaluateNode(nil)
	result := node.Run(context.Background(), sess)

	require.Equal(t, domain.PhaseCollect, result.NextPhase)
	assert.Empty(t, sess.StopReason)
	assert.Equal(t, 1, sess.Cycle)
}

func TestEvaluateStopsOnMaxCycles(t *testing.T) {
	sess := newEvaluateSession(
		domain.DomainConfiguration{MinCycles: 1, MaxCycles: 1, SaturationThreshold: 1.5},
		domain.Budgets{MaxCycles: 1},
	)

	node := NewEvaluateNode(nil)
	result := node.Run(context.Background(), sess)

	require.Equal(t, domain.PhaseSynthesize, result.NextPhase)
	assert.Equal(t, domain.StopMaxCycles, sess.StopReason)
}

func TestEvaluateStopsOnCancellation(t *testing.T) {
	sess := newEvaluateSession(
		domain.DomainConfiguration{MinCycles: 5, MaxCycles: 10, SaturationThreshold: 0.1},
		domain.Budgets{MaxCycles: 10},
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	node := NewEvaluateNode(nil)
	result := node.Run(ctx, sess)

	require.Equal(t, domain.PhaseSynthesize, result.NextPhase)
	assert.Equal(t, domain.StopCancelled, sess.StopReason)
}

func TestComputeSaturationBoundsAreClamped(t *testing.T) {
	sess := newEvaluateSession(domain.DomainConfiguration{}, domain.Budgets{})
	entity1 := &domain.Entity{URL: "https://a.example.com"}
	entity2 := &domain.Entity{URL: "https://b.example.com"}
	sess.Entities[entity1.URL] = entity1
	sess.Entities[entity2.URL] = entity2
	sess.PrevCycleEntities = 0

	metrics := computeSaturation(sess)
	assert.GreaterOrEqual(t, metrics.Overall, 0.0)
	assert.LessOrEqual(t, metrics.Overall, 1.0)
}

func TestRefineQueryAddsGapTermsOnContradiction(t *testing.T) {
	sess := newEvaluateSession(domain.DomainConfiguration{}, domain.Budgets{})
	sess.RefinedQuery = "original query"
	sess.OriginalQuery = "original query"
	factA := &domain.Fact{ID: "a", Statement: "acme corp was founded in 2010"}
	factB := &domain.Fact{ID: "b", Statement: "acme corp was founded in 2015"}
	sess.Contradictions = []*domain.Contradiction{{FactA: factA, FactB: factB, Kind: domain.ConflictYear}}

	refined := refineQuery(sess)
	assert.NotEqual(t, sess.OriginalQuery, refined)
	assert.Contains(t, refined, "acme")
}
