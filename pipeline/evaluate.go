package pipeline

import (
	"context"
	"strings"

	"github.com/deepresearch/orchestrator/domain"
	"go.uber.org/zap"
)

// saturation formula weights (spec §4.9.7):
// overall = 1 - newEntityWeight*new_entity_ratio - newFactWeight*new_fact_ratio + agreementWeight*cross_agreement
const (
	newEntityWeight = 0.5
	newFactWeight   = 0.3
	agreementWeight = 0.2
)

// EvaluateNode computes saturation metrics at the end of a cycle and
// decides whether the session stops or loops back to Collect with a
// refined query (spec §4.9.7).
type EvaluateNode struct {
	logger *zap.Logger
}

func NewEvaluateNode(logger *zap.Logger) *EvaluateNode {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EvaluateNode{logger: logger.With(zap.String("component", "evaluate_node"))}
}

func (n *EvaluateNode) Name() string { return "evaluate" }

func (n *EvaluateNode) Run(ctx context.Context, sess *domain.Session) Result {
	sess.Cycle++

	metrics := computeSaturation(sess)
	sess.Metrics = metrics

	sess.PrevCycleEntities = sess.TotalEntities()
	sess.PrevCycleFacts = sess.TotalFacts()

	n.logger.Info("evaluate cycle",
		zap.String("session", sess.ID),
		zap.Int("cycle", sess.Cycle),
		zap.Float64("overall", metrics.Overall),
	)

	if err := ctx.Err(); err != nil {
		sess.StopReason = domain.StopCancelled
		return Result{NextPhase: domain.PhaseSynthesize}
	}

	saturated := sess.Cycle >= sess.Config.MinCycles && metrics.Overall >= sess.Config.SaturationThreshold
	if saturated {
		sess.StopReason = domain.StopSaturationReached
		return Result{NextPhase: domain.PhaseSynthesize}
	}

	if sess.Cycle >= sess.Budgets.MaxCycles {
		sess.StopReason = domain.StopMaxCycles
		return Result{NextPhase: domain.PhaseSynthesize}
	}

	sess.RefinedQuery = refineQuery(sess)
	return Result{NextPhase: domain.PhaseCollect}
}

// computeSaturation applies spec §4.9.7's formula over the deltas recorded
// since the previous cycle.
func computeSaturation(sess *domain.Session) domain.SaturationMetrics {
	total := sess.TotalEntities()
	newEntities := total - sess.PrevCycleEntities
	entityRatio := 0.0
	if total > 0 {
		entityRatio = float64(newEntities) / float64(total)
	}

	totalFacts := sess.TotalFacts()
	newFacts := totalFacts - sess.PrevCycleFacts
	factRatio := 0.0
	if totalFacts > 0 {
		factRatio = float64(newFacts) / float64(totalFacts)
	}

	agreement := crossAgreement(sess.Groups)

	overall := 1 - newEntityWeight*entityRatio - newFactWeight*factRatio + agreementWeight*agreement
	if overall < 0 {
		overall = 0
	}
	if overall > 1 {
		overall = 1
	}

	return domain.SaturationMetrics{
		NewEntityRatio: entityRatio,
		NewFactRatio:   factRatio,
		CrossAgreement: agreement,
		Overall:        overall,
	}
}

// crossAgreement is the mean AgreementScore across groups with corroborating
// facts from more than one source; a session with no corroborated groups
// yet contributes zero.
func crossAgreement(groups []*domain.FactGroup) float64 {
	var sum float64
	var n int
	for _, g := range groups {
		if len(g.UniqueSources) < 2 {
			continue
		}
		sum += g.AgreementScore
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// refineQuery appends terms drawn from unresolved contradictions so the
// next Collect cycle specifically seeks sources that might resolve them
// (spec §4.9.7: "refined query + unresolved-gap terms").
func refineQuery(sess *domain.Session) string {
	if len(sess.Contradictions) == 0 {
		return sess.RefinedQuery
	}

	terms := make(map[string]bool)
	for _, c := range sess.Contradictions {
		for _, tok := range strings.Fields(c.FactA.Statement) {
			terms[tok] = true
		}
	}

	var gap []string
	for _, key := range domain.SortedKeys(terms) {
		gap = append(gap, key)
		if len(gap) >= 5 {
			break
		}
	}
	if len(gap) == 0 {
		return sess.RefinedQuery
	}
	return sess.OriginalQuery + " " + strings.Join(gap, " ")
}
