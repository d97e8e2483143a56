package pipeline

import (
	"context"

	"github.com/deepresearch/orchestrator/classify"
	"github.com/deepresearch/orchestrator/domain"
	"github.com/deepresearch/orchestrator/memory"
	"go.uber.org/zap"
)

// MemoryRecaller is the narrow slice of *memory.Memory PlanNode needs:
// semantic recall of facts from earlier sessions (spec §4.7).
type MemoryRecaller interface {
	Recall(ctx context.Context, queryEmbedding memory.Embedding, dom domain.Domain, topK int) ([]memory.VectorMatch, error)
}

// recallTopK bounds how many prior facts Plan seeds a session with.
const recallTopK = 5

// PlanNode consults domain classification, persisted playbook overrides and
// recalled memory before committing the session to a provider list and
// saturation targets; persisted source effectiveness is read later, by
// search.Selector during Collect
// (spec §4.9.2: "consult memory before planning — this is a protocol
// invariant").
type PlanNode struct {
	classifier *classify.Classifier
	playbooks  *classify.PlaybookLoader
	recall     MemoryRecaller
	embed      memory.EmbedFunc
	logger     *zap.Logger
}

func NewPlanNode(classifier *classify.Classifier, playbooks *classify.PlaybookLoader, recall MemoryRecaller, embed memory.EmbedFunc, logger *zap.Logger) *PlanNode {
	if logger == nil {
		logger = zap.NewNop()
	}
	if embed == nil {
		embed = memory.EmbedText
	}
	return &PlanNode{
		classifier: classifier,
		playbooks:  playbooks,
		recall:     recall,
		embed:      embed,
		logger:     logger.With(zap.String("component", "plan_node")),
	}
}

func (n *PlanNode) Name() string { return "plan" }

func (n *PlanNode) Run(ctx context.Context, sess *domain.Session) Result {
	sess.Domain = n.classifier.Classify(ctx, sess.RefinedQuery, sess.PrivacyMode)

	// playbooks.Get applies persisted domain overrides before any provider
	// list is fixed.
	cfg := n.playbooks.Get(ctx, sess.Domain)
	sess.Config = cfg

	if sess.Budgets.MaxCycles == 0 {
		sess.Budgets.MaxCycles = cfg.MaxCycles
	}

	if n.recall != nil {
		matches, err := n.recall.Recall(ctx, n.embed(sess.RefinedQuery), sess.Domain, recallTopK)
		if err != nil {
			n.logger.Warn("recall failed", zap.String("session", sess.ID), zap.Error(err))
		} else {
			recalled := make([]string, 0, len(matches))
			for _, m := range matches {
				recalled = append(recalled, m.Record.Text)
			}
			sess.RecalledFacts = recalled
		}
	}

	n.logger.Info("plan complete",
		zap.String("session", sess.ID),
		zap.String("domain", string(sess.Domain)),
		zap.Strings("preferred_providers", cfg.PreferredProviders),
		zap.Float64("saturation_threshold", cfg.SaturationThreshold),
		zap.Int("recalled_facts", len(sess.RecalledFacts)),
	)

	return Result{NextPhase: domain.PhaseCollect}
}
