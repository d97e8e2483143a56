package pipeline

import (
	"context"
	"sort"

	"github.com/deepresearch/orchestrator/domain"
	"github.com/deepresearch/orchestrator/fetch"
	"github.com/deepresearch/orchestrator/llm"
	"go.uber.org/zap"
)

// downgradeOnFailedReextraction is how much confidence a fact loses when
// its re-fetch/re-extraction can't reproduce it (spec §4.9.6: "facts that
// fail re-extraction are downgraded").
const downgradeOnFailedReextraction = 0.3

// VerifyNode re-fetches and re-extracts high-confidence facts for domains
// whose playbook requires verification (e.g. medical, regulatory).
type VerifyNode struct {
	fetcher *fetch.Fetcher
	router  *llm.Router
	tier    llm.Tier
	logger  *zap.Logger
}

func NewVerifyNode(fetcher *fetch.Fetcher, router *llm.Router, tier llm.Tier, logger *zap.Logger) *VerifyNode {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tier == "" {
		tier = llm.TierLocalFast
	}
	return &VerifyNode{fetcher: fetcher, router: router, tier: tier, logger: logger.With(zap.String("component", "verify_node"))}
}

func (n *VerifyNode) Name() string { return "verify" }

func (n *VerifyNode) Run(ctx context.Context, sess *domain.Session) Result {
	policy := sess.Config.Verification
	if !policy.Enabled {
		return Result{NextPhase: domain.PhaseEvaluate}
	}

	candidates := topCandidates(sess, policy)

	verified := 0
	for _, f := range candidates {
		entity, ok := sess.Entities[domain.NormalizeURL(f.Source)]
		if !ok {
			continue
		}

		result := n.fetcher.Fetch(ctx, entity.URL)
		if result.Text == "" {
			f.Confidence = downgrade(f.Confidence)
			continue
		}

		reproduced, err := n.reproduces(ctx, sess, f, result.Text)
		if err != nil || !reproduced {
			f.Confidence = downgrade(f.Confidence)
			continue
		}
		verified++
	}

	n.logger.Info("verify complete", zap.String("session", sess.ID), zap.Int("candidates", len(candidates)), zap.Int("verified", verified))
	return Result{NextPhase: domain.PhaseEvaluate}
}

// topCandidates selects the highest-confidence facts above the policy's
// threshold, capped at MaxFactsToVerify.
func topCandidates(sess *domain.Session, policy domain.VerificationPolicy) []*domain.Fact {
	var candidates []*domain.Fact
	for _, key := range domain.SortedKeys(sess.Facts) {
		f := sess.Facts[key]
		if f.Confidence >= policy.MinConfidenceToCheck {
			candidates = append(candidates, f)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Confidence > candidates[j].Confidence })
	if policy.MaxFactsToVerify > 0 && len(candidates) > policy.MaxFactsToVerify {
		candidates = candidates[:policy.MaxFactsToVerify]
	}
	return candidates
}

// reproduces re-runs extraction against freshly fetched content and checks
// whether a similar statement appears, confirming the original claim
// still holds in the primary source.
func (n *VerifyNode) reproduces(ctx context.Context, sess *domain.Session, f *domain.Fact, freshContent string) (bool, error) {
	if len(freshContent) > maxEntityChars {
		freshContent = freshContent[:maxEntityChars]
	}

	req := llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "Answer only 'yes' or 'no'."},
			{Role: llm.RoleUser, Content: "Does the following content support this statement: \"" + f.Statement + "\"?\n\n" + freshContent},
		},
		MaxTokens: 4,
	}

	out, err := n.router.Complete(ctx, n.tier, sess.PrivacyMode, req)
	if err != nil {
		return false, err
	}
	return containsYes(out), nil
}

func containsYes(s string) bool {
	for _, r := range []rune(s) {
		if r == 'y' || r == 'Y' {
			return true
		}
		if r == 'n' || r == 'N' {
			return false
		}
	}
	return false
}

func downgrade(confidence float64) float64 {
	v := confidence - downgradeOnFailedReextraction
	if v < 0.1 {
		return 0.1
	}
	return v
}
