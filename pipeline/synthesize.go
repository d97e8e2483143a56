package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/deepresearch/orchestrator/domain"
	"github.com/deepresearch/orchestrator/llm"
	"go.uber.org/zap"
)

// SynthesizeNode produces the final Report: an executive summary, a
// confidence-sorted list of Findings, a methodology block, and a
// limitations list that names what wasn't found and why the session
// stopped (spec §4.9.8).
type SynthesizeNode struct {
	router *llm.Router
	tier   llm.Tier
	clock  func() time.Time
	logger *zap.Logger
}

func NewSynthesizeNode(router *llm.Router, tier llm.Tier, clock func() time.Time, logger *zap.Logger) *SynthesizeNode {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tier == "" {
		tier = llm.TierLocalPowerful
	}
	if clock == nil {
		clock = time.Now
	}
	return &SynthesizeNode{router: router, tier: tier, clock: clock, logger: logger.With(zap.String("component", "synthesize_node"))}
}

func (n *SynthesizeNode) Name() string { return "synthesize" }

func (n *SynthesizeNode) Run(ctx context.Context, sess *domain.Session) Result {
	findings := buildFindings(sess)

	summary, err := n.summarize(ctx, sess, findings)
	if err != nil {
		n.logger.Warn("summary generation failed, falling back to extractive summary", zap.Error(err))
		summary = fallbackSummary(findings)
	}

	sess.Report = &domain.Report{
		SessionID:           sess.ID,
		Query:               sess.OriginalQuery,
		Domain:              sess.Domain,
		Summary:             summary,
		Findings:            findings,
		Sources:             buildSources(sess),
		Methodology:         buildMethodology(sess),
		Limitations:         buildLimitations(sess),
		ContradictionsFound: len(sess.Contradictions),
		OverallConfidence:   meanConfidence(findings),
		GeneratedAt:         n.clock(),
	}

	n.logger.Info("synthesize complete", zap.String("session", sess.ID), zap.Int("findings", len(findings)))
	return Result{NextPhase: domain.PhaseExport}
}

// buildFindings converts every Fact into a report-ready Finding, sorted by
// descending confidence (spec §4.9.8).
func buildFindings(sess *domain.Session) []domain.Finding {
	findings := make([]domain.Finding, 0, len(sess.Facts))
	for _, key := range domain.SortedKeys(sess.Facts) {
		f := sess.Facts[key]
		findings = append(findings, domain.Finding{
			Statement:         f.Statement,
			Confidence:        f.Confidence,
			Source:            f.Source,
			SupportingSources: f.SupportingSources,
		})
	}
	sort.SliceStable(findings, func(i, j int) bool { return findings[i].Confidence > findings[j].Confidence })
	return findings
}

func buildSources(sess *domain.Session) []domain.SourceRef {
	sources := make([]domain.SourceRef, 0, len(sess.EntityOrder))
	for _, key := range sess.EntityOrder {
		e := sess.Entities[key]
		sources = append(sources, domain.SourceRef{URL: e.URL, Title: e.Title, Type: e.Provider})
	}
	return sources
}

func buildMethodology(sess *domain.Session) domain.Methodology {
	return domain.Methodology{
		SourcesQueried:    dedupeStrings(sess.ProvidersQueried),
		EntitiesFound:     sess.TotalEntities(),
		FactsExtracted:    sess.TotalFacts(),
		SaturationMetrics: sess.Metrics,
		StopReason:        sess.StopReason,
	}
}

// buildLimitations names what the session didn't resolve and why it
// stopped, per spec §4.9.8's "limitations list including what was NOT
// found and why it stopped".
func buildLimitations(sess *domain.Session) []string {
	var out []string

	switch sess.StopReason {
	case domain.StopMaxCycles:
		out = append(out, "research stopped after reaching the maximum cycle budget before saturation was reached")
	case domain.StopCancelled:
		out = append(out, "research was cancelled before completion")
	case domain.StopNoProgress:
		out = append(out, "research stopped after consecutive cycles produced no new entities or facts")
	case domain.StopFatalError:
		out = append(out, "research stopped early due to an unrecoverable error")
	}

	if len(sess.Contradictions) > 0 {
		out = append(out, fmt.Sprintf("%d unresolved contradiction(s) remain among collected facts", len(sess.Contradictions)))
	}
	if sess.FetchFailures > 0 {
		out = append(out, fmt.Sprintf("%d source(s) could not be fetched and were excluded from extraction", sess.FetchFailures))
	}
	return out
}

func meanConfidence(findings []domain.Finding) float64 {
	if len(findings) == 0 {
		return 0
	}
	var sum float64
	for _, f := range findings {
		sum += f.Confidence
	}
	return sum / float64(len(findings))
}

// summarize asks the LLM for a 2-3 paragraph executive summary grounded in
// the sorted findings (spec §4.9.8).
func (n *SynthesizeNode) summarize(ctx context.Context, sess *domain.Session, findings []domain.Finding) (string, error) {
	if n.router == nil {
		return "", fmt.Errorf("pipeline: no router configured for synthesis")
	}

	top := findings
	if len(top) > 15 {
		top = top[:15]
	}

	var sb strings.Builder
	for _, f := range top {
		sb.WriteString(fmt.Sprintf("- (%.2f) %s\n", f.Confidence, f.Statement))
	}

	prompt := fmt.Sprintf(
		"Research question: %s\n\nKey findings, most confident first:\n%s\n"+
			"Write a 2-3 paragraph executive summary synthesizing these findings for a reader who hasn't seen the raw data. "+
			"Be direct about uncertainty where confidence is low.",
		sess.OriginalQuery, sb.String(),
	)

	req := llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You write clear, well-hedged research summaries."},
			{Role: llm.RoleUser, Content: prompt},
		},
		Temperature: 0.3,
		MaxTokens:   600,
	}

	return n.router.Complete(ctx, n.tier, sess.PrivacyMode, req)
}

// fallbackSummary builds an extractive summary from the top findings when
// the LLM is unavailable, so synthesis never fails outright.
func fallbackSummary(findings []domain.Finding) string {
	if len(findings) == 0 {
		return "No findings were extracted during this research session."
	}
	top := findings
	if len(top) > 5 {
		top = top[:5]
	}
	var sb strings.Builder
	sb.WriteString("Summary unavailable from the language model; top findings by confidence:\n")
	for _, f := range top {
		sb.WriteString(fmt.Sprintf("- %s\n", f.Statement))
	}
	return sb.String()
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
