package pipeline

import (
	"context"
	"strings"

	"github.com/deepresearch/orchestrator/domain"
)

// minQueryWords is the under-specification threshold (spec §4.9.1: "length
// < threshold, no nouns, explicit ambiguity markers").
const minQueryWords = 3

// ambiguityMarkers are explicit hedges that signal the user themself is
// unsure what they're asking.
var ambiguityMarkers = []string{"something about", "i guess", "not sure", "whatever you can find", "idk"}

// ClarifyNode decides whether a query needs human clarification before
// planning proceeds. Clarification is requested only for an empty query, a
// query of fewer than minQueryWords words, or one containing an explicit
// ambiguity marker; every other query proceeds unchanged (spec §4.9.1).
type ClarifyNode struct{}

func NewClarifyNode() *ClarifyNode { return &ClarifyNode{} }

func (n *ClarifyNode) Name() string { return "clarify" }

func (n *ClarifyNode) Run(ctx context.Context, sess *domain.Session) Result {
	query := strings.TrimSpace(sess.OriginalQuery)

	if needsClarification(query) {
		return Result{NextPhase: domain.PhaseAwaitingApproval}
	}

	sess.RefinedQuery = query
	return Result{NextPhase: domain.PhasePlan}
}

func needsClarification(query string) bool {
	if query == "" {
		return true
	}
	words := strings.Fields(query)
	if len(words) < minQueryWords {
		return true
	}
	lower := strings.ToLower(query)
	for _, marker := range ambiguityMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
