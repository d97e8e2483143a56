// Package pipeline implements the eight research pipeline nodes (C9):
// Clarify, Plan, Collect, Process, Analyze, Verify, Evaluate, Synthesize.
// Each node is a uniform capability over a session: it mutates the parts of
// the session it owns and returns the phase the orchestrator should
// transition to next. Nodes never self-transition; they only recommend.
package pipeline

import (
	"context"

	"github.com/deepresearch/orchestrator/domain"
)

// Result is a node's verdict: the phase the orchestrator should move to,
// and a fatal/policy error if one occurred. Degradable errors (provider
// failure, parse failure, timeout) are handled inside the node and folded
// into session metrics instead of being returned here (spec §7: "nodes
// surface only fatal and policy errors to the orchestrator").
type Result struct {
	NextPhase domain.Phase
	Err       error
}

// Node is the uniform pipeline capability: session -> (delta, next_phase).
// The delta is applied directly to sess since session mutation is
// single-writer by the active node (spec §5); Node has no separate
// "apply" step.
type Node interface {
	Name() string
	Run(ctx context.Context, sess *domain.Session) Result
}
