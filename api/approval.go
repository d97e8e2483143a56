package api

import (
	"context"
	"fmt"
	"sync"
)

// ApprovalGate is a channel-backed orchestrator.ApprovalGate: the Driver
// blocks on AwaitApproval after Clarify, before Plan, until the
// /research/{id}/approve handler (or a Stop) signals it, or ctx is
// cancelled.
type ApprovalGate struct {
	mu      sync.Mutex
	pending map[string]chan error
}

// NewApprovalGate builds an empty gate.
func NewApprovalGate() *ApprovalGate {
	return &ApprovalGate{pending: make(map[string]chan error)}
}

// AwaitApproval blocks until Approve/Reject is called for sessionID or ctx
// is done.
func (g *ApprovalGate) AwaitApproval(ctx context.Context, sessionID string) error {
	ch := make(chan error, 1)
	g.mu.Lock()
	g.pending[sessionID] = ch
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.pending, sessionID)
		g.mu.Unlock()
	}()

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Approve releases a pending session to continue to Plan.
func (g *ApprovalGate) Approve(sessionID string) error {
	return g.resolve(sessionID, nil)
}

// Reject releases a pending session with an error, failing the session.
func (g *ApprovalGate) Reject(sessionID string, reason error) error {
	if reason == nil {
		reason = fmt.Errorf("api: clarification rejected")
	}
	return g.resolve(sessionID, reason)
}

func (g *ApprovalGate) resolve(sessionID string, err error) error {
	g.mu.Lock()
	ch, ok := g.pending[sessionID]
	g.mu.Unlock()
	if !ok {
		return ErrNoPendingApproval
	}
	ch <- err
	return nil
}

// ErrNoPendingApproval is returned when approving/rejecting a session that
// isn't currently awaiting approval.
var ErrNoPendingApproval = fmt.Errorf("api: no session pending approval")
