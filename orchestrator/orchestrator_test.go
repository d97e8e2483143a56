package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/deepresearch/orchestrator/domain"
	"github.com/deepresearch/orchestrator/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeNode runs fn, recording every invocation for assertions.
type fakeNode struct {
	name string
	fn   func(sess *domain.Session) pipeline.Result
	runs int
}

func (n *fakeNode) Name() string { return n.name }
func (n *fakeNode) Run(ctx context.Context, sess *domain.Session) pipeline.Result {
	n.runs++
	return n.fn(sess)
}

func always(next domain.Phase) func(sess *domain.Session) pipeline.Result {
	return func(sess *domain.Session) pipeline.Result { return pipeline.Result{NextPhase: next} }
}

func newTestNodes() (Nodes, *fakeNode, *fakeNode) {
	evaluateCalls := 0
	evaluate := &fakeNode{name: "evaluate"}
	evaluate.fn = func(sess *domain.Session) pipeline.Result {
		evaluateCalls++
		if evaluateCalls < 2 {
			return pipeline.Result{NextPhase: domain.PhaseCollect}
		}
		sess.StopReason = domain.StopSaturationReached
		return pipeline.Result{NextPhase: domain.PhaseSynthesize}
	}

	synth := &fakeNode{name: "synthesize", fn: func(sess *domain.Session) pipeline.Result {
		sess.Report = &domain.Report{SessionID: sess.ID}
		return pipeline.Result{NextPhase: domain.PhaseExport}
	}}

	nodes := Nodes{
		Clarify:    &fakeNode{name: "clarify", fn: always(domain.PhasePlan)},
		Plan:       &fakeNode{name: "plan", fn: always(domain.PhaseCollect)},
		Collect:    &fakeNode{name: "collect", fn: always(domain.PhaseProcess)},
		Process:    &fakeNode{name: "process", fn: always(domain.PhaseAnalyze)},
		Analyze:    &fakeNode{name: "analyze", fn: always(domain.PhaseVerify)},
		Verify:     &fakeNode{name: "verify", fn: always(domain.PhaseEvaluate)},
		Evaluate:   evaluate,
		Synthesize: synth,
	}
	return nodes, evaluate, synth
}

func TestDriverRunsFullHappyPathToComplete(t *testing.T) {
	nodes, evaluate, synth := newTestNodes()
	driver := NewDriver(nodes, nil, nil)

	sess := domain.NewSession("s1", "what is the market size", domain.PrivacyCloudAllowed, time.Now())

	var events []Event
	driver.Start(context.Background(), sess, nil, func(e Event) { events = append(events, e) })

	assert.Equal(t, domain.PhaseComplete, sess.Phase)
	assert.Equal(t, domain.StopSaturationReached, sess.StopReason)
	assert.Equal(t, 2, evaluate.runs)
	assert.Equal(t, 1, synth.runs)
	require.NotEmpty(t, events)
	assert.Equal(t, EventDone, events[len(events)-1].Type)
}

func TestDriverInvokesExportBeforeComplete(t *testing.T) {
	nodes, _, _ := newTestNodes()
	driver := NewDriver(nodes, nil, nil)
	sess := domain.NewSession("s2", "what is the market size", domain.PrivacyCloudAllowed, time.Now())

	exported := false
	driver.Start(context.Background(), sess, func(ctx context.Context, s *domain.Session) error {
		exported = true
		return nil
	}, nil)

	assert.True(t, exported)
	assert.Equal(t, domain.PhaseComplete, sess.Phase)
}

func TestDriverFailsSessionOnNodeError(t *testing.T) {
	nodes, _, _ := newTestNodes()
	boom := errors.New("boom")
	nodes.Collect = &fakeNode{name: "collect", fn: func(sess *domain.Session) pipeline.Result {
		return pipeline.Result{NextPhase: domain.PhaseFailed, Err: boom}
	}}
	driver := NewDriver(nodes, nil, nil)
	sess := domain.NewSession("s3", "what is the market size", domain.PrivacyCloudAllowed, time.Now())

	driver.Start(context.Background(), sess, nil, nil)

	assert.Equal(t, domain.PhaseFailed, sess.Phase)
	assert.Equal(t, domain.StopFatalError, sess.StopReason)
	assert.ErrorIs(t, sess.Err, boom)
}

func TestDriverStopsOnCancellationBeforeNodeRuns(t *testing.T) {
	nodes, _, _ := newTestNodes()
	driver := NewDriver(nodes, nil, nil)
	sess := domain.NewSession("s4", "what is the market size", domain.PrivacyCloudAllowed, time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	driver.Start(ctx, sess, nil, nil)

	assert.Equal(t, domain.PhaseFailed, sess.Phase)
	assert.Equal(t, domain.StopCancelled, sess.StopReason)
}

type alwaysApprove struct{}

func (alwaysApprove) AwaitApproval(ctx context.Context, sessionID string) error { return nil }

func TestDriverWaitsForApprovalOnAwaitingApproval(t *testing.T) {
	nodes, _, _ := newTestNodes()
	nodes.Clarify = &fakeNode{name: "clarify", fn: always(domain.PhaseAwaitingApproval)}
	driver := NewDriver(nodes, alwaysApprove{}, nil)
	sess := domain.NewSession("s5", "idk", domain.PrivacyCloudAllowed, time.Now())

	driver.Start(context.Background(), sess, nil, nil)

	assert.Equal(t, domain.PhaseComplete, sess.Phase)
}

type fakeLearner struct {
	calls int
	last  *domain.Session
}

func (l *fakeLearner) Learn(ctx context.Context, sess *domain.Session) error {
	l.calls++
	l.last = sess
	return nil
}

func TestDriverInvokesLearnerAtTerminalPhase(t *testing.T) {
	nodes, _, _ := newTestNodes()
	learner := &fakeLearner{}
	driver := NewDriver(nodes, nil, nil, WithLearner(learner))
	sess := domain.NewSession("s7", "what is the market size", domain.PrivacyCloudAllowed, time.Now())

	driver.Start(context.Background(), sess, nil, nil)

	assert.Equal(t, domain.PhaseComplete, sess.Phase)
	assert.Equal(t, 1, learner.calls)
	assert.Equal(t, sess.ID, learner.last.ID)
}

func TestDriverGetReturnsTrackedSession(t *testing.T) {
	nodes, _, _ := newTestNodes()
	driver := NewDriver(nodes, nil, nil)
	sess := domain.NewSession("s6", "what is the market size", domain.PrivacyCloudAllowed, time.Now())

	driver.Start(context.Background(), sess, nil, nil)

	got, ok := driver.Get("s6")
	require.True(t, ok)
	assert.Equal(t, sess.ID, got.ID)

	_, ok = driver.Get("missing")
	assert.False(t, ok)
}
