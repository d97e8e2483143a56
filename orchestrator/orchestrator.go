// Package orchestrator drives a research Session through the pipeline's
// phase sequence, emitting progress events, honoring cooperative
// cancellation, and recording exactly one stop reason per completed
// session.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/deepresearch/orchestrator/domain"
	"github.com/deepresearch/orchestrator/internal/metrics"
	"github.com/deepresearch/orchestrator/pipeline"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// trackedPhases is the fixed set of phases refreshGauges reports counts for.
var trackedPhases = []domain.Phase{
	domain.PhaseStarting,
	domain.PhaseClarify,
	domain.PhaseAwaitingApproval,
	domain.PhasePlan,
	domain.PhaseCollect,
	domain.PhaseProcess,
	domain.PhaseAnalyze,
	domain.PhaseVerify,
	domain.PhaseEvaluate,
	domain.PhaseSynthesize,
	domain.PhaseExport,
	domain.PhaseComplete,
	domain.PhaseFailed,
}

// EventType enumerates the kinds of progress events a Driver emits. These
// map directly onto the API layer's websocket message kinds.
type EventType string

const (
	EventPhase EventType = "phase"
	EventStats EventType = "stats"
	EventDone  EventType = "done"
	EventError EventType = "error"
)

// Event is a single progress notification for one session.
type Event struct {
	Type      EventType       `json:"type"`
	SessionID string          `json:"session_id"`
	Phase     domain.Phase    `json:"phase,omitempty"`
	Cycle     int             `json:"cycle,omitempty"`
	Stats     map[string]int  `json:"stats,omitempty"`
	Err       string          `json:"error,omitempty"`
	At        time.Time       `json:"at"`
}

// Emitter receives Driver progress events. A nil Emitter is valid; events
// are simply dropped.
type Emitter func(Event)

// nodeSequence is the fixed phase -> Node lookup the Driver advances
// through. Collect/Process/Analyze/Verify/Evaluate repeat as a cycle until
// Evaluate routes to Synthesize.
type nodeSequence struct {
	clarify    pipeline.Node
	plan       pipeline.Node
	collect    pipeline.Node
	process    pipeline.Node
	analyze    pipeline.Node
	verify     pipeline.Node
	evaluate   pipeline.Node
	synthesize pipeline.Node
}

// ApprovalGate decides whether a session pending clarification may proceed
// to planning. Production wiring backs this with the API's approve
// endpoint; tests can supply an always-approve gate.
type ApprovalGate interface {
	AwaitApproval(ctx context.Context, sessionID string) error
}

// Learner closes the feedback loop once a session completes: source
// effectiveness updates and vector-store writes (spec §4.7, §4.10).
// memory.Learner satisfies this.
type Learner interface {
	Learn(ctx context.Context, sess *domain.Session) error
}

// Driver runs one Session at a time through the pipeline state machine
// (spec §5): idle -> starting -> clarify -> (awaiting_approval?) -> plan ->
// {collect -> process -> analyze -> verify? -> evaluate}* -> synthesize ->
// export -> complete | failed.
type Driver struct {
	nodes    nodeSequence
	approval ApprovalGate
	learner  Learner
	metrics  *metrics.Collector
	tracer   trace.Tracer
	logger   *zap.Logger

	mu       sync.Mutex
	sessions map[string]*domain.Session
}

// DriverOption configures optional Driver collaborators.
type DriverOption func(*Driver)

// WithLearner attaches the post-run learning step. Without one, sessions
// complete without updating source effectiveness or vector recall.
func WithLearner(l Learner) DriverOption {
	return func(d *Driver) { d.learner = l }
}

// WithMetrics attaches a metrics.Collector; node executions and session
// gauges go unrecorded without one.
func WithMetrics(c *metrics.Collector) DriverOption {
	return func(d *Driver) { d.metrics = c }
}

// WithTracer attaches an OpenTelemetry tracer; node Run calls go unspanned
// without one.
func WithTracer(t trace.Tracer) DriverOption {
	return func(d *Driver) { d.tracer = t }
}

// Nodes bundles the eight pipeline nodes a Driver advances through. Export
// is the Driver's own responsibility (report persistence is orthogonal to
// the node pipeline), not a pipeline.Node.
type Nodes struct {
	Clarify    pipeline.Node
	Plan       pipeline.Node
	Collect    pipeline.Node
	Process    pipeline.Node
	Analyze    pipeline.Node
	Verify     pipeline.Node
	Evaluate   pipeline.Node
	Synthesize pipeline.Node
}

// ExportFunc persists a completed session's Report (spec §4.9.9). Errors
// are logged but never flip a completed session back to failed.
type ExportFunc func(ctx context.Context, sess *domain.Session) error

func NewDriver(n Nodes, approval ApprovalGate, logger *zap.Logger, opts ...DriverOption) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Driver{
		nodes: nodeSequence{
			clarify:    n.Clarify,
			plan:       n.Plan,
			collect:    n.Collect,
			process:    n.Process,
			analyze:    n.Analyze,
			verify:     n.Verify,
			evaluate:   n.Evaluate,
			synthesize: n.Synthesize,
		},
		approval: approval,
		logger:   logger.With(zap.String("component", "orchestrator")),
		sessions: make(map[string]*domain.Session),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start begins driving sess from PhaseIdle. It runs synchronously; callers
// that want background execution should invoke it in a goroutine and track
// completion via Session (use Get to poll, or subscribe via emit).
func (d *Driver) Start(ctx context.Context, sess *domain.Session, export ExportFunc, emit Emitter) {
	d.mu.Lock()
	d.sessions[sess.ID] = sess
	d.mu.Unlock()

	sess.Phase = domain.PhaseStarting
	d.emit(emit, sess, EventPhase)

	d.run(ctx, sess, export, emit)
}

// Get returns a tracked session by ID.
func (d *Driver) Get(sessionID string) (*domain.Session, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sess, ok := d.sessions[sessionID]
	return sess, ok
}

// run is the phase-transition loop. Exactly one node owns sess's mutation
// at any instant (spec §5's single-writer invariant) — the Driver itself
// never mutates Facts/Entities/Groups, only Phase/StopReason/Err.
func (d *Driver) run(ctx context.Context, sess *domain.Session, export ExportFunc, emit Emitter) {
	phase := domain.PhaseClarify
	sess.Phase = phase

	for {
		if err := ctx.Err(); err != nil && phase != domain.PhaseFailed {
			sess.StopReason = domain.StopCancelled
			sess.Phase = domain.PhaseFailed
			d.emit(emit, sess, EventError)
			return
		}

		node, terminal := d.nodeFor(phase)
		if terminal {
			break
		}

		sess.Phase = phase
		d.emit(emit, sess, EventPhase)

		if phase == domain.PhaseClarify {
			result := d.runNode(ctx, node, sess)
			if result.Err != nil {
				d.fail(sess, result.Err, emit)
				return
			}
			if result.NextPhase == domain.PhaseAwaitingApproval {
				sess.Phase = domain.PhaseAwaitingApproval
				d.emit(emit, sess, EventPhase)
				if d.approval != nil {
					if err := d.approval.AwaitApproval(ctx, sess.ID); err != nil {
						sess.StopReason = domain.StopCancelled
						d.fail(sess, err, emit)
						return
					}
				}
			}
			phase = domain.PhasePlan
			continue
		}

		result := d.runNode(ctx, node, sess)
		if result.Err != nil {
			d.fail(sess, result.Err, emit)
			return
		}
		d.emit(emit, sess, EventStats)
		phase = result.NextPhase
	}

	sess.Phase = domain.PhaseExport
	d.emit(emit, sess, EventPhase)
	if export != nil {
		if err := export(ctx, sess); err != nil {
			d.logger.Warn("export failed", zap.String("session", sess.ID), zap.Error(err))
		}
	}
	if d.learner != nil {
		if err := d.learner.Learn(ctx, sess); err != nil {
			d.logger.Warn("learn failed", zap.String("session", sess.ID), zap.Error(err))
		}
	}

	if sess.StopReason == "" {
		sess.StopReason = domain.StopSaturationReached
	}
	sess.Phase = domain.PhaseComplete
	d.emit(emit, sess, EventDone)
}

// nodeFor resolves the Node for a non-terminal phase. Export, Complete,
// Failed and any unknown phase are terminal to this loop; the Export that
// Synthesize recommends is handled by run itself.
func (d *Driver) nodeFor(phase domain.Phase) (pipeline.Node, bool) {
	switch phase {
	case domain.PhasePlan:
		return d.nodes.plan, false
	case domain.PhaseCollect:
		return d.nodes.collect, false
	case domain.PhaseProcess:
		return d.nodes.process, false
	case domain.PhaseAnalyze:
		return d.nodes.analyze, false
	case domain.PhaseVerify:
		return d.nodes.verify, false
	case domain.PhaseEvaluate:
		return d.nodes.evaluate, false
	case domain.PhaseSynthesize:
		return d.nodes.synthesize, false
	case domain.PhaseClarify:
		return d.nodes.clarify, false
	case domain.PhaseExport, domain.PhaseComplete, domain.PhaseFailed:
		return nil, true
	default:
		return nil, true
	}
}

// runNode executes node.Run wrapped in a span and a node-execution metric,
// when a tracer/collector is configured.
func (d *Driver) runNode(ctx context.Context, node pipeline.Node, sess *domain.Session) pipeline.Result {
	name := node.Name()

	var span trace.Span
	if d.tracer != nil {
		ctx, span = d.tracer.Start(ctx, "pipeline."+name)
		defer span.End()
	}

	start := time.Now()
	result := node.Run(ctx, sess)
	duration := time.Since(start)

	if d.metrics != nil {
		status := "ok"
		if result.Err != nil {
			status = "error"
		}
		d.metrics.RecordNodeExecution(name, status, duration)
	}

	if span != nil && result.Err != nil {
		span.SetStatus(codes.Error, result.Err.Error())
	}

	return result
}

// refreshGauges publishes the active-session count and per-phase session
// counts to the metrics collector.
func (d *Driver) refreshGauges() {
	d.mu.Lock()
	counts := make(map[domain.Phase]int, len(trackedPhases))
	active := 0
	for _, sess := range d.sessions {
		counts[sess.Phase]++
		if sess.Phase != domain.PhaseComplete && sess.Phase != domain.PhaseFailed {
			active++
		}
	}
	d.mu.Unlock()

	d.metrics.SetSessionsActive(active)
	for _, phase := range trackedPhases {
		d.metrics.SetSessionsByPhase(string(phase), counts[phase])
	}
}

func (d *Driver) fail(sess *domain.Session, err error, emit Emitter) {
	sess.Err = err
	if sess.StopReason == "" {
		sess.StopReason = domain.StopFatalError
	}
	sess.Phase = domain.PhaseFailed
	d.logger.Error("session failed", zap.String("session", sess.ID), zap.Error(err))
	d.emit(emit, sess, EventError)
}

func (d *Driver) emit(emit Emitter, sess *domain.Session, typ EventType) {
	if d.metrics != nil && (typ == EventPhase || typ == EventDone || typ == EventError) {
		d.refreshGauges()
	}
	if emit == nil {
		return
	}
	ev := Event{
		Type:      typ,
		SessionID: sess.ID,
		Phase:     sess.Phase,
		Cycle:     sess.Cycle,
		At:        time.Now(),
	}
	if typ == EventStats || typ == EventDone {
		ev.Stats = map[string]int{
			"entities": sess.TotalEntities(),
			"facts":    sess.TotalFacts(),
		}
	}
	if typ == EventError && sess.Err != nil {
		ev.Err = sess.Err.Error()
	}
	emit(ev)
}

// ErrSessionNotFound reports an unknown session ID. No function in this
// package returns it.
var ErrSessionNotFound = fmt.Errorf("orchestrator: session not found")
