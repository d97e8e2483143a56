package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/deepresearch/orchestrator/domain"
	"github.com/deepresearch/orchestrator/internal/metrics"
	"github.com/deepresearch/orchestrator/internal/resilience"
	"github.com/pkoukk/tiktoken-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// PolicyViolation is returned when a session's privacy mode forbids the
// selected tier. No remote call is ever attempted when this is returned.
type PolicyViolation struct {
	Tier domain.PrivacyMode
}

func (e *PolicyViolation) Error() string {
	return fmt.Sprintf("llm: tier violates privacy mode %q", e.Tier)
}

// ErrNoBackend is returned when a tier has no registered, available backend
// and fallback is exhausted.
var ErrNoBackend = errors.New("llm: no available backend for tier")

// fallbackOrder is the tier degradation chain used when the chosen tier's
// backend is unavailable and privacy permits falling further.
var fallbackOrder = map[Tier][]Tier{
	TierCloudBest:     {TierCloudBest, TierLocalPowerful, TierLocalFast},
	TierLocalPowerful: {TierLocalPowerful, TierLocalFast},
	TierLocalFast:     {TierLocalFast},
}

// Router selects a backend for a logical tier and executes completions
// under the session's privacy policy, retrying transient failures and
// tracking circuit state per backend name.
type Router struct {
	backends map[Tier][]Backend
	breakers *resilience.BreakerRegistry
	limiter  *resilience.RateLimiter
	policy   resilience.RetryPolicy
	budget   *TokenBudget
	metrics  *metrics.Collector
	tracer   trace.Tracer
	logger   *zap.Logger
}

// RouterOption configures a Router at construction time.
type RouterOption func(*Router)

// WithRetryPolicy overrides the default retry policy used for backend calls.
func WithRetryPolicy(p resilience.RetryPolicy) RouterOption {
	return func(r *Router) { r.policy = p }
}

// WithMetrics attaches a metrics.Collector; completions go unrecorded
// without one.
func WithMetrics(c *metrics.Collector) RouterOption {
	return func(r *Router) { r.metrics = c }
}

// WithTracer attaches an OpenTelemetry tracer; completions go unspanned
// without one.
func WithTracer(t trace.Tracer) RouterOption {
	return func(r *Router) { r.tracer = t }
}

// NewRouter builds a router over the given tier->backend registrations.
func NewRouter(backends map[Tier][]Backend, logger *zap.Logger, opts ...RouterOption) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Router{
		backends: backends,
		breakers: resilience.NewBreakerRegistry(resilience.DefaultBreakerConfig(), logger),
		limiter:  resilience.NewRateLimiter(4),
		policy:   resilience.DefaultRetryPolicy(),
		budget:   NewTokenBudget(0),
		logger:   logger.With(zap.String("component", "llm_router")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetBudget installs a token budget the router enforces across calls.
func (r *Router) SetBudget(maxTokens int) { r.budget = NewTokenBudget(maxTokens) }

// Select implements the model-selection decision tree (spec §4.6):
// sensitive signals or local-only privacy force a local tier; high
// complexity with cloud allowed selects cloud-best; otherwise local-fast.
func Select(taskComplexity float64, privacy domain.PrivacyMode, sensitive bool) Tier {
	if sensitive || privacy == domain.PrivacyLocalOnly {
		if taskComplexity >= 0.6 {
			return TierLocalPowerful
		}
		return TierLocalFast
	}
	if taskComplexity >= 0.6 {
		return TierCloudBest
	}
	return TierLocalFast
}

// resolve walks the fallback chain for tier, honoring privacy and returning
// the first available backend, or ErrNoBackend.
func (r *Router) resolve(ctx context.Context, tier Tier, privacy domain.PrivacyMode) (Backend, error) {
	if privacy == domain.PrivacyLocalOnly && !tier.IsLocal() {
		return nil, &PolicyViolation{Tier: privacy}
	}

	for _, candidate := range fallbackOrder[tier] {
		if privacy == domain.PrivacyLocalOnly && !candidate.IsLocal() {
			continue
		}
		for _, b := range r.backends[candidate] {
			if !r.breakers.CanExecute(b.Name()) {
				continue
			}
			if b.Available(ctx) {
				return b, nil
			}
		}
	}
	return nil, ErrNoBackend
}

// Complete runs a non-streaming completion under tier, enforcing the
// privacy invariant before any backend is touched.
func (r *Router) Complete(ctx context.Context, tier Tier, privacy domain.PrivacyMode, req CompletionRequest) (string, error) {
	var span trace.Span
	if r.tracer != nil {
		ctx, span = r.tracer.Start(ctx, "llm.complete")
		span.SetAttributes(attribute.String("tier", string(tier)))
		defer span.End()
	}

	start := time.Now()
	result, err := r.complete(ctx, tier, privacy, req)
	duration := time.Since(start)

	if r.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		r.metrics.RecordLLMRequest(string(tier), status, duration, r.budget.CountTokens(result))
	}
	if span != nil && err != nil {
		span.SetStatus(codes.Error, err.Error())
	}

	return result, err
}

// complete is Complete's unwrapped body, split out so instrumentation never
// has to duplicate the privacy/budget/resolve/retry sequence.
func (r *Router) complete(ctx context.Context, tier Tier, privacy domain.PrivacyMode, req CompletionRequest) (string, error) {
	if privacy == domain.PrivacyLocalOnly && !tier.IsLocal() {
		return "", &PolicyViolation{Tier: privacy}
	}
	if r.budget != nil {
		if err := r.budget.Reserve(req.Messages); err != nil {
			return "", err
		}
	}

	backend, err := r.resolve(ctx, tier, privacy)
	if err != nil {
		return "", err
	}

	var result string
	err = resilience.Do(ctx, r.policy, func(ctx context.Context) error {
		if lerr := r.limiter.Acquire(ctx, backend.Name(), 2); lerr != nil {
			return lerr
		}
		out, cerr := backend.Complete(ctx, req)
		if cerr != nil {
			r.breakers.RecordFailure(backend.Name())
			return cerr
		}
		r.breakers.RecordSuccess(backend.Name())
		result = out
		return nil
	})
	if err != nil {
		r.logger.Warn("completion failed", zap.String("backend", backend.Name()), zap.Error(err))
		return "", err
	}
	return result, nil
}

// Stream runs a streaming completion under the same privacy invariant as
// Complete. The channel closes after a chunk with Done=true or Err!=nil.
func (r *Router) Stream(ctx context.Context, tier Tier, privacy domain.PrivacyMode, req CompletionRequest) (<-chan StreamChunk, error) {
	if privacy == domain.PrivacyLocalOnly && !tier.IsLocal() {
		return nil, &PolicyViolation{Tier: privacy}
	}
	backend, err := r.resolve(ctx, tier, privacy)
	if err != nil {
		return nil, err
	}
	if lerr := r.limiter.Acquire(ctx, backend.Name(), 2); lerr != nil {
		return nil, lerr
	}
	ch, err := backend.Stream(ctx, req)
	if err != nil {
		r.breakers.RecordFailure(backend.Name())
		return nil, err
	}
	r.breakers.RecordSuccess(backend.Name())
	return ch, nil
}

// Collect drains a stream into its concatenation, useful for callers that
// requested streaming but want a single string (e.g. tests).
func Collect(ch <-chan StreamChunk) (string, error) {
	var sb strings.Builder
	for chunk := range ch {
		if chunk.Err != nil {
			return sb.String(), chunk.Err
		}
		sb.WriteString(chunk.Text)
		if chunk.Done {
			break
		}
	}
	return sb.String(), nil
}

// TokenBudget enforces spec §5's max_llm_tokens session budget using
// tiktoken-go for an approximate, model-agnostic count.
type TokenBudget struct {
	max     int
	spent   int
	encoder *tiktoken.Tiktoken
}

// NewTokenBudget creates a budget; max<=0 disables enforcement.
func NewTokenBudget(max int) *TokenBudget {
	enc, _ := tiktoken.GetEncoding("cl100k_base")
	return &TokenBudget{max: max, encoder: enc}
}

// ErrBudgetExhausted is a normal stop condition (spec §5, §7), not a
// session failure.
var ErrBudgetExhausted = errors.New("llm: token budget exhausted")

// Reserve counts the tokens in messages and fails if that would exceed the
// configured maximum.
func (b *TokenBudget) Reserve(messages []Message) error {
	if b == nil || b.max <= 0 {
		return nil
	}
	count := 0
	for _, m := range messages {
		if b.encoder != nil {
			count += len(b.encoder.Encode(m.Content, nil, nil))
		} else {
			count += len(strings.Fields(m.Content))
		}
	}
	if b.spent+count > b.max {
		return ErrBudgetExhausted
	}
	b.spent += count
	return nil
}

// Spent returns tokens consumed so far.
func (b *TokenBudget) Spent() int { return b.spent }

// CountTokens returns the encoder's token count for text, used to feed
// RecordLLMRequest's token counter from a completion's response text.
func (b *TokenBudget) CountTokens(text string) int {
	if b == nil {
		return 0
	}
	if b.encoder != nil {
		return len(b.encoder.Encode(text, nil, nil))
	}
	return len(strings.Fields(text))
}
