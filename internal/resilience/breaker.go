// Package resilience provides the cross-cutting fault-tolerance primitives
// shared by every outbound call in the system: a per-key circuit breaker, a
// per-key token-bucket rate limiter, and a retry engine with exponential
// backoff and jitter.
package resilience

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is a circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a single circuit breaker instance.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	OpenDuration     time.Duration // time spent open before trying half-open
}

// DefaultBreakerConfig matches spec §4.2's defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		OpenDuration:     60 * time.Second,
	}
}

// breaker is a single provider's circuit breaker.
type breaker struct {
	mu              sync.Mutex
	cfg             BreakerConfig
	state           State
	consecutiveFail int
	openedAt        time.Time
	halfOpenInFlight bool
}

func newBreaker(cfg BreakerConfig) *breaker {
	return &breaker{cfg: cfg, state: StateClosed}
}

// canExecute reports whether a call may proceed, transitioning open->half-open
// once OpenDuration has elapsed.
func (b *breaker) canExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.openedAt) >= b.cfg.OpenDuration {
			b.state = StateHalfOpen
			b.halfOpenInFlight = false
		} else {
			return false
		}
		fallthrough
	case StateHalfOpen:
		if b.halfOpenInFlight {
			return false
		}
		b.halfOpenInFlight = true
		return true
	}
	return false
}

func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFail = 0
	b.halfOpenInFlight = false
	b.state = StateClosed
}

func (b *breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.halfOpenInFlight = false

	if b.state == StateHalfOpen {
		b.state = StateOpen
		b.openedAt = time.Now()
		return
	}

	b.consecutiveFail++
	if b.consecutiveFail >= b.cfg.FailureThreshold {
		b.state = StateOpen
		b.openedAt = time.Now()
	}
}

func (b *breaker) currentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// BreakerRegistry is a process-wide, provider-keyed set of circuit
// breakers. Opening one provider's breaker never blocks calls to another
// (circuit isolation, spec §8.7).
type BreakerRegistry struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	breakers map[string]*breaker
	logger   *zap.Logger
}

// NewBreakerRegistry creates a registry sharing cfg across all keys it
// creates lazily.
func NewBreakerRegistry(cfg BreakerConfig, logger *zap.Logger) *BreakerRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BreakerRegistry{
		cfg:      cfg,
		breakers: make(map[string]*breaker),
		logger:   logger.With(zap.String("component", "circuit_breaker")),
	}
}

func (r *BreakerRegistry) get(key string) *breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[key]
	if !ok {
		b = newBreaker(r.cfg)
		r.breakers[key] = b
	}
	return b
}

// CanExecute reports whether key's circuit currently allows traffic.
func (r *BreakerRegistry) CanExecute(key string) bool {
	return r.get(key).canExecute()
}

// RecordSuccess closes key's circuit (or resets its failure counter).
func (r *BreakerRegistry) RecordSuccess(key string) {
	r.get(key).recordSuccess()
	r.logger.Debug("circuit success", zap.String("key", key))
}

// RecordFailure counts a failure toward key's threshold, opening the
// circuit once reached.
func (r *BreakerRegistry) RecordFailure(key string) {
	b := r.get(key)
	b.recordFailure()
	if b.currentState() == StateOpen {
		r.logger.Warn("circuit opened", zap.String("key", key))
	}
}

// State returns key's current circuit state.
func (r *BreakerRegistry) State(key string) State {
	return r.get(key).currentState()
}
