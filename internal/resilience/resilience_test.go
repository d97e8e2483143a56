package resilience

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	reg := NewBreakerRegistry(BreakerConfig{FailureThreshold: 3, OpenDuration: time.Hour}, nil)
	for i := 0; i < 3; i++ {
		if !reg.CanExecute("p1") {
			t.Fatalf("expected closed circuit to allow execution")
		}
		reg.RecordFailure("p1")
	}
	if reg.State("p1") != StateOpen {
		t.Fatalf("expected open state, got %v", reg.State("p1"))
	}
	if reg.CanExecute("p1") {
		t.Fatalf("expected open circuit to reject execution")
	}
}

func TestBreakerIsolationAcrossProviders(t *testing.T) {
	reg := NewBreakerRegistry(BreakerConfig{FailureThreshold: 1, OpenDuration: time.Hour}, nil)
	reg.RecordFailure("providerA")
	if reg.State("providerA") != StateOpen {
		t.Fatalf("expected providerA open")
	}
	if !reg.CanExecute("providerB") {
		t.Fatalf("providerA opening must not block providerB")
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	reg := NewBreakerRegistry(BreakerConfig{FailureThreshold: 1, OpenDuration: 10 * time.Millisecond}, nil)
	reg.RecordFailure("p1")
	time.Sleep(20 * time.Millisecond)
	if !reg.CanExecute("p1") {
		t.Fatalf("expected half-open trial to be allowed")
	}
	reg.RecordSuccess("p1")
	if reg.State("p1") != StateClosed {
		t.Fatalf("expected closed after half-open success")
	}
}

func TestRateLimiterNeverRejectsWithoutDeadline(t *testing.T) {
	rl := NewRateLimiter(1)
	ctx := context.Background()
	if err := rl.Acquire(ctx, "p", 1000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRateLimiterBudgetExceeded(t *testing.T) {
	rl := NewRateLimiter(1)
	ctx := context.Background()
	// drain the single token
	if err := rl.Acquire(ctx, "slow", 0.01); err != nil {
		t.Fatalf("unexpected error on first acquire: %v", err)
	}
	deadlineCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	err := rl.Acquire(deadlineCtx, "slow", 0.01)
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("expected ErrBudgetExceeded, got %v", err)
	}
}

func TestRateLimiterIndependentKeys(t *testing.T) {
	rl := NewRateLimiter(1)
	ctx := context.Background()
	if err := rl.Acquire(ctx, "a", 0.001); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if err := rl.Acquire(ctx, "b", 1000); err != nil {
		t.Fatalf("key b must not be throttled by key a: %v", err)
	}
}

func TestRetryStopsAtMaxAttempts(t *testing.T) {
	policy := RetryPolicy{InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, MaxAttempts: 3, JitterFrac: 0}
	calls := 0
	err := Do(context.Background(), policy, func(ctx context.Context) error {
		calls++
		return &HTTPStatusError{StatusCode: 500, Err: errors.New("boom")}
	})
	if err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
	if calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", calls)
	}
}

func TestRetryFatalStopsImmediately(t *testing.T) {
	policy := DefaultRetryPolicy()
	calls := 0
	err := Do(context.Background(), policy, func(ctx context.Context) error {
		calls++
		return &HTTPStatusError{StatusCode: http.StatusUnauthorized, Err: errors.New("auth")}
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt for a fatal error, got %d", calls)
	}
}

func TestRetryHonorsRetryAfterFloor(t *testing.T) {
	policy := RetryPolicy{InitialDelay: time.Millisecond, MaxDelay: time.Second, MaxAttempts: 2, JitterFrac: 0}
	start := time.Now()
	_ = Do(context.Background(), policy, func(ctx context.Context) error {
		return &HTTPStatusError{StatusCode: 429, RetryAfter: 50 * time.Millisecond, Err: errors.New("rate limited")}
	})
	if time.Since(start) < 50*time.Millisecond {
		t.Fatalf("expected retry to honor Retry-After floor")
	}
}
