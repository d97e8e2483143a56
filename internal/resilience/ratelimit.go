package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrBudgetExceeded is returned by Acquire when a caller-supplied deadline
// elapses before a token becomes available. The limiter itself never
// rejects a request outright; it only backpressures.
var ErrBudgetExceeded = errors.New("resilience: budget exceeded waiting for rate limit token")

// bucket is an independent token bucket; no cross-key lock is ever taken.
type bucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newBucket(rps float64, burst int) *bucket {
	if burst <= 0 {
		burst = 1
	}
	return &bucket{
		capacity:   float64(burst),
		tokens:     float64(burst),
		refillRate: rps,
		lastRefill: time.Now(),
	}
}

func (b *bucket) refill() {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
}

// tryTake attempts to take one token, returning ok=true on success and the
// wait duration until the next token would be available otherwise.
func (b *bucket) tryTake() (ok bool, wait time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	if b.refillRate <= 0 {
		return false, time.Second
	}
	deficit := 1 - b.tokens
	return false, time.Duration(deficit/b.refillRate*1000) * time.Millisecond
}

// RateLimiter is a per-key token bucket. Keys are provider names; each
// key's bucket is independent with no global lock (spec §4.1).
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	burst   int
}

// NewRateLimiter creates a rate limiter whose buckets default to the given
// burst capacity when first seen for a key.
func NewRateLimiter(defaultBurst int) *RateLimiter {
	if defaultBurst <= 0 {
		defaultBurst = 1
	}
	return &RateLimiter{buckets: make(map[string]*bucket), burst: defaultBurst}
}

func (r *RateLimiter) bucketFor(key string, rps float64) *bucket {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buckets[key]
	if !ok {
		b = newBucket(rps, r.burst)
		r.buckets[key] = b
	}
	return b
}

// Acquire blocks the caller until a token for key is available, or until
// ctx is done, in which case it returns ErrBudgetExceeded (if ctx carries a
// deadline) or the context's own error.
func (r *RateLimiter) Acquire(ctx context.Context, key string, rps float64) error {
	b := r.bucketFor(key, rps)
	for {
		ok, wait := b.tryTake()
		if ok {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			if _, hasDeadline := ctx.Deadline(); hasDeadline {
				return ErrBudgetExceeded
			}
			return ctx.Err()
		case <-timer.C:
		}
	}
}
