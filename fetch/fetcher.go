// Package fetch implements the Content Fetcher (C5): a headless-browser
// fetch with stealth configuration, extraction to plain text, and a
// per-host concurrency cap. A failed fetch never aborts the session — it
// returns empty content with the failure classified, so the caller can
// record an AccessFailure and keep the entity's snippet intact.
package fetch

import (
	"context"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"github.com/deepresearch/orchestrator/internal/metrics"
	"go.uber.org/zap"
)

// userAgentPool is the fixed rotation pool for stealth fetches (spec §4.5,
// §9: the spec fixes the minimum stealth set but not specific UA strings —
// this is the implementer's choice).
var userAgentPool = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
}

// Result is the outcome of a single fetch.
type Result struct {
	URL   string
	Text  string
	Err   error
	Kind  FailureKind
}

// FailureKind classifies why a fetch produced no content.
type FailureKind string

const (
	FailureNone    FailureKind = ""
	FailureTimeout FailureKind = "timeout"
	FailureBlocked FailureKind = "blocked"
	FailureOther   FailureKind = "other"
)

// Driver is the minimal browser-navigation capability a Fetcher drives;
// ChromeDPDriver is the production implementation.
type Driver interface {
	Navigate(ctx context.Context, targetURL, userAgent string) (html string, err error)
	Close() error
}

// StealthConfig holds the minimum stealth set spec §4.5 and §9 mandate.
type StealthConfig struct {
	ViewportWidth    int
	ViewportHeight   int
	PerHostConcurrency int
	LoadTimeout      time.Duration
	IdleTimeout      time.Duration
	MinDelay         time.Duration
	MaxDelay         time.Duration
}

// DefaultStealthConfig matches spec §4.5's minimums.
func DefaultStealthConfig() StealthConfig {
	return StealthConfig{
		ViewportWidth:      1366,
		ViewportHeight:     768,
		PerHostConcurrency: 1,
		LoadTimeout:        30 * time.Second,
		IdleTimeout:        10 * time.Second,
		MinDelay:           500 * time.Millisecond,
		MaxDelay:           2 * time.Second,
	}
}

// Fetcher fetches full page content with a stealth-configured driver,
// honoring a per-host concurrency cap of one in-flight navigation.
type Fetcher struct {
	driver  Driver
	cfg     StealthConfig
	metrics *metrics.Collector
	logger  *zap.Logger

	mu       sync.Mutex
	hostLock map[string]*sync.Mutex
}

// FetcherOption configures optional Fetcher collaborators.
type FetcherOption func(*Fetcher)

// WithFetchMetrics attaches a metrics.Collector; fetch attempts go
// unrecorded without one.
func WithFetchMetrics(c *metrics.Collector) FetcherOption {
	return func(f *Fetcher) { f.metrics = c }
}

// NewFetcher builds a Fetcher around driver.
func NewFetcher(driver Driver, cfg StealthConfig, logger *zap.Logger, opts ...FetcherOption) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Fetcher{
		driver:   driver,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "content_fetcher")),
		hostLock: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Fetcher) recordAttempt(kind FailureKind) {
	if f.metrics != nil {
		f.metrics.RecordFetchAttempt(string(kind))
	}
}

func (f *Fetcher) lockFor(host string) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.hostLock[host]
	if !ok {
		l = &sync.Mutex{}
		f.hostLock[host] = l
	}
	return l
}

// Fetch retrieves and extracts the main text of targetURL. It has no error
// return: a failed fetch yields a Result with empty Text, Err set, and Kind
// classifying why, so the caller can record an AccessFailure without losing
// the entity.
func (f *Fetcher) Fetch(ctx context.Context, targetURL string) Result {
	u, err := url.Parse(targetURL)
	if err != nil {
		f.recordAttempt(FailureOther)
		return Result{URL: targetURL, Kind: FailureOther, Err: err}
	}

	lock := f.lockFor(u.Host)
	lock.Lock()
	defer lock.Unlock()

	// Randomized per-page delay, spec §4.5.
	delaySpan := f.cfg.MaxDelay - f.cfg.MinDelay
	delay := f.cfg.MinDelay
	if delaySpan > 0 {
		delay += time.Duration(rand.Int63n(int64(delaySpan)))
	}
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		f.recordAttempt(FailureOther)
		return Result{URL: targetURL, Kind: FailureOther, Err: ctx.Err()}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, f.cfg.LoadTimeout)
	defer cancel()

	ua := userAgentPool[rand.Intn(len(userAgentPool))]
	html, err := f.driver.Navigate(fetchCtx, targetURL, ua)
	if err != nil {
		kind := FailureOther
		if fetchCtx.Err() != nil {
			kind = FailureTimeout
		}
		f.logger.Warn("fetch failed", zap.String("url", targetURL), zap.Error(err))
		f.recordAttempt(kind)
		return Result{URL: targetURL, Kind: kind, Err: err}
	}

	f.recordAttempt(FailureNone)
	text := ExtractMainText(html)
	return Result{URL: targetURL, Text: text}
}
