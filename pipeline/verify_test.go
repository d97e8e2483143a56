package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/deepresearch/orchestrator/domain"
	"github.com/deepresearch/orchestrator/fetch"
	"github.com/deepresearch/orchestrator/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDriver struct {
	html string
	err  error
}

func (d *fakeDriver) Navigate(ctx context.Context, targetURL, userAgent string) (string, error) {
	return d.html, d.err
}
func (d *fakeDriver) Close() error { return nil }

type fakeVerifyBackend struct {
	name     string
	response string
}

func (f *fakeVerifyBackend) Name() string                      { return f.name }
func (f *fakeVerifyBackend) Available(ctx context.Context) bool { return true }
func (f *fakeVerifyBackend) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	return f.response, nil
}
func (f *fakeVerifyBackend) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk, 1)
	ch <- llm.StreamChunk{Done: true}
	close(ch)
	return ch, nil
}

func noDelayStealthConfig() fetch.StealthConfig {
	cfg := fetch.DefaultStealthConfig()
	cfg.MinDelay = 0
	cfg.MaxDelay = 0
	return cfg
}

func newVerifySession(policy domain.VerificationPolicy) *domain.Session {
	sess := domain.NewSession("sess-verify", "is drug x approved", domain.PrivacyCloudAllowed, time.Now())
	sess.Config.Verification = policy
	fact := &domain.Fact{ID: "f1", Statement: "drug x is approved", Source: "https://example.com/a", Confidence: 0.9}
	sess.Facts[domain.FactHash(fact.Statement)] = fact
	sess.Entities[domain.NormalizeURL(fact.Source)] = &domain.Entity{URL: domain.NormalizeURL(fact.Source)}
	return sess
}

func TestVerifySkipsWhenDisabled(t *testing.T) {
	sess := newVerifySession(domain.VerificationPolicy{Enabled: false})
	node := NewVerifyNode(nil, nil, "", nil)
	result := node.Run(context.Background(), sess)
	require.Equal(t, domain.PhaseEvaluate, result.NextPhase)
}

func TestVerifyKeepsConfidenceWhenReproduced(t *testing.T) {
	sess := newVerifySession(domain.VerificationPolicy{Enabled: true, MinConfidenceToCheck: 0.5, MaxFactsToVerify: 5})

	driver := &fakeDriver{html: "<html><body>Drug X received approval this year.</body></html>"}
	fetcher := fetch.NewFetcher(driver, noDelayStealthConfig(), nil)

	backend := &fakeVerifyBackend{name: "fake", response: "yes"}
	router := llm.NewRouter(map[llm.Tier][]llm.Backend{llm.TierLocalFast: {backend}}, nil)

	node := NewVerifyNode(fetcher, router, llm.TierLocalFast, nil)
	result := node.Run(context.Background(), sess)

	require.Equal(t, domain.PhaseEvaluate, result.NextPhase)
	fact := sess.Facts[domain.FactHash("drug x is approved")]
	assert.InDelta(t, 0.9, fact.Confidence, 1e-9)
}

func TestVerifyDowngradesWhenNotReproduced(t *testing.T) {
	sess := newVerifySession(domain.VerificationPolicy{Enabled: true, MinConfidenceToCheck: 0.5, MaxFactsToVerify: 5})

	driver := &fakeDriver{html: "<html><body>Unrelated content about weather.</body></html>"}
	fetcher := fetch.NewFetcher(driver, noDelayStealthConfig(), nil)

	backend := &fakeVerifyBackend{name: "fake", response: "no"}
	router := llm.NewRouter(map[llm.Tier][]llm.Backend{llm.TierLocalFast: {backend}}, nil)

	node := NewVerifyNode(fetcher, router, llm.TierLocalFast, nil)
	node.Run(context.Background(), sess)

	fact := sess.Facts[domain.FactHash("drug x is approved")]
	assert.InDelta(t, 0.6, fact.Confidence, 1e-9)
}

func TestVerifyDowngradesOnFetchFailure(t *testing.T) {
	sess := newVerifySession(domain.VerificationPolicy{Enabled: true, MinConfidenceToCheck: 0.5, MaxFactsToVerify: 5})

	driver := &fakeDriver{html: ""}
	fetcher := fetch.NewFetcher(driver, noDelayStealthConfig(), nil)

	node := NewVerifyNode(fetcher, nil, llm.TierLocalFast, nil)
	node.Run(context.Background(), sess)

	fact := sess.Facts[domain.FactHash("drug x is approved")]
	assert.InDelta(t, 0.6, fact.Confidence, 1e-9)
}
