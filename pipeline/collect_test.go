package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/deepresearch/orchestrator/domain"
	"github.com/deepresearch/orchestrator/search"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCollectProvider struct {
	name    string
	entity  domain.Entity
	queried int
}

func (p *fakeCollectProvider) Name() string                       { return p.name }
func (p *fakeCollectProvider) RPS() float64                       { return 10 }
func (p *fakeCollectProvider) IsAvailable(ctx context.Context) bool { return true }
func (p *fakeCollectProvider) Search(ctx context.Context, query string, maxResults int, filters search.Filters) ([]domain.Entity, error) {
	p.queried++
	return []domain.Entity{p.entity}, nil
}

type fakeCollectFailures struct {
	recent map[string]int
}

func (f *fakeCollectFailures) RecordAccessFailure(url, provider string, kind domain.AccessFailureKind) {
}

func (f *fakeCollectFailures) RecentFailureCount(ctx context.Context, url, provider string) int {
	return f.recent[url+"|"+provider]
}

func newCollectSession() *domain.Session {
	return domain.NewSession("sess-collect", "market size estimate", domain.PrivacyCloudAllowed, time.Now())
}

func TestCollectSkipsProviderPastFailureThreshold(t *testing.T) {
	provider := &fakeCollectProvider{name: "tavily", entity: domain.Entity{URL: "https://a.example.com", Provider: "tavily"}}
	selector := search.NewSelector(nil, 4)
	selector.Register(provider)

	failures := &fakeCollectFailures{recent: map[string]int{
		"market size estimate|tavily": maxRecentFailures,
	}}

	node := NewCollectNode(selector, nil, failures, 10, 10, nil)
	sess := newCollectSession()
	sess.Config = domain.DomainConfiguration{PreferredProviders: []string{"tavily"}}

	result := node.Run(context.Background(), sess)

	require.Equal(t, domain.PhaseProcess, result.NextPhase)
	assert.Equal(t, 0, provider.queried)
	assert.Contains(t, sess.ProvidersSkipped, "tavily")
}

func TestCollectQueriesProviderBelowFailureThreshold(t *testing.T) {
	provider := &fakeCollectProvider{name: "tavily", entity: domain.Entity{URL: "https://a.example.com", Provider: "tavily"}}
	selector := search.NewSelector(nil, 4)
	selector.Register(provider)

	failures := &fakeCollectFailures{recent: map[string]int{
		"market size estimate|tavily": maxRecentFailures - 1,
	}}

	node := NewCollectNode(selector, nil, failures, 10, 10, nil)
	sess := newCollectSession()
	sess.Config = domain.DomainConfiguration{PreferredProviders: []string{"tavily"}}

	node.Run(context.Background(), sess)

	assert.Equal(t, 1, provider.queried)
	assert.NotContains(t, sess.ProvidersSkipped, "tavily")
}
