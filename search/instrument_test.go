package search

import (
	"context"
	"errors"
	"testing"

	"github.com/deepresearch/orchestrator/domain"
	"github.com/deepresearch/orchestrator/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInstrumentedProvider struct {
	name    string
	results []domain.Entity
	err     error
	calls   int
}

func (p *fakeInstrumentedProvider) Name() string                        { return p.name }
func (p *fakeInstrumentedProvider) RPS() float64                        { return 5 }
func (p *fakeInstrumentedProvider) IsAvailable(ctx context.Context) bool { return true }
func (p *fakeInstrumentedProvider) Search(ctx context.Context, query string, maxResults int, filters Filters) ([]domain.Entity, error) {
	p.calls++
	return p.results, p.err
}

func TestInstrumentPassesThroughWithNoCollaborators(t *testing.T) {
	inner := &fakeInstrumentedProvider{name: "tavily"}
	wrapped := Instrument(inner, nil, nil)

	assert.Same(t, inner, wrapped)
}

func TestInstrumentRecordsProviderMetric(t *testing.T) {
	inner := &fakeInstrumentedProvider{name: "tavily", results: []domain.Entity{{URL: "https://a.example.com"}}}
	collector := metrics.NewCollector("test_instrument_ok", nil)
	wrapped := Instrument(inner, collector, nil)

	results, err := wrapped.Search(context.Background(), "q", 5, nil)

	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, "tavily", wrapped.Name())

	count, err := testutil.GatherAndCount(prometheus.DefaultGatherer, "test_instrument_ok_search_provider_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestInstrumentRecordsProviderErrorMetric(t *testing.T) {
	inner := &fakeInstrumentedProvider{name: "brave", err: errors.New("boom")}
	collector := metrics.NewCollector("test_instrument_err", nil)
	wrapped := Instrument(inner, collector, nil)

	_, err := wrapped.Search(context.Background(), "q", 5, nil)

	assert.Error(t, err)
	assert.Equal(t, 1, inner.calls)

	count, gatherErr := testutil.GatherAndCount(prometheus.DefaultGatherer, "test_instrument_err_search_provider_requests_total")
	require.NoError(t, gatherErr)
	assert.Equal(t, 1, count)
}
