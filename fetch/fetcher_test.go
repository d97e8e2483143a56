package fetch

import (
	"context"
	"errors"
	"testing"

	"github.com/deepresearch/orchestrator/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcherDriver struct {
	html string
	err  error
}

func (d *fakeFetcherDriver) Navigate(ctx context.Context, targetURL, userAgent string) (string, error) {
	return d.html, d.err
}
func (d *fakeFetcherDriver) Close() error { return nil }

func noDelayConfig() StealthConfig {
	cfg := DefaultStealthConfig()
	cfg.MinDelay = 0
	cfg.MaxDelay = 0
	return cfg
}

func TestFetchRecordsSuccessMetric(t *testing.T) {
	driver := &fakeFetcherDriver{html: "<html><body><p>hello world</p></body></html>"}
	collector := metrics.NewCollector("test_fetch_success", nil)
	fetcher := NewFetcher(driver, noDelayConfig(), nil, WithFetchMetrics(collector))

	result := fetcher.Fetch(context.Background(), "https://example.com/a")

	require.NoError(t, result.Err)
	assert.Contains(t, result.Text, "hello world")

	count, err := testutil.GatherAndCount(prometheus.DefaultGatherer, "test_fetch_success_content_fetch_attempts_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestFetchRecordsFailureMetric(t *testing.T) {
	driver := &fakeFetcherDriver{err: errors.New("blocked")}
	collector := metrics.NewCollector("test_fetch_failure", nil)
	fetcher := NewFetcher(driver, noDelayConfig(), nil, WithFetchMetrics(collector))

	result := fetcher.Fetch(context.Background(), "https://example.com/b")

	assert.Error(t, result.Err)
	assert.Equal(t, FailureOther, result.Kind)

	count, err := testutil.GatherAndCount(prometheus.DefaultGatherer, "test_fetch_failure_content_fetch_attempts_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
