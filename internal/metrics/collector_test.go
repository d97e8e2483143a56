package metrics

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

func TestNewCollector(t *testing.T) {
	c := NewCollector(nextTestNamespace(), zap.NewNop())

	assert.NotNil(t, c)
	assert.NotNil(t, c.httpRequestsTotal)
	assert.NotNil(t, c.nodeExecutionsTotal)
	assert.NotNil(t, c.providerRequestsTotal)
	assert.NotNil(t, c.llmRequestsTotal)
	assert.NotNil(t, c.fetchAttemptsTotal)
}

func TestNewCollectorAcceptsNilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		NewCollector(nextTestNamespace(), nil)
	})
}

func TestRecordHTTPRequest(t *testing.T) {
	c := NewCollector(nextTestNamespace(), zap.NewNop())

	c.RecordHTTPRequest("GET", "/research/start", 201, 50*time.Millisecond)
	c.RecordHTTPRequest("GET", "/research/start", 500, 10*time.Millisecond)

	count := testutil.CollectAndCount(c.httpRequestsTotal)
	assert.Equal(t, 2, count)
}

func TestRecordNodeExecution(t *testing.T) {
	c := NewCollector(nextTestNamespace(), zap.NewNop())

	c.RecordNodeExecution("collect", "ok", 2*time.Second)
	c.RecordNodeExecution("verify", "error", 500*time.Millisecond)

	count := testutil.CollectAndCount(c.nodeExecutionsTotal)
	assert.Equal(t, 2, count)

	durationCount := testutil.CollectAndCount(c.nodeExecutionDuration)
	assert.Equal(t, 2, durationCount)
}

func TestRecordProviderRequest(t *testing.T) {
	c := NewCollector(nextTestNamespace(), zap.NewNop())

	c.RecordProviderRequest("tavily", "ok", 300*time.Millisecond)
	c.RecordProviderRequest("brave", "timeout", time.Second)

	count := testutil.CollectAndCount(c.providerRequestsTotal)
	assert.Equal(t, 2, count)
}

func TestRecordLLMRequest(t *testing.T) {
	c := NewCollector(nextTestNamespace(), zap.NewNop())

	c.RecordLLMRequest("local_powerful", "ok", time.Second, 1200)

	requestCount := testutil.CollectAndCount(c.llmRequestsTotal)
	assert.Equal(t, 1, requestCount)

	tokensCount := testutil.CollectAndCount(c.llmTokensUsed)
	assert.Equal(t, 1, tokensCount)
	assert.InDelta(t, 1200, testutil.ToFloat64(c.llmTokensUsed.WithLabelValues("local_powerful")), 0.001)
}

func TestRecordFetchAttemptDefaultsToSuccess(t *testing.T) {
	c := NewCollector(nextTestNamespace(), zap.NewNop())

	c.RecordFetchAttempt("")
	c.RecordFetchAttempt("robots_disallowed")

	count := testutil.CollectAndCount(c.fetchAttemptsTotal)
	assert.Equal(t, 2, count)
	assert.InDelta(t, 1, testutil.ToFloat64(c.fetchAttemptsTotal.WithLabelValues("success")), 0.001)
}

func TestSetSessionsActiveAndByPhase(t *testing.T) {
	c := NewCollector(nextTestNamespace(), zap.NewNop())

	c.SetSessionsActive(3)
	assert.InDelta(t, 3, testutil.ToFloat64(c.sessionsActive), 0.001)

	c.SetSessionsByPhase("collect", 2)
	assert.InDelta(t, 2, testutil.ToFloat64(c.sessionsByPhase.WithLabelValues("collect")), 0.001)
}

func TestStatusClass(t *testing.T) {
	cases := map[int]string{
		200: "2xx",
		301: "3xx",
		404: "4xx",
		503: "5xx",
		0:   "unknown",
	}
	for code, want := range cases {
		assert.Equal(t, want, statusClass(code))
	}
}

func TestConcurrentRecording(t *testing.T) {
	c := NewCollector(nextTestNamespace(), zap.NewNop())

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			c.RecordNodeExecution("collect", "ok", 10*time.Millisecond)
			c.RecordLLMRequest("local_powerful", "ok", 10*time.Millisecond, 10)
			c.RecordFetchAttempt("")
			done <- struct{}{}
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	assert.Greater(t, testutil.CollectAndCount(c.nodeExecutionsTotal), 0)
}
