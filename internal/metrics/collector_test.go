package metrics

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
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
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.httpRequestDuration)
	assert.NotNil(t, collector.providerRequestsTotal)
	assert.NotNil(t, collector.providerRequestDuration)
	assert.NotNil(t, collector.providerTokensUsed)
	assert.NotNil(t, collector.quotaRejectionsTotal)
	assert.NotNil(t, collector.routerFailoversTotal)
	assert.NotNil(t, collector.uniquenessRegeneratedTotal)
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordHTTPRequest("GET", "/test", 200, 100*time.Millisecond, 1024, 2048)

	count := testutil.CollectAndCount(collector.httpRequestsTotal)
	assert.Greater(t, count, 0)

	collector.RecordHTTPRequest("GET", "/test", 200, 50*time.Millisecond, 512, 1024)

	newCount := testutil.CollectAndCount(collector.httpRequestsTotal)
	assert.GreaterOrEqual(t, newCount, count)
}

func TestCollector_RecordProviderRequest(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordProviderRequest("secondary", "deepseek/deepseek-chat", "success", 500*time.Millisecond, 100, 50)

	count := testutil.CollectAndCount(collector.providerRequestsTotal)
	assert.Greater(t, count, 0)

	tokensCount := testutil.CollectAndCount(collector.providerTokensUsed)
	assert.Greater(t, tokensCount, 0)
}

func TestCollector_RecordQuotaRejection(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordQuotaRejection("secondary", "quota_exhausted")

	count := testutil.CollectAndCount(collector.quotaRejectionsTotal)
	assert.Greater(t, count, 0)
}

func TestCollector_DynamicTimeoutAndRetries(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.SetDynamicTimeout("primary", 12*time.Second)
	collector.RecordRetryAttempt("primary", "rate_limited")

	timeoutCount := testutil.CollectAndCount(collector.dynamicTimeout)
	assert.Greater(t, timeoutCount, 0)

	retryCount := testutil.CollectAndCount(collector.retryAttempts)
	assert.Greater(t, retryCount, 0)
}

func TestCollector_RouterState(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordFailover("secondary", "primary")
	collector.SetRouterState("fallback")
	collector.RecordAllProvidersFailed()

	failoverCount := testutil.CollectAndCount(collector.routerFailoversTotal)
	assert.Greater(t, failoverCount, 0)

	assert.Equal(t, float64(1), testutil.ToFloat64(collector.routerStateGauge.WithLabelValues("fallback")))
	assert.Equal(t, float64(0), testutil.ToFloat64(collector.routerStateGauge.WithLabelValues("normal")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.routerAllProvidersFailed))
}

func TestCollector_UniquenessMetrics(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordRegeneration()
	collector.SetUniquenessCacheSize(42)
	collector.SetUniquenessThreshold("user-1", 0.8)

	assert.Equal(t, float64(1), testutil.ToFloat64(collector.uniquenessRegeneratedTotal))
	assert.Equal(t, float64(42), testutil.ToFloat64(collector.uniquenessCacheSize))
	assert.Equal(t, float64(0.8), testutil.ToFloat64(collector.uniquenessThreshold.WithLabelValues("user-1")))
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func(id int) {
			collector.RecordHTTPRequest("GET", "/test", 200, 100*time.Millisecond, 1024, 2048)
			collector.RecordProviderRequest("primary", "openai", "success", 500*time.Millisecond, 100, 50)
			collector.RecordQuotaRejection("secondary", "rate_limited_local")
			done <- true
		}(i)
	}

	for i := 0; i < 10; i++ {
		<-done
	}

	httpCount := testutil.CollectAndCount(collector.httpRequestsTotal)
	assert.Greater(t, httpCount, 0)

	providerCount := testutil.CollectAndCount(collector.providerRequestsTotal)
	assert.Greater(t, providerCount, 0)

	quotaCount := testutil.CollectAndCount(collector.quotaRejectionsTotal)
	assert.Greater(t, quotaCount, 0)
}

func TestCollector_MetricsRegistration(t *testing.T) {
	logger := zap.NewNop()

	registry := prometheus.NewRegistry()

	collector := NewCollector(nextTestNamespace(), logger)

	registry.MustRegister(collector.httpRequestsTotal)
	registry.MustRegister(collector.httpRequestDuration)

	collector.RecordHTTPRequest("GET", "/test", 200, 100*time.Millisecond, 0, 0)

	count := testutil.CollectAndCount(collector.httpRequestsTotal)
	assert.Greater(t, count, 0)
}
