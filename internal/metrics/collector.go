// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector owns every Prometheus series the core emits: the ambient HTTP
// surface plus the domain series for providers, routing/failover, the quota
// guard, and the uniqueness filter.
type Collector struct {
	// HTTP
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// Provider clients (C1)
	providerRequestsTotal   *prometheus.CounterVec
	providerRequestDuration *prometheus.HistogramVec
	providerTokensUsed      *prometheus.CounterVec

	// Rate & quota guard (C2)
	quotaRejectionsTotal *prometheus.CounterVec
	quotaDailyUsage      *prometheus.GaugeVec

	// Backoff/timeout controller (C3)
	dynamicTimeout  *prometheus.GaugeVec
	retryAttempts   *prometheus.CounterVec

	// Router/failover core (C4)
	routerFailoversTotal    *prometheus.CounterVec
	routerStateGauge        *prometheus.GaugeVec
	routerAllProvidersFailed prometheus.Counter

	// Uniqueness filter (C5)
	uniquenessRegeneratedTotal prometheus.Counter
	uniquenessCacheSize        prometheus.Gauge
	uniquenessThreshold        *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector registers every series under namespace and returns the
// collector. Call once per process; promauto panics on duplicate
// registration.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.providerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Total number of provider completion requests, labeled by outcome kind",
		},
		[]string{"provider", "model", "kind"},
	)

	c.providerRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Provider round-trip duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "model"},
	)

	c.providerTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_tokens_total",
			Help:      "Total tokens reported by providers",
		},
		[]string{"provider", "model", "type"}, // type: prompt, completion
	)

	c.quotaRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_rejections_total",
			Help:      "Requests rejected locally by the rate/quota guard before reaching a provider",
		},
		[]string{"provider", "reason"}, // reason: per_minute, daily, payment_required
	)

	c.quotaDailyUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "quota_daily_usage",
			Help:      "Free-tier requests consumed so far in the current UTC day",
		},
		[]string{"provider"},
	)

	c.dynamicTimeout = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dynamic_timeout_seconds",
			Help:      "Current dynamic timeout computed for a provider",
		},
		[]string{"provider"},
	)

	c.retryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_attempts_total",
			Help:      "Total retry attempts issued by the backoff controller",
		},
		[]string{"provider", "error_code"},
	)

	c.routerFailoversTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "router_failovers_total",
			Help:      "Total times the router moved on from a provider to the next candidate",
		},
		[]string{"from_provider", "to_provider"},
	)

	c.routerStateGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "router_state",
			Help:      "1 if the router is currently in the given state (normal/fallback), else 0",
		},
		[]string{"state"},
	)

	c.routerAllProvidersFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "router_all_providers_failed_total",
			Help:      "Total requests where every candidate provider failed",
		},
	)

	c.uniquenessRegeneratedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uniqueness_regenerated_total",
			Help:      "Total candidate replies the uniqueness filter flagged as too similar to recent history",
		},
	)

	c.uniquenessCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uniqueness_cache_signatures",
			Help:      "Number of response signatures currently tracked across all users",
		},
	)

	c.uniquenessThreshold = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uniqueness_adaptive_threshold",
			Help:      "Current adaptive similarity threshold for a user",
		},
		[]string{"user_id"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordHTTPRequest records one HTTP request/response cycle.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// RecordProviderRequest records one completion attempt against a provider.
func (c *Collector) RecordProviderRequest(provider, model, kind string, duration time.Duration, promptTokens, completionTokens int) {
	c.providerRequestsTotal.WithLabelValues(provider, model, kind).Inc()
	c.providerRequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	c.providerTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	c.providerTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
}

// RecordQuotaRejection records a request the guard turned away before it
// reached a provider.
func (c *Collector) RecordQuotaRejection(provider, reason string) {
	c.quotaRejectionsTotal.WithLabelValues(provider, reason).Inc()
}

// SetQuotaDailyUsage publishes the current day's free-tier counter.
func (c *Collector) SetQuotaDailyUsage(provider string, used int) {
	c.quotaDailyUsage.WithLabelValues(provider).Set(float64(used))
}

// SetDynamicTimeout publishes the controller's current computed timeout.
func (c *Collector) SetDynamicTimeout(provider string, timeout time.Duration) {
	c.dynamicTimeout.WithLabelValues(provider).Set(timeout.Seconds())
}

// RecordRetryAttempt records one backoff-scheduled retry.
func (c *Collector) RecordRetryAttempt(provider, errorCode string) {
	c.retryAttempts.WithLabelValues(provider, errorCode).Inc()
}

// RecordFailover records the router moving from one provider to the next.
func (c *Collector) RecordFailover(fromProvider, toProvider string) {
	c.routerFailoversTotal.WithLabelValues(fromProvider, toProvider).Inc()
}

// SetRouterState publishes the router's current NORMAL/FALLBACK state as a
// pair of mutually exclusive gauges.
func (c *Collector) SetRouterState(state string) {
	for _, s := range []string{"normal", "fallback"} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		c.routerStateGauge.WithLabelValues(s).Set(v)
	}
}

// RecordAllProvidersFailed records a request where every candidate failed.
func (c *Collector) RecordAllProvidersFailed() {
	c.routerAllProvidersFailed.Inc()
}

// RecordRegeneration records the uniqueness filter flagging a candidate
// reply as too similar to recent history.
func (c *Collector) RecordRegeneration() {
	c.uniquenessRegeneratedTotal.Inc()
}

// SetUniquenessCacheSize publishes the signature cache's current size.
func (c *Collector) SetUniquenessCacheSize(n int) {
	c.uniquenessCacheSize.Set(float64(n))
}

// SetUniquenessThreshold publishes a user's current adaptive threshold.
func (c *Collector) SetUniquenessThreshold(userID string, threshold float64) {
	c.uniquenessThreshold.WithLabelValues(userID).Set(threshold)
}

// statusCode buckets an HTTP status into a low-cardinality class label.
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
