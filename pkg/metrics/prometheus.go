// Package metrics provides Prometheus metrics for the popularity ranking service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Refresh outcome label values.
const (
	OutcomeCacheHit            = "cache_hit"
	OutcomeRefreshed           = "refreshed"
	OutcomeProviderUnavailable = "provider_unavailable"
	OutcomeProviderError       = "provider_error"
	OutcomeStoreError          = "store_error"
	OutcomeLockError           = "lock_error"
)

// Manager manages all Prometheus metrics for the ranking service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Refresh pipeline
	refreshes       *prometheus.CounterVec
	refreshDuration prometheus.Histogram
	fetchLatency    prometheus.Histogram
	fetchedItems    *prometheus.GaugeVec
	rankedItems     *prometheus.GaugeVec
	lastCommitUnix  *prometheus.GaugeVec
	lockWait        prometheus.Histogram

	// Cache
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// Store
	storeLatency *prometheus.HistogramVec
	storeErrors  *prometheus.CounterVec
	storeRetries prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorsByComponent *prometheus.CounterVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "popstats",
		subsystem:        "ranking",
		histogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)

	m.refreshes = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "refreshes_total",
		Help:      "Refresh triggers by outcome",
	}, []string{"tag", "outcome"})

	m.refreshDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "refresh_duration_milliseconds",
		Help:      "Duration of refresh cycles that reached the provider",
		Buckets:   m.histogramBuckets,
	})

	m.fetchLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "fetch_latency_milliseconds",
		Help:      "Latency of stats provider calls",
		Buckets:   m.histogramBuckets,
	})

	m.fetchedItems = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "fetched_items",
		Help:      "Items returned by the provider in the last committed cycle",
	}, []string{"tag"})

	m.rankedItems = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "ranked_items",
		Help:      "Items ranked in the last committed cycle",
	}, []string{"tag"})

	m.lastCommitUnix = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "last_commit_unix",
		Help:      "Unix time of the last committed ranking",
	}, []string{"tag"})

	m.lockWait = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "lock_wait_milliseconds",
		Help:      "Time spent waiting for the per-tag refresh guard",
		Buckets:   m.histogramBuckets,
	})

	m.cacheHits = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "cache_hits_total",
		Help:      "Ranking cache hits",
	}, []string{"tag"})

	m.cacheMisses = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "cache_misses_total",
		Help:      "Ranking cache misses",
	}, []string{"tag"})

	m.storeLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "store_latency_milliseconds",
		Help:      "Ranking store operation latency",
		Buckets:   m.histogramBuckets,
	}, []string{"op"})

	m.storeErrors = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "store_errors_total",
		Help:      "Ranking store operation failures",
	}, []string{"op"})

	m.storeRetries = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "store_retries_total",
		Help:      "Retried ranking commits",
	})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests by endpoint and method",
	}, []string{"endpoint", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_request_duration_milliseconds",
		Help:      "HTTP request duration in milliseconds",
		Buckets:   m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.errorsByComponent = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "errors_total",
		Help:      "Errors by component and type",
	}, []string{"component", "type"})
}

// RecordRefresh counts a refresh trigger with its outcome.
func RecordRefresh(tag, outcome string) {
	globalManager.refreshes.WithLabelValues(tag, outcome).Inc()
}

// RecordRefreshDuration observes a full refresh cycle.
func RecordRefreshDuration(ms float64) {
	globalManager.refreshDuration.Observe(ms)
}

// RecordFetchLatency observes a provider call.
func RecordFetchLatency(ms float64) {
	globalManager.fetchLatency.Observe(ms)
}

// RecordCommit publishes the sizes of a committed ranking.
func RecordCommit(tag string, fetched, ranked int, unix int64) {
	globalManager.fetchedItems.WithLabelValues(tag).Set(float64(fetched))
	globalManager.rankedItems.WithLabelValues(tag).Set(float64(ranked))
	globalManager.lastCommitUnix.WithLabelValues(tag).Set(float64(unix))
}

// RecordLockWait observes time spent acquiring the refresh guard.
func RecordLockWait(ms float64) {
	globalManager.lockWait.Observe(ms)
}

// RecordCacheHit increments cache hits for tag.
func RecordCacheHit(tag string) {
	globalManager.cacheHits.WithLabelValues(tag).Inc()
}

// RecordCacheMiss increments cache misses for tag.
func RecordCacheMiss(tag string) {
	globalManager.cacheMisses.WithLabelValues(tag).Inc()
}

// RecordStoreLatency observes a store operation.
func RecordStoreLatency(op string, ms float64) {
	globalManager.storeLatency.WithLabelValues(op).Observe(ms)
}

// RecordStoreError counts a failed store operation.
func RecordStoreError(op string) {
	globalManager.storeErrors.WithLabelValues(op).Inc()
}

// RecordStoreRetry counts a retried commit.
func RecordStoreRetry() {
	globalManager.storeRetries.Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
