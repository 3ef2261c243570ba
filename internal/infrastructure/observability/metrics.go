package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"storefront-backend/internal/infrastructure/cache"
)

// Collector holds all Prometheus metrics for the application. Each collector
// owns its registry, so tests can create as many as they like.
type Collector struct {
	// Registry for this collector instance
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Cache metrics
	CacheOperations *prometheus.CounterVec
	LocalBytes      prometheus.GaugeFunc
	LocalEntries    prometheus.GaugeFunc
	LocalEvictions  prometheus.Counter
	RemoteFailures  *prometheus.CounterVec

	// Loader and pagination metrics
	LoaderBatchSize   *prometheus.HistogramVec
	PaginationLatency *prometheus.HistogramVec

	mu            sync.Mutex
	lastEvictions int64
	lastUsage     cache.MemoryUsage
	usageSource   func() cache.MemoryUsage
}

// NewCollector creates a new metrics collector with the given namespace
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		CacheOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_operations_total",
				Help:      "Cache operations by data type and operation",
			},
			[]string{"data_type", "operation"},
		),
		LocalEvictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_l1_evictions_total",
				Help:      "Entries evicted from the in-process cache",
			},
		),
		RemoteFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_remote_failures_total",
				Help:      "Failed remote cache operations, degraded to misses",
			},
			[]string{"operation"},
		),
		LoaderBatchSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "loader_batch_size",
				Help:      "Ids per underlying batch fetch",
				Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250},
			},
			[]string{"loader"},
		),
		PaginationLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pagination_query_duration_seconds",
				Help:      "Paginated query duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"collection", "cached"},
		),
	}

	c.LocalBytes = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_l1_bytes",
			Help:      "Bytes tracked by the in-process cache",
		},
		func() float64 { return float64(c.localUsage().CurrentUsageBytes) },
	)
	c.LocalEntries = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_l1_entries",
			Help:      "Entries held by the in-process cache",
		},
		func() float64 { return float64(c.localUsage().TotalEntries) },
	)

	registry.MustRegister(
		c.HTTPRequests,
		c.HTTPDuration,
		c.CacheOperations,
		c.LocalBytes,
		c.LocalEntries,
		c.LocalEvictions,
		c.RemoteFailures,
		c.LoaderBatchSize,
		c.PaginationLatency,
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordOperation implements cache.Recorder.
func (c *Collector) RecordOperation(dataType, op string) {
	c.CacheOperations.WithLabelValues(dataType, op).Inc()
}

// RecordRemoteFailure implements cache.Recorder.
func (c *Collector) RecordRemoteFailure(op string) {
	c.RemoteFailures.WithLabelValues(op).Inc()
}

// RecordLocalUsage implements cache.Recorder. Evictions arrive as a running
// total and are added as a delta.
func (c *Collector) RecordLocalUsage(u cache.MemoryUsage) {
	c.mu.Lock()
	c.lastUsage = u
	delta := u.Evictions - c.lastEvictions
	c.lastEvictions = u.Evictions
	c.mu.Unlock()
	if delta > 0 {
		c.LocalEvictions.Add(float64(delta))
	}
}

// TrackLocalUsage makes every scrape read the in-process tier directly, so
// the L1 gauges do not depend on the periodic stats report.
func (c *Collector) TrackLocalUsage(source func() cache.MemoryUsage) {
	c.mu.Lock()
	c.usageSource = source
	c.mu.Unlock()
}

// localUsage returns a fresh snapshot when a source is tracked and the last
// recorded one otherwise.
func (c *Collector) localUsage() cache.MemoryUsage {
	c.mu.Lock()
	source, last := c.usageSource, c.lastUsage
	c.mu.Unlock()
	if source == nil {
		return last
	}
	u := source()
	c.RecordLocalUsage(u)
	return u
}

// ObserveBatchSize implements loaders.SizeObserver.
func (c *Collector) ObserveBatchSize(loader string, size int) {
	c.LoaderBatchSize.WithLabelValues(loader).Observe(float64(size))
}

// ObservePaginationQuery implements repository.QueryObserver.
func (c *Collector) ObservePaginationQuery(collection string, cached bool, d time.Duration) {
	c.PaginationLatency.WithLabelValues(collection, strconv.FormatBool(cached)).Observe(d.Seconds())
}

// ObserveHTTP records one served request.
func (c *Collector) ObserveHTTP(method, route string, status int, d time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
