package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics collection for the proxy
// Tracks request outcomes, cache effectiveness, and live connection
// count for observability
type Metrics struct {
	registry          *prometheus.Registry
	requestsTotal     *prometheus.CounterVec // Total requests by outcome
	cacheHitsTotal    prometheus.Counter     // Cache hits
	cacheMissesTotal  prometheus.Counter     // Cache misses
	bytesTransferred  prometheus.Counter     // Total response bytes forwarded to clients
	activeConnections prometheus.Gauge       // Current active connections
	originHealth      *prometheus.GaugeVec   // Origin backend health status (0/1)
	cacheUsedBytes    prometheus.Gauge       // Cache occupancy in bytes
	cacheFreeBytes    prometheus.Gauge       // Cache free space in bytes
}

// NewMetrics creates new metrics collector with Prometheus instruments
// Registers all metrics with their own registry, so multiple Metrics
// instances (one per test, say) never collide on the default registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proxy_requests_total",
				Help: "Total number of proxied requests by outcome",
			},
			[]string{"outcome"},
		),
		cacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "proxy_cache_hits_total",
				Help: "Total number of cache hits",
			},
		),
		cacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "proxy_cache_misses_total",
				Help: "Total number of cache misses",
			},
		),
		bytesTransferred: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "proxy_bytes_transferred_total",
				Help: "Total response bytes forwarded to clients",
			},
		),
		activeConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "proxy_active_connections",
				Help: "Number of active client connections",
			},
		),
		originHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "proxy_origin_backend_health",
				Help: "Origin backend health status (1=healthy, 0=unhealthy)",
			},
			[]string{"addr"},
		),
		cacheUsedBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "proxy_cache_used_bytes",
				Help: "Bytes currently occupied in the response cache",
			},
		),
		cacheFreeBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "proxy_cache_free_bytes",
				Help: "Bytes currently free in the response cache",
			},
		),
	}

	m.registry.MustRegister(
		m.requestsTotal,
		m.cacheHitsTotal,
		m.cacheMissesTotal,
		m.bytesTransferred,
		m.activeConnections,
		m.originHealth,
		m.cacheUsedBytes,
		m.cacheFreeBytes,
	)

	return m
}

// RecordRequest records the terminal outcome of one worker's pass
// through the pipeline (e.g. "hit", "miss", "client_protocol_error").
func (m *Metrics) RecordRequest(outcome string) {
	m.requestsTotal.WithLabelValues(outcome).Inc()
}

// RecordCacheHit increments the cache hit counter.
func (m *Metrics) RecordCacheHit() {
	m.cacheHitsTotal.Inc()
}

// RecordCacheMiss increments the cache miss counter.
func (m *Metrics) RecordCacheMiss() {
	m.cacheMissesTotal.Inc()
}

// AddBytesTransferred adds n to the total bytes forwarded to clients.
func (m *Metrics) AddBytesTransferred(n int) {
	m.bytesTransferred.Add(float64(n))
}

// UpdateOriginHealth updates health metric for specified origin address
// Called by the origin pool's background health prober
func (m *Metrics) UpdateOriginHealth(addr string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.originHealth.WithLabelValues(addr).Set(value)
}

// SetCacheOccupancy records current cache byte accounting for the
// proxy_cache_used_bytes / proxy_cache_free_bytes gauges.
func (m *Metrics) SetCacheOccupancy(used, free int) {
	m.cacheUsedBytes.Set(float64(used))
	m.cacheFreeBytes.Set(float64(free))
}

// IncrementConnections increments active connection count
// Called when new connection is established
func (m *Metrics) IncrementConnections() {
	m.activeConnections.Inc()
}

// DecrementConnections decrements active connection count
// Called when connection is closed
func (m *Metrics) DecrementConnections() {
	m.activeConnections.Dec()
}

// Handler returns HTTP handler for Prometheus metrics exposition
// Enables metrics scraping by monitoring systems
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
