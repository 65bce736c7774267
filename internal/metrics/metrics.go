package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Pool metrics
	ConnectionsActive prometheus.Gauge
	DialsTotal        *prometheus.CounterVec
	DialDuration      prometheus.Histogram
	EvictionsTotal    prometheus.Counter

	// Context cache metrics
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	// Provisioning metrics
	ProvisionTotal    *prometheus.CounterVec
	ProvisionDuration *prometheus.HistogramVec

	// Health metrics
	HealthChecks *prometheus.CounterVec
}

// New creates the metric set against the given registerer, so tests can
// use a private registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "silo_http_requests_total",
				Help: "Total number of HTTP requests served",
			},
			[]string{"method", "path", "status"},
		),

		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "silo_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		ConnectionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "silo_connections_active",
				Help: "Number of tenant connection handles currently pooled",
			},
		),

		DialsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "silo_dials_total",
				Help: "Total number of tenant dial attempts",
			},
			[]string{"status"},
		),

		DialDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "silo_dial_duration_seconds",
				Help:    "Duration of tenant dial attempts",
				Buckets: prometheus.DefBuckets,
			},
		),

		EvictionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "silo_evictions_total",
				Help: "Total number of handles evicted to respect the pool bound",
			},
		),

		CacheHits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "silo_context_cache_hits_total",
				Help: "Total number of tenant context cache hits",
			},
		),

		CacheMisses: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "silo_context_cache_misses_total",
				Help: "Total number of tenant context cache misses",
			},
		),

		ProvisionTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "silo_provision_operations_total",
				Help: "Total number of provisioning operations",
			},
			[]string{"operation", "status"},
		),

		ProvisionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "silo_provision_duration_seconds",
				Help:    "Duration of provisioning operations",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"operation"},
		),

		HealthChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "silo_health_checks_total",
				Help: "Total number of tenant health probes",
			},
			[]string{"status"},
		),
	}
}

// RecordHTTPRequest records a served request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration float64) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration)
}

// RecordDial records a dial attempt
func (m *Metrics) RecordDial(status string, duration float64) {
	m.DialsTotal.WithLabelValues(status).Inc()
	m.DialDuration.Observe(duration)
}

// RecordEviction records a handle evicted for capacity
func (m *Metrics) RecordEviction() {
	m.EvictionsTotal.Inc()
}

// SetConnectionsActive sets the pooled handle gauge
func (m *Metrics) SetConnectionsActive(n int) {
	m.ConnectionsActive.Set(float64(n))
}

// RecordCacheHit records a context cache hit
func (m *Metrics) RecordCacheHit() {
	m.CacheHits.Inc()
}

// RecordCacheMiss records a context cache miss
func (m *Metrics) RecordCacheMiss() {
	m.CacheMisses.Inc()
}

// RecordProvision records a provisioning operation
func (m *Metrics) RecordProvision(operation, status string, duration float64) {
	m.ProvisionTotal.WithLabelValues(operation, status).Inc()
	m.ProvisionDuration.WithLabelValues(operation).Observe(duration)
}

// RecordHealthCheck records a health probe outcome
func (m *Metrics) RecordHealthCheck(healthy bool) {
	if healthy {
		m.HealthChecks.WithLabelValues("healthy").Inc()
	} else {
		m.HealthChecks.WithLabelValues("unhealthy").Inc()
	}
}
