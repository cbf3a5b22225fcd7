package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for Stratus.
type Metrics struct {
	config MetricsConfig

	// Order metrics
	ordersSubmitted *prometheus.CounterVec
	ordersRejected  *prometheus.CounterVec
	ordersCompleted *prometheus.CounterVec
	orderDuration   *prometheus.HistogramVec

	// Deployer metrics
	deployerCalls           *prometheus.CounterVec
	deployerCallDuration    *prometheus.HistogramVec
	deployerTransportErrors *prometheus.CounterVec

	// Credential cache metrics
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	cacheEvictions prometheus.Counter
	cacheSize      prometheus.Gauge

	// Callback metrics
	callbacksReceived *prometheus.CounterVec

	// System metrics
	activeOrders prometheus.Gauge
	heldLocks    prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		// Orders legitimately take minutes; stretch the default buckets.
		buckets = []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800}
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		ordersSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orders_submitted_total",
				Help:      "Total number of orders accepted for dispatch",
			},
			[]string{"kind", "csp"},
		),
		ordersRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orders_rejected_total",
				Help:      "Total number of orders rejected at submit time",
			},
			[]string{"kind", "code"},
		),
		ordersCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orders_completed_total",
				Help:      "Total number of orders reaching a terminal phase",
			},
			[]string{"kind", "outcome"},
		),
		orderDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "order_duration_seconds",
				Help:      "Duration from order acceptance to terminal phase",
				Buckets:   buckets,
			},
			[]string{"kind", "outcome"},
		),

		deployerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deployer_calls_total",
				Help:      "Total number of deployer adapter calls",
			},
			[]string{"deployer", "operation"},
		),
		deployerCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "deployer_call_duration_seconds",
				Help:      "Duration of deployer adapter calls",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"deployer", "operation"},
		),
		deployerTransportErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deployer_transport_errors_total",
				Help:      "Total number of transport-level deployer failures",
			},
			[]string{"deployer", "operation"},
		),

		cacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "credential_cache_hits_total",
				Help:      "Total number of credential cache hits",
			},
		),
		cacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "credential_cache_misses_total",
				Help:      "Total number of credential cache misses",
			},
		),
		cacheEvictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "credential_cache_evictions_total",
				Help:      "Total number of credential cache entries removed by the sweep",
			},
		),
		cacheSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "credential_cache_entries",
				Help:      "Current number of credential cache entries",
			},
		),

		callbacksReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deployer_callbacks_total",
				Help:      "Total number of deployer webhook callbacks received",
			},
			[]string{"result"},
		),

		activeOrders: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_orders",
				Help:      "Current number of orders in a non-terminal phase",
			},
		),
		heldLocks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "held_locks",
				Help:      "Current number of held per-service locks",
			},
		),
	}

	registry.MustRegister(
		m.ordersSubmitted,
		m.ordersRejected,
		m.ordersCompleted,
		m.orderDuration,
		m.deployerCalls,
		m.deployerCallDuration,
		m.deployerTransportErrors,
		m.cacheHits,
		m.cacheMisses,
		m.cacheEvictions,
		m.cacheSize,
		m.callbacksReceived,
		m.activeOrders,
		m.heldLocks,
	)

	return m, nil
}

// Handler returns an HTTP handler serving the metrics registry.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Order metrics

// RecordOrderSubmitted increments the counter for accepted orders.
func (m *Metrics) RecordOrderSubmitted(kind, csp string) {
	if m.ordersSubmitted == nil {
		return
	}
	m.ordersSubmitted.WithLabelValues(kind, csp).Inc()
	m.activeOrders.Inc()
}

// RecordOrderRejected increments the counter for rejected orders.
func (m *Metrics) RecordOrderRejected(kind, code string) {
	if m.ordersRejected == nil {
		return
	}
	m.ordersRejected.WithLabelValues(kind, code).Inc()
}

// RecordOrderCompleted records an order reaching a terminal phase.
func (m *Metrics) RecordOrderCompleted(kind, outcome string, duration time.Duration) {
	if m.ordersCompleted == nil {
		return
	}
	m.ordersCompleted.WithLabelValues(kind, outcome).Inc()
	m.orderDuration.WithLabelValues(kind, outcome).Observe(duration.Seconds())
	m.activeOrders.Dec()
}

// Deployer metrics

// RecordDeployerCall records a deployer adapter call with its duration.
func (m *Metrics) RecordDeployerCall(deployer, operation string, duration time.Duration) {
	if m.deployerCalls == nil {
		return
	}
	m.deployerCalls.WithLabelValues(deployer, operation).Inc()
	m.deployerCallDuration.WithLabelValues(deployer, operation).Observe(duration.Seconds())
}

// RecordDeployerTransportError records a transport-level deployer failure.
func (m *Metrics) RecordDeployerTransportError(deployer, operation string) {
	if m.deployerTransportErrors == nil {
		return
	}
	m.deployerTransportErrors.WithLabelValues(deployer, operation).Inc()
}

// Credential cache metrics

// RecordCacheHit increments the credential cache hit counter.
func (m *Metrics) RecordCacheHit() {
	if m.cacheHits == nil {
		return
	}
	m.cacheHits.Inc()
}

// RecordCacheMiss increments the credential cache miss counter.
func (m *Metrics) RecordCacheMiss() {
	if m.cacheMisses == nil {
		return
	}
	m.cacheMisses.Inc()
}

// RecordCacheEvictions adds to the eviction counter after a sweep.
func (m *Metrics) RecordCacheEvictions(n int) {
	if m.cacheEvictions == nil {
		return
	}
	m.cacheEvictions.Add(float64(n))
}

// SetCacheSize sets the current credential cache entry count.
func (m *Metrics) SetCacheSize(n int) {
	if m.cacheSize == nil {
		return
	}
	m.cacheSize.Set(float64(n))
}

// Callback metrics

// RecordCallback records a received deployer webhook callback.
// result is one of matched, duplicate, unmatched.
func (m *Metrics) RecordCallback(result string) {
	if m.callbacksReceived == nil {
		return
	}
	m.callbacksReceived.WithLabelValues(result).Inc()
}

// Lock metrics

// RecordLockAcquired increments the held-locks gauge.
func (m *Metrics) RecordLockAcquired() {
	if m.heldLocks == nil {
		return
	}
	m.heldLocks.Inc()
}

// RecordLockReleased decrements the held-locks gauge.
func (m *Metrics) RecordLockReleased() {
	if m.heldLocks == nil {
		return
	}
	m.heldLocks.Dec()
}
