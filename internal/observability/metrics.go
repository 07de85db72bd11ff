package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// Dataset loads by outcome. A load happens once per file set; repeats mean failures.
	DatasetLoadsTotal *prometheus.CounterVec

	// Time to discover files and read every header.
	DatasetLoadDurationSeconds prometheus.Histogram

	// Length of the time axis of the loaded dataset.
	DatasetDays prometheus.Gauge

	// Per-day hyperslab reads by outcome.
	SliceReadsTotal *prometheus.CounterVec

	// Per-day hyperslab read latency. Watch for: slow storage.
	SliceReadDurationSeconds prometheus.Histogram

	// Heatmap renders by format and outcome. Cache hits do not render.
	HeatmapRendersTotal *prometheus.CounterVec

	// Render plus encode latency per format.
	HeatmapRenderDurationSeconds *prometheus.HistogramVec

	// Cache hits. Hit rate = hits/(hits+misses).
	CacheHitsTotal *prometheus.CounterVec

	// Cache misses.
	CacheMissesTotal *prometheus.CounterVec

	// Cache backend errors by operation and category. Watch for: memcached outages.
	CacheErrorsTotal *prometheus.CounterVec

	// Cache operation latency by operation and result.
	CacheOperationDurationSeconds *prometheus.HistogramVec

	// Concurrent misses for the same key.
	CacheStampedeDetectedTotal *prometheus.CounterVec

	// Number of concurrent misses observed when a stampede is detected.
	CacheStampedeConcurrency *prometheus.HistogramVec

	// Requests that joined an in-flight render instead of starting one.
	RequestCoalescingHitsTotal *prometheus.CounterVec

	// Time spent waiting on a coalesced render.
	RequestCoalescingWaitSeconds prometheus.Histogram

	// Warming runs, their errors and duration.
	CacheWarmingTotal           prometheus.Counter
	CacheWarmingErrorsTotal     prometheus.Counter
	CacheWarmingDurationSeconds prometheus.Histogram

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	// Circuit breaker state per component: 0 closed, 1 open, 2 half-open.
	CircuitBreakerState *prometheus.GaugeVec

	// Circuit breaker transitions. Watch for: flapping memcached.
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	// Requests still in flight when shutdown began.
	ShutdownInFlightRequests prometheus.Gauge

	rateLimitGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	DatasetLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datasetLoadsTotal",
			Help: "Total number of dataset loads by status",
		},
		[]string{"status"},
	)
	DatasetLoadDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "datasetLoadDurationSeconds",
			Help:    "Dataset discovery and header load time in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)
	DatasetDays = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "datasetDays",
			Help: "Number of daily slices in the loaded dataset",
		},
	)
	SliceReadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sliceReadsTotal",
			Help: "Total number of daily slice reads by status",
		},
		[]string{"status"},
	)
	SliceReadDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sliceReadDurationSeconds",
			Help:    "Daily slice read latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)
	HeatmapRendersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heatmapRendersTotal",
			Help: "Total number of heatmap renders by format and status",
		},
		[]string{"format", "status"},
	)
	HeatmapRenderDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "heatmapRenderDurationSeconds",
			Help:    "Heatmap render and encode latency in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"format"},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of cache hits",
		},
		[]string{"cacheType"},
	)
	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheMissesTotal",
			Help: "Total number of cache misses",
		},
		[]string{"cacheType"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Total number of cache backend errors",
		},
		[]string{"operation", "errorType"},
	)
	CacheOperationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cacheOperationDurationSeconds",
			Help:    "Cache operation latency in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5},
		},
		[]string{"operation", "result"},
	)
	CacheStampedeDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheStampedeDetectedTotal",
			Help: "Total number of concurrent misses detected for the same key",
		},
		[]string{"format"},
	)
	CacheStampedeConcurrency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cacheStampedeConcurrency",
			Help:    "Concurrent misses for the same key when a stampede is detected",
			Buckets: []float64{2, 3, 5, 10, 20, 50},
		},
		[]string{"format"},
	)
	RequestCoalescingHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requestCoalescingHitsTotal",
			Help: "Total number of requests served by joining an in-flight render",
		},
		[]string{"format"},
	)
	RequestCoalescingWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "requestCoalescingWaitSeconds",
			Help:    "Time spent waiting for a coalesced render",
			Buckets: prometheus.DefBuckets,
		},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Total number of cache warming runs",
		},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingErrorsTotal",
			Help: "Total number of cache warming runs with at least one failure",
		},
	)
	CacheWarmingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheWarmingDurationSeconds",
			Help:    "Cache warming run duration in seconds",
			Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 120},
		},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"component"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	ShutdownInFlightRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shutdownInFlightRequests",
			Help: "Requests in flight when graceful shutdown began",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		DatasetLoadsTotal, DatasetLoadDurationSeconds, DatasetDays,
		SliceReadsTotal, SliceReadDurationSeconds,
		HeatmapRendersTotal, HeatmapRenderDurationSeconds,
		CacheHitsTotal, CacheMissesTotal, CacheErrorsTotal, CacheOperationDurationSeconds,
		CacheStampedeDetectedTotal, CacheStampedeConcurrency,
		RequestCoalescingHitsTotal, RequestCoalescingWaitSeconds,
		CacheWarmingTotal, CacheWarmingErrorsTotal, CacheWarmingDurationSeconds,
		RateLimitDeniedTotal,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
		ShutdownInFlightRequests,
	)
}

// WindowCounter reports request and denial counts over a sliding window.
type WindowCounter interface {
	RequestCount(window time.Duration) int
	DenialCount(window time.Duration) int
}

// RegisterRateLimitGauges registers load and rejects gauges for the rate-limited path.
// Call from main after config load. Only the first call registers.
func RegisterRateLimitGauges(counter WindowCounter, window time.Duration) {
	rateLimitGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRequestsInWindow",
					Help: "Requests hitting rate-limited path in sliding window; load/capacity planning",
				},
				func() float64 { return float64(counter.RequestCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in sliding window; are we rejecting requests",
				},
				func() float64 { return float64(counter.DenialCount(window)) },
			),
		)
	})
}

// RecordCircuitBreakerTransition counts a transition and sets the state gauge to stateValue.
func RecordCircuitBreakerTransition(component, from, to string, stateValue int) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
	CircuitBreakerState.WithLabelValues(component).Set(float64(stateValue))
}

// RecordShutdownInFlight records the in-flight count observed at shutdown.
func RecordShutdownInFlight(n int64) {
	ShutdownInFlightRequests.Set(float64(n))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
