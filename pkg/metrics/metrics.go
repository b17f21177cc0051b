package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector provides application metrics collection for the telemetry
// pipeline and its API surface.
type Collector struct {
	// API metrics
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec
	APIErrorsTotal     *prometheus.CounterVec

	// Pipeline metrics
	NormalizeDuration      prometheus.Histogram
	DeriveDuration         prometheus.Histogram
	RecordsNormalizedTotal prometheus.Counter
	NormalizeErrorsTotal   *prometheus.CounterVec
	CellParseErrorsTotal   *prometheus.CounterVec
	TimestampUnitTotal     *prometheus.CounterVec
	TimezoneFallbackTotal  prometheus.Counter

	// Cache metrics
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter
	CacheEntries     prometheus.Gauge
}

// NewCollector creates a new metrics collector registered against the
// given registerer. Callers typically pass prometheus.DefaultRegisterer;
// tests pass a fresh registry to avoid duplicate registration.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		APIRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of API requests by endpoint, method, and status",
			},
			[]string{"endpoint", "method", "status"},
		),

		APIRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1.0, 2.0, 5.0},
			},
			[]string{"endpoint"},
		),

		APIErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_errors_total",
				Help:      "Total number of API errors by type",
			},
			[]string{"error_type", "endpoint"},
		),

		NormalizeDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "normalize_duration_seconds",
				Help:      "Duration of CSV normalization in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
		),

		DeriveDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "derive_duration_seconds",
				Help:      "Duration of derived-series computation in seconds",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
		),

		RecordsNormalizedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_normalized_total",
				Help:      "Total number of telemetry rows normalized",
			},
		),

		NormalizeErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "normalize_errors_total",
				Help:      "Total number of failed normalization attempts by type",
			},
			[]string{"error_type"},
		),

		CellParseErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cell_parse_errors_total",
				Help:      "Total number of cells that degraded to null by column role",
			},
			[]string{"role"},
		),

		TimestampUnitTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "timestamp_unit_total",
				Help:      "Timestamp unit inferred per normalized file",
			},
			[]string{"unit"},
		),

		TimezoneFallbackTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "timezone_fallback_total",
				Help:      "Total number of unrecognized timezone names that fell back to UTC",
			},
		),

		CacheHitsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Total number of normalization cache hits",
			},
		),

		CacheMissesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Total number of normalization cache misses",
			},
		),

		CacheEntries: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cache_entries",
				Help:      "Number of canonical tables currently cached",
			},
		),
	}
}

// Timer provides timing functionality for operations
type Timer struct {
	start    time.Time
	observer prometheus.Observer
}

// NewTimer creates a new timer
func (c *Collector) NewTimer(histogram prometheus.Observer) *Timer {
	return &Timer{
		start:    time.Now(),
		observer: histogram,
	}
}

// ObserveDuration records the elapsed time since timer creation
func (t *Timer) ObserveDuration() time.Duration {
	duration := time.Since(t.start)
	if t.observer != nil {
		t.observer.Observe(duration.Seconds())
	}
	return duration
}

// RecordAPIRequest increments API request counter
func (c *Collector) RecordAPIRequest(endpoint, method, status string) {
	c.APIRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
}

// RecordAPIError increments API error counter
func (c *Collector) RecordAPIError(errorType, endpoint string) {
	c.APIErrorsTotal.WithLabelValues(errorType, endpoint).Inc()
}

// RecordNormalizeError increments the failed-normalization counter
func (c *Collector) RecordNormalizeError(errorType string) {
	c.NormalizeErrorsTotal.WithLabelValues(errorType).Inc()
}

// RecordCellParseError counts a cell that degraded to null
func (c *Collector) RecordCellParseError(role string) {
	c.CellParseErrorsTotal.WithLabelValues(role).Inc()
}

// RecordTimestampUnit counts the unit inferred for one file
func (c *Collector) RecordTimestampUnit(unit string) {
	c.TimestampUnitTotal.WithLabelValues(unit).Inc()
}

// RecordTimezoneFallback counts an unrecognized timezone name
func (c *Collector) RecordTimezoneFallback() {
	c.TimezoneFallbackTotal.Inc()
}

// RecordCacheHit counts a normalization cache hit
func (c *Collector) RecordCacheHit() {
	c.CacheHitsTotal.Inc()
}

// RecordCacheMiss counts a normalization cache miss
func (c *Collector) RecordCacheMiss() {
	c.CacheMissesTotal.Inc()
}
