package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Pricing metrics
	QuotesTotal           *prometheus.CounterVec
	CalculatorErrorsTotal *prometheus.CounterVec

	// Change metrics
	PreviewsTotal  *prometheus.CounterVec
	CommitsTotal   *prometheus.CounterVec
	CommitDuration *prometheus.HistogramVec
	LateOutcomes   *prometheus.CounterVec

	// Rate limiting
	RateLimitedTotal *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Storage metrics
	StorageOperationsTotal   *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tariff_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tariff_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		QuotesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tariff_quotes_total",
				Help: "Total number of price calculations",
			},
			[]string{"charge_type", "outcome"},
		),
		CalculatorErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tariff_calculator_errors_total",
				Help: "Total number of calculator errors by kind",
			},
			[]string{"error_type"},
		),

		PreviewsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tariff_change_previews_total",
				Help: "Total number of change previews",
			},
			[]string{"signal", "enabled"},
		),
		CommitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tariff_change_commits_total",
				Help: "Total number of change commits by resulting status",
			},
			[]string{"signal", "status", "replayed"},
		),
		CommitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tariff_change_commit_duration_seconds",
				Help:    "Change commit duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"status"},
		),
		LateOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tariff_change_late_outcomes_total",
				Help: "Gateway outcomes recorded after the commit call timed out",
			},
			[]string{"status"},
		),

		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tariff_rate_limited_total",
				Help: "Requests rejected or let through by the rate limiter",
			},
			[]string{"route_class", "outcome"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tariff_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache_type"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tariff_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache_type"},
		),

		StorageOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tariff_storage_operations_total",
				Help: "Total number of storage operations",
			},
			[]string{"operation", "backend", "status"},
		),
		StorageOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tariff_storage_operation_duration_seconds",
				Help:    "Storage operation duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation", "backend"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tariff_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tariff_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.QuotesTotal,
		m.CalculatorErrorsTotal,
		m.PreviewsTotal,
		m.CommitsTotal,
		m.CommitDuration,
		m.LateOutcomes,
		m.RateLimitedTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.StorageOperationsTotal,
		m.StorageOperationDuration,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// RecordQuote counts a calculation; errType is empty on success
func (m *Metrics) RecordQuote(chargeType, errType string) {
	if m == nil {
		return
	}
	outcome := "ok"
	if errType != "" {
		outcome = "error"
		m.CalculatorErrorsTotal.WithLabelValues(errType).Inc()
	}
	m.QuotesTotal.WithLabelValues(chargeType, outcome).Inc()
}

// RecordPreview counts a planned change
func (m *Metrics) RecordPreview(signal string, enabled bool) {
	if m == nil {
		return
	}
	m.PreviewsTotal.WithLabelValues(signal, strconv.FormatBool(enabled)).Inc()
}

// RecordCommit counts a commit and observes its latency
func (m *Metrics) RecordCommit(signal, status string, replayed bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.CommitsTotal.WithLabelValues(signal, status, strconv.FormatBool(replayed)).Inc()
	m.CommitDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordLateOutcome counts a gateway outcome that arrived after its commit timed out
func (m *Metrics) RecordLateOutcome(status string) {
	if m == nil {
		return
	}
	m.LateOutcomes.WithLabelValues(status).Inc()
}

// RecordRateLimit counts a limiter decision that was not a plain allow:
// outcome is "rejected" or "failed_open"
func (m *Metrics) RecordRateLimit(routeClass, outcome string) {
	if m == nil {
		return
	}
	m.RateLimitedTotal.WithLabelValues(routeClass, outcome).Inc()
}

// RecordCacheHit counts a cache hit for cacheType
func (m *Metrics) RecordCacheHit(cacheType string) {
	if m == nil {
		return
	}
	m.CacheHitsTotal.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss counts a cache miss for cacheType
func (m *Metrics) RecordCacheMiss(cacheType string) {
	if m == nil {
		return
	}
	m.CacheMissesTotal.WithLabelValues(cacheType).Inc()
}

// RecordStorageOperation counts a storage call and observes its latency
func (m *Metrics) RecordStorageOperation(operation, backend string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.StorageOperationsTotal.WithLabelValues(operation, backend, status).Inc()
	m.StorageOperationDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Requests are labelled by their mux route template so path IDs do not
// explode label cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeTemplate(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, registry *prometheus.Registry) {
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}
