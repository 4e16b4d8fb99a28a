package observability

import (
	"context"
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Authorization metrics
	AuthzDecisionsTotal  *prometheus.CounterVec
	AuthzCheckDuration   prometheus.Histogram
	CapabilityLoadsTotal prometheus.Counter

	// Assignment graph metrics
	DecentralizeTotal    *prometheus.CounterVec
	DecentralizeDuration *prometheus.HistogramVec
	AssignmentEdgesTotal *prometheus.CounterVec

	// Identity metrics
	LoginAttemptsTotal *prometheus.CounterVec
	TokensRevokedTotal prometheus.Counter
	TokensSweptTotal   prometheus.Counter
	RateLimitedTotal   *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive       prometheus.Gauge
	DBConnectionsIdle         prometheus.Gauge
	DBConnectionsWaitCount    prometheus.Gauge
	DBConnectionsWaitDuration prometheus.Gauge

	otel *OTelMetrics
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomdesk_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "roomdesk_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "roomdesk_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "route"},
		),

		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomdesk_authz_decisions_total",
				Help: "Authorization gate decisions by resource and outcome",
			},
			[]string{"resource", "decision"},
		),
		AuthzCheckDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "roomdesk_authz_check_duration_seconds",
				Help:    "Time spent deciding a single gate check",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
			},
		),
		CapabilityLoadsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "roomdesk_authz_capability_loads_total",
				Help: "Capability sets loaded from the store (one per request at most)",
			},
		),

		DecentralizeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomdesk_decentralize_total",
				Help: "Decentralize calls by assignment kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		DecentralizeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "roomdesk_decentralize_duration_seconds",
				Help:    "Decentralize transaction duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		AssignmentEdgesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomdesk_assignment_edges_total",
				Help: "Assignment edges added or removed by decentralize",
			},
			[]string{"kind", "op"},
		),

		LoginAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomdesk_login_attempts_total",
				Help: "Login attempts by outcome",
			},
			[]string{"outcome"},
		),
		TokensRevokedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "roomdesk_tokens_revoked_total",
				Help: "Access tokens revoked by logout",
			},
		),
		TokensSweptTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "roomdesk_tokens_swept_total",
				Help: "Expired access tokens deleted by the sweeper",
			},
		),
		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomdesk_rate_limited_total",
				Help: "Requests rejected by the rate limiter",
			},
			[]string{"route"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "roomdesk_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "roomdesk_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBConnectionsWaitCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "roomdesk_db_connections_wait_count",
				Help: "Total number of connections waited for",
			},
		),
		DBConnectionsWaitDuration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "roomdesk_db_connections_wait_duration_seconds",
				Help: "Total time blocked waiting for a new connection",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.AuthzDecisionsTotal,
		m.AuthzCheckDuration,
		m.CapabilityLoadsTotal,
		m.DecentralizeTotal,
		m.DecentralizeDuration,
		m.AssignmentEdgesTotal,
		m.LoginAttemptsTotal,
		m.TokensRevokedTotal,
		m.TokensSweptTotal,
		m.RateLimitedTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.DBConnectionsWaitCount,
		m.DBConnectionsWaitDuration,
	)

	return m
}

// WithOTel also records authorization, decentralize and login events on o
func (m *Metrics) WithOTel(o *OTelMetrics) *Metrics {
	m.otel = o
	return m
}

// RecordDBStats copies connection pool statistics into the DB gauges
func (m *Metrics) RecordDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBConnectionsWaitCount.Set(float64(stats.WaitCount))
	m.DBConnectionsWaitDuration.Set(stats.WaitDuration.Seconds())
}

// ObserveAuthz records one gate decision
func (m *Metrics) ObserveAuthz(resource string, allowed bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	m.AuthzDecisionsTotal.WithLabelValues(resource, decision).Inc()
	m.AuthzCheckDuration.Observe(elapsed.Seconds())
	m.otel.recordAuthz(context.Background(), resource, decision)
}

// ObserveCapabilityLoad records one capability load
func (m *Metrics) ObserveCapabilityLoad() {
	if m == nil {
		return
	}
	m.CapabilityLoadsTotal.Inc()
}

// ObserveDecentralize records one decentralize call and its edge churn
func (m *Metrics) ObserveDecentralize(kind, outcome string, added, removed int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.DecentralizeTotal.WithLabelValues(kind, outcome).Inc()
	m.DecentralizeDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
	if added > 0 {
		m.AssignmentEdgesTotal.WithLabelValues(kind, "add").Add(float64(added))
	}
	if removed > 0 {
		m.AssignmentEdgesTotal.WithLabelValues(kind, "remove").Add(float64(removed))
	}
	m.otel.recordDecentralize(context.Background(), kind, outcome, added, removed, elapsed)
}

// ObserveLogin records a login attempt
func (m *Metrics) ObserveLogin(success bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.LoginAttemptsTotal.WithLabelValues(outcome).Inc()
	m.otel.recordLogin(context.Background(), outcome)
}

// ObserveLogout records a revoked token
func (m *Metrics) ObserveLogout() {
	if m == nil {
		return
	}
	m.TokensRevokedTotal.Inc()
}

// ObserveSweep records tokens removed by the sweeper
func (m *Metrics) ObserveSweep(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.TokensSweptTotal.Add(float64(n))
}

// ObserveRateLimited records a rejected request
func (m *Metrics) ObserveRateLimited(route string) {
	if m == nil {
		return
	}
	m.RateLimitedTotal.WithLabelValues(route).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// routeLabel uses the mux path template so ids do not explode label cardinality
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, route).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, gatherer prometheus.Gatherer) {
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}
