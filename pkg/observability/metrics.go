package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
// All helper methods are safe to call on a nil *Metrics.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authorization metrics
	AuthzDecisionsTotal *prometheus.CounterVec
	AuthzDuration       prometheus.Histogram

	// Tenant context metrics
	ResolutionsTotal *prometheus.CounterVec

	// Membership and tenant mutations
	MembershipMutationsTotal *prometheus.CounterVec
	TenantMutationsTotal     *prometheus.CounterVec

	// Audit metrics
	AuditEntriesTotal  *prometheus.CounterVec
	AuditRetriesTotal  prometheus.Counter
	AuditQueueDepth    prometheus.Gauge
	AuditWriteDuration prometheus.Histogram

	// Storage metrics
	StorageOperationDuration *prometheus.HistogramVec
	StorageTimeoutsTotal     *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// otel receives decision, resolution and audit outcomes when set
	otel *OTelMetrics
}

// WithOTel also reports decisions, resolutions and audit outcomes to o
func (m *Metrics) WithOTel(o *OTelMetrics) {
	if m == nil {
		return
	}
	m.otel = o
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantguard_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenantguard_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantguard_authz_decisions_total",
				Help: "Authorization decisions by outcome and deny reason",
			},
			[]string{"decision", "reason"},
		),
		AuthzDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tenantguard_authz_duration_seconds",
				Help:    "Time spent loading state and evaluating an authorization request",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),

		ResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantguard_tenant_resolutions_total",
				Help: "Tenant context resolutions by resulting state",
			},
			[]string{"state"},
		),

		MembershipMutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantguard_membership_mutations_total",
				Help: "Membership registry mutations by operation and result",
			},
			[]string{"operation", "result"},
		),
		TenantMutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantguard_tenant_mutations_total",
				Help: "Tenant directory mutations by operation and result",
			},
			[]string{"operation", "result"},
		),

		AuditEntriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantguard_audit_entries_total",
				Help: "Audit entries by final outcome (written, dead_lettered, replayed)",
			},
			[]string{"outcome"},
		),
		AuditRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tenantguard_audit_retries_total",
				Help: "Audit write attempts that failed and were retried",
			},
		),
		AuditQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tenantguard_audit_queue_depth",
				Help: "Audit entries accepted but not yet persisted",
			},
		),
		AuditWriteDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tenantguard_audit_write_duration_seconds",
				Help:    "Audit write duration including retries",
				Buckets: prometheus.DefBuckets,
			},
		),

		StorageOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenantguard_storage_operation_duration_seconds",
				Help:    "Storage operation duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"operation"},
		),
		StorageTimeoutsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantguard_storage_timeouts_total",
				Help: "Storage operations that exceeded their deadline",
			},
			[]string{"operation"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantguard_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache", "tier"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantguard_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthzDecisionsTotal,
		m.AuthzDuration,
		m.ResolutionsTotal,
		m.MembershipMutationsTotal,
		m.TenantMutationsTotal,
		m.AuditEntriesTotal,
		m.AuditRetriesTotal,
		m.AuditQueueDepth,
		m.AuditWriteDuration,
		m.StorageOperationDuration,
		m.StorageTimeoutsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
	)

	return m
}

// ObserveDecision records an authorization decision. Reason is empty on allow.
func (m *Metrics) ObserveDecision(allowed bool, reason string, d time.Duration) {
	if m == nil {
		return
	}
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	m.AuthzDecisionsTotal.WithLabelValues(decision, reason).Inc()
	m.AuthzDuration.Observe(d.Seconds())
	if m.otel != nil {
		m.otel.recordDecision(context.Background(), decision, reason, d)
	}
}

// ObserveResolution records a tenant context resolution outcome
func (m *Metrics) ObserveResolution(state string) {
	if m == nil {
		return
	}
	m.ResolutionsTotal.WithLabelValues(state).Inc()
	if m.otel != nil {
		m.otel.recordResolution(context.Background(), state)
	}
}

// ObserveMembershipMutation records a membership registry mutation
func (m *Metrics) ObserveMembershipMutation(op string, err error) {
	if m == nil {
		return
	}
	m.MembershipMutationsTotal.WithLabelValues(op, resultLabel(err)).Inc()
}

// ObserveTenantMutation records a tenant directory mutation
func (m *Metrics) ObserveTenantMutation(op string, err error) {
	if m == nil {
		return
	}
	m.TenantMutationsTotal.WithLabelValues(op, resultLabel(err)).Inc()
}

// ObserveAudit records the final outcome of an audit entry
func (m *Metrics) ObserveAudit(outcome string) {
	if m == nil {
		return
	}
	m.AuditEntriesTotal.WithLabelValues(outcome).Inc()
	if m.otel != nil {
		m.otel.recordAudit(context.Background(), outcome)
	}
}

// ObserveAuditRetry records a failed audit attempt that will be retried
func (m *Metrics) ObserveAuditRetry() {
	if m == nil {
		return
	}
	m.AuditRetriesTotal.Inc()
}

// AddAuditQueue adjusts the audit queue depth gauge
func (m *Metrics) AddAuditQueue(delta float64) {
	if m == nil {
		return
	}
	m.AuditQueueDepth.Add(delta)
}

// ObserveAuditWrite records an audit write duration
func (m *Metrics) ObserveAuditWrite(d time.Duration) {
	if m == nil {
		return
	}
	m.AuditWriteDuration.Observe(d.Seconds())
}

// ObserveStorage records a storage operation duration and counts timeouts
func (m *Metrics) ObserveStorage(op string, d time.Duration, timedOut bool) {
	if m == nil {
		return
	}
	m.StorageOperationDuration.WithLabelValues(op).Observe(d.Seconds())
	if timedOut {
		m.StorageTimeoutsTotal.WithLabelValues(op).Inc()
	}
}

// ObserveCache records a cache lookup. Tier is empty on a miss.
func (m *Metrics) ObserveCache(cache, tier string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.WithLabelValues(cache, tier).Inc()
		return
	}
	m.CacheMissesTotal.WithLabelValues(cache).Inc()
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Requests are labelled with the mux route template to bound cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			route := "unmatched"
			if cur := mux.CurrentRoute(r); cur != nil {
				if tpl, err := cur.GetPathTemplate(); err == nil {
					route = tpl
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler returns the /metrics endpoint handler
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
