package service

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP surface,
// the matcher, the distance provider and the change applier.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	cacheWrite      prometheus.Histogram

	matcherRuns        *prometheus.HistogramVec
	assignmentsCreated prometheus.Counter
	slotsSkipped       prometheus.Counter
	quotaShortfalls    *prometheus.CounterVec
	routingLookups     *prometheus.CounterVec
	quotaUsed          prometheus.Gauge
	transitions        *prometheus.CounterVec
	changeSetItems     *prometheus.CounterVec
	notifications      *prometheus.CounterVec
}

// NewMetricsService registers the collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	m := &MetricsService{
		registry: registry,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "distance_cache_lookups_total",
			Help: "Distance read-through cache lookups by result",
		}, []string{"result"}),
		cacheWrite: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "distance_cache_write_seconds",
			Help:    "Latency for cache set operations",
			Buckets: prometheus.DefBuckets,
		}),
		matcherRuns: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dispatch_matcher_run_seconds",
			Help:    "Duration of auto-assignment runs",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"outcome"}),
		assignmentsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_assignments_created_total",
			Help: "Assignments created by the matcher",
		}),
		slotsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_slots_skipped_total",
			Help: "Slots the matcher could not fill at all",
		}),
		quotaShortfalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_category_quota_shortfalls_total",
			Help: "Advisory category quotas the matcher could not satisfy",
		}, []string{"category"}),
		routingLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_routing_lookups_total",
			Help: "External routing lookups by result",
		}, []string{"result"}),
		quotaUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dispatch_routing_quota_used",
			Help: "Routing calls spent in the current quota day",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_assignment_transitions_total",
			Help: "Assignment lifecycle transitions by target",
		}, []string{"to"}),
		changeSetItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_changeset_items_total",
			Help: "Change set entries by category and outcome",
		}, []string{"category", "outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_notifications_total",
			Help: "Notification hand-offs by outcome",
		}, []string{"outcome"}),
	}

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(
		m.requestDuration, m.requestTotal, m.cacheLookups, m.cacheWrite,
		m.matcherRuns, m.assignmentsCreated, m.slotsSkipped, m.quotaShortfalls,
		m.routingLookups, m.quotaUsed, m.transitions, m.changeSetItems, m.notifications, goroutines,
	)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	return m.registry
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation counts read-through cache hits and misses.
func (m *MetricsService) RecordCacheOperation(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveMatcherRun records one auto-assignment run.
func (m *MetricsService) ObserveMatcherRun(outcome string, created, skipped int, duration time.Duration) {
	if m == nil {
		return
	}
	m.matcherRuns.WithLabelValues(outcome).Observe(duration.Seconds())
	m.assignmentsCreated.Add(float64(created))
	m.slotsSkipped.Add(float64(skipped))
}

// RecordQuotaShortfall counts an unmet advisory category quota.
func (m *MetricsService) RecordQuotaShortfall(category string) {
	if m == nil {
		return
	}
	m.quotaShortfalls.WithLabelValues(category).Inc()
}

// RecordRoutingLookup counts an external routing call by result.
func (m *MetricsService) RecordRoutingLookup(result string) {
	if m == nil {
		return
	}
	m.routingLookups.WithLabelValues(result).Inc()
}

// SetQuotaUsed publishes the current day's routing usage.
func (m *MetricsService) SetQuotaUsed(count int64) {
	if m == nil {
		return
	}
	m.quotaUsed.Set(float64(count))
}

// RecordTransition counts an assignment lifecycle transition.
func (m *MetricsService) RecordTransition(to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(to).Inc()
}

// RecordChangeSetItems counts change set entries for a category.
func (m *MetricsService) RecordChangeSetItems(category, outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.changeSetItems.WithLabelValues(category, outcome).Add(float64(n))
}

// RecordNotification counts notification hand-offs.
func (m *MetricsService) RecordNotification(outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(outcome).Inc()
}
