package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager owns every Prometheus metric of the service. It satisfies
// points.Recorder. A disabled manager records nothing.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	registry         *prometheus.Registry

	// Configuration and recalculation
	activations          *prometheus.CounterVec
	activeVersion        *prometheus.GaugeVec
	recalculations       *prometheus.CounterVec
	recalculationFailed  *prometheus.CounterVec
	recalculatedEvents   *prometheus.CounterVec
	recalculationDelta   *prometheus.CounterVec
	recalculationLatency *prometheus.HistogramVec

	// Review
	reviews       *prometheus.CounterVec
	pointsAwarded prometheus.Counter

	// Field resolution
	ambiguousMatches     *prometheus.CounterVec
	unconfiguredCategory *prometheus.CounterVec

	// Consistency auditor
	driftedParticipants prometheus.Gauge
	auditRuns           *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewManager creates a metrics manager. Without WithRegistry a fresh registry
// with Go runtime collectors is used.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "points",
		subsystem:        "engine",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
		m.registry.MustRegister(collectors.NewGoCollector())
	}

	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.activations = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "configuration_activations_total",
		Help:      "Total number of configuration versions activated",
	}, []string{"config_type"})

	m.activeVersion = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "configuration_active_version",
		Help:      "Currently active configuration version",
	}, []string{"config_type"})

	m.recalculations = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "recalculations_total",
		Help:      "Total number of committed recalculation batches",
	}, []string{"config_type"})

	m.recalculationFailed = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "recalculation_failures_total",
		Help:      "Total number of rolled back recalculation batches by reason",
	}, []string{"config_type", "reason"})

	m.recalculatedEvents = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "recalculated_activities_total",
		Help:      "Total number of activities whose points changed during recalculation",
	}, []string{"config_type"})

	m.recalculationDelta = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "recalculation_points_moved_total",
		Help:      "Absolute points moved by recalculation",
	}, []string{"config_type"})

	m.recalculationLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "recalculation_duration_seconds",
		Help:      "Duration of committed recalculation batches",
		Buckets:   m.histogramBuckets,
	}, []string{"config_type"})

	m.reviews = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "reviews_total",
		Help:      "Total number of activity reviews by resulting status",
	}, []string{"status"})

	m.pointsAwarded = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "points_awarded_total",
		Help:      "Total points awarded by approvals",
	})

	m.ambiguousMatches = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "ambiguous_field_matches_total",
		Help:      "Answer lookups where several keys matched a rule field",
	}, []string{"field"})

	m.unconfiguredCategory = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "unconfigured_category_total",
		Help:      "Computations for categories without rules",
	}, []string{"category"})

	m.driftedParticipants = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "drifted_participants",
		Help:      "Participants whose total disagreed with their approved points at the last audit",
	})

	m.auditRuns = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "consistency_audits_total",
		Help:      "Consistency audit runs by outcome",
	}, []string{"outcome"})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests by route, method and status",
	}, []string{"route", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration by route, method and status",
		Buckets:   m.histogramBuckets,
	}, []string{"route", "method", "status_code"})
}

// Registry returns the registry the manager's metrics live on.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// =============================================================================
// ENGINE EVENTS
// =============================================================================

func (m *Manager) ConfigurationActivated(configType string, version int) {
	if !m.enabled {
		return
	}
	m.activations.WithLabelValues(configType).Inc()
	m.activeVersion.WithLabelValues(configType).Set(float64(version))
}

func (m *Manager) RecalculationCompleted(configType string, activities, pointsDelta int, elapsed time.Duration) {
	if !m.enabled {
		return
	}
	if pointsDelta < 0 {
		pointsDelta = -pointsDelta
	}
	m.recalculations.WithLabelValues(configType).Inc()
	m.recalculatedEvents.WithLabelValues(configType).Add(float64(activities))
	m.recalculationDelta.WithLabelValues(configType).Add(float64(pointsDelta))
	m.recalculationLatency.WithLabelValues(configType).Observe(elapsed.Seconds())
}

func (m *Manager) RecalculationFailed(configType, reason string) {
	if !m.enabled {
		return
	}
	m.recalculationFailed.WithLabelValues(configType, reason).Inc()
}

func (m *Manager) ActivityReviewed(status string, points int) {
	if !m.enabled {
		return
	}
	m.reviews.WithLabelValues(status).Inc()
	if points > 0 {
		m.pointsAwarded.Add(float64(points))
	}
}

func (m *Manager) AmbiguousFieldMatch(field string) {
	if !m.enabled {
		return
	}
	m.ambiguousMatches.WithLabelValues(field).Inc()
}

func (m *Manager) UnconfiguredCategory(category string) {
	if !m.enabled {
		return
	}
	m.unconfiguredCategory.WithLabelValues(category).Inc()
}

// AuditCompleted records a consistency audit. drifted < 0 means the audit failed.
func (m *Manager) AuditCompleted(drifted int) {
	if !m.enabled {
		return
	}
	if drifted < 0 {
		m.auditRuns.WithLabelValues("error").Inc()
		return
	}
	m.driftedParticipants.Set(float64(drifted))
	if drifted == 0 {
		m.auditRuns.WithLabelValues("clean").Inc()
	} else {
		m.auditRuns.WithLabelValues("drift").Inc()
	}
}

// RecordHTTPRequest records one served request.
func (m *Manager) RecordHTTPRequest(route, method, statusCode string, elapsed time.Duration) {
	if !m.enabled {
		return
	}
	m.httpRequests.WithLabelValues(route, method, statusCode).Inc()
	m.httpRequestDuration.WithLabelValues(route, method, statusCode).Observe(elapsed.Seconds())
}
