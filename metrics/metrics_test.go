package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with a custom registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("points"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithRegistry(registry),
			)

			Convey("Then it should use that registry", func() {
				So(manager, ShouldNotBeNil)
				So(manager.Registry(), ShouldEqual, registry)
			})
		})

		Convey("When creating with defaults", func() {
			manager := NewManager()

			Convey("Then it should own a fresh registry", func() {
				So(manager.Registry(), ShouldNotBeNil)
				So(manager.Registry(), ShouldNotEqual, prometheus.DefaultRegisterer)
			})
		})
	})
}

func TestEngineEvents(t *testing.T) {
	Convey("Given an enabled manager", t, func() {
		m := NewManager(WithRegistry(prometheus.NewRegistry()))

		Convey("When a configuration is activated and recalculated", func() {
			m.ConfigurationActivated("categoryRules", 3)
			m.RecalculationCompleted("categoryRules", 4, -20, 15*time.Millisecond)

			Convey("Then counters and gauges reflect it", func() {
				So(testutil.ToFloat64(m.activations.WithLabelValues("categoryRules")), ShouldEqual, 1)
				So(testutil.ToFloat64(m.activeVersion.WithLabelValues("categoryRules")), ShouldEqual, 3)
				So(testutil.ToFloat64(m.recalculatedEvents.WithLabelValues("categoryRules")), ShouldEqual, 4)
				So(testutil.ToFloat64(m.recalculationDelta.WithLabelValues("categoryRules")), ShouldEqual, 20)
			})
		})

		Convey("When a recalculation fails", func() {
			m.RecalculationFailed("positionPoints", "too_large")

			Convey("Then the failure is counted by reason", func() {
				So(testutil.ToFloat64(m.recalculationFailed.WithLabelValues("positionPoints", "too_large")), ShouldEqual, 1)
			})
		})

		Convey("When reviews and audits are recorded", func() {
			m.ActivityReviewed("Approved", 90)
			m.ActivityReviewed("Rejected", 0)
			m.AuditCompleted(2)

			Convey("Then they are visible", func() {
				So(testutil.ToFloat64(m.pointsAwarded), ShouldEqual, 90)
				So(testutil.ToFloat64(m.reviews.WithLabelValues("Rejected")), ShouldEqual, 1)
				So(testutil.ToFloat64(m.driftedParticipants), ShouldEqual, 2)
				So(testutil.ToFloat64(m.auditRuns.WithLabelValues("drift")), ShouldEqual, 1)
			})
		})
	})

	Convey("Given a disabled manager", t, func() {
		m := NewManager(WithRegistry(prometheus.NewRegistry()), WithMetricsEnabled(false))

		Convey("When events are recorded", func() {
			m.AmbiguousFieldMatch("duration")
			m.UnconfiguredCategory("Seminar")

			Convey("Then nothing is counted", func() {
				So(testutil.ToFloat64(m.ambiguousMatches.WithLabelValues("duration")), ShouldEqual, 0)
				So(testutil.ToFloat64(m.unconfiguredCategory.WithLabelValues("Seminar")), ShouldEqual, 0)
			})
		})
	})
}

func TestMiddleware(t *testing.T) {
	Convey("Given a chi router wrapped by the middleware", t, func() {
		m := NewManager(WithRegistry(prometheus.NewRegistry()))
		r := chi.NewRouter()
		r.Use(m.Middleware)
		r.Get("/api/activities/{id}", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
		r.Handle("/metrics", m.Handler())

		Convey("When a request is served", func() {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/activities/a-1", nil))

			Convey("Then it is recorded under the route pattern", func() {
				So(rec.Code, ShouldEqual, http.StatusNotFound)
				So(testutil.ToFloat64(m.httpRequests.WithLabelValues("/api/activities/{id}", "GET", "404")), ShouldEqual, 1)
			})

			Convey("Then the metrics endpoint exposes it", func() {
				out := httptest.NewRecorder()
				r.ServeHTTP(out, httptest.NewRequest(http.MethodGet, "/metrics", nil))
				So(out.Code, ShouldEqual, http.StatusOK)
				So(strings.Contains(out.Body.String(), "points_engine_http_requests_total"), ShouldBeTrue)
			})
		})
	})
}
