/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. Metrics:    Request count and latency per route pattern (optional)
  5. CORS:       Cross-origin requests for the admin UI

ROUTE GROUPS:
  /api/configuration/*  Configuration versions and impact analysis
  /api/activities/*     Activity submission
  /api/activity/*       Activity review
  /api/participants/*   Participants and point history
  /api/admin/*          Repair and consistency (X-Actor-ID required)
  /api/scenarios/*      Demo scenarios
  /metrics              Prometheus scrape endpoint
  /healthz              Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/points-engine/metrics"
)

// RouterOptions configures optional router features.
type RouterOptions struct {
	CORSOrigins []string
	Metrics     *metrics.Manager
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", ActorHeader},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics.Handler())
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Configuration routes
		r.Route("/configuration", func(r chi.Router) {
			r.Post("/impact-analysis", h.ImpactAnalysis)
			r.Get("/{configType}", h.GetConfiguration)
			r.Get("/{configType}/history", h.ConfigurationHistory)
			r.With(RequireActor).Put("/{configType}", h.UpdateConfiguration)
		})

		// Activity routes
		r.Route("/activities", func(r chi.Router) {
			r.Post("/", h.SubmitActivity)
			r.Get("/{id}", h.GetActivity)
		})
		r.With(RequireActor).Patch("/activity/{id}/review", h.ReviewActivity)

		// Participant routes
		r.Route("/participants", func(r chi.Router) {
			r.Post("/", h.CreateParticipant)
			r.Get("/{id}", h.GetParticipant)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireActor)
			r.Post("/recalculate/{configType}", h.Recalculate)
			r.Get("/consistency", h.VerifyConsistency)
			r.Post("/consistency/rebuild", h.RebuildConsistency)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.With(RequireActor).Post("/load", h.LoadScenario)
		})
	})

	return r
}
