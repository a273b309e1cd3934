package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/calm-otter-ops/siren/internal/api/auth"
	"github.com/calm-otter-ops/siren/internal/api/handlers"
	"github.com/calm-otter-ops/siren/internal/api/middleware"
)

// setupRouter creates and configures the chi router with all routes.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	jwtService := auth.NewJWTService(s.config.JWTSecret, s.config.TokenTTL)
	ingestLimiter := middleware.NewRateLimiter(s.config.IngestRateLimit, s.config.IngestBurst)

	// Global middleware
	r.Use(middleware.RequestLogger(s.config.Verbose))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Recoverer)
	r.Use(middleware.PrometheusMiddleware)

	alertsHandler := handlers.NewAlertsHandler(s.storage, s.machine, s.tracker)
	detectionsHandler := handlers.NewDetectionsHandler(s.ingestor)
	policiesHandler := handlers.NewPoliciesHandler(s.storage)
	schedulesHandler := handlers.NewSchedulesHandler(s.storage)
	intentsHandler := handlers.NewIntentsHandler(s.storage)

	r.Route("/api/v1", func(r chi.Router) {
		// Ingest: producers are machines, so the static producer token
		// is accepted alongside JWT, with per-IP rate limiting.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitByIP(ingestLimiter))
			r.Use(middleware.ProducerAuth(s.config.ProducerToken, jwtService))
			r.Post("/detections", detectionsHandler.Ingest)
		})

		// Operator routes require a JWT whose subject names the actor.
		r.Group(func(r chi.Router) {
			r.Use(middleware.JWTAuth(jwtService))

			r.Route("/alerts", func(r chi.Router) {
				r.Get("/", alertsHandler.List)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", alertsHandler.GetByID)
					r.Get("/history", alertsHandler.History)
					r.Get("/compliance", alertsHandler.Compliance)
					r.Get("/intents", intentsHandler.ListByAlert)
					r.Post("/acknowledge", alertsHandler.Acknowledge)
					r.Post("/investigate", alertsHandler.Investigate)
					r.Post("/resolve", alertsHandler.Resolve)
					r.Post("/close", alertsHandler.Close)
				})
			})

			r.Route("/policies", func(r chi.Router) {
				r.Get("/", policiesHandler.List)
				r.Post("/", policiesHandler.Create)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", policiesHandler.GetByID)
					r.Put("/", policiesHandler.Update)
					r.Delete("/", policiesHandler.Delete)
				})
			})

			r.Route("/schedules", func(r chi.Router) {
				r.Get("/", schedulesHandler.List)
				r.Post("/", schedulesHandler.Create)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", schedulesHandler.GetByID)
					r.Put("/", schedulesHandler.Update)
					r.Delete("/", schedulesHandler.Delete)
					r.Get("/oncall", schedulesHandler.OnCall)
				})
			})

			r.Route("/intents", func(r chi.Router) {
				r.Get("/", intentsHandler.List)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", intentsHandler.GetByID)
					r.Post("/consume", intentsHandler.Consume)
				})
			})
		})
	})

	// Health checks (public, no auth)
	r.Get("/health", s.healthHandler.Health)
	r.Get("/health/live", s.healthHandler.Live)
	r.Get("/health/ready", s.healthHandler.Ready)

	return r
}
