package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures all API routes.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://staylab.io", "http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		// Experiment lifecycle
		r.Route("/experiments", func(r chi.Router) {
			r.Get("/", h.HandleListExperiments)
			r.Post("/", h.HandleCreateExperiment)

			r.Route("/{experimentID}", func(r chi.Router) {
				r.Get("/", h.HandleGetExperiment)
				r.Put("/", h.HandleUpdateExperiment)
				r.Post("/status", h.HandleUpdateStatus)

				// Analytics
				r.Get("/stats", h.HandleExperimentStats)
				r.Get("/results", h.HandleExperimentResults)
				r.Get("/conversion", h.HandleConversionMetrics)
			})
		})

		// Assignment hot path
		r.Post("/assign", h.HandleAssign)
		r.Post("/exposure", h.HandleExposure)
		r.Get("/assignments/{experimentID}/{sessionID}", h.HandleGetAssignment)

		// Event ledger
		r.Post("/events", h.HandleTrackEvent)
		r.Get("/events", h.HandleListEvents)

		// Funnel reporting
		r.Get("/funnel", h.HandleFunnelMetrics)
		r.Get("/funnel/daily", h.HandleDailyStats)

		// Planning calculators
		r.Post("/analysis/sample-size", h.HandleSampleSize)
		r.Post("/analysis/lift", h.HandleLift)
		r.Post("/analysis/srm", h.HandleSRM)
	})

	return r
}
