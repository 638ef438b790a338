/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for admin frontends

ROUTE GROUPS:
  /api/accounts/*   Balance, history, streak, grants, purchases
  /api/events       Trigger event intake
  /api/rewards/*    Reward definition administration
  /api/admin/*      Adjustments, configuration workflow, sweeps

SECURITY NOTE:
  No authentication middleware. The service expects to run behind the
  platform gateway which injects verified identity.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Account routes
		r.Route("/accounts/{id}", func(r chi.Router) {
			r.Get("/", h.GetAccount)
			r.Get("/balance", h.GetBalance)
			r.Get("/transactions", h.GetTransactions)
			r.Get("/streak", h.GetStreak)
			r.Get("/grants", h.GetGrants)
			r.Get("/verify", h.VerifyAccount)
			r.Post("/purchases", h.SubmitPurchase)
			r.Post("/deactivate", h.DeactivateAccount)
		})

		// Event intake
		r.Post("/events", h.SubmitEvent)

		// Reward definition routes
		r.Route("/rewards", func(r chi.Router) {
			r.Get("/", h.ListRewards)
			r.Post("/", h.CreateReward)
			r.Get("/{id}", h.GetReward)
			r.Post("/{id}/activate", h.ActivateReward)
			r.Post("/{id}/deactivate", h.DeactivateReward)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/adjustments", h.CreateAdjustment)

			r.Route("/workflow/{adminID}", func(r chi.Router) {
				r.Get("/", h.ResumeWorkflow)
				r.Post("/", h.StepWorkflow)
				r.Delete("/", h.CancelWorkflow)
			})

			r.Route("/sweeps", func(r chi.Router) {
				r.Get("/", h.ListSweepRuns)
				r.Post("/run", h.TriggerSweep)
			})
		})
	})

	return r
}
