/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, the middleware stack and the route table.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, logged and echoed in errors
  2. RealIP:     Client address behind a proxy
  3. Logger:     zerolog request log (method, path, status, latency)
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Timeout:    Per-request deadline passed to storage via the context
  6. CORS:       Cross-origin requests for the office frontend
  7. Actor:      Who performs writes (JWT subject or X-Actor-ID)

ROUTE GROUPS:
  /api/fees/*        Fee records: register, edit, reverse, list, history, receipt
  /api/students/*    Student directory (reference data)
  /api/sessions/*    Academic sessions (reference data)
  /api/schedules/*   Fee schedules per session
  /api/audit/*       Ledger drift sweeps
  /api/scenarios/*   Demo data, only with RouterConfig.Scenarios
  /api/healthz       Liveness, no auth

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Request logger and actor resolution
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// RouterConfig carries the HTTP settings from config.Config.
type RouterConfig struct {
	Logger         zerolog.Logger
	CORSOrigins    []string
	RequestTimeout time.Duration
	JWTSecret      string

	// Scenarios mounts /api/scenarios. Loading one resets the ledger, so
	// production leaves it off.
	Scenarios bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", ActorHeader},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/healthz", h.Health)

		r.Group(func(r chi.Router) {
			r.Use(Actor(cfg.JWTSecret))

			r.Route("/fees", func(r chi.Router) {
				r.Get("/", h.ListFees)
				r.Post("/register", h.RegisterFee)
				r.Get("/{id}", h.GetFee)
				r.Patch("/{id}", h.EditFee)
				r.Delete("/{id}", h.ReverseFee)
				r.Get("/{id}/transactions", h.GetFeeTransactions)
				r.Get("/{id}/receipt", h.GetFeeReceipt)
			})

			r.Route("/students", func(r chi.Router) {
				r.Get("/", h.ListStudents)
				r.Post("/", h.CreateStudent)
				r.Get("/{id}", h.GetStudent)
			})

			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", h.ListSessions)
				r.Post("/", h.CreateSession)
			})

			r.Route("/schedules", func(r chi.Router) {
				r.Get("/", h.ListSchedules)
				r.Post("/", h.CreateSchedule)
				r.Get("/{id}", h.GetSchedule)
			})

			r.Route("/audit", func(r chi.Router) {
				r.Get("/runs", h.ListAuditRuns)
				r.Post("/run", h.RunAudit)
			})

			if cfg.Scenarios {
				r.Route("/scenarios", func(r chi.Router) {
					r.Get("/", h.ListScenarios)
					r.Get("/current", h.GetCurrentScenario)
					r.Post("/load", h.LoadScenario)
				})
			}
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, CodeNotFound, "Route not found", nil)
	})

	return r
}
