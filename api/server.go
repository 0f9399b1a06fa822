/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the admin frontend

ROUTE GROUPS:
  /api/rates/*        Rate schedule management
  /api/beds/*         Bed registration
  /api/occupancies/*  Occupancy ingestion
  /api/cycles/*       Billing cycle lifecycle
  /api/shares/*       Resident shares and payments
  /api/reports/*      Money aggregates
  /metrics            Prometheus scrape endpoint
  /healthz            Liveness probe

SECURITY NOTE:
  No authentication middleware currently. Actor attribution comes from
  the X-Actor header until an auth layer lands.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/voltline/billing-engine/metrics"
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
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Rate schedule routes
		r.Route("/rates", func(r chi.Router) {
			r.Get("/", h.ListRates)
			r.Post("/", h.CreateRate)
		})

		// Inventory routes
		r.Post("/beds", h.CreateBed)
		r.Post("/occupancies", h.CreateOccupancy)

		// Cycle routes
		r.Route("/cycles", func(r chi.Router) {
			r.Get("/", h.ListCycles)
			r.Post("/", h.CreateCycle)
			r.Post("/finalize", h.FinalizeBatch)
			r.Get("/{id}", h.GetCycle)
			r.Post("/{id}/calculate", h.CalculateCycle)
			r.Post("/{id}/finalize", h.FinalizeCycle)
			r.Post("/{id}/retire", h.RetireCycle)
			r.Get("/{id}/shares", h.CycleShares)
		})

		// Share and payment routes
		r.Route("/shares", func(r chi.Router) {
			r.Get("/{id}", h.GetShare)
			r.Get("/{id}/payments", h.SharePayments)
			r.Post("/{id}/payments", h.RecordPayment)
			r.Post("/{id}/cancel", h.CancelShare)
		})
		r.Post("/payments/batch", h.RecordPaymentsBatch)

		// Reporting routes
		r.Route("/reports", func(r chi.Router) {
			r.Get("/summary", h.Summary)
			r.Get("/periods", h.PeriodBreakdowns)
		})
		r.Get("/students/{id}/statement", h.StudentStatement)
	})

	// Operational endpoints
	r.Handle("/metrics", metrics.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}
