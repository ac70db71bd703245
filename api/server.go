/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the finance/HR frontend

ROUTE GROUPS:
  /api/refunds/compute   Pure calculation, nothing stored
  /api/deposits/*        Reference data, assessments, audit trail
  /api/decisions/*       Approval workflow
  /api/queue/*           Finance and HR queues
  /api/scenarios/*       Demo reference data

ACTORS:
  Requests that change state must carry X-Actor-ID. Authentication
  happens upstream; this service only records who acted.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/warp/deposit-refunds/deposit"
)

// ActorHeader carries the id of the person making the request.
const ActorHeader = "X-Actor-ID"

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", ActorHeader},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/refunds/compute", h.ComputeRefund)

		r.Route("/deposits/{id}", func(r chi.Router) {
			r.Get("/", h.GetDeposit)
			r.Get("/decision", h.GetLatestDecision)
			r.Get("/audit", h.GetAuditTrail)
			r.With(requireActor).Post("/audit", h.AddAuditNote)
			r.With(requireActor).Post("/assessments", h.AssessDeposit)
		})

		r.Route("/decisions", func(r chi.Router) {
			r.With(requireActor).Post("/", h.CreateDecision)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetDecision)
				r.Group(func(r chi.Router) {
					r.Use(requireActor)
					r.Post("/submit", h.SubmitDecision)
					r.Post("/finance-approval", h.FinanceApproval)
					r.Post("/hr-review", h.HRReview)
					r.Post("/report", h.MarkReportGenerated)
					r.Post("/notification", h.MarkNotificationSent)
				})
			})
		})

		r.Route("/queue", func(r chi.Router) {
			r.Get("/", h.ListQueue)
			r.Get("/stats", h.QueueStats)
			r.Get("/hr-review", h.HRReviewQueue)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}

// =============================================================================
// ACTOR CONTEXT
// =============================================================================

type actorKey struct{}

// requireActor rejects requests without X-Actor-ID with 401.
func requireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(ActorHeader))
		if id == "" {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{
				Error: "missing " + ActorHeader + " header",
				Code:  "missing_actor",
			})
			return
		}
		ctx := context.WithValue(r.Context(), actorKey{}, deposit.ActorID(id))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func actorFrom(ctx context.Context) deposit.ActorID {
	id, _ := ctx.Value(actorKey{}).(deposit.ActorID)
	return id
}
