// Package api assembles the HTTP surface of the governance core.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/arbiterhq/arbiter/governance-core/internal/api/handlers"
	"github.com/arbiterhq/arbiter/governance-core/internal/api/middleware"
	"github.com/arbiterhq/arbiter/governance-core/internal/config"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health & info
	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(cfg))

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// Agent registry
		r.Route("/agents", func(r chi.Router) {
			r.Get("/", h.ListAgents)
			r.Post("/", h.RegisterAgent)
			r.Post("/query", h.QueryAgents)
			r.Route("/{agentID}", func(r chi.Router) {
				r.Get("/", h.GetAgent)
				r.Post("/outcome", h.RecordOutcome)
				r.Post("/load", h.UpdateLoad)
			})
		})

		// Bandit routing
		r.Post("/route", h.Route)

		// Constitution
		r.Route("/rules", func(r chi.Router) {
			r.Get("/", h.ListRules)
			r.Post("/", h.PutRule)
			r.Get("/{ruleID}", h.GetRule)
		})

		// Violations open arbitration sessions
		r.Post("/violations", h.ReportViolation)

		// Arbitration sessions
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", h.ListSessions)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", h.GetSession)
				r.Post("/cancel", h.CancelSession)
				r.Post("/close", h.CloseSession)

				// Debate round bound to the session
				r.Route("/debate", func(r chi.Router) {
					r.Get("/", h.GetDebate)
					r.Post("/arguments", h.SubmitArgument)
					r.Post("/votes", h.SubmitVote)
					r.Post("/consensus", h.CompleteDebate)
				})

				// Appeals
				r.Post("/appeals", h.SubmitAppeal)
				r.Post("/appeals/escalate", h.EscalateAppeal)
			})
		})

		// Verdicts (immutable, fetchable by id or content hash)
		r.Route("/verdicts", func(r chi.Router) {
			r.Get("/", h.ListVerdicts)
			r.Get("/{verdictID}", h.GetVerdict)
			r.Get("/hash/{hash}", h.GetVerdictByHash)
		})

		// Precedents
		r.Route("/precedents", func(r chi.Router) {
			r.Get("/", h.FindPrecedents)
			r.Get("/{precedentID}", h.GetPrecedent)
		})

		// Waivers
		r.Route("/waivers", func(r chi.Router) {
			r.Get("/", h.ListWaivers)
			r.Post("/", h.RequestWaiver)
			r.Get("/{waiverID}", h.GetWaiver)
			r.Post("/{waiverID}/{action}", h.DecideWaiver)
		})

		// Appeals, fetchable by id
		r.Get("/appeals/{appealID}", h.GetAppeal)

		// Notification channels
		r.Route("/channels", func(r chi.Router) {
			r.Get("/", h.ListChannels)
			r.Post("/", h.AddChannel)
			r.Delete("/{channelID}", h.RemoveChannel)
		})
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "arbiter-governance-core",
	})
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
		})
	}
}
