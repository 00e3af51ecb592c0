package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter assembles the chi router: global middleware first, then the
// public endpoints, then the authenticated API tree.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Applied to every route, auth included.
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Auth endpoints (no auth required)
		r.Post("/auth/login", s.handleLogin)

		// Prometheus metrics (no auth required; scraped by infrastructure)
		if s.metrics != nil {
			r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
		}

		// WebSocket upgrade. Browsers cannot attach an Authorization
		// header to a WebSocket dial, so the handler authenticates with
		// a single-use ticket minted by POST /auth/ws-ticket.
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			// WS ticket requires authentication - user must be logged in to request a ticket
			r.Post("/auth/ws-ticket", s.handleWSTicket)

			// Controller link
			r.Route("/link", func(r chi.Router) {
				r.Get("/", s.handleLinkStatus)
				r.With(s.requireOperator).Post("/connect", s.handleLinkConnect)
				r.With(s.requireOperator).Post("/disconnect", s.handleLinkDisconnect)
			})

			// Directory tag listing
			r.Get("/tags", s.handleListTags)

			// Discovery scans and the persisted inventory
			r.Route("/discovery", func(r chi.Router) {
				r.Route("/scan", func(r chi.Router) {
					r.Get("/", s.handleScanStatus)
					r.With(s.requireOperator).Post("/", s.handleScanStart)
					r.With(s.requireOperator).Delete("/", s.handleScanCancel)
				})
				r.Get("/inventory", s.handleGetInventory)
				r.Get("/inventory/{file}/elements", s.handleExpandInventoryFile)
			})

			// The live trend session
			r.Route("/trend", func(r chi.Router) {
				r.Get("/", s.handleTrendStatus)
				r.With(s.requireOperator).Post("/", s.handleTrendStart)
				r.With(s.requireOperator).Delete("/", s.handleTrendStop)
				r.With(s.requireOperator).Put("/tags", s.handleTrendUpdateTags)
				r.Get("/snapshot", s.handleTrendSnapshot)
				r.With(s.requireOperator).Delete("/data", s.handleTrendClear)
				r.Get("/export", s.handleTrendExport)
				r.With(s.requireOperator).Post("/import", s.handleTrendImport)
			})

			// The session archive
			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", s.handleListSessions)
				r.Get("/{id}", s.handleGetSession)
				r.With(s.requireOperator).Delete("/{id}", s.handleDeleteSession)
			})

			// Operational event log
			r.Get("/events", s.handleListEvents)

			// Runtime metrics snapshot
			r.Get("/system", s.handleSystem)
		})
	})

	return r
}

// handleHealth answers liveness probes. It deliberately touches no
// dependency: a wedged database must not make the process look dead.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
