package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/shellylink/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)
	r.Use(s.rateLimitMiddleware)

	if s.prom != nil {
		r.Method(http.MethodGet, "/metrics", s.prom.handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// WebSocket (token query parameter, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/metrics", s.handleMetrics)

			r.Route("/connection", func(r chi.Router) {
				r.With(s.require(auth.PermConnectionRead)).Get("/", s.handleGetConnection)
				r.With(s.require(auth.PermConnectionManage)).Post("/reconnect", s.handleReconnect)
			})

			r.Route("/devices", func(r chi.Router) {
				r.Use(s.require(auth.PermDeviceRead))
				r.Get("/", s.handleListDevices)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.Get("/history", s.handleGetDeviceHistory)
					r.Get("/info", s.handleGetDeviceInfo)
					r.Get("/switches/{channel}", s.handleGetSwitch)

					r.Group(func(r chi.Router) {
						r.Use(s.require(auth.PermDeviceOperate))
						r.Put("/switches/{channel}", s.handleSetSwitch)
						r.Post("/rpc", s.handleRPC)
					})
				})
			})
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	info := s.conn.Info()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"version":    s.version,
		"connection": info.State,
	})
}
