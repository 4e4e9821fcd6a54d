package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(echoRequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(middleware.RequestSize(maxRequestBodySize))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/stats", s.handleStats)

		r.Route("/shadow", func(r chi.Router) {
			r.Get("/", s.handleGetShadow)
			r.Delete("/", s.handleDeleteShadow)
			r.Post("/get", s.handleRequestShadow)
			r.Put("/reported/{key}", s.handleUpdateReported)
		})

		r.Post("/publish", s.handlePublish)
		r.Get("/events/recent", s.handleRecentEvents)

		r.Get(s.wsPath(), s.handleWebSocket)
	})

	return r
}

// wsPath returns the configured event stream path under /api/v1.
func (s *Server) wsPath() string {
	path := s.wsCfg.Path
	if path == "" {
		return "/ws"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

// handleHealth returns the server health status. The status is "degraded"
// while the broker connection is down.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"version": s.version,
	}
	if s.broker != nil {
		connected := s.broker.IsConnected()
		resp["mqtt_connected"] = connected
		if !connected {
			resp["status"] = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
