package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	r.Get("/health", s.handleHealth)

	// Broker callbacks
	r.Group(func(r chi.Router) {
		r.Use(s.tenantMiddleware)

		r.Post("/v1/updateContext", s.handleLegacyUpdate)
		r.Post("/v1/queryContext", s.handleLegacyQuery)
		r.Post("/v2/op/update", s.handleCurrentUpdate)
		r.Post("/v2/op/query", s.handleCurrentQuery)
		r.Post(s.cfg.NotificationPath, s.handleNotification)
	})

	return r
}
