package dispatcher

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures the mediator's API surface.
func (s *Server) setupRoutes() {
	r := s.router

	r.Post("/execute", s.handleExecute)
	r.Get("/sessions", s.handleListSessions)

	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Post("/input", s.handleSessionInput)
		r.Post("/anchor", s.handleSessionAnchor)
		r.Post("/abort", s.handleSessionAbort)
	})
}
