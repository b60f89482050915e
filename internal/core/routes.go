package core

import (
	"github.com/go-chi/chi/v5"
)

// RouteRegistrar lets handler packages mount their own routes without the
// chassis importing them.
type RouteRegistrar interface {
	RegisterRoutes(r chi.Router)
}

// redactedHeaders are never logged with their values. The provider's
// signature header is derived from the shared secret and stays out of logs.
var redactedHeaders = []string{
	"Stripe-Signature",
	"Authorization",
	"Cookie",
}

// MountRoutes installs the middleware chain and all routes. Order matters:
// Recoverer is outermost so every panic is caught, the request id is
// assigned before anything logs, and the deadline wraps all handler work.
func (s *Server) MountRoutes(registrars ...RouteRegistrar) {
	r := s.router

	r.Use(s.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(RequestLogger(s.Logger, redactedHeaders))
	r.Use(ContextTimeoutMiddleware(s.Config.Billing.ProcessTimeout))

	r.Get("/health", s.HandleHealth)

	for _, reg := range registrars {
		reg.RegisterRoutes(r)
	}
}
