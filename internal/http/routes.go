package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/o2server/internal/rate"
)

// NewRouter arma el router público. El orden de middlewares importa: request
// id primero (todo lo demás loguea con él), recover antes de cualquier handler.
func NewRouter(s *Server, metricsHandler http.Handler, limiter rate.Limiter) http.Handler {
	r := chi.NewRouter()

	r.Use(WithRequestID)
	r.Use(WithRecover)
	r.Use(WithSecurityHeaders)
	r.Use(WithLogging)
	r.Use(WithMetrics)
	r.Use(func(next http.Handler) http.Handler { return WithRateLimit(next, limiter) })

	// endpoints canónicos en la raíz; /oauth2/* queda como alias
	r.Post("/token", s.handleToken)
	r.Get("/authorize", s.handleAuthorize)
	r.Get("/authorize/callback", s.handleCallback)

	r.Route("/oauth2", func(r chi.Router) {
		r.Post("/token", s.handleToken)
		r.Get("/authorize", s.handleAuthorize)
		r.Get("/authorize/callback", s.handleCallback)
		r.Post("/revoke", s.handleRevoke)
		r.Post("/introspect", s.handleIntrospect)
	})

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	return r
}
