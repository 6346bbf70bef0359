// Package http assembles the HTTP surface: routes, middleware and the
// handlers behind them.
package http

import (
	"log/slog"
	nethttp "net/http"

	"github.com/go-chi/chi/v5"

	"github.com/preston-bernstein/livescore-service/internal/http/handlers"
	"github.com/preston-bernstein/livescore-service/internal/http/middleware"
	"github.com/preston-bernstein/livescore-service/internal/metrics"
)

// RouterDeps carries what the router needs. Admin, Verifier and Limiter are
// optional. TrustProxy honors X-Forwarded-For when resolving client
// addresses.
type RouterDeps struct {
	Handler    *handlers.Handler
	Admin      *handlers.AdminHandler
	Verifier   middleware.TokenVerifier
	Limiter    *middleware.RateLimiter
	Logger     *slog.Logger
	Recorder   *metrics.Recorder
	TrustProxy bool
}

// NewRouter registers every route behind logging and recovery. API routes
// also authenticate the caller and rate limit writes; admin routes carry
// their own static token instead.
func NewRouter(deps RouterDeps) nethttp.Handler {
	h := deps.Handler
	r := chi.NewRouter()
	r.Use(
		middleware.ClientAddress(deps.TrustProxy),
		func(next nethttp.Handler) nethttp.Handler {
			return middleware.LoggingMiddleware(deps.Logger, deps.Recorder, next)
		},
		middleware.Recovery(deps.Logger),
	)
	r.NotFound(h.NotFound)
	r.MethodNotAllowed(h.MethodNotAllowed)

	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(deps.Verifier, deps.Logger))
		if deps.Limiter != nil {
			r.Use(deps.Limiter.Middleware)
		}

		r.Route("/matches", func(r chi.Router) {
			r.Get("/", h.ListMatches)
			r.Post("/", h.CreateMatch)
			r.Get("/{id}", h.GetMatch)
			r.Post("/{id}/goals", h.AddGoal)
			r.Put("/{id}/status", h.UpdateStatus)
		})

		r.Route("/v1", func(r chi.Router) {
			r.Get("/realtime", h.Realtime)
			r.Get("/{table}", h.ListRecords)
			r.Post("/{table}", h.InsertRecord)
			r.Get("/{table}/{id}", h.GetRecord)
			r.Patch("/{table}/{id}", h.UpdateRecord)
		})
	})

	if deps.Admin != nil {
		r.Post("/admin/tokens", deps.Admin.IssueToken)
	}
	return r
}
