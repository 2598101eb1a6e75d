// Package http wires the chi router: public auth endpoints, the protected
// group behind the JWT guard, and the rate-limit middleware around
// everything.
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/echonote/echonote-api/internal/auth"
	"github.com/echonote/echonote-api/internal/config"
	"github.com/echonote/echonote-api/internal/domain"
	"github.com/echonote/echonote-api/internal/ratelimit"
	"github.com/echonote/echonote-api/internal/token"
	"github.com/echonote/echonote-api/internal/transport/http/handler"
	appmiddleware "github.com/echonote/echonote-api/internal/transport/http/middleware"
)

// Deps holds the assembled services the router exposes.
type Deps struct {
	AuthService  *auth.Service
	TokenService *token.Service
	Limiter      *ratelimit.Limiter
	Users        domain.UserStore
}

// RouteLimits is the explicit per-route budget table consulted by the
// rate-limit middleware, keyed by "<METHOD> <path>". Routes without an entry
// fall back to the configured default.
func RouteLimits() ratelimit.RouteLimits {
	return ratelimit.RouteLimits{
		"POST /api/v1/auth/request-code": 5,
		"POST /api/v1/auth/verify-code":  10,
		"POST /api/v1/auth/refresh":      30,
		"POST /api/v1/auth/logout":       30,
	}
}

// NewRouter builds and returns the application router.
func NewRouter(cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(appmiddleware.RateLimit(deps.Limiter, deps.TokenService))

	authH := handler.NewAuthHandler(deps.AuthService, deps.Users)

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Post("/request-code", authH.RequestCode)
		r.Post("/verify-code", authH.VerifyCode)
		r.Post("/refresh", authH.Refresh)
		r.Post("/logout", authH.Logout)

		r.Group(func(r chi.Router) {
			r.Use(appmiddleware.Auth(deps.TokenService))
			r.Get("/me", authH.Me)
		})
	})

	return r
}
