// Package router mounts the OAuth2, vouch and discovery endpoints on a chi router.
package router

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/zix99/simple-auth/pkg/metrics"
	"github.com/zix99/simple-auth/pkg/ratelimit"
	"github.com/zix99/simple-auth/pkg/sessions"
	tokenapi "github.com/zix99/simple-auth/pkg/token/api"
	"github.com/zix99/simple-auth/pkg/vouch"
	"github.com/zix99/simple-auth/pkg/wellknown"
)

const (
	DefaultPrefix = "/api/v1/auth"
	JWKSPath      = "/.well-known/jwks.json"
)

// Config holds all the dependencies needed to setup routes
type Config struct {
	// Prefix is where the API is mounted, defaults to /api/v1/auth
	Prefix string

	OAuth2Handle *tokenapi.Handle
	// VouchService is optional; /vouch is not mounted without it
	VouchService     *vouch.Service
	WellKnownHandler *wellknown.Handler

	// Authenticator resolves the account of session requests
	Authenticator sessions.Authenticator
	// CSRF enables the double-submit check for cookie sessions
	CSRF bool

	// RateLimiter is optional
	RateLimiter *ratelimit.Middleware

	// Metrics is optional; exposed on MetricsPath when both are set
	Metrics     *metrics.Metrics
	MetricsPath string
}

// SetupRoutes mounts every route on the provided router
func SetupRoutes(router chi.Router, cfg Config) {
	if cfg.WellKnownHandler != nil {
		router.Get("/.well-known/oauth-authorization-server", cfg.WellKnownHandler.AuthorizationServerMetadata)
		if cfg.WellKnownHandler.HasKeys() {
			router.Get(JWKSPath, cfg.WellKnownHandler.JWKS)
		}
	}
	if cfg.Metrics != nil && cfg.MetricsPath != "" {
		router.Method(http.MethodGet, cfg.MetricsPath, cfg.Metrics.Handler())
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}

	router.Route(prefix, func(r chi.Router) {
		r.Route("/oauth2", func(r chi.Router) {
			cfg.OAuth2Handle.Routes(r, sessionMiddleware(cfg), throttle(cfg))
		})
		if cfg.VouchService != nil {
			r.Get("/vouch", cfg.VouchService.HandleVouchRequest)
		}
	})
	slog.Info("Routes mounted", "prefix", prefix, "vouch", cfg.VouchService != nil, "csrf", cfg.CSRF)
}

func sessionMiddleware(cfg Config) func(http.Handler) http.Handler {
	required := sessions.Required(cfg.Authenticator)
	if !cfg.CSRF {
		return required
	}
	return func(next http.Handler) http.Handler {
		return required(sessions.CSRF(next))
	}
}

func throttle(cfg Config) func(http.Handler) http.Handler {
	if cfg.RateLimiter == nil {
		return nil
	}
	return cfg.RateLimiter.Handler
}
