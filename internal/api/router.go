// Pulsefeed - Feed Ranking and Engagement Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsefeed

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/pulsefeed/internal/auth"
	"github.com/tomtom215/pulsefeed/internal/authz"
)

// RouterConfig holds the cross-cutting HTTP settings: the CORS allowlist
// and the global per-IP rate limit. Both are enforced by the chi
// ecosystem middleware (go-chi/cors, go-chi/httprate).
type RouterConfig struct {
	// CORSOrigins is the allowed-origin list; empty means same-origin
	// only, "*" allows any origin.
	CORSOrigins []string

	RateLimitReqs   int
	RateLimitWindow time.Duration
}

// DefaultRouterConfig returns the settings used when none are supplied.
func DefaultRouterConfig() *RouterConfig {
	return &RouterConfig{
		CORSOrigins:     []string{},
		RateLimitReqs:   100,
		RateLimitWindow: time.Minute,
	}
}

// Router assembles the chi route tree from the handler set and the
// auth/authz middleware.
type Router struct {
	handler *Handler
	authMW  *auth.Middleware
	authzMW *authz.Middleware
	config  *RouterConfig
}

// NewRouter wires the HTTP surface. A nil config falls back to
// DefaultRouterConfig.
func NewRouter(handler *Handler, authMW *auth.Middleware, authzMW *authz.Middleware, config *RouterConfig) *Router {
	if config == nil {
		config = DefaultRouterConfig()
	}
	return &Router{
		handler: handler,
		authMW:  authMW,
		authzMW: authzMW,
		config:  config,
	}
}

// Setup builds the route tree:
//
//	GET  /healthz
//	GET  /metrics
//	POST /api/v1/auth/login
//	GET  /api/v1/feed
//	POST /api/v1/engagements/toggle
//	GET  /api/v1/engagements/{itemID}
//	POST /api/v1/interactions
//	GET  /ws
//	POST /api/v1/admin/reco-configs
//	GET  /api/v1/admin/reco-configs
//	GET  /api/v1/admin/reco-configs/active
//	POST /api/v1/admin/reco-configs/{version}/activate
func (rt *Router) Setup() chi.Router {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   rt.config.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))
	r.Use(Instrument)

	// Unauthenticated surface.
	r.Get("/healthz", rt.handler.Healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.Limit(
			rt.config.RateLimitReqs,
			rt.config.RateLimitWindow,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
				respondError(w, http.StatusTooManyRequests, ErrCodeRateLimit, "rate limit exceeded")
			}),
		))

		// Login stays outside the authenticated group: it is how tokens
		// are obtained in the first place.
		r.Post("/auth/login", rt.handler.Login)

		r.Group(func(r chi.Router) {
			r.Use(rt.authMW.Authenticate)
			r.Use(rt.authzMW.AuthorizeRequest)

			r.Get("/feed", rt.handler.Feed)
			r.Post("/engagements/toggle", rt.handler.ToggleEngagement)
			r.Get("/engagements/{itemID}", rt.handler.EngagementState)
			r.Post("/interactions", rt.handler.RecordInteraction)

			r.Route("/admin/reco-configs", func(r chi.Router) {
				r.Post("/", rt.handler.RecoConfigCreate)
				r.Get("/", rt.handler.RecoConfigList)
				r.Get("/active", rt.handler.RecoConfigActive)
				r.Post("/{version}/activate", rt.handler.RecoConfigActivate)
			})
		})
	})

	// WebSocket endpoint. Authenticated via the token cookie fallback, no
	// rate limit: the connection is long-lived.
	r.Route("/ws", func(r chi.Router) {
		r.Use(rt.authMW.Authenticate)
		r.Use(rt.authzMW.AuthorizeRequest)
		r.Get("/", rt.handler.WebSocket)
	})

	return r
}
