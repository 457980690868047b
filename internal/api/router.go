// AssetSentry - Protected Asset Delivery Guard
// Copyright 2026 The AssetSentry Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/assetsentry/assetsentry

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig holds the route-level security settings.
type RouterConfig struct {
	// JWTSecret signs admin (and optionally reporting) bearer tokens.
	// Empty disables the admin endpoints.
	JWTSecret string

	// ProtectReports additionally requires a bearer token on the
	// reporting endpoints.
	ProtectReports bool
}

// Router assembles the chi handler tree.
type Router struct {
	handler    *Handler
	middleware *Middleware
	config     RouterConfig
}

// NewRouter creates a router over the given handler and middleware set.
func NewRouter(handler *Handler, mw *Middleware, config RouterConfig) *Router {
	if mw == nil {
		mw = NewMiddleware(nil)
	}
	return &Router{
		handler:    handler,
		middleware: mw,
		config:     config,
	}
}

// Setup configures all HTTP routes.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// Global stack, applied to every route in order.
	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.middleware.CORS())

	// Download path. Wildcard so nested asset paths resolve; the
	// catalog confines them to its root.
	r.Route("/assets", func(r chi.Router) {
		r.Use(router.middleware.RateLimitDownloads())
		r.Get("/*", router.handler.Download)
	})

	// Health endpoints get the permissive budget so monitoring can
	// poll frequently.
	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(router.middleware.RateLimitReports())
		r.Get("/live", router.handler.HealthLive)
		r.Get("/ready", router.handler.HealthReady)
	})

	r.Route("/api/v1/reports", func(r chi.Router) {
		r.Use(router.middleware.RateLimitReports())
		if router.config.ProtectReports {
			r.Use(RequireJWT(router.config.JWTSecret))
		}
		r.Get("/stats", router.handler.ReportStats)
		r.Get("/history", router.handler.ReportHistory)
	})

	r.Route("/api/v1/admin", func(r chi.Router) {
		r.Use(router.middleware.RateLimitReports())
		r.Use(RequireJWT(router.config.JWTSecret))
		r.Post("/purge", router.handler.AdminPurge)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
