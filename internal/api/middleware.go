// AssetSentry - Protected Asset Delivery Guard
// Copyright 2026 The AssetSentry Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/assetsentry/assetsentry

package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/golang-jwt/jwt/v5"

	"github.com/assetsentry/assetsentry/internal/logging"
)

// MiddlewareConfig holds configuration for the middleware factories.
type MiddlewareConfig struct {
	// CORS configuration. Origins default to empty, requiring explicit
	// configuration so a deployment never ships with wildcard CORS by
	// accident.
	CORSAllowedOrigins []string
	CORSAllowedMethods []string
	CORSAllowedHeaders []string
	CORSMaxAge         int // seconds

	// Download rate limiting, keyed by client IP.
	DownloadLimitRequests int
	DownloadLimitWindow   time.Duration

	// Reporting rate limiting. Read-only endpoints get a more
	// permissive budget.
	ReportLimitRequests int
	ReportLimitWindow   time.Duration

	RateLimitDisabled bool
}

// DefaultMiddlewareConfig returns secure defaults.
func DefaultMiddlewareConfig() *MiddlewareConfig {
	return &MiddlewareConfig{
		CORSAllowedOrigins: []string{},
		CORSAllowedMethods: []string{"GET", "POST", "OPTIONS"},
		CORSAllowedHeaders: []string{"Content-Type", "Authorization"},
		CORSMaxAge:         86400,

		DownloadLimitRequests: 60,
		DownloadLimitWindow:   time.Minute,

		ReportLimitRequests: 600,
		ReportLimitWindow:   time.Minute,
	}
}

// Middleware provides chi-compatible middleware factories backed by the
// go-chi ecosystem implementations.
type Middleware struct {
	config *MiddlewareConfig
	cors   func(http.Handler) http.Handler
}

// NewMiddleware creates a middleware factory with the given configuration.
func NewMiddleware(config *MiddlewareConfig) *Middleware {
	if config == nil {
		config = DefaultMiddlewareConfig()
	}

	corsHandler := cors.Handler(cors.Options{
		AllowedOrigins: config.CORSAllowedOrigins,
		AllowedMethods: config.CORSAllowedMethods,
		AllowedHeaders: config.CORSAllowedHeaders,
		MaxAge:         config.CORSMaxAge,
	})

	return &Middleware{
		config: config,
		cors:   corsHandler,
	}
}

// CORS returns the CORS middleware built on go-chi/cors.
func (m *Middleware) CORS() func(http.Handler) http.Handler {
	return m.cors
}

// RateLimitDownloads limits download attempts per client IP. The limit
// applies before the guard runs, so a hammering client is shed cheaply
// without taking locks or writing audit entries.
func (m *Middleware) RateLimitDownloads() func(http.Handler) http.Handler {
	return m.limit(m.config.DownloadLimitRequests, m.config.DownloadLimitWindow)
}

// RateLimitReports limits reporting and health requests per client IP.
func (m *Middleware) RateLimitReports() func(http.Handler) http.Handler {
	return m.limit(m.config.ReportLimitRequests, m.config.ReportLimitWindow)
}

func (m *Middleware) limit(requests int, window time.Duration) func(http.Handler) http.Handler {
	if m.config.RateLimitDisabled {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		requests,
		window,
		httprate.WithKeyFuncs(httprate.KeyByRealIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			NewResponseWriter(w, r).TooManyRequests("rate limit exceeded", 0)
		}),
	)
}

// RequestIDWithLogging adds a request ID to the context and the
// X-Request-ID response header, and threads it through the logging
// context so every log line of the request carries it.
func RequestIDWithLogging() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		chiRequestID := chimiddleware.RequestID(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = logging.GenerateRequestID()
				r.Header.Set("X-Request-ID", requestID)
			}
			w.Header().Set("X-Request-ID", requestID)

			ctx := logging.ContextWithRequestID(r.Context(), requestID)
			chiRequestID.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireJWT authenticates requests with a Bearer token signed with the
// shared HMAC secret. An empty secret disables the protected endpoints
// entirely rather than leaving them open.
func RequireJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := NewResponseWriter(w, r)

			if secret == "" {
				rw.Forbidden("endpoint disabled: no API secret configured")
				return
			}

			token, ok := bearerToken(r)
			if !ok {
				rw.Unauthorized("missing bearer token")
				return
			}

			claims := jwt.MapClaims{}
			parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
				}
				return []byte(secret), nil
			})
			if err != nil || !parsed.Valid {
				logging.Ctx(r.Context()).Warn().
					Err(err).
					Str("path", r.URL.Path).
					Msg("Rejected invalid bearer token")
				rw.Unauthorized("invalid bearer token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", false
	}
	return auth[len(prefix):], true
}
