// AssetSentry - Protected Asset Delivery Guard
// Copyright 2026 The AssetSentry Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/assetsentry/assetsentry

package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return token
}

func TestRequireJWT(t *testing.T) {
	const secret = "s3cret"

	valid := signToken(t, secret, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})
	expired := signToken(t, secret, jwt.MapClaims{"exp": time.Now().Add(-time.Hour).Unix()})
	wrongKey := signToken(t, "other", jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})

	tests := []struct {
		name     string
		secret   string
		header   string
		wantCode int
	}{
		{"valid token", secret, "Bearer " + valid, http.StatusOK},
		{"no header", secret, "", http.StatusUnauthorized},
		{"not bearer", secret, "Basic abc", http.StatusUnauthorized},
		{"expired token", secret, "Bearer " + expired, http.StatusUnauthorized},
		{"wrong key", secret, "Bearer " + wrongKey, http.StatusUnauthorized},
		{"garbage token", secret, "Bearer not.a.jwt", http.StatusUnauthorized},
		{"no secret configured", "", "Bearer " + valid, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := RequireJWT(tt.secret)(okHandler())

			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
		})
	}
}

func TestRequestIDWithLogging(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("X-Request-ID")
		w.WriteHeader(http.StatusOK)
	})
	handler := RequestIDWithLogging()(inner)

	t.Run("generates when absent", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		if seen == "" {
			t.Error("expected generated request ID")
		}
		if got := rec.Header().Get("X-Request-ID"); got != seen {
			t.Errorf("response header = %q, want %q", got, seen)
		}
	})

	t.Run("preserves caller's ID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", "client-chosen")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if seen != "client-chosen" {
			t.Errorf("request ID = %q, want client-chosen", seen)
		}
	})
}

func TestRateLimitDownloads(t *testing.T) {
	mw := NewMiddleware(&MiddlewareConfig{
		DownloadLimitRequests: 2,
		DownloadLimitWindow:   time.Minute,
		ReportLimitRequests:   100,
		ReportLimitWindow:     time.Minute,
	})
	handler := mw.RateLimitDownloads()(okHandler())

	hit := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/assets/a", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if hit("10.0.0.1:1") != http.StatusOK || hit("10.0.0.1:2") != http.StatusOK {
		t.Fatal("expected first two requests allowed")
	}
	if hit("10.0.0.1:3") != http.StatusTooManyRequests {
		t.Error("expected third request limited")
	}

	// Other clients have their own budget.
	if hit("10.0.0.2:1") != http.StatusOK {
		t.Error("expected unrelated client allowed")
	}
}

func TestRateLimitDisabled(t *testing.T) {
	mw := NewMiddleware(&MiddlewareConfig{
		DownloadLimitRequests: 1,
		DownloadLimitWindow:   time.Minute,
		RateLimitDisabled:     true,
	})
	handler := mw.RateLimitDownloads()(okHandler())

	for i := 0; i < 10; i++ {
		req := httptest.NewRequest(http.MethodGet, "/assets/a", nil)
		req.RemoteAddr = "10.0.0.1:1"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d limited with limiter disabled", i)
		}
	}
}
