// RecordVault - Clinical Record Backup and Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recordvault

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/tomtom215/recordvault/internal/metrics"
)

// ChiMiddlewareConfig holds configuration for Chi middleware factories.
type ChiMiddlewareConfig struct {
	// CORSAllowedOrigins is empty by default; no cross-origin access
	CORSAllowedOrigins []string
	CORSMaxAge         int

	// Mutating requests per window per client
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Restore requests per window per client
	RestoreRateLimit  int
	RestoreRateWindow time.Duration

	RateLimitDisabled bool
	RateLimitKeyFunc  httprate.KeyFunc
}

// DefaultChiMiddlewareConfig returns the default middleware configuration.
func DefaultChiMiddlewareConfig() *ChiMiddlewareConfig {
	return &ChiMiddlewareConfig{
		CORSAllowedOrigins: []string{},
		CORSMaxAge:         300,
		RateLimitRequests:  30,
		RateLimitWindow:    time.Minute,
		RestoreRateLimit:   3,
		RestoreRateWindow:  10 * time.Minute,
	}
}

// ChiMiddleware builds the rate limiting and CORS middleware.
type ChiMiddleware struct {
	config *ChiMiddlewareConfig
	cors   func(http.Handler) http.Handler
}

// NewChiMiddleware creates the middleware set. A nil config uses the defaults.
func NewChiMiddleware(config *ChiMiddlewareConfig) *ChiMiddleware {
	if config == nil {
		config = DefaultChiMiddlewareConfig()
	}

	// go-chi/cors treats an empty origin list as a wildcard
	corsHandler := func(next http.Handler) http.Handler { return next }
	if len(config.CORSAllowedOrigins) > 0 {
		corsHandler = cors.Handler(cors.Options{
			AllowedOrigins: config.CORSAllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         config.CORSMaxAge,
		})
	}

	return &ChiMiddleware{
		config: config,
		cors:   corsHandler,
	}
}

// CORS returns the CORS middleware. With no allowed origins every
// cross-origin request is refused.
func (m *ChiMiddleware) CORS() func(http.Handler) http.Handler {
	return m.cors
}

// RateLimit limits mutating endpoints per client IP.
func (m *ChiMiddleware) RateLimit() func(http.Handler) http.Handler {
	return m.limiter(m.config.RateLimitRequests, m.config.RateLimitWindow)
}

// RateLimitRestore is the stricter limiter in front of restores.
func (m *ChiMiddleware) RateLimitRestore() func(http.Handler) http.Handler {
	return m.limiter(m.config.RestoreRateLimit, m.config.RestoreRateWindow)
}

func (m *ChiMiddleware) limiter(requests int, window time.Duration) func(http.Handler) http.Handler {
	if m.config.RateLimitDisabled || requests <= 0 || window <= 0 {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	keyFunc := m.config.RateLimitKeyFunc
	if keyFunc == nil {
		keyFunc = httprate.KeyByIP
	}

	return httprate.Limit(
		requests,
		window,
		httprate.WithKeyFuncs(keyFunc),
		httprate.WithLimitHandler(rateLimitExceeded),
	)
}

// rateLimitExceeded writes the JSON 429 and counts the hit by route.
func rateLimitExceeded(w http.ResponseWriter, r *http.Request) {
	endpoint := r.URL.Path
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			endpoint = pattern
		}
	}
	metrics.RecordRateLimitHit(endpoint)
	respondError(w, r, http.StatusTooManyRequests, CodeRateLimited, "Rate limit exceeded, retry later", nil)
}

// APISecurityHeaders sets the response headers every API response carries.
func APISecurityHeaders() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer")
			if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
				w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}
