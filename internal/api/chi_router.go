// RecordVault - Clinical Record Backup and Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recordvault

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/recordvault/internal/middleware"
)

// Router wires handlers and middleware into a Chi router.
type Router struct {
	handler       *Handler
	chiMiddleware *ChiMiddleware
}

// NewRouter creates a router. A nil middleware set uses the defaults.
func NewRouter(handler *Handler, mw *ChiMiddleware) *Router {
	if mw == nil {
		mw = NewChiMiddleware(nil)
	}
	return &Router{handler: handler, chiMiddleware: mw}
}

// SetupChi configures all HTTP routes.
func (router *Router) SetupChi() http.Handler {
	r := chi.NewRouter()

	// ========================
	// Global Middleware Stack
	// ========================
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.PrometheusMetrics)
	r.Use(router.chiMiddleware.CORS())

	r.Get("/healthz", router.handler.Liveness)
	r.Handle("/metrics", promhttp.Handler())

	// Mutating endpoints share one per-client budget
	limit := router.chiMiddleware.RateLimit()

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(APISecurityHeaders())

		// ========================
		// Snapshot Store
		// ========================
		r.Route("/backups", func(r chi.Router) {
			r.Get("/", router.handler.ListBackups)
			r.With(limit).Post("/", router.handler.CreateBackup)

			r.With(limit).Post("/verify-all", router.handler.VerifyAll)
			r.With(limit).Post("/cleanup", router.handler.CleanupCorrupted)

			r.Route("/{category}/{name}", func(r chi.Router) {
				r.Get("/", router.handler.GetBackup)
				r.With(limit).Delete("/", router.handler.DeleteBackup)
				r.With(limit).Post("/verify", router.handler.VerifyBackup)

				// Restore has the strictest limit
				r.With(router.chiMiddleware.RateLimitRestore()).Post("/restore", router.handler.RestoreBackup)
			})
		})

		// ========================
		// Restore Coordinator
		// ========================
		r.Route("/restore/halt", func(r chi.Router) {
			r.Get("/", router.handler.GetRestoreHalt)
			r.With(limit).Delete("/", router.handler.ClearRestoreHalt)
		})

		// ========================
		// Scheduler
		// ========================
		r.Route("/schedules", func(r chi.Router) {
			r.Get("/", router.handler.ListSchedules)
			r.With(limit).Put("/{name}", router.handler.SetSchedule)
		})

		// ========================
		// Retention Manager
		// ========================
		r.Route("/retention", func(r chi.Router) {
			r.Get("/", router.handler.GetRetentionPolicies)
			r.With(limit).Post("/apply", router.handler.ApplyRetention)
			r.With(limit).Put("/{category}", router.handler.SetRetentionPolicy)
			r.Get("/{category}/preview", router.handler.PreviewRetention)
		})

		// ========================
		// Health Monitor
		// ========================
		r.With(limit).Get("/health/datastore", router.handler.DatastoreHealth)
	})

	return r
}
