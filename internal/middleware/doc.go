// RecordVault - Clinical Record Backup and Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recordvault

/*
Package middleware provides HTTP middleware for the RecordVault API.

Key Components:

  - Request ID: UUID-based request tracking, propagated into the logging
    context so every engine log line of a request carries request_id
  - Prometheus Metrics: request count, latency and in-flight gauge, labeled
    by chi route pattern rather than raw path

Both are func(http.Handler) http.Handler and plug into chi's r.Use:

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.PrometheusMetrics)
*/
package middleware
