// RecordVault - Clinical Record Backup and Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recordvault

/*
Package api provides the HTTP invocation surface for the backup engine.

Every response uses the same JSON envelope:

	{"status": "success", "data": {...}, "metadata": {"timestamp": "...", "request_id": "..."}}

Engine errors are mapped to HTTP statuses by kind:

  - config: 400
  - not_found: 404
  - halted: 409 (restores are latched off until an operator clears the halt)
  - integrity: 422
  - critical: 500
  - recoverable: 503

Routes:

	GET    /healthz
	GET    /metrics
	GET    /api/v1/backups                               ?category&since&until&limit&offset
	POST   /api/v1/backups                               manual snapshot
	POST   /api/v1/backups/verify-all
	POST   /api/v1/backups/cleanup
	GET    /api/v1/backups/{category}/{name}
	DELETE /api/v1/backups/{category}/{name}
	POST   /api/v1/backups/{category}/{name}/verify
	POST   /api/v1/backups/{category}/{name}/restore
	GET    /api/v1/restore/halt
	DELETE /api/v1/restore/halt
	GET    /api/v1/schedules
	PUT    /api/v1/schedules/{name}
	GET    /api/v1/retention
	PUT    /api/v1/retention/{category}
	GET    /api/v1/retention/{category}/preview
	POST   /api/v1/retention/apply
	GET    /api/v1/health/datastore

Mutating routes share one per-client rate limit (go-chi/httprate). Restores
have their own, stricter limit. A restore keeps running when the client
disconnects.

Usage:

	handler := api.NewHandler(engine)
	mw := api.NewChiMiddleware(&api.ChiMiddlewareConfig{
	    RateLimitRequests: 30,
	    RateLimitWindow:   time.Minute,
	    RestoreRateLimit:  3,
	    RestoreRateWindow: 10 * time.Minute,
	})
	srv := &http.Server{Addr: addr, Handler: api.NewRouter(handler, mw).SetupChi()}
*/
package api
