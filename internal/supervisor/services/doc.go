// RecordVault - Clinical Record Backup and Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recordvault

/*
Package services provides suture.Service wrappers for RecordVault components.

Each wrapper translates a component's own lifecycle (a blocking Run loop or
http.Server's ListenAndServe) into suture's context-aware Serve pattern:

	type Service interface {
	    Serve(ctx context.Context) error
	}

# Available Services

Backup Scheduler (SchedulerService):
  - Wraps backup.Scheduler's Run loop
  - Waits for in-flight scheduled backups before returning

Health Monitor (HealthMonitorService):
  - Wraps backup.HealthMonitor's Run loop
  - Emergency backups are throttled inside the monitor, so restarts cannot
    bypass the cool-down

HTTP Server (HTTPServerService):
  - Wraps *http.Server with graceful shutdown
  - Configurable shutdown timeout for draining in-flight restores

The state store's value log GC (state.BadgerStore) implements suture.Service
itself and needs no wrapper.

# Error Handling

A service returning an error is restarted by its supervisor with backoff.
Returning after context cancellation is a clean stop.
*/
package services
