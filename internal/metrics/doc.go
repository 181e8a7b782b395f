// RecordVault - Clinical Record Backup and Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recordvault

/*
Package metrics provides Prometheus metrics for the backup engine.

Every metric is registered on the default registry through promauto and
served by the API at /metrics:

	curl http://localhost:8457/metrics

# Available Metrics

Snapshot Metrics:
  - recordvault_snapshot_duration_seconds: Snapshot latency (histogram)
    Labels: category
  - recordvault_snapshots_total: Attempts (counter)
    Labels: category, result (success or error kind)
  - recordvault_snapshot_size_bytes: Last successful snapshot size (gauge)
  - recordvault_snapshot_last_success_timestamp_seconds (gauge)

Retention Metrics:
  - recordvault_retention_removals_total: Removed artifacts (counter)
    Labels: category, reason (policy, low_water, corrupted)
  - recordvault_artifacts: Stored artifacts (gauge)
  - recordvault_backup_disk_free_bytes: Free space on the backup volume (gauge)

Scheduler Metrics:
  - recordvault_scheduler_runs_total: Labels: schedule, result
  - recordvault_scheduler_skips_total: Labels: schedule, reason
  - recordvault_schedule_next_run_timestamp_seconds (gauge)

Health Metrics:
  - recordvault_datastore_healthy: 1 when the last check passed (gauge)
  - recordvault_emergency_backups_total: Labels: result
  - circuit_breaker_state: 0=closed, 1=half-open, 2=open

Restore Metrics:
  - recordvault_restores_total: Labels: result
  - recordvault_restore_critical_failures_total (counter)
  - recordvault_restore_halted: 1 while the halt latch is set (gauge)

# Usage

Components call the Record* and Set* helpers rather than touching the
collectors directly:

	start := time.Now()
	artifact, err := store.CreateSnapshot(ctx, cat, path, "")
	metrics.RecordSnapshot(string(cat), time.Since(start), size, kind, err)

# Thread Safety

All helpers are safe for concurrent use.
*/
package metrics
