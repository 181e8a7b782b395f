// RecordVault - Clinical Record Backup and Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recordvault

// Package backup implements the backup and recovery engine for the clinical
// record datastore.
//
// # Overview
//
// The engine protects a single SQLite datastore (plus a small set of companion
// configuration and template files) with full-copy snapshots:
//   - Online, consistent snapshots via the SQLite backup API
//   - Structural and SHA-256 integrity verification of every artifact
//   - Per-category retention with a disk low-water safety valve
//   - Daily and periodic schedules with non-overlap guarantees
//   - A health monitor that takes emergency snapshots of a damaged datastore
//   - Restore with a pre-restore safety snapshot and rename-based replacement
//
// # Architecture
//
//	┌───────────┐   ┌───────────────┐
//	│ Scheduler │   │ HealthMonitor │
//	└─────┬─────┘   └───────┬───────┘
//	      │                 │
//	      ▼                 ▼
//	┌─────────────────────────────┐     ┌──────────┐
//	│            Store            │────▶│ Verifier │
//	└──────────────┬──────────────┘     └──────────┘
//	               │                          ▲
//	               ▼                          │
//	     ┌──────────────────┐     ┌───────────┴────────┐
//	     │ RetentionManager │     │ RestoreCoordinator │
//	     └──────────────────┘     └────────────────────┘
//
// Engine composes all of the above and is the only type outer layers
// (HTTP API, CLI, supervisor services) talk to.
//
// # Categories
//
// Every artifact belongs to exactly one category, which is also its
// directory under the backup root:
//
//	scheduled   - periodic schedule (interval_hours)
//	daily       - daily schedule (time_of_day)
//	manual      - operator request
//	emergency   - health monitor found a damaged datastore
//	pre_restore - safety copy taken before a restore
//
// # Errors
//
// All errors leaving Engine are *Error values with a Kind from the taxonomy
// (recoverable, integrity, critical, config, not_found, halted). Use
// errors.Is against the exported sentinels:
//
//	if errors.Is(err, backup.ErrInvalidBackup) {
//		// artifact failed verification, nothing was touched
//	}
//
// # Usage
//
//	engine, err := backup.NewEngine(cfg, stateStore)
//	if err != nil {
//		return err
//	}
//	defer engine.Close()
//
//	artifact, err := engine.CreateManualBackup(ctx, "before schema change")
//	result, err := engine.RestoreBackup(ctx, artifact.Ref(), backup.RestoreOptions{})
package backup
