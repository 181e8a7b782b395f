// RecordVault - Clinical Record Backup and Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recordvault

// Package logging provides zerolog-based structured logging for RecordVault.
//
// JSON output is the default; console output is available for interactive
// CLI use. Every engine component logs through the global logger or
// through Ctx, which attaches the request ID and operation carried by the
// context:
//
//	ctx = logging.ContextWithNewRequestID(ctx)
//	logging.Ctx(ctx).Info().
//	    Str("category", "manual").
//	    Str("artifact", id).
//	    Msg("Snapshot created")
//
// Common structured fields are category, artifact, schedule, reason, kind
// and severity.
//
// # Configuration
//
// Environment Variables (read by the config package):
//   - LOG_LEVEL: debug, info, warn, error (default: info)
//   - LOG_FORMAT: json, console (default: json)
//   - LOG_CALLER: true/false (default: false)
//
// # Adapters
//
// NewSlogLogger feeds sutureslog supervisor events into zerolog and
// NewBadgerLogger does the same for the badger state store.
//
// Always terminate log chains with .Msg() or .Send():
//
//	logging.Info().Str("key", "value").Msg("message")  // Correct
//	logging.Info().Str("key", "value")                 // WRONG - log not emitted
package logging
