// RecordVault - Clinical Record Backup and Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recordvault

// Package main is the entry point for RecordVault.
//
// RecordVault keeps verified SQLite snapshots of a clinical record datastore,
// takes them on schedule, prunes them by retention policy, watches the live
// datastore for damage and restores it safely.
//
// # Commands
//
//	recordvault serve                     run scheduler, health monitor and HTTP API
//	recordvault backup -d "before upgrade"
//	recordvault list [-c manual] [-n 20]
//	recordvault verify <category/name> | --all
//	recordvault restore <category/name | /abs/path.db> [--skip-pre-restore] [--assets]
//	recordvault restore clear-halt
//	recordvault delete <category/name>
//	recordvault health
//	recordvault status
//	recordvault retention preview <category> | apply
//	recordvault cleanup
//	recordvault reconstruct-metadata
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest priority wins):
//   - Environment variables (DATABASE_PATH, BACKUP_DIR, STATE_DIR, HTTP_PORT, ...)
//   - Config file (--config, CONFIG_PATH, ./config.yaml or /etc/recordvault/config.yaml)
//   - Built-in defaults
//
// The state store is a BadgerDB directory that only one process may hold.
// One-shot commands therefore run while the server is stopped; against a
// running server use the HTTP API instead.
//
// # Signal Handling
//
// serve shuts down gracefully on SIGINT and SIGTERM. In-flight scheduled runs
// and restores complete before the process exits.
package main

import (
	"os"

	"github.com/tomtom215/recordvault/internal/logging"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logging.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}
