// RecordVault - Clinical Record Backup and Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recordvault

//go:build !unix

package backup

// freeBytes reports unknown free space; disk checks are skipped.
func freeBytes(string) (int64, error) {
	return -1, nil
}
