// RecordVault - Clinical Record Backup and Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recordvault

package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tomtom215/recordvault/internal/logging"
)

// sqliteSidecars are the suffixes SQLite may create next to a database file.
var sqliteSidecars = []string{"-wal", "-shm", "-journal"}

// syncDir fsyncs a directory so a preceding rename is durable.
func syncDir(dirPath string) error {
	dir, err := os.Open(dirPath)
	if err != nil {
		return fmt.Errorf("open dir for sync: %w", err)
	}
	defer dir.Close()

	if err := dir.Sync(); err != nil {
		return fmt.Errorf("sync dir: %w", err)
	}
	return nil
}

// writeFileAtomic writes data to path via temp file, fsync and rename.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmpPath := path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	cleanupTmp := true
	defer func() {
		if cleanupTmp {
			f.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	cleanupTmp = false

	if err := syncDir(filepath.Dir(path)); err != nil {
		logging.Warn().Err(err).Str("path", path).Msg("Directory sync failed (file still written)")
	}
	return nil
}

// copyFileAtomic streams src into dst via a temp file in dst's directory,
// hashing on the way. dst is replaced by rename so it is never half-written.
func copyFileAtomic(src, dst string, perm os.FileMode) (hash string, size int64, err error) {
	tmpPath := dst + tempExt
	hash, size, err = stageFile(src, tmpPath, perm)
	if err != nil {
		return "", 0, err
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("atomic rename: %w", err)
	}
	if err := syncDir(filepath.Dir(dst)); err != nil {
		logging.Warn().Err(err).Str("path", dst).Msg("Directory sync failed (file still written)")
	}
	return hash, size, nil
}

// stageFile copies src to tmpPath, fsyncs it and returns the hex SHA-256 of
// the bytes written. tmpPath is removed on any failure.
func stageFile(src, tmpPath string, perm os.FileMode) (hash string, size int64, err error) {
	in, err := os.Open(src)
	if err != nil {
		return "", 0, fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}

	cleanupTmp := true
	defer func() {
		if cleanupTmp {
			out.Close()
			os.Remove(tmpPath)
		}
	}()

	hasher := sha256.New()
	cw := &countingWriter{w: out}
	buf := make([]byte, hashChunkSize)
	if _, err := io.CopyBuffer(io.MultiWriter(cw, hasher), in, buf); err != nil {
		return "", 0, fmt.Errorf("copy: %w", err)
	}
	if err := out.Sync(); err != nil {
		return "", 0, fmt.Errorf("sync: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", 0, fmt.Errorf("close file: %w", err)
	}
	cleanupTmp = false
	return hex.EncodeToString(hasher.Sum(nil)), cw.count, nil
}

// removeWithSidecars deletes a SQLite file and any -wal/-shm/-journal files.
func removeWithSidecars(path string) error {
	var errs []error
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, err)
	}
	removeSidecars(path)
	return errors.Join(errs...)
}

// removeSidecars deletes stale SQLite sidecar files for path.
func removeSidecars(path string) {
	for _, suffix := range sqliteSidecars {
		if err := os.Remove(path + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			logging.Warn().Err(err).Str("path", path+suffix).Msg("Failed to remove SQLite sidecar")
		}
	}
}

// sidecarAsideSuffix marks live sidecars parked during a restore swap.
const sidecarAsideSuffix = ".pre-restore"

// setSidecarsAside renames the sidecars of path out of SQLite's sight and
// returns the original paths it moved. On error nothing stays moved.
func setSidecarsAside(path string) ([]string, error) {
	var moved []string
	for _, suffix := range sqliteSidecars {
		p := path + suffix
		if err := os.Rename(p, p+sidecarAsideSuffix); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			putSidecarsBack(moved)
			return nil, fmt.Errorf("set aside %s: %w", p, err)
		}
		moved = append(moved, p)
	}
	return moved, nil
}

// putSidecarsBack undoes setSidecarsAside.
func putSidecarsBack(moved []string) {
	for _, p := range moved {
		if err := os.Rename(p+sidecarAsideSuffix, p); err != nil {
			logging.Error().Err(err).Str("path", p).Msg("Failed to put SQLite sidecar back")
		}
	}
}

// dropSidecarsAside deletes sidecars parked by setSidecarsAside.
func dropSidecarsAside(moved []string) {
	for _, p := range moved {
		if err := os.Remove(p + sidecarAsideSuffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			logging.Warn().Err(err).Str("path", p+sidecarAsideSuffix).Msg("Failed to remove parked SQLite sidecar")
		}
	}
}

// fileSize returns the size of path, or an error wrapping os.ErrNotExist.
func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%s is a directory", path)
	}
	return info.Size(), nil
}
