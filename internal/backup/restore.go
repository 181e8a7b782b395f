// RecordVault - Clinical Record Backup and Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recordvault

/*
restore.go - Restore Coordinator

Swaps a verified artifact into the live datastore location.

Sequence:
 1. refuse while the halt latch is set
 2. verify the artifact (hash against its metadata record when present)
 3. stage the artifact bytes in <live>.restore-tmp and fsync
 4. pre_restore snapshot of the live datastore (best effort)
 5. park the live -wal/-shm/-journal sidecars, rename over <live>, fsync dir
 6. re-hash the live file and compare, then drop the parked sidecars

Staging before the pre_restore snapshot means retention in that category
can never remove the artifact being restored mid-flight.

A failure in step 5 or 6 leaves the live datastore in doubt. It is reported
as critical and latches further restores off until an operator clears it.
Callers must quiesce application writes for the duration of a restore; the
rename keeps the live path from ever being empty or half written.
*/

//nolint:staticcheck // File documentation, not package doc
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tomtom215/recordvault/internal/logging"
	"github.com/tomtom215/recordvault/internal/metrics"
)

const restoreTempSuffix = ".restore-tmp"

// RestoreCoordinator restores artifacts over the live datastore.
type RestoreCoordinator struct {
	store     *Store
	state     StateStore
	livePath  string
	clock     Clock
	mu        sync.Mutex
	stageFile func(src, tmpPath string, perm os.FileMode) (string, int64, error)
	rename    func(oldpath, newpath string) error
}

// NewRestoreCoordinator creates a coordinator for the live datastore at livePath.
func NewRestoreCoordinator(store *Store, state StateStore, livePath string, clock Clock) *RestoreCoordinator {
	if clock == nil {
		clock = RealClock{}
	}
	return &RestoreCoordinator{
		store:     store,
		state:     state,
		livePath:  livePath,
		clock:     clock,
		stageFile: stageFile,
		rename:    os.Rename,
	}
}

// Halted returns the active halt record, or nil.
func (c *RestoreCoordinator) Halted() (*HaltRecord, error) {
	rec, err := c.state.RestoreHalt()
	if err != nil {
		return nil, newError(KindRecoverable, "restore_halt", "read halt latch", err)
	}
	return rec, nil
}

// ClearHalt re-enables restores after an operator has inspected the datastore.
func (c *RestoreCoordinator) ClearHalt(ctx context.Context) error {
	if err := c.state.ClearRestoreHalt(); err != nil {
		return newError(KindRecoverable, "clear_restore_halt", "clear halt latch", err)
	}
	metrics.SetRestoreHalted(false)
	logging.Ctx(ctx).Warn().Msg("Restore halt cleared by operator")
	return nil
}

// Restore replaces the live datastore with the artifact at artifactPath.
func (c *RestoreCoordinator) Restore(ctx context.Context, artifactPath string, opts RestoreOptions) (*RestoreResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	result, err := c.restoreLocked(ctx, artifactPath, opts)
	if result != nil {
		result.Duration = time.Since(start)
	}

	outcome := "success"
	if err != nil {
		outcome = string(KindOf(err))
	}
	metrics.RecordRestore(outcome, time.Since(start))
	return result, err
}

func (c *RestoreCoordinator) restoreLocked(ctx context.Context, artifactPath string, opts RestoreOptions) (*RestoreResult, error) {
	const op = "restore"
	log := logging.Ctx(ctx)

	halt, err := c.Halted()
	if err != nil {
		return nil, err
	}
	if halt != nil {
		return nil, newError(KindHalted, op,
			fmt.Sprintf("restores halted since %s: %s", halt.At.Format(time.RFC3339), halt.Reason), ErrRestoreHalted)
	}

	// Gate: nothing destructive happens unless the artifact verifies.
	check := c.store.verifyPath(ctx, artifactPath)
	if !check.Valid {
		return nil, newError(KindIntegrity, op, check.Reason, ErrInvalidBackup)
	}

	tmpPath, err := c.stage(artifactPath, check.ContentHash)
	if err != nil {
		return nil, err
	}
	staged := true
	defer func() {
		if staged {
			os.Remove(tmpPath)
		}
	}()

	result := &RestoreResult{Artifact: artifactPath}

	if !opts.SkipPreRestore {
		if size, err := fileSize(c.livePath); err == nil && size > 0 {
			pre, err := c.store.CreateSnapshot(ctx, CategoryPreRestore, c.livePath,
				"before restore of "+filepath.Base(artifactPath))
			if err != nil {
				log.Warn().Err(err).Msg("Pre-restore snapshot failed, continuing with restore")
				result.Warnings = append(result.Warnings, "pre-restore snapshot failed: "+ReasonOf(err))
			} else {
				result.PreRestoreArtifact = pre.Ref()
			}
		} else {
			result.Warnings = append(result.Warnings, "no live datastore to snapshot before restore")
		}
	}

	staged = false
	if err := c.swapLive(ctx, tmpPath, artifactPath, check.ContentHash); err != nil {
		return nil, err
	}
	result.Success = true
	result.RestoredHash = check.ContentHash

	if opts.RestoreAssets {
		n, warnings := c.restoreAssets(artifactPath)
		result.AssetsRestored = n
		result.Warnings = append(result.Warnings, warnings...)
	}

	log.Info().
		Str("artifact", artifactPath).
		Str("pre_restore", result.PreRestoreArtifact).
		Str("content_hash", result.RestoredHash).
		Msg("Datastore restored")
	return result, nil
}

// stage copies the verified artifact beside the live datastore. The live
// datastore is untouched on failure.
func (c *RestoreCoordinator) stage(artifactPath, wantHash string) (string, error) {
	const op = "restore"
	if err := os.MkdirAll(filepath.Dir(c.livePath), 0o750); err != nil {
		return "", newError(KindRecoverable, op, "create datastore directory", err)
	}

	tmpPath := c.livePath + restoreTempSuffix
	stagedHash, _, err := c.stageFile(artifactPath, tmpPath, 0o640)
	if err != nil {
		return "", newError(KindRecoverable, op, "stage artifact beside datastore", fmt.Errorf("%w: %w", ErrRestoreFailed, err))
	}
	if stagedHash != wantHash {
		os.Remove(tmpPath)
		return "", newError(KindIntegrity, op, ReasonHashMismatch+" while staging", ErrInvalidBackup)
	}
	return tmpPath, nil
}

// swapLive renames the staged copy over the live path and confirms the result.
// The live sidecars are parked rather than deleted: a -wal can hold committed
// pages not yet in the main file, so they go back if the rename fails and are
// only dropped once the restored file checks out.
func (c *RestoreCoordinator) swapLive(ctx context.Context, tmpPath, artifactPath, wantHash string) error {
	liveDir := filepath.Dir(c.livePath)
	log := logging.Ctx(ctx)

	parked, err := setSidecarsAside(c.livePath)
	if err != nil {
		os.Remove(tmpPath)
		return newError(KindRecoverable, "restore", "set aside live datastore sidecars", fmt.Errorf("%w: %w", ErrRestoreFailed, err))
	}

	// From here on the live datastore is in doubt until the final hash matches.
	if err := c.rename(tmpPath, c.livePath); err != nil {
		os.Remove(tmpPath)
		putSidecarsBack(parked)
		return c.critical(ctx, artifactPath, "replace live datastore", err)
	}
	if err := syncDir(liveDir); err != nil {
		log.Warn().Err(err).Str("dir", liveDir).Msg("Directory sync failed after restore")
	}

	liveHash, _, err := HashFile(c.livePath)
	if err != nil {
		log.Error().Strs("parked_sidecars", parked).Msg("Previous datastore sidecars kept for inspection")
		return c.critical(ctx, artifactPath, "read back live datastore", err)
	}
	if liveHash != wantHash {
		log.Error().Strs("parked_sidecars", parked).Msg("Previous datastore sidecars kept for inspection")
		return c.critical(ctx, artifactPath, "live datastore hash differs from artifact", nil)
	}
	dropSidecarsAside(parked)
	return nil
}

// critical records a failed live replacement, latches restores off and
// returns the critical error.
func (c *RestoreCoordinator) critical(ctx context.Context, artifactPath, reason string, cause error) error {
	rec := HaltRecord{Reason: reason, Artifact: artifactPath, At: c.clock.Now()}
	if cause != nil {
		rec.Reason = reason + ": " + cause.Error()
	}
	if err := c.state.SetRestoreHalt(rec); err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Failed to persist restore halt latch")
	}
	metrics.RecordRestoreCritical()
	metrics.SetRestoreHalted(true)

	logging.Ctx(ctx).Error().
		Err(cause).
		Str("kind", string(KindCritical)).
		Str("artifact", artifactPath).
		Str("datastore", c.livePath).
		Str("reason", reason).
		Msg("CRITICAL: live datastore replacement failed; restores halted until operator clears the latch")

	if cause == nil {
		cause = ErrRestoreFailed
	} else {
		cause = fmt.Errorf("%w: %w", ErrRestoreFailed, cause)
	}
	return newError(KindCritical, "restore", reason, cause)
}

// restoreAssets writes captured companion files back to their source paths.
func (c *RestoreCoordinator) restoreAssets(artifactPath string) (int, []string) {
	rec, err := readMetadata(metadataPathFor(artifactPath))
	if err != nil {
		return 0, []string{"companion files not restored: metadata record unavailable"}
	}

	var warnings []string
	restored := 0
	for _, asset := range rec.Assets {
		src := filepath.Join(assetsDirFor(artifactPath), asset.Name)
		hash, _, err := copyFileAtomic(src, asset.SourcePath, 0o640)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("companion file %s not restored: %v", asset.Name, err))
			continue
		}
		if hash != asset.ContentHash {
			warnings = append(warnings, fmt.Sprintf("companion file %s restored with unexpected hash", asset.Name))
		}
		restored++
	}
	return restored, warnings
}
