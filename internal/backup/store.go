// RecordVault - Clinical Record Backup and Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recordvault

/*
store.go - Snapshot Store

Creates, lists and deletes artifacts under the backup root, one directory
per category. Each artifact is paired with a metadata record and, when
companion files are configured, an assets directory.

Creation pipeline (per category, serialized by that category's mutex):
 1. name   - <category>-<YYYYMMDD-HHMMSS>-<seq>.db
 2. copy   - online copy into <name>.tmp
 3. verify - structural check and hash on the temp file
 4. commit - rename, capture assets, write metadata
 5. retain - retention pass for the category

Any failure after step 2 removes every file the attempt produced.
*/

//nolint:staticcheck // File documentation, not package doc
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomtom215/recordvault/internal/logging"
	"github.com/tomtom215/recordvault/internal/metrics"
)

// Store manages backup artifacts on the local filesystem.
type Store struct {
	rootDir          string
	assetPaths       []string
	diskReserveBytes int64
	copyTimeout      time.Duration

	verifier  *Verifier
	copier    Copier
	clock     Clock
	retention *RetentionManager

	seq   atomic.Uint64
	locks map[Category]*sync.Mutex

	// diskFree reports free bytes for a path; replaced in tests
	diskFree func(path string) (int64, error)
}

// NewStore creates a snapshot store rooted at cfg.RootDir.
func NewStore(cfg *Config, verifier *Verifier, copier Copier, clock Clock) *Store {
	if copier == nil {
		copier = NewSQLiteCopier()
	}
	if clock == nil {
		clock = RealClock{}
	}
	locks := make(map[Category]*sync.Mutex, len(AllCategories))
	for _, cat := range AllCategories {
		locks[cat] = &sync.Mutex{}
	}
	return &Store{
		rootDir:          cfg.RootDir,
		assetPaths:       append([]string(nil), cfg.AssetPaths...),
		diskReserveBytes: cfg.DiskReserveBytes,
		copyTimeout:      cfg.CopyTimeout,
		verifier:         verifier,
		copier:           copier,
		clock:            clock,
		locks:            locks,
		diskFree:         freeBytes,
	}
}

// RootDir returns the backup root directory.
func (s *Store) RootDir() string {
	return s.rootDir
}

func (s *Store) categoryDir(cat Category) string {
	return filepath.Join(s.rootDir, string(cat))
}

// CreateSnapshot copies sourcePath into a new verified artifact of the given
// category. Calls for the same category are serialized.
func (s *Store) CreateSnapshot(ctx context.Context, cat Category, sourcePath, description string) (*Artifact, error) {
	if !cat.Valid() {
		return nil, newError(KindConfig, "create_snapshot", "unknown category "+string(cat), ErrInvalidCategory)
	}

	lock := s.locks[cat]
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	artifact, err := s.createSnapshotLocked(ctx, cat, sourcePath, description)
	metrics.RecordSnapshot(string(cat), time.Since(start), sizeOf(artifact), string(KindOf(err)), err)

	log := logging.Ctx(ctx)
	if err != nil {
		log.Warn().Err(err).
			Str("category", string(cat)).
			Str("kind", string(KindOf(err))).
			Str("reason", ReasonOf(err)).
			Msg("Snapshot failed")
		return nil, err
	}

	log.Info().
		Str("category", string(cat)).
		Str("artifact", artifact.ID).
		Int64("size_bytes", artifact.SizeBytes).
		Str("content_hash", artifact.ContentHash).
		Dur("duration", time.Since(start)).
		Msg("Snapshot created")

	if s.retention != nil {
		if _, err := s.retention.enforceLocked(ctx, cat); err != nil {
			log.Warn().Err(err).Str("category", string(cat)).Msg("Retention after snapshot failed")
		}
		if _, err := s.retention.enforceDiskLowWater(ctx, cat); err != nil {
			log.Warn().Err(err).Msg("Low-water retention after snapshot failed")
		}
	}
	return artifact, nil
}

func (s *Store) createSnapshotLocked(ctx context.Context, cat Category, sourcePath, description string) (*Artifact, error) {
	const op = "create_snapshot"

	size, err := fileSize(sourcePath)
	if err != nil || size == 0 {
		return nil, newError(KindRecoverable, op, "source "+sourcePath+" is missing or empty", ErrSourceMissing)
	}

	dir := s.categoryDir(cat)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, newError(KindRecoverable, op, "create category directory", err)
	}

	if err := s.ensureDiskSpace(ctx, cat, dir, size); err != nil {
		return nil, err
	}

	createdAt := s.clock.Now()
	name := s.nextName(dir, cat, createdAt)
	finalPath := filepath.Join(dir, name)
	tmpPath := finalPath + tempExt

	cleanup := true
	defer func() {
		if !cleanup {
			return
		}
		// Mandatory: never leave an unverified or half-committed artifact behind.
		if err := removeWithSidecars(tmpPath); err != nil {
			logging.Error().Err(err).Str("path", tmpPath).Msg("Failed to remove temp artifact")
		}
		if err := removeWithSidecars(finalPath); err != nil {
			logging.Error().Err(err).Str("path", finalPath).Msg("Failed to remove rejected artifact")
		}
		os.RemoveAll(assetsDirFor(finalPath))
		os.Remove(metadataPathFor(finalPath))
	}()

	copyCtx, cancel := context.WithTimeout(ctx, s.copyTimeout)
	defer cancel()
	if err := s.copier.Copy(copyCtx, sourcePath, tmpPath); err != nil {
		return nil, newError(KindRecoverable, op, "online copy failed", err)
	}
	removeSidecars(tmpPath)

	result := s.verifier.Verify(ctx, tmpPath, "")
	if !result.Valid {
		return nil, newError(KindIntegrity, op, result.Reason, ErrCorruptSnapshot)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return nil, newError(KindRecoverable, op, "commit artifact", err)
	}
	if err := syncDir(dir); err != nil {
		logging.Warn().Err(err).Str("dir", dir).Msg("Directory sync failed (artifact still written)")
	}

	assets, err := s.captureAssets(finalPath)
	if err != nil {
		return nil, newError(KindRecoverable, op, "capture companion files", err)
	}

	rec := &MetadataRecord{
		Filename:      name,
		Category:      cat,
		CreatedAt:     createdAt,
		SizeBytes:     result.SizeBytes,
		ContentHash:   result.ContentHash,
		SourcePath:    sourcePath,
		Description:   description,
		Assets:        assets,
		EngineVersion: EngineVersion,
	}
	if err := writeMetadata(finalPath, rec); err != nil {
		return nil, newError(KindRecoverable, op, "write metadata record", err)
	}

	cleanup = false
	return rec.toArtifact(dir), nil
}

// nextName returns an unused artifact file name. The sequence counter keeps
// names unique when two snapshots land in the same second.
func (s *Store) nextName(dir string, cat Category, t time.Time) string {
	for {
		name := artifactName(cat, t, s.seq.Add(1))
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			continue
		}
		if _, err := os.Stat(p + tempExt); err == nil {
			continue
		}
		return name
	}
}

func (s *Store) ensureDiskSpace(ctx context.Context, cat Category, dir string, need int64) error {
	free, err := s.diskFree(dir)
	if err != nil || free < 0 {
		return nil // unknown; let the copy fail on its own if the disk is full
	}
	metrics.SetDiskFreeBytes(free)

	required := need + s.diskReserveBytes
	if free >= required {
		return nil
	}

	if s.retention != nil {
		if _, err := s.retention.enforceDiskLowWater(ctx, cat); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("Low-water retention failed")
		}
		if free, err = s.diskFree(dir); err == nil && free >= required {
			return nil
		}
	}
	return newError(KindRecoverable, "create_snapshot",
		fmt.Sprintf("need %d bytes free, have %d", required, free), ErrDiskSpaceLow)
}

// captureAssets copies the configured companion files beside the artifact.
// Missing companion files are logged and skipped.
func (s *Store) captureAssets(artifactPath string) ([]AssetRecord, error) {
	if len(s.assetPaths) == 0 {
		return nil, nil
	}
	dir := assetsDirFor(artifactPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create assets directory: %w", err)
	}

	used := make(map[string]bool, len(s.assetPaths))
	records := make([]AssetRecord, 0, len(s.assetPaths))
	for i, src := range s.assetPaths {
		if _, err := fileSize(src); err != nil {
			logging.Warn().Err(err).Str("asset", src).Msg("Companion file missing, skipped")
			continue
		}
		name := filepath.Base(src)
		if used[name] {
			name = fmt.Sprintf("%d-%s", i, name)
		}
		used[name] = true

		hash, size, err := copyFileAtomic(src, filepath.Join(dir, name), 0o640)
		if err != nil {
			return nil, fmt.Errorf("copy %s: %w", src, err)
		}
		records = append(records, AssetRecord{Name: name, SourcePath: src, SizeBytes: size, ContentHash: hash})
	}
	return records, nil
}

// ResolveRef maps a "<category>/<filename>" reference to its category and
// absolute artifact path. References that escape the backup root are rejected.
func (s *Store) ResolveRef(ref string) (Category, string, error) {
	const op = "resolve_ref"
	clean := path.Clean(strings.ReplaceAll(ref, "\\", "/"))
	catPart, name, ok := strings.Cut(clean, "/")
	if !ok || name == "" || strings.Contains(name, "/") || name == "." || name == ".." {
		return "", "", newError(KindConfig, op, "invalid backup reference "+ref, ErrInvalidConfig)
	}
	cat := Category(catPart)
	if !cat.Valid() {
		return "", "", newError(KindConfig, op, "unknown category "+catPart, ErrInvalidCategory)
	}
	if !strings.HasSuffix(name, artifactExt) {
		return "", "", newError(KindConfig, op, "backup reference must name a "+artifactExt+" artifact", ErrInvalidConfig)
	}
	return cat, filepath.Join(s.categoryDir(cat), name), nil
}

// Get returns the artifact for ref.
func (s *Store) Get(ref string) (*Artifact, error) {
	cat, p, err := s.ResolveRef(ref)
	if err != nil {
		return nil, err
	}
	return s.artifactAt(cat, p)
}

func (s *Store) artifactAt(cat Category, artifactPath string) (*Artifact, error) {
	rec, err := readMetadata(metadataPathFor(artifactPath))
	if err == nil {
		return rec.toArtifact(filepath.Dir(artifactPath)), nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, newError(KindIntegrity, "get_backup", "unreadable metadata record", err)
	}

	// Artifact without a metadata record: describe it from its name.
	size, statErr := fileSize(artifactPath)
	if statErr != nil {
		return nil, newError(KindNotFound, "get_backup", filepath.Base(artifactPath), ErrBackupNotFound)
	}
	_, createdAt, _ := parseArtifactName(filepath.Base(artifactPath))
	return &Artifact{
		ID:        filepath.Base(artifactPath),
		Category:  cat,
		CreatedAt: createdAt,
		SizeBytes: size,
		Path:      artifactPath,
	}, nil
}

// listCategory returns every artifact of a category, oldest first. Artifacts
// with a missing metadata record and records with a missing artifact are both
// included so retention and verification can see them.
func (s *Store) listCategory(cat Category) ([]*Artifact, error) {
	dir := s.categoryDir(cat)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}

	byName := make(map[string]*Artifact)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		switch {
		case strings.HasSuffix(name, metadataExt):
			rec, err := readMetadata(filepath.Join(dir, name))
			if err != nil {
				logging.Warn().Err(err).Str("file", name).Msg("Skipping unreadable metadata record")
				continue
			}
			byName[rec.Filename] = rec.toArtifact(dir)
		case strings.HasSuffix(name, artifactExt):
			if _, ok := byName[name]; ok {
				continue
			}
			if _, err := os.Stat(metadataPathFor(filepath.Join(dir, name))); err == nil {
				continue // record will be (or was) read from its .json entry
			}
			_, createdAt, ok := parseArtifactName(name)
			if !ok {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			byName[name] = &Artifact{
				ID:        name,
				Category:  cat,
				CreatedAt: createdAt,
				SizeBytes: info.Size(),
				Path:      filepath.Join(dir, name),
			}
		}
	}

	artifacts := make([]*Artifact, 0, len(byName))
	for _, a := range byName {
		artifacts = append(artifacts, a)
	}
	sortOldestFirst(artifacts)
	metrics.SetArtifactCount(string(cat), len(artifacts))
	return artifacts, nil
}

func sortOldestFirst(artifacts []*Artifact) {
	sort.SliceStable(artifacts, func(i, j int) bool {
		if !artifacts[i].CreatedAt.Equal(artifacts[j].CreatedAt) {
			return artifacts[i].CreatedAt.Before(artifacts[j].CreatedAt)
		}
		return artifacts[i].ID < artifacts[j].ID
	})
}

// List returns artifacts matching opts, newest first.
func (s *Store) List(opts ListOptions) ([]*Artifact, error) {
	categories := AllCategories
	if opts.Category != "" {
		if !opts.Category.Valid() {
			return nil, newError(KindConfig, "list_backups", "unknown category "+string(opts.Category), ErrInvalidCategory)
		}
		categories = []Category{opts.Category}
	}

	var all []*Artifact
	for _, cat := range categories {
		artifacts, err := s.listCategory(cat)
		if err != nil {
			return nil, newError(KindRecoverable, "list_backups", "read category "+string(cat), err)
		}
		for _, a := range artifacts {
			if opts.Since != nil && a.CreatedAt.Before(*opts.Since) {
				continue
			}
			if opts.Until != nil && a.CreatedAt.After(*opts.Until) {
				continue
			}
			all = append(all, a)
		}
	}

	sortOldestFirst(all)
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(all) {
			return []*Artifact{}, nil
		}
		all = all[opts.Offset:]
	}
	if opts.Limit > 0 && len(all) > opts.Limit {
		all = all[:opts.Limit]
	}
	return all, nil
}

// Delete removes an artifact by operator request.
func (s *Store) Delete(ctx context.Context, ref string) error {
	cat, p, err := s.ResolveRef(ref)
	if err != nil {
		return err
	}

	lock := s.locks[cat]
	lock.Lock()
	defer lock.Unlock()

	artifact, err := s.artifactAt(cat, p)
	if err != nil {
		return err
	}
	if err := s.deleteArtifact(artifact); err != nil {
		return newError(KindRecoverable, "delete_backup", "remove artifact", err)
	}
	logging.Ctx(ctx).Info().Str("category", string(cat)).Str("artifact", artifact.ID).Msg("Backup deleted")
	return nil
}

// deleteArtifact removes an artifact and its companions as one logical unit.
// The artifact goes first; a metadata removal failure after that is logged,
// not returned, so a retention pass is never aborted halfway.
func (s *Store) deleteArtifact(a *Artifact) error {
	if err := removeWithSidecars(a.Path); err != nil {
		return fmt.Errorf("remove %s: %w", a.ID, err)
	}
	if err := os.RemoveAll(assetsDirFor(a.Path)); err != nil {
		logging.Warn().Err(err).Str("artifact", a.ID).Msg("Failed to remove companion files")
	}
	if err := os.Remove(metadataPathFor(a.Path)); err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.Warn().Err(err).Str("artifact", a.ID).Msg("Failed to remove metadata record")
	}
	return nil
}

// VerifyArtifact re-verifies a stored artifact against its metadata record.
func (s *Store) VerifyArtifact(ctx context.Context, ref string) (*VerificationResult, error) {
	_, p, err := s.ResolveRef(ref)
	if err != nil {
		return nil, err
	}
	result := s.verifyPath(ctx, p)
	result.Ref = ref
	return &result, nil
}

// verifyPath verifies the artifact at p, using its metadata record (if any)
// for the expected hash, size and companion file hashes.
func (s *Store) verifyPath(ctx context.Context, p string) VerificationResult {
	rec, err := readMetadata(metadataPathFor(p))
	if err != nil {
		rec = nil
	}

	expected := ""
	if rec != nil {
		expected = rec.ContentHash
	}
	result := s.verifier.Verify(ctx, p, expected)
	if !result.Valid || rec == nil {
		return result
	}

	if rec.SizeBytes != result.SizeBytes {
		result.Valid = false
		result.Reason = ReasonSizeMismatch
		return result
	}
	for _, asset := range rec.Assets {
		hash, _, err := HashFile(filepath.Join(assetsDirFor(p), asset.Name))
		if err != nil || hash != asset.ContentHash {
			result.Valid = false
			result.Reason = ReasonAssetMismatch + ": " + asset.Name
			return result
		}
	}
	return result
}

// VerifyAll verifies every stored artifact.
func (s *Store) VerifyAll(ctx context.Context) ([]VerificationResult, error) {
	var results []VerificationResult
	for _, cat := range AllCategories {
		artifacts, err := s.listCategory(cat)
		if err != nil {
			return nil, newError(KindRecoverable, "verify_all", "read category "+string(cat), err)
		}
		for _, a := range artifacts {
			if err := ctx.Err(); err != nil {
				return results, classify("verify_all", err)
			}
			r := s.verifyPath(ctx, a.Path)
			r.Ref = a.Ref()
			results = append(results, r)
		}
	}
	return results, nil
}

// CleanupCorrupted deletes every artifact that fails verification and
// returns how many were removed.
func (s *Store) CleanupCorrupted(ctx context.Context) (int, error) {
	removed := 0
	for _, cat := range AllCategories {
		n, err := s.cleanupCategory(ctx, cat)
		removed += n
		if err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func (s *Store) cleanupCategory(ctx context.Context, cat Category) (int, error) {
	lock := s.locks[cat]
	lock.Lock()
	defer lock.Unlock()

	artifacts, err := s.listCategory(cat)
	if err != nil {
		return 0, newError(KindRecoverable, "cleanup_corrupted", "read category "+string(cat), err)
	}

	removed := 0
	for _, a := range artifacts {
		r := s.verifyPath(ctx, a.Path)
		if r.Valid {
			continue
		}
		if err := s.deleteArtifact(a); err != nil {
			logging.Ctx(ctx).Error().Err(err).Str("artifact", a.Ref()).Msg("Failed to remove corrupted backup")
			continue
		}
		removed++
		metrics.RecordRetentionRemoval(string(cat), "corrupted", 1)
		logging.Ctx(ctx).Warn().
			Str("artifact", a.Ref()).
			Str("reason", r.Reason).
			Msg("Removed corrupted backup")
	}
	return removed, nil
}

// ReconstructMetadata rebuilds missing metadata records for artifacts that
// still verify structurally. Returns the number of records written.
func (s *Store) ReconstructMetadata(ctx context.Context, cat Category) (int, error) {
	if !cat.Valid() {
		return 0, newError(KindConfig, "reconstruct_metadata", "unknown category "+string(cat), ErrInvalidCategory)
	}
	lock := s.locks[cat]
	lock.Lock()
	defer lock.Unlock()

	artifacts, err := s.listCategory(cat)
	if err != nil {
		return 0, newError(KindRecoverable, "reconstruct_metadata", "read category "+string(cat), err)
	}

	written := 0
	for _, a := range artifacts {
		if _, err := os.Stat(metadataPathFor(a.Path)); err == nil {
			continue
		}
		r := s.verifier.Verify(ctx, a.Path, "")
		if !r.Valid {
			continue
		}
		rec := &MetadataRecord{
			Filename:      a.ID,
			Category:      cat,
			CreatedAt:     a.CreatedAt,
			SizeBytes:     r.SizeBytes,
			ContentHash:   r.ContentHash,
			Reconstructed: true,
			EngineVersion: EngineVersion,
		}
		if err := writeMetadata(a.Path, rec); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("artifact", a.Ref()).Msg("Failed to reconstruct metadata")
			continue
		}
		written++
	}
	return written, nil
}

// SweepTemp removes temp files left behind by an interrupted process.
func (s *Store) SweepTemp() int {
	removed := 0
	for _, cat := range AllCategories {
		entries, err := os.ReadDir(s.categoryDir(cat))
		if err != nil {
			continue
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || !strings.Contains(name, tempExt) {
				continue
			}
			p := filepath.Join(s.categoryDir(cat), name)
			if err := os.Remove(p); err == nil {
				removed++
				logging.Info().Str("file", p).Msg("Removed stale temp file")
			}
		}
	}
	return removed
}

func sizeOf(a *Artifact) int64 {
	if a == nil {
		return 0
	}
	return a.SizeBytes
}
