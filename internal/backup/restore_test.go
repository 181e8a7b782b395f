// RecordVault - Clinical Record Backup and Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recordvault

package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestRestorer(t *testing.T, env *testEnv) (*RestoreCoordinator, *Store) {
	t.Helper()
	store := env.newStore(t, nil)
	return NewRestoreCoordinator(store, env.state, env.livePath, env.clock), store
}

// Restoring a path that does not exist fails with InvalidBackup and leaves
// the live datastore byte-identical.
func TestRestore_NonexistentArtifact(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	r, store := newTestRestorer(t, env)
	before := mustHash(t, env.livePath)

	_, err := r.Restore(context.Background(), filepath.Join(env.dir, "missing.db"), RestoreOptions{})
	if !errors.Is(err, ErrInvalidBackup) {
		t.Fatalf("error = %v, want ErrInvalidBackup", err)
	}
	if KindOf(err) != KindIntegrity {
		t.Errorf("Kind = %s, want integrity", KindOf(err))
	}
	if after := mustHash(t, env.livePath); after != before {
		t.Error("live datastore changed after rejected restore")
	}
	if countCategory(t, store, CategoryPreRestore) != 0 {
		t.Error("pre-restore snapshot taken for a rejected restore")
	}
}

func TestRestore_RoundTrip(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	r, store := newTestRestorer(t, env)
	ctx := context.Background()

	rows := countExams(t, env.livePath)

	artifact, err := store.CreateSnapshot(ctx, CategoryManual, env.livePath, "")
	if err != nil {
		t.Fatal(err)
	}

	// Live datastore moves on after the snapshot.
	insertExam(t, env.livePath, "added after snapshot")
	insertExam(t, env.livePath, "and another")
	if countExams(t, env.livePath) != rows+2 {
		t.Fatal("setup: rows not inserted")
	}
	env.clock.Advance(time.Minute)

	result, err := r.Restore(ctx, artifact.Path, RestoreOptions{})
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if !result.Success || result.RestoredHash != artifact.ContentHash {
		t.Errorf("result = %+v", result)
	}

	if got := mustHash(t, env.livePath); got != artifact.ContentHash {
		t.Errorf("live hash %s != artifact hash %s", got, artifact.ContentHash)
	}
	if countExams(t, env.livePath) != rows {
		t.Errorf("exam rows = %d, want %d", countExams(t, env.livePath), rows)
	}

	// The pre-restore snapshot preserved the newer state.
	if result.PreRestoreArtifact == "" {
		t.Fatal("no pre-restore snapshot recorded")
	}
	pre, err := store.Get(result.PreRestoreArtifact)
	if err != nil {
		t.Fatal(err)
	}
	if countExams(t, pre.Path) != rows+2 {
		t.Errorf("pre-restore snapshot has %d rows, want %d", countExams(t, pre.Path), rows+2)
	}

	if _, err := os.Stat(env.livePath + restoreTempSuffix); !os.IsNotExist(err) {
		t.Error("restore temp file left behind")
	}
}

func TestRestore_SkipPreRestore(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	r, store := newTestRestorer(t, env)
	ctx := context.Background()

	artifact, err := store.CreateSnapshot(ctx, CategoryManual, env.livePath, "")
	if err != nil {
		t.Fatal(err)
	}
	result, err := r.Restore(ctx, artifact.Path, RestoreOptions{SkipPreRestore: true})
	if err != nil {
		t.Fatal(err)
	}
	if result.PreRestoreArtifact != "" || countCategory(t, store, CategoryPreRestore) != 0 {
		t.Error("pre-restore snapshot taken despite SkipPreRestore")
	}
}

func TestRestore_CorruptedArtifactRejected(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	r, store := newTestRestorer(t, env)
	ctx := context.Background()

	artifact, err := store.CreateSnapshot(ctx, CategoryManual, env.livePath, "")
	if err != nil {
		t.Fatal(err)
	}
	flipMarkerByte(t, artifact.Path)
	insertExam(t, env.livePath, "live only")
	before := mustHash(t, env.livePath)

	_, err = r.Restore(ctx, artifact.Path, RestoreOptions{})
	if !errors.Is(err, ErrInvalidBackup) || ReasonOf(err) != ReasonHashMismatch {
		t.Fatalf("error = %v (reason %q), want hash mismatch", err, ReasonOf(err))
	}
	if mustHash(t, env.livePath) != before {
		t.Error("live datastore touched by rejected restore")
	}
}

func TestRestore_ReplaceFailureHaltsRestores(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	r, store := newTestRestorer(t, env)
	ctx := context.Background()

	artifact, err := store.CreateSnapshot(ctx, CategoryManual, env.livePath, "")
	if err != nil {
		t.Fatal(err)
	}

	r.rename = func(string, string) error { return errors.New("device or resource busy") }
	_, err = r.Restore(ctx, artifact.Path, RestoreOptions{SkipPreRestore: true})
	if KindOf(err) != KindCritical || !errors.Is(err, ErrRestoreFailed) {
		t.Fatalf("error = %v (kind %s), want critical ErrRestoreFailed", err, KindOf(err))
	}
	if _, statErr := os.Stat(env.livePath + restoreTempSuffix); !os.IsNotExist(statErr) {
		t.Error("staged copy left behind after failed swap")
	}

	halt, err := r.Halted()
	if err != nil || halt == nil {
		t.Fatalf("halt latch not set: %v %v", halt, err)
	}
	if halt.Artifact != artifact.Path {
		t.Errorf("halt artifact = %s", halt.Artifact)
	}

	// No further restores until an operator clears the latch.
	r.rename = os.Rename
	_, err = r.Restore(ctx, artifact.Path, RestoreOptions{SkipPreRestore: true})
	if !errors.Is(err, ErrRestoreHalted) || KindOf(err) != KindHalted {
		t.Fatalf("error = %v, want ErrRestoreHalted", err)
	}

	if err := r.ClearHalt(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Restore(ctx, artifact.Path, RestoreOptions{SkipPreRestore: true}); err != nil {
		t.Fatalf("restore after clearing halt failed: %v", err)
	}
}

func TestRestore_StagingFailureIsRecoverable(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	r, store := newTestRestorer(t, env)
	ctx := context.Background()

	artifact, err := store.CreateSnapshot(ctx, CategoryManual, env.livePath, "")
	if err != nil {
		t.Fatal(err)
	}
	before := mustHash(t, env.livePath)

	r.stageFile = func(string, string, os.FileMode) (string, int64, error) {
		return "", 0, errors.New("no space left on device")
	}
	_, err = r.Restore(ctx, artifact.Path, RestoreOptions{})
	if KindOf(err) != KindRecoverable || !errors.Is(err, ErrRestoreFailed) {
		t.Fatalf("error = %v (kind %s)", err, KindOf(err))
	}
	if halt, _ := r.Halted(); halt != nil {
		t.Error("staging failure must not halt restores; the live datastore was never touched")
	}
	if mustHash(t, env.livePath) != before {
		t.Error("live datastore changed")
	}
}

func TestRestore_RemovesStaleSidecars(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	r, store := newTestRestorer(t, env)
	ctx := context.Background()

	artifact, err := store.CreateSnapshot(ctx, CategoryManual, env.livePath, "")
	if err != nil {
		t.Fatal(err)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.WriteFile(env.livePath+suffix, []byte("stale"), 0o640); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := r.Restore(ctx, artifact.Path, RestoreOptions{SkipPreRestore: true}); err != nil {
		t.Fatal(err)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		if _, err := os.Stat(env.livePath + suffix); !os.IsNotExist(err) {
			t.Errorf("stale %s sidecar survived restore", suffix)
		}
		if _, err := os.Stat(env.livePath + suffix + sidecarAsideSuffix); !os.IsNotExist(err) {
			t.Errorf("parked %s sidecar survived restore", suffix)
		}
	}
}

// A failed swap puts the live -wal back, so rows not yet merged into the
// main file are still readable.
func TestRestore_ReplaceFailureKeepsLiveWAL(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	r, store := newTestRestorer(t, env)
	ctx := context.Background()

	artifact, err := store.CreateSnapshot(ctx, CategoryManual, env.livePath, "")
	if err != nil {
		t.Fatal(err)
	}

	writer := openWALWriter(t, env.livePath)
	writeExams(t, writer, 40)
	requireWALContent(t, env.livePath)
	want := countExams(t, env.livePath)

	r.rename = func(string, string) error { return errors.New("device or resource busy") }
	if _, err := r.Restore(ctx, artifact.Path, RestoreOptions{SkipPreRestore: true}); KindOf(err) != KindCritical {
		t.Fatalf("error = %v, want critical", err)
	}

	requireWALContent(t, env.livePath)
	for _, suffix := range sqliteSidecars {
		if _, err := os.Stat(env.livePath + suffix + sidecarAsideSuffix); !os.IsNotExist(err) {
			t.Errorf("%s still parked after a failed swap", suffix)
		}
	}
	if got := countExams(t, env.livePath); got != want {
		t.Errorf("live datastore has %d exams after failed swap, want %d", got, want)
	}
	writeExams(t, writer, 1)
}

func TestRestore_Assets(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	template := filepath.Join(env.dir, "report-template.html")
	if err := os.WriteFile(template, []byte("v1"), 0o640); err != nil {
		t.Fatal(err)
	}
	env.cfg.AssetPaths = []string{template}
	r, store := newTestRestorer(t, env)
	ctx := context.Background()

	artifact, err := store.CreateSnapshot(ctx, CategoryManual, env.livePath, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(template, []byte("v2 broken"), 0o640); err != nil {
		t.Fatal(err)
	}

	result, err := r.Restore(ctx, artifact.Path, RestoreOptions{SkipPreRestore: true, RestoreAssets: true})
	if err != nil {
		t.Fatal(err)
	}
	if result.AssetsRestored != 1 {
		t.Errorf("AssetsRestored = %d, want 1", result.AssetsRestored)
	}
	data, err := os.ReadFile(template)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "v1" {
		t.Errorf("template = %q, want v1", data)
	}
}
