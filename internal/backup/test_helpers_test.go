// RecordVault - Clinical Record Backup and Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recordvault

package backup

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"
)

// corruptionMarker is stored in a row so tests can find and flip a data byte
// without touching SQLite page headers.
const corruptionMarker = "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// testEpoch is the starting instant for ManualClock-driven tests.
var testEpoch = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

// testEnv holds a live datastore, a backup root and an engine wired to a
// manual clock.
type testEnv struct {
	dir       string
	livePath  string
	backupDir string
	clock     *ManualClock
	state     *MemoryState
	cfg       *Config
}

// newTestEnv creates a populated live datastore and a configuration with
// space checks disabled.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	livePath := filepath.Join(dir, "data", "clinic.db")
	if err := os.MkdirAll(filepath.Dir(livePath), 0o750); err != nil {
		t.Fatalf("failed to create data dir: %v", err)
	}
	createClinicDB(t, livePath, true)

	cfg := DefaultConfig(livePath, filepath.Join(dir, "backups"))
	cfg.DiskReserveBytes = 0
	cfg.LowWaterBytes = 0
	cfg.RunCooldown = 5 * time.Minute
	cfg.Health.EmergencyCooldown = 0
	cfg.Health.MinSizeBytes = 0

	return &testEnv{
		dir:       dir,
		livePath:  livePath,
		backupDir: cfg.RootDir,
		clock:     NewManualClock(testEpoch),
		state:     NewMemoryState(),
		cfg:       cfg,
	}
}

// newEngine builds an engine from the environment's current configuration.
func (env *testEnv) newEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithClock(env.clock)}, opts...)
	engine, err := NewEngine(env.cfg, env.state, opts...)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	return engine
}

// newStore builds a bare store with retention attached.
func (env *testEnv) newStore(t *testing.T, copier Copier) *Store {
	t.Helper()
	if err := env.cfg.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs failed: %v", err)
	}
	cfg := *env.cfg
	cfg.applyDefaults()
	store := NewStore(&cfg, NewVerifier(cfg.RequiredTables, cfg.DependentTables), copier, env.clock)
	NewRetentionManager(store, cfg.Retention, cfg.LowWaterBytes, env.clock)
	return store
}

// createClinicDB writes a SQLite datastore with the clinical tables. When
// withData is false the tables exist but are empty.
func createClinicDB(t *testing.T, path string, withData bool) {
	t.Helper()

	db, err := sql.Open(sqliteDriver, path)
	if err != nil {
		t.Fatalf("failed to open %s: %v", path, err)
	}
	defer db.Close()

	stmts := []string{
		`CREATE TABLE patients (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`,
		`CREATE TABLE exams (id INTEGER PRIMARY KEY, patient_id INTEGER, kind TEXT, notes TEXT)`,
		`CREATE TABLE reports (id INTEGER PRIMARY KEY, exam_id INTEGER, body TEXT)`,
	}
	if withData {
		stmts = append(stmts,
			`INSERT INTO patients (name) VALUES ('Jane Roe'), ('John Doe')`,
			`INSERT INTO exams (patient_id, kind, notes) VALUES (1, 'ultrasound', '`+corruptionMarker+`')`,
			`INSERT INTO exams (patient_id, kind, notes) VALUES (2, 'mri', 'no findings')`,
			`INSERT INTO reports (exam_id, body) VALUES (1, 'unremarkable')`,
		)
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("failed to exec %q: %v", stmt, err)
		}
	}
}

// createDBWithTables writes a SQLite file containing only the named tables.
func createDBWithTables(t *testing.T, path string, tables ...string) {
	t.Helper()
	db, err := sql.Open(sqliteDriver, path)
	if err != nil {
		t.Fatalf("failed to open %s: %v", path, err)
	}
	defer db.Close()
	for _, table := range tables {
		if _, err := db.Exec(`CREATE TABLE ` + quoteIdent(table) + ` (id INTEGER PRIMARY KEY)`); err != nil {
			t.Fatalf("failed to create table %s: %v", table, err)
		}
	}
}

// insertExam adds one exam row to the datastore at path.
func insertExam(t *testing.T, path, notes string) {
	t.Helper()
	db, err := sql.Open(sqliteDriver, path)
	if err != nil {
		t.Fatalf("failed to open %s: %v", path, err)
	}
	defer db.Close()
	if _, err := db.Exec(`INSERT INTO exams (patient_id, kind, notes) VALUES (1, 'xray', ?)`, notes); err != nil {
		t.Fatalf("failed to insert exam: %v", err)
	}
}

// openWALWriter switches the datastore at path to WAL mode and returns a
// single open connection with automatic checkpoints off, so rows it inserts
// stay in the -wal file until it closes.
func openWALWriter(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open(sqliteDriver, path)
	if err != nil {
		t.Fatalf("failed to open %s: %v", path, err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	for _, pragma := range []string{`PRAGMA journal_mode=WAL`, `PRAGMA wal_autocheckpoint=0`} {
		if _, err := db.Exec(pragma); err != nil {
			t.Fatalf("failed to exec %q: %v", pragma, err)
		}
	}
	return db
}

// writeExams inserts n exam rows through db.
func writeExams(t *testing.T, db *sql.DB, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := db.Exec(`INSERT INTO exams (patient_id, kind, notes) VALUES (1, 'ct', ?)`, fmt.Sprintf("follow-up %d", i)); err != nil {
			t.Fatalf("failed to insert exam: %v", err)
		}
	}
}

// requireWALContent fails unless the -wal file beside path holds frames.
func requireWALContent(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path + "-wal")
	if err != nil || info.Size() == 0 {
		t.Fatalf("expected unmerged rows in %s-wal: %v", path, err)
	}
}

// countExams returns the number of exam rows in the datastore at path.
func countExams(t *testing.T, path string) int {
	t.Helper()
	db, err := sql.Open(sqliteDriver, readOnlyDSN(path, false))
	if err != nil {
		t.Fatalf("failed to open %s: %v", path, err)
	}
	defer db.Close()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM exams`).Scan(&n); err != nil {
		t.Fatalf("failed to count exams: %v", err)
	}
	return n
}

// flipMarkerByte corrupts one byte inside the marker row. The file still
// opens as a SQLite database afterwards.
func flipMarkerByte(t *testing.T, path string) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	idx := bytes.Index(data, []byte(corruptionMarker))
	if idx < 0 {
		t.Fatalf("marker not found in %s", path)
	}
	data[idx] = 'B'
	if err := os.WriteFile(path, data, 0o640); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

// mustHash returns the SHA-256 of the file at path.
func mustHash(t *testing.T, path string) string {
	t.Helper()
	hash, _, err := HashFile(path)
	if err != nil {
		t.Fatalf("failed to hash %s: %v", path, err)
	}
	return hash
}

// listDir returns the sorted file names in dir, or nil if it does not exist.
func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatalf("failed to read %s: %v", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

// artifactIDs returns the IDs of artifacts in order.
func artifactIDs(artifacts []*Artifact) []string {
	ids := make([]string, len(artifacts))
	for i, a := range artifacts {
		ids[i] = a.ID
	}
	return ids
}

// garbageCopier writes bytes that are not a SQLite database.
type garbageCopier struct{}

func (garbageCopier) Copy(_ context.Context, _, dst string) error {
	return os.WriteFile(dst, []byte("this is not a sqlite database, just noise"), 0o640)
}
