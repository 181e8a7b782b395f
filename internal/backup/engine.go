// RecordVault - Clinical Record Backup and Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recordvault

package backup

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/tomtom215/recordvault/internal/logging"
	"github.com/tomtom215/recordvault/internal/metrics"
)

// Engine is the invocation surface of the backup subsystem. Every error it
// returns is an *Error carrying a Kind and a human readable Reason.
type Engine struct {
	mu  sync.RWMutex
	cfg Config

	state     StateStore
	clock     Clock
	verifier  *Verifier
	store     *Store
	retention *RetentionManager
	scheduler *Scheduler
	health    *HealthMonitor
	restorer  *RestoreCoordinator
}

// Option customizes engine construction.
type Option func(*engineOptions)

type engineOptions struct {
	clock  Clock
	copier Copier
}

// WithClock replaces the wall clock (tests).
func WithClock(c Clock) Option {
	return func(o *engineOptions) { o.clock = c }
}

// WithCopier replaces the online SQLite copier.
func WithCopier(c Copier) Option {
	return func(o *engineOptions) { o.copier = c }
}

// NewEngine validates cfg, prepares the backup root and wires every
// component. state may be nil, in which case state lives in memory only.
func NewEngine(cfg *Config, state StateStore, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, newError(KindConfig, "new_engine", "configuration is required", ErrInvalidConfig)
	}
	var o engineOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = RealClock{}
	}
	if state == nil {
		state = NewMemoryState()
	}

	c := *cfg
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := c.EnsureDirs(); err != nil {
		return nil, newError(KindRecoverable, "new_engine", "prepare backup root", err)
	}

	verifier := NewVerifier(c.RequiredTables, c.DependentTables)
	store := NewStore(&c, verifier, o.copier, o.clock)
	retention := NewRetentionManager(store, c.Retention, c.LowWaterBytes, o.clock)
	e := &Engine{
		cfg:       c,
		state:     state,
		clock:     o.clock,
		verifier:  verifier,
		store:     store,
		retention: retention,
		scheduler: NewScheduler(store, state, o.clock, &c),
		health:    NewHealthMonitor(store, retention, o.clock, &c),
		restorer:  NewRestoreCoordinator(store, state, c.DatastorePath, o.clock),
	}

	if n := store.SweepTemp(); n > 0 {
		logging.Warn().Int("removed", n).Msg("Removed temp files from an interrupted run")
	}
	if halt, err := state.RestoreHalt(); err == nil && halt != nil {
		metrics.SetRestoreHalted(true)
		logging.Error().
			Str("reason", halt.Reason).
			Time("since", halt.At).
			Msg("Restores are halted after a critical failure; clear the latch once the datastore is checked")
	}

	logging.Info().
		Str("datastore", c.DatastorePath).
		Str("backup_root", c.RootDir).
		Int("schedules", len(c.Schedules)).
		Msg("Backup engine initialized")
	return e, nil
}

// Config returns a copy of the active configuration.
func (e *Engine) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// Scheduler returns the background scheduler for supervision.
func (e *Engine) Scheduler() *Scheduler { return e.scheduler }

// HealthMonitor returns the health monitor for supervision.
func (e *Engine) HealthMonitor() *HealthMonitor { return e.health }

// CreateManualBackup snapshots the live datastore into the manual category.
func (e *Engine) CreateManualBackup(ctx context.Context, description string) (*Artifact, error) {
	return e.CreateBackup(ctx, CategoryManual, description)
}

// CreateBackup snapshots the live datastore into cat.
func (e *Engine) CreateBackup(ctx context.Context, cat Category, description string) (*Artifact, error) {
	a, err := e.store.CreateSnapshot(ctx, cat, e.Config().DatastorePath, description)
	return a, classify("create_backup", err)
}

// ListBackups lists artifacts newest first. An empty category lists all.
func (e *Engine) ListBackups(cat Category) ([]*Artifact, error) {
	return e.ListBackupsFiltered(ListOptions{Category: cat})
}

// ListBackupsFiltered lists artifacts matching opts, newest first.
func (e *Engine) ListBackupsFiltered(opts ListOptions) ([]*Artifact, error) {
	a, err := e.store.List(opts)
	return a, classify("list_backups", err)
}

// GetBackup returns one artifact by "<category>/<filename>" reference.
func (e *Engine) GetBackup(ref string) (*Artifact, error) {
	a, err := e.store.Get(ref)
	return a, classify("get_backup", err)
}

// RestoreBackup restores the artifact named by ref over the live datastore.
func (e *Engine) RestoreBackup(ctx context.Context, ref string, opts RestoreOptions) (*RestoreResult, error) {
	_, p, err := e.store.ResolveRef(ref)
	if err != nil {
		return nil, classify("restore", err)
	}
	result, err := e.restorer.Restore(ctx, p, opts)
	if result != nil {
		result.Artifact = ref
	}
	return result, classify("restore", err)
}

// RestoreFromPath restores an artifact file given by absolute path, which
// need not live under the backup root.
func (e *Engine) RestoreFromPath(ctx context.Context, artifactPath string, opts RestoreOptions) (*RestoreResult, error) {
	if !filepath.IsAbs(artifactPath) {
		return nil, newError(KindConfig, "restore", "artifact path must be absolute", ErrInvalidConfig)
	}
	result, err := e.restorer.Restore(ctx, filepath.Clean(artifactPath), opts)
	return result, classify("restore", err)
}

// RestoreHalt returns the active restore halt record, or nil.
func (e *Engine) RestoreHalt() (*HaltRecord, error) {
	rec, err := e.restorer.Halted()
	return rec, classify("restore_halt", err)
}

// ClearRestoreHalt re-enables restores after a critical failure.
func (e *Engine) ClearRestoreHalt(ctx context.Context) error {
	return classify("clear_restore_halt", e.restorer.ClearHalt(ctx))
}

// GetScheduleStatus reports every schedule.
func (e *Engine) GetScheduleStatus() []ScheduleStatus {
	return e.scheduler.Status()
}

// SetSchedule adds or replaces a schedule at runtime.
func (e *Engine) SetSchedule(sc ScheduleConfig) error {
	if err := e.scheduler.SetSchedule(sc); err != nil {
		return classify("set_schedule", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	schedules := make([]ScheduleConfig, 0, len(e.cfg.Schedules)+1)
	replaced := false
	for _, existing := range e.cfg.Schedules {
		if existing.Name == sc.Name {
			existing = sc
			replaced = true
		}
		schedules = append(schedules, existing)
	}
	if !replaced {
		schedules = append(schedules, sc)
	}
	e.cfg.Schedules = schedules
	return nil
}

// SetScheduleEnabled toggles a schedule. Observed within one poll interval.
func (e *Engine) SetScheduleEnabled(name string, enabled bool) error {
	if err := e.scheduler.SetEnabled(name, enabled); err != nil {
		return classify("set_schedule_enabled", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.cfg.Schedules {
		if e.cfg.Schedules[i].Name == name {
			e.cfg.Schedules[i].Enabled = enabled
		}
	}
	return nil
}

// GetHealthStatus runs a health check now.
func (e *Engine) GetHealthStatus(ctx context.Context) HealthStatus {
	return e.health.CheckHealth(ctx)
}

// VerifyBackup re-verifies one stored artifact.
func (e *Engine) VerifyBackup(ctx context.Context, ref string) (*VerificationResult, error) {
	r, err := e.store.VerifyArtifact(ctx, ref)
	return r, classify("verify_backup", err)
}

// VerifyAll re-verifies every stored artifact.
func (e *Engine) VerifyAll(ctx context.Context) ([]VerificationResult, error) {
	r, err := e.store.VerifyAll(ctx)
	return r, classify("verify_all", err)
}

// CleanupCorrupted deletes every artifact that fails verification.
func (e *Engine) CleanupCorrupted(ctx context.Context) (int, error) {
	n, err := e.store.CleanupCorrupted(ctx)
	return n, classify("cleanup_corrupted", err)
}

// DeleteBackup removes one artifact by operator request.
func (e *Engine) DeleteBackup(ctx context.Context, ref string) error {
	return classify("delete_backup", e.store.Delete(ctx, ref))
}

// ReconstructMetadata rebuilds missing metadata records in every category.
func (e *Engine) ReconstructMetadata(ctx context.Context) (int, error) {
	total := 0
	for _, cat := range AllCategories {
		n, err := e.store.ReconstructMetadata(ctx, cat)
		total += n
		if err != nil {
			return total, classify("reconstruct_metadata", err)
		}
	}
	return total, nil
}

// SetRetentionPolicy replaces a category policy at runtime.
func (e *Engine) SetRetentionPolicy(cat Category, p RetentionPolicy) error {
	if err := e.retention.SetPolicy(cat, p); err != nil {
		return classify("set_retention", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	policies := make(map[Category]RetentionPolicy, len(e.cfg.Retention))
	for c, existing := range e.cfg.Retention {
		policies[c] = existing
	}
	policies[cat] = p
	e.cfg.Retention = policies
	return nil
}

// RetentionPolicies returns every category policy.
func (e *Engine) RetentionPolicies() map[Category]RetentionPolicy {
	return e.retention.Policies()
}

// PreviewRetention reports what a retention pass would remove.
func (e *Engine) PreviewRetention(cat Category) (*RetentionPreview, error) {
	p, err := e.retention.Preview(cat)
	return p, classify("preview_retention", err)
}

// ApplyRetention runs a retention pass over every category.
func (e *Engine) ApplyRetention(ctx context.Context) (map[Category]int, error) {
	removed, err := e.retention.EnforceAll(ctx)
	if err != nil {
		return removed, classify("apply_retention", err)
	}
	if _, err := e.retention.EnforceDiskLowWater(ctx); err != nil {
		return removed, classify("apply_retention", err)
	}
	return removed, nil
}

// ApplyConfig applies a reloaded configuration. Schedules, retention,
// timing and health settings change in place. The datastore path and
// backup root need a restart.
func (e *Engine) ApplyConfig(cfg *Config) error {
	c := *cfg
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return err
	}

	current := e.Config()
	if c.DatastorePath != current.DatastorePath || c.RootDir != current.RootDir {
		logging.Warn().
			Str("datastore", c.DatastorePath).
			Str("backup_root", c.RootDir).
			Msg("Datastore path and backup root changes take effect after restart")
		c.DatastorePath = current.DatastorePath
		c.RootDir = current.RootDir
	}

	if err := e.scheduler.ReplaceSchedules(c.Schedules); err != nil {
		return classify("apply_config", err)
	}
	e.scheduler.SetTiming(c.PollInterval, c.RunCooldown)
	for cat, p := range c.Retention {
		if err := e.retention.SetPolicy(cat, p); err != nil {
			return classify("apply_config", err)
		}
	}
	e.retention.SetLowWater(c.LowWaterBytes)
	e.health.Configure(c.Health)

	e.mu.Lock()
	e.cfg = c
	e.mu.Unlock()

	logging.Info().Int("schedules", len(c.Schedules)).Msg("Backup configuration reloaded")
	return nil
}

// Close waits for in-flight scheduled runs.
func (e *Engine) Close() error {
	e.scheduler.Wait()
	return nil
}
