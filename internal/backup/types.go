// RecordVault - Clinical Record Backup and Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recordvault

package backup

import (
	"path"
	"time"
)

// Category classifies an artifact by what triggered it.
type Category string

const (
	// CategoryScheduled is produced by periodic (interval) schedules.
	CategoryScheduled Category = "scheduled"

	// CategoryDaily is produced by time-of-day schedules.
	CategoryDaily Category = "daily"

	// CategoryManual is produced by an explicit operator request.
	CategoryManual Category = "manual"

	// CategoryEmergency is produced by the health monitor.
	CategoryEmergency Category = "emergency"

	// CategoryPreRestore is the safety snapshot taken before a restore.
	CategoryPreRestore Category = "pre_restore"
)

// AllCategories lists every category in directory order.
var AllCategories = []Category{
	CategoryScheduled,
	CategoryDaily,
	CategoryManual,
	CategoryEmergency,
	CategoryPreRestore,
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, known := range AllCategories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory converts a string to a Category.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.Valid() {
		return "", newError(KindConfig, "parse_category", "unknown category "+s, ErrInvalidCategory)
	}
	return c, nil
}

// AssetRecord describes one companion file captured with a snapshot.
type AssetRecord struct {
	// Name is the file name inside the artifact's assets directory
	Name string `json:"name"`

	// SourcePath is where the file lived when it was captured
	SourcePath string `json:"source_path"`

	SizeBytes   int64  `json:"size_bytes"`
	ContentHash string `json:"content_hash"`
}

// Artifact is a stored backup snapshot of the datastore.
type Artifact struct {
	// ID is the artifact file name, unique within its category directory
	ID string `json:"id"`

	Category  Category  `json:"category"`
	CreatedAt time.Time `json:"created_at"`
	SizeBytes int64     `json:"size_bytes"`

	// ContentHash is the hex SHA-256 of the artifact bytes at creation time
	ContentHash string `json:"content_hash"`

	// SourcePath is the live datastore path at time of capture
	SourcePath string `json:"source_path"`

	Description string        `json:"description,omitempty"`
	Assets      []AssetRecord `json:"assets,omitempty"`

	// Path is the absolute location on disk; not part of the metadata record
	Path string `json:"path"`
}

// Ref returns the stable "<category>/<filename>" reference for the artifact.
func (a *Artifact) Ref() string {
	return path.Join(string(a.Category), a.ID)
}

// RetentionPolicy bounds the number and age of artifacts in one category.
// At least one of the two limits must be set.
type RetentionPolicy struct {
	// MaxArtifacts keeps at most this many artifacts (0 = no count limit)
	MaxArtifacts int `json:"max_artifacts" koanf:"max_artifacts" validate:"gte=0"`

	// MaxAgeDays removes artifacts older than this many days (0 = no age limit)
	MaxAgeDays int `json:"max_age_days" koanf:"max_age_days" validate:"gte=0"`
}

// Bounded reports whether the policy enforces at least one limit.
func (p RetentionPolicy) Bounded() bool {
	return p.MaxArtifacts >= 1 || p.MaxAgeDays >= 1
}

// DefaultRetentionPolicies returns the per-category defaults.
func DefaultRetentionPolicies() map[Category]RetentionPolicy {
	return map[Category]RetentionPolicy{
		CategoryScheduled:  {MaxArtifacts: 24, MaxAgeDays: 7},
		CategoryDaily:      {MaxArtifacts: 30},
		CategoryManual:     {MaxArtifacts: 20},
		CategoryEmergency:  {MaxArtifacts: 10},
		CategoryPreRestore: {MaxArtifacts: 5},
	}
}

// ScheduleConfig defines one background backup schedule.
type ScheduleConfig struct {
	// Name identifies the schedule (e.g. "daily", "periodic")
	Name string `json:"name" koanf:"name" validate:"required,max=64"`

	// Category the schedule writes into; scheduled or daily
	Category Category `json:"category" koanf:"category" validate:"required,oneof=scheduled daily"`

	Enabled bool `json:"enabled" koanf:"enabled"`

	// TimeOfDay is "HH:MM" in local time for daily-style schedules
	TimeOfDay string `json:"time_of_day,omitempty" koanf:"time_of_day" validate:"omitempty,timeofday"`

	// IntervalHours is the period for interval-style schedules
	IntervalHours int `json:"interval_hours,omitempty" koanf:"interval_hours" validate:"gte=0,lte=8760"`
}

// DefaultSchedules returns the out-of-the-box schedules: a nightly copy at
// 02:00 and a six-hourly periodic copy.
func DefaultSchedules() []ScheduleConfig {
	return []ScheduleConfig{
		{Name: "daily", Category: CategoryDaily, Enabled: true, TimeOfDay: "02:00"},
		{Name: "periodic", Category: CategoryScheduled, Enabled: true, IntervalHours: 6},
	}
}

// ScheduleState is the position of one schedule in its state machine.
type ScheduleState string

const (
	StateIdle     ScheduleState = "idle"
	StateWaiting  ScheduleState = "waiting"
	StateRunning  ScheduleState = "running"
	StateDisabled ScheduleState = "disabled"
)

// ScheduleStatus is the externally visible state of one schedule.
type ScheduleStatus struct {
	Name      string        `json:"name"`
	Category  Category      `json:"category"`
	Enabled   bool          `json:"enabled"`
	State     ScheduleState `json:"state"`
	NextRunAt *time.Time    `json:"next_run_at,omitempty"`
	LastRunAt *time.Time    `json:"last_run_at,omitempty"`
	LastError string        `json:"last_error,omitempty"`
}

// HealthStatus is the result of one datastore health check. It is
// recomputed on every check and never persisted as its own entity.
type HealthStatus struct {
	DatastoreExists          bool `json:"datastore_exists"`
	DatastoreAccessible      bool `json:"datastore_accessible"`
	RequiredStructurePresent bool `json:"required_structure_present"`
	DataPresent              bool `json:"data_present"`

	Healthy   bool      `json:"healthy"`
	SizeBytes int64     `json:"size_bytes"`
	CheckedAt time.Time `json:"checked_at"`

	// Recommendations are ordered diagnostic findings
	Recommendations []string `json:"recommendations"`

	// EmergencyBackup is the ref of the artifact taken during this check
	EmergencyBackup string `json:"emergency_backup,omitempty"`
}

// VerificationResult is the outcome of verifying one artifact.
type VerificationResult struct {
	Valid       bool     `json:"valid"`
	Reason      string   `json:"reason,omitempty"`
	ContentHash string   `json:"content_hash,omitempty"`
	SizeBytes   int64    `json:"size_bytes"`
	Tables      []string `json:"tables,omitempty"`

	// Ref is set when verification ran against a stored artifact
	Ref string `json:"ref,omitempty"`
}

// Verification failure reasons.
const (
	ReasonMissing          = "missing"
	ReasonEmpty            = "empty"
	ReasonUnreadable       = "unreadable"
	ReasonMissingStructure = "missing essential structure"
	ReasonHashMismatch     = "hash mismatch"
	ReasonSizeMismatch     = "size mismatch"
	ReasonAssetMismatch    = "asset hash mismatch"
)

// ListOptions filters and paginates artifact listings.
type ListOptions struct {
	// Category restricts the listing; empty lists every category
	Category Category `json:"category,omitempty" validate:"omitempty,oneof=scheduled daily manual emergency pre_restore"`

	Since *time.Time `json:"since,omitempty"`
	Until *time.Time `json:"until,omitempty"`

	Limit  int `json:"limit" validate:"gte=0,lte=1000"`
	Offset int `json:"offset" validate:"gte=0"`
}

// RestoreOptions tunes a restore.
type RestoreOptions struct {
	// SkipPreRestore skips the safety snapshot of the current datastore
	SkipPreRestore bool `json:"skip_pre_restore"`

	// RestoreAssets also writes captured companion files back in place
	RestoreAssets bool `json:"restore_assets"`
}

// RestoreResult describes a completed restore.
type RestoreResult struct {
	Success            bool          `json:"success"`
	Artifact           string        `json:"artifact"`
	PreRestoreArtifact string        `json:"pre_restore_artifact,omitempty"`
	RestoredHash       string        `json:"restored_hash,omitempty"`
	AssetsRestored     int           `json:"assets_restored,omitempty"`
	Warnings           []string      `json:"warnings,omitempty"`
	Duration           time.Duration `json:"duration_ms"`
}

// RetentionPreview lists what Enforce would remove for one category.
type RetentionPreview struct {
	Category Category        `json:"category"`
	Policy   RetentionPolicy `json:"policy"`
	Keep     []string        `json:"keep"`
	Remove   []string        `json:"remove"`
}
