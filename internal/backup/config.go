// RecordVault - Clinical Record Backup and Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recordvault

package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/recordvault/internal/validation"
)

// Config holds everything the engine needs. It is built by the config
// package from koanf-loaded settings.
type Config struct {
	// DatastorePath is the live SQLite database file
	DatastorePath string `validate:"required"`

	// RootDir is the backup root; one subdirectory per category
	RootDir string `validate:"required"`

	// AssetPaths are companion config/template files captured with each snapshot
	AssetPaths []string

	// RequiredTables must all exist in a valid artifact
	RequiredTables []string `validate:"required,min=1,dive,required"`

	// DependentTables: at least one must exist (ignored when empty)
	DependentTables []string `validate:"dive,required"`

	// CoreTables are probed for rows by the health monitor
	CoreTables []string `validate:"required,min=1,dive,required"`

	Schedules []ScheduleConfig
	Retention map[Category]RetentionPolicy

	// PollInterval bounds how quickly the scheduler notices due runs and toggles
	PollInterval time.Duration `validate:"gte=0"`

	// RunCooldown is the minimum pause after a scheduled run completes
	RunCooldown time.Duration `validate:"gte=0"`

	// CopyTimeout bounds a single online copy, including busy retries
	CopyTimeout time.Duration `validate:"gte=0"`

	// DiskReserveBytes must remain free on top of the snapshot size
	DiskReserveBytes int64 `validate:"gte=0"`

	// LowWaterBytes triggers cross-category retention when free space drops below it
	LowWaterBytes int64 `validate:"gte=0"`

	Health HealthConfig
}

// HealthConfig tunes the health monitor.
type HealthConfig struct {
	Enabled  bool
	Interval time.Duration `validate:"gte=0"`

	// MinSizeBytes flags implausibly small datastore files
	MinSizeBytes int64 `validate:"gte=0"`

	// EmptyIsUnhealthy treats a structurally valid but empty datastore as unhealthy
	EmptyIsUnhealthy bool

	// EmergencyCooldown is the minimum spacing between emergency snapshots
	EmergencyCooldown time.Duration `validate:"gte=0"`

	// BreakerFailures opens the emergency breaker after this many consecutive failures
	BreakerFailures uint32

	// BreakerTimeout is how long the breaker stays open
	BreakerTimeout time.Duration `validate:"gte=0"`
}

// DefaultConfig returns a configuration with production defaults for the
// given datastore and backup root.
func DefaultConfig(datastorePath, rootDir string) *Config {
	return &Config{
		DatastorePath:    datastorePath,
		RootDir:          rootDir,
		RequiredTables:   []string{"exams"},
		DependentTables:  []string{"reports", "patients"},
		CoreTables:       []string{"exams", "reports"},
		Schedules:        DefaultSchedules(),
		Retention:        DefaultRetentionPolicies(),
		PollInterval:     30 * time.Second,
		RunCooldown:      5 * time.Minute,
		CopyTimeout:      5 * time.Minute,
		DiskReserveBytes: 64 << 20,
		LowWaterBytes:    512 << 20,
		Health: HealthConfig{
			Enabled:           true,
			Interval:          15 * time.Minute,
			MinSizeBytes:      4096,
			EmptyIsUnhealthy:  true,
			EmergencyCooldown: 6 * time.Hour,
			BreakerFailures:   3,
			BreakerTimeout:    30 * time.Minute,
		},
	}
}

// applyDefaults fills zero durations so a partially built Config still runs.
func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.CopyTimeout <= 0 {
		c.CopyTimeout = 5 * time.Minute
	}
	if c.Health.Interval <= 0 {
		c.Health.Interval = 15 * time.Minute
	}
	if c.Health.BreakerFailures == 0 {
		c.Health.BreakerFailures = 3
	}
	if c.Health.BreakerTimeout <= 0 {
		c.Health.BreakerTimeout = 30 * time.Minute
	}
	if c.Retention == nil {
		c.Retention = DefaultRetentionPolicies()
	}
}

// Validate checks the configuration. Invalid values are rejected, never coerced.
func (c *Config) Validate() error {
	if verr := validation.ValidateStruct(c); verr != nil {
		return newError(KindConfig, "validate_config", verr.Error(), ErrInvalidConfig)
	}
	if !filepath.IsAbs(c.RootDir) {
		return newError(KindConfig, "validate_config",
			fmt.Sprintf("backup root must be an absolute path, got: %s", c.RootDir), ErrInvalidConfig)
	}
	if !filepath.IsAbs(c.DatastorePath) {
		return newError(KindConfig, "validate_config",
			fmt.Sprintf("datastore path must be an absolute path, got: %s", c.DatastorePath), ErrInvalidConfig)
	}

	seen := make(map[string]bool, len(c.Schedules))
	for _, s := range c.Schedules {
		if err := ValidateSchedule(s); err != nil {
			return err
		}
		if seen[s.Name] {
			return newError(KindConfig, "validate_config", "duplicate schedule name "+s.Name, ErrInvalidConfig)
		}
		seen[s.Name] = true
	}

	for _, cat := range AllCategories {
		policy, ok := c.Retention[cat]
		if !ok {
			return newError(KindConfig, "validate_config", "no retention policy for category "+string(cat), ErrInvalidConfig)
		}
		if err := ValidateRetentionPolicy(cat, policy); err != nil {
			return err
		}
	}
	for cat := range c.Retention {
		if !cat.Valid() {
			return newError(KindConfig, "validate_config", "unknown category "+string(cat), ErrInvalidCategory)
		}
	}
	return nil
}

// ValidateSchedule checks one schedule definition.
func ValidateSchedule(s ScheduleConfig) error {
	if verr := validation.ValidateStruct(&s); verr != nil {
		return newError(KindConfig, "validate_schedule", verr.Error(), ErrInvalidConfig)
	}
	if s.TimeOfDay == "" && s.IntervalHours <= 0 {
		return newError(KindConfig, "validate_schedule",
			fmt.Sprintf("schedule %s needs time_of_day or a positive interval_hours", s.Name), ErrInvalidConfig)
	}
	if s.TimeOfDay != "" {
		if _, _, err := ParseTimeOfDay(s.TimeOfDay); err != nil {
			return newError(KindConfig, "validate_schedule",
				fmt.Sprintf("schedule %s: %v", s.Name, err), ErrInvalidConfig)
		}
	}
	return nil
}

// ValidateRetentionPolicy checks one category policy.
func ValidateRetentionPolicy(cat Category, p RetentionPolicy) error {
	if !cat.Valid() {
		return newError(KindConfig, "validate_retention", "unknown category "+string(cat), ErrInvalidCategory)
	}
	if p.MaxArtifacts < 0 || p.MaxAgeDays < 0 {
		return newError(KindConfig, "validate_retention",
			fmt.Sprintf("retention for %s must not be negative", cat), ErrInvalidConfig)
	}
	if !p.Bounded() {
		return newError(KindConfig, "validate_retention",
			fmt.Sprintf("retention for %s needs max_artifacts >= 1 or max_age_days >= 1", cat), ErrInvalidConfig)
	}
	return nil
}

// ParseTimeOfDay parses "HH:MM" (24h clock).
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return 0, 0, fmt.Errorf("time_of_day must be HH:MM, got %q", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("time_of_day hour must be 00-23, got %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("time_of_day minute must be 00-59, got %q", s)
	}
	return hour, minute, nil
}

// EnsureDirs creates the backup root and every category directory.
func (c *Config) EnsureDirs() error {
	for _, cat := range AllCategories {
		dir := filepath.Join(c.RootDir, string(cat))
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create backup directory %s: %w", dir, err)
		}
	}
	return nil
}
