// RecordVault - Clinical Record Backup and Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recordvault

// Package config loads RecordVault settings from defaults, an optional YAML
// file and environment variables, and turns them into the backup engine's
// configuration.
package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/tomtom215/recordvault/internal/backup"
	"github.com/tomtom215/recordvault/internal/logging"
	"github.com/tomtom215/recordvault/internal/state"
	"github.com/tomtom215/recordvault/internal/validation"
)

// Config holds all application configuration.
type Config struct {
	Datastore DatastoreConfig `koanf:"datastore"`
	Backup    BackupConfig    `koanf:"backup"`

	// Schedules are keyed by schedule name
	Schedules map[string]ScheduleConfig `koanf:"schedules" validate:"dive"`

	Retention RetentionConfig `koanf:"retention"`
	Health    HealthConfig    `koanf:"health"`
	Server    ServerConfig    `koanf:"server"`
	State     StateConfig     `koanf:"state"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// DatastoreConfig describes the live clinical database.
type DatastoreConfig struct {
	Path string `koanf:"path" validate:"required"`

	// RequiredTables must all exist in a valid snapshot
	RequiredTables []string `koanf:"required_tables" validate:"required,min=1,dive,required"`

	// DependentTables: at least one must exist
	DependentTables []string `koanf:"dependent_tables" validate:"dive,required"`

	// CoreTables are probed for rows by the health monitor
	CoreTables []string `koanf:"core_tables" validate:"required,min=1,dive,required"`
}

// BackupConfig controls where and how snapshots are written.
type BackupConfig struct {
	RootDir    string   `koanf:"root_dir" validate:"required"`
	AssetPaths []string `koanf:"asset_paths"`

	PollInterval     time.Duration `koanf:"poll_interval" validate:"gte=0"`
	RunCooldown      time.Duration `koanf:"run_cooldown" validate:"gte=0"`
	CopyTimeout      time.Duration `koanf:"copy_timeout" validate:"gte=0"`
	DiskReserveBytes int64         `koanf:"disk_reserve_bytes" validate:"gte=0"`
	LowWaterBytes    int64         `koanf:"low_water_bytes" validate:"gte=0"`
}

// ScheduleConfig is one named background schedule.
type ScheduleConfig struct {
	Category      string `koanf:"category" validate:"required,oneof=scheduled daily"`
	Enabled       bool   `koanf:"enabled"`
	TimeOfDay     string `koanf:"time_of_day" validate:"omitempty,timeofday"`
	IntervalHours int    `koanf:"interval_hours" validate:"gte=0,lte=8760"`
}

// RetentionConfig holds one policy per category.
type RetentionConfig struct {
	Scheduled  backup.RetentionPolicy `koanf:"scheduled"`
	Daily      backup.RetentionPolicy `koanf:"daily"`
	Manual     backup.RetentionPolicy `koanf:"manual"`
	Emergency  backup.RetentionPolicy `koanf:"emergency"`
	PreRestore backup.RetentionPolicy `koanf:"pre_restore"`
}

// HealthConfig tunes the datastore health monitor.
type HealthConfig struct {
	Enabled           bool          `koanf:"enabled"`
	Interval          time.Duration `koanf:"interval" validate:"gte=0"`
	MinSizeBytes      int64         `koanf:"min_size_bytes" validate:"gte=0"`
	EmptyIsUnhealthy  bool          `koanf:"empty_is_unhealthy"`
	EmergencyCooldown time.Duration `koanf:"emergency_cooldown" validate:"gte=0"`
	BreakerFailures   uint32        `koanf:"breaker_failures"`
	BreakerTimeout    time.Duration `koanf:"breaker_timeout" validate:"gte=0"`
}

// ServerConfig holds the HTTP invocation surface settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout         time.Duration `koanf:"timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gte=0"`

	// RateLimitRequests caps mutating requests per RateLimitWindow per client
	RateLimitRequests int           `koanf:"rate_limit_requests" validate:"gte=0"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window" validate:"gte=0"`

	// RestoreRateLimit caps restore requests per RestoreRateWindow per client
	RestoreRateLimit  int           `koanf:"restore_rate_limit" validate:"gte=0"`
	RestoreRateWindow time.Duration `koanf:"restore_rate_window" validate:"gte=0"`

	// RateLimitDisabled turns off every limiter (local tooling only)
	RateLimitDisabled bool `koanf:"rate_limit_disabled"`

	// CORSOrigins lists browser origins allowed to call the API; empty means none
	CORSOrigins []string `koanf:"cors_origins" validate:"dive,url"`
}

// StateConfig locates the durable engine state.
type StateConfig struct {
	Path       string `koanf:"path" validate:"required"`
	SyncWrites bool   `koanf:"sync_writes"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Validate checks struct tags first, then the engine's semantic rules on the
// derived engine configuration.
func (c *Config) Validate() error {
	if verr := validation.ValidateStruct(c); verr != nil {
		return fmt.Errorf("invalid configuration: %w", verr)
	}
	if err := c.ToEngineConfig().Validate(); err != nil {
		return err
	}
	return nil
}

// ToEngineConfig converts the loaded settings into the backup engine's config.
// Schedules are ordered by name so the result is deterministic.
func (c *Config) ToEngineConfig() *backup.Config {
	names := make([]string, 0, len(c.Schedules))
	for name := range c.Schedules {
		names = append(names, name)
	}
	sort.Strings(names)

	schedules := make([]backup.ScheduleConfig, 0, len(names))
	for _, name := range names {
		s := c.Schedules[name]
		schedules = append(schedules, backup.ScheduleConfig{
			Name:          name,
			Category:      backup.Category(s.Category),
			Enabled:       s.Enabled,
			TimeOfDay:     s.TimeOfDay,
			IntervalHours: s.IntervalHours,
		})
	}

	return &backup.Config{
		DatastorePath:   c.Datastore.Path,
		RootDir:         c.Backup.RootDir,
		AssetPaths:      append([]string(nil), c.Backup.AssetPaths...),
		RequiredTables:  append([]string(nil), c.Datastore.RequiredTables...),
		DependentTables: append([]string(nil), c.Datastore.DependentTables...),
		CoreTables:      append([]string(nil), c.Datastore.CoreTables...),
		Schedules:       schedules,
		Retention: map[backup.Category]backup.RetentionPolicy{
			backup.CategoryScheduled:  c.Retention.Scheduled,
			backup.CategoryDaily:      c.Retention.Daily,
			backup.CategoryManual:     c.Retention.Manual,
			backup.CategoryEmergency:  c.Retention.Emergency,
			backup.CategoryPreRestore: c.Retention.PreRestore,
		},
		PollInterval:     c.Backup.PollInterval,
		RunCooldown:      c.Backup.RunCooldown,
		CopyTimeout:      c.Backup.CopyTimeout,
		DiskReserveBytes: c.Backup.DiskReserveBytes,
		LowWaterBytes:    c.Backup.LowWaterBytes,
		Health: backup.HealthConfig{
			Enabled:           c.Health.Enabled,
			Interval:          c.Health.Interval,
			MinSizeBytes:      c.Health.MinSizeBytes,
			EmptyIsUnhealthy:  c.Health.EmptyIsUnhealthy,
			EmergencyCooldown: c.Health.EmergencyCooldown,
			BreakerFailures:   c.Health.BreakerFailures,
			BreakerTimeout:    c.Health.BreakerTimeout,
		},
	}
}

// ToStateConfig returns the badger state store settings.
func (c *Config) ToStateConfig() state.Config {
	return state.Config{Path: c.State.Path, SyncWrites: c.State.SyncWrites}
}

// ToLoggingConfig returns the logger settings. Output stays at its default.
func (c *Config) ToLoggingConfig() logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = c.Logging.Level
	lc.Format = c.Logging.Format
	lc.Caller = c.Logging.Caller
	return lc
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
