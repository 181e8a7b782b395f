// RecordVault - Clinical Record Backup and Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recordvault

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/tomtom215/recordvault/internal/backup"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/recordvault/config.yaml",
	"/etc/recordvault/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config struct with all sensible default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Datastore: DatastoreConfig{
			Path:            "/var/lib/recordvault/clinic.db",
			RequiredTables:  []string{"exams"},
			DependentTables: []string{"reports", "patients"},
			CoreTables:      []string{"exams", "reports"},
		},
		Backup: BackupConfig{
			RootDir:          "/var/lib/recordvault/backups",
			PollInterval:     30 * time.Second,
			RunCooldown:      5 * time.Minute,
			CopyTimeout:      5 * time.Minute,
			DiskReserveBytes: 64 << 20,
			LowWaterBytes:    512 << 20,
		},
		Schedules: map[string]ScheduleConfig{
			"daily":    {Category: "daily", Enabled: true, TimeOfDay: "02:00"},
			"periodic": {Category: "scheduled", Enabled: true, IntervalHours: 6},
		},
		Retention: RetentionConfig{
			Scheduled:  backup.RetentionPolicy{MaxArtifacts: 24, MaxAgeDays: 7},
			Daily:      backup.RetentionPolicy{MaxArtifacts: 30},
			Manual:     backup.RetentionPolicy{MaxArtifacts: 20},
			Emergency:  backup.RetentionPolicy{MaxArtifacts: 10},
			PreRestore: backup.RetentionPolicy{MaxArtifacts: 5},
		},
		Health: HealthConfig{
			Enabled:           true,
			Interval:          15 * time.Minute,
			MinSizeBytes:      4096,
			EmptyIsUnhealthy:  true,
			EmergencyCooldown: 6 * time.Hour,
			BreakerFailures:   3,
			BreakerTimeout:    30 * time.Minute,
		},
		Server: ServerConfig{
			Host:              "127.0.0.1",
			Port:              8420,
			Timeout:           30 * time.Second,
			ShutdownTimeout:   15 * time.Second,
			RateLimitRequests: 30,
			RateLimitWindow:   time.Minute,
			RestoreRateLimit:  3,
			RestoreRateWindow: 10 * time.Minute,
		},
		State: StateConfig{
			Path:       "/var/lib/recordvault/state",
			SyncWrites: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf with layered sources:
//  1. Default values (lowest priority)
//  2. Config file (config.yaml, if exists)
//  3. Environment variables (highest priority)
func LoadWithKoanf() (*Config, error) {
	return load(findConfigFile())
}

// LoadFile loads configuration with an explicit config file path. An empty
// path falls back to the default search.
func LoadFile(path string) (*Config, error) {
	return load(ResolveConfigPath(path))
}

// ResolveConfigPath returns path, or the first config file found by the
// default search when path is empty. Returns "" when there is none.
func ResolveConfigPath(path string) string {
	if path != "" {
		return path
	}
	return findConfigFile()
}

func load(configPath string) (*Config, error) {
	k := koanf.New(".")

	// Layer 1: Load defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: Load config file if present
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: Load environment variables (highest priority)
	// DATABASE_PATH -> datastore.path
	// BACKUP_DIR -> backup.root_dir
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths should be parsed as comma-separated slices
var sliceConfigPaths = []string{
	"backup.asset_paths",
	"datastore.required_tables",
	"datastore.dependent_tables",
	"datastore.core_tables",
	"server.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for known slice fields.
// Env vars come in as strings, but the config expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		// Already a slice (from YAML file or defaults)
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envMappings maps lowercased environment variable names to koanf paths.
var envMappings = map[string]string{
	// Datastore
	"database_path":    "datastore.path",
	"required_tables":  "datastore.required_tables",
	"dependent_tables": "datastore.dependent_tables",
	"core_tables":      "datastore.core_tables",

	// Backup storage
	"backup_dir":                "backup.root_dir",
	"backup_asset_paths":        "backup.asset_paths",
	"backup_poll_interval":      "backup.poll_interval",
	"backup_run_cooldown":       "backup.run_cooldown",
	"backup_copy_timeout":       "backup.copy_timeout",
	"backup_disk_reserve_bytes": "backup.disk_reserve_bytes",
	"backup_low_water_bytes":    "backup.low_water_bytes",

	// Built-in schedules
	"backup_daily_enabled":           "schedules.daily.enabled",
	"backup_daily_time":              "schedules.daily.time_of_day",
	"backup_periodic_enabled":        "schedules.periodic.enabled",
	"backup_periodic_interval_hours": "schedules.periodic.interval_hours",

	// Retention
	"retention_scheduled_max":            "retention.scheduled.max_artifacts",
	"retention_scheduled_max_age_days":   "retention.scheduled.max_age_days",
	"retention_daily_max":                "retention.daily.max_artifacts",
	"retention_daily_max_age_days":       "retention.daily.max_age_days",
	"retention_manual_max":               "retention.manual.max_artifacts",
	"retention_manual_max_age_days":      "retention.manual.max_age_days",
	"retention_emergency_max":            "retention.emergency.max_artifacts",
	"retention_emergency_max_age_days":   "retention.emergency.max_age_days",
	"retention_pre_restore_max":          "retention.pre_restore.max_artifacts",
	"retention_pre_restore_max_age_days": "retention.pre_restore.max_age_days",

	// Health monitor
	"health_enabled":            "health.enabled",
	"health_interval":           "health.interval",
	"health_min_size_bytes":     "health.min_size_bytes",
	"health_empty_is_unhealthy": "health.empty_is_unhealthy",
	"health_emergency_cooldown": "health.emergency_cooldown",
	"health_breaker_failures":   "health.breaker_failures",
	"health_breaker_timeout":    "health.breaker_timeout",

	// Server
	"http_host":             "server.host",
	"http_port":             "server.port",
	"http_timeout":          "server.timeout",
	"http_shutdown_timeout": "server.shutdown_timeout",
	"rate_limit_requests":   "server.rate_limit_requests",
	"rate_limit_window":     "server.rate_limit_window",
	"restore_rate_limit":    "server.restore_rate_limit",
	"restore_rate_window":   "server.restore_rate_window",
	"disable_rate_limit":    "server.rate_limit_disabled",
	"cors_origins":          "server.cors_origins",

	// State store
	"state_dir":         "state.path",
	"state_sync_writes": "state.sync_writes",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Examples:
//   - DATABASE_PATH -> datastore.path
//   - BACKUP_DIR -> backup.root_dir
//   - BACKUP_DAILY_TIME -> schedules.daily.time_of_day
//   - RETENTION_MANUAL_MAX -> retention.manual.max_artifacts
//   - HTTP_PORT -> server.port
func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}

	// Unmapped keys are skipped so random environment variables
	// cannot pollute config
	return ""
}

// WatchConfigFile sets up a file watcher for hot-reload capability.
// The callback runs on every change event; reload errors are the caller's
// to handle.
//
//	err := config.WatchConfigFile(path, func() {
//	    cfg, err := config.LoadFile(path)
//	    if err != nil {
//	        logging.Warn().Err(err).Msg("Config reload failed")
//	        return
//	    }
//	    _ = engine.ApplyConfig(cfg.ToEngineConfig())
//	})
func WatchConfigFile(path string, callback func()) error {
	provider := file.Provider(path)

	return provider.Watch(func(event interface{}, err error) {
		if err != nil {
			return
		}
		callback()
	})
}
