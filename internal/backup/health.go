// RecordVault - Clinical Record Backup and Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recordvault

/*
health.go - Datastore Health Monitor

Inspects the live datastore read-only on its own cadence. Checks run in
order: existence, size sanity, open, required structure, data presence.

An open failure, missing structure, or (by default) an empty datastore
triggers an emergency snapshot before the status is returned. Emergency
snapshots are rate limited to one per cool-down and pass through a
circuit breaker, so a datastore that keeps failing does not fill the disk
with emergency copies or hammer a broken filesystem. An emergency failure
becomes a critical finding in the status and never escapes the monitor.
A snapshot that has started is finished even when the monitor stops.

Every check also refreshes the backup volume free space gauge and runs the
disk low-water retention pass.
*/

//nolint:staticcheck // File documentation, not package doc
package backup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/recordvault/internal/logging"
	"github.com/tomtom215/recordvault/internal/metrics"
)

// HealthMonitor checks the live datastore and takes emergency snapshots.
type HealthMonitor struct {
	store         *Store
	retention     *RetentionManager
	clock         Clock
	datastorePath string
	required      []string
	dependent     []string
	core          []string

	mu      sync.RWMutex
	cfg     HealthConfig
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*Artifact]
	last    *HealthStatus
}

// NewHealthMonitor creates a health monitor for the datastore in cfg. A nil
// retention manager disables the low-water pass on each check.
func NewHealthMonitor(store *Store, retention *RetentionManager, clock Clock, cfg *Config) *HealthMonitor {
	if clock == nil {
		clock = RealClock{}
	}
	m := &HealthMonitor{
		store:         store,
		retention:     retention,
		clock:         clock,
		datastorePath: cfg.DatastorePath,
		required:      append([]string(nil), cfg.RequiredTables...),
		dependent:     append([]string(nil), cfg.DependentTables...),
		core:          append([]string(nil), cfg.CoreTables...),
	}
	m.configure(cfg.Health)
	return m
}

// Configure applies new health settings. Resets the emergency limiter and breaker.
func (m *HealthMonitor) Configure(hc HealthConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configure(hc)
}

func (m *HealthMonitor) configure(hc HealthConfig) {
	m.cfg = hc

	limit := rate.Inf
	if hc.EmergencyCooldown > 0 {
		limit = rate.Every(hc.EmergencyCooldown)
	}
	m.limiter = rate.NewLimiter(limit, 1)

	failures := hc.BreakerFailures
	if failures == 0 {
		failures = 3
	}
	m.breaker = gobreaker.NewCircuitBreaker[*Artifact](gobreaker.Settings{
		Name:        "emergency-backup",
		MaxRequests: 1,
		Timeout:     hc.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Emergency backup circuit breaker state changed")
			metrics.RecordBreakerTransition(name, from.String(), to.String())
		},
	})
}

// Interval returns the configured check cadence.
func (m *HealthMonitor) Interval() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.Interval
}

// Enabled reports whether periodic checks should run.
func (m *HealthMonitor) Enabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.Enabled
}

// LastStatus returns the most recent check result, or nil before the first check.
func (m *HealthMonitor) LastStatus() *HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.last == nil {
		return nil
	}
	st := *m.last
	st.Recommendations = append([]string(nil), m.last.Recommendations...)
	return &st
}

// CheckHealth inspects the datastore and, when warranted, takes an emergency
// snapshot before returning. It never writes to the datastore.
func (m *HealthMonitor) CheckHealth(ctx context.Context) HealthStatus {
	m.mu.RLock()
	cfg := m.cfg
	m.mu.RUnlock()

	status, emergencyReason := m.inspect(ctx, cfg)
	m.reclaimSpace(ctx)

	if emergencyReason != "" {
		ref, finding := m.emergency(ctx, emergencyReason)
		status.EmergencyBackup = ref
		if finding != "" {
			status.Recommendations = append(status.Recommendations, finding)
		}
	}

	metrics.RecordHealthCheck(status.Healthy)
	log := logging.Ctx(ctx)
	if status.Healthy {
		log.Debug().Int64("size_bytes", status.SizeBytes).Msg("Datastore health check passed")
	} else {
		log.Warn().
			Bool("exists", status.DatastoreExists).
			Bool("accessible", status.DatastoreAccessible).
			Bool("structure", status.RequiredStructurePresent).
			Bool("data", status.DataPresent).
			Strs("recommendations", status.Recommendations).
			Msg("Datastore unhealthy")
	}

	m.mu.Lock()
	stored := status
	m.last = &stored
	m.mu.Unlock()
	return status
}

// inspect runs the ordered checks. It returns the status and, when an
// emergency snapshot is warranted, the reason for it.
func (m *HealthMonitor) inspect(ctx context.Context, cfg HealthConfig) (HealthStatus, string) {
	status := HealthStatus{CheckedAt: m.clock.Now(), Recommendations: []string{}}
	recommend := func(format string, args ...any) {
		status.Recommendations = append(status.Recommendations, fmt.Sprintf(format, args...))
	}

	// 1. existence
	size, err := fileSize(m.datastorePath)
	if err != nil {
		recommend("Datastore not found at %s; restore the most recent verified backup", m.datastorePath)
		return status, ""
	}
	status.DatastoreExists = true
	status.SizeBytes = size

	// 2. size sanity
	if cfg.MinSizeBytes > 0 && size < cfg.MinSizeBytes {
		recommend("Datastore is only %d bytes (expected at least %d); investigate possible truncation", size, cfg.MinSizeBytes)
	}

	// 3. open
	db, err := openReadOnly(ctx, m.datastorePath, false)
	if err != nil {
		recommend("Datastore cannot be opened: %v", err)
		return status, "datastore unreadable"
	}
	defer db.Close()
	status.DatastoreAccessible = true

	// 4. required structure
	tables, err := listTables(ctx, db)
	if err != nil {
		status.DatastoreAccessible = false
		recommend("Datastore schema cannot be read: %v", err)
		return status, "datastore unreadable"
	}
	if missing := checkStructure(tables, m.required, m.dependent); len(missing) > 0 {
		recommend("Datastore is %s: %s", ReasonMissingStructure, strings.Join(missing, ", "))
		return status, ReasonMissingStructure
	}
	status.RequiredStructurePresent = true

	// 5. data presence
	present := make(map[string]bool, len(tables))
	for _, t := range tables {
		present[strings.ToLower(t)] = true
	}
	for _, table := range m.core {
		if !present[strings.ToLower(table)] {
			continue
		}
		ok, err := hasRows(ctx, db, table)
		if err != nil {
			recommend("Table %s cannot be read: %v", table, err)
			continue
		}
		if ok {
			status.DataPresent = true
			break
		}
	}

	if !status.DataPresent {
		if cfg.EmptyIsUnhealthy {
			recommend("Core tables (%s) contain no records; verify this is a new installation", strings.Join(m.core, ", "))
			return status, "no records in core tables"
		}
		recommend("Core tables contain no records; treated as a new installation")
	}
	status.Healthy = true
	return status, ""
}

// reclaimSpace refreshes the free space gauge and runs the disk low-water pass.
func (m *HealthMonitor) reclaimSpace(ctx context.Context) {
	if free, err := m.store.diskFree(m.store.rootDir); err == nil && free >= 0 {
		metrics.SetDiskFreeBytes(free)
	}
	if m.retention == nil {
		return
	}
	removed, err := m.retention.EnforceDiskLowWater(ctx)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("Low-water retention failed")
		return
	}
	if removed > 0 {
		logging.Ctx(ctx).Info().Int("removed", removed).Msg("Low-water retention reclaimed space")
	}
}

// emergency takes an emergency snapshot subject to the cool-down and breaker.
// It returns the new artifact ref, or a finding describing why none was taken.
func (m *HealthMonitor) emergency(ctx context.Context, reason string) (string, string) {
	m.mu.RLock()
	limiter, breaker, cooldown := m.limiter, m.breaker, m.cfg.EmergencyCooldown
	m.mu.RUnlock()

	log := logging.Ctx(ctx)
	if !limiter.AllowN(m.clock.Now(), 1) {
		metrics.RecordEmergencyBackup("rate_limited")
		log.Info().Str("reason", reason).Dur("cooldown", cooldown).Msg("Emergency backup skipped, cool-down active")
		return "", fmt.Sprintf("Emergency backup skipped: one was taken within the last %s", cooldown)
	}

	// A started snapshot completes even if the monitor is shutting down.
	snapCtx := context.WithoutCancel(ctx)
	artifact, err := breaker.Execute(func() (*Artifact, error) {
		return m.store.CreateSnapshot(snapCtx, CategoryEmergency, m.datastorePath, "emergency: "+reason)
	})
	if err != nil {
		result := "failed"
		finding := "CRITICAL: emergency backup failed: " + ReasonOf(err)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			result = "breaker_open"
			finding = "CRITICAL: emergency backups suspended after repeated failures"
		}
		metrics.RecordEmergencyBackup(result)
		log.Error().Err(err).
			Str("kind", string(KindCritical)).
			Str("reason", reason).
			Msg("Emergency backup failed")
		return "", finding
	}

	metrics.RecordEmergencyBackup("success")
	log.Warn().Str("artifact", artifact.Ref()).Str("reason", reason).Msg("Emergency backup taken")
	return artifact.Ref(), ""
}

// Run checks health every Interval until ctx is canceled.
func (m *HealthMonitor) Run(ctx context.Context) error {
	interval := m.Interval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logging.Info().Dur("interval", interval).Msg("Health monitor started")
	if m.Enabled() {
		m.CheckHealth(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("Health monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			if i := m.Interval(); i != interval && i > 0 {
				interval = i
				ticker.Reset(interval)
			}
			if m.Enabled() {
				m.CheckHealth(logging.ContextWithOperation(logging.ContextWithNewRequestID(ctx), "health_check"))
			}
		}
	}
}
