// RecordVault - Clinical Record Backup and Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recordvault

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the backup engine:
// - Snapshot creation latency, size and failures
// - Integrity verification outcomes
// - Retention removals and stored artifact counts
// - Scheduler runs, skips and next fire times
// - Datastore health and emergency backups
// - Restores and the restore halt latch
// - API endpoint latency and throughput

var (
	// Snapshot Metrics
	SnapshotDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recordvault_snapshot_duration_seconds",
			Help:    "Duration of snapshot creation including verification",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		},
		[]string{"category"},
	)

	SnapshotsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recordvault_snapshots_total",
			Help: "Total number of snapshot attempts by outcome",
		},
		[]string{"category", "result"}, // result: "success" or the error kind
	)

	SnapshotSizeBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "recordvault_snapshot_size_bytes",
			Help: "Size of the most recent successful snapshot per category",
		},
		[]string{"category"},
	)

	SnapshotLastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "recordvault_snapshot_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful snapshot per category",
		},
		[]string{"category"},
	)

	// Verification Metrics
	VerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recordvault_verifications_total",
			Help: "Total number of artifact verifications by outcome",
		},
		[]string{"result", "reason"},
	)

	// Retention Metrics
	RetentionRemovals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recordvault_retention_removals_total",
			Help: "Total number of artifacts removed by retention",
		},
		[]string{"category", "reason"}, // reason: "policy", "low_water", "corrupted"
	)

	ArtifactsStored = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "recordvault_artifacts",
			Help: "Current number of stored artifacts per category",
		},
		[]string{"category"},
	)

	DiskFreeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "recordvault_backup_disk_free_bytes",
			Help: "Free bytes on the backup volume at the last check",
		},
	)

	// Scheduler Metrics
	SchedulerRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recordvault_scheduler_runs_total",
			Help: "Total number of scheduled backup runs",
		},
		[]string{"schedule", "result"},
	)

	SchedulerSkips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recordvault_scheduler_skips_total",
			Help: "Total number of scheduled runs skipped",
		},
		[]string{"schedule", "reason"},
	)

	ScheduleNextRun = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "recordvault_schedule_next_run_timestamp_seconds",
			Help: "Unix timestamp of the next planned run per schedule",
		},
		[]string{"schedule"},
	)

	// Health Metrics
	DatastoreHealthy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "recordvault_datastore_healthy",
			Help: "Result of the last datastore health check (1=healthy, 0=unhealthy)",
		},
	)

	HealthChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recordvault_health_checks_total",
			Help: "Total number of datastore health checks",
		},
		[]string{"result"},
	)

	EmergencyBackups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recordvault_emergency_backups_total",
			Help: "Total number of emergency backup attempts by outcome",
		},
		[]string{"result"}, // "success", "failed", "breaker_open", "rate_limited"
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Restore Metrics
	RestoreDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "recordvault_restore_duration_seconds",
			Help:    "Duration of restore operations",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		},
	)

	RestoresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recordvault_restores_total",
			Help: "Total number of restore attempts by outcome",
		},
		[]string{"result"},
	)

	RestoreCriticalFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recordvault_restore_critical_failures_total",
			Help: "Restores that failed after the live datastore was touched",
		},
	)

	RestoreHalted = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "recordvault_restore_halted",
			Help: "1 while restores are halted pending operator action",
		},
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 60},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	APIRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_rate_limit_hits_total",
			Help: "Total number of rate limit rejections",
		},
		[]string{"endpoint"},
	)

	// System Metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)
)

// RecordSnapshot records one snapshot attempt. kind is the error kind and
// is ignored on success.
func RecordSnapshot(category string, duration time.Duration, size int64, kind string, err error) {
	SnapshotDuration.WithLabelValues(category).Observe(duration.Seconds())
	if err != nil {
		if kind == "" {
			kind = "unknown"
		}
		SnapshotsTotal.WithLabelValues(category, kind).Inc()
		return
	}
	SnapshotsTotal.WithLabelValues(category, "success").Inc()
	SnapshotSizeBytes.WithLabelValues(category).Set(float64(size))
	SnapshotLastSuccess.WithLabelValues(category).Set(float64(time.Now().Unix()))
}

// RecordVerification records a verification outcome. Reasons are truncated
// to keep label cardinality bounded.
func RecordVerification(valid bool, reason string) {
	if valid {
		VerificationsTotal.WithLabelValues("valid", "").Inc()
		return
	}
	if len(reason) > 40 {
		reason = reason[:40]
	}
	VerificationsTotal.WithLabelValues("invalid", reason).Inc()
}

// RecordRetentionRemoval counts artifacts removed by retention
func RecordRetentionRemoval(category, reason string, n int) {
	if n <= 0 {
		return
	}
	RetentionRemovals.WithLabelValues(category, reason).Add(float64(n))
}

// SetArtifactCount updates the stored artifact gauge for a category
func SetArtifactCount(category string, n int) {
	ArtifactsStored.WithLabelValues(category).Set(float64(n))
}

// SetDiskFreeBytes updates the backup volume free space gauge
func SetDiskFreeBytes(free int64) {
	DiskFreeBytes.Set(float64(free))
}

// RecordSchedulerRun records a completed scheduled run
func RecordSchedulerRun(schedule string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	SchedulerRuns.WithLabelValues(schedule, result).Inc()
}

// RecordSchedulerSkip records a scheduled run that did not start
func RecordSchedulerSkip(schedule, reason string) {
	SchedulerSkips.WithLabelValues(schedule, reason).Inc()
}

// SetScheduleNextRun publishes the next planned run of a schedule
func SetScheduleNextRun(schedule string, next time.Time) {
	if next.IsZero() {
		ScheduleNextRun.DeleteLabelValues(schedule)
		return
	}
	ScheduleNextRun.WithLabelValues(schedule).Set(float64(next.Unix()))
}

// RecordHealthCheck records a datastore health check result
func RecordHealthCheck(healthy bool) {
	if healthy {
		DatastoreHealthy.Set(1)
		HealthChecksTotal.WithLabelValues("healthy").Inc()
		return
	}
	DatastoreHealthy.Set(0)
	HealthChecksTotal.WithLabelValues("unhealthy").Inc()
}

// RecordEmergencyBackup records an emergency backup attempt
func RecordEmergencyBackup(result string) {
	EmergencyBackups.WithLabelValues(result).Inc()
}

// RecordBreakerTransition records a circuit breaker state change. State
// names are the gobreaker strings.
func RecordBreakerTransition(name, from, to string) {
	CircuitBreakerTransitions.WithLabelValues(name, from, to).Inc()
	CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
}

func breakerStateValue(state string) float64 {
	switch state {
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}

// RecordRestore records a restore attempt
func RecordRestore(result string, duration time.Duration) {
	RestoreDuration.Observe(duration.Seconds())
	RestoresTotal.WithLabelValues(result).Inc()
}

// RecordRestoreCritical counts a restore that left the live datastore in doubt
func RecordRestoreCritical() {
	RestoreCriticalFailures.Inc()
}

// SetRestoreHalted reflects the restore halt latch
func SetRestoreHalted(halted bool) {
	if halted {
		RestoreHalted.Set(1)
		return
	}
	RestoreHalted.Set(0)
}

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks active API requests
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordRateLimitHit counts a request rejected by the rate limiter
func RecordRateLimitHit(endpoint string) {
	APIRateLimitHits.WithLabelValues(endpoint).Inc()
}

// SetAppInfo publishes build information
func SetAppInfo(version, goVersion string) {
	AppInfo.WithLabelValues(version, goVersion).Set(1)
}
