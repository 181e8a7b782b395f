// RecordVault - Clinical Record Backup and Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recordvault

package metrics

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestRecordSnapshot tests snapshot outcome recording
func TestRecordSnapshot(t *testing.T) {
	tests := []struct {
		name       string
		category   string
		kind       string
		err        error
		wantResult string
	}{
		{"success", "snap_test_ok", "", nil, "success"},
		{"integrity failure", "snap_test_integrity", "integrity", errors.New("hash mismatch"), "integrity"},
		{"failure without kind", "snap_test_unknown", "", errors.New("boom"), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(SnapshotsTotal.WithLabelValues(tt.category, tt.wantResult))
			RecordSnapshot(tt.category, 20*time.Millisecond, 4096, tt.kind, tt.err)
			after := testutil.ToFloat64(SnapshotsTotal.WithLabelValues(tt.category, tt.wantResult))
			if after-before != 1 {
				t.Errorf("result %q incremented by %v, want 1", tt.wantResult, after-before)
			}
		})
	}

	if got := testutil.ToFloat64(SnapshotSizeBytes.WithLabelValues("snap_test_ok")); got != 4096 {
		t.Errorf("snapshot size = %v, want 4096", got)
	}
	if got := testutil.ToFloat64(SnapshotSizeBytes.WithLabelValues("snap_test_integrity")); got != 0 {
		t.Errorf("failed snapshot set size gauge to %v", got)
	}
}

// TestRecordVerification_ReasonTruncation keeps label values bounded
func TestRecordVerification_ReasonTruncation(t *testing.T) {
	long := strings.Repeat("x", 100)
	RecordVerification(false, long)

	got := testutil.ToFloat64(VerificationsTotal.WithLabelValues("invalid", long[:40]))
	if got < 1 {
		t.Errorf("truncated reason not recorded")
	}
	if n := testutil.CollectAndCount(VerificationsTotal); n == 0 {
		t.Error("no verification series collected")
	}
}

func TestRecordRetentionRemoval(t *testing.T) {
	before := testutil.ToFloat64(RetentionRemovals.WithLabelValues("ret_test", "policy"))
	RecordRetentionRemoval("ret_test", "policy", 3)
	RecordRetentionRemoval("ret_test", "policy", 0)
	after := testutil.ToFloat64(RetentionRemovals.WithLabelValues("ret_test", "policy"))
	if after-before != 3 {
		t.Errorf("removals incremented by %v, want 3", after-before)
	}
}

func TestSchedulerMetrics(t *testing.T) {
	RecordSchedulerRun("sched_test", nil)
	RecordSchedulerRun("sched_test", errors.New("disk full"))
	RecordSchedulerSkip("sched_test", "overlap")

	if got := testutil.ToFloat64(SchedulerRuns.WithLabelValues("sched_test", "failure")); got != 1 {
		t.Errorf("failure runs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(SchedulerSkips.WithLabelValues("sched_test", "overlap")); got != 1 {
		t.Errorf("skips = %v, want 1", got)
	}

	next := time.Date(2026, 3, 15, 2, 0, 0, 0, time.UTC)
	SetScheduleNextRun("sched_test", next)
	if got := testutil.ToFloat64(ScheduleNextRun.WithLabelValues("sched_test")); got != float64(next.Unix()) {
		t.Errorf("next run = %v", got)
	}
	SetScheduleNextRun("sched_test_gone", time.Time{})
}

func TestHealthMetrics(t *testing.T) {
	RecordHealthCheck(false)
	if got := testutil.ToFloat64(DatastoreHealthy); got != 0 {
		t.Errorf("healthy gauge = %v after failed check", got)
	}
	RecordHealthCheck(true)
	if got := testutil.ToFloat64(DatastoreHealthy); got != 1 {
		t.Errorf("healthy gauge = %v after passing check", got)
	}

	before := testutil.ToFloat64(EmergencyBackups.WithLabelValues("breaker_open"))
	RecordEmergencyBackup("breaker_open")
	if got := testutil.ToFloat64(EmergencyBackups.WithLabelValues("breaker_open")); got-before != 1 {
		t.Errorf("emergency counter moved by %v", got-before)
	}
}

func TestRecordBreakerTransition(t *testing.T) {
	tests := []struct {
		to   string
		want float64
	}{
		{"open", 2},
		{"half-open", 1},
		{"closed", 0},
	}
	for _, tt := range tests {
		t.Run(tt.to, func(t *testing.T) {
			RecordBreakerTransition("breaker_test", "closed", tt.to)
			if got := testutil.ToFloat64(CircuitBreakerState.WithLabelValues("breaker_test")); got != tt.want {
				t.Errorf("state = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRestoreMetrics(t *testing.T) {
	SetRestoreHalted(true)
	if got := testutil.ToFloat64(RestoreHalted); got != 1 {
		t.Errorf("halted gauge = %v", got)
	}
	SetRestoreHalted(false)
	if got := testutil.ToFloat64(RestoreHalted); got != 0 {
		t.Errorf("halted gauge = %v", got)
	}

	before := testutil.ToFloat64(RestoreCriticalFailures)
	RecordRestoreCritical()
	if got := testutil.ToFloat64(RestoreCriticalFailures); got-before != 1 {
		t.Errorf("critical counter moved by %v", got-before)
	}
	RecordRestore("success", 2*time.Second)
}

// TestTrackActiveRequest_RequestLifecycle tests the full request lifecycle
func TestTrackActiveRequest_RequestLifecycle(t *testing.T) {
	initial := testutil.ToFloat64(APIActiveRequests)
	TrackActiveRequest(true)
	TrackActiveRequest(true)
	if got := testutil.ToFloat64(APIActiveRequests); got != initial+2 {
		t.Errorf("active = %v, want %v", got, initial+2)
	}
	TrackActiveRequest(false)
	TrackActiveRequest(false)
	if got := testutil.ToFloat64(APIActiveRequests); got != initial {
		t.Errorf("active = %v, want %v", got, initial)
	}
}

// TestConcurrentMetricRecording tests thread safety of metric recording
func TestConcurrentMetricRecording(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			RecordSnapshot("concurrent_test", time.Millisecond, 1, "", nil)
			RecordAPIRequest("GET", "/api/v1/backups", "200", time.Millisecond)
			SetArtifactCount("concurrent_test", 3)
			SetDiskFreeBytes(1 << 30)
		}()
	}
	wg.Wait()

	if got := testutil.ToFloat64(SnapshotsTotal.WithLabelValues("concurrent_test", "success")); got != 20 {
		t.Errorf("snapshots = %v, want 20", got)
	}
}

func TestMetricsRegistration(t *testing.T) {
	collectors := []prometheus.Collector{
		SnapshotDuration,
		SnapshotsTotal,
		SnapshotSizeBytes,
		SnapshotLastSuccess,
		VerificationsTotal,
		RetentionRemovals,
		ArtifactsStored,
		DiskFreeBytes,
		SchedulerRuns,
		SchedulerSkips,
		ScheduleNextRun,
		DatastoreHealthy,
		HealthChecksTotal,
		EmergencyBackups,
		CircuitBreakerState,
		CircuitBreakerTransitions,
		RestoreDuration,
		RestoresTotal,
		RestoreCriticalFailures,
		RestoreHalted,
		APIRequestsTotal,
		APIRequestDuration,
		APIActiveRequests,
		APIRateLimitHits,
		AppInfo,
	}

	for _, c := range collectors {
		ch := make(chan *prometheus.Desc, 10)
		c.Describe(ch)
		close(ch)

		count := 0
		for range ch {
			count++
		}
		if count == 0 {
			t.Errorf("Metric has no descriptors")
		}
	}
}

// TestMetricGathering tests that metrics can be gathered using testutil
func TestMetricGathering(t *testing.T) {
	SetAppInfo("test", "go1.24")
	RecordRateLimitHit("/api/v1/backups/restore")

	problems, err := testutil.GatherAndLint(prometheus.DefaultGatherer)
	if err != nil {
		t.Logf("Lint errors (may be expected): %v", err)
	}
	for _, p := range problems {
		t.Logf("Metric lint problem: %s", p.Text)
	}
}

func BenchmarkRecordSnapshot(b *testing.B) {
	for i := 0; i < b.N; i++ {
		RecordSnapshot("bench", 10*time.Millisecond, 1<<20, "", nil)
	}
}

func BenchmarkRecordAPIRequest(b *testing.B) {
	for i := 0; i < b.N; i++ {
		RecordAPIRequest("GET", "/api/v1/backups", "200", 25*time.Millisecond)
	}
}
