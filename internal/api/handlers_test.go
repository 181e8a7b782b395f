// RecordVault - Clinical Record Backup and Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recordvault

package api

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tomtom215/recordvault/internal/backup"
)

// testServer bundles a real engine behind the full router.
type testServer struct {
	engine   *backup.Engine
	state    *backup.MemoryState
	handler  http.Handler
	livePath string
}

// newTestServer creates a populated SQLite datastore and serves the engine
// over it with rate limiting disabled.
func newTestServer(t *testing.T) *testServer {
	t.Helper()

	dir := t.TempDir()
	livePath := filepath.Join(dir, "clinic.db")
	createClinicDB(t, livePath)

	cfg := backup.DefaultConfig(livePath, filepath.Join(dir, "backups"))
	cfg.DiskReserveBytes = 0
	cfg.LowWaterBytes = 0
	cfg.RunCooldown = 0
	cfg.Health.MinSizeBytes = 0
	cfg.Health.EmergencyCooldown = 0

	state := backup.NewMemoryState()
	engine, err := backup.NewEngine(cfg, state)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	t.Cleanup(func() { engine.Close() })

	mw := NewChiMiddleware(&ChiMiddlewareConfig{RateLimitDisabled: true})
	return &testServer{
		engine:   engine,
		state:    state,
		handler:  NewRouter(NewHandler(engine), mw).SetupChi(),
		livePath: livePath,
	}
}

// do sends one request and decodes the envelope.
func (s *testServer) do(t *testing.T, method, target, body string) (int, APIResponse) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)

	var resp APIResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("%s %s: invalid JSON response %q: %v", method, target, w.Body.String(), err)
	}
	return w.Code, resp
}

// decodeData re-decodes the envelope data into dst.
func decodeData(t *testing.T, resp APIResponse, dst interface{}) {
	t.Helper()
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		t.Fatalf("failed to re-encode data: %v", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		t.Fatalf("failed to decode data %s: %v", raw, err)
	}
}

func createClinicDB(t *testing.T, path string) {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("failed to open %s: %v", path, err)
	}
	defer db.Close()

	stmts := []string{
		`CREATE TABLE patients (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`,
		`CREATE TABLE exams (id INTEGER PRIMARY KEY, patient_id INTEGER, kind TEXT, notes TEXT)`,
		`CREATE TABLE reports (id INTEGER PRIMARY KEY, exam_id INTEGER, body TEXT)`,
		`INSERT INTO patients (name) VALUES ('Jane Roe')`,
		`INSERT INTO exams (patient_id, kind, notes) VALUES (1, 'ultrasound', 'routine')`,
		`INSERT INTO reports (exam_id, body) VALUES (1, 'unremarkable')`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("failed to exec %q: %v", stmt, err)
		}
	}
}

func TestCreateAndGetBackup(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	code, resp := s.do(t, http.MethodPost, "/api/v1/backups", `{"description":"before upgrade"}`)
	if code != http.StatusCreated {
		t.Fatalf("create status = %d, body error = %+v", code, resp.Error)
	}
	if resp.Status != "success" {
		t.Fatalf("status = %q, want success", resp.Status)
	}
	var created backup.Artifact
	decodeData(t, resp, &created)
	if created.Category != backup.CategoryManual || created.Description != "before upgrade" {
		t.Fatalf("created = %+v", created)
	}
	if created.ContentHash == "" {
		t.Error("expected a content hash")
	}

	code, resp = s.do(t, http.MethodGet, "/api/v1/backups/manual/"+created.ID, "")
	if code != http.StatusOK {
		t.Fatalf("get status = %d, error = %+v", code, resp.Error)
	}
	var got backup.Artifact
	decodeData(t, resp, &got)
	if got.ID != created.ID || got.ContentHash != created.ContentHash {
		t.Errorf("got %+v, want %+v", got, created)
	}
}

func TestCreateBackup_EmptyBody(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	code, resp := s.do(t, http.MethodPost, "/api/v1/backups", "")
	if code != http.StatusCreated {
		t.Fatalf("status = %d, error = %+v", code, resp.Error)
	}
}

func TestCreateBackup_InvalidBody(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	tests := []struct {
		name string
		body string
		code string
	}{
		{"malformed JSON", `{"description":`, CodeInvalidBody},
		{"unknown field", `{"notes":"x"}`, CodeInvalidBody},
		{"description too long", `{"description":"` + strings.Repeat("a", 501) + `"}`, CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := s.do(t, http.MethodPost, "/api/v1/backups", tt.body)
			if code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", code)
			}
			if resp.Error == nil || resp.Error.Code != tt.code {
				t.Errorf("error = %+v, want code %s", resp.Error, tt.code)
			}
		})
	}
}

func TestListBackups(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := s.engine.CreateManualBackup(ctx, ""); err != nil {
			t.Fatal(err)
		}
	}

	code, resp := s.do(t, http.MethodGet, "/api/v1/backups?category=manual&limit=2", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d, error = %+v", code, resp.Error)
	}
	var list ListBackupsResponse
	decodeData(t, resp, &list)
	if list.Count != 2 || len(list.Backups) != 2 {
		t.Fatalf("count = %d, want 2", list.Count)
	}
	if list.Backups[0].CreatedAt.Before(list.Backups[1].CreatedAt) {
		t.Error("expected newest first")
	}

	code, resp = s.do(t, http.MethodGet, "/api/v1/backups?category=daily", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	decodeData(t, resp, &list)
	if list.Count != 0 || list.Backups == nil {
		t.Errorf("empty category: count = %d, backups = %v", list.Count, list.Backups)
	}
}

func TestListBackups_InvalidParams(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	tests := []struct {
		name  string
		query string
	}{
		{"non-numeric limit", "limit=ten"},
		{"limit too large", "limit=5000"},
		{"negative offset", "offset=-1"},
		{"bad since", "since=yesterday"},
		{"bad until", "until=2026-13-01"},
		{"unknown category", "category=weekly"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := s.do(t, http.MethodGet, "/api/v1/backups?"+tt.query, "")
			if code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", code)
			}
			if resp.Error == nil || resp.Error.Code != CodeValidation {
				t.Errorf("error = %+v", resp.Error)
			}
		})
	}
}

func TestArtifactRoutes_RejectBadRefs(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	tests := []struct {
		name   string
		method string
		target string
		status int
	}{
		{"unknown category", http.MethodGet, "/api/v1/backups/weekly/backup.db", http.StatusBadRequest},
		{"wrong extension", http.MethodGet, "/api/v1/backups/manual/backup.txt", http.StatusBadRequest},
		{"hidden file", http.MethodDelete, "/api/v1/backups/manual/.db", http.StatusBadRequest},
		{"encoded traversal", http.MethodPost, "/api/v1/backups/manual/..%2F..%2Fetc.db/restore", http.StatusBadRequest},
		{"missing artifact", http.MethodGet, "/api/v1/backups/manual/backup_20200101_000000_000000001.db", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := s.do(t, tt.method, tt.target, "")
			if code != tt.status {
				t.Fatalf("status = %d, want %d (error %+v)", code, tt.status, resp.Error)
			}
		})
	}
}

func TestVerifyAndDeleteBackup(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	artifact, err := s.engine.CreateManualBackup(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	base := "/api/v1/backups/" + artifact.Ref()

	code, resp := s.do(t, http.MethodPost, base+"/verify", "")
	if code != http.StatusOK {
		t.Fatalf("verify status = %d, error = %+v", code, resp.Error)
	}
	var result backup.VerificationResult
	decodeData(t, resp, &result)
	if !result.Valid {
		t.Fatalf("verify = %+v, want valid", result)
	}

	code, resp = s.do(t, http.MethodPost, "/api/v1/backups/verify-all", "")
	if code != http.StatusOK {
		t.Fatalf("verify-all status = %d", code)
	}
	var all VerifyAllResponse
	decodeData(t, resp, &all)
	if all.Checked != 1 || all.Invalid != 0 {
		t.Errorf("verify-all = %+v", all)
	}

	code, _ = s.do(t, http.MethodDelete, base, "")
	if code != http.StatusOK {
		t.Fatalf("delete status = %d", code)
	}
	code, resp = s.do(t, http.MethodGet, base, "")
	if code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want 404", code)
	}
	if resp.Error == nil || resp.Error.Code != CodeNotFound {
		t.Errorf("error = %+v", resp.Error)
	}
}

func TestRestoreBackup(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	artifact, err := s.engine.CreateManualBackup(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}

	code, resp := s.do(t, http.MethodPost, "/api/v1/backups/"+artifact.Ref()+"/restore", `{"skip_pre_restore":false}`)
	if code != http.StatusOK {
		t.Fatalf("restore status = %d, error = %+v", code, resp.Error)
	}
	var result backup.RestoreResult
	decodeData(t, resp, &result)
	if !result.Success || result.Artifact != artifact.Ref() {
		t.Fatalf("restore = %+v", result)
	}
	if result.PreRestoreArtifact == "" {
		t.Error("expected a pre-restore safety snapshot")
	}
}

func TestRestoreBackup_Halted(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	artifact, err := s.engine.CreateManualBackup(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.state.SetRestoreHalt(backup.HaltRecord{Reason: "swap failed", Artifact: artifact.Ref(), At: time.Now()}); err != nil {
		t.Fatal(err)
	}

	code, resp := s.do(t, http.MethodGet, "/api/v1/restore/halt", "")
	if code != http.StatusOK {
		t.Fatalf("halt status = %d", code)
	}
	var halt RestoreHaltResponse
	decodeData(t, resp, &halt)
	if !halt.Halted || halt.Record == nil || halt.Record.Reason != "swap failed" {
		t.Fatalf("halt = %+v", halt)
	}

	code, resp = s.do(t, http.MethodPost, "/api/v1/backups/"+artifact.Ref()+"/restore", "")
	if code != http.StatusConflict {
		t.Fatalf("restore while halted status = %d, want 409", code)
	}
	if resp.Error == nil || resp.Error.Code != CodeRestoreHalted {
		t.Errorf("error = %+v", resp.Error)
	}

	code, _ = s.do(t, http.MethodDelete, "/api/v1/restore/halt", "")
	if code != http.StatusOK {
		t.Fatalf("clear halt status = %d", code)
	}
	code, resp = s.do(t, http.MethodPost, "/api/v1/backups/"+artifact.Ref()+"/restore", `{"skip_pre_restore":true}`)
	if code != http.StatusOK {
		t.Fatalf("restore after clear status = %d, error = %+v", code, resp.Error)
	}
}

func TestSchedules(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	code, resp := s.do(t, http.MethodGet, "/api/v1/schedules", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	var statuses []backup.ScheduleStatus
	decodeData(t, resp, &statuses)
	if len(statuses) != 2 {
		t.Fatalf("schedules = %+v, want the two defaults", statuses)
	}

	code, resp = s.do(t, http.MethodPut, "/api/v1/schedules/nightly", `{"category":"daily","enabled":true,"time_of_day":"23:30"}`)
	if code != http.StatusOK {
		t.Fatalf("set status = %d, error = %+v", code, resp.Error)
	}
	var st backup.ScheduleStatus
	decodeData(t, resp, &st)
	if st.Name != "nightly" || st.Category != backup.CategoryDaily || !st.Enabled {
		t.Errorf("status = %+v", st)
	}

	tests := []struct {
		name string
		body string
	}{
		{"bad time", `{"category":"daily","enabled":true,"time_of_day":"25:00"}`},
		{"manual category", `{"category":"manual","enabled":true,"interval_hours":1}`},
		{"negative interval", `{"category":"scheduled","enabled":true,"interval_hours":-2}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := s.do(t, http.MethodPut, "/api/v1/schedules/extra", tt.body)
			if code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", code)
			}
		})
	}
}

func TestRetention(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := s.engine.CreateManualBackup(ctx, ""); err != nil {
			t.Fatal(err)
		}
	}

	code, resp := s.do(t, http.MethodGet, "/api/v1/retention", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	var policies []RetentionPolicyResponse
	decodeData(t, resp, &policies)
	if len(policies) != len(backup.AllCategories) {
		t.Fatalf("policies = %d, want %d", len(policies), len(backup.AllCategories))
	}

	code, resp = s.do(t, http.MethodPut, "/api/v1/retention/manual", `{"max_artifacts":1}`)
	if code != http.StatusOK {
		t.Fatalf("set status = %d, error = %+v", code, resp.Error)
	}

	code, resp = s.do(t, http.MethodGet, "/api/v1/retention/manual/preview", "")
	if code != http.StatusOK {
		t.Fatalf("preview status = %d", code)
	}
	var preview backup.RetentionPreview
	decodeData(t, resp, &preview)
	if len(preview.Keep) != 1 || len(preview.Remove) != 2 {
		t.Fatalf("preview keep=%v remove=%v", preview.Keep, preview.Remove)
	}

	code, _ = s.do(t, http.MethodPost, "/api/v1/retention/apply", "")
	if code != http.StatusOK {
		t.Fatalf("apply status = %d", code)
	}
	remaining, err := s.engine.ListBackups(backup.CategoryManual)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 1 || remaining[0].Ref() != preview.Keep[0] {
		t.Errorf("remaining = %d, want the previewed survivor", len(remaining))
	}

	code, _ = s.do(t, http.MethodPut, "/api/v1/retention/manual", `{"max_artifacts":-1}`)
	if code != http.StatusBadRequest {
		t.Errorf("negative policy status = %d, want 400", code)
	}
	code, _ = s.do(t, http.MethodGet, "/api/v1/retention/weekly/preview", "")
	if code != http.StatusBadRequest {
		t.Errorf("unknown category status = %d, want 400", code)
	}
}

func TestDatastoreHealth(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	code, resp := s.do(t, http.MethodGet, "/api/v1/health/datastore", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	var status backup.HealthStatus
	decodeData(t, resp, &status)
	if !status.Healthy || !status.DataPresent || !status.RequiredStructurePresent {
		t.Errorf("health = %+v, want healthy", status)
	}
}

func TestLivenessAndMetrics(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	code, _ := s.do(t, http.MethodGet, "/healthz", "")
	if code != http.StatusOK {
		t.Fatalf("healthz status = %d", code)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "recordvault_") {
		t.Error("expected recordvault metrics in exposition")
	}
}

func TestResponseCarriesRequestID(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/schedules", nil)
	req.Header.Set("X-Request-ID", "trace-123")
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)

	var resp APIResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Metadata.RequestID != "trace-123" {
		t.Errorf("request_id = %q, want trace-123", resp.Metadata.RequestID)
	}
	if w.Header().Get("Cache-Control") != "no-store" {
		t.Errorf("Cache-Control = %q", w.Header().Get("Cache-Control"))
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing security headers")
	}
}

func TestStatusForKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind   backup.ErrorKind
		status int
		code   string
	}{
		{backup.KindConfig, http.StatusBadRequest, CodeValidation},
		{backup.KindNotFound, http.StatusNotFound, CodeNotFound},
		{backup.KindIntegrity, http.StatusUnprocessableEntity, CodeIntegrity},
		{backup.KindHalted, http.StatusConflict, CodeRestoreHalted},
		{backup.KindCritical, http.StatusInternalServerError, CodeCritical},
		{backup.KindRecoverable, http.StatusServiceUnavailable, CodeUnavailable},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			status, code := statusForKind(tt.kind)
			if status != tt.status || code != tt.code {
				t.Errorf("statusForKind(%s) = %d %s, want %d %s", tt.kind, status, code, tt.status, tt.code)
			}
		})
	}
}

func TestRespondEngineError_UnclassifiedIsGeneric(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/backups", nil)
	w := httptest.NewRecorder()
	respondEngineError(w, req, errors.New("open /secret/path: permission denied"))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	var resp APIResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(resp.Error.Message, "/secret/path") {
		t.Errorf("message leaks internals: %q", resp.Error.Message)
	}
	if _, ok := resp.Error.Details["reason"]; ok {
		t.Errorf("details leak internals: %v", resp.Error.Details)
	}
}

func TestSanitizeLogValue(t *testing.T) {
	t.Parallel()

	if got := sanitizeLogValue("/api/v1\n/forged\x7f"); got != "/api/v1/forged" {
		t.Errorf("sanitizeLogValue = %q", got)
	}
}
