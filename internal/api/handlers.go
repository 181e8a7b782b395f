// RecordVault - Clinical Record Backup and Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recordvault

package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/recordvault/internal/backup"
	"github.com/tomtom215/recordvault/internal/logging"
	"github.com/tomtom215/recordvault/internal/validation"
)

// maxBodyBytes bounds request bodies; every request body here is a few fields.
const maxBodyBytes = 64 << 10

// BackupEngine is the engine surface the API drives. Satisfied by *backup.Engine.
type BackupEngine interface {
	CreateManualBackup(ctx context.Context, description string) (*backup.Artifact, error)
	ListBackupsFiltered(opts backup.ListOptions) ([]*backup.Artifact, error)
	GetBackup(ref string) (*backup.Artifact, error)
	DeleteBackup(ctx context.Context, ref string) error
	VerifyBackup(ctx context.Context, ref string) (*backup.VerificationResult, error)
	VerifyAll(ctx context.Context) ([]backup.VerificationResult, error)
	CleanupCorrupted(ctx context.Context) (int, error)

	RestoreBackup(ctx context.Context, ref string, opts backup.RestoreOptions) (*backup.RestoreResult, error)
	RestoreHalt() (*backup.HaltRecord, error)
	ClearRestoreHalt(ctx context.Context) error

	GetScheduleStatus() []backup.ScheduleStatus
	SetSchedule(sc backup.ScheduleConfig) error

	RetentionPolicies() map[backup.Category]backup.RetentionPolicy
	SetRetentionPolicy(cat backup.Category, p backup.RetentionPolicy) error
	PreviewRetention(cat backup.Category) (*backup.RetentionPreview, error)
	ApplyRetention(ctx context.Context) (map[backup.Category]int, error)

	GetHealthStatus(ctx context.Context) backup.HealthStatus
}

var _ BackupEngine = (*backup.Engine)(nil)

// Handler holds the HTTP handlers.
type Handler struct {
	engine BackupEngine
}

// NewHandler creates the handlers over engine.
func NewHandler(engine BackupEngine) *Handler {
	return &Handler{engine: engine}
}

// decodeBody decodes an optional JSON body into dst. An empty body leaves
// dst untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// artifactRef validates the {category}/{name} path parameters.
func artifactRef(w http.ResponseWriter, r *http.Request) (string, bool) {
	ref := ArtifactRefParams{
		Category: chi.URLParam(r, "category"),
		Name:     chi.URLParam(r, "name"),
	}
	if verr := validation.ValidateStruct(&ref); verr != nil {
		respondValidationError(w, r, verr)
		return "", false
	}
	return ref.Category + "/" + ref.Name, true
}

// getIntParam parses an integer query parameter, returning def when absent.
func getIntParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

// getTimeParam parses an RFC3339 query parameter.
func getTimeParam(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateBackup takes a manual snapshot.
// POST /api/v1/backups
func (h *Handler) CreateBackup(w http.ResponseWriter, r *http.Request) {
	var req CreateBackupRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, CodeInvalidBody, "Invalid request body", nil)
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		respondValidationError(w, r, verr)
		return
	}

	ctx := logging.ContextWithOperation(r.Context(), "manual_backup")
	artifact, err := h.engine.CreateManualBackup(ctx, req.Description)
	if err != nil {
		respondEngineError(w, r, err)
		return
	}
	respondSuccess(w, r, http.StatusCreated, artifact)
}

// ListBackups lists artifacts, newest first.
// GET /api/v1/backups?category=&since=&until=&limit=&offset=
func (h *Handler) ListBackups(w http.ResponseWriter, r *http.Request) {
	limit, err := getIntParam(r, "limit", 100)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, CodeValidation, "limit must be an integer", nil)
		return
	}
	offset, err := getIntParam(r, "offset", 0)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, CodeValidation, "offset must be an integer", nil)
		return
	}
	since, err := getTimeParam(r, "since")
	if err != nil {
		respondError(w, r, http.StatusBadRequest, CodeValidation, "since must be an RFC3339 timestamp", nil)
		return
	}
	until, err := getTimeParam(r, "until")
	if err != nil {
		respondError(w, r, http.StatusBadRequest, CodeValidation, "until must be an RFC3339 timestamp", nil)
		return
	}

	opts := backup.ListOptions{
		Category: backup.Category(r.URL.Query().Get("category")),
		Since:    since,
		Until:    until,
		Limit:    limit,
		Offset:   offset,
	}
	if verr := validation.ValidateStruct(&opts); verr != nil {
		respondValidationError(w, r, verr)
		return
	}

	artifacts, err := h.engine.ListBackupsFiltered(opts)
	if err != nil {
		respondEngineError(w, r, err)
		return
	}
	if artifacts == nil {
		artifacts = []*backup.Artifact{}
	}
	respondSuccess(w, r, http.StatusOK, ListBackupsResponse{Backups: artifacts, Count: len(artifacts)})
}

// GetBackup returns one artifact's metadata.
// GET /api/v1/backups/{category}/{name}
func (h *Handler) GetBackup(w http.ResponseWriter, r *http.Request) {
	ref, ok := artifactRef(w, r)
	if !ok {
		return
	}
	artifact, err := h.engine.GetBackup(ref)
	if err != nil {
		respondEngineError(w, r, err)
		return
	}
	respondSuccess(w, r, http.StatusOK, artifact)
}

// DeleteBackup removes one artifact.
// DELETE /api/v1/backups/{category}/{name}
func (h *Handler) DeleteBackup(w http.ResponseWriter, r *http.Request) {
	ref, ok := artifactRef(w, r)
	if !ok {
		return
	}
	if err := h.engine.DeleteBackup(r.Context(), ref); err != nil {
		respondEngineError(w, r, err)
		return
	}
	respondSuccess(w, r, http.StatusOK, map[string]string{"deleted": ref})
}

// VerifyBackup re-verifies one artifact.
// POST /api/v1/backups/{category}/{name}/verify
func (h *Handler) VerifyBackup(w http.ResponseWriter, r *http.Request) {
	ref, ok := artifactRef(w, r)
	if !ok {
		return
	}
	result, err := h.engine.VerifyBackup(r.Context(), ref)
	if err != nil {
		respondEngineError(w, r, err)
		return
	}
	respondSuccess(w, r, http.StatusOK, result)
}

// VerifyAll re-verifies every artifact. Invalid artifacts are reported, not
// removed.
// POST /api/v1/backups/verify-all
func (h *Handler) VerifyAll(w http.ResponseWriter, r *http.Request) {
	results, err := h.engine.VerifyAll(r.Context())
	if err != nil {
		respondEngineError(w, r, err)
		return
	}
	invalid := 0
	for _, res := range results {
		if !res.Valid {
			invalid++
		}
	}
	respondSuccess(w, r, http.StatusOK, VerifyAllResponse{Results: results, Checked: len(results), Invalid: invalid})
}

// CleanupCorrupted deletes every artifact that fails verification.
// POST /api/v1/backups/cleanup
func (h *Handler) CleanupCorrupted(w http.ResponseWriter, r *http.Request) {
	removed, err := h.engine.CleanupCorrupted(r.Context())
	if err != nil {
		respondEngineError(w, r, err)
		return
	}
	respondSuccess(w, r, http.StatusOK, map[string]int{"removed": removed})
}

// RestoreBackup restores an artifact over the live datastore.
// POST /api/v1/backups/{category}/{name}/restore
func (h *Handler) RestoreBackup(w http.ResponseWriter, r *http.Request) {
	ref, ok := artifactRef(w, r)
	if !ok {
		return
	}
	var opts backup.RestoreOptions
	if err := decodeBody(w, r, &opts); err != nil {
		respondError(w, r, http.StatusBadRequest, CodeInvalidBody, "Invalid request body", nil)
		return
	}

	// A client disconnect must not abandon a restore halfway through the swap.
	ctx := logging.ContextWithOperation(context.WithoutCancel(r.Context()), "restore")
	logging.Ctx(ctx).Warn().
		Str("artifact", ref).
		Bool("skip_pre_restore", opts.SkipPreRestore).
		Bool("restore_assets", opts.RestoreAssets).
		Msg("Restore requested through API")

	result, err := h.engine.RestoreBackup(ctx, ref, opts)
	if err != nil {
		respondEngineError(w, r, err)
		return
	}
	respondSuccess(w, r, http.StatusOK, result)
}

// GetRestoreHalt reports the restore halt latch.
// GET /api/v1/restore/halt
func (h *Handler) GetRestoreHalt(w http.ResponseWriter, r *http.Request) {
	rec, err := h.engine.RestoreHalt()
	if err != nil {
		respondEngineError(w, r, err)
		return
	}
	respondSuccess(w, r, http.StatusOK, RestoreHaltResponse{Halted: rec != nil, Record: rec})
}

// ClearRestoreHalt re-enables restores after an operator has inspected the
// datastore.
// DELETE /api/v1/restore/halt
func (h *Handler) ClearRestoreHalt(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.ClearRestoreHalt(r.Context()); err != nil {
		respondEngineError(w, r, err)
		return
	}
	respondSuccess(w, r, http.StatusOK, RestoreHaltResponse{Halted: false})
}

// ListSchedules reports every schedule.
// GET /api/v1/schedules
func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, r, http.StatusOK, h.engine.GetScheduleStatus())
}

// SetSchedule adds or replaces the named schedule.
// PUT /api/v1/schedules/{name}
func (h *Handler) SetSchedule(w http.ResponseWriter, r *http.Request) {
	var req SetScheduleRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, CodeInvalidBody, "Invalid request body", nil)
		return
	}
	sc := backup.ScheduleConfig{
		Name:          chi.URLParam(r, "name"),
		Category:      backup.Category(req.Category),
		Enabled:       req.Enabled,
		TimeOfDay:     req.TimeOfDay,
		IntervalHours: req.IntervalHours,
	}
	if verr := validation.ValidateStruct(&sc); verr != nil {
		respondValidationError(w, r, verr)
		return
	}
	if err := h.engine.SetSchedule(sc); err != nil {
		respondEngineError(w, r, err)
		return
	}
	for _, st := range h.engine.GetScheduleStatus() {
		if st.Name == sc.Name {
			respondSuccess(w, r, http.StatusOK, st)
			return
		}
	}
	respondSuccess(w, r, http.StatusOK, sc)
}

// GetRetentionPolicies returns every category policy.
// GET /api/v1/retention
func (h *Handler) GetRetentionPolicies(w http.ResponseWriter, r *http.Request) {
	policies := h.engine.RetentionPolicies()
	out := make([]RetentionPolicyResponse, 0, len(policies))
	for cat, p := range policies {
		out = append(out, RetentionPolicyResponse{Category: cat, RetentionPolicy: p})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	respondSuccess(w, r, http.StatusOK, out)
}

// SetRetentionPolicy replaces one category's policy.
// PUT /api/v1/retention/{category}
func (h *Handler) SetRetentionPolicy(w http.ResponseWriter, r *http.Request) {
	cat, ok := categoryParam(w, r)
	if !ok {
		return
	}
	var policy backup.RetentionPolicy
	if err := decodeBody(w, r, &policy); err != nil {
		respondError(w, r, http.StatusBadRequest, CodeInvalidBody, "Invalid request body", nil)
		return
	}
	if verr := validation.ValidateStruct(&policy); verr != nil {
		respondValidationError(w, r, verr)
		return
	}
	if err := h.engine.SetRetentionPolicy(cat, policy); err != nil {
		respondEngineError(w, r, err)
		return
	}
	respondSuccess(w, r, http.StatusOK, RetentionPolicyResponse{Category: cat, RetentionPolicy: policy})
}

// PreviewRetention lists what retention would remove in one category.
// GET /api/v1/retention/{category}/preview
func (h *Handler) PreviewRetention(w http.ResponseWriter, r *http.Request) {
	cat, ok := categoryParam(w, r)
	if !ok {
		return
	}
	preview, err := h.engine.PreviewRetention(cat)
	if err != nil {
		respondEngineError(w, r, err)
		return
	}
	respondSuccess(w, r, http.StatusOK, preview)
}

// ApplyRetention enforces every category policy now.
// POST /api/v1/retention/apply
func (h *Handler) ApplyRetention(w http.ResponseWriter, r *http.Request) {
	removed, err := h.engine.ApplyRetention(r.Context())
	if err != nil {
		respondEngineError(w, r, err)
		return
	}
	respondSuccess(w, r, http.StatusOK, map[string]interface{}{"removed": removed})
}

// DatastoreHealth runs a health check now. An unhealthy datastore is a
// successful check and still returns 200.
// GET /api/v1/health/datastore
func (h *Handler) DatastoreHealth(w http.ResponseWriter, r *http.Request) {
	ctx := logging.ContextWithOperation(r.Context(), "health_check")
	respondSuccess(w, r, http.StatusOK, h.engine.GetHealthStatus(ctx))
}

// Liveness reports that the process serves HTTP.
// GET /healthz
func (h *Handler) Liveness(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// categoryParam validates the {category} path parameter.
func categoryParam(w http.ResponseWriter, r *http.Request) (backup.Category, bool) {
	p := CategoryParam{Category: chi.URLParam(r, "category")}
	if verr := validation.ValidateStruct(&p); verr != nil {
		respondValidationError(w, r, verr)
		return "", false
	}
	return backup.Category(p.Category), true
}
