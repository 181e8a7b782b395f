// RecordVault - Clinical Record Backup and Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recordvault

package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/recordvault/internal/backup"
	"github.com/tomtom215/recordvault/internal/logging"
	"github.com/tomtom215/recordvault/internal/validation"
)

// APIResponse is the envelope of every JSON response.
//
// Status is "success" (see Data) or "error" (see Error).
//
//	{
//	  "status": "error",
//	  "error": {"code": "RESTORE_HALTED", "message": "..."},
//	  "metadata": {"timestamp": "2026-03-14T09:00:00Z", "request_id": "..."}
//	}
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata is attached to every response.
type Metadata struct {
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
}

// APIError carries a machine-readable code and a human-readable message.
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error codes
const (
	CodeValidation    = "VALIDATION_ERROR"
	CodeInvalidBody   = "INVALID_BODY"
	CodeNotFound      = "NOT_FOUND"
	CodeIntegrity     = "INTEGRITY_ERROR"
	CodeRestoreHalted = "RESTORE_HALTED"
	CodeCritical      = "CRITICAL_FAILURE"
	CodeUnavailable   = "TEMPORARILY_UNAVAILABLE"
	CodeRateLimited   = "RATE_LIMIT_EXCEEDED"
)

// respondJSON writes response with status. Backup state changes on every
// call, so nothing is cacheable.
func respondJSON(w http.ResponseWriter, r *http.Request, status int, response *APIResponse) {
	response.Metadata.Timestamp = time.Now().UTC()
	if r != nil {
		response.Metadata.RequestID = logging.RequestIDFromContext(r.Context())
	}

	data, err := json.Marshal(response)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

// respondSuccess writes a success envelope around data.
func respondSuccess(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	respondJSON(w, r, status, &APIResponse{Status: "success", Data: data})
}

// respondError writes an error envelope.
func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]interface{}) {
	respondJSON(w, r, status, &APIResponse{
		Status: "error",
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// respondValidationError writes a 400 for a failed struct validation.
func respondValidationError(w http.ResponseWriter, r *http.Request, verr *validation.RequestValidationError) {
	apiErr := verr.ToAPIError()
	respondError(w, r, http.StatusBadRequest, apiErr.Code, apiErr.Message, apiErr.Details)
}

// respondEngineError maps an engine error to its HTTP status by kind and
// logs it at the level the kind calls for.
func respondEngineError(w http.ResponseWriter, r *http.Request, err error) {
	kind := backup.KindOf(err)
	status, code := statusForKind(kind)

	log := logging.Ctx(r.Context())
	event := log.Warn()
	if kind == backup.KindCritical {
		event = log.Error().Str("severity", "critical")
	}
	event.Err(err).
		Str("kind", string(kind)).
		Str("endpoint", sanitizeLogValue(r.URL.Path)).
		Int("status", status).
		Msg("API request failed")

	details := map[string]interface{}{"kind": string(kind)}
	var engineErr *backup.Error
	if errors.As(err, &engineErr) && engineErr.Reason != "" {
		details["reason"] = engineErr.Reason
	}
	respondError(w, r, status, code, publicMessage(err), details)
}

// statusForKind is the error kind to HTTP status table.
func statusForKind(kind backup.ErrorKind) (int, string) {
	switch kind {
	case backup.KindConfig:
		return http.StatusBadRequest, CodeValidation
	case backup.KindNotFound:
		return http.StatusNotFound, CodeNotFound
	case backup.KindIntegrity:
		return http.StatusUnprocessableEntity, CodeIntegrity
	case backup.KindHalted:
		return http.StatusConflict, CodeRestoreHalted
	case backup.KindCritical:
		return http.StatusInternalServerError, CodeCritical
	default:
		return http.StatusServiceUnavailable, CodeUnavailable
	}
}

// publicMessage returns the engine error message. Classified errors already
// carry an operator-facing reason; anything else is reported generically.
func publicMessage(err error) string {
	var engineErr *backup.Error
	if errors.As(err, &engineErr) {
		return engineErr.Error()
	}
	return "backup operation failed"
}

// sanitizeLogValue strips control characters so request data cannot forge
// log lines.
func sanitizeLogValue(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}
