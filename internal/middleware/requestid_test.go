// RecordVault - Clinical Record Backup and Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recordvault

package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/tomtom215/recordvault/internal/logging"
)

func TestRequestID_GeneratesNewID(t *testing.T) {
	var capturedID string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedID = GetRequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/backups", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	responseID := rec.Header().Get(RequestIDHeader)
	if responseID == "" {
		t.Fatal("Expected X-Request-ID header in response")
	}
	if _, err := uuid.Parse(responseID); err != nil {
		t.Errorf("Response X-Request-ID is not a valid UUID: %v", err)
	}
	if capturedID != responseID {
		t.Errorf("Context ID (%s) doesn't match response header ID (%s)", capturedID, responseID)
	}
}

func TestRequestID_UpstreamHeader(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"well-formed id is kept", "proxy-7f3a9c", true},
		{"uuid is kept", "6f1c2b1e-8a8f-4e55-9b9d-2f6f1d0c9a11", true},
		{"newline is replaced", "abc\ninjected", false},
		{"space is replaced", "abc def", false},
		{"oversized is replaced", strings.Repeat("a", maxRequestIDLen+1), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var captured string
			handler := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				captured = logging.RequestIDFromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(RequestIDHeader, tt.incoming)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if got := captured == tt.incoming; got != tt.keep {
				t.Errorf("kept = %v, want %v (captured %q)", got, tt.keep, captured)
			}
			if captured == "" || rec.Header().Get(RequestIDHeader) != captured {
				t.Errorf("header %q, context %q", rec.Header().Get(RequestIDHeader), captured)
			}
		})
	}
}
