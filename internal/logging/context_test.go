// RecordVault - Clinical Record Backup and Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recordvault

package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestGenerateRequestID(t *testing.T) {
	t.Parallel()

	a, b := GenerateRequestID(), GenerateRequestID()
	if len(a) != 36 {
		t.Errorf("expected UUID length 36, got %d", len(a))
	}
	if a == b {
		t.Error("request IDs should be unique")
	}
}

func TestRequestIDContext(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	if id := RequestIDFromContext(ctx); id != "" {
		t.Errorf("expected empty request ID, got %q", id)
	}

	ctx = ContextWithRequestID(ctx, "req-123")
	if id := RequestIDFromContext(ctx); id != "req-123" {
		t.Errorf("RequestIDFromContext = %q", id)
	}

	fresh := ContextWithNewRequestID(context.Background())
	if RequestIDFromContext(fresh) == "" {
		t.Error("ContextWithNewRequestID set no ID")
	}
}

func TestOperationContext(t *testing.T) {
	t.Parallel()

	ctx := ContextWithOperation(context.Background(), "restore")
	if op := OperationFromContext(ctx); op != "restore" {
		t.Errorf("OperationFromContext = %q", op)
	}
	if op := OperationFromContext(context.Background()); op != "" {
		t.Errorf("expected empty operation, got %q", op)
	}
}

func TestCtx(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	ctx := ContextWithLogger(context.Background(), NewTestLogger(&buf))
	ctx = ContextWithRequestID(ctx, "req-42")
	ctx = ContextWithOperation(ctx, "scheduled_backup")

	Ctx(ctx).Info().Str("schedule", "daily").Msg("Scheduled backup completed")

	output := buf.String()
	for _, want := range []string{`"request_id":"req-42"`, `"operation":"scheduled_backup"`, `"schedule":"daily"`} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %s: %s", want, output)
		}
	}
}

func TestCtx_NoValues(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	ctx := ContextWithLogger(context.Background(), NewTestLogger(&buf))
	Ctx(ctx).Info().Msg("plain")

	if strings.Contains(buf.String(), "request_id") || strings.Contains(buf.String(), "operation") {
		t.Errorf("unexpected context fields: %s", buf.String())
	}
}
