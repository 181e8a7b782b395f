// RecordVault - Clinical Record Backup and Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recordvault

package backup

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind is the taxonomy bucket an engine failure belongs to.
type ErrorKind string

const (
	// KindRecoverable failures are logged and retried on the next trigger.
	KindRecoverable ErrorKind = "recoverable"

	// KindIntegrity failures reject an artifact; nothing is repaired.
	KindIntegrity ErrorKind = "integrity"

	// KindCritical failures leave the live datastore in doubt.
	KindCritical ErrorKind = "critical"

	// KindConfig failures are rejected at configuration-set time.
	KindConfig ErrorKind = "config"

	KindNotFound ErrorKind = "not_found"
	KindHalted   ErrorKind = "halted"
)

// Sentinel errors. Match with errors.Is.
var (
	ErrSourceMissing    = errors.New("source datastore missing or empty")
	ErrDiskSpaceLow     = errors.New("insufficient free disk space")
	ErrCorruptSnapshot  = errors.New("snapshot failed verification")
	ErrInvalidBackup    = errors.New("backup failed verification")
	ErrRestoreFailed    = errors.New("live datastore replacement failed")
	ErrRestoreHalted    = errors.New("restores halted after critical failure")
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrInvalidCategory  = errors.New("invalid category")
	ErrBackupNotFound   = errors.New("backup not found")
	ErrScheduleNotFound = errors.New("schedule not found")
)

// Error is the only error type that crosses the engine boundary.
type Error struct {
	Kind   ErrorKind
	Op     string
	Reason string
	Err    error
}

func newError(kind ErrorKind, op, reason string, err error) *Error {
	return &Error{Kind: kind, Op: op, Reason: reason, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Reason)
	}
	if e.Reason == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the taxonomy bucket of err, or KindRecoverable for errors
// that were never classified.
func KindOf(err error) ErrorKind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindRecoverable
}

// ReasonOf returns the human readable reason carried by err.
func ReasonOf(err error) string {
	var be *Error
	if errors.As(err, &be) && be.Reason != "" {
		return be.Reason
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// classify translates any error into an *Error for the invocation surface.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return newError(KindRecoverable, op, "operation canceled", err)
	case errors.Is(err, ErrInvalidConfig), errors.Is(err, ErrInvalidCategory):
		return newError(KindConfig, op, err.Error(), err)
	case errors.Is(err, ErrBackupNotFound), errors.Is(err, ErrScheduleNotFound):
		return newError(KindNotFound, op, err.Error(), err)
	default:
		return newError(KindRecoverable, op, err.Error(), err)
	}
}
