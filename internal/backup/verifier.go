// RecordVault - Clinical Record Backup and Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recordvault

package backup

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/tomtom215/recordvault/internal/logging"
	"github.com/tomtom215/recordvault/internal/metrics"
)

// Verifier checks that a candidate snapshot is structurally sound and
// computes its content hash. It never modifies the file it inspects.
type Verifier struct {
	requiredTables  []string
	dependentTables []string
}

// NewVerifier creates a verifier for the given essential table sets.
func NewVerifier(required, dependent []string) *Verifier {
	return &Verifier{
		requiredTables:  append([]string(nil), required...),
		dependentTables: append([]string(nil), dependent...),
	}
}

// Verify validates the artifact at path. When expectedHash is non-empty the
// freshly computed hash must match it, which catches byte-level corruption
// the structural check cannot see.
func (v *Verifier) Verify(ctx context.Context, path, expectedHash string) VerificationResult {
	result := v.verify(ctx, path, expectedHash)
	metrics.RecordVerification(result.Valid, result.Reason)
	if !result.Valid {
		logging.Ctx(ctx).Warn().
			Str("path", path).
			Str("reason", result.Reason).
			Str("kind", string(KindIntegrity)).
			Msg("Artifact failed verification")
	}
	return result
}

func (v *Verifier) verify(ctx context.Context, path, expectedHash string) VerificationResult {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return VerificationResult{Reason: ReasonMissing}
		}
		return VerificationResult{Reason: ReasonUnreadable}
	}
	if info.IsDir() {
		return VerificationResult{Reason: ReasonUnreadable}
	}
	if info.Size() == 0 {
		return VerificationResult{Reason: ReasonEmpty}
	}

	tables, err := v.readTables(ctx, path)
	if err != nil {
		logging.Ctx(ctx).Debug().Err(err).Str("path", path).Msg("Artifact could not be opened")
		return VerificationResult{Reason: ReasonUnreadable, SizeBytes: info.Size()}
	}
	if missing := checkStructure(tables, v.requiredTables, v.dependentTables); len(missing) > 0 {
		return VerificationResult{
			Reason:    ReasonMissingStructure + ": " + strings.Join(missing, ", "),
			SizeBytes: info.Size(),
			Tables:    tables,
		}
	}

	hash, size, err := HashFile(path)
	if err != nil {
		return VerificationResult{Reason: ReasonUnreadable, SizeBytes: info.Size(), Tables: tables}
	}

	result := VerificationResult{
		Valid:       true,
		ContentHash: hash,
		SizeBytes:   size,
		Tables:      tables,
	}
	if expectedHash != "" && !strings.EqualFold(expectedHash, hash) {
		result.Valid = false
		result.Reason = ReasonHashMismatch
	}
	return result
}

func (v *Verifier) readTables(ctx context.Context, path string) ([]string, error) {
	db, err := openReadOnly(ctx, path, true)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return listTables(ctx, db)
}
