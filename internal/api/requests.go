// RecordVault - Clinical Record Backup and Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recordvault

package api

import (
	"github.com/tomtom215/recordvault/internal/backup"
)

// CreateBackupRequest is the body of POST /api/v1/backups.
type CreateBackupRequest struct {
	Description string `json:"description" validate:"max=500"`
}

// ArtifactRefParams are the {category}/{name} path parameters.
type ArtifactRefParams struct {
	Category string `validate:"required,oneof=scheduled daily manual emergency pre_restore"`
	Name     string `validate:"required,max=255,artifactname"`
}

// CategoryParam is the {category} path parameter.
type CategoryParam struct {
	Category string `validate:"required,oneof=scheduled daily manual emergency pre_restore"`
}

// SetScheduleRequest is the body of PUT /api/v1/schedules/{name}.
type SetScheduleRequest struct {
	Category      string `json:"category"`
	Enabled       bool   `json:"enabled"`
	TimeOfDay     string `json:"time_of_day,omitempty"`
	IntervalHours int    `json:"interval_hours,omitempty"`
}

// ListBackupsResponse wraps a backup listing.
type ListBackupsResponse struct {
	Backups []*backup.Artifact `json:"backups"`
	Count   int                `json:"count"`
}

// VerifyAllResponse summarizes a full verification pass.
type VerifyAllResponse struct {
	Results []backup.VerificationResult `json:"results"`
	Checked int                         `json:"checked"`
	Invalid int                         `json:"invalid"`
}

// RestoreHaltResponse reports the restore halt latch.
type RestoreHaltResponse struct {
	Halted bool               `json:"halted"`
	Record *backup.HaltRecord `json:"record,omitempty"`
}

// RetentionPolicyResponse is one category's retention policy.
type RetentionPolicyResponse struct {
	Category backup.Category `json:"category"`
	backup.RetentionPolicy
}
