// RecordVault - Clinical Record Backup and Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recordvault

package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// EngineVersion is recorded in every metadata record. Set at build time.
var EngineVersion = "dev"

const (
	artifactExt = ".db"
	metadataExt = ".json"
	assetsExt   = ".assets"
	tempExt     = ".tmp"

	// artifactTimeLayout is the second-resolution timestamp in artifact names
	artifactTimeLayout = "20060102-150405"
)

// MetadataRecord is the durable companion of an artifact, stored beside it
// as <base>.json so it can be read even when the artifact cannot.
type MetadataRecord struct {
	Filename      string        `json:"filename"`
	Category      Category      `json:"category"`
	CreatedAt     time.Time     `json:"created_at"`
	SizeBytes     int64         `json:"size_bytes"`
	ContentHash   string        `json:"content_hash"`
	SourcePath    string        `json:"source_path"`
	Description   string        `json:"description,omitempty"`
	Assets        []AssetRecord `json:"assets,omitempty"`
	Reconstructed bool          `json:"reconstructed,omitempty"`
	EngineVersion string        `json:"engine_version"`
}

func (r *MetadataRecord) toArtifact(dir string) *Artifact {
	return &Artifact{
		ID:          r.Filename,
		Category:    r.Category,
		CreatedAt:   r.CreatedAt,
		SizeBytes:   r.SizeBytes,
		ContentHash: r.ContentHash,
		SourcePath:  r.SourcePath,
		Description: r.Description,
		Assets:      r.Assets,
		Path:        filepath.Join(dir, r.Filename),
	}
}

// metadataPathFor returns the metadata file path paired with an artifact path.
func metadataPathFor(artifactPath string) string {
	return strings.TrimSuffix(artifactPath, artifactExt) + metadataExt
}

// assetsDirFor returns the companion-file directory paired with an artifact path.
func assetsDirFor(artifactPath string) string {
	return strings.TrimSuffix(artifactPath, artifactExt) + assetsExt
}

func writeMetadata(artifactPath string, rec *MetadataRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	return writeFileAtomic(metadataPathFor(artifactPath), data, 0o640)
}

func readMetadata(path string) (*MetadataRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec MetadataRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse metadata %s: %w", filepath.Base(path), err)
	}
	return &rec, nil
}

// artifactName builds "<category>-<YYYYMMDD-HHMMSS>-<seq>.db".
func artifactName(cat Category, t time.Time, seq uint64) string {
	return fmt.Sprintf("%s-%s-%04d%s", cat, t.UTC().Format(artifactTimeLayout), seq%10000, artifactExt)
}

// parseArtifactName extracts category and capture time from an artifact file name.
func parseArtifactName(name string) (Category, time.Time, bool) {
	if !strings.HasSuffix(name, artifactExt) {
		return "", time.Time{}, false
	}
	base := strings.TrimSuffix(name, artifactExt)

	// <category>-<date>-<time>-<seq>; category itself never contains '-'
	parts := strings.Split(base, "-")
	if len(parts) != 4 {
		return "", time.Time{}, false
	}
	cat := Category(parts[0])
	if !cat.Valid() {
		return "", time.Time{}, false
	}
	if _, err := strconv.Atoi(parts[3]); err != nil {
		return "", time.Time{}, false
	}
	t, err := time.ParseInLocation(artifactTimeLayout, parts[1]+"-"+parts[2], time.UTC)
	if err != nil {
		return "", time.Time{}, false
	}
	return cat, t, true
}
