// RecordVault - Clinical Record Backup and Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recordvault

package backup

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/recordvault/internal/logging"
	"github.com/tomtom215/recordvault/internal/metrics"
)

// RetentionManager bounds the number and age of artifacts per category and
// reclaims space across categories when the disk runs low.
type RetentionManager struct {
	store *Store
	clock Clock

	mu            sync.RWMutex
	policies      map[Category]RetentionPolicy
	lowWaterBytes int64
}

// NewRetentionManager creates a retention manager for store and attaches it,
// so every successful snapshot is followed by a retention pass.
func NewRetentionManager(store *Store, policies map[Category]RetentionPolicy, lowWaterBytes int64, clock Clock) *RetentionManager {
	if clock == nil {
		clock = RealClock{}
	}
	copied := make(map[Category]RetentionPolicy, len(policies))
	for cat, p := range policies {
		copied[cat] = p
	}
	r := &RetentionManager{
		store:         store,
		clock:         clock,
		policies:      copied,
		lowWaterBytes: lowWaterBytes,
	}
	store.retention = r
	return r
}

// Policy returns the policy for a category.
func (r *RetentionManager) Policy(cat Category) (RetentionPolicy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[cat]
	return p, ok
}

// Policies returns a copy of every category policy.
func (r *RetentionManager) Policies() map[Category]RetentionPolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[Category]RetentionPolicy, len(r.policies))
	for cat, p := range r.policies {
		out[cat] = p
	}
	return out
}

// SetPolicy replaces the policy for a category. Invalid policies are rejected.
func (r *RetentionManager) SetPolicy(cat Category, p RetentionPolicy) error {
	if err := ValidateRetentionPolicy(cat, p); err != nil {
		return err
	}
	r.mu.Lock()
	r.policies[cat] = p
	r.mu.Unlock()

	logging.Info().
		Str("category", string(cat)).
		Int("max_artifacts", p.MaxArtifacts).
		Int("max_age_days", p.MaxAgeDays).
		Msg("Retention policy updated")
	return nil
}

// SetLowWater changes the free-space threshold for the cross-category pass.
func (r *RetentionManager) SetLowWater(bytes int64) {
	r.mu.Lock()
	r.lowWaterBytes = bytes
	r.mu.Unlock()
}

// plan splits artifacts (oldest first) into the prefix to remove and the rest.
// The count rule removes the len-MaxArtifacts oldest. The age rule removes
// artifacts older than MaxAgeDays but never the newest one. Both rules remove
// a prefix, so a newer artifact never goes while an older one survives.
func plan(artifacts []*Artifact, policy RetentionPolicy, now time.Time) (remove, keep []*Artifact) {
	n := 0
	if policy.MaxArtifacts > 0 && len(artifacts) > policy.MaxArtifacts {
		n = len(artifacts) - policy.MaxArtifacts
	}
	if policy.MaxAgeDays > 0 && len(artifacts) > 1 {
		cutoff := now.Add(-time.Duration(policy.MaxAgeDays) * 24 * time.Hour)
		aged := 0
		for aged < len(artifacts)-1 && artifacts[aged].CreatedAt.Before(cutoff) {
			aged++
		}
		if aged > n {
			n = aged
		}
	}
	return artifacts[:n], artifacts[n:]
}

// Enforce applies the category's policy and returns how many artifacts were
// removed. A second call with no new artifacts removes nothing.
func (r *RetentionManager) Enforce(ctx context.Context, cat Category) (int, error) {
	if !cat.Valid() {
		return 0, newError(KindConfig, "enforce_retention", "unknown category "+string(cat), ErrInvalidCategory)
	}
	lock := r.store.locks[cat]
	lock.Lock()
	defer lock.Unlock()
	return r.enforceLocked(ctx, cat)
}

// enforceLocked runs Enforce with the category lock already held.
func (r *RetentionManager) enforceLocked(ctx context.Context, cat Category) (int, error) {
	policy, ok := r.Policy(cat)
	if !ok || !policy.Bounded() {
		return 0, nil
	}

	artifacts, err := r.store.listCategory(cat)
	if err != nil {
		return 0, newError(KindRecoverable, "enforce_retention", "read category "+string(cat), err)
	}

	remove, _ := plan(artifacts, policy, r.clock.Now())
	removed := 0
	for _, a := range remove {
		if err := r.store.deleteArtifact(a); err != nil {
			// Stop here: deleting a newer artifact while this one survives
			// would break oldest-first ordering.
			logging.Ctx(ctx).Error().Err(err).Str("artifact", a.Ref()).Msg("Retention delete failed")
			break
		}
		removed++
	}

	if removed > 0 {
		metrics.RecordRetentionRemoval(string(cat), "policy", removed)
		metrics.SetArtifactCount(string(cat), len(artifacts)-removed)
		logging.Ctx(ctx).Info().
			Str("category", string(cat)).
			Int("removed", removed).
			Int("remaining", len(artifacts)-removed).
			Msg("Retention pass removed old backups")
	}
	return removed, nil
}

// EnforceAll applies every category policy.
func (r *RetentionManager) EnforceAll(ctx context.Context) (map[Category]int, error) {
	out := make(map[Category]int, len(AllCategories))
	for _, cat := range AllCategories {
		n, err := r.Enforce(ctx, cat)
		if err != nil {
			return out, err
		}
		out[cat] = n
	}
	return out, nil
}

// Preview reports what Enforce would do for a category without deleting.
func (r *RetentionManager) Preview(cat Category) (*RetentionPreview, error) {
	if !cat.Valid() {
		return nil, newError(KindConfig, "preview_retention", "unknown category "+string(cat), ErrInvalidCategory)
	}
	policy, _ := r.Policy(cat)
	artifacts, err := r.store.listCategory(cat)
	if err != nil {
		return nil, newError(KindRecoverable, "preview_retention", "read category "+string(cat), err)
	}

	preview := &RetentionPreview{Category: cat, Policy: policy, Keep: []string{}, Remove: []string{}}
	remove, keep := artifacts[:0], artifacts
	if policy.Bounded() {
		remove, keep = plan(artifacts, policy, r.clock.Now())
	}
	for _, a := range remove {
		preview.Remove = append(preview.Remove, a.Ref())
	}
	for _, a := range keep {
		preview.Keep = append(preview.Keep, a.Ref())
	}
	return preview, nil
}

// EnforceDiskLowWater deletes the globally oldest artifacts while free space
// is below the low-water mark. The newest artifact of every category is
// always kept.
func (r *RetentionManager) EnforceDiskLowWater(ctx context.Context) (int, error) {
	return r.enforceDiskLowWater(ctx, "")
}

// enforceDiskLowWater runs the low-water pass; held names a category whose
// lock the caller already owns.
func (r *RetentionManager) enforceDiskLowWater(ctx context.Context, held Category) (int, error) {
	r.mu.RLock()
	lowWater := r.lowWaterBytes
	r.mu.RUnlock()
	if lowWater <= 0 {
		return 0, nil
	}

	free, err := r.store.diskFree(r.store.rootDir)
	if err != nil || free < 0 || free >= lowWater {
		return 0, nil
	}

	// Categories busy with their own snapshot are skipped rather than waited
	// on; two low-water passes from different categories would otherwise
	// deadlock.
	var candidates []*Artifact
	for _, cat := range AllCategories {
		if cat != held {
			lock := r.store.locks[cat]
			if !lock.TryLock() {
				continue
			}
			defer lock.Unlock()
		}
		artifacts, err := r.store.listCategory(cat)
		if err != nil {
			return 0, newError(KindRecoverable, "enforce_low_water", "read category "+string(cat), err)
		}
		if len(artifacts) > 1 {
			candidates = append(candidates, artifacts[:len(artifacts)-1]...)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	removed := 0
	for _, a := range candidates {
		if free >= lowWater {
			break
		}
		if err := r.store.deleteArtifact(a); err != nil {
			logging.Ctx(ctx).Error().Err(err).Str("artifact", a.Ref()).Msg("Low-water delete failed")
			continue
		}
		removed++
		metrics.RecordRetentionRemoval(string(a.Category), "low_water", 1)
		if free, err = r.store.diskFree(r.store.rootDir); err != nil {
			break
		}
	}

	if removed > 0 {
		metrics.SetDiskFreeBytes(free)
		logging.Ctx(ctx).Warn().
			Int("removed", removed).
			Int64("free_bytes", free).
			Int64("low_water_bytes", lowWater).
			Msg("Low disk space, removed oldest backups")
	}
	return removed, nil
}
