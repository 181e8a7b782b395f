// RecordVault - Clinical Record Backup and Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recordvault

package backup

import (
	"sync"
	"time"
)

// HaltRecord describes the critical restore failure that latched restores off.
type HaltRecord struct {
	Reason   string    `json:"reason"`
	Artifact string    `json:"artifact"`
	At       time.Time `json:"at"`
}

// StateStore persists the small amount of engine state that must survive a
// restart: schedule last-run times and the restore halt latch.
type StateStore interface {
	LastRun(schedule string) (time.Time, bool, error)
	SetLastRun(schedule string, at time.Time) error

	// RestoreHalt returns the active halt record, or nil when restores are allowed
	RestoreHalt() (*HaltRecord, error)
	SetRestoreHalt(rec HaltRecord) error
	ClearRestoreHalt() error
}

// MemoryState is a StateStore that lives only as long as the process.
type MemoryState struct {
	mu       sync.Mutex
	lastRuns map[string]time.Time
	halt     *HaltRecord
}

// NewMemoryState creates an empty in-memory state store.
func NewMemoryState() *MemoryState {
	return &MemoryState{lastRuns: make(map[string]time.Time)}
}

func (m *MemoryState) LastRun(schedule string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.lastRuns[schedule]
	return t, ok, nil
}

func (m *MemoryState) SetLastRun(schedule string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastRuns[schedule] = at
	return nil
}

func (m *MemoryState) RestoreHalt() (*HaltRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.halt == nil {
		return nil, nil
	}
	rec := *m.halt
	return &rec, nil
}

func (m *MemoryState) SetRestoreHalt(rec HaltRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.halt = &rec
	return nil
}

func (m *MemoryState) ClearRestoreHalt() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.halt = nil
	return nil
}
