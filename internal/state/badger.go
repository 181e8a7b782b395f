// RecordVault - Clinical Record Backup and Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recordvault

// Package state persists the backup engine's durable state in BadgerDB:
// the last run time of every schedule and the restore halt latch. Both must
// survive a restart. Periodic cadence would otherwise reset, and a restore
// that failed mid-swap would be forgotten.
package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/recordvault/internal/backup"
	"github.com/tomtom215/recordvault/internal/logging"
)

// Key layout
const (
	lastRunKeyPrefix = "schedule_last_run:"
	restoreHaltKey   = "restore_halt"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("state store closed")

// Config configures the state store.
type Config struct {
	// Path is the badger directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps all state in memory (tests).
	InMemory bool

	// SyncWrites fsyncs every write. The halt latch must not be lost on
	// power failure, so production keeps this on.
	SyncWrites bool
}

// BadgerStore implements backup.StateStore on BadgerDB.
type BadgerStore struct {
	db *badger.DB

	mu     sync.RWMutex
	closed bool
}

var _ backup.StateStore = (*BadgerStore)(nil)

// Open opens (or creates) the state store.
func Open(cfg Config) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("state store path is required")
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.SyncWrites = cfg.SyncWrites
	// The store holds a handful of small keys.
	opts.MemTableSize = 8 << 20
	opts.ValueLogFileSize = 16 << 20
	opts.NumCompactors = 2
	opts.Logger = logging.NewBadgerLogger()

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Bool("sync_writes", cfg.SyncWrites).
		Msg("State store opened")
	return &BadgerStore{db: db}, nil
}

// Close flushes and closes the store.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *BadgerStore) view(fn func(txn *badger.Txn) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.db.View(fn)
}

func (s *BadgerStore) update(fn func(txn *badger.Txn) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.db.Update(fn)
}

// LastRun returns the persisted last run of schedule.
func (s *BadgerStore) LastRun(schedule string) (time.Time, bool, error) {
	var at time.Time
	found := false
	err := s.view(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(lastRunKeyPrefix + schedule))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get last run: %w", err)
		}
		return item.Value(func(val []byte) error {
			if err := at.UnmarshalBinary(val); err != nil {
				return fmt.Errorf("decode last run of %s: %w", schedule, err)
			}
			found = true
			return nil
		})
	})
	if err != nil {
		return time.Time{}, false, err
	}
	return at, found, nil
}

// SetLastRun persists the last run of schedule.
func (s *BadgerStore) SetLastRun(schedule string, at time.Time) error {
	data, err := at.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode last run: %w", err)
	}
	return s.update(func(txn *badger.Txn) error {
		return txn.Set([]byte(lastRunKeyPrefix+schedule), data)
	})
}

// LastRuns returns every persisted schedule last-run time.
func (s *BadgerStore) LastRuns() (map[string]time.Time, error) {
	out := make(map[string]time.Time)
	err := s.view(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(lastRunKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			name := strings.TrimPrefix(string(item.Key()), lastRunKeyPrefix)
			err := item.Value(func(val []byte) error {
				var at time.Time
				if err := at.UnmarshalBinary(val); err != nil {
					return fmt.Errorf("decode last run of %s: %w", name, err)
				}
				out[name] = at
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list last runs: %w", err)
	}
	return out, nil
}

// RestoreHalt returns the active halt record, or nil.
func (s *BadgerStore) RestoreHalt() (*backup.HaltRecord, error) {
	var rec *backup.HaltRecord
	err := s.view(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(restoreHaltKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get restore halt: %w", err)
		}
		return item.Value(func(val []byte) error {
			var r backup.HaltRecord
			if err := json.Unmarshal(val, &r); err != nil {
				return fmt.Errorf("decode restore halt: %w", err)
			}
			rec = &r
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// SetRestoreHalt latches restores off.
func (s *BadgerStore) SetRestoreHalt(rec backup.HaltRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal restore halt: %w", err)
	}
	return s.update(func(txn *badger.Txn) error {
		return txn.Set([]byte(restoreHaltKey), data)
	})
}

// ClearRestoreHalt removes the latch. Clearing an unset latch is a no-op.
func (s *BadgerStore) ClearRestoreHalt() error {
	return s.update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(restoreHaltKey)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("delete restore halt: %w", err)
		}
		return nil
	})
}

// RunGC reclaims value log space until badger reports nothing to rewrite.
func (s *BadgerStore) RunGC() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	for {
		err := s.db.RunValueLogGC(0.5)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("run GC: %w", err)
		}
	}
}

// Serve runs value log GC every interval until ctx is done. It satisfies
// suture.Service.
func (s *BadgerStore) Serve(ctx context.Context) error {
	return s.gcLoop(ctx, time.Hour)
}

func (s *BadgerStore) gcLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.RunGC(); err != nil {
				if errors.Is(err, ErrClosed) {
					return err
				}
				logging.Warn().Err(err).Msg("State store GC failed")
			}
		}
	}
}

// String implements fmt.Stringer for suture logging.
func (s *BadgerStore) String() string {
	return "state-gc"
}
