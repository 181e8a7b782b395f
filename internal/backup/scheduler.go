// RecordVault - Clinical Record Backup and Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recordvault

/*
scheduler.go - Background Backup Scheduler

Each configured schedule moves through:

	IDLE -> WAITING(next fire time) -> RUNNING -> IDLE

A single ticker drives every schedule. On each tick a schedule in WAITING
whose fire time has passed starts a run in its own goroutine; a schedule
that is still RUNNING when it comes due again is skipped, never re-entered.
After a run the schedule stays IDLE for the cool-down before it computes
its next fire time.

Runs execute with a context detached from the scheduler's, so shutdown
lets an in-flight copy finish instead of aborting it. Run waits for those
before returning.
*/

//nolint:staticcheck // File documentation, not package doc
package backup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/recordvault/internal/logging"
	"github.com/tomtom215/recordvault/internal/metrics"
)

// scheduleRunner holds the live state of one schedule.
type scheduleRunner struct {
	cfg           ScheduleConfig
	state         ScheduleState
	nextRun       time.Time
	lastRun       time.Time
	cooldownUntil time.Time
	lastErr       string
	running       bool
}

// Scheduler triggers categorized snapshots on configured schedules.
type Scheduler struct {
	store      *Store
	state      StateStore
	clock      Clock
	sourcePath string

	mu           sync.Mutex
	runners      map[string]*scheduleRunner
	order        []string
	pollInterval time.Duration
	cooldown     time.Duration

	inflight sync.WaitGroup
}

// NewScheduler creates a scheduler. Last-run times are loaded from state so
// interval schedules survive a restart without firing early.
func NewScheduler(store *Store, state StateStore, clock Clock, cfg *Config) *Scheduler {
	if clock == nil {
		clock = RealClock{}
	}
	s := &Scheduler{
		store:        store,
		state:        state,
		clock:        clock,
		sourcePath:   cfg.DatastorePath,
		runners:      make(map[string]*scheduleRunner),
		pollInterval: cfg.PollInterval,
		cooldown:     cfg.RunCooldown,
	}
	for _, sc := range cfg.Schedules {
		s.addRunnerLocked(sc)
	}
	return s
}

func (s *Scheduler) addRunnerLocked(sc ScheduleConfig) {
	r := &scheduleRunner{cfg: sc, state: StateIdle}
	if !sc.Enabled {
		r.state = StateDisabled
	}
	if last, ok, err := s.state.LastRun(sc.Name); err != nil {
		logging.Warn().Err(err).Str("schedule", sc.Name).Msg("Failed to load last run time")
	} else if ok {
		r.lastRun = last
	}
	s.runners[sc.Name] = r
	s.order = append(s.order, sc.Name)
}

// PollInterval returns the current wake-up interval.
func (s *Scheduler) PollInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pollInterval
}

// SetTiming changes the poll interval and cool-down. Takes effect on the next tick.
func (s *Scheduler) SetTiming(poll, cooldown time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if poll > 0 {
		s.pollInterval = poll
	}
	if cooldown >= 0 {
		s.cooldown = cooldown
	}
}

// Run drives the schedules until ctx is canceled, then waits for in-flight
// runs to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	poll := s.PollInterval()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	logging.Info().Dur("poll_interval", poll).Int("schedules", len(s.Status())).Msg("Backup scheduler started")

	s.tick(ctx, s.clock.Now())
	for {
		select {
		case <-ctx.Done():
			s.Wait()
			logging.Info().Msg("Backup scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			if p := s.PollInterval(); p != poll {
				poll = p
				ticker.Reset(poll)
			}
			s.tick(ctx, s.clock.Now())
		}
	}
}

// Wait blocks until every in-flight scheduled run has finished.
func (s *Scheduler) Wait() {
	s.inflight.Wait()
}

// tick advances every schedule's state machine as of now.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, name := range s.order {
		r := s.runners[name]
		if !r.cfg.Enabled {
			r.state = StateDisabled
			r.nextRun = time.Time{}
			continue
		}
		if r.running {
			if !r.nextRun.IsZero() && !now.Before(r.nextRun) {
				metrics.RecordSchedulerSkip(name, "overlap")
				logging.Warn().Str("schedule", name).Msg("Previous run still in progress, trigger skipped")
				r.nextRun = nextFire(r.cfg, now, now)
			}
			continue
		}
		if now.Before(r.cooldownUntil) {
			r.state = StateIdle
			continue
		}
		if r.state != StateWaiting || r.nextRun.IsZero() {
			r.nextRun = nextFire(r.cfg, r.lastRun, now)
			r.state = StateWaiting
			metrics.SetScheduleNextRun(name, r.nextRun)
		}
		if now.Before(r.nextRun) {
			continue
		}

		r.state = StateRunning
		r.running = true
		r.nextRun = nextFire(r.cfg, now, now)
		s.inflight.Add(1)
		go s.run(ctx, r.cfg, now)
	}
}

// run performs one scheduled snapshot. Failures are recorded and never
// escape; the loop keeps going.
func (s *Scheduler) run(parent context.Context, cfg ScheduleConfig, firedAt time.Time) {
	defer s.inflight.Done()

	ctx := logging.ContextWithOperation(logging.ContextWithNewRequestID(context.WithoutCancel(parent)), "scheduled_backup")
	log := logging.Ctx(ctx)

	var err error
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("scheduled run panicked: %v", rec)
			}
		}()
		_, err = s.store.CreateSnapshot(ctx, cfg.Category, s.sourcePath, "scheduled run: "+cfg.Name)
	}()
	metrics.RecordSchedulerRun(cfg.Name, err)

	finished := s.clock.Now()
	if perr := s.state.SetLastRun(cfg.Name, firedAt); perr != nil {
		log.Warn().Err(perr).Str("schedule", cfg.Name).Msg("Failed to persist last run time")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runners[cfg.Name]
	if !ok {
		return // schedule removed while running
	}
	r.running = false
	r.lastRun = firedAt
	r.cooldownUntil = finished.Add(s.cooldown)
	r.nextRun = time.Time{}
	r.state = StateIdle
	if !r.cfg.Enabled {
		r.state = StateDisabled
	}
	if err != nil {
		r.lastErr = ReasonOf(err)
		log.Warn().Err(err).
			Str("schedule", cfg.Name).
			Str("kind", string(KindOf(err))).
			Msg("Scheduled backup failed; will retry on next trigger")
		return
	}
	r.lastErr = ""
	log.Info().Str("schedule", cfg.Name).Msg("Scheduled backup completed")
}

// SetEnabled enables or disables a schedule at runtime. A disabled schedule
// keeps its state so it can be re-enabled without restart.
func (s *Scheduler) SetEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runners[name]
	if !ok {
		return newError(KindNotFound, "set_schedule_enabled", "unknown schedule "+name, ErrScheduleNotFound)
	}
	r.cfg.Enabled = enabled
	switch {
	case r.running:
		// state settles when the run finishes
	case enabled:
		r.state = StateIdle
		r.nextRun = time.Time{}
	default:
		r.state = StateDisabled
		r.nextRun = time.Time{}
	}
	logging.Info().Str("schedule", name).Bool("enabled", enabled).Msg("Schedule toggled")
	return nil
}

// SetSchedule adds or replaces a schedule definition.
func (s *Scheduler) SetSchedule(sc ScheduleConfig) error {
	if err := ValidateSchedule(sc); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setScheduleLocked(sc)
	logging.Info().
		Str("schedule", sc.Name).
		Str("time_of_day", sc.TimeOfDay).
		Int("interval_hours", sc.IntervalHours).
		Bool("enabled", sc.Enabled).
		Msg("Schedule updated")
	return nil
}

func (s *Scheduler) setScheduleLocked(sc ScheduleConfig) {
	r, ok := s.runners[sc.Name]
	if !ok {
		s.addRunnerLocked(sc)
		return
	}
	r.cfg = sc
	if r.running {
		return
	}
	r.nextRun = time.Time{}
	r.state = StateIdle
	if !sc.Enabled {
		r.state = StateDisabled
	}
}

// ReplaceSchedules swaps the full schedule set, keeping run history for
// schedules whose names survive. Used on configuration reload.
func (s *Scheduler) ReplaceSchedules(schedules []ScheduleConfig) error {
	seen := make(map[string]bool, len(schedules))
	for _, sc := range schedules {
		if err := ValidateSchedule(sc); err != nil {
			return err
		}
		if seen[sc.Name] {
			return newError(KindConfig, "replace_schedules", "duplicate schedule name "+sc.Name, ErrInvalidConfig)
		}
		seen[sc.Name] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	order := s.order[:0:0]
	for _, name := range s.order {
		if seen[name] {
			order = append(order, name)
		} else {
			delete(s.runners, name)
		}
	}
	s.order = order
	for _, sc := range schedules {
		s.setScheduleLocked(sc)
	}
	return nil
}

// Status reports every schedule in configuration order.
func (s *Scheduler) Status() []ScheduleStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ScheduleStatus, 0, len(s.order))
	for _, name := range s.order {
		r := s.runners[name]
		st := ScheduleStatus{
			Name:      name,
			Category:  r.cfg.Category,
			Enabled:   r.cfg.Enabled,
			State:     r.state,
			LastError: r.lastErr,
		}
		if next := s.projectedNextLocked(r); !next.IsZero() {
			st.NextRunAt = &next
		}
		if !r.lastRun.IsZero() {
			last := r.lastRun
			st.LastRunAt = &last
		}
		out = append(out, st)
	}
	return out
}

// projectedNextLocked is the fire time a schedule is waiting for, or the one
// it will compute once its cool-down ends.
func (s *Scheduler) projectedNextLocked(r *scheduleRunner) time.Time {
	if !r.cfg.Enabled {
		return time.Time{}
	}
	if r.state == StateWaiting || r.running {
		return r.nextRun
	}
	from := s.clock.Now()
	if from.Before(r.cooldownUntil) {
		from = r.cooldownUntil
	}
	return nextFire(r.cfg, r.lastRun, from)
}
