// RecordVault - Clinical Record Backup and Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recordvault

package backup

import "time"

// nextFire computes when a schedule should next run, as seen at now.
//
// Time-of-day schedules fire today at HH:MM if that instant is still ahead,
// otherwise tomorrow at HH:MM (in now's location, so DST shifts follow the
// wall clock). Interval schedules fire at lastRun+interval; a schedule that
// has never run, or whose slot has already passed, is due now. When both are
// set the time of day wins.
func nextFire(cfg ScheduleConfig, lastRun, now time.Time) time.Time {
	if cfg.TimeOfDay != "" {
		hour, minute, err := ParseTimeOfDay(cfg.TimeOfDay)
		if err == nil {
			y, m, d := now.Date()
			candidate := time.Date(y, m, d, hour, minute, 0, 0, now.Location())
			if candidate.After(now) {
				return candidate
			}
			return time.Date(y, m, d+1, hour, minute, 0, 0, now.Location())
		}
	}

	if cfg.IntervalHours <= 0 || lastRun.IsZero() {
		return now
	}
	next := lastRun.Add(time.Duration(cfg.IntervalHours) * time.Hour)
	if next.Before(now) {
		return now
	}
	return next
}
