// RecordVault - Clinical Record Backup and Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recordvault

package services

import (
	"context"
	"errors"
	"fmt"
)

// Runner is a component with a blocking loop that stops when ctx is done.
//
// Satisfied by *backup.Scheduler and *backup.HealthMonitor.
type Runner interface {
	Run(ctx context.Context) error
}

// LoopService adapts a Runner to suture.Service.
type LoopService struct {
	runner Runner
	name   string
}

// NewSchedulerService wraps the backup scheduler.
//
//	tree.AddEngineService(services.NewSchedulerService(engine.Scheduler()))
func NewSchedulerService(scheduler Runner) *LoopService {
	return &LoopService{runner: scheduler, name: "backup-scheduler"}
}

// NewHealthMonitorService wraps the datastore health monitor.
func NewHealthMonitorService(monitor Runner) *LoopService {
	return &LoopService{runner: monitor, name: "health-monitor"}
}

// Serve implements suture.Service. A loop that returns while ctx is still
// live is reported as a failure so the supervisor restarts it.
func (s *LoopService) Serve(ctx context.Context) error {
	err := s.runner.Run(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err == nil {
		err = errors.New("loop exited")
	}
	return fmt.Errorf("%s: %w", s.name, err)
}

// String implements fmt.Stringer for suture logging.
func (s *LoopService) String() string {
	return s.name
}
