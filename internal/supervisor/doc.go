// RecordVault - Clinical Record Backup and Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recordvault

/*
Package supervisor provides process supervision for RecordVault using suture v4.

Every long-running loop is restarted with backoff if it crashes, so one bad
scheduled run or a panicking handler cannot take down backup protection.

# Architecture

	RootSupervisor ("recordvault")
	    |
	    +-- EngineSupervisor ("engine-layer")
	    |       +-- SchedulerService      (backup.Scheduler)
	    |       +-- HealthMonitorService  (backup.HealthMonitor)
	    |       +-- state.BadgerStore     (value log GC)
	    |
	    +-- APISupervisor ("api-layer")
	            +-- HTTPServerService     (chi router)

# Usage

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
	    return err
	}
	tree.AddEngineService(services.NewSchedulerService(engine.Scheduler()))
	tree.AddEngineService(services.NewHealthMonitorService(engine.HealthMonitor()))
	tree.AddEngineService(stateStore)
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	return tree.Serve(ctx)

# Failure Handling

Each failure increments a counter that decays over FailureDecay seconds.
Above FailureThreshold the supervisor waits FailureBackoff before the next
restart. Supervisor events are logged through sutureslog on the zerolog
sink.

# Shutdown

ShutdownTimeout bounds how long each service may take to stop. The scheduler
waits for an in-flight snapshot, so the default is generous. Services that
overrun are listed by UnstoppedServiceReport.
*/
package supervisor
