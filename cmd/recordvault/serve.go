// RecordVault - Clinical Record Backup and Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recordvault

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/recordvault/internal/api"
	"github.com/tomtom215/recordvault/internal/backup"
	"github.com/tomtom215/recordvault/internal/config"
	"github.com/tomtom215/recordvault/internal/logging"
	"github.com/tomtom215/recordvault/internal/supervisor"
	"github.com/tomtom215/recordvault/internal/supervisor/services"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, health monitor and HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, a)
		},
	}
}

// newChiMiddlewareConfig maps server settings onto the API middleware.
func newChiMiddlewareConfig(s config.ServerConfig) *api.ChiMiddlewareConfig {
	mw := api.DefaultChiMiddlewareConfig()
	mw.CORSAllowedOrigins = append([]string(nil), s.CORSOrigins...)
	mw.RateLimitRequests = s.RateLimitRequests
	mw.RateLimitWindow = s.RateLimitWindow
	mw.RestoreRateLimit = s.RestoreRateLimit
	mw.RestoreRateWindow = s.RestoreRateWindow
	mw.RateLimitDisabled = s.RateLimitDisabled
	return mw
}

// newHTTPServer builds the API server for engine.
func newHTTPServer(cfg *config.Config, engine *backup.Engine) *http.Server {
	router := api.NewRouter(api.NewHandler(engine), api.NewChiMiddleware(newChiMiddlewareConfig(cfg.Server)))
	return &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router.SetupChi(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		// Restores and full verification passes outlast an ordinary request
		WriteTimeout: cfg.Server.Timeout + cfg.Backup.CopyTimeout,
		IdleTimeout:  60 * time.Second,
	}
}

// serve runs every long-lived component under the supervisor tree until ctx
// is canceled.
func serve(ctx context.Context, a *app) error {
	logging.Info().
		Str("version", version).
		Str("datastore", a.cfg.Datastore.Path).
		Str("backup_dir", a.cfg.Backup.RootDir).
		Msg("Starting RecordVault with supervisor tree")

	if a.cfg.Server.RateLimitDisabled {
		logging.Warn().Msg("Rate limiting is DISABLED (DISABLE_RATE_LIMIT=true)")
	}

	treeCfg := supervisor.DefaultTreeConfig()
	if a.cfg.Backup.CopyTimeout > treeCfg.ShutdownTimeout {
		treeCfg.ShutdownTimeout = a.cfg.Backup.CopyTimeout
	}
	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), treeCfg)
	if err != nil {
		return fmt.Errorf("creating supervisor tree: %w", err)
	}

	// === ENGINE LAYER ===
	tree.AddEngineService(services.NewSchedulerService(a.engine.Scheduler()))
	tree.AddEngineService(services.NewHealthMonitorService(a.engine.HealthMonitor()))
	tree.AddEngineService(a.store)

	// === API LAYER ===
	server := newHTTPServer(a.cfg, a.engine)
	tree.AddAPIService(services.NewHTTPServerService(server, a.cfg.Server.ShutdownTimeout))

	if a.configPath != "" {
		if err := config.WatchConfigFile(a.configPath, func() { reloadConfig(a) }); err != nil {
			logging.Warn().Err(err).Str("path", a.configPath).Msg("Config hot-reload unavailable")
		} else {
			logging.Info().Str("path", a.configPath).Msg("Watching config file for changes")
		}
	}

	logging.Info().Str("addr", server.Addr).Msg("Supervisor tree starting")
	err = tree.Serve(ctx)

	if report, reportErr := tree.UnstoppedServiceReport(); reportErr == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop within the shutdown timeout")
		}
	}

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("supervisor tree: %w", err)
	}
	logging.Info().Msg("RecordVault stopped")
	return nil
}

// reloadConfig applies an edited config file. Schedules, retention, health
// and logging take effect live; paths and listen settings need a restart.
func reloadConfig(a *app) {
	cfg, err := config.LoadFile(a.configPath)
	if err != nil {
		logging.Warn().Err(err).Msg("Config reload failed, keeping current configuration")
		return
	}
	if err := a.engine.ApplyConfig(cfg.ToEngineConfig()); err != nil {
		logging.Warn().Err(err).Msg("Reloaded config rejected by engine")
		return
	}
	logging.SetLevelString(cfg.Logging.Level)

	if cfg.Server.Addr() != a.cfg.Server.Addr() || cfg.State.Path != a.cfg.State.Path {
		logging.Warn().Msg("Listen address and state path changes take effect after restart")
	}
}
