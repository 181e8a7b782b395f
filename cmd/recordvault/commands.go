// RecordVault - Clinical Record Backup and Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recordvault

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"runtime"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/tomtom215/recordvault/internal/backup"
	"github.com/tomtom215/recordvault/internal/config"
	"github.com/tomtom215/recordvault/internal/logging"
	"github.com/tomtom215/recordvault/internal/metrics"
	"github.com/tomtom215/recordvault/internal/state"
)

// app holds everything a command needs. The caller must defer Close.
type app struct {
	cfg        *config.Config
	configPath string
	store      *state.BadgerStore
	engine     *backup.Engine
}

// newApp loads configuration, initializes logging, opens the state store and
// builds the engine.
func newApp(cmd *cobra.Command) (*app, error) {
	flagPath, _ := cmd.Flags().GetString("config")
	configPath := config.ResolveConfigPath(flagPath)

	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logging.Init(cfg.ToLoggingConfig())
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		logging.SetLevelString(level)
	}
	metrics.SetAppInfo(version, runtime.Version())

	store, err := state.Open(cfg.ToStateConfig())
	if err != nil {
		return nil, fmt.Errorf("opening state store: %w", err)
	}

	engine, err := backup.NewEngine(cfg.ToEngineConfig(), store)
	if err != nil {
		if closeErr := store.Close(); closeErr != nil {
			logging.Error().Err(closeErr).Msg("Error closing state store")
		}
		return nil, fmt.Errorf("initializing engine: %w", err)
	}

	logging.Debug().
		Str("config", configPath).
		Str("datastore", cfg.Datastore.Path).
		Str("backup_dir", cfg.Backup.RootDir).
		Msg("Configuration loaded")

	return &app{cfg: cfg, configPath: configPath, store: store, engine: engine}, nil
}

// Close waits for in-flight engine work, then closes the state store.
func (a *app) Close() {
	if err := a.engine.Close(); err != nil {
		logging.Error().Err(err).Msg("Error closing engine")
	}
	if err := a.store.Close(); err != nil {
		logging.Error().Err(err).Msg("Error closing state store")
	}
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// withApp runs fn against a freshly built app and prints its result.
func withApp(fn func(ctx context.Context, a *app, cmd *cobra.Command, args []string) (interface{}, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := logging.ContextWithOperation(logging.ContextWithNewRequestID(cmd.Context()), cmd.Name())
		out, err := fn(ctx, a, cmd, args)
		if err != nil {
			return err
		}
		if out == nil {
			return nil
		}
		return printJSON(cmd.OutOrStdout(), out)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "recordvault",
		Short:         "Backup and recovery for the clinical record datastore",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "Path to config file (default: search CONFIG_PATH, ./config.yaml, /etc/recordvault)")
	root.PersistentFlags().String("log-level", "", "Override the configured log level")

	root.AddCommand(
		newServeCmd(),
		newBackupCmd(),
		newListCmd(),
		newVerifyCmd(),
		newRestoreCmd(),
		newDeleteCmd(),
		newHealthCmd(),
		newStatusCmd(),
		newRetentionCmd(),
		newCleanupCmd(),
		newReconstructCmd(),
	)
	return root
}

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Take a manual snapshot of the live datastore",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) (interface{}, error) {
			desc, _ := cmd.Flags().GetString("description")
			return a.engine.CreateManualBackup(ctx, desc)
		}),
	}
	cmd.Flags().StringP("description", "d", "", "Free-text note stored with the snapshot")
	return cmd
}

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: withApp(func(_ context.Context, a *app, cmd *cobra.Command, _ []string) (interface{}, error) {
			category, _ := cmd.Flags().GetString("category")
			limit, _ := cmd.Flags().GetInt("limit")
			opts := backup.ListOptions{Limit: limit}
			if category != "" {
				cat, err := backup.ParseCategory(category)
				if err != nil {
					return nil, err
				}
				opts.Category = cat
			}
			artifacts, err := a.engine.ListBackupsFiltered(opts)
			if err != nil {
				return nil, err
			}
			if artifacts == nil {
				artifacts = []*backup.Artifact{}
			}
			return artifacts, nil
		}),
	}
	cmd.Flags().StringP("category", "c", "", "Only list this category")
	cmd.Flags().IntP("limit", "n", 0, "Maximum number of snapshots to show (0 = all)")
	return cmd
}

func newVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify [category/name]",
		Short: "Re-verify one snapshot, or every snapshot with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) (interface{}, error) {
			all, _ := cmd.Flags().GetBool("all")
			switch {
			case all && len(args) == 0:
				results, err := a.engine.VerifyAll(ctx)
				if err != nil {
					return nil, err
				}
				for _, r := range results {
					if !r.Valid {
						logging.Warn().Str("artifact", r.Ref).Str("reason", r.Reason).Msg("Snapshot failed verification")
					}
				}
				return results, nil
			case !all && len(args) == 1:
				return a.engine.VerifyBackup(ctx, args[0])
			default:
				return nil, errors.New("pass exactly one of a snapshot reference or --all")
			}
		}),
	}
	cmd.Flags().Bool("all", false, "Verify every snapshot")
	return cmd
}

func newRestoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore <category/name | /absolute/path.db>",
		Short: "Replace the live datastore with a verified snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) (interface{}, error) {
			skipPre, _ := cmd.Flags().GetBool("skip-pre-restore")
			assets, _ := cmd.Flags().GetBool("assets")
			opts := backup.RestoreOptions{SkipPreRestore: skipPre, RestoreAssets: assets}

			// A restore is never interrupted halfway by a signal
			ctx = context.WithoutCancel(ctx)
			if filepath.IsAbs(args[0]) {
				return a.engine.RestoreFromPath(ctx, args[0], opts)
			}
			return a.engine.RestoreBackup(ctx, args[0], opts)
		}),
	}
	cmd.Flags().Bool("skip-pre-restore", false, "Do not snapshot the current datastore first")
	cmd.Flags().Bool("assets", false, "Also restore captured companion files")

	cmd.AddCommand(&cobra.Command{
		Use:   "clear-halt",
		Short: "Re-enable restores after a failed restore has been inspected",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, _ *cobra.Command, _ []string) (interface{}, error) {
			rec, err := a.engine.RestoreHalt()
			if err != nil {
				return nil, err
			}
			if rec == nil {
				return map[string]bool{"halted": false}, nil
			}
			if err := a.engine.ClearRestoreHalt(ctx); err != nil {
				return nil, err
			}
			return map[string]interface{}{"halted": false, "cleared": rec}, nil
		}),
	})
	return cmd
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <category/name>",
		Short: "Delete one snapshot and its metadata",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, _ *cobra.Command, args []string) (interface{}, error) {
			if err := a.engine.DeleteBackup(ctx, args[0]); err != nil {
				return nil, err
			}
			return map[string]string{"deleted": args[0]}, nil
		}),
	}
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the live datastore now",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, _ *cobra.Command, _ []string) (interface{}, error) {
			return a.engine.GetHealthStatus(ctx), nil
		}),
	}
}

// statusReport is printed by the status command.
type statusReport struct {
	Schedules   []backup.ScheduleStatus                    `json:"schedules"`
	Retention   map[backup.Category]backup.RetentionPolicy `json:"retention"`
	RestoreHalt *backup.HaltRecord                         `json:"restore_halt"`
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show schedules, retention policies and the restore halt latch",
		Args:  cobra.NoArgs,
		RunE: withApp(func(_ context.Context, a *app, _ *cobra.Command, _ []string) (interface{}, error) {
			halt, err := a.engine.RestoreHalt()
			if err != nil {
				return nil, err
			}
			return statusReport{
				Schedules:   a.engine.GetScheduleStatus(),
				Retention:   a.engine.RetentionPolicies(),
				RestoreHalt: halt,
			}, nil
		}),
	}
}

func newRetentionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retention",
		Short: "Inspect or enforce retention policies",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "preview <category>",
			Short: "Show which snapshots retention would remove",
			Args:  cobra.ExactArgs(1),
			RunE: withApp(func(_ context.Context, a *app, _ *cobra.Command, args []string) (interface{}, error) {
				cat, err := backup.ParseCategory(args[0])
				if err != nil {
					return nil, err
				}
				return a.engine.PreviewRetention(cat)
			}),
		},
		&cobra.Command{
			Use:   "apply",
			Short: "Enforce every category policy now",
			Args:  cobra.NoArgs,
			RunE: withApp(func(ctx context.Context, a *app, _ *cobra.Command, _ []string) (interface{}, error) {
				removed, err := a.engine.ApplyRetention(ctx)
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{"removed": removed}, nil
			}),
		},
	)
	return cmd
}

func newCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete every snapshot that fails verification",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, _ *cobra.Command, _ []string) (interface{}, error) {
			removed, err := a.engine.CleanupCorrupted(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]int{"removed": removed}, nil
		}),
	}
}

func newReconstructCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconstruct-metadata",
		Short: "Rebuild missing metadata records from the snapshot files",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, _ *cobra.Command, _ []string) (interface{}, error) {
			n, err := a.engine.ReconstructMetadata(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]int{"reconstructed": n}, nil
		}),
	}
}
