package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MacJediWizard/resticsnap/internal/backup"
	"github.com/MacJediWizard/resticsnap/internal/config"
	"github.com/MacJediWizard/resticsnap/internal/history"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// locateTimeout bounds the login shell and `which` lookups.
const locateTimeout = 15 * time.Second

func newLocateCmd(opts *globalOptions) *cobra.Command {
	var save bool

	cmd := &cobra.Command{
		Use:   "locate",
		Short: "Find the restic binary using your login shell's PATH",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := opts.loadConfig()
			if err != nil {
				return err
			}
			logger, closeLog := opts.newLogger(cfg)
			defer closeLog()

			ctx, cancel := context.WithTimeout(cmd.Context(), locateTimeout)
			defer cancel()

			binary, ok := backup.NewLocator(backup.NewEnvResolver(logger), logger).Locate(ctx)
			if !ok {
				return errors.New("restic not found in login shell PATH")
			}
			fmt.Fprintln(cmd.OutOrStdout(), binary)

			if save {
				cfg.BinaryPath = binary
				if err := cfg.Save(path); err != nil {
					return fmt.Errorf("save config: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "binary_path set to: %s\n", binary)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&save, "save", false, "Store the path as binary_path in the config file")

	return cmd
}

func newBackupCmd(opts *globalOptions) *cobra.Command {
	var target string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Run a backup now",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("not configured: %w", err)
			}
			if target != "" {
				cfg.Target = target
			}

			logger, closeLog := opts.newLogger(cfg)
			defer closeLog()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runBackup(ctx, cmd, cfg, logger)
		},
	}

	cmd.Flags().StringVar(&target, "target", "", "Directory to back up (overrides the configured target)")

	return cmd
}

func runBackup(ctx context.Context, cmd *cobra.Command, cfg *config.AgentConfig, logger zerolog.Logger) error {
	out := cmd.OutOrStdout()

	target, err := cfg.BackupTarget()
	if err != nil {
		return err
	}

	backupCfg := cfg.ToBackupConfig()
	detectBinary(ctx, &backupCfg, logger)

	var runnerOpts []backup.RunnerOption
	if store := openHistory(cfg, logger); store != nil {
		defer store.Close()
		runnerOpts = append(runnerOpts, backup.WithRecorder(store))
	}
	runner := backup.NewRunner(logger, runnerOpts...)

	fmt.Fprintf(out, "Target: %s\n", target)
	fmt.Fprintf(out, "Repo:   %s\n", cfg.Repository)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Starting restic backup...")

	summary, err := runner.Run(ctx, backupCfg, target, backup.TriggerManual)
	if err != nil {
		var failed *backup.BackupFailedError
		if errors.As(err, &failed) && failed.Output != "" {
			fmt.Fprintf(out, "Backup failed (exit code %d):\n%s\n", failed.ExitCode, failed.Output)
		} else {
			fmt.Fprintf(out, "Backup failed: %v\n", err)
		}
		return err
	}

	fmt.Fprintf(out, "Backup completed: %s\n", summary)
	return nil
}

// detectBinary fills in BinaryPath from the login shell when it is not
// configured. Failure leaves restic to be found on the process PATH.
func detectBinary(ctx context.Context, cfg *backup.Config, logger zerolog.Logger) {
	if cfg.BinaryPath != "" {
		return
	}

	lookupCtx, cancel := context.WithTimeout(ctx, locateTimeout)
	defer cancel()

	if binary, ok := backup.NewLocator(backup.NewEnvResolver(logger), logger).Locate(lookupCtx); ok {
		logger.Debug().Str("binary", binary).Msg("restic found via login shell")
		cfg.BinaryPath = binary
		return
	}
	logger.Warn().Msg("restic not found via login shell; falling back to PATH")
}

// openHistory opens the run history database. History is optional: failures
// are logged and nil is returned.
func openHistory(cfg *config.AgentConfig, logger zerolog.Logger) *history.SQLiteStore {
	path, err := cfg.HistoryPath()
	if err != nil {
		logger.Warn().Err(err).Msg("run history disabled")
		return nil
	}
	store, err := history.NewSQLiteStore(path, logger)
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("run history disabled")
		return nil
	}
	return store
}
