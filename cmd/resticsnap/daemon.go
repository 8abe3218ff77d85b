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

	"github.com/MacJediWizard/resticsnap/internal/api"
	"github.com/MacJediWizard/resticsnap/internal/backup"
	"github.com/MacJediWizard/resticsnap/internal/config"
	"github.com/MacJediWizard/resticsnap/internal/history"
	"github.com/MacJediWizard/resticsnap/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const (
	shutdownTimeout = 5 * time.Second
	drainPoll       = 100 * time.Millisecond
)

func newStartCmd(opts *globalOptions) *cobra.Command {
	var (
		runNow       bool
		drainTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the backup daemon",
		Long: `Start resticsnap as a long-running daemon process.

The daemon will:
  - Run a backup every interval_seconds (if set)
  - Record every run in the local history database
  - Serve the status API and /metrics on listen_addr (if set)
  - Reload the configuration on SIGHUP`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("not configured: %w", err)
			}

			logger, closeLog := opts.newLogger(cfg)
			defer closeLog()

			return runDaemon(cmd.Context(), opts, cfg, path, daemonOptions{
				runNow:       runNow,
				drainTimeout: drainTimeout,
			}, logger)
		},
	}

	cmd.Flags().BoolVar(&runNow, "now", false, "Trigger a backup immediately after starting")
	cmd.Flags().DurationVar(&drainTimeout, "drain-timeout", 30*time.Second, "How long shutdown waits for a running backup to be recorded")

	return cmd
}

type daemonOptions struct {
	runNow       bool
	drainTimeout time.Duration
}

func runDaemon(ctx context.Context, opts *globalOptions, cfg *config.AgentConfig, cfgPath string, dopts daemonOptions, logger zerolog.Logger) error {
	logger.Info().Str("version", Version).Str("config", cfgPath).Msg("resticsnap daemon starting")

	target, err := cfg.BackupTarget()
	if err != nil {
		return err
	}

	backupCfg := cfg.ToBackupConfig()
	detectBinary(ctx, &backupCfg, logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.NewPrometheusMetrics(reg)
	if err != nil {
		return fmt.Errorf("create metrics: %w", err)
	}

	runnerOpts := []backup.RunnerOption{backup.WithObserver(m)}
	store := openHistory(cfg, logger)
	if store != nil {
		defer store.Close()
		runnerOpts = append(runnerOpts, backup.WithRecorder(store))
		pruneHistory(ctx, store, cfg.HistoryRetention(), logger)
	}

	runner := backup.NewRunner(logger, runnerOpts...)
	scheduler := backup.NewScheduler(runner, backupCfg, target, resultLogger(logger), logger)
	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer scheduler.Stop()

	var srv *http.Server
	if cfg.ListenAddr != "" {
		srv, err = startStatusServer(cfg.ListenAddr, scheduler, store, reg, logger)
		if err != nil {
			return err
		}
	}

	if dopts.runNow {
		scheduler.Trigger()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	logger.Info().
		Str("target", target).
		Dur("interval", backupCfg.Interval).
		Str("listen_addr", cfg.ListenAddr).
		Msg("daemon running")

	for {
		select {
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				reloadConfig(opts, scheduler, backupCfg.BinaryPath, logger)
				continue
			}
			logger.Info().Str("signal", sig.String()).Msg("shutting down")
			return shutdown(srv, scheduler, dopts.drainTimeout, logger)
		case <-ctx.Done():
			return shutdown(srv, scheduler, dopts.drainTimeout, logger)
		}
	}
}

// resultLogger reports scheduled and triggered runs in the log.
func resultLogger(logger zerolog.Logger) backup.ResultHandler {
	log := logger.With().Str("component", "daemon").Logger()

	return func(trigger backup.Trigger, summary *backup.Summary, err error) {
		switch {
		case err == nil:
			log.Info().Str("trigger", string(trigger)).Msg(summary.String())
		case errors.Is(err, backup.ErrBusy):
			log.Warn().Str("trigger", string(trigger)).Msg("backup skipped: previous backup still running")
		case backup.IsConfigError(err):
			log.Error().Err(err).Str("trigger", string(trigger)).Msg("backup not started, fix the configuration")
		default:
			log.Error().Err(err).Str("trigger", string(trigger)).Msg("backup failed")
		}
	}
}

// reloadConfig re-reads the config file and applies it to the scheduler. The
// target is fixed for the lifetime of the daemon.
func reloadConfig(opts *globalOptions, scheduler *backup.Scheduler, detected string, logger zerolog.Logger) {
	cfg, _, err := opts.loadConfig()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		logger.Error().Err(err).Msg("config reload failed, keeping current configuration")
		return
	}

	backupCfg := cfg.ToBackupConfig()
	if backupCfg.BinaryPath == "" {
		backupCfg.BinaryPath = detected
	}
	if err := scheduler.Update(backupCfg); err != nil {
		logger.Error().Err(err).Msg("apply reloaded configuration")
		return
	}
	logger.Info().Dur("interval", backupCfg.Interval).Msg("configuration reloaded")
}

func startStatusServer(addr string, scheduler *backup.Scheduler, store *history.SQLiteStore, gatherer prometheus.Gatherer, logger zerolog.Logger) (*http.Server, error) {
	gin.SetMode(gin.ReleaseMode)

	apiCfg := api.DefaultConfig()
	apiCfg.Version = Version

	deps := api.Dependencies{Controller: scheduler, Gatherer: gatherer}
	if store != nil {
		deps.History = store
	}

	router, err := api.NewRouter(apiCfg, deps, logger)
	if err != nil {
		return nil, fmt.Errorf("create router: %w", err)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("status API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("status API stopped")
		}
	}()

	return srv, nil
}

func pruneHistory(ctx context.Context, store *history.SQLiteStore, retention time.Duration, logger zerolog.Logger) {
	if retention <= 0 {
		return
	}
	pruned, err := store.PruneOlderThan(ctx, retention)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to prune run history")
		return
	}
	if pruned > 0 {
		logger.Info().Int("pruned", pruned).Dur("retention", retention).Msg("pruned run history")
	}
}

// shutdown stops the status API and the timer, then waits up to drain for
// a backup in flight so its result reaches the history database.
func shutdown(srv *http.Server, scheduler *backup.Scheduler, drain time.Duration, logger zerolog.Logger) error {
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn().Err(err).Msg("status API shutdown")
		}
		cancel()
	}

	scheduler.Stop()

	if !waitIdle(scheduler, drain) {
		logger.Warn().Dur("drain_timeout", drain).Msg("backup still running at exit; its result will not be recorded")
	}
	return nil
}

// waitIdle polls until no backup is running or timeout elapses.
func waitIdle(scheduler *backup.Scheduler, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for scheduler.State() == backup.StateRunning {
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(drainPoll)
	}
	return true
}
