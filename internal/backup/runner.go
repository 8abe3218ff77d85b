// Package backup runs restic backups of a single directory, on demand or on
// a fixed interval, and interprets restic's JSON output.
package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RunState is the lifecycle state of a Runner.
type RunState string

const (
	StateIdle    RunState = "idle"
	StateRunning RunState = "running"
)

// Trigger identifies what started a run.
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerScheduled Trigger = "scheduled"
)

// RunStatus is the outcome of a run that reached the restic process.
type RunStatus string

const (
	RunStatusCompleted RunStatus = "completed"
	RunStatusSkipped   RunStatus = "skipped"
	RunStatusFailed    RunStatus = "failed"
)

// stdoutTailLines bounds the stdout excerpt attached to failures.
const stdoutTailLines = 20

// RunRecord describes one finished attempt.
type RunRecord struct {
	ID          uuid.UUID
	Trigger     Trigger
	Target      string
	StartedAt   time.Time
	CompletedAt time.Time
	Status      RunStatus
	Summary     *Summary
	Error       string
}

// Recorder persists run records.
type Recorder interface {
	RecordRun(ctx context.Context, rec *RunRecord) error
}

// Observer is notified about run lifecycle events, e.g. for metrics.
type Observer interface {
	RunStarted()
	RunFinished(rec *RunRecord)
	RunRejected()
}

// Runner executes restic backups one at a time.
type Runner struct {
	recorder Recorder
	observer Observer
	environ  func() []string
	logger   zerolog.Logger

	mu    sync.Mutex
	state RunState
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRecorder stores every finished attempt.
func WithRecorder(rec Recorder) RunnerOption {
	return func(r *Runner) { r.recorder = rec }
}

// WithObserver reports lifecycle events to obs.
func WithObserver(obs Observer) RunnerOption {
	return func(r *Runner) { r.observer = obs }
}

// NewRunner creates an idle Runner.
func NewRunner(logger zerolog.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		environ: os.Environ,
		logger:  logger.With().Str("component", "runner").Logger(),
		state:   StateIdle,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// State returns the current run state.
func (r *Runner) State() RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Run performs one backup of target. It returns ErrBusy without starting a
// process when another run is in flight.
func (r *Runner) Run(ctx context.Context, cfg Config, target string, trigger Trigger) (*Summary, error) {
	inv, err := BuildInvocation(cfg, target)
	if err != nil {
		return nil, err
	}

	if !r.acquire() {
		r.logger.Warn().Str("trigger", string(trigger)).Msg("backup already running, trigger rejected")
		if r.observer != nil {
			r.observer.RunRejected()
		}
		return nil, ErrBusy
	}
	defer r.release()

	rec := &RunRecord{
		ID:        uuid.New(),
		Trigger:   trigger,
		Target:    inv.Target,
		StartedAt: time.Now(),
	}
	logger := r.logger.With().
		Str("run_id", rec.ID.String()).
		Str("trigger", string(trigger)).
		Logger()

	logger.Info().
		Str("target", rec.Target).
		Str("binary", inv.Binary).
		Strs("args", inv.Args).
		Msg("starting backup")

	if r.observer != nil {
		r.observer.RunStarted()
	}

	summary, err := r.execute(ctx, inv)
	rec.CompletedAt = time.Now()

	switch {
	case err != nil:
		rec.Status = RunStatusFailed
		rec.Error = err.Error()
		logger.Error().Err(err).Dur("elapsed", rec.CompletedAt.Sub(rec.StartedAt)).Msg("backup failed")
	case summary.Skipped():
		rec.Status = RunStatusSkipped
		rec.Summary = summary
		logger.Info().Int("files_processed", summary.TotalFilesProcessed).Msg("no changes, snapshot skipped")
	default:
		rec.Status = RunStatusCompleted
		rec.Summary = summary
		logger.Info().
			Str("snapshot_id", summary.SnapshotID).
			Int("files_new", summary.FilesNew).
			Int("files_changed", summary.FilesChanged).
			Int64("data_added", summary.DataAdded).
			Float64("total_duration", summary.TotalDuration).
			Msg("backup completed")
	}

	r.finish(ctx, rec, logger)
	return summary, err
}

func (r *Runner) execute(ctx context.Context, inv *Invocation) (*Summary, error) {
	cmd := exec.CommandContext(ctx, inv.Binary, inv.Args...)
	cmd.Env = inv.Environ(r.environ())

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		output := strings.TrimSpace(stderr.String())
		if output == "" {
			output = tail(stdout.String(), stdoutTailLines)
		}
		return nil, &BackupFailedError{ExitCode: exitCode, Output: output, Err: err}
	}

	summary, err := ParseSummary(stdout.Bytes())
	if err != nil {
		return nil, fmt.Errorf("parse backup output: %w", err)
	}
	return summary, nil
}

// finish hands the record to the recorder and observer. Recording problems
// are logged and do not change the run result.
func (r *Runner) finish(ctx context.Context, rec *RunRecord, logger zerolog.Logger) {
	if r.observer != nil {
		r.observer.RunFinished(rec)
	}
	if r.recorder == nil {
		return
	}
	if err := r.recorder.RecordRun(context.WithoutCancel(ctx), rec); err != nil {
		logger.Warn().Err(err).Msg("failed to record backup run")
	}
}

func (r *Runner) acquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateRunning {
		return false
	}
	r.state = StateRunning
	return true
}

func (r *Runner) release() {
	r.mu.Lock()
	r.state = StateIdle
	r.mu.Unlock()
}

// tail returns the last n lines of s.
func tail(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
