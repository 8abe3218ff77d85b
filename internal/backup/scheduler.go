package backup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// ResultHandler receives the outcome of scheduled and triggered runs.
type ResultHandler func(trigger Trigger, summary *Summary, err error)

// Scheduler runs backups on a fixed interval and on request. All runs go
// through the same Runner, so ticks and manual triggers never overlap.
type Scheduler struct {
	runner  *Runner
	target  string
	handler ResultHandler
	cron    *cron.Cron
	logger  zerolog.Logger

	mu       sync.Mutex
	config   Config
	entryID  cron.EntryID
	hasEntry bool
	running  bool
	stopped  bool
}

// NewScheduler creates a stopped scheduler. handler may be nil.
func NewScheduler(runner *Runner, config Config, target string, handler ResultHandler, logger zerolog.Logger) *Scheduler {
	if handler == nil {
		handler = func(Trigger, *Summary, error) {}
	}
	return &Scheduler{
		runner:  runner,
		target:  target,
		handler: handler,
		config:  config,
		cron:    cron.New(cron.WithSeconds()),
		logger:  logger.With().Str("component", "scheduler").Logger(),
	}
}

// Start registers the interval timer, if one is configured, and starts the
// scheduler loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("scheduler already running")
	}
	if err := s.register(); err != nil {
		return err
	}
	s.running = true
	s.stopped = false
	s.cron.Start()

	s.logger.Info().
		Dur("interval", s.config.Interval).
		Bool("timer", s.hasEntry).
		Msg("backup scheduler started")
	return nil
}

// Stop cancels the timer without waiting for a run in flight. A run that
// finishes after Stop is not delivered to the handler until Start is
// called again.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	s.stopped = true
	s.unregister()
	s.cron.Stop()
	s.logger.Info().Msg("backup scheduler stopped")
}

// Update replaces the configuration and re-registers the timer for the new
// interval.
func (s *Scheduler) Update(config Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.config = config
	if !s.running {
		return nil
	}
	s.unregister()
	return s.register()
}

// Running reports whether the scheduler has been started and not stopped.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// State returns the state of the underlying runner.
func (s *Scheduler) State() RunState {
	return s.runner.State()
}

// Interval returns the configured interval. Zero means manual runs only.
func (s *Scheduler) Interval() time.Duration {
	return s.currentConfig().Interval
}

// Target returns the directory being backed up.
func (s *Scheduler) Target() string {
	return s.target
}

// RunOnce runs a backup now and returns its result to the caller instead of
// the handler.
func (s *Scheduler) RunOnce(ctx context.Context) (*Summary, error) {
	return s.runner.Run(ctx, s.currentConfig(), s.target, TriggerManual)
}

// Trigger starts a backup in the background and delivers the result to the
// handler.
func (s *Scheduler) Trigger() {
	go s.runAndDeliver(TriggerManual)
}

// TryTrigger is like Trigger but returns ErrBusy instead of starting a
// goroutine when a run is already in flight. A run that starts between the
// check and the goroutine still reaches the handler as ErrBusy.
func (s *Scheduler) TryTrigger() error {
	if s.runner.State() == StateRunning {
		return ErrBusy
	}
	s.Trigger()
	return nil
}

func (s *Scheduler) tick() {
	s.runAndDeliver(TriggerScheduled)
}

func (s *Scheduler) runAndDeliver(trigger Trigger) {
	// Runs are detached from any caller context so teardown never kills restic.
	summary, err := s.runner.Run(context.Background(), s.currentConfig(), s.target, trigger)

	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		s.logger.Debug().Str("trigger", string(trigger)).Msg("scheduler stopped, dropping run result")
		return
	}
	s.handler(trigger, summary, err)
}

func (s *Scheduler) currentConfig() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// register adds the interval entry. Caller must hold s.mu.
func (s *Scheduler) register() error {
	if s.config.Interval <= 0 {
		return nil
	}
	spec := fmt.Sprintf("@every %s", s.config.Interval)
	id, err := s.cron.AddFunc(spec, s.tick)
	if err != nil {
		return fmt.Errorf("add interval entry: %w", err)
	}
	s.entryID = id
	s.hasEntry = true
	return nil
}

// unregister removes the interval entry. Caller must hold s.mu.
func (s *Scheduler) unregister() {
	if !s.hasEntry {
		return
	}
	s.cron.Remove(s.entryID)
	s.hasEntry = false
}
