package backup

import (
	"errors"
	"fmt"
)

// ErrRepositoryNotConfigured is returned when no repository location is set.
var ErrRepositoryNotConfigured = errors.New("repository not configured")

// ErrTargetNotConfigured is returned when no directory to back up is given.
var ErrTargetNotConfigured = errors.New("backup target not configured")

// ErrShellNotSet is returned when the SHELL environment variable is empty.
var ErrShellNotSet = errors.New("SHELL environment variable not set")

// ErrBusy is returned when a backup is triggered while another one is running.
var ErrBusy = errors.New("backup already in progress")

// ErrNoSummary is returned when restic exited successfully but its output
// contained no summary message.
var ErrNoSummary = errors.New("no backup summary found in output")

// ConfigError reports a configuration problem that needs user correction.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %v", e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// BackupFailedError is returned when the restic process exits non-zero or
// cannot be started.
type BackupFailedError struct {
	// ExitCode is the process exit code, or -1 if the process never ran.
	ExitCode int
	// Output is stderr, or the tail of stdout when stderr was empty.
	Output string
	Err    error
}

func (e *BackupFailedError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("backup failed (exit code %d): %v", e.ExitCode, e.Err)
	}
	return fmt.Sprintf("backup failed (exit code %d): %s", e.ExitCode, e.Output)
}

func (e *BackupFailedError) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether err is, or wraps, a *ConfigError.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}
