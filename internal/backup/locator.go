package backup

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// Locator finds the restic binary using the login shell's PATH.
type Locator struct {
	env    EnvSource
	which  string
	binary string
	logger zerolog.Logger
}

// NewLocator creates a Locator that looks up restic with `which`.
func NewLocator(env EnvSource, logger zerolog.Logger) *Locator {
	return &Locator{
		env:    env,
		which:  "which",
		binary: DefaultBinary,
		logger: logger.With().Str("component", "locator").Logger(),
	}
}

// Locate returns the absolute path to restic. It is best effort: any failure
// is logged and reported as not found.
func (l *Locator) Locate(ctx context.Context) (string, bool) {
	env, err := l.env.Resolve(ctx)
	if err != nil {
		l.logger.Debug().Err(err).Msg("cannot resolve shell environment for lookup")
		return "", false
	}

	cmd := exec.CommandContext(ctx, l.which, l.binary)
	cmd.Env = environList(env)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		l.logger.Debug().Err(err).Str("binary", l.binary).Msg("binary lookup failed")
		return "", false
	}

	path := strings.TrimSpace(stdout.String())
	if path == "" {
		return "", false
	}
	// Some `which` implementations print several matches.
	if i := strings.IndexByte(path, '\n'); i >= 0 {
		path = strings.TrimSpace(path[:i])
	}

	l.logger.Debug().Str("path", path).Msg("binary located")
	return path, true
}
