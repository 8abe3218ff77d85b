// Package logging builds the zerolog logger used by the resticsnap commands.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/MacJediWizard/resticsnap/internal/config"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Defaults for the rotating log file.
const (
	defaultMaxSizeMB  = 10
	defaultMaxBackups = 5
	defaultMaxAgeDays = 30
)

// New creates a logger writing to stderr and, when cfg.File is set, to a
// rotating log file. The returned closer is nil when no file is used.
func New(cfg config.LogConfig, console bool) (zerolog.Logger, io.Closer) {
	return newLogger(os.Stderr, cfg, console)
}

func newLogger(stderr io.Writer, cfg config.LogConfig, console bool) (zerolog.Logger, io.Closer) {
	var out io.Writer = stderr
	if console {
		out = zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.RFC3339}
	}

	var closer io.Closer
	if file := strings.TrimSpace(cfg.File); file != "" {
		fileLogger := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    orDefault(cfg.MaxSizeMB, defaultMaxSizeMB),
			MaxBackups: orDefault(cfg.MaxBackups, defaultMaxBackups),
			MaxAge:     orDefault(cfg.MaxAgeDays, defaultMaxAgeDays),
			Compress:   true,
		}
		// The file always gets JSON lines, regardless of console formatting.
		out = zerolog.MultiLevelWriter(out, fileLogger)
		closer = fileLogger
	}

	logger := zerolog.New(out).
		Level(ParseLevel(cfg.Level)).
		With().Timestamp().Logger()
	return logger, closer
}

// ParseLevel maps a config level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
