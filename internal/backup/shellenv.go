package backup

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// EnvSource provides environment variables for subprocesses.
type EnvSource interface {
	Resolve(ctx context.Context) (map[string]string, error)
}

// EnvResolver reads the environment of the user's login shell, including PATH
// entries that only the shell profile adds.
type EnvResolver struct {
	getenv func(string) string
	logger zerolog.Logger
}

// NewEnvResolver creates a resolver that reads SHELL from the process environment.
func NewEnvResolver(logger zerolog.Logger) *EnvResolver {
	return &EnvResolver{
		getenv: os.Getenv,
		logger: logger.With().Str("component", "shell_env").Logger(),
	}
}

// Resolve runs `$SHELL -l -c env` and parses its output. Every call spawns
// a new shell; results are not cached.
func (r *EnvResolver) Resolve(ctx context.Context) (map[string]string, error) {
	shell := strings.TrimSpace(r.getenv("SHELL"))
	if shell == "" {
		return nil, &ConfigError{Err: ErrShellNotSet}
	}

	r.logger.Debug().Str("shell", shell).Msg("resolving login shell environment")

	cmd := exec.CommandContext(ctx, shell, "-l", "-c", "env")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("resolve login shell environment: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	env := ParseEnv(stdout.Bytes())
	r.logger.Debug().Int("vars", len(env)).Msg("login shell environment resolved")
	return env, nil
}

// ParseEnv parses `env` output. Each line is split on its first '='; lines
// without one are ignored.
func ParseEnv(output []byte) map[string]string {
	env := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok || key == "" {
			continue
		}
		env[key] = value
	}
	return env
}

// environList converts an environment map into KEY=VALUE form.
func environList(env map[string]string) []string {
	list := make([]string, 0, len(env))
	for k, v := range env {
		list = append(list, k+"="+v)
	}
	return list
}
