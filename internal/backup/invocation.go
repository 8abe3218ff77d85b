package backup

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Environment variables restic reads its repository and credentials from.
const (
	EnvRepository      = "RESTIC_REPOSITORY"
	EnvPasswordFile    = "RESTIC_PASSWORD_FILE"
	EnvPasswordCommand = "RESTIC_PASSWORD_COMMAND"
)

// DefaultBinary is used when no binary path is configured.
const DefaultBinary = "restic"

// Config describes how to back up one directory. It is treated as immutable
// for the duration of a run.
type Config struct {
	Repository      string
	BinaryPath      string
	PasswordFile    string
	PasswordCommand string
	Tags            []string
	// Interval between scheduled runs. Zero disables the timer.
	Interval time.Duration
}

// Invocation is a fully resolved restic command line.
type Invocation struct {
	Binary string
	Target string
	Args   []string
	// Env is merged on top of the ambient process environment.
	Env map[string]string
}

// BuildInvocation turns a config and a target directory into the restic
// invocation for one backup run. It does not touch the filesystem beyond
// resolving a relative target against the working directory.
func BuildInvocation(cfg Config, target string) (*Invocation, error) {
	if strings.TrimSpace(cfg.Repository) == "" {
		return nil, &ConfigError{Err: ErrRepositoryNotConfigured}
	}
	if strings.TrimSpace(target) == "" {
		return nil, &ConfigError{Err: ErrTargetNotConfigured}
	}

	absTarget, err := filepath.Abs(target)
	if err != nil {
		return nil, fmt.Errorf("resolve target path: %w", err)
	}

	binary := cfg.BinaryPath
	if binary == "" {
		binary = DefaultBinary
	}

	env := map[string]string{
		EnvRepository: cfg.Repository,
	}
	if cfg.PasswordFile != "" {
		env[EnvPasswordFile] = cfg.PasswordFile
	}
	// Both credential sources may be set; restic decides which wins.
	if cfg.PasswordCommand != "" {
		env[EnvPasswordCommand] = cfg.PasswordCommand
	}

	args := []string{"backup", absTarget, "--json", "--skip-if-unchanged"}
	for _, tag := range cfg.Tags {
		args = append(args, "--tag", tag)
	}

	return &Invocation{
		Binary: binary,
		Target: absTarget,
		Args:   args,
		Env:    env,
	}, nil
}

// Environ returns base with the overlay variables appended in key order.
// Later entries win when a key appears twice, matching os/exec semantics.
func (inv *Invocation) Environ(base []string) []string {
	keys := make([]string, 0, len(inv.Env))
	for k := range inv.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(base)+len(keys))
	env = append(env, base...)
	for _, k := range keys {
		env = append(env, k+"="+inv.Env[k])
	}
	return env
}

// ParseTags splits a comma separated tag list, trimming whitespace and
// dropping empty entries.
func ParseTags(s string) []string {
	var tags []string
	for _, part := range strings.Split(s, ",") {
		tag := strings.TrimSpace(part)
		if tag == "" {
			continue
		}
		tags = append(tags, tag)
	}
	return tags
}
