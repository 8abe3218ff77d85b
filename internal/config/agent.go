// Package config provides configuration management for resticsnap.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MacJediWizard/resticsnap/internal/backup"
	"gopkg.in/yaml.v3"
)

// DefaultConfigDir returns the default config directory (~/.resticsnap).
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".resticsnap"), nil
}

// DefaultConfigPath returns the default config file path (~/.resticsnap/config.yml).
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yml"), nil
}

// LogConfig controls log level and the optional rotating log file.
type LogConfig struct {
	Level      string `yaml:"level,omitempty"`
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
	MaxAgeDays int    `yaml:"max_age_days,omitempty"`
}

// AgentConfig holds the backup configuration.
type AgentConfig struct {
	Repository      string `yaml:"repository,omitempty"`
	BinaryPath      string `yaml:"binary_path,omitempty"`
	PasswordFile    string `yaml:"password_file,omitempty"`
	PasswordCommand string `yaml:"password_command,omitempty"`
	// Tags is a comma separated list, e.g. "notes, laptop".
	Tags            string `yaml:"tags,omitempty"`
	IntervalSeconds int    `yaml:"interval_seconds,omitempty"`
	// Target is the directory to back up. Empty means the working directory.
	Target     string `yaml:"target,omitempty"`
	ListenAddr string `yaml:"listen_addr,omitempty"`
	HistoryDB  string `yaml:"history_db,omitempty"`
	// HistoryRetentionDays prunes older runs when the daemon starts. Zero keeps everything.
	HistoryRetentionDays int       `yaml:"history_retention_days,omitempty"`
	Log                  LogConfig `yaml:"log,omitempty"`
}

// SettableKeys lists the keys accepted by Set, in display order.
var SettableKeys = []string{
	"repository", "binary_path", "password_file", "password_command", "tags",
	"interval_seconds", "target", "listen_addr", "history_db", "history_retention_days",
	"log.level", "log.file",
}

// Validate checks that the configuration has required fields for operation.
func (c *AgentConfig) Validate() error {
	if c.Repository == "" {
		return errors.New("repository is required")
	}
	if c.IntervalSeconds < 0 {
		return errors.New("interval_seconds must not be negative")
	}
	if c.HistoryRetentionDays < 0 {
		return errors.New("history_retention_days must not be negative")
	}
	return nil
}

// Set assigns a single field by its YAML key. Integer fields reject
// non-numeric and negative values.
func (c *AgentConfig) Set(key, value string) error {
	value = strings.TrimSpace(value)
	switch key {
	case "repository":
		c.Repository = value
	case "binary_path":
		c.BinaryPath = value
	case "password_file":
		c.PasswordFile = value
	case "password_command":
		c.PasswordCommand = value
	case "tags":
		c.Tags = value
	case "target":
		c.Target = value
	case "listen_addr":
		c.ListenAddr = value
	case "history_db":
		c.HistoryDB = value
	case "log.level":
		c.Log.Level = value
	case "log.file":
		c.Log.File = value
	case "interval_seconds", "history_retention_days":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("%s must be a non-negative integer, got %q", key, value)
		}
		if key == "interval_seconds" {
			c.IntervalSeconds = n
		} else {
			c.HistoryRetentionDays = n
		}
	default:
		return fmt.Errorf("unknown config key %q (valid keys: %s)", key, strings.Join(SettableKeys, ", "))
	}
	return nil
}

// HistoryRetention returns how long runs are kept. Zero means forever.
func (c *AgentConfig) HistoryRetention() time.Duration {
	if c.HistoryRetentionDays <= 0 {
		return 0
	}
	return time.Duration(c.HistoryRetentionDays) * 24 * time.Hour
}

// IsConfigured returns true if a repository has been set.
func (c *AgentConfig) IsConfigured() bool {
	return c.Repository != ""
}

// Interval returns the scheduled backup interval. Zero disables the timer.
func (c *AgentConfig) Interval() time.Duration {
	if c.IntervalSeconds <= 0 {
		return 0
	}
	return time.Duration(c.IntervalSeconds) * time.Second
}

// ToBackupConfig converts the file configuration into a backup.Config.
func (c *AgentConfig) ToBackupConfig() backup.Config {
	return backup.Config{
		Repository:      c.Repository,
		BinaryPath:      c.BinaryPath,
		PasswordFile:    c.PasswordFile,
		PasswordCommand: c.PasswordCommand,
		Tags:            backup.ParseTags(c.Tags),
		Interval:        c.Interval(),
	}
}

// BackupTarget returns the directory to back up, falling back to the
// working directory.
func (c *AgentConfig) BackupTarget() (string, error) {
	if c.Target != "" {
		return c.Target, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	return wd, nil
}

// HistoryPath returns the run history database path.
func (c *AgentConfig) HistoryPath() (string, error) {
	if c.HistoryDB != "" {
		return c.HistoryDB, nil
	}
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.db"), nil
}

// Load reads the configuration from the given path.
// If the file does not exist, an empty config is returned.
func Load(path string) (*AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &AgentConfig{}, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg AgentConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return &cfg, nil
}

// LoadDefault loads the configuration from the default path.
func LoadDefault() (*AgentConfig, error) {
	path, err := DefaultConfigPath()
	if err != nil {
		return nil, err
	}
	return Load(path)
}

// Save writes the configuration to the given path, creating directories as needed.
func (c *AgentConfig) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	// Write with restricted permissions (user-only read/write)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// SaveDefault saves the configuration to the default path.
func (c *AgentConfig) SaveDefault() error {
	path, err := DefaultConfigPath()
	if err != nil {
		return err
	}
	return c.Save(path)
}
