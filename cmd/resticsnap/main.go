// Package main is the entrypoint for the resticsnap CLI.
package main

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/MacJediWizard/resticsnap/internal/config"
	"github.com/MacJediWizard/resticsnap/internal/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	logLevel   string
}

// loadConfig reads the config file named by --config, or the default one.
func (o *globalOptions) loadConfig() (*config.AgentConfig, string, error) {
	path := o.configPath
	if path == "" {
		p, err := config.DefaultConfigPath()
		if err != nil {
			return nil, "", err
		}
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("load config: %w", err)
	}
	return cfg, path, nil
}

// newLogger builds the process logger. The returned func flushes the log
// file, if any, and must be called on exit.
func (o *globalOptions) newLogger(cfg *config.AgentConfig) (zerolog.Logger, func()) {
	logCfg := cfg.Log
	if o.logLevel != "" {
		logCfg.Level = o.logLevel
	}
	logger, closer := logging.New(logCfg, isTerminal(os.Stderr))
	if closer == nil {
		return logger, func() {}
	}
	return logger, func() { _ = closer.Close() }
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "resticsnap",
		Short: "resticsnap - scheduled restic snapshots of one directory",
		Long: `resticsnap runs restic backups of a single directory, on demand or on
a fixed interval, and keeps a local history of every run.

Run 'resticsnap config set repository <repo>' to get started.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Config file (default ~/.resticsnap/config.yml)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the configured log level")

	rootCmd.AddCommand(
		newVersionCmd(),
		newConfigCmd(opts),
		newLocateCmd(opts),
		newBackupCmd(opts),
		newStartCmd(opts),
		newHistoryCmd(opts),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "resticsnap %s\n", Version)
			fmt.Fprintf(out, "  Commit:     %s\n", Commit)
			fmt.Fprintf(out, "  Built:      %s\n", BuildDate)
			fmt.Fprintf(out, "  Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func newConfigCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(
		newConfigShowCmd(opts),
		newConfigSetCmd(opts),
	)

	return cmd
}

func newConfigShowCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := opts.loadConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config file: %s\n\n", path)

			if !cfg.IsConfigured() {
				fmt.Fprintln(out, "No repository configured. Run 'resticsnap config set repository <repo>' to set up.")
				return nil
			}

			fmt.Fprintf(out, "Repository:        %s\n", cfg.Repository)
			fmt.Fprintf(out, "Restic binary:     %s\n", valueOr(cfg.BinaryPath, "(auto-detect)"))
			if cfg.PasswordFile != "" {
				fmt.Fprintf(out, "Password file:     %s\n", cfg.PasswordFile)
			}
			if cfg.PasswordCommand != "" {
				fmt.Fprintf(out, "Password command:  %s\n", cfg.PasswordCommand)
			}
			if tags := cfg.ToBackupConfig().Tags; len(tags) > 0 {
				fmt.Fprintf(out, "Tags:              %s\n", strings.Join(tags, ", "))
			}
			if interval := cfg.Interval(); interval > 0 {
				fmt.Fprintf(out, "Interval:          %s\n", interval)
			} else {
				fmt.Fprintln(out, "Interval:          manual only")
			}
			fmt.Fprintf(out, "Target:            %s\n", valueOr(cfg.Target, "(working directory)"))
			if cfg.ListenAddr != "" {
				fmt.Fprintf(out, "Status API:        %s\n", cfg.ListenAddr)
			}

			return nil
		},
	}
}

func newConfigSetCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Long:  "Set a configuration value. Valid keys: " + strings.Join(config.SettableKeys, ", "),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := opts.loadConfig()
			if err != nil {
				return err
			}

			if err := cfg.Set(args[0], args[1]); err != nil {
				return err
			}

			if err := cfg.Save(path); err != nil {
				return fmt.Errorf("save config: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s set to: %s\n", args[0], strings.TrimSpace(args[1]))
			return nil
		},
	}
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
