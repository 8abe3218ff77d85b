package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/MacJediWizard/resticsnap/internal/backup"
	"github.com/MacJediWizard/resticsnap/internal/history"
	"github.com/spf13/cobra"
)

func newHistoryCmd(opts *globalOptions) *cobra.Command {
	var (
		limit     int
		olderThan time.Duration
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent backup runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.loadConfig()
			if err != nil {
				return err
			}
			logger, closeLog := opts.newLogger(cfg)
			defer closeLog()

			path, err := cfg.HistoryPath()
			if err != nil {
				return err
			}
			store, err := history.NewSQLiteStore(path, logger)
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			defer store.Close()

			out := cmd.OutOrStdout()

			if olderThan > 0 {
				pruned, err := store.PruneOlderThan(cmd.Context(), olderThan)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Pruned %d runs older than %s\n", pruned, olderThan)
				return nil
			}

			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No backup runs recorded.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tTRIGGER\tSTATUS\tDURATION\tDETAILS")
			for _, rec := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					rec.StartedAt.Local().Format(time.DateTime),
					rec.Trigger,
					rec.Status,
					rec.CompletedAt.Sub(rec.StartedAt).Round(time.Second),
					runDetails(rec),
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show (0 for all)")
	cmd.Flags().DurationVar(&olderThan, "prune", 0, "Delete runs older than this duration (e.g. 720h) instead of listing")

	return cmd
}

func runDetails(rec *backup.RunRecord) string {
	if rec.Summary != nil {
		return rec.Summary.String()
	}
	msg, _, _ := strings.Cut(rec.Error, "\n")
	return msg
}
