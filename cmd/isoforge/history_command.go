package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"isoforge/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var clearAll bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent flash jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := history.Open(cfg)
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if clearAll {
				removed, err := store.Clear(cmd.Context())
				if err != nil {
					return fmt.Errorf("clear history: %w", err)
				}
				fmt.Fprintf(out, "Removed %d job records\n", removed)
				return nil
			}

			records, err := store.List(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("list history: %w", err)
			}
			if len(records) == 0 {
				fmt.Fprintln(out, "No flash jobs recorded")
				return nil
			}
			rows := make([][]string, 0, len(records))
			for _, rec := range records {
				rows = append(rows, historyRow(rec))
			}
			fmt.Fprintln(out, renderTable([]string{"STARTED", "DEVICE", "IMAGE", "PHASE", "WRITTEN", "DURATION", "ERROR"}, rows, 4, 5))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of jobs to show (0 for all)")
	cmd.Flags().BoolVar(&clearAll, "clear", false, "Delete every recorded job")
	return cmd
}

func historyRow(rec history.JobRecord) []string {
	phase := rec.Phase
	if rec.Incomplete {
		phase += " (partial image)"
	}
	duration := "-"
	if !rec.FinishedAt.IsZero() {
		duration = rec.Duration().Round(time.Second).String()
	}
	written := "-"
	if rec.BytesWritten > 0 {
		written = humanize.IBytes(uint64(rec.BytesWritten))
	}
	errKind := "-"
	if rec.ErrorKind != "" {
		errKind = rec.ErrorKind
	} else if rec.ErrorMessage != "" {
		errKind = rec.ErrorMessage
	}
	return []string{
		humanize.Time(rec.StartedAt),
		rec.DeviceID,
		filepath.Base(rec.Source),
		phase,
		written,
		duration,
		errKind,
	}
}
