package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"isoforge/internal/checksum"
	"isoforge/internal/config"
	"isoforge/internal/download"
	"isoforge/internal/faults"
)

func newFetchCommand(ctx *commandContext) *cobra.Command {
	var sumFlag string
	var size int64
	var restart bool

	cmd := &cobra.Command{
		Use:   "fetch URL DEST",
		Short: "Download an image, resuming an earlier partial transfer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}

			var sum checksum.Sum
			if strings.TrimSpace(sumFlag) != "" {
				sum, err = checksum.ParseSum(sumFlag)
				if err != nil {
					return fmt.Errorf("invalid --checksum: %w", err)
				}
			}
			dest, err := config.ExpandPath(args[1])
			if err != nil {
				return fmt.Errorf("resolve destination: %w", err)
			}

			out := cmd.OutOrStdout()
			view := newProgressView(out)
			req := download.Request{
				URL:          strings.TrimSpace(args[0]),
				Dest:         dest,
				Checksum:     sum,
				ExpectedSize: size,
				Progress: func(done, total int64) {
					view.update("download", done, total)
				},
			}
			if restart {
				zero := int64(0)
				req.ResumeFrom = &zero
			}

			state, err := download.New(cfg, logger).Fetch(cmd.Context(), req)
			view.finish()
			if err != nil {
				if errors.Is(err, faults.ErrCancelled) && state.BytesDownloaded > 0 {
					fmt.Fprintf(cmd.ErrOrStderr(), "Stopped after %s; run the same command again to resume\n",
						humanize.IBytes(uint64(state.BytesDownloaded)))
				}
				return err
			}

			algo := sum.Algorithm
			if algo == "" {
				algo = state.Algorithm
			}
			fmt.Fprintf(out, "Saved %s (%s)\n", dest, humanize.IBytes(uint64(state.BytesDownloaded)))
			if state.Digest != "" {
				fmt.Fprintf(out, "%s:%s\n", algo, state.Digest)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sumFlag, "checksum", "", "Expected digest as algo:hex (bare hex is sha256)")
	cmd.Flags().Int64Var(&size, "size", 0, "Expected size in bytes")
	cmd.Flags().BoolVar(&restart, "restart", false, "Discard any partial download and start from zero")
	return cmd
}
