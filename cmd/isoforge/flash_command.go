package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"isoforge/internal/checksum"
	"isoforge/internal/config"
	"isoforge/internal/device"
	"isoforge/internal/events"
	"isoforge/internal/faults"
	"isoforge/internal/flash"
	"isoforge/internal/history"
	"isoforge/internal/logging"
)

var errAborted = errors.New("aborted; the device was not modified")

func newFlashCommand(ctx *commandContext) *cobra.Command {
	var sumFlag string
	var size int64
	var blockSize int
	var assumeYes bool

	cmd := &cobra.Command{
		Use:   "flash SOURCE DEVICE",
		Short: "Write an image file or URL to a removable drive and verify it",
		Long: "Write an image to a removable drive. SOURCE is a local path or an http(s) URL, " +
			"which is downloaded into the cache first. The written bytes are read back and compared " +
			"before the job reports success.",
		Args: cobra.ExactArgs(2),
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
			src := flash.ParseSource(args[0], sum)
			if !src.Remote() {
				if src.Path, err = config.ExpandPath(src.Path); err != nil {
					return fmt.Errorf("resolve image path: %w", err)
				}
			}
			src.ExpectedSize = size

			enum := device.NewEnumerator(cfg, logger)
			target, err := enum.Find(cmd.Context(), args[1])
			if err != nil {
				return explain(cmd.ErrOrStderr(), err)
			}
			if err := enum.ValidateTarget(target, 0); err != nil {
				return explain(cmd.ErrOrStderr(), err)
			}
			if !assumeYes {
				if err := confirmErase(cmd.InOrStdin(), cmd.OutOrStdout(), target); err != nil {
					return err
				}
			}

			opts := []flash.Option{flash.WithDevices(enum)}
			store, err := history.Open(cfg)
			if err != nil {
				logging.WarnWithContext(logger, "history unavailable; job will not be recorded", "history_unavailable",
					logging.Error(err),
					logging.String(logging.FieldImpact, "job outcome is not kept for later listing"),
				)
			} else {
				defer store.Close()
				opts = append(opts, flash.WithRecorder(store))
			}

			engine := flash.New(cfg, logger, opts...)
			job, err := engine.StartJob(cmd.Context(), src, target.ID, flash.Options{BlockSize: blockSize})
			if err != nil {
				return explain(cmd.ErrOrStderr(), err)
			}
			stop := context.AfterFunc(cmd.Context(), func() {
				_ = engine.Cancel(job.ID)
			})
			defer stop()

			stream, err := engine.Subscribe(job.ID)
			if err != nil {
				return err
			}
			renderJob(cmd.OutOrStdout(), stream)

			final, err := engine.Wait(context.Background(), job.ID)
			if err != nil {
				return explain(cmd.ErrOrStderr(), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote and verified %s on %s in %s\n",
				humanize.IBytes(uint64(final.BytesWritten)),
				final.Device.ID,
				final.FinishedAt.Sub(final.StartedAt).Round(time.Millisecond),
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&sumFlag, "checksum", "", "Expected image digest as algo:hex (bare hex is sha256)")
	cmd.Flags().Int64Var(&size, "size", 0, "Expected image size in bytes")
	cmd.Flags().IntVar(&blockSize, "block-size", 0, "Write block size in bytes (multiple of 512; default from config)")
	cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask before erasing the device")
	return cmd
}

// confirmErase asks the operator to type the device path back before any
// byte is written.
func confirmErase(in io.Reader, out io.Writer, target device.BlockDevice) error {
	fmt.Fprintf(out, "All data on %s (%s) will be erased.\n", target.ID, target.Label)
	fmt.Fprintf(out, "Type the device path to continue: ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read confirmation: %w", err)
	}
	if strings.TrimSpace(line) != target.ID {
		fmt.Fprintln(out)
		return errAborted
	}
	return nil
}

// renderJob prints phase changes and drives the progress view until the
// terminal event.
func renderJob(out io.Writer, stream iter.Seq[events.Event]) {
	view := newProgressView(out)
	for ev := range stream {
		switch ev.Type {
		case events.TypePhase:
			view.finish()
			if ev.Message != "" {
				fmt.Fprintf(out, "%s: %s\n", ev.Phase, ev.Message)
			} else {
				fmt.Fprintln(out, ev.Phase)
			}
		case events.TypeProgress:
			view.update(string(ev.Stage), ev.BytesDone, ev.BytesTotal)
		}
	}
	view.finish()
}

// explain prints an operator hint for well known failures and returns err
// unchanged.
func explain(errOut io.Writer, err error) error {
	var hint string
	switch {
	case errors.Is(err, faults.Unsafely(faults.ReasonSystemDisk)):
		hint = "that disk hosts the running system; pick a drive from `isoforge devices`"
	case errors.Is(err, faults.Unsafely(faults.ReasonNotRemovable)):
		hint = "only removable drives can be flashed; see `isoforge devices --all`"
	case errors.Is(err, faults.Unsafely(faults.ReasonTooSmall)):
		hint = "the image does not fit on that drive"
	case errors.Is(err, faults.Unsafely(faults.ReasonNotFound)):
		hint = "the drive is not attached; check `isoforge devices`"
	case errors.Is(err, faults.ErrDeviceBusy):
		hint = "another job is writing to that drive"
	case errors.Is(err, faults.ErrChecksumMismatch):
		hint = "the image does not match the declared checksum; download it again"
	case errors.Is(err, faults.ErrVerifyFailed):
		hint = "the drive returned different bytes than were written; it may be failing"
	case errors.Is(err, faults.ErrCancelled):
		hint = "the job was cancelled before it completed; `isoforge devices` flags drives left with a partial image"
	}
	if hint != "" {
		fmt.Fprintf(errOut, "hint: %s\n", hint)
	}
	return err
}
