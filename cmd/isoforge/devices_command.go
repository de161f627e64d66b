package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"isoforge/internal/config"
	"isoforge/internal/device"
	"isoforge/internal/faults"
	"isoforge/internal/history"
	"isoforge/internal/logging"
)

func newDevicesCommand(ctx *commandContext) *cobra.Command {
	var all bool
	var watch bool
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List removable drives that can receive an image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}

			enum := device.NewEnumerator(cfg, logger)
			out := cmd.OutOrStdout()
			list := func(runCtx context.Context) ([]device.BlockDevice, error) {
				if all {
					return enum.ListAll(runCtx)
				}
				return enum.ListCandidates(runCtx)
			}

			devices, err := list(cmd.Context())
			if err != nil {
				return fmt.Errorf("list devices: %w", err)
			}
			partial := incompleteDevices(cmd.Context(), cfg, logger)
			printDevices(out, devices, enum, partial)
			if !watch {
				return nil
			}
			show := func(runCtx context.Context, devices []device.BlockDevice) {
				printDevices(out, devices, enum, incompleteDevices(runCtx, cfg, logger))
			}
			return watchDevices(cmd.Context(), out, cmd.ErrOrStderr(), logger, interval, devices, list, show)
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include system and fixed disks")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep running and reprint the list when drives come and go")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Polling interval when hotplug events are unavailable")
	return cmd
}

func printDevices(out io.Writer, devices []device.BlockDevice, enum *device.Enumerator, partial map[string]history.JobRecord) {
	if len(devices) == 0 {
		fmt.Fprintln(out, "No removable drives found")
		return
	}
	rows := make([][]string, 0, len(devices))
	for _, dev := range devices {
		mounted := "-"
		if dev.Mounted() {
			mounted = strings.Join(dev.Mountpoints, ", ")
		}
		rows = append(rows, []string{
			dev.ID,
			dev.Label,
			dev.HumanSize(),
			yesNo(dev.Removable),
			mounted,
			deviceStatus(dev, enum, partial),
		})
	}
	fmt.Fprintln(out, renderTable([]string{"DEVICE", "LABEL", "SIZE", "REMOVABLE", "MOUNTED", "STATUS"}, rows, 2))
}

// deviceStatus summarizes whether dev may be flashed and whether an earlier
// job left it with a partial image.
func deviceStatus(dev device.BlockDevice, enum *device.Enumerator, partial map[string]history.JobRecord) string {
	status := "ready"
	if err := enum.ValidateTarget(dev, 0); err != nil {
		var fault *faults.Error
		if errors.As(err, &fault) && fault.Reason != "" {
			status = string(fault.Reason)
		} else {
			status = "unavailable"
		}
	}
	if _, ok := partial[dev.ID]; ok {
		status += " (partial image)"
	}
	return status
}

// incompleteDevices is best effort: a missing or unreadable history only
// loses the partial-image hint.
func incompleteDevices(ctx context.Context, cfg *config.Config, logger *slog.Logger) map[string]history.JobRecord {
	store, err := history.Open(cfg)
	if err != nil {
		logger.Debug("history unavailable", logging.Error(err))
		return nil
	}
	defer store.Close()
	records, err := store.IncompleteDevices(ctx)
	if err != nil {
		logger.Debug("history query failed", logging.Error(err))
		return nil
	}
	return records
}

// watchDevices reprints the device list on hotplug events, falling back to
// polling when the kernel event socket cannot be opened. Polling only
// reprints when the set of device IDs changed.
func watchDevices(
	ctx context.Context,
	out, errOut io.Writer,
	logger *slog.Logger,
	interval time.Duration,
	current []device.BlockDevice,
	list func(context.Context) ([]device.BlockDevice, error),
	show func(context.Context, []device.BlockDevice),
) error {
	changes := make(chan device.Change, 8)
	monitor := device.NewMonitor(logger, func(change device.Change) {
		select {
		case changes <- change:
		default:
		}
	})

	var tick <-chan time.Time
	if err := monitor.Start(ctx); err != nil {
		if interval <= 0 {
			interval = 2 * time.Second
		}
		fmt.Fprintf(errOut, "Hotplug events unavailable (%v); polling every %s\n", err, interval)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	} else {
		defer monitor.Stop()
	}
	fmt.Fprintln(errOut, "Watching for drive changes; press Ctrl+C to stop")

	known := deviceIDs(current)
	for {
		force := false
		select {
		case <-ctx.Done():
			return nil
		case change := <-changes:
			fmt.Fprintf(out, "\n%s %s\n", change.Device, change.Action)
			force = true
		case <-tick:
		}

		devices, err := list(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logging.WarnWithContext(logger, "device refresh failed", "device_refresh_failed", logging.Error(err))
			continue
		}
		ids := deviceIDs(devices)
		if !force && slices.Equal(ids, known) {
			continue
		}
		known = ids
		show(ctx, devices)
	}
}

func deviceIDs(devices []device.BlockDevice) []string {
	ids := make([]string, 0, len(devices))
	for _, dev := range devices {
		ids = append(ids, dev.ID)
	}
	slices.Sort(ids)
	return ids
}
