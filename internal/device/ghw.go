package device

import (
	"context"
	"fmt"
	"strings"

	"github.com/jaypipes/ghw"
	"github.com/jaypipes/ghw/pkg/block"
)

// ghwSource enumerates disks from sysfs through ghw. It sees partition
// mountpoints but not stacked devices, so system detection also relies on
// the root backing-disk check.
type ghwSource struct {
	blockInfo func() (*block.Info, error)
}

func (s ghwSource) list(ctx context.Context) ([]BlockDevice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	load := s.blockInfo
	if load == nil {
		load = func() (*block.Info, error) { return ghw.Block() }
	}
	info, err := load()
	if err != nil {
		return nil, fmt.Errorf("read block info: %w", err)
	}
	return fromGHW(info), nil
}

func fromGHW(info *block.Info) []BlockDevice {
	if info == nil {
		return nil
	}
	out := make([]BlockDevice, 0, len(info.Disks))
	for _, disk := range info.Disks {
		if disk == nil || skipName(disk.Name) {
			continue
		}
		if disk.DriveType == block.DriveTypeODD || disk.DriveType == block.DriveTypeFDD {
			continue
		}
		dev := BlockDevice{
			ID:        "/dev/" + disk.Name,
			Size:      int64(disk.SizeBytes),
			Removable: disk.IsRemovable || strings.Contains(disk.BusPath, "usb"),
			Vendor:    cleanGHW(disk.Vendor),
			Model:     cleanGHW(disk.Model),
			Serial:    cleanGHW(disk.SerialNumber),
			Transport: strings.ToLower(cleanGHW(disk.StorageController.String())),
		}
		for _, part := range disk.Partitions {
			if part == nil || part.MountPoint == "" {
				continue
			}
			dev.Mountpoints = appendUnique(dev.Mountpoints, part.MountPoint)
		}
		if strings.Contains(disk.BusPath, "usb") {
			dev.Transport = "usb"
		}
		dev.Label = describe(dev.ID, dev.Vendor, dev.Model, dev.Size)
		out = append(out, dev)
	}
	return out
}

// cleanGHW drops ghw's "unknown" placeholder.
func cleanGHW(value string) string {
	value = strings.TrimSpace(strings.ReplaceAll(value, "_", " "))
	if strings.EqualFold(value, "unknown") {
		return ""
	}
	return value
}
