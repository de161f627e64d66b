package device

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"isoforge/internal/config"
	"isoforge/internal/deps"
	"isoforge/internal/faults"
	"isoforge/internal/logging"
)

// ListFunc returns the raw disks visible to the host.
type ListFunc func(ctx context.Context) ([]BlockDevice, error)

// Enumerator lists block devices and applies the target safety policy.
type Enumerator struct {
	source    string
	list      ListFunc
	policy    Policy
	rootDisks func() (map[string]struct{}, error)
	logger    *slog.Logger
}

// NewEnumerator picks a backend from devices.source. "auto" prefers lsblk
// and falls back to ghw when the binary is missing.
func NewEnumerator(cfg *config.Config, logger *slog.Logger) *Enumerator {
	if cfg == nil {
		defaults := config.Default()
		cfg = &defaults
	}
	logger = logging.NewComponentLogger(logger, "devices")

	choice := cfg.Devices.Source
	if choice == "auto" || choice == "" {
		choice = "ghw"
		if deps.Available("lsblk") {
			choice = "lsblk"
		}
	}
	var list ListFunc
	switch choice {
	case "ghw":
		list = ghwSource{}.list
	default:
		choice = "lsblk"
		list = lsblkSource{timeout: cfg.LsblkTimeout()}.list
	}
	logger.Debug("device source selected", logging.String("source", choice))

	return &Enumerator{
		source:    choice,
		list:      list,
		policy:    NewPolicy(cfg.Devices.ProtectedMounts...),
		rootDisks: func() (map[string]struct{}, error) { return rootBackingDisks("/sys") },
		logger:    logger,
	}
}

// NewEnumeratorFrom wraps an arbitrary listing function, e.g. a fixed set of
// devices in tests or an alternative discovery backend.
func NewEnumeratorFrom(list ListFunc, policy Policy, logger *slog.Logger) *Enumerator {
	return &Enumerator{
		source: "custom",
		list:   list,
		policy: policy,
		logger: logging.NewComponentLogger(logger, "devices"),
	}
}

// Source names the active backend.
func (e *Enumerator) Source() string { return e.source }

// ListAll returns every whole disk, system disks flagged, in label order.
func (e *Enumerator) ListAll(ctx context.Context) ([]BlockDevice, error) {
	devices, err := e.list(ctx)
	if err != nil {
		return nil, err
	}

	var roots map[string]struct{}
	if e.rootDisks != nil {
		roots, err = e.rootDisks()
		if err != nil {
			logging.WarnWithContext(e.logger, "cannot resolve disk backing /", "root_disk_unknown",
				logging.Error(err),
				logging.String(logging.FieldImpact, "system detection relies on mountpoints only"),
			)
		}
	}
	for i := range devices {
		if _, ok := roots[strings.TrimPrefix(devices[i].ID, "/dev/")]; ok {
			devices[i].System = true
		}
		if e.policy.HostsSystem(devices[i]) {
			devices[i].System = true
		}
		if devices[i].Label == "" {
			devices[i].Label = describe(devices[i].ID, devices[i].Vendor, devices[i].Model, devices[i].Size)
		}
	}
	sortByLabel(devices)
	return devices, nil
}

// ListCandidates returns the devices that pass the safety policy, ignoring
// image size, in label order.
func (e *Enumerator) ListCandidates(ctx context.Context) ([]BlockDevice, error) {
	all, err := e.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]BlockDevice, 0, len(all))
	for _, dev := range all {
		if e.policy.Validate(dev, 0) == nil {
			out = append(out, dev)
		}
	}
	return out, nil
}

// Find returns the device with id from a fresh listing. Symlinks such as
// /dev/disk/by-id entries are resolved first.
func (e *Enumerator) Find(ctx context.Context, id string) (BlockDevice, error) {
	id = strings.TrimSpace(id)
	wanted := []string{id}
	if resolved, err := filepath.EvalSymlinks(id); err == nil && resolved != id {
		wanted = append(wanted, resolved)
	}
	all, err := e.ListAll(ctx)
	if err != nil {
		return BlockDevice{}, err
	}
	for _, dev := range all {
		for _, w := range wanted {
			if dev.ID == w {
				return dev, nil
			}
		}
	}
	return BlockDevice{}, faults.Unsafe(faults.ReasonNotFound, id, "device not present")
}

// ValidateTarget applies the safety policy to dev for an image of imageSize
// bytes.
func (e *Enumerator) ValidateTarget(dev BlockDevice, imageSize int64) error {
	return e.policy.Validate(dev, imageSize)
}
