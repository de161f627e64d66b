package device

import (
	"fmt"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"isoforge/internal/faults"
)

// systemMounts are the mountpoints that mark a disk as hosting the running
// system.
var systemMounts = []string{"/", "/boot", "/boot/efi", "/efi"}

// Policy decides whether a device may be overwritten.
type Policy struct {
	protected map[string]struct{}
}

// NewPolicy returns a policy protecting the system mounts plus extra.
func NewPolicy(extra ...string) Policy {
	p := Policy{protected: make(map[string]struct{}, len(systemMounts)+len(extra))}
	for _, mount := range append(append([]string{}, systemMounts...), extra...) {
		if mount == "" {
			continue
		}
		p.protected[filepath.Clean(mount)] = struct{}{}
	}
	return p
}

// HostsSystem reports whether dev is flagged as a system disk or has a
// partition mounted at a protected mountpoint.
func (p Policy) HostsSystem(dev BlockDevice) bool {
	if dev.System {
		return true
	}
	for _, mount := range dev.Mountpoints {
		if _, ok := p.protected[filepath.Clean(mount)]; ok {
			return true
		}
	}
	return false
}

// Validate returns nil when dev may receive an image of imageSize bytes, or
// an UnsafeTarget fault. Checks run in order and the first match wins:
// system disk, not removable, too small. A non-positive imageSize skips the
// size check.
func (p Policy) Validate(dev BlockDevice, imageSize int64) error {
	switch {
	case p.HostsSystem(dev):
		return faults.Unsafe(faults.ReasonSystemDisk, dev.ID, "device hosts the running system")
	case !dev.Removable:
		return faults.Unsafe(faults.ReasonNotRemovable, dev.ID, "device is not removable")
	case imageSize > 0 && dev.Size < imageSize:
		return faults.Unsafe(faults.ReasonTooSmall, dev.ID, fmt.Sprintf("device holds %s, image needs %s",
			humanize.IBytes(uint64(max(dev.Size, 0))), humanize.IBytes(uint64(imageSize))))
	default:
		return nil
	}
}
