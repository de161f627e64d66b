package device

import (
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// BlockDevice is a whole disk as seen by the enumerator.
type BlockDevice struct {
	// ID is the stable OS handle, e.g. /dev/sdb.
	ID          string
	Label       string
	Size        int64
	Removable   bool
	ReadOnly    bool
	Mountpoints []string
	Vendor      string
	Model       string
	Serial      string
	Transport   string
	// System is set when the disk backs the running system.
	System bool
}

// Mounted reports whether any partition of the device is mounted.
func (d BlockDevice) Mounted() bool {
	return len(d.Mountpoints) > 0
}

// HumanSize renders Size with binary units.
func (d BlockDevice) HumanSize() string {
	if d.Size <= 0 {
		return "unknown"
	}
	return humanize.IBytes(uint64(d.Size))
}

// describe builds a human label from vendor and model, falling back to the
// device name.
func describe(id, vendor, model string, size int64) string {
	parts := make([]string, 0, 3)
	vendor = strings.TrimSpace(vendor)
	model = strings.TrimSpace(model)
	if vendor != "" && !strings.HasPrefix(strings.ToLower(model), strings.ToLower(vendor)) {
		parts = append(parts, vendor)
	}
	if model != "" {
		parts = append(parts, model)
	}
	if len(parts) == 0 {
		parts = append(parts, strings.TrimPrefix(id, "/dev/"))
	}
	if size > 0 {
		parts = append(parts, "("+humanize.IBytes(uint64(size))+")")
	}
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

// sortByLabel orders devices by label under Unicode collation, breaking ties
// by ID so the order is stable for an unchanged device set.
func sortByLabel(devices []BlockDevice) {
	coll := collate.New(language.Und, collate.IgnoreCase)
	slices.SortStableFunc(devices, func(a, b BlockDevice) int {
		if c := coll.CompareString(a.Label, b.Label); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

func skipName(name string) bool {
	base := strings.TrimPrefix(name, "/dev/")
	for _, prefix := range []string{"loop", "ram", "zram", "sr", "fd", "nbd"} {
		if strings.HasPrefix(base, prefix) {
			return true
		}
	}
	return false
}
