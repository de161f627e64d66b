//go:build linux

package device

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// rootBackingDisks returns the names of the whole disks under the filesystem
// mounted at /, following device-mapper and md slaves.
func rootBackingDisks(sysfs string) (map[string]struct{}, error) {
	var st unix.Stat_t
	if err := unix.Stat("/", &st); err != nil {
		return nil, fmt.Errorf("stat /: %w", err)
	}
	dev := uint64(st.Dev) //nolint:unconvert // width differs per arch
	return backingDisks(sysfs, unix.Major(dev), unix.Minor(dev))
}

func backingDisks(sysfs string, major, minor uint32) (map[string]struct{}, error) {
	link := filepath.Join(sysfs, "dev", "block", fmt.Sprintf("%d:%d", major, minor))
	target, err := filepath.EvalSymlinks(link)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", link, err)
	}
	disks := make(map[string]struct{})
	walkSlaves(target, disks, 0)
	return disks, nil
}

func walkSlaves(path string, disks map[string]struct{}, depth int) {
	if depth > 8 {
		return
	}
	if _, err := os.Stat(filepath.Join(path, "partition")); err == nil {
		disks[filepath.Base(filepath.Dir(path))] = struct{}{}
		return
	}
	entries, err := os.ReadDir(filepath.Join(path, "slaves"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return
	}
	if len(entries) == 0 {
		disks[filepath.Base(path)] = struct{}{}
		return
	}
	for _, entry := range entries {
		resolved, err := filepath.EvalSymlinks(filepath.Join(path, "slaves", entry.Name()))
		if err != nil {
			continue
		}
		walkSlaves(resolved, disks, depth+1)
	}
}
