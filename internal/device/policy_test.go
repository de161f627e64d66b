package device

import (
	"errors"
	"testing"

	"isoforge/internal/faults"
)

func TestPolicyValidateOrder(t *testing.T) {
	const gib = int64(1) << 30
	policy := NewPolicy("/home")

	tests := []struct {
		name      string
		dev       BlockDevice
		imageSize int64
		want      faults.Reason
	}{
		{
			name: "root mount beats everything",
			dev:  BlockDevice{ID: "/dev/sda", Size: 512 * gib, Removable: true, Mountpoints: []string{"/"}},
			want: faults.ReasonSystemDisk,
		},
		{
			name: "boot efi mount",
			dev:  BlockDevice{ID: "/dev/sda", Size: 512 * gib, Removable: true, Mountpoints: []string{"/boot/efi/"}},
			want: faults.ReasonSystemDisk,
		},
		{
			name: "system flag without mounts",
			dev:  BlockDevice{ID: "/dev/nvme0n1", Size: 512 * gib, System: true},
			want: faults.ReasonSystemDisk,
		},
		{
			name: "configured protected mount",
			dev:  BlockDevice{ID: "/dev/sdc", Size: 8 * gib, Removable: true, Mountpoints: []string{"/home"}},
			want: faults.ReasonSystemDisk,
		},
		{
			name:      "not removable before too small",
			dev:       BlockDevice{ID: "/dev/sdd", Size: gib},
			imageSize: 4 * gib,
			want:      faults.ReasonNotRemovable,
		},
		{
			name:      "too small",
			dev:       BlockDevice{ID: "/dev/sde", Size: gib, Removable: true},
			imageSize: 4 * gib,
			want:      faults.ReasonTooSmall,
		},
		{
			name:      "exact fit",
			dev:       BlockDevice{ID: "/dev/sdf", Size: 4 * gib, Removable: true, Mountpoints: []string{"/media/usb"}},
			imageSize: 4 * gib,
		},
		{
			name: "unknown image size skips size check",
			dev:  BlockDevice{ID: "/dev/sdg", Size: 1, Removable: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := policy.Validate(tt.dev, tt.imageSize)
			if tt.want == "" {
				if err != nil {
					t.Fatalf("expected device accepted, got %v", err)
				}
				return
			}
			if !errors.Is(err, faults.Unsafely(tt.want)) {
				t.Fatalf("expected %s, got %v", tt.want, err)
			}
			var fault *faults.Error
			if !errors.As(err, &fault) || fault.DeviceID != tt.dev.ID {
				t.Fatalf("expected device id on fault, got %+v", fault)
			}
		})
	}
}
