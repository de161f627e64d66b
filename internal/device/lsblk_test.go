package device

import (
	"context"
	"slices"
	"strings"
	"testing"
)

const lsblkFixture = `NAME="/dev/nvme0n1" PKNAME="" TYPE="disk" SIZE="512110190592" RM="0" HOTPLUG="0" RO="0" TRAN="nvme" VENDOR="" MODEL="Samsung SSD 980 PRO 512GB" SERIAL="S5GXNX0R" MOUNTPOINT=""
NAME="/dev/nvme0n1p1" PKNAME="/dev/nvme0n1" TYPE="part" SIZE="536870912" RM="0" HOTPLUG="0" RO="0" TRAN="nvme" VENDOR="" MODEL="" SERIAL="" MOUNTPOINT="/boot/efi"
NAME="/dev/nvme0n1p2" PKNAME="/dev/nvme0n1" TYPE="part" SIZE="511571492864" RM="0" HOTPLUG="0" RO="0" TRAN="nvme" VENDOR="" MODEL="" SERIAL="" MOUNTPOINT=""
NAME="/dev/mapper/root" PKNAME="/dev/nvme0n1p2" TYPE="crypt" SIZE="511554715648" RM="0" HOTPLUG="0" RO="0" TRAN="" VENDOR="" MODEL="" SERIAL="" MOUNTPOINT="/"
NAME="/dev/sdb" PKNAME="" TYPE="disk" SIZE="8589934592" RM="1" HOTPLUG="1" RO="0" TRAN="usb" VENDOR="SanDisk " MODEL="Ultra Fit" SERIAL="4C530001" MOUNTPOINT=""
NAME="/dev/sdb1" PKNAME="/dev/sdb" TYPE="part" SIZE="8588886016" RM="1" HOTPLUG="1" RO="0" TRAN="" VENDOR="" MODEL="" SERIAL="" MOUNTPOINT="/run/media/user/My\x20Stick"
NAME="/dev/loop0" PKNAME="" TYPE="loop" SIZE="4096" RM="0" HOTPLUG="0" RO="1" TRAN="" VENDOR="" MODEL="" SERIAL="" MOUNTPOINT="/snap/core/1"
NAME="/dev/sr0" PKNAME="" TYPE="rom" SIZE="1073741312" RM="1" HOTPLUG="0" RO="0" TRAN="sata" VENDOR="HL-DT-ST" MODEL="DVDRAM" SERIAL="" MOUNTPOINT=""
`

func TestParseKeyValueLine(t *testing.T) {
	got, err := parseKeyValueLine(`NAME="/dev/sdb" MODEL="Ultra Fit" MOUNTPOINT="/media/a\x20b" EMPTY=""`)
	if err != nil {
		t.Fatalf("parseKeyValueLine: %v", err)
	}
	want := map[string]string{
		"NAME":       "/dev/sdb",
		"MODEL":      "Ultra Fit",
		"MOUNTPOINT": "/media/a b",
		"EMPTY":      "",
	}
	for key, value := range want {
		if got[key] != value {
			t.Fatalf("%s = %q, want %q", key, got[key], value)
		}
	}

	for _, bad := range []string{`NAME=/dev/sdb`, `NAME="/dev/sdb`, `JUNK`} {
		if _, err := parseKeyValueLine(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestParseLSBLKFoldsChildrenIntoDisks(t *testing.T) {
	devices, err := parseLSBLK(lsblkFixture)
	if err != nil {
		t.Fatalf("parseLSBLK: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("expected 2 disks, got %d: %+v", len(devices), devices)
	}

	nvme, usb := devices[0], devices[1]
	if nvme.ID != "/dev/nvme0n1" || nvme.Removable {
		t.Fatalf("unexpected nvme entry: %+v", nvme)
	}
	if !slices.Contains(nvme.Mountpoints, "/") || !slices.Contains(nvme.Mountpoints, "/boot/efi") {
		t.Fatalf("expected root and efi mounts attributed to nvme, got %v", nvme.Mountpoints)
	}

	if usb.ID != "/dev/sdb" || !usb.Removable || usb.Size != 8<<30 {
		t.Fatalf("unexpected usb entry: %+v", usb)
	}
	if usb.Label != "SanDisk Ultra Fit (8.0 GiB)" {
		t.Fatalf("unexpected label %q", usb.Label)
	}
	if len(usb.Mountpoints) != 1 || usb.Mountpoints[0] != "/run/media/user/My Stick" {
		t.Fatalf("unexpected usb mounts: %v", usb.Mountpoints)
	}
	if usb.Transport != "usb" || usb.Serial != "4C530001" {
		t.Fatalf("unexpected usb metadata: %+v", usb)
	}
}

func TestLSBLKSourceInvokesKeyValueMode(t *testing.T) {
	var gotArgs []string
	src := lsblkSource{run: func(_ context.Context, name string, args ...string) ([]byte, error) {
		gotArgs = append([]string{name}, args...)
		return []byte(lsblkFixture), nil
	}}
	devices, err := src.list(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(devices))
	}
	joined := strings.Join(gotArgs, " ")
	for _, flag := range []string{"lsblk", "-P", "-b", "-p", "MOUNTPOINT"} {
		if !strings.Contains(joined, flag) {
			t.Fatalf("expected %q in %q", flag, joined)
		}
	}
}
