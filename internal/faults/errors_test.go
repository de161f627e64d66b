package faults

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorsIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", New(KindDeviceBusy, "held by job 1", nil))
	if !errors.Is(err, ErrDeviceBusy) {
		t.Fatalf("expected DeviceBusy match for %v", err)
	}
	if errors.Is(err, ErrDestinationLocked) {
		t.Fatalf("unexpected DestinationLocked match")
	}
}

func TestErrorsIsMatchesReason(t *testing.T) {
	err := Unsafe(ReasonSystemDisk, "/dev/nvme0n1", "hosts /")
	if !errors.Is(err, ErrUnsafeTarget) {
		t.Fatal("expected generic UnsafeTarget match")
	}
	if !errors.Is(err, Unsafely(ReasonSystemDisk)) {
		t.Fatal("expected SystemDisk match")
	}
	if errors.Is(err, Unsafely(ReasonTooSmall)) {
		t.Fatal("unexpected TooSmall match")
	}
}

func TestMismatchMessageCarriesDigests(t *testing.T) {
	err := Mismatch("/tmp/a.iso", "abc", "def")
	msg := err.Error()
	for _, want := range []string{"ChecksumMismatch", "expected abc, got def", "/tmp/a.iso"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message %q missing %q", msg, want)
		}
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("EIO")
	err := IO("Writing", "/dev/sdb", "write block", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to be reachable")
	}
	if KindOf(err) != KindIOError {
		t.Fatalf("unexpected kind %q", KindOf(err))
	}
	if KindOf(cause) != "" {
		t.Fatal("plain errors carry no kind")
	}
}

func TestWithPhaseFillsMissingFields(t *testing.T) {
	err := New(KindVerifyFailed, "", nil)
	WithPhase(err, "Verifying", "/dev/sdc")
	if err.Phase != "Verifying" || err.DeviceID != "/dev/sdc" {
		t.Fatalf("unexpected fields: %+v", err)
	}
	WithPhase(err, "Writing", "/dev/sdd")
	if err.Phase != "Verifying" || err.DeviceID != "/dev/sdc" {
		t.Fatalf("existing fields overwritten: %+v", err)
	}
}
