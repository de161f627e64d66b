//go:build linux

package device

import (
	"testing"

	"github.com/pilebones/go-udev/netlink"
)

func TestBuildMatcher(t *testing.T) {
	matcher := buildMatcher()
	if matcher == nil {
		t.Fatal("expected non-nil matcher")
	}

	disk := map[string]string{"SUBSYSTEM": "block", "DEVTYPE": "disk", "DEVNAME": "/dev/sdb"}
	for _, action := range []netlink.KObjAction{netlink.ADD, netlink.REMOVE, netlink.CHANGE} {
		if !matcher.Evaluate(netlink.UEvent{Action: action, Env: disk}) {
			t.Errorf("expected matcher to accept %s on a disk", action)
		}
	}

	partition := map[string]string{"SUBSYSTEM": "block", "DEVTYPE": "partition", "DEVNAME": "/dev/sdb1"}
	if matcher.Evaluate(netlink.UEvent{Action: netlink.ADD, Env: partition}) {
		t.Error("expected matcher to reject partitions")
	}

	usb := map[string]string{"SUBSYSTEM": "usb", "DEVTYPE": "usb_device"}
	if matcher.Evaluate(netlink.UEvent{Action: netlink.ADD, Env: usb}) {
		t.Error("expected matcher to reject non-block events")
	}
}

func TestHandleEvent(t *testing.T) {
	var got []Change
	m := NewMonitor(nil, func(c Change) { got = append(got, c) })

	m.handleEvent(netlink.UEvent{Action: netlink.CHANGE, Env: map[string]string{}})
	m.handleEvent(netlink.UEvent{Action: netlink.ADD, Env: map[string]string{"DEVNAME": "loop7"}})
	m.handleEvent(netlink.UEvent{Action: netlink.ADD, Env: map[string]string{"DEVNAME": "sdc"}})
	m.handleEvent(netlink.UEvent{Action: netlink.REMOVE, Env: map[string]string{"DEVPATH": "/devices/pci0000:00/usb1/1-2/host6/block/sdd"}})

	if len(got) != 2 {
		t.Fatalf("expected 2 changes, got %+v", got)
	}
	if got[0] != (Change{Action: ActionAdded, Device: "/dev/sdc"}) {
		t.Fatalf("unexpected first change %+v", got[0])
	}
	if got[1] != (Change{Action: ActionRemoved, Device: "/dev/sdd"}) {
		t.Fatalf("unexpected second change %+v", got[1])
	}
}

func TestStopWithoutStart(t *testing.T) {
	m := NewMonitor(nil, nil)
	m.Stop()
	if m.Running() {
		t.Fatal("monitor should not be running")
	}
	var nilMonitor *Monitor
	nilMonitor.Stop()
}
