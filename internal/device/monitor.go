package device

import "strings"

// Action is the kind of hotplug change observed.
type Action string

const (
	ActionAdded   Action = "add"
	ActionRemoved Action = "remove"
	ActionChanged Action = "change"
)

// Change is a hotplug notice for a whole disk. Callers should re-list
// devices rather than trust the notice's contents.
type Change struct {
	Action Action
	Device string
}

// deviceFromEnv derives /dev/<name> from uevent properties.
func deviceFromEnv(env map[string]string) string {
	if devname := env["DEVNAME"]; devname != "" {
		if strings.HasPrefix(devname, "/dev/") {
			return devname
		}
		return "/dev/" + devname
	}
	devpath := env["DEVPATH"]
	if devpath == "" {
		return ""
	}
	parts := strings.Split(devpath, "/")
	return "/dev/" + parts[len(parts)-1]
}
