package deps

import (
	"fmt"
	"os/exec"
	"strings"
)

// Requirement defines an external binary isoforge relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// DeviceRequirements lists the binaries the device layer can use. None are
// strictly required: without lsblk enumeration falls back to sysfs via ghw.
func DeviceRequirements() []Requirement {
	return []Requirement{
		{Name: "lsblk", Command: "lsblk", Description: "Block device enumeration", Optional: true},
	}
}

// Available reports whether command resolves on PATH.
func Available(command string) bool {
	command = strings.TrimSpace(command)
	if command == "" {
		return false
	}
	_, err := exec.LookPath(command)
	return err == nil
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		switch {
		case cmd == "":
			status.Detail = "command not configured"
		case !Available(cmd):
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
		default:
			status.Available = true
		}
		results = append(results, status)
	}
	return results
}
