package device

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

var lsblkColumns = []string{
	"NAME", "PKNAME", "TYPE", "SIZE", "RM", "HOTPLUG", "RO", "TRAN", "VENDOR", "MODEL", "SERIAL", "MOUNTPOINT",
}

// commandRunner executes a binary and returns its stdout.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// lsblkSource enumerates disks from `lsblk -P -b -p` key/value output.
type lsblkSource struct {
	timeout time.Duration
	run     commandRunner
}

func (s lsblkSource) list(ctx context.Context) ([]BlockDevice, error) {
	runCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	run := s.run
	if run == nil {
		run = execRunner
	}
	output, err := run(runCtx, "lsblk", "-P", "-b", "-p", "-o", strings.Join(lsblkColumns, ","))
	if err != nil {
		return nil, fmt.Errorf("failed to run lsblk: %w", err)
	}
	return parseLSBLK(string(output))
}

// parseLSBLK folds partition and holder rows into their parent disks. A
// mountpoint on any descendant (partition, crypt or LVM volume) is attributed
// to every disk it descends from.
func parseLSBLK(output string) ([]BlockDevice, error) {
	type row struct {
		name, parent, kind, mount string
		fields                    map[string]string
	}
	var rows []row
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		data, err := parseKeyValueLine(line)
		if err != nil {
			return nil, err
		}
		if data["NAME"] == "" {
			continue
		}
		rows = append(rows, row{
			name:   data["NAME"],
			parent: data["PKNAME"],
			kind:   data["TYPE"],
			mount:  data["MOUNTPOINT"],
			fields: data,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	// A name can appear under several parents (LVM spanning disks).
	parents := make(map[string][]string)
	for _, r := range rows {
		if r.parent != "" {
			parents[r.name] = appendUnique(parents[r.name], r.parent)
		}
	}

	disks := make(map[string]*BlockDevice)
	var order []string
	for _, r := range rows {
		if r.kind != "disk" || skipName(r.name) {
			continue
		}
		if _, seen := disks[r.name]; seen {
			continue
		}
		size, _ := strconv.ParseInt(r.fields["SIZE"], 10, 64)
		dev := &BlockDevice{
			ID:        r.name,
			Size:      size,
			Removable: r.fields["RM"] == "1" || r.fields["HOTPLUG"] == "1",
			ReadOnly:  r.fields["RO"] == "1",
			Vendor:    strings.TrimSpace(r.fields["VENDOR"]),
			Model:     strings.TrimSpace(r.fields["MODEL"]),
			Serial:    strings.TrimSpace(r.fields["SERIAL"]),
			Transport: strings.TrimSpace(r.fields["TRAN"]),
		}
		dev.Label = describe(dev.ID, dev.Vendor, dev.Model, dev.Size)
		disks[r.name] = dev
		order = append(order, r.name)
	}

	for _, r := range rows {
		if r.mount == "" {
			continue
		}
		for _, disk := range ancestors(r.name, parents) {
			if dev, ok := disks[disk]; ok {
				dev.Mountpoints = appendUnique(dev.Mountpoints, r.mount)
			}
		}
	}

	out := make([]BlockDevice, 0, len(order))
	for _, name := range order {
		out = append(out, *disks[name])
	}
	return out, nil
}

// ancestors returns name and everything above it in the device tree.
func ancestors(name string, parents map[string][]string) []string {
	seen := map[string]bool{}
	queue := []string{name}
	var out []string
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if seen[current] {
			continue
		}
		seen[current] = true
		out = append(out, current)
		queue = append(queue, parents[current]...)
	}
	return out
}

func appendUnique(values []string, value string) []string {
	for _, existing := range values {
		if existing == value {
			return values
		}
	}
	return append(values, value)
}

// parseKeyValueLine parses one `lsblk -P` line: KEY="value" pairs separated
// by spaces. Values may contain spaces and \xNN escapes.
func parseKeyValueLine(line string) (map[string]string, error) {
	result := make(map[string]string)
	i := 0
	for i < len(line) {
		for i < len(line) && line[i] == ' ' {
			i++
		}
		if i >= len(line) {
			break
		}
		eq := strings.IndexByte(line[i:], '=')
		if eq < 0 {
			return nil, fmt.Errorf("lsblk: malformed field at %q", line[i:])
		}
		key := line[i : i+eq]
		i += eq + 1
		if i >= len(line) || line[i] != '"' {
			return nil, fmt.Errorf("lsblk: unquoted value for %s", key)
		}
		i++
		var value strings.Builder
		closed := false
		for i < len(line) {
			c := line[i]
			if c == '"' {
				closed = true
				i++
				break
			}
			if c == '\\' && i+3 < len(line) && line[i+1] == 'x' {
				if b, err := strconv.ParseUint(line[i+2:i+4], 16, 8); err == nil {
					value.WriteByte(byte(b))
					i += 4
					continue
				}
			}
			value.WriteByte(c)
			i++
		}
		if !closed {
			return nil, fmt.Errorf("lsblk: unterminated value for %s", key)
		}
		result[key] = value.String()
	}
	return result, nil
}
