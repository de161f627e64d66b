package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"isoforge/internal/config"
	"isoforge/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	device     string
	deviceSize int64
}

// setupCLITestEnv writes a config whose lsblk stub reports a system NVMe
// disk plus one removable drive backed by a regular file.
func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	homeDir := t.TempDir()
	t.Setenv("HOME", homeDir)

	const deviceSize = 1 << 20
	devicePath := testsupport.FakeDevice(t, deviceSize)

	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinary("lsblk", lsblkOutput(devicePath, deviceSize)))
	configPath := filepath.Join(homeDir, ".config", "isoforge", "config.toml")
	writeTestConfig(t, configPath, cfg)

	return &cliTestEnv{
		cfg:        cfg,
		configPath: configPath,
		device:     devicePath,
		deviceSize: deviceSize,
	}
}

func lsblkOutput(devicePath string, size int64) string {
	var b strings.Builder
	b.WriteString(`NAME="/dev/nvme0n1" PKNAME="" TYPE="disk" SIZE="512110190592" RM="0" HOTPLUG="0" RO="0" TRAN="nvme" VENDOR="" MODEL="Samsung SSD 980" SERIAL="S5GX" MOUNTPOINT=""` + "\n")
	b.WriteString(`NAME="/dev/nvme0n1p1" PKNAME="/dev/nvme0n1" TYPE="part" SIZE="511571492864" RM="0" HOTPLUG="0" RO="0" TRAN="" VENDOR="" MODEL="" SERIAL="" MOUNTPOINT="/"` + "\n")
	fmt.Fprintf(&b, `NAME=%q PKNAME="" TYPE="disk" SIZE="%d" RM="1" HOTPLUG="1" RO="0" TRAN="usb" VENDOR="Kingston" MODEL="DataTraveler" SERIAL="KT001" MOUNTPOINT=""`+"\n", devicePath, size)
	return b.String()
}

func runCLI(t *testing.T, stdin string, configPath string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func requireNotContains(t *testing.T, output, substr string) {
	t.Helper()
	if strings.Contains(output, substr) {
		t.Fatalf("expected %q not to contain %q", output, substr)
	}
}
