package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"isoforge/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Retry delays and block sizes are shrunk so engine tests run quickly.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.CacheDir = filepath.Join(base, "cache")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Download.BackoffInitialMS = 1
	cfgVal.Download.BackoffMaxMS = 5
	cfgVal.Download.ChunkSize = 4096
	cfgVal.Download.RequestTimeout = 5
	cfgVal.Flash.BlockSize = 4096
	cfgVal.Flash.SyncInterval = 16384
	cfgVal.Devices.Source = "lsblk"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return builder.cfg
}

// WithBlockSize overrides the flash block size and keeps the sync interval
// at four blocks.
func WithBlockSize(size int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Flash.BlockSize = size
		b.cfg.Flash.SyncInterval = 4 * size
	}
}

// WithMaxAttempts overrides the download retry budget.
func WithMaxAttempts(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Download.MaxAttempts = n
	}
}

// WithProtectedMounts adds mountpoints whose disks are never targets.
func WithProtectedMounts(mounts ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Devices.ProtectedMounts = append(b.cfg.Devices.ProtectedMounts, mounts...)
	}
}

// WithStubbedBinary writes a stub executable that prints body to stdout and
// prepends its directory to PATH.
func WithStubbedBinary(name, body string) ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		dataPath := filepath.Join(binDir, name+".out")
		if err := os.WriteFile(dataPath, []byte(body), 0o644); err != nil {
			b.t.Fatalf("write stub output %s: %v", name, err)
		}
		script := []byte("#!/bin/sh\ncat '" + dataPath + "'\n")
		if err := os.WriteFile(filepath.Join(binDir, name), script, 0o755); err != nil {
			b.t.Fatalf("write stub %s: %v", name, err)
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.CacheDir)
}
