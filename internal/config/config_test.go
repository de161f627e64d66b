package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"isoforge/internal/config"
)

func isolateHome(t *testing.T) string {
	t.Helper()
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("XDG_CACHE_HOME", "")
	t.Setenv("ISOFORGE_CACHE_DIR", "")
	return tempHome
}

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := isolateHome(t)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved != filepath.Join(tempHome, ".config", "isoforge", "config.toml") {
		t.Fatalf("unexpected resolved path: %q", resolved)
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantCache := filepath.Join(tempHome, ".cache", "isoforge", "images")
	if cfg.Paths.CacheDir != wantCache {
		t.Fatalf("unexpected cache dir: got %q want %q", cfg.Paths.CacheDir, wantCache)
	}
	if cfg.Paths.StateDir != filepath.Join(tempHome, ".local", "share", "isoforge") {
		t.Fatalf("unexpected state dir: %q", cfg.Paths.StateDir)
	}
	if cfg.HistoryPath() != filepath.Join(cfg.Paths.StateDir, "history.db") {
		t.Fatalf("unexpected history path: %q", cfg.HistoryPath())
	}
	if cfg.Devices.Source != "auto" {
		t.Fatalf("unexpected device source: %q", cfg.Devices.Source)
	}
	if cfg.Flash.BlockSize != 4<<20 {
		t.Fatalf("unexpected block size: %d", cfg.Flash.BlockSize)
	}
	if cfg.LsblkTimeout() != 10*time.Second {
		t.Fatalf("unexpected lsblk timeout: %s", cfg.LsblkTimeout())
	}
	initial, maxDelay := cfg.Backoff()
	if initial != 500*time.Millisecond || maxDelay != 30*time.Second {
		t.Fatalf("unexpected backoff: %s/%s", initial, maxDelay)
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempHome := isolateHome(t)

	payload := struct {
		Paths struct {
			CacheDir string `toml:"cache_dir"`
			StateDir string `toml:"state_dir"`
		} `toml:"paths"`
		Flash struct {
			BlockSize int `toml:"block_size"`
		} `toml:"flash"`
		Devices struct {
			Source          string   `toml:"source"`
			ProtectedMounts []string `toml:"protected_mounts"`
		} `toml:"devices"`
		Logging struct {
			Format string `toml:"format"`
		} `toml:"logging"`
	}{}
	payload.Paths.CacheDir = "~/isos"
	payload.Paths.StateDir = filepath.Join(tempHome, "state")
	payload.Flash.BlockSize = 1 << 20
	payload.Devices.Source = " LSBLK "
	payload.Devices.ProtectedMounts = []string{"/srv", " /srv ", "", "/home"}
	payload.Logging.Format = "JSON"

	data, err := toml.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	configPath := filepath.Join(tempHome, "custom.toml")
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: %q", resolved)
	}
	if cfg.Paths.CacheDir != filepath.Join(tempHome, "isos") {
		t.Fatalf("unexpected cache dir: %q", cfg.Paths.CacheDir)
	}
	if cfg.Flash.BlockSize != 1<<20 {
		t.Fatalf("unexpected block size: %d", cfg.Flash.BlockSize)
	}
	if cfg.Devices.Source != "lsblk" {
		t.Fatalf("expected normalized source, got %q", cfg.Devices.Source)
	}
	if strings.Join(cfg.Devices.ProtectedMounts, ",") != "/srv,/home" {
		t.Fatalf("unexpected protected mounts: %v", cfg.Devices.ProtectedMounts)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected normalized log format, got %q", cfg.Logging.Format)
	}
	if cfg.Download.MaxAttempts != config.Default().Download.MaxAttempts {
		t.Fatalf("expected unset keys to keep defaults, got %d", cfg.Download.MaxAttempts)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.CacheDir, cfg.Paths.StateDir, cfg.Paths.LogDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
	}
}

func TestEnvVarOverridesCacheDir(t *testing.T) {
	tempHome := isolateHome(t)
	override := filepath.Join(tempHome, "override")
	t.Setenv("ISOFORGE_CACHE_DIR", override)

	configPath := filepath.Join(tempHome, "config.toml")
	if err := os.WriteFile(configPath, []byte("[paths]\ncache_dir = \"/var/cache/isoforge\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Paths.CacheDir != override {
		t.Fatalf("expected env override, got %q", cfg.Paths.CacheDir)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	tempHome := isolateHome(t)
	configPath := filepath.Join(tempHome, "broken.toml")
	if err := os.WriteFile(configPath, []byte("[flash\nblock_size = "), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(configPath); err == nil || !strings.Contains(err.Error(), "parse config") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}

	// Validate it decodes
	cfg := config.Default()
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if !strings.Contains(cfg.Paths.CacheDir, "isoforge") {
		t.Fatalf("expected cache dir to contain isoforge, got %q", cfg.Paths.CacheDir)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("sample config does not validate: %v", err)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	cases := map[string]func(*config.Config){
		"zero attempts":          func(c *config.Config) { c.Download.MaxAttempts = 0 },
		"backoff inverted":       func(c *config.Config) { c.Download.BackoffMaxMS = c.Download.BackoffInitialMS - 1 },
		"unaligned block":        func(c *config.Config) { c.Flash.BlockSize = 1000 },
		"sync below block":       func(c *config.Config) { c.Flash.SyncInterval = c.Flash.BlockSize / 2 },
		"unknown source":         func(c *config.Config) { c.Devices.Source = "udisks" },
		"relative mount":         func(c *config.Config) { c.Devices.ProtectedMounts = []string{"home"} },
		"zero event buffer":      func(c *config.Config) { c.Events.Buffer = 0 },
		"unknown log format":     func(c *config.Config) { c.Logging.Format = "xml" },
		"non-positive lsblk ttl": func(c *config.Config) { c.Devices.LsblkTimeout = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := config.Default()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}
