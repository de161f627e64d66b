package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	CacheDir string `toml:"cache_dir"`
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
}

// Download contains configuration for remote image acquisition.
type Download struct {
	MaxAttempts      int    `toml:"max_attempts"`
	BackoffInitialMS int    `toml:"backoff_initial_ms"`
	BackoffMaxMS     int    `toml:"backoff_max_ms"`
	ChunkSize        int    `toml:"chunk_size"`
	RequestTimeout   int    `toml:"request_timeout"`
	UserAgent        string `toml:"user_agent"`
}

// Flash contains configuration for the device write loop.
type Flash struct {
	BlockSize    int `toml:"block_size"`
	SyncInterval int `toml:"sync_interval"`
}

// Devices contains configuration for block device discovery.
type Devices struct {
	// Source selects the enumeration backend: "auto", "lsblk" or "ghw".
	Source string `toml:"source"`
	// LsblkTimeout bounds each lsblk invocation, in seconds.
	LsblkTimeout int `toml:"lsblk_timeout"`
	// ProtectedMounts are mountpoints, in addition to the root and boot
	// mounts, whose backing disk is never a valid target.
	ProtectedMounts []string `toml:"protected_mounts"`
}

// Events contains configuration for per-job progress delivery.
type Events struct {
	Buffer int `toml:"buffer"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for isoforge.
//
// Configuration sections by subsystem:
//   - Paths: image cache, state (history database) and log directories
//   - Download: retry, chunking and HTTP settings for remote images
//   - Flash: block size and sync cadence for device writes
//   - Devices: enumeration backend and extra protected mountpoints
//   - Events: per-subscriber progress buffer
//   - Logging: log format and level
type Config struct {
	Paths    Paths    `toml:"paths"`
	Download Download `toml:"download"`
	Flash    Flash    `toml:"flash"`
	Devices  Devices  `toml:"devices"`
	Events   Events   `toml:"events"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/isoforge/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("isoforge.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the cache, state and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.CacheDir, c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// HistoryPath returns the location of the job history database.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Paths.StateDir, "history.db")
}

// RequestTimeout returns the HTTP response header timeout for downloads.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Download.RequestTimeout) * time.Second
}

// Backoff returns the initial and maximum retry delay for downloads.
func (c *Config) Backoff() (time.Duration, time.Duration) {
	return time.Duration(c.Download.BackoffInitialMS) * time.Millisecond,
		time.Duration(c.Download.BackoffMaxMS) * time.Millisecond
}

// LsblkTimeout returns the per-invocation lsblk timeout.
func (c *Config) LsblkTimeout() time.Duration {
	return time.Duration(c.Devices.LsblkTimeout) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func defaultCacheDir() string {
	if base, ok := os.LookupEnv("XDG_CACHE_HOME"); ok && strings.TrimSpace(base) != "" {
		return filepath.Join(base, "isoforge", "images")
	}
	return "~/.cache/isoforge/images"
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
