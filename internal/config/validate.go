package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateDownload(); err != nil {
		return err
	}
	if err := c.validateFlash(); err != nil {
		return err
	}
	if err := c.validateDevices(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if c.Events.Buffer <= 0 {
		return errors.New("events.buffer must be positive")
	}
	return nil
}

func (c *Config) validateDownload() error {
	if err := ensurePositiveMap(map[string]int{
		"download.max_attempts":       c.Download.MaxAttempts,
		"download.backoff_initial_ms": c.Download.BackoffInitialMS,
		"download.backoff_max_ms":     c.Download.BackoffMaxMS,
		"download.chunk_size":         c.Download.ChunkSize,
		"download.request_timeout":    c.Download.RequestTimeout,
	}); err != nil {
		return err
	}
	if c.Download.BackoffMaxMS < c.Download.BackoffInitialMS {
		return errors.New("download.backoff_max_ms must not be less than download.backoff_initial_ms")
	}
	return nil
}

func (c *Config) validateFlash() error {
	if err := ensurePositiveMap(map[string]int{
		"flash.block_size":    c.Flash.BlockSize,
		"flash.sync_interval": c.Flash.SyncInterval,
	}); err != nil {
		return err
	}
	if c.Flash.BlockSize%512 != 0 {
		return errors.New("flash.block_size must be a multiple of 512 bytes")
	}
	if c.Flash.SyncInterval < c.Flash.BlockSize {
		return errors.New("flash.sync_interval must be at least flash.block_size")
	}
	return nil
}

func (c *Config) validateDevices() error {
	switch c.Devices.Source {
	case "auto", "lsblk", "ghw":
	default:
		return fmt.Errorf("devices.source: unsupported value %q (want auto, lsblk or ghw)", c.Devices.Source)
	}
	if c.Devices.LsblkTimeout <= 0 {
		return errors.New("devices.lsblk_timeout must be positive (seconds)")
	}
	for _, mount := range c.Devices.ProtectedMounts {
		if !filepath.IsAbs(mount) {
			return fmt.Errorf("devices.protected_mounts: %q is not an absolute path", mount)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
