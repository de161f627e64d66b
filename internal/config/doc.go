// Package config loads, normalizes, and validates isoforge configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours the ISOFORGE_CACHE_DIR environment
// override. The Config type centralizes every knob the engine and CLI need:
// where images are cached, how downloads retry, how large write blocks are and
// how often they are synced.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
