// Package logging assembles structured slog loggers and formatting helpers used
// across isoforge.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes context helpers so engine code can tag log lines with
// job IDs and device identifiers. The package also provides a no-op logger
// for tests and a progress sampler that keeps byte-level progress from
// flooding the log.
package logging
