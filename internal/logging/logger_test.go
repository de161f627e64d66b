package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"isoforge/internal/config"
	"isoforge/internal/logging"
)

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = filepath.Join(t.TempDir(), "logs")

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("engine ready")

	content, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "isoforge.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "engine ready") {
		t.Fatalf("expected message in log file, got %q", content)
	}
}

func TestConsoleLoggerLiftsComponentAndOmitsSourceAtInfo(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logging.NewComponentLogger(logger, "flash").Info("block written",
		logging.String(logging.FieldDevice, "/dev/sdb"),
		logging.String("label", "SanDisk Ultra"),
	)

	line := buf.String()
	if !strings.Contains(line, " INFO flash: block written") {
		t.Fatalf("expected component prefix, got %q", line)
	}
	if !strings.Contains(line, `label="SanDisk Ultra"`) {
		t.Fatalf("expected quoted value, got %q", line)
	}
	if strings.Contains(line, "component=") {
		t.Fatalf("component should not repeat as a field: %q", line)
	}
	if strings.Contains(line, ".go:") {
		t.Fatalf("expected no source at info level, got %q", line)
	}
}

func TestJSONLoggerUsesShortKeys(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Warn("retrying", logging.Error(errors.New("timeout")))

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("decode json: %v (%q)", err, buf.String())
	}
	if payload["level"] != "warn" {
		t.Fatalf("unexpected level: %v", payload["level"])
	}
	if _, ok := payload["ts"]; !ok {
		t.Fatalf("expected ts key: %v", payload)
	}
	if payload["error"] != "timeout" {
		t.Fatalf("unexpected error field: %v", payload["error"])
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml", Writer: &bytes.Buffer{}}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Level: "warn", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("hidden")
	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below warn, got %q", buf.String())
	}
}

func TestWithContextAddsJobFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	ctx := logging.WithDevice(logging.WithJobID(context.Background(), "job-1"), "/dev/sdc")
	logging.WithContext(ctx, logger).Info("started")

	line := buf.String()
	for _, want := range []string{"job_id=job-1", "device=/dev/sdc"} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %q", want, line)
		}
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.WarnWithContext(logger, "sidecar discarded", "download_state_invalid",
		logging.String(logging.FieldErrorHint, "nothing to do"),
	)
	line := buf.String()
	for _, want := range []string{"event_type=download_state_invalid", `error_hint="nothing to do"`, "impact="} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %q", want, line)
		}
	}
	logging.WarnWithContext(nil, "ignored", "noop")
}

func TestErrorKindOmittedWhenEmpty(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.ErrorWithContext(logger, "flash job failed", "job_failed", logging.ErrorKind("VerifyFailed"))
	logging.ErrorWithContext(logger, "flash job failed", "job_failed", logging.ErrorKind(""))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", buf.String())
	}
	if !strings.Contains(lines[0], "error_kind=VerifyFailed") {
		t.Fatalf("expected kind in %q", lines[0])
	}
	if strings.Contains(lines[1], "error_kind") {
		t.Fatalf("empty kind should be dropped: %q", lines[1])
	}
	if !strings.Contains(lines[1], "error_hint=") {
		t.Fatalf("expected default hint in %q", lines[1])
	}
}
