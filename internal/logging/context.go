package logging

import (
	"context"
	"log/slog"
	"strings"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldJobID identifies a flash job.
	FieldJobID = "job_id"
	// FieldDevice is the stable device identifier (e.g. /dev/sdb).
	FieldDevice = "device"
	// FieldPhase is the flash job phase or download stage.
	FieldPhase = "phase"
	// FieldURL is the remote image location.
	FieldURL = "url"
	// FieldPath is a local file path.
	FieldPath = "path"
	// FieldEventType is a short machine-readable tag for the logged event.
	FieldEventType = "event_type"
	// FieldErrorHint tells the operator what to do next.
	FieldErrorHint = "error_hint"
	// FieldImpact is the user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldErrorKind is the fault taxonomy entry of a failure.
	FieldErrorKind = "error_kind"
)

type contextKey string

const (
	jobIDKey  contextKey = "job_id"
	deviceKey contextKey = "device"
)

// WithJobID returns a context carrying the flash job identifier.
func WithJobID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, jobIDKey, strings.TrimSpace(id))
}

// JobIDFromContext extracts the job identifier from ctx.
func JobIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(jobIDKey).(string)
	return id, ok && id != ""
}

// WithDevice returns a context carrying the target device identifier.
func WithDevice(ctx context.Context, device string) context.Context {
	return context.WithValue(ctx, deviceKey, strings.TrimSpace(device))
}

// DeviceFromContext extracts the device identifier from ctx.
func DeviceFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	device, ok := ctx.Value(deviceKey).(string)
	return device, ok && device != ""
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	fields := make([]slog.Attr, 0, 2)
	if id, ok := JobIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldJobID, id))
	}
	if device, ok := DeviceFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldDevice, device))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
