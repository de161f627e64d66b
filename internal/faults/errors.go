package faults

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an engine failure so callers can pick a remediation.
type Kind string

const (
	KindDownloadFailed    Kind = "DownloadFailed"
	KindChecksumMismatch  Kind = "ChecksumMismatch"
	KindUnsafeTarget      Kind = "UnsafeTarget"
	KindDeviceBusy        Kind = "DeviceBusy"
	KindDestinationLocked Kind = "DestinationLocked"
	KindIOError           Kind = "IOError"
	KindVerifyFailed      Kind = "VerifyFailed"
	KindCancelled         Kind = "Cancelled"
)

// Reason refines UnsafeTarget failures.
type Reason string

const (
	ReasonSystemDisk   Reason = "SystemDisk"
	ReasonNotRemovable Reason = "NotRemovable"
	ReasonTooSmall     Reason = "TooSmall"
	ReasonNotFound     Reason = "NotFound"
)

var (
	ErrDownloadFailed    = &Error{Kind: KindDownloadFailed}
	ErrChecksumMismatch  = &Error{Kind: KindChecksumMismatch}
	ErrUnsafeTarget      = &Error{Kind: KindUnsafeTarget}
	ErrDeviceBusy        = &Error{Kind: KindDeviceBusy}
	ErrDestinationLocked = &Error{Kind: KindDestinationLocked}
	ErrIOError           = &Error{Kind: KindIOError}
	ErrVerifyFailed      = &Error{Kind: KindVerifyFailed}
	ErrCancelled         = &Error{Kind: KindCancelled}
)

// Error carries the structured detail a presentation layer needs to render an
// actionable message. Only the fields relevant to Kind are populated.
type Error struct {
	Kind     Kind
	Reason   Reason
	Phase    string
	DeviceID string
	Path     string
	URL      string
	Expected string
	Actual   string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Reason != "" {
		b.WriteByte(':')
		b.WriteString(string(e.Reason))
	}
	detail := e.detail()
	if detail != "" {
		b.WriteString(": ")
		b.WriteString(detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) detail() string {
	parts := make([]string, 0, 5)
	if e.Phase != "" {
		parts = append(parts, "phase "+e.Phase)
	}
	if e.DeviceID != "" {
		parts = append(parts, "device "+e.DeviceID)
	}
	if e.Path != "" {
		parts = append(parts, "path "+e.Path)
	}
	if e.Expected != "" || e.Actual != "" {
		parts = append(parts, fmt.Sprintf("expected %s, got %s", e.Expected, e.Actual))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches on Kind, and on Reason when the target names one, so the
// exported sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || t == nil || e == nil {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// New builds an Error of the given kind wrapping cause.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// Unsafe builds an UnsafeTarget error for the device.
func Unsafe(reason Reason, deviceID, message string) *Error {
	return &Error{Kind: KindUnsafeTarget, Reason: reason, DeviceID: deviceID, Message: message}
}

// Unsafely returns a sentinel matching UnsafeTarget errors with reason.
func Unsafely(reason Reason) error {
	return &Error{Kind: KindUnsafeTarget, Reason: reason}
}

// Mismatch builds a ChecksumMismatch error carrying both digests.
func Mismatch(path, expected, actual string) *Error {
	return &Error{Kind: KindChecksumMismatch, Path: path, Expected: expected, Actual: actual}
}

// IO wraps an unexpected device or filesystem fault.
func IO(phase, deviceID, operation string, cause error) *Error {
	return &Error{Kind: KindIOError, Phase: phase, DeviceID: deviceID, Message: operation, Err: cause}
}

// KindOf reports the Kind of err, or "" when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) && e != nil {
		return e.Kind
	}
	return ""
}

// WithPhase stamps phase and device onto err when it is an *Error lacking them.
func WithPhase(err error, phase, deviceID string) error {
	var e *Error
	if !errors.As(err, &e) || e == nil {
		return err
	}
	if e.Phase == "" {
		e.Phase = phase
	}
	if e.DeviceID == "" {
		e.DeviceID = deviceID
	}
	return err
}
