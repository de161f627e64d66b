// Package faults defines the error taxonomy shared by the downloader, device
// enumerator and flash engine.
//
// Every failure the engine surfaces is an *Error tagged with a Kind. Callers
// match kinds with errors.Is against the exported sentinels (ErrDeviceBusy,
// ErrChecksumMismatch, ...) and read the structured fields (expected vs.
// actual digest, device ID, phase) to render remediation. UnsafeTarget errors
// also carry a Reason; Unsafely(reason) builds a sentinel for a specific one.
package faults
