package flash

import "io"

// WriteTarget is a device opened for writing.
type WriteTarget interface {
	io.WriterAt
	// Sync flushes written data to the medium.
	Sync() error
	// Size reports the device capacity in bytes.
	Size() (int64, error)
	Close() error
}

// Opener opens raw devices. The default implementation uses exclusive
// block-device semantics; tests substitute their own.
type Opener interface {
	OpenWrite(path string) (WriteTarget, error)
	// OpenRead returns a reader positioned at offset zero that bypasses
	// cached pages of earlier writes where the platform allows it.
	OpenRead(path string) (io.ReadCloser, error)
}
