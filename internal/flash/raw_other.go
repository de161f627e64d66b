//go:build !linux

package flash

import (
	"io"
	"os"

	"isoforge/internal/faults"
)

type rawOpener struct{}

func (rawOpener) OpenWrite(path string) (WriteTarget, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, faults.IO(string(PhaseWriting), path, "open device", err)
	}
	return fileDevice{f}, nil
}

func (rawOpener) OpenRead(path string) (io.ReadCloser, error) {
	return os.Open(path)
}

type fileDevice struct{ *os.File }

func (d fileDevice) Size() (int64, error) {
	info, err := d.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
