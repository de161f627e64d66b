//go:build linux

package flash

import (
	"errors"
	"io"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"isoforge/internal/faults"
)

type rawOpener struct{}

// OpenWrite opens path with O_EXCL, which the kernel refuses with EBUSY for a
// block device that is mounted or held by another exclusive opener. A BSD
// flock keeps udev from probing the disk while it is rewritten.
func (rawOpener) OpenWrite(path string) (WriteTarget, error) {
	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_EXCL|unix.O_CLOEXEC, 0)
	if err != nil {
		if errors.Is(err, unix.EBUSY) {
			busy := faults.New(faults.KindDeviceBusy, "device is mounted or in use by another process", err)
			busy.DeviceID = path
			return nil, busy
		}
		return nil, faults.IO(string(PhaseWriting), path, "open device", err)
	}
	_ = unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB)
	return &rawDevice{file: os.NewFile(uintptr(fd), path), fd: fd}, nil
}

func (rawOpener) OpenRead(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	// Drop cached pages so the digest reflects what reached the medium.
	_ = unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_DONTNEED)
	return f, nil
}

type rawDevice struct {
	file *os.File
	fd   int
}

func (d *rawDevice) WriteAt(p []byte, off int64) (int, error) {
	return d.file.WriteAt(p, off)
}

func (d *rawDevice) Sync() error {
	if err := unix.Fdatasync(d.fd); err != nil {
		return err
	}
	_ = unix.Fadvise(d.fd, 0, 0, unix.FADV_DONTNEED)
	return nil
}

func (d *rawDevice) Size() (int64, error) {
	var st unix.Stat_t
	if err := unix.Fstat(d.fd, &st); err != nil {
		return 0, err
	}
	if st.Mode&unix.S_IFMT != unix.S_IFBLK {
		return st.Size, nil
	}
	var size uint64
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&size))); errno != 0 {
		return 0, errno
	}
	return int64(size), nil
}

func (d *rawDevice) Close() error {
	return d.file.Close()
}
