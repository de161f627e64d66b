package flash

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"isoforge/internal/checksum"
	"isoforge/internal/download"
	"isoforge/internal/events"
	"isoforge/internal/faults"
	"isoforge/internal/logging"
)

// image is a local, verified copy of the source.
type image struct {
	path string
	size int64
	algo checksum.Algorithm
}

func (e *Engine) run(ctx context.Context, j *job, opts Options) {
	phase, err := e.execute(ctx, j, opts)
	e.finish(j, phase, err)
}

// execute drives the job to the point of a terminal phase and returns it.
func (e *Engine) execute(ctx context.Context, j *job, opts Options) (Phase, error) {
	if err := j.advance(PhasePreparing, "resolving image"); err != nil {
		return PhaseFailed, err
	}
	img, err := e.prepare(ctx, j)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, faults.ErrCancelled) {
			return PhaseCancelled, cancelled(ctx, PhasePreparing)
		}
		return PhaseFailed, err
	}
	if ctx.Err() != nil {
		return PhaseCancelled, cancelled(ctx, PhasePreparing)
	}

	if err := j.advance(PhaseWriting, "writing image"); err != nil {
		return PhaseFailed, err
	}
	digest, err := e.write(ctx, j, img, opts)
	if err != nil {
		if errors.Is(err, faults.ErrCancelled) {
			return PhaseCancelled, err
		}
		return PhaseFailed, err
	}

	if err := j.advance(PhaseVerifying, "verifying device contents"); err != nil {
		return PhaseFailed, err
	}
	if err := e.verify(ctx, j, img, digest); err != nil {
		return PhaseFailed, err
	}
	return PhaseDone, nil
}

func cancelled(ctx context.Context, phase Phase) *faults.Error {
	err := faults.New(faults.KindCancelled, "job cancelled", context.Cause(ctx))
	err.Phase = string(phase)
	return err
}

// prepare resolves the source to a verified local file and re-checks the
// target against a fresh device listing.
func (e *Engine) prepare(ctx context.Context, j *job) (image, error) {
	snap := j.snapshot()
	src := snap.Source
	img := image{path: src.Path, algo: src.Checksum.Algorithm}
	if img.algo == "" {
		img.algo = checksum.Default
	}

	if src.Remote() {
		img.path = filepath.Join(e.cfg.Paths.CacheDir, cacheName(src.URL))
		j.logger.Info("fetching image",
			logging.String(logging.FieldURL, src.URL),
			logging.String(logging.FieldPath, img.path),
		)
		state, err := e.fetcher.Fetch(ctx, download.Request{
			URL:          src.URL,
			Dest:         img.path,
			Checksum:     src.Checksum,
			ExpectedSize: src.ExpectedSize,
			Progress: func(done, total int64) {
				j.progress(PhasePreparing, events.StageDownload, done, total)
			},
		})
		if err != nil {
			return image{}, err
		}
		img.size = state.BytesDownloaded
	} else {
		info, err := os.Stat(img.path)
		if err != nil {
			return image{}, faults.IO(string(PhasePreparing), "", "stat image", err)
		}
		img.size = info.Size()
		if !src.Checksum.IsZero() {
			if err := e.verifySource(ctx, j, img, src.Checksum); err != nil {
				return image{}, err
			}
		}
	}

	if img.size == 0 {
		return image{}, faults.IO(string(PhasePreparing), "", "image is empty", nil)
	}
	if src.ExpectedSize > 0 && img.size != src.ExpectedSize {
		mismatch := faults.Mismatch(img.path, fmt.Sprintf("%d bytes", src.ExpectedSize), fmt.Sprintf("%d bytes", img.size))
		mismatch.Message = "image size differs from the declared size"
		return image{}, mismatch
	}
	j.setImage(img.path, img.size)

	dev, err := e.devices.Find(ctx, j.lockID)
	if err == nil {
		err = e.devices.ValidateTarget(dev, img.size)
	}
	if err != nil {
		return image{}, err
	}
	j.setDevice(dev)
	return img, nil
}

func (e *Engine) verifySource(ctx context.Context, j *job, img image, sum checksum.Sum) error {
	f, err := os.Open(img.path)
	if err != nil {
		return faults.IO(string(PhasePreparing), "", "open image", err)
	}
	defer f.Close()

	r := &progressReader{ctx: ctx, r: f, report: func(done int64) {
		j.progress(PhasePreparing, events.StageChecksum, done, img.size)
	}}
	computed, err := checksum.Digest(r, sum.Algorithm)
	if err != nil {
		if ctx.Err() != nil {
			return cancelled(ctx, PhasePreparing)
		}
		return faults.IO(string(PhasePreparing), "", "read image", err)
	}
	return checksum.Compare(sum, computed, img.path)
}

// write copies the image onto the device block by block and returns the
// digest of the bytes written. Block zero is held back and written last.
func (e *Engine) write(ctx context.Context, j *job, img image, opts Options) (string, error) {
	deviceID := j.snapshot().Device.ID

	src, err := os.Open(img.path)
	if err != nil {
		return "", faults.IO(string(PhaseWriting), deviceID, "open image", err)
	}
	defer src.Close()

	target, err := e.opener.OpenWrite(deviceID)
	if err != nil {
		if faults.KindOf(err) == "" {
			err = faults.IO(string(PhaseWriting), deviceID, "open device", err)
		}
		return "", err
	}
	defer target.Close()

	if capacity, err := target.Size(); err == nil && capacity > 0 && capacity < img.size {
		return "", faults.Unsafe(faults.ReasonTooSmall, deviceID,
			fmt.Sprintf("device reports %d bytes, image needs %d", capacity, img.size))
	}
	j.markTouched()

	hasher, err := checksum.NewHash(img.algo)
	if err != nil {
		return "", err
	}

	blockSize := int64(opts.BlockSize)
	buf := make([]byte, blockSize)
	var (
		head      []byte
		offset    int64
		written   int64
		sinceSync int64
	)
	for offset < img.size {
		if ctx.Err() != nil {
			return "", e.abortWrite(ctx, j, target, deviceID, min(blockSize, img.size))
		}
		n := min(blockSize, img.size-offset)
		if _, err := io.ReadFull(src, buf[:n]); err != nil {
			return "", faults.IO(string(PhaseWriting), deviceID, "read image", err)
		}
		_, _ = hasher.Write(buf[:n])

		if offset == 0 {
			head = append([]byte(nil), buf[:n]...)
		} else {
			if _, err := target.WriteAt(buf[:n], offset); err != nil {
				return "", faults.IO(string(PhaseWriting), deviceID, fmt.Sprintf("write block at %d", offset), err)
			}
			written += n
			sinceSync += n
		}
		offset += n

		if sinceSync >= int64(opts.SyncInterval) {
			if err := target.Sync(); err != nil {
				return "", faults.IO(string(PhaseWriting), deviceID, "sync device", err)
			}
			sinceSync = 0
			j.progress(PhaseWriting, events.StageSync, written, img.size)
		}
		j.setWritten(written)
		j.progress(PhaseWriting, events.StageWrite, written, img.size)
	}

	if ctx.Err() != nil {
		return "", e.abortWrite(ctx, j, target, deviceID, int64(len(head)))
	}
	if _, err := target.WriteAt(head, 0); err != nil {
		return "", faults.IO(string(PhaseWriting), deviceID, "write first block", err)
	}
	written += int64(len(head))
	if err := target.Sync(); err != nil {
		return "", faults.IO(string(PhaseWriting), deviceID, "sync device", err)
	}
	j.setWritten(written)
	j.progress(PhaseWriting, events.StageSync, written, img.size)

	digest := hex.EncodeToString(hasher.Sum(nil))
	if declared := j.snapshot().Source.Checksum; !declared.IsZero() {
		// The image changed between verification and writing.
		if err := checksum.Compare(declared, digest, img.path); err != nil {
			return "", err
		}
	}
	return digest, nil
}

// abortWrite zeroes the first block so the device cannot pass for a complete
// image, then reports the cancellation.
func (e *Engine) abortWrite(ctx context.Context, j *job, target WriteTarget, deviceID string, headSize int64) error {
	if headSize > 0 {
		zeros := make([]byte, headSize)
		if _, err := target.WriteAt(zeros, 0); err != nil {
			logging.WarnWithContext(j.logger, "failed to clear first block after cancel", "cancel_marker_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "device may look bootable despite a partial image"),
			)
		} else if err := target.Sync(); err != nil {
			logging.WarnWithContext(j.logger, "failed to sync cleared first block", "cancel_marker_failed",
				logging.Error(err),
			)
		}
	}
	err := cancelled(ctx, PhaseWriting)
	err.DeviceID = deviceID
	return err
}

// verify re-reads exactly the bytes written and compares their digest with
// the digest taken while writing.
func (e *Engine) verify(ctx context.Context, j *job, img image, want string) error {
	deviceID := j.snapshot().Device.ID
	r, err := e.opener.OpenRead(deviceID)
	if err != nil {
		return faults.IO(string(PhaseVerifying), deviceID, "open device for read-back", err)
	}
	defer r.Close()

	reader := &progressReader{ctx: ctx, r: r, report: func(done int64) {
		j.progress(PhaseVerifying, events.StageVerify, done, img.size)
	}}
	got, err := checksum.DigestPrefix(reader, img.algo, img.size)
	if err != nil {
		if ctx.Err() != nil {
			// Cancelled is not reachable from Verifying.
			stopped := faults.New(faults.KindCancelled, "verification cancelled", context.Cause(ctx))
			stopped.Phase = string(PhaseVerifying)
			stopped.DeviceID = deviceID
			return stopped
		}
		return faults.IO(string(PhaseVerifying), deviceID, "read back device", err)
	}
	if got != want {
		return &faults.Error{
			Kind:     faults.KindVerifyFailed,
			Phase:    string(PhaseVerifying),
			DeviceID: deviceID,
			Expected: want,
			Actual:   got,
			Message:  "device contents differ from the image",
		}
	}
	j.logger.Info("device verified",
		logging.String("digest", string(img.algo)+":"+got),
		logging.Int64("bytes", img.size),
	)
	return nil
}

// progressReader reports cumulative bytes read and stops once ctx is done.
type progressReader struct {
	ctx    context.Context
	r      io.Reader
	done   int64
	report func(done int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	if err := p.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := p.r.Read(b)
	if n > 0 {
		p.done += int64(n)
		p.report(p.done)
	}
	return n, err
}
