package download

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"isoforge/internal/checksum"
	"isoforge/internal/config"
	"isoforge/internal/faults"
	"isoforge/internal/fileutil"
	"isoforge/internal/logging"
)

// ProgressFunc receives the byte count present at dest after each chunk and
// the expected total, or -1 when unknown.
type ProgressFunc func(done, total int64)

// Request describes one fetch.
type Request struct {
	URL  string
	Dest string
	// Checksum, when set, is verified once the transfer completes.
	Checksum checksum.Sum
	// ExpectedSize, when positive, must match the final file size.
	ExpectedSize int64
	// ResumeFrom overrides the offset recorded in the sidecar. Nil resumes
	// from the sidecar, or from zero when there is none.
	ResumeFrom *int64
	Progress   ProgressFunc
}

// Downloader fetches remote images with resume and bounded retry.
type Downloader struct {
	client         *http.Client
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	chunkSize      int
	userAgent      string
	logger         *slog.Logger
}

// Option customizes a Downloader.
type Option func(*Downloader)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Downloader) {
		if client != nil {
			d.client = client
		}
	}
}

// New constructs a Downloader from configuration.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *Downloader {
	if cfg == nil {
		defaults := config.Default()
		cfg = &defaults
	}
	initial, maxDelay := cfg.Backoff()
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.RequestTimeout()
	// Compressed transfer would break byte offsets.
	transport.DisableCompression = true

	d := &Downloader{
		client:         &http.Client{Transport: transport},
		maxAttempts:    cfg.Download.MaxAttempts,
		initialBackoff: initial,
		maxBackoff:     maxDelay,
		chunkSize:      cfg.Download.ChunkSize,
		userAgent:      cfg.Download.UserAgent,
		logger:         logging.NewComponentLogger(logger, "download"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Fetch downloads req.URL into req.Dest, resuming a previous partial
// transfer when the sidecar allows it. On success the sidecar is removed and
// the returned state carries the digest of the complete file.
func (d *Downloader) Fetch(ctx context.Context, req Request) (TransferState, error) {
	if err := validateRequest(req); err != nil {
		return TransferState{}, err
	}
	if err := os.MkdirAll(filepath.Dir(req.Dest), 0o755); err != nil {
		return TransferState{}, faults.IO("download", "", "create destination directory", err)
	}

	lock, err := lockDestination(req.Dest)
	if err != nil {
		return TransferState{}, err
	}
	defer lock.Release()

	logger := d.logger.With(logging.String(logging.FieldURL, req.URL), logging.String(logging.FieldPath, req.Dest))

	algo := req.Checksum.Algorithm
	if algo == "" {
		algo = checksum.Default
	}

	prior, poisoned := d.loadUsableState(req, algo, logger)
	if prior == nil && !poisoned {
		if state, ok := d.reuseComplete(req, logger); ok {
			return state, nil
		}
	}

	if poisoned && req.ResumeFrom != nil && *req.ResumeFrom > 0 {
		logger.Info("ignoring resume offset; previous transfer failed verification",
			logging.Int64("offset", *req.ResumeFrom))
		req.ResumeFrom = nil
	}

	t, err := d.prepare(req, algo, prior, logger)
	if err != nil {
		return TransferState{}, err
	}
	defer t.file.Close()

	if err := d.transfer(ctx, t, logger); err != nil {
		return t.state, err
	}
	return d.complete(req, t, logger)
}

func validateRequest(req Request) error {
	if strings.TrimSpace(req.URL) == "" {
		return faults.New(faults.KindDownloadFailed, "url is required", nil)
	}
	if strings.TrimSpace(req.Dest) == "" {
		return faults.New(faults.KindDownloadFailed, "destination is required", nil)
	}
	if !req.Checksum.IsZero() {
		if err := req.Checksum.Validate(); err != nil {
			return faults.New(faults.KindDownloadFailed, "invalid checksum", err)
		}
	}
	if req.ResumeFrom != nil && *req.ResumeFrom < 0 {
		return faults.New(faults.KindDownloadFailed, "resume offset must not be negative", nil)
	}
	return nil
}

// loadUsableState returns the sidecar when it describes a resumable transfer
// of the same URL. Anything else is discarded so the fetch starts fresh;
// poisoned reports a sidecar marked invalid by a failed verification.
func (d *Downloader) loadUsableState(req Request, algo checksum.Algorithm, logger *slog.Logger) (state *TransferState, poisoned bool) {
	state, err := LoadState(req.Dest)
	if err != nil {
		logging.WarnWithContext(logger, "transfer state unreadable; starting fresh", "download_state_corrupt",
			logging.Error(err),
			logging.String(logging.FieldImpact, "partial bytes are downloaded again"),
		)
		_ = removeState(req.Dest)
		return nil, false
	}
	if state == nil {
		return nil, false
	}
	reason := ""
	switch {
	case state.Invalid:
		reason = "previous transfer failed verification"
	case state.URL != req.URL:
		reason = "sidecar belongs to a different url"
	case state.Algorithm != algo:
		reason = "checksum algorithm changed"
	}
	if reason != "" {
		logger.Info("discarding transfer state", logging.String("reason", reason))
		_ = removeState(req.Dest)
		return nil, state.Invalid
	}
	return state, false
}

// reuseComplete returns an existing destination without network access when
// no sidecar exists and the file matches the declared checksum.
func (d *Downloader) reuseComplete(req Request, logger *slog.Logger) (TransferState, bool) {
	if req.Checksum.IsZero() {
		return TransferState{}, false
	}
	size, exists, err := fileutil.FileSize(req.Dest)
	if err != nil || !exists || size == 0 {
		return TransferState{}, false
	}
	if req.ExpectedSize > 0 && size != req.ExpectedSize {
		return TransferState{}, false
	}
	digest, err := checksum.DigestFile(req.Dest, req.Checksum.Algorithm)
	if err != nil || checksum.Compare(req.Checksum, digest, req.Dest) != nil {
		return TransferState{}, false
	}
	logger.Info("destination already complete; skipping download", logging.Int64("bytes", size))
	return TransferState{
		Version:         stateVersion,
		URL:             req.URL,
		BytesDownloaded: size,
		TotalBytes:      size,
		ResumeOffset:    size,
		Algorithm:       req.Checksum.Algorithm,
		Digest:          digest,
		UpdatedAt:       time.Now().UTC(),
	}, true
}

// transferRun is the mutable state of one Fetch call.
type transferRun struct {
	req    Request
	file   *os.File
	hasher hash.Hash
	state  TransferState
}

func (d *Downloader) prepare(req Request, algo checksum.Algorithm, prior *TransferState, logger *slog.Logger) (*transferRun, error) {
	file, err := os.OpenFile(req.Dest, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, faults.IO("download", "", "open destination", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, faults.IO("download", "", "stat destination", err)
	}

	offset := int64(0)
	if prior != nil {
		offset = prior.ResumeOffset
	}
	if req.ResumeFrom != nil {
		offset = *req.ResumeFrom
	}
	offset = min(offset, info.Size())

	t := &transferRun{req: req, file: file}
	t.state = TransferState{URL: req.URL, TotalBytes: -1, Algorithm: algo}
	if prior != nil {
		t.state.TotalBytes = prior.TotalBytes
		t.state.ETag = prior.ETag
		t.state.LastModified = prior.LastModified
	}

	t.hasher, err = resumeHash(req.Dest, algo, prior, offset)
	if err != nil {
		logging.WarnWithContext(logger, "cannot rebuild digest of partial file; starting fresh", "download_hash_rebuild_failed",
			logging.Error(err),
			logging.Int64("offset", offset),
		)
		offset = 0
		t.state.ETag, t.state.LastModified = "", ""
		if t.hasher, err = checksum.NewHash(algo); err != nil {
			file.Close()
			return nil, err
		}
	}
	if err := t.reset(offset); err != nil {
		file.Close()
		return nil, err
	}
	if offset > 0 {
		logger.Info("resuming download", logging.Int64("offset", offset), logging.Int64("total", t.state.TotalBytes))
	}
	return t, nil
}

// resumeHash returns a digest positioned at offset: restored from the
// sidecar when it recorded exactly that offset, otherwise rebuilt by reading
// the partial file's prefix.
func resumeHash(dest string, algo checksum.Algorithm, prior *TransferState, offset int64) (hash.Hash, error) {
	if offset == 0 {
		return checksum.NewHash(algo)
	}
	if prior != nil && prior.ResumeOffset == offset && len(prior.HashState) > 0 {
		if h, err := checksum.RestoreState(algo, prior.HashState); err == nil {
			return h, nil
		}
	}
	h, err := checksum.NewHash(algo)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(dest)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if _, err := io.CopyN(h, f, offset); err != nil {
		return nil, fmt.Errorf("rehash first %d bytes: %w", offset, err)
	}
	return h, nil
}

// reset truncates the destination to offset and repositions the writer.
// Offset zero also discards the running digest.
func (t *transferRun) reset(offset int64) error {
	if err := t.file.Truncate(offset); err != nil {
		return faults.IO("download", "", "truncate destination", err)
	}
	if _, err := t.file.Seek(offset, io.SeekStart); err != nil {
		return faults.IO("download", "", "seek destination", err)
	}
	if offset == 0 {
		t.hasher.Reset()
	}
	t.state.BytesDownloaded = offset
	t.state.ResumeOffset = offset
	return nil
}

func (t *transferRun) checkpoint() error {
	if err := t.file.Sync(); err != nil {
		return faults.IO("download", "", "sync destination", err)
	}
	t.state.ResumeOffset = t.state.BytesDownloaded
	hashState, err := checksum.MarshalState(t.hasher)
	if err != nil {
		return err
	}
	t.state.HashState = hashState
	if err := saveState(t.req.Dest, &t.state); err != nil {
		return faults.IO("download", "", "persist transfer state", err)
	}
	if t.req.Progress != nil {
		t.req.Progress(t.state.BytesDownloaded, t.state.TotalBytes)
	}
	return nil
}

// transfer runs attempts under the retry policy until the remote body is
// fully received.
func (d *Downloader) transfer(ctx context.Context, t *transferRun, logger *slog.Logger) error {
	if t.state.TotalBytes >= 0 && t.state.BytesDownloaded == t.state.TotalBytes && t.state.TotalBytes > 0 {
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.initialBackoff
	policy.MaxInterval = d.maxBackoff
	policy.MaxElapsedTime = 0
	retries := uint64(max(d.maxAttempts-1, 0))

	attempt := 0
	var lastErr error
	operation := func() error {
		attempt++
		err := d.attempt(ctx, t, logger)
		if errors.Is(err, errRestart) {
			// Rewound to zero; the next request carries no Range header.
			err = d.attempt(ctx, t, logger)
		}
		if err != nil {
			lastErr = err
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logging.WarnWithContext(logger, "download attempt failed; retrying", "download_retry",
			logging.Error(err),
			logging.Int("attempt", attempt),
			logging.Int("max_attempts", d.maxAttempts),
			logging.Duration("wait", wait),
			logging.String(logging.FieldImpact, "transfer resumes from the last synced offset"),
		)
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(backoff.WithMaxRetries(policy, retries), ctx), notify)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		cancelled := faults.New(faults.KindCancelled, "download cancelled", ctx.Err())
		cancelled.Path = t.req.Dest
		cancelled.URL = t.req.URL
		return cancelled
	}
	if faults.KindOf(err) != "" {
		return err
	}
	if lastErr == nil {
		lastErr = err
	}
	failed := faults.New(faults.KindDownloadFailed, fmt.Sprintf("gave up after %d attempt(s)", attempt), lastErr)
	failed.URL = t.req.URL
	failed.Path = t.req.Dest
	return failed
}

func (d *Downloader) complete(req Request, t *transferRun, logger *slog.Logger) (TransferState, error) {
	size := t.state.BytesDownloaded
	if req.ExpectedSize > 0 && size != req.ExpectedSize {
		t.state.Invalid = true
		if saveErr := saveState(req.Dest, &t.state); saveErr != nil {
			logger.Warn("failed to mark transfer state invalid", logging.Error(saveErr))
		}
		failed := faults.New(faults.KindDownloadFailed,
			fmt.Sprintf("size mismatch: expected %d bytes, got %d", req.ExpectedSize, size), nil)
		failed.URL = req.URL
		failed.Path = req.Dest
		return t.state, failed
	}

	t.state.TotalBytes = size
	t.state.Digest = hex.EncodeToString(t.hasher.Sum(nil))
	if !req.Checksum.IsZero() {
		if err := checksum.Compare(req.Checksum, t.state.Digest, req.Dest); err != nil {
			t.state.Invalid = true
			if saveErr := saveState(req.Dest, &t.state); saveErr != nil {
				logger.Warn("failed to mark transfer state invalid", logging.Error(saveErr))
			}
			var fault *faults.Error
			if errors.As(err, &fault) {
				fault.URL = req.URL
			}
			logging.ErrorWithContext(logger, "downloaded image failed checksum", "download_checksum_mismatch",
				logging.String("expected", req.Checksum.Hex),
				logging.String("actual", t.state.Digest),
				logging.String(logging.FieldErrorHint, "inspect the file or verify the published checksum, then fetch again"),
			)
			return t.state, err
		}
	}

	if err := removeState(req.Dest); err != nil {
		logger.Warn("failed to remove transfer state", logging.Error(err))
	}
	logger.Info("download complete",
		logging.Int64("bytes", size),
		logging.String("digest", string(t.state.Algorithm)+":"+t.state.Digest),
	)
	return t.state, nil
}
