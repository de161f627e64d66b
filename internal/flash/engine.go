package flash

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"isoforge/internal/config"
	"isoforge/internal/device"
	"isoforge/internal/download"
	"isoforge/internal/events"
	"isoforge/internal/faults"
	"isoforge/internal/history"
	"isoforge/internal/logging"
)

// ErrUnknownJob is returned for job IDs the engine never issued.
var ErrUnknownJob = errors.New("unknown job")

// DeviceLister finds and vets target devices.
type DeviceLister interface {
	ListCandidates(ctx context.Context) ([]device.BlockDevice, error)
	Find(ctx context.Context, id string) (device.BlockDevice, error)
	ValidateTarget(dev device.BlockDevice, imageSize int64) error
}

// Fetcher downloads remote images.
type Fetcher interface {
	Fetch(ctx context.Context, req download.Request) (download.TransferState, error)
}

// Recorder persists job outcomes.
type Recorder interface {
	Record(ctx context.Context, rec history.JobRecord) error
}

// Options tune one job. Zero values fall back to configuration.
type Options struct {
	BlockSize    int
	SyncInterval int
}

// Engine runs flash jobs.
type Engine struct {
	cfg      *config.Config
	devices  DeviceLister
	fetcher  Fetcher
	opener   Opener
	recorder Recorder
	locks    *lockRegistry
	logger   *slog.Logger
	newID    func() string

	mu   sync.Mutex
	jobs map[string]*job
}

// Option customizes an Engine.
type Option func(*Engine)

// WithDevices replaces the device enumerator.
func WithDevices(devices DeviceLister) Option {
	return func(e *Engine) { e.devices = devices }
}

// WithFetcher replaces the downloader used for remote sources.
func WithFetcher(fetcher Fetcher) Option {
	return func(e *Engine) { e.fetcher = fetcher }
}

// WithOpener replaces raw device access.
func WithOpener(opener Opener) Option {
	return func(e *Engine) { e.opener = opener }
}

// WithRecorder records every job outcome, e.g. into a history.Store.
func WithRecorder(recorder Recorder) Option {
	return func(e *Engine) { e.recorder = recorder }
}

// New constructs an Engine. Without options it enumerates devices with the
// configured source, downloads with the resumable downloader, and opens
// devices exclusively.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *Engine {
	if cfg == nil {
		defaults := config.Default()
		cfg = &defaults
	}
	e := &Engine{
		cfg:    cfg,
		opener: rawOpener{},
		locks:  deviceLocks,
		logger: logging.NewComponentLogger(logger, "flash"),
		newID:  func() string { return uuid.NewString() },
		jobs:   make(map[string]*job),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.devices == nil {
		e.devices = device.NewEnumerator(cfg, logger)
	}
	if e.fetcher == nil {
		e.fetcher = download.New(cfg, logger)
	}
	return e
}

// EnumerateDevices lists the devices that may receive an image.
func (e *Engine) EnumerateDevices(ctx context.Context) ([]device.BlockDevice, error) {
	return e.devices.ListCandidates(ctx)
}

// StartJob validates the request and starts writing src to deviceID in the
// background. Source shape, device lock and target safety are checked before
// it returns, so DeviceBusy and UnsafeTarget surface here rather than on the
// job. The job outlives ctx; use Cancel to stop it.
func (e *Engine) StartJob(ctx context.Context, src Source, deviceID string, opts Options) (Job, error) {
	if err := src.Validate(); err != nil {
		return Job{}, fmt.Errorf("invalid source: %w", err)
	}
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return Job{}, errors.New("target device is required")
	}
	options, err := e.resolveOptions(opts)
	if err != nil {
		return Job{}, err
	}

	knownSize := src.ExpectedSize
	if !src.Remote() {
		info, err := os.Stat(src.Path)
		if err != nil {
			return Job{}, faults.IO(string(PhaseIdle), "", "stat image", err)
		}
		if !info.Mode().IsRegular() {
			return Job{}, fmt.Errorf("image %s is not a regular file", src.Path)
		}
		knownSize = info.Size()
	}

	id := e.newID()
	logger := e.logger.With(
		logging.String(logging.FieldJobID, id),
		logging.String(logging.FieldDevice, deviceID),
	)

	if err := e.locks.acquire(deviceID, id); err != nil {
		logger.Warn("device busy", logging.Error(err), logging.String(logging.FieldEventType, "device_busy"))
		return Job{}, err
	}
	dev, err := e.devices.Find(ctx, deviceID)
	if err == nil {
		err = e.devices.ValidateTarget(dev, knownSize)
	}
	if err != nil {
		e.locks.release(deviceID, id)
		logging.WarnWithContext(logger, "target rejected", "target_rejected",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "choose a removable device from `isoforge devices`"),
		)
		return Job{}, err
	}

	runCtx, cancel := context.WithCancel(logging.WithJobID(context.WithoutCancel(ctx), id))
	j := &job{
		bus:     events.NewBus(id, e.cfg.Events.Buffer),
		cancel:  cancel,
		done:    make(chan struct{}),
		lockID:  deviceID,
		logger:  logger,
		sampler: logging.NewProgressSampler(10),
		state: Job{
			ID:        id,
			Source:    src,
			Device:    dev,
			ImageSize: knownSize,
			Phase:     PhaseIdle,
			StartedAt: time.Now(),
		},
	}
	e.mu.Lock()
	e.jobs[id] = j
	e.mu.Unlock()

	j.bus.Publish(events.PhaseEvent(PhaseIdle, "job accepted", nil))
	e.record(j.snapshot(), false, logger)
	logger.Info("flash job started",
		logging.String(logging.FieldEventType, "job_started"),
		logging.String("source", src.String()),
		logging.String("label", dev.Label),
	)

	go e.run(runCtx, j, options)
	return j.snapshot(), nil
}

func (e *Engine) resolveOptions(opts Options) (Options, error) {
	if opts.BlockSize == 0 {
		opts.BlockSize = e.cfg.Flash.BlockSize
	}
	if opts.SyncInterval == 0 {
		opts.SyncInterval = e.cfg.Flash.SyncInterval
	}
	if opts.BlockSize <= 0 || opts.BlockSize%512 != 0 {
		return Options{}, fmt.Errorf("block size %d must be a positive multiple of 512", opts.BlockSize)
	}
	if opts.SyncInterval < opts.BlockSize {
		opts.SyncInterval = opts.BlockSize
	}
	return opts, nil
}

func (e *Engine) lookup(id string) (*job, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	j, ok := e.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	return j, nil
}

// Cancel asks the job to stop at the next block. Cancelling a finished job is
// a no-op.
func (e *Engine) Cancel(id string) error {
	j, err := e.lookup(id)
	if err != nil {
		return err
	}
	j.logger.Info("cancel requested", logging.String(logging.FieldPhase, string(j.phase())))
	j.cancel()
	return nil
}

// Subscribe returns the job's event sequence. It ends after the terminal
// event.
func (e *Engine) Subscribe(id string) (iter.Seq[events.Event], error) {
	j, err := e.lookup(id)
	if err != nil {
		return nil, err
	}
	return j.bus.Subscribe(), nil
}

// Wait blocks until the job ends or ctx is done. It returns the final
// snapshot and the job's error, nil when the job reached Done.
func (e *Engine) Wait(ctx context.Context, id string) (Job, error) {
	j, err := e.lookup(id)
	if err != nil {
		return Job{}, err
	}
	select {
	case <-j.done:
		snap := j.snapshot()
		return snap, snap.Err
	case <-ctx.Done():
		return j.snapshot(), ctx.Err()
	}
}

// Job returns a snapshot of the job.
func (e *Engine) Job(id string) (Job, bool) {
	j, err := e.lookup(id)
	if err != nil {
		return Job{}, false
	}
	return j.snapshot(), true
}

// Jobs returns snapshots of every job, oldest first.
func (e *Engine) Jobs() []Job {
	e.mu.Lock()
	out := make([]Job, 0, len(e.jobs))
	for _, j := range e.jobs {
		out = append(out, j.snapshot())
	}
	e.mu.Unlock()
	slices.SortFunc(out, func(a, b Job) int { return a.StartedAt.Compare(b.StartedAt) })
	return out
}

// finish moves the job to a terminal phase, records it, releases the device
// and publishes the terminal event.
func (e *Engine) finish(j *job, to Phase, cause error) {
	j.mu.Lock()
	from := j.state.Phase
	if from.IsTerminal() {
		j.mu.Unlock()
		return
	}
	if err := checkTransition(from, to); err != nil {
		to = PhaseFailed
		cause = errors.Join(cause, err)
	}
	if cause != nil {
		cause = faults.WithPhase(cause, string(from), j.state.Device.ID)
	}
	j.state.Phase = to
	j.state.Err = cause
	j.state.FinishedAt = time.Now()
	incomplete := j.touched && to != PhaseDone
	snap := j.state
	j.mu.Unlock()

	e.record(snap, incomplete, j.logger)
	e.locks.release(j.lockID, snap.ID)

	attrs := []logging.Attr{
		logging.String(logging.FieldPhase, string(to)),
		logging.Int64("bytes_written", snap.BytesWritten),
		logging.Duration("elapsed", snap.FinishedAt.Sub(snap.StartedAt)),
	}
	switch to {
	case PhaseDone:
		j.logger.Info("flash job finished", logging.Args(append(attrs, logging.String(logging.FieldEventType, "job_done"))...)...)
	case PhaseCancelled:
		j.logger.Info("flash job cancelled", logging.Args(append(attrs, logging.String(logging.FieldEventType, "job_cancelled"))...)...)
	default:
		hint := "check the device connection and retry"
		if incomplete {
			hint = "the device holds a partial image; flash it again before use"
		}
		logging.ErrorWithContext(j.logger, "flash job failed", "job_failed",
			append(attrs,
				logging.Error(cause),
				logging.ErrorKind(faults.KindOf(cause)),
				logging.String(logging.FieldErrorHint, hint),
			)...,
		)
	}

	j.bus.Publish(events.PhaseEvent(to, terminalMessage(to, incomplete), cause))
	j.cancel()
	close(j.done)
}

func terminalMessage(phase Phase, incomplete bool) string {
	switch {
	case phase == PhaseDone:
		return "image written and verified"
	case incomplete:
		return "device left incomplete"
	default:
		return "device untouched"
	}
}

func (e *Engine) record(snap Job, incomplete bool, logger *slog.Logger) {
	if e.recorder == nil {
		return
	}
	rec := history.JobRecord{
		ID:           snap.ID,
		Source:       snap.Source.String(),
		DeviceID:     snap.Device.ID,
		DeviceSerial: snap.Device.Serial,
		Phase:        string(snap.Phase),
		ImageSize:    snap.ImageSize,
		BytesWritten: snap.BytesWritten,
		Incomplete:   incomplete,
		StartedAt:    snap.StartedAt,
		FinishedAt:   snap.FinishedAt,
	}
	if snap.Err != nil {
		rec.ErrorKind = string(faults.KindOf(snap.Err))
		rec.ErrorMessage = snap.Err.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.recorder.Record(ctx, rec); err != nil {
		logging.WarnWithContext(logger, "failed to record job history", "history_record_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "job outcome missing from history"),
		)
	}
}
