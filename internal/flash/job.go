package flash

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"isoforge/internal/device"
	"isoforge/internal/events"
	"isoforge/internal/logging"
)

// Job is a point-in-time snapshot of a FlashJob.
type Job struct {
	ID           string
	Source       Source
	Device       device.BlockDevice
	ImagePath    string
	ImageSize    int64
	BytesWritten int64
	Phase        Phase
	Err          error
	StartedAt    time.Time
	FinishedAt   time.Time
}

// job is the engine-owned mutable state behind a Job.
type job struct {
	bus    *events.Bus
	cancel context.CancelFunc
	done   chan struct{}
	// lockID is the device ID the lock was taken under.
	lockID  string
	logger  *slog.Logger
	sampler *logging.ProgressSampler

	mu    sync.Mutex
	state Job
	// touched is set once the device has passed its capacity check and
	// writing may begin.
	touched bool
}

func (j *job) snapshot() Job {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func (j *job) phase() Phase {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state.Phase
}

// advance moves the job to a non-terminal phase and announces it.
func (j *job) advance(to Phase, message string) error {
	j.mu.Lock()
	if err := checkTransition(j.state.Phase, to); err != nil {
		j.mu.Unlock()
		return err
	}
	j.state.Phase = to
	j.mu.Unlock()
	j.bus.Publish(events.PhaseEvent(to, message, nil))
	return nil
}

func (j *job) setWritten(n int64) {
	j.mu.Lock()
	j.state.BytesWritten = n
	j.mu.Unlock()
}

func (j *job) setImage(path string, size int64) {
	j.mu.Lock()
	j.state.ImagePath = path
	j.state.ImageSize = size
	j.mu.Unlock()
}

func (j *job) setDevice(dev device.BlockDevice) {
	j.mu.Lock()
	j.state.Device = dev
	j.mu.Unlock()
}

func (j *job) markTouched() {
	j.mu.Lock()
	j.touched = true
	j.mu.Unlock()
}

// progress publishes a sample and logs it when it crosses a new bucket.
func (j *job) progress(phase Phase, stage events.Stage, done, total int64) {
	j.bus.Publish(events.ProgressEvent(phase, stage, done, total))
	percent := logging.Percent(done, total)
	if j.sampler.ShouldLog(percent, string(phase)+"/"+string(stage)) {
		j.logger.Info("progress",
			logging.String(logging.FieldPhase, string(phase)),
			logging.String("stage", string(stage)),
			logging.Float64("percent", percent),
			logging.Int64("bytes", done),
		)
	}
}
