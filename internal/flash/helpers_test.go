package flash

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"isoforge/internal/config"
	"isoforge/internal/device"
	"isoforge/internal/history"
	"isoforge/internal/logging"
	"isoforge/internal/testsupport"
)

type memRecorder struct {
	mu   sync.Mutex
	recs map[string]history.JobRecord
}

func (r *memRecorder) Record(_ context.Context, rec history.JobRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recs == nil {
		r.recs = make(map[string]history.JobRecord)
	}
	r.recs[rec.ID] = rec
	return nil
}

func (r *memRecorder) get(id string) (history.JobRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[id]
	return rec, ok
}

func fixedDevices(devs ...device.BlockDevice) device.ListFunc {
	return func(context.Context) ([]device.BlockDevice, error) {
		return append([]device.BlockDevice(nil), devs...), nil
	}
}

func newTestEngine(t *testing.T, list device.ListFunc, opts ...Option) (*Engine, *memRecorder, *config.Config) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	rec := &memRecorder{}
	lister := device.NewEnumeratorFrom(list, device.NewPolicy(), logging.NewNop())
	base := []Option{WithDevices(lister), WithRecorder(rec)}
	return New(cfg, logging.NewNop(), append(base, opts...)...), rec, cfg
}

func usbStick(path string) device.BlockDevice {
	return device.BlockDevice{
		ID:        path,
		Label:     "SanDisk Ultra Fit (8.0 GiB)",
		Size:      8 << 30,
		Removable: true,
		Serial:    "4C530001",
		Transport: "usb",
	}
}

func systemDisk() device.BlockDevice {
	return device.BlockDevice{
		ID:          "/dev/isoforge-test-nvme0n1",
		Label:       "Samsung SSD 980 PRO (476.9 GiB)",
		Size:        512 << 30,
		Mountpoints: []string{"/", "/boot/efi"},
	}
}

func waitJob(t *testing.T, e *Engine, id string) (Job, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	snap, err := e.Wait(ctx, id)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("job %s did not finish", id)
	}
	return snap, err
}

func waitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(10 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

// countingOpener records how often a device is opened for writing.
type countingOpener struct {
	inner  Opener
	writes atomic.Int32
}

func (o *countingOpener) OpenWrite(path string) (WriteTarget, error) {
	o.writes.Add(1)
	return o.inner.OpenWrite(path)
}

func (o *countingOpener) OpenRead(path string) (io.ReadCloser, error) {
	return o.inner.OpenRead(path)
}

// gate pauses the first device write until released.
type gate struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGate() *gate {
	return &gate{started: make(chan struct{}), release: make(chan struct{})}
}

func (g *gate) hold() {
	g.once.Do(func() {
		close(g.started)
		<-g.release
	})
}

type gatedOpener struct {
	gate      *gate
	onRead    bool
	failAfter int
}

func (o *gatedOpener) OpenWrite(path string) (WriteTarget, error) {
	target, err := rawOpener{}.OpenWrite(path)
	if err != nil {
		return nil, err
	}
	return &gatedTarget{WriteTarget: target, opener: o}, nil
}

func (o *gatedOpener) OpenRead(path string) (io.ReadCloser, error) {
	r, err := rawOpener{}.OpenRead(path)
	if err != nil || !o.onRead {
		return r, err
	}
	return &gatedReader{ReadCloser: r, gate: o.gate}, nil
}

type gatedTarget struct {
	WriteTarget
	opener *gatedOpener
	writes int
}

func (g *gatedTarget) WriteAt(p []byte, off int64) (int, error) {
	if g.opener.gate != nil && !g.opener.onRead {
		g.opener.gate.hold()
	}
	g.writes++
	if g.opener.failAfter > 0 && g.writes > g.opener.failAfter {
		return 0, errors.New("input/output error")
	}
	return g.WriteTarget.WriteAt(p, off)
}

type gatedReader struct {
	io.ReadCloser
	gate *gate
}

func (g *gatedReader) Read(p []byte) (int, error) {
	g.gate.hold()
	return g.ReadCloser.Read(p)
}

// flipOpener corrupts one byte of the read-back stream.
type flipOpener struct {
	at int64
}

func (flipOpener) OpenWrite(path string) (WriteTarget, error) {
	return rawOpener{}.OpenWrite(path)
}

func (o flipOpener) OpenRead(path string) (io.ReadCloser, error) {
	r, err := rawOpener{}.OpenRead(path)
	if err != nil {
		return nil, err
	}
	return &flipReader{ReadCloser: r, at: o.at}, nil
}

type flipReader struct {
	io.ReadCloser
	at  int64
	pos int64
}

func (f *flipReader) Read(p []byte) (int, error) {
	n, err := f.ReadCloser.Read(p)
	if f.at >= f.pos && f.at < f.pos+int64(n) {
		p[f.at-f.pos] ^= 0xFF
	}
	f.pos += int64(n)
	return n, err
}

// recordingOpener counts syncs and block writes and can under-report the
// device capacity.
type recordingOpener struct {
	capacity int64

	mu          sync.Mutex
	syncs       int
	syncsBefore int // syncs issued before block zero was written
	headWritten bool
	writes      int
}

func (o *recordingOpener) OpenWrite(path string) (WriteTarget, error) {
	target, err := rawOpener{}.OpenWrite(path)
	if err != nil {
		return nil, err
	}
	return &recordingTarget{WriteTarget: target, opener: o}, nil
}

func (o *recordingOpener) OpenRead(path string) (io.ReadCloser, error) {
	return rawOpener{}.OpenRead(path)
}

func (o *recordingOpener) counts() (syncs, syncsBefore, writes int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.syncs, o.syncsBefore, o.writes
}

type recordingTarget struct {
	WriteTarget
	opener *recordingOpener
}

func (r *recordingTarget) WriteAt(p []byte, off int64) (int, error) {
	r.opener.mu.Lock()
	r.opener.writes++
	if off == 0 {
		r.opener.headWritten = true
	}
	r.opener.mu.Unlock()
	return r.WriteTarget.WriteAt(p, off)
}

func (r *recordingTarget) Sync() error {
	r.opener.mu.Lock()
	r.opener.syncs++
	if !r.opener.headWritten {
		r.opener.syncsBefore++
	}
	r.opener.mu.Unlock()
	return r.WriteTarget.Sync()
}

func (r *recordingTarget) Size() (int64, error) {
	if r.opener.capacity > 0 {
		return r.opener.capacity, nil
	}
	return r.WriteTarget.Size()
}
