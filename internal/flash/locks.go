package flash

import (
	"fmt"
	"path/filepath"
	"sync"

	"isoforge/internal/faults"
)

// lockRegistry maps a device to the job holding it.
type lockRegistry struct {
	mu      sync.Mutex
	holders map[string]string
}

// deviceLocks is shared by every Engine in the process.
var deviceLocks = &lockRegistry{holders: make(map[string]string)}

// lockKey canonicalizes deviceID so /dev/disk/by-id links and the node they
// point at share one lock.
func lockKey(deviceID string) string {
	if resolved, err := filepath.EvalSymlinks(deviceID); err == nil {
		return resolved
	}
	return filepath.Clean(deviceID)
}

func (r *lockRegistry) acquire(deviceID, jobID string) error {
	key := lockKey(deviceID)
	r.mu.Lock()
	defer r.mu.Unlock()
	if holder, ok := r.holders[key]; ok {
		busy := faults.New(faults.KindDeviceBusy, fmt.Sprintf("held by job %s", holder), nil)
		busy.DeviceID = deviceID
		return busy
	}
	r.holders[key] = jobID
	return nil
}

func (r *lockRegistry) release(deviceID, jobID string) {
	key := lockKey(deviceID)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.holders[key] == jobID {
		delete(r.holders, key)
	}
}

func (r *lockRegistry) holder(deviceID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.holders[lockKey(deviceID)]
	return id, ok
}
