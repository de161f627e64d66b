package download

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"isoforge/internal/faults"
)

const lockSuffix = ".lock"

var destinations = struct {
	sync.Mutex
	held map[string]struct{}
}{held: make(map[string]struct{})}

// destinationLock guards one destination path against a second writer in
// this process (registry) and in other processes (advisory file lock).
type destinationLock struct {
	key  string
	file *flock.Flock
}

func lockDestination(dest string) (*destinationLock, error) {
	key, err := filepath.Abs(dest)
	if err != nil {
		return nil, fmt.Errorf("resolve destination: %w", err)
	}

	destinations.Lock()
	if _, busy := destinations.held[key]; busy {
		destinations.Unlock()
		return nil, lockedError(dest, "another fetch in this process owns the destination")
	}
	destinations.held[key] = struct{}{}
	destinations.Unlock()

	release := func() {
		destinations.Lock()
		delete(destinations.held, key)
		destinations.Unlock()
	}

	file := flock.New(key + lockSuffix)
	locked, err := file.TryLock()
	if err != nil {
		release()
		return nil, faults.IO("download", "", "acquire destination lock", err)
	}
	if !locked {
		release()
		return nil, lockedError(dest, "another process owns the destination")
	}
	return &destinationLock{key: key, file: file}, nil
}

func (l *destinationLock) Release() {
	if l == nil {
		return
	}
	_ = l.file.Unlock()
	destinations.Lock()
	delete(destinations.held, l.key)
	destinations.Unlock()
}

func lockedError(dest, message string) error {
	err := faults.New(faults.KindDestinationLocked, message, nil)
	err.Path = dest
	return err
}
