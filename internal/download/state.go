package download

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"isoforge/internal/checksum"
	"isoforge/internal/fileutil"
)

const (
	stateSuffix  = ".isoforge-state"
	stateVersion = 1
)

// TransferState is the durable record of a partial download, persisted
// beside the destination after every chunk.
type TransferState struct {
	Version int    `json:"version"`
	URL     string `json:"url"`
	// BytesDownloaded counts bytes present in the destination file.
	BytesDownloaded int64 `json:"bytes_downloaded"`
	// TotalBytes is the full remote size, or -1 when the server never said.
	TotalBytes int64 `json:"total_bytes"`
	// ResumeOffset is the last durably synced offset.
	ResumeOffset int64              `json:"resume_offset"`
	Algorithm    checksum.Algorithm `json:"algorithm"`
	// HashState is the serialized running digest of bytes [0, ResumeOffset).
	HashState    []byte    `json:"hash_state,omitempty"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	Invalid      bool      `json:"invalid,omitempty"`
	Digest       string    `json:"digest,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Complete reports whether every expected byte is present.
func (s TransferState) Complete() bool {
	return s.TotalBytes >= 0 && s.BytesDownloaded == s.TotalBytes
}

// StatePath returns the sidecar location for dest.
func StatePath(dest string) string {
	return dest + stateSuffix
}

// ErrCorruptState reports a sidecar that exists but cannot be used.
var ErrCorruptState = errors.New("corrupt transfer state")

// LoadState reads the sidecar for dest. It returns (nil, nil) when none
// exists and ErrCorruptState when the record is unreadable or from an
// unknown version.
func LoadState(dest string) (*TransferState, error) {
	data, err := os.ReadFile(StatePath(dest))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	var state TransferState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	if state.Version != stateVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptState, state.Version)
	}
	if state.ResumeOffset < 0 || state.BytesDownloaded < 0 || state.URL == "" {
		return nil, fmt.Errorf("%w: inconsistent offsets", ErrCorruptState)
	}
	return &state, nil
}

func saveState(dest string, state *TransferState) error {
	state.Version = stateVersion
	state.UpdatedAt = time.Now().UTC()
	if err := fileutil.WriteJSONAtomic(StatePath(dest), state); err != nil {
		return fmt.Errorf("save transfer state: %w", err)
	}
	return nil
}

func removeState(dest string) error {
	return fileutil.RemoveIfExists(StatePath(dest))
}
