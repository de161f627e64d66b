package download

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"isoforge/internal/checksum"
)

func TestLoadStateMissingIsNotAnError(t *testing.T) {
	state, err := LoadState(filepath.Join(t.TempDir(), "absent.iso"))
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestSaveStateRoundTrip(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "image.iso")
	in := &TransferState{
		URL:             "https://example.org/image.iso",
		BytesDownloaded: 4096,
		TotalBytes:      -1,
		ResumeOffset:    4096,
		Algorithm:       checksum.SHA512,
		HashState:       []byte{1, 2, 3},
		ETag:            `"abc"`,
	}
	require.NoError(t, saveState(dest, in))

	out, err := LoadState(dest)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, stateVersion, out.Version)
	assert.Equal(t, in.HashState, out.HashState)
	assert.Equal(t, int64(-1), out.TotalBytes)
	assert.False(t, out.Complete())
	assert.False(t, out.UpdatedAt.IsZero())

	require.NoError(t, removeState(dest))
	assert.NoFileExists(t, StatePath(dest))
}

func TestLoadStateRejectsUnknownVersionAndGarbage(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "image.iso")

	require.NoError(t, os.WriteFile(StatePath(dest), []byte(`{"version":99,"url":"x"}`), 0o644))
	_, err := LoadState(dest)
	assert.ErrorIs(t, err, ErrCorruptState)

	require.NoError(t, os.WriteFile(StatePath(dest), []byte(`{"version":1,"url":"x","resume_offset":-5}`), 0o644))
	_, err = LoadState(dest)
	assert.ErrorIs(t, err, ErrCorruptState)

	require.NoError(t, os.WriteFile(StatePath(dest), []byte("\x00\x01"), 0o644))
	_, err = LoadState(dest)
	assert.ErrorIs(t, err, ErrCorruptState)
}
