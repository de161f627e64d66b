package testsupport

import (
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"
)

// Pattern returns size deterministic pseudo-random bytes derived from seed.
// Unlike a constant fill it exposes offset and ordering mistakes.
func Pattern(size int, seed uint64) []byte {
	var key [32]byte
	for i := range 8 {
		key[i] = byte(seed >> (8 * i))
	}
	data := make([]byte, size)
	_, _ = rand.NewChaCha8(key).Read(data)
	return data
}

// WriteImage writes a pattern file of the requested size to path and returns
// its contents.
func WriteImage(t testing.TB, path string, size int, seed uint64) []byte {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	data := Pattern(size, seed)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return data
}

// FakeDevice creates a file of size bytes standing in for a block device.
func FakeDevice(t testing.TB, size int64) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fake-device.img")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create fake device: %v", err)
	}
	defer f.Close()
	if err := f.Truncate(size); err != nil {
		t.Fatalf("size fake device: %v", err)
	}
	return path
}
