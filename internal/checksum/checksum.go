package checksum

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/blake2b"

	"isoforge/internal/faults"
)

// Algorithm names a supported digest.
type Algorithm string

const (
	SHA256     Algorithm = "sha256"
	SHA512     Algorithm = "sha512"
	SHA1       Algorithm = "sha1"
	MD5        Algorithm = "md5"
	BLAKE2b256 Algorithm = "blake2b-256"
	BLAKE2b512 Algorithm = "blake2b-512"
)

// Default is used when a digest is needed but none was declared.
const Default = SHA256

const bufferSize = 1 << 20

// Sum is a named algorithm plus lowercase hex digest.
type Sum struct {
	Algorithm Algorithm
	Hex       string
}

// IsZero reports whether no checksum was declared.
func (s Sum) IsZero() bool {
	return s.Algorithm == "" && s.Hex == ""
}

func (s Sum) String() string {
	if s.IsZero() {
		return ""
	}
	return string(s.Algorithm) + ":" + s.Hex
}

// Validate checks the algorithm is known and the digest is lowercase hex of
// the right length.
func (s Sum) Validate() error {
	h, err := NewHash(s.Algorithm)
	if err != nil {
		return err
	}
	if s.Hex != strings.ToLower(s.Hex) {
		return fmt.Errorf("checksum %s: digest must be lowercase hex", s.Algorithm)
	}
	raw, err := hex.DecodeString(s.Hex)
	if err != nil {
		return fmt.Errorf("checksum %s: %w", s.Algorithm, err)
	}
	if len(raw) != h.Size() {
		return fmt.Errorf("checksum %s: digest is %d bytes, want %d", s.Algorithm, len(raw), h.Size())
	}
	return nil
}

// ParseSum parses "algo:hex". A bare 64-character hex string is taken as sha256.
func ParseSum(value string) (Sum, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Sum{}, errors.New("empty checksum")
	}
	algo, digest, found := strings.Cut(value, ":")
	if !found {
		algo, digest = string(SHA256), value
	}
	sum := Sum{
		Algorithm: Algorithm(strings.ToLower(strings.TrimSpace(algo))),
		Hex:       strings.ToLower(strings.TrimSpace(digest)),
	}
	if err := sum.Validate(); err != nil {
		return Sum{}, err
	}
	return sum, nil
}

// NewHash returns a fresh hash for algo.
func NewHash(algo Algorithm) (hash.Hash, error) {
	switch algo {
	case SHA256:
		return sha256.New(), nil
	case SHA512:
		return sha512.New(), nil
	case SHA1:
		return sha1.New(), nil
	case MD5:
		return md5.New(), nil
	case BLAKE2b256:
		return blake2b.New256(nil)
	case BLAKE2b512:
		return blake2b.New512(nil)
	default:
		return nil, fmt.Errorf("unsupported checksum algorithm %q", algo)
	}
}

// Digest streams r through algo and returns the lowercase hex digest.
func Digest(r io.Reader, algo Algorithm) (string, error) {
	h, err := NewHash(algo)
	if err != nil {
		return "", err
	}
	buf := make([]byte, bufferSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DigestPrefix digests exactly the first n bytes of r. A short read is an
// error: a prefix that cannot be read in full was not written in full.
func DigestPrefix(r io.Reader, algo Algorithm, n int64) (string, error) {
	h, err := NewHash(algo)
	if err != nil {
		return "", err
	}
	buf := make([]byte, bufferSize)
	copied, err := io.CopyBuffer(h, io.LimitReader(r, n), buf)
	if err != nil {
		return "", err
	}
	if copied != n {
		return "", fmt.Errorf("digest prefix: read %d of %d bytes: %w", copied, n, io.ErrUnexpectedEOF)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DigestFile digests the file at path.
func DigestFile(path string, algo Algorithm) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return Digest(f, algo)
}

// Verify digests r and compares it to sum, returning a ChecksumMismatch
// fault carrying both digests on mismatch.
func Verify(r io.Reader, sum Sum) error {
	computed, err := Digest(r, sum.Algorithm)
	if err != nil {
		return err
	}
	return Compare(sum, computed, "")
}

// VerifyFile is Verify over the file at path.
func VerifyFile(path string, sum Sum) error {
	computed, err := DigestFile(path, sum.Algorithm)
	if err != nil {
		return err
	}
	return Compare(sum, computed, path)
}

// Compare checks an already computed digest against sum.
func Compare(sum Sum, computed, path string) error {
	if strings.EqualFold(sum.Hex, computed) {
		return nil
	}
	return faults.Mismatch(path, sum.Hex, strings.ToLower(computed))
}

// MarshalState serializes the running state of h so a digest can continue
// after a restart. The standard library and blake2b hashes all support it.
func MarshalState(h hash.Hash) ([]byte, error) {
	m, ok := h.(encoding.BinaryMarshaler)
	if !ok {
		return nil, errors.New("hash state is not serializable")
	}
	return m.MarshalBinary()
}

// RestoreState returns a hash of algo continued from state.
func RestoreState(algo Algorithm, state []byte) (hash.Hash, error) {
	h, err := NewHash(algo)
	if err != nil {
		return nil, err
	}
	u, ok := h.(encoding.BinaryUnmarshaler)
	if !ok {
		return nil, errors.New("hash state is not restorable")
	}
	if err := u.UnmarshalBinary(state); err != nil {
		return nil, fmt.Errorf("restore %s state: %w", algo, err)
	}
	return h, nil
}
