package checksum

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"isoforge/internal/faults"
)

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func TestDigestKnownVectors(t *testing.T) {
	tests := []struct {
		algo Algorithm
		want string
	}{
		{SHA256, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
		{SHA1, "a9993e364706816aba3e25717850c26c9cd0d89d"},
		{MD5, "900150983cd24fb0d6963f7d28e17f72"},
	}
	for _, tt := range tests {
		t.Run(string(tt.algo), func(t *testing.T) {
			got, err := Digest(strings.NewReader("abc"), tt.algo)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDigestBlake2bLengths(t *testing.T) {
	d256, err := Digest(strings.NewReader("abc"), BLAKE2b256)
	require.NoError(t, err)
	assert.Len(t, d256, 64)
	d512, err := Digest(strings.NewReader("abc"), BLAKE2b512)
	require.NoError(t, err)
	assert.Len(t, d512, 128)
}

func TestVerifyMismatchCarriesBothDigests(t *testing.T) {
	expected := strings.Repeat("0", 64)
	err := Verify(strings.NewReader("payload"), Sum{Algorithm: SHA256, Hex: expected})
	require.Error(t, err)
	assert.True(t, errors.Is(err, faults.ErrChecksumMismatch))

	var fault *faults.Error
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, expected, fault.Expected)
	assert.Equal(t, sha256Hex([]byte("payload")), fault.Actual)
}

func TestVerifyFileMatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.iso")
	data := bytes.Repeat([]byte{0xAB}, 3*bufferSize+17)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	assert.NoError(t, VerifyFile(path, Sum{Algorithm: SHA256, Hex: sha256Hex(data)}))
}

func TestDigestPrefixRequiresFullRead(t *testing.T) {
	data := []byte("0123456789")
	got, err := DigestPrefix(bytes.NewReader(data), SHA256, 4)
	require.NoError(t, err)
	assert.Equal(t, sha256Hex(data[:4]), got)

	_, err = DigestPrefix(bytes.NewReader(data), SHA256, 20)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestParseSum(t *testing.T) {
	valid := sha256Hex([]byte("x"))
	tests := []struct {
		name    string
		input   string
		want    Sum
		wantErr bool
	}{
		{name: "prefixed", input: "sha256:" + valid, want: Sum{SHA256, valid}},
		{name: "bare hex defaults to sha256", input: valid, want: Sum{SHA256, valid}},
		{name: "uppercase normalized", input: "SHA256:" + strings.ToUpper(valid), want: Sum{SHA256, valid}},
		{name: "unknown algorithm", input: "crc32:deadbeef", wantErr: true},
		{name: "wrong length", input: "sha256:abcd", wantErr: true},
		{name: "not hex", input: "md5:" + strings.Repeat("z", 32), wantErr: true},
		{name: "empty", input: "  ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSum(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSumValidateRejectsUppercase(t *testing.T) {
	err := Sum{Algorithm: SHA256, Hex: strings.ToUpper(sha256Hex([]byte("x")))}.Validate()
	assert.Error(t, err)
}

func TestHashStateRoundTripContinuesDigest(t *testing.T) {
	for _, algo := range []Algorithm{SHA256, SHA512, SHA1, MD5, BLAKE2b256} {
		t.Run(string(algo), func(t *testing.T) {
			first, second := []byte("first half|"), []byte("second half")
			h, err := NewHash(algo)
			require.NoError(t, err)
			_, _ = h.Write(first)
			state, err := MarshalState(h)
			require.NoError(t, err)

			resumed, err := RestoreState(algo, state)
			require.NoError(t, err)
			_, _ = resumed.Write(second)

			want, err := Digest(bytes.NewReader(append(append([]byte{}, first...), second...)), algo)
			require.NoError(t, err)
			assert.Equal(t, want, hex.EncodeToString(resumed.Sum(nil)))
		})
	}
}

func TestRestoreStateRejectsGarbage(t *testing.T) {
	_, err := RestoreState(SHA256, []byte("garbage"))
	assert.Error(t, err)
}
