package flash

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"isoforge/internal/checksum"
)

// Source is the image to flash: a remote URL or a local path, never both.
type Source struct {
	URL  string
	Path string
	// Checksum, when set, must match before anything is written.
	Checksum checksum.Sum
	// ExpectedSize, when positive, is the image size in bytes.
	ExpectedSize int64
}

// ParseSource classifies value as a URL when it carries an http or https
// scheme and as a local path otherwise.
func ParseSource(value string, sum checksum.Sum) Source {
	value = strings.TrimSpace(value)
	if u, err := url.Parse(value); err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
		return Source{URL: value, Checksum: sum}
	}
	return Source{Path: value, Checksum: sum}
}

// Remote reports whether the image must be downloaded first.
func (s Source) Remote() bool {
	return s.URL != ""
}

// Validate enforces the shape of a source.
func (s Source) Validate() error {
	hasURL := strings.TrimSpace(s.URL) != ""
	hasPath := strings.TrimSpace(s.Path) != ""
	switch {
	case hasURL && hasPath:
		return errors.New("source sets both url and path")
	case !hasURL && !hasPath:
		return errors.New("source needs a url or a path")
	}
	if hasURL {
		u, err := url.Parse(s.URL)
		if err != nil {
			return fmt.Errorf("source url: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("source url scheme %q is not http or https", u.Scheme)
		}
	}
	if s.ExpectedSize < 0 {
		return errors.New("expected size must not be negative")
	}
	if !s.Checksum.IsZero() {
		if err := s.Checksum.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (s Source) String() string {
	if s.Remote() {
		return s.URL
	}
	return s.Path
}

// cacheName derives a stable download file name for a URL. The digest prefix
// keeps identically named images from different hosts apart.
func cacheName(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	base := "image.iso"
	if u, err := url.Parse(rawURL); err == nil {
		if name := path.Base(u.Path); name != "" && name != "." && name != "/" {
			base = name
		}
	}
	return hex.EncodeToString(sum[:6]) + "-" + base
}
