package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/cenkalti/backoff/v4"

	"isoforge/internal/faults"
	"isoforge/internal/logging"
)

// errRestart asks the retry loop for another attempt after the transfer was
// rewound to zero.
var errRestart = errors.New("transfer restarted from zero")

// attempt issues one request and streams its body into the destination.
// Returned errors are retryable unless wrapped with backoff.Permanent.
func (d *Downloader) attempt(ctx context.Context, t *transferRun, logger *slog.Logger) error {
	offset := t.state.BytesDownloaded

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, t.req.URL, nil)
	if err != nil {
		return backoff.Permanent(faults.New(faults.KindDownloadFailed, "build request", err))
	}
	if d.userAgent != "" {
		httpReq.Header.Set("User-Agent", d.userAgent)
	}
	if offset > 0 {
		httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		if validator := t.validator(); validator != "" {
			httpReq.Header.Set("If-Range", validator)
		}
	}

	resp, err := d.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPartialContent && offset > 0:
		start, total, ok := parseContentRange(resp.Header.Get("Content-Range"))
		if !ok || start != offset {
			logger.Warn("server returned unexpected range; restarting",
				logging.String("content_range", resp.Header.Get("Content-Range")),
				logging.Int64("offset", offset),
			)
			return t.rewind()
		}
		t.state.TotalBytes = total
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusPartialContent:
		if offset > 0 {
			logging.WarnWithContext(logger, "server ignored range request; restarting from zero", "download_range_ignored",
				logging.Int64("offset", offset),
				logging.String(logging.FieldImpact, "partial bytes are downloaded again"),
			)
			if err := t.rewind(); err != nil && !errors.Is(err, errRestart) {
				return err
			}
		}
		t.state.TotalBytes = -1
		if resp.ContentLength >= 0 {
			t.state.TotalBytes = resp.ContentLength
		}
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0:
		logger.Warn("resume offset rejected by server; restarting", logging.Int64("offset", offset))
		return t.rewind()
	case retryableStatus(resp.StatusCode):
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status %s", resp.Status)
	default:
		failed := faults.New(faults.KindDownloadFailed, fmt.Sprintf("unexpected status %s", resp.Status), nil)
		failed.URL = t.req.URL
		return backoff.Permanent(failed)
	}

	t.state.ETag = resp.Header.Get("ETag")
	t.state.LastModified = resp.Header.Get("Last-Modified")
	return d.copyBody(ctx, t, resp.Body)
}

// copyBody writes the body chunk by chunk, checkpointing after each one.
// Only io.EOF from the transport ends the transfer; a body cut off early
// is retried from the last checkpoint.
func (d *Downloader) copyBody(ctx context.Context, t *transferRun, body io.Reader) error {
	buf := make([]byte, d.chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		n, readErr := fill(body, buf)
		if n > 0 {
			if _, err := t.file.Write(buf[:n]); err != nil {
				return backoff.Permanent(faults.IO("download", "", "write destination", err))
			}
			_, _ = t.hasher.Write(buf[:n])
			t.state.BytesDownloaded += int64(n)
			if err := t.checkpoint(); err != nil {
				return backoff.Permanent(err)
			}
		}
		switch {
		case readErr == nil:
			continue
		case errors.Is(readErr, io.EOF):
			if t.state.TotalBytes >= 0 && t.state.BytesDownloaded < t.state.TotalBytes {
				return fmt.Errorf("body ended at %d of %d bytes: %w", t.state.BytesDownloaded, t.state.TotalBytes, io.ErrUnexpectedEOF)
			}
			if t.state.BytesDownloaded == 0 {
				// Empty body still leaves a sidecar for the zero offset.
				if err := t.checkpoint(); err != nil {
					return backoff.Permanent(err)
				}
			}
			return nil
		default:
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("body interrupted at %d bytes: %w", t.state.BytesDownloaded, readErr)
		}
	}
}

// fill reads until buf is full or the reader fails. Unlike io.ReadFull it
// hands back the reader's own error, so a clean io.EOF stays distinct from
// a transport that reported io.ErrUnexpectedEOF.
func fill(r io.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// rewind truncates the destination and asks for a fresh attempt.
func (t *transferRun) rewind() error {
	t.state.ETag, t.state.LastModified = "", ""
	t.state.TotalBytes = -1
	if err := t.reset(0); err != nil {
		return backoff.Permanent(err)
	}
	return errRestart
}

// validator returns the If-Range value: a strong ETag when present,
// otherwise Last-Modified.
func (t *transferRun) validator() string {
	if etag := t.state.ETag; etag != "" && !strings.HasPrefix(etag, "W/") {
		return etag
	}
	return t.state.LastModified
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	default:
		return code >= 500 && code <= 599
	}
}

// parseContentRange parses "bytes start-end/total". Total is -1 for "*".
func parseContentRange(value string) (start, total int64, ok bool) {
	value = strings.TrimSpace(value)
	rest, found := strings.CutPrefix(value, "bytes ")
	if !found {
		return 0, 0, false
	}
	span, size, found := strings.Cut(rest, "/")
	if !found {
		return 0, 0, false
	}
	first, _, found := strings.Cut(span, "-")
	if !found {
		return 0, 0, false
	}
	start, err := strconv.ParseInt(strings.TrimSpace(first), 10, 64)
	if err != nil || start < 0 {
		return 0, 0, false
	}
	if strings.TrimSpace(size) == "*" {
		return start, -1, true
	}
	total, err = strconv.ParseInt(strings.TrimSpace(size), 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return start, total, true
}
