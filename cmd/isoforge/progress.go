package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"

	"isoforge/internal/logging"
)

// progressView renders byte progress as a bar on terminals and as sampled
// plain lines everywhere else.
type progressView struct {
	out         io.Writer
	interactive bool
	sampler     *logging.ProgressSampler

	bar   *progressbar.ProgressBar
	label string
}

func newProgressView(out io.Writer) *progressView {
	return &progressView{
		out:         out,
		interactive: isTerminal(out),
		sampler:     logging.NewProgressSampler(10),
	}
}

// update reports done of total bytes for label. total is -1 when unknown.
func (v *progressView) update(label string, done, total int64) {
	if !v.interactive {
		if v.sampler.ShouldLog(logging.Percent(done, total), label) {
			fmt.Fprintln(v.out, plainProgress(label, done, total))
		}
		return
	}
	if v.bar == nil || v.label != label {
		v.finish()
		v.label = label
		v.bar = progressbar.NewOptions64(
			total,
			progressbar.OptionSetWriter(v.out),
			progressbar.OptionSetDescription(label),
			progressbar.OptionSetWidth(30),
			progressbar.OptionShowBytes(true),
			progressbar.OptionShowCount(),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionOnCompletion(func() {
				fmt.Fprintln(v.out)
			}),
		)
	}
	_ = v.bar.Set64(done)
}

// finish closes the current bar, if any.
func (v *progressView) finish() {
	if v.bar == nil {
		return
	}
	if !v.bar.IsFinished() {
		_ = v.bar.Finish()
	}
	v.bar = nil
	v.label = ""
}

func plainProgress(label string, done, total int64) string {
	if total <= 0 {
		return fmt.Sprintf("%s: %s", label, humanize.IBytes(uint64(max(done, 0))))
	}
	return fmt.Sprintf("%s: %s / %s (%.0f%%)",
		label,
		humanize.IBytes(uint64(max(done, 0))),
		humanize.IBytes(uint64(total)),
		logging.Percent(done, total),
	)
}

func isTerminal(writer any) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
