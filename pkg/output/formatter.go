// Package output renders job progress and the final report
package output

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/term"

	"github.com/sdejongh/kopier/pkg/models"
)

// Formatter receives progress snapshots of a running job and prints its
// final report. It satisfies copyjob.ProgressSink.
type Formatter interface {
	// Report receives a periodic progress snapshot
	Report(p models.Progress)

	// Complete finalizes output and displays the summary
	Complete(report *models.JobReport) error

	// Error reports an error that ended the job before any report existed
	Error(err error) error

	// Name returns the formatter name
	Name() string
}

// Options tune the formatter returned by New
type Options struct {
	// Progress shows a progress bar when the writer is a terminal
	Progress bool
	// Quiet suppresses everything but the final status and errors
	Quiet bool
}

// New returns the formatter named format writing to w
func New(format string, w io.Writer, opts Options) (Formatter, error) {
	if w == nil {
		w = os.Stdout
	}
	switch format {
	case "json":
		return NewJSONFormatter(w), nil
	case "human", "":
		if opts.Progress && !opts.Quiet && IsTerminal(w) {
			return NewBarFormatter(w), nil
		}
		return NewHumanFormatter(w, opts.Quiet), nil
	}
	return nil, fmt.Errorf("unknown output format %q (valid: human, json)", format)
}

// IsTerminal reports whether w is an interactive terminal
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// terminalWidth returns the width of w, or fallback when it is not a terminal
func terminalWidth(w io.Writer, fallback int) int {
	if f, ok := w.(*os.File); ok {
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 0 {
			return width
		}
	}
	return fallback
}

// Tee forwards snapshots to several sinks, such as a formatter and the
// metrics exporter
type Tee []interface{ Report(models.Progress) }

// Report forwards p to every sink
func (t Tee) Report(p models.Progress) {
	for _, s := range t {
		if s != nil {
			s.Report(p)
		}
	}
}

// lastPair remembers the current source and destination across snapshots,
// which only carry them when they change
type lastPair struct {
	mu  sync.Mutex
	src string
	dst string
}

func (l *lastPair) update(p models.Progress) (src, dst string, changed bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p.PairChanged() {
		l.src, l.dst = p.CurrentSource, p.CurrentDest
		changed = true
	}
	return l.src, l.dst, changed
}

// formatBytes formats bytes in human-readable format
func formatBytes(bytes int64) string {
	if bytes < 0 {
		return "?"
	}
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// formatDuration formats duration in human-readable format
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}

// averageSpeed returns bytes per second over the job duration
func averageSpeed(report *models.JobReport) int64 {
	if report.Duration.Seconds() <= 0 {
		return 0
	}
	return int64(float64(report.Stats.ProcessedBytes) / report.Duration.Seconds())
}
