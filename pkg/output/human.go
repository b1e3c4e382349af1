package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/sdejongh/kopier/pkg/models"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	warningColor = color.New(color.FgYellow, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	headerColor  = color.New(color.FgBlue, color.Bold)
	dimColor     = color.New(color.FgHiBlack)
)

// HumanFormatter prints one line per entry being processed and a summary
type HumanFormatter struct {
	writer io.Writer
	quiet  bool
	pair   lastPair
}

// NewHumanFormatter creates a new human-readable formatter
func NewHumanFormatter(w io.Writer, quiet bool) *HumanFormatter {
	return &HumanFormatter{writer: w, quiet: quiet}
}

// Report prints the entry being processed when it changed
func (f *HumanFormatter) Report(p models.Progress) {
	if f.quiet {
		return
	}
	src, dst, changed := f.pair.update(p)
	if !changed || src == "" {
		return
	}
	fmt.Fprintf(f.writer, "[%d/%d] %s %s %s\n",
		p.ProcessedFiles, p.TotalFiles, src, dimColor.Sprint("→"), dst)
}

// Complete finalizes output and displays summary
func (f *HumanFormatter) Complete(report *models.JobReport) error {
	w := f.writer
	s := report.Stats

	if !f.quiet {
		fmt.Fprintf(w, "\n")
		headerColor.Fprintf(w, "%s completed in %s\n", capitalize(string(report.Mode)), formatDuration(report.Duration))
		fmt.Fprintf(w, "\n")
		fmt.Fprintf(w, "Summary:\n")
		fmt.Fprintf(w, "  Files:          %d/%d processed, %d skipped\n", s.ProcessedFiles, s.TotalFiles, s.FilesSkipped)
		fmt.Fprintf(w, "  Directories:    %d/%d processed, %d skipped\n", s.ProcessedDirs, s.TotalDirs, s.DirsSkipped)
		if s.FilesUpToDate > 0 {
			fmt.Fprintf(w, "  Up to date:     %d\n", s.FilesUpToDate)
		}
		if s.Renames > 0 {
			fmt.Fprintf(w, "  Renames:        %d\n", s.Renames)
		}
		if s.Links > 0 {
			fmt.Fprintf(w, "  Links:          %d\n", s.Links)
		}
		if s.Conflicts > 0 {
			fmt.Fprintf(w, "  Conflicts:      %d\n", s.Conflicts)
		}
		fmt.Fprintf(w, "  Data:           %s\n", formatBytes(s.ProcessedBytes))
		if speed := averageSpeed(report); speed > 0 {
			fmt.Fprintf(w, "  Average speed:  %s/s\n", formatBytes(speed))
		}
		fmt.Fprintf(w, "\n")
	}

	fmt.Fprintf(w, "Status: %s\n", statusColor(report.Status).Sprint(report.Status))

	if len(report.Errors) > 0 {
		fmt.Fprintf(w, "\nErrors:\n")
		for _, e := range report.Errors {
			mark := errorColor.Sprint("✗")
			if e.Tolerated {
				mark = warningColor.Sprint("!")
			}
			fmt.Fprintf(w, "  %s %s %s: %s\n", mark, e.Operation, e.Path, e.Error)
		}
	}

	return nil
}

// Error reports an error
func (f *HumanFormatter) Error(err error) error {
	errorColor.Fprintf(f.writer, "Error: %v\n", err)
	return nil
}

// Name returns the formatter name
func (f *HumanFormatter) Name() string {
	return "human"
}

func statusColor(s models.JobStatus) *color.Color {
	switch s {
	case models.StatusSuccess:
		return successColor
	case models.StatusPartial:
		return warningColor
	default:
		return errorColor
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
