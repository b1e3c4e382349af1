package output

import (
	"io"
	"sync"
	"time"

	"github.com/cheggaaa/pb/v3"

	"github.com/sdejongh/kopier/pkg/models"
)

const barTemplate pb.ProgressBarTemplate = `{{string . "state" | cyan}} {{counters . }} {{bar . "[" "=" ">" " " "]"}} {{percent . }} {{speed . }} {{rtime . "ETA %s"}} {{string . "file"}}`

// BarFormatter draws a progress bar while the job runs, then prints the
// human summary
type BarFormatter struct {
	writer io.Writer
	human  *HumanFormatter

	mu   sync.Mutex
	bar  *pb.ProgressBar
	pair lastPair
}

// NewBarFormatter creates a progress bar formatter
func NewBarFormatter(w io.Writer) *BarFormatter {
	return &BarFormatter{writer: w, human: NewHumanFormatter(w, false)}
}

// Report moves the bar
func (f *BarFormatter) Report(p models.Progress) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.bar == nil {
		f.bar = barTemplate.New(0)
		f.bar.SetWriter(f.writer)
		f.bar.SetWidth(terminalWidth(f.writer, 120))
		f.bar.SetRefreshRate(200 * time.Millisecond)
		f.bar.Set(pb.Bytes, true)
		f.bar.Start()
	}

	f.bar.SetTotal(p.TotalBytes)
	f.bar.SetCurrent(p.ProcessedBytes)
	f.bar.Set("state", p.State)
	if src, _, changed := f.pair.update(p); changed {
		f.bar.Set("file", src)
	}
}

// Complete stops the bar and prints the summary
func (f *BarFormatter) Complete(report *models.JobReport) error {
	f.stop()
	return f.human.Complete(report)
}

// Error stops the bar and prints err
func (f *BarFormatter) Error(err error) error {
	f.stop()
	return f.human.Error(err)
}

func (f *BarFormatter) stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bar != nil {
		f.bar.Finish()
		f.bar = nil
	}
}

// Name returns the formatter name
func (f *BarFormatter) Name() string {
	return "bar"
}
