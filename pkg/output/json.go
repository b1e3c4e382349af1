package output

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/sdejongh/kopier/pkg/models"
)

// JSONFormatter writes one JSON event per line for automation and scripting
type JSONFormatter struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

// JSONEvent represents a single event in the JSON output stream
type JSONEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
}

// JSONProgressData represents a progress snapshot
type JSONProgressData struct {
	JobID          string `json:"job_id"`
	State          string `json:"state"`
	TotalBytes     int64  `json:"total_bytes"`
	ProcessedBytes int64  `json:"processed_bytes"`
	TotalFiles     int    `json:"total_files"`
	ProcessedFiles int    `json:"processed_files"`
	TotalDirs      int    `json:"total_dirs"`
	ProcessedDirs  int    `json:"processed_dirs"`
	Source         string `json:"source,omitempty"`
	Dest           string `json:"dest,omitempty"`
	ElapsedMs      int64  `json:"elapsed_ms"`
	Speed          int64  `json:"speed_bytes_per_sec"`
}

// JSONReportData represents the final report data
type JSONReportData struct {
	JobID      string          `json:"job_id"`
	Mode       string          `json:"mode"`
	Sources    []string        `json:"sources"`
	Dest       string          `json:"dest"`
	Status     string          `json:"status"`
	Duration   string          `json:"duration"`
	DurationMs int64           `json:"duration_ms"`
	Stats      JSONStatsData   `json:"stats"`
	Errors     []JSONErrorData `json:"errors,omitempty"`
}

// JSONStatsData represents statistics in JSON format
type JSONStatsData struct {
	TotalFiles      int    `json:"total_files"`
	ProcessedFiles  int    `json:"processed_files"`
	FilesSkipped    int    `json:"files_skipped"`
	FilesUpToDate   int    `json:"files_up_to_date,omitempty"`
	TotalDirs       int    `json:"total_dirs"`
	ProcessedDirs   int    `json:"processed_dirs"`
	DirsSkipped     int    `json:"dirs_skipped"`
	Renames         int    `json:"renames"`
	Conflicts       int    `json:"conflicts"`
	Links           int    `json:"links"`
	TotalBytes      int64  `json:"total_bytes"`
	ProcessedBytes  int64  `json:"processed_bytes"`
	AverageSpeed    int64  `json:"average_speed_bytes_per_sec,omitempty"`
	AverageSpeedStr string `json:"average_speed,omitempty"`
}

// JSONErrorData represents an error entry
type JSONErrorData struct {
	Path      string `json:"path"`
	Operation string `json:"operation"`
	Error     string `json:"error"`
	Tolerated bool   `json:"tolerated"`
}

// NewJSONFormatter creates a new JSON formatter
func NewJSONFormatter(w io.Writer) *JSONFormatter {
	return &JSONFormatter{encoder: json.NewEncoder(w)}
}

func (f *JSONFormatter) write(typ string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.encoder.Encode(JSONEvent{Timestamp: time.Now(), Type: typ, Data: data})
}

// Report writes a progress event
func (f *JSONFormatter) Report(p models.Progress) {
	_ = f.write("progress", JSONProgressData{
		JobID:          p.JobID,
		State:          p.State,
		TotalBytes:     p.TotalBytes,
		ProcessedBytes: p.ProcessedBytes,
		TotalFiles:     p.TotalFiles,
		ProcessedFiles: p.ProcessedFiles,
		TotalDirs:      p.TotalDirs,
		ProcessedDirs:  p.ProcessedDirs,
		Source:         p.CurrentSource,
		Dest:           p.CurrentDest,
		ElapsedMs:      p.Elapsed.Milliseconds(),
		Speed:          p.Speed,
	})
}

// Complete writes the final report event
func (f *JSONFormatter) Complete(report *models.JobReport) error {
	s := report.Stats

	var avgSpeedStr string
	avgSpeed := averageSpeed(report)
	if avgSpeed > 0 {
		avgSpeedStr = formatBytes(avgSpeed) + "/s"
	}

	var errors []JSONErrorData
	for _, e := range report.Errors {
		errors = append(errors, JSONErrorData{
			Path:      e.Path,
			Operation: string(e.Operation),
			Error:     e.Error,
			Tolerated: e.Tolerated,
		})
	}

	return f.write("complete", JSONReportData{
		JobID:      report.JobID,
		Mode:       string(report.Mode),
		Sources:    report.Sources,
		Dest:       report.Dest,
		Status:     string(report.Status),
		Duration:   report.Duration.Round(time.Millisecond).String(),
		DurationMs: report.Duration.Milliseconds(),
		Stats: JSONStatsData{
			TotalFiles:      s.TotalFiles,
			ProcessedFiles:  s.ProcessedFiles,
			FilesSkipped:    s.FilesSkipped,
			FilesUpToDate:   s.FilesUpToDate,
			TotalDirs:       s.TotalDirs,
			ProcessedDirs:   s.ProcessedDirs,
			DirsSkipped:     s.DirsSkipped,
			Renames:         s.Renames,
			Conflicts:       s.Conflicts,
			Links:           s.Links,
			TotalBytes:      s.TotalBytes,
			ProcessedBytes:  s.ProcessedBytes,
			AverageSpeed:    avgSpeed,
			AverageSpeedStr: avgSpeedStr,
		},
		Errors: errors,
	})
}

// Error writes an error event
func (f *JSONFormatter) Error(err error) error {
	return f.write("error", map[string]string{"error": err.Error()})
}

// Name returns the formatter name
func (f *JSONFormatter) Name() string {
	return "json"
}
