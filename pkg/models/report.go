package models

import (
	"time"
)

// JobReport represents the results of a job
type JobReport struct {
	// Job details
	JobID   string
	Mode    JobMode
	Sources []string
	Dest    string

	// Timing
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	// Statistics
	Stats Statistics

	// Errors encountered, fatal or tolerated
	Errors []JobError

	// Overall status
	Status JobStatus
}

// Statistics holds job counters
type Statistics struct {
	TotalBytes     int64
	ProcessedBytes int64

	TotalFiles     int
	ProcessedFiles int
	FilesSkipped   int
	FilesUpToDate  int // existing destinations that already held the source content

	TotalDirs     int
	ProcessedDirs int
	DirsSkipped   int

	Renames   int // direct renames and renamed conflicts
	Conflicts int // conflicts seen, whatever the answer
	Links     int
}

// JobStatus represents the overall result
type JobStatus string

const (
	// StatusSuccess indicates all operations completed successfully
	StatusSuccess JobStatus = "success"
	// StatusPartial indicates the job finished but some entries were skipped or failed
	StatusPartial JobStatus = "partial"
	// StatusFailed indicates the job stopped on a fatal error
	StatusFailed JobStatus = "failed"
	// StatusCancelled indicates the job was cancelled
	StatusCancelled JobStatus = "cancelled"
)

// JobError represents an error during a job
type JobError struct {
	Path      string
	Operation Action
	Error     string
	Tolerated bool
	Timestamp time.Time
}

// ExitCode returns the appropriate exit code for the job status
func (s JobStatus) ExitCode() int {
	switch s {
	case StatusSuccess:
		return 0
	case StatusPartial:
		return 1
	case StatusFailed:
		return 2
	case StatusCancelled:
		return 3
	default:
		return 2
	}
}
