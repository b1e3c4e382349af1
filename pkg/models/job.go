package models

import (
	"fmt"
	"net/url"
	"time"
)

// JobMode defines what a job does with its sources
type JobMode string

const (
	// ModeCopy copies sources to the destination
	ModeCopy JobMode = "copy"
	// ModeMove moves sources to the destination
	ModeMove JobMode = "move"
	// ModeLink creates symbolic links to the sources at the destination
	ModeLink JobMode = "link"
)

// ParseJobMode parses a mode name
func ParseJobMode(s string) (JobMode, error) {
	switch JobMode(s) {
	case ModeCopy, ModeMove, ModeLink:
		return JobMode(s), nil
	}
	return "", fmt.Errorf("invalid job mode: %s (valid: copy, move, link)", s)
}

// ConflictPolicy defines how conflicts are answered when nobody is asked
type ConflictPolicy string

const (
	// PolicyAsk prompts the user for each conflict
	PolicyAsk ConflictPolicy = "ask"
	// PolicySkip skips every conflicting entry
	PolicySkip ConflictPolicy = "skip"
	// PolicyOverwrite overwrites every conflicting entry
	PolicyOverwrite ConflictPolicy = "overwrite"
	// PolicyRename keeps both by picking a free name for the new entry
	PolicyRename ConflictPolicy = "rename"
	// PolicyFail aborts the job on the first conflict
	PolicyFail ConflictPolicy = "fail"
)

// ParseConflictPolicy parses a conflict policy name
func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch ConflictPolicy(s) {
	case PolicyAsk, PolicySkip, PolicyOverwrite, PolicyRename, PolicyFail:
		return ConflictPolicy(s), nil
	}
	return "", fmt.Errorf("invalid conflict policy: %s (valid: ask, skip, overwrite, rename, fail)", s)
}

// JobSpec describes one copy, move or link request
type JobSpec struct {
	ID        string
	Sources   []url.URL
	Dest      url.URL
	Mode      JobMode
	As        bool // Dest is the literal target rather than a containing directory
	Policy    ConflictPolicy
	CreatedAt time.Time
}

// Validate checks if the job description is valid
func (j *JobSpec) Validate() error {
	if len(j.Sources) == 0 {
		return &ValidationError{Field: "Sources", Message: "at least one source is required"}
	}
	for i, src := range j.Sources {
		if src.Scheme == "" || (src.Path == "" && src.Host == "") {
			return &ValidationError{Field: fmt.Sprintf("Sources[%d]", i), Message: "source location is empty"}
		}
	}
	if j.Dest.Scheme == "" || (j.Dest.Path == "" && j.Dest.Host == "") {
		return &ValidationError{Field: "Dest", Message: "destination is required"}
	}
	switch j.Mode {
	case ModeCopy, ModeMove, ModeLink:
	default:
		return &ValidationError{Field: "Mode", Message: "mode must be copy, move or link"}
	}
	if j.As && len(j.Sources) > 1 {
		return &ValidationError{Field: "As", Message: "a literal destination needs exactly one source"}
	}
	return nil
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
