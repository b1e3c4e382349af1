package copyjob

import (
	"errors"
	"fmt"
	"net/url"
)

var (
	// ErrCancelled is returned when the user or the caller cancels a job
	ErrCancelled = errors.New("cancelled")
	// ErrIsFile is returned when a directory would be copied onto a file
	ErrIsFile = errors.New("destination is a file")
	// ErrCannotSymlink is returned for links between two different backends
	ErrCannotSymlink = errors.New("cannot create a symbolic link across backends")
	// ErrNotInteractive is returned when a conflict occurs and no resolver
	// was given to answer it
	ErrNotInteractive = errors.New("conflict needs an answer but the job is not interactive")
	// ErrNoSources is returned by New for an empty source list
	ErrNoSources = errors.New("no source given")
)

// JobError is the terminal error of a failed job
type JobError struct {
	State State
	URL   url.URL
	Err   error
}

func (e *JobError) Error() string {
	if e.URL.String() == "" {
		return fmt.Sprintf("%s: %v", e.State, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.State, e.URL.String(), e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}
