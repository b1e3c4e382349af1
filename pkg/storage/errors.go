package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
)

// Kind classifies a storage failure so callers can tell conflicts from
// fatal errors without inspecting backend specific errors.
type Kind int

const (
	KindOther Kind = iota
	KindNotExist
	KindAlreadyExists
	KindDirAlreadyExists
	KindIdenticalFiles
	KindIsDirectory
	KindUnsupported
	KindPermission
	KindCancelled
	KindNotEmpty
)

func (k Kind) String() string {
	switch k {
	case KindNotExist:
		return "does not exist"
	case KindAlreadyExists:
		return "already exists"
	case KindDirAlreadyExists:
		return "directory already exists"
	case KindIdenticalFiles:
		return "source and destination are the same file"
	case KindIsDirectory:
		return "is a directory"
	case KindUnsupported:
		return "operation not supported"
	case KindPermission:
		return "permission denied"
	case KindCancelled:
		return "cancelled"
	case KindNotEmpty:
		return "directory not empty"
	default:
		return "error"
	}
}

// Error is returned by every backend operation
type Error struct {
	Op   string
	URL  url.URL
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to %s %s: %v", e.Op, e.URL.String(), e.Err)
	}
	return fmt.Sprintf("failed to %s %s: %s", e.Op, e.URL.String(), e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds an Error of the given kind
func NewError(op string, u url.URL, kind Kind, err error) *Error {
	return &Error{Op: op, URL: u, Kind: kind, Err: err}
}

// Unsupported returns a KindUnsupported error for op
func Unsupported(op string, u url.URL) *Error {
	return &Error{Op: op, URL: u, Kind: KindUnsupported}
}

// KindOf returns the Kind of err, KindOther when err is not a storage error
func KindOf(err error) Kind {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindOther
}

// IsKind reports whether err is a storage error of one of kinds
func IsKind(err error, kinds ...Kind) bool {
	if err == nil {
		return false
	}
	k := KindOf(err)
	for _, want := range kinds {
		if k == want {
			return true
		}
	}
	return false
}

// IsConflict reports whether err is a naming conflict at the destination
func IsConflict(err error) bool {
	return IsKind(err, KindAlreadyExists, KindDirAlreadyExists, KindIdenticalFiles)
}

// fromOS maps an os package error to a storage Error
func fromOS(op string, u url.URL, err error) error {
	if err == nil {
		return nil
	}
	var serr *Error
	if errors.As(err, &serr) {
		return err
	}

	kind := KindOther
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		kind = KindCancelled
	case os.IsNotExist(err):
		kind = KindNotExist
	case os.IsExist(err):
		kind = KindAlreadyExists
	case os.IsPermission(err):
		kind = KindPermission
	}
	return &Error{Op: op, URL: u, Kind: kind, Err: err}
}
