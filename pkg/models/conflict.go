package models

import (
	"net/url"
	"time"
)

// ConflictKind tells whether a conflict concerns a file or a directory
type ConflictKind string

const (
	ConflictFile ConflictKind = "file"
	ConflictDir  ConflictKind = "dir"
)

// ConflictRequest carries everything a resolver needs to answer a naming conflict
type ConflictRequest struct {
	Kind   ConflictKind
	Source url.URL
	Dest   url.URL

	SourceSize int64
	DestSize   int64

	SourceCreated  time.Time
	DestCreated    time.Time
	SourceModified time.Time
	DestModified   time.Time

	// Multi is set when "apply to all" answers make sense
	Multi bool
	// AllowSkip is set when skipping this entry is possible
	AllowSkip bool
	// AllowOverwrite is cleared when the existing entry cannot be replaced
	AllowOverwrite bool
	// AllowOverwriteItself is set when source and destination are the same entry
	AllowOverwriteItself bool
}

// DecisionAction is the answer to a conflict
type DecisionAction string

const (
	DecisionCancel          DecisionAction = "cancel"
	DecisionRename          DecisionAction = "rename"
	DecisionAutoRename      DecisionAction = "auto-rename"
	DecisionSkip            DecisionAction = "skip"
	DecisionAutoSkip        DecisionAction = "auto-skip"
	DecisionOverwrite       DecisionAction = "overwrite"
	DecisionOverwriteAll    DecisionAction = "overwrite-all"
	DecisionOverwriteItself DecisionAction = "overwrite-itself"
)

// Decision is a resolver answer. NewName is only used with DecisionRename
// and holds the new base name of the destination.
type Decision struct {
	Action  DecisionAction
	NewName string
}

// SkipRequest describes a non-conflict failure the user may choose to skip
type SkipRequest struct {
	Source url.URL
	Dest   url.URL
	Err    error
	Multi  bool
}
