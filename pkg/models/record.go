package models

import (
	"net/url"
	"time"
)

// Sentinels for metadata a backend could not report
const (
	UnknownSize        int64 = -1
	UnknownPermissions       = -1
)

// CopyRecord is one pending entry to materialize at the destination
type CopyRecord struct {
	// Source is the location the entry is read from
	Source url.URL

	// Dest is the location the entry is written to
	Dest url.URL

	// LinkTarget is non-empty when the entry is a symbolic link
	LinkTarget string

	// Permissions are the mode bits, UnknownPermissions when not known
	Permissions int

	// ModTime is the last modification time, zero when not known
	ModTime time.Time

	// CreatedTime is the creation time, zero when not known
	CreatedTime time.Time

	// Size in bytes, UnknownSize when not known
	Size int64

	// IsDir indicates a directory record
	IsDir bool
}

// IsLink reports whether the record describes a symbolic link
func (r *CopyRecord) IsLink() bool {
	return r.LinkTarget != ""
}

// HasSize reports whether the size is known
func (r *CopyRecord) HasSize() bool {
	return r.Size >= 0
}

// Action is what happened to a record, used in reports and journals
type Action string

const (
	ActionCopy     Action = "copy"
	ActionMove     Action = "move"
	ActionLink     Action = "link"
	ActionMkdir    Action = "mkdir"
	ActionRename   Action = "rename"
	ActionSkip     Action = "skip"
	ActionDelete   Action = "delete"
	ActionConflict Action = "conflict"
)
