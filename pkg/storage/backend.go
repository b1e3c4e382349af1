package storage

import (
	"context"
	"io"
	"net/url"
	"time"
)

// Entry describes one filesystem entry as reported by stat or list
type Entry struct {
	// Name is the display name (last path element)
	Name string
	// RelPath is the slash separated path relative to the listed directory,
	// empty for stat results
	RelPath string

	IsDir      bool
	IsLink     bool
	LinkTarget string

	Size        int64 // -1 when unknown
	ModTime     time.Time
	CreatedTime time.Time
	Permissions int // -1 when unknown

	// LocalPath is the canonical local path when the backend maps to one
	LocalPath string
}

// Capabilities tells the copy engine which shortcuts a backend supports
type Capabilities struct {
	// CanRename is set when Rename works inside the backend
	CanRename bool
	// CanRenameFromFile is set when Rename accepts a local source
	CanRenameFromFile bool
	// CanRenameToFile is set when Rename accepts a local destination
	CanRenameToFile bool
	// SupportsDeleting is set when Remove and Rmdir work
	SupportsDeleting bool
	// SupportsListing is set when List works
	SupportsListing bool
	// SupportsSymlink is set when Symlink works
	SupportsSymlink bool
}

// CopyOptions tunes a Copy, Move or Create
type CopyOptions struct {
	// Permissions to apply to the new entry, -1 keeps the backend default
	Permissions int
	// Overwrite replaces an existing destination
	Overwrite bool
	// ModTime is restored on the new entry when not zero
	ModTime time.Time
	// Size is the expected size, -1 when unknown
	Size int64
	// Progress receives the running number of bytes transferred
	Progress func(transferred int64)
}

// Backend defines the file-access layer of one URL scheme.
// Each call is one independent sub-operation that succeeds or fails; errors
// are *Error values.
type Backend interface {
	// Stat returns metadata of the entry at u without following a final symlink
	Stat(ctx context.Context, u url.URL) (Entry, error)

	// List walks the directory at u recursively and hands entries to fn in batches
	List(ctx context.Context, u url.URL, fn func([]Entry) error) error

	// Mkdir creates one directory, permissions -1 means backend default
	Mkdir(ctx context.Context, u url.URL, permissions int) error

	// Copy copies a file inside the backend
	Copy(ctx context.Context, src, dst url.URL, opts CopyOptions) error

	// Move moves a file inside the backend
	Move(ctx context.Context, src, dst url.URL, opts CopyOptions) error

	// Symlink creates dst as a symbolic link pointing to target
	Symlink(ctx context.Context, target string, dst url.URL, overwrite bool) error

	// Rename renames src to dst in one step
	Rename(ctx context.Context, src, dst url.URL, overwrite bool) error

	// Rmdir removes an empty directory
	Rmdir(ctx context.Context, u url.URL) error

	// Remove removes a file or symlink
	Remove(ctx context.Context, u url.URL) error

	// SetModTime sets the modification time
	SetModTime(ctx context.Context, u url.URL, t time.Time) error

	// Capabilities describes what the backend supports
	Capabilities() Capabilities

	// Close releases any resources held by the backend
	Close() error
}

// Streamer is implemented by backends that can read and write file content
// as streams, which is how copies between two backends are done.
type Streamer interface {
	// Open opens the file at u for reading
	Open(ctx context.Context, u url.URL) (io.ReadCloser, Entry, error)

	// Create writes r to a new file at u
	Create(ctx context.Context, u url.URL, r io.Reader, opts CopyOptions) error
}
