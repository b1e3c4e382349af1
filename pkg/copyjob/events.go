package copyjob

import (
	"net/url"

	"github.com/sdejongh/kopier/pkg/models"
)

// Event is the interface implemented by all job lifecycle events
type Event interface {
	isEvent()
}

// EventSink receives lifecycle events, always from the job's run loop
type EventSink interface {
	Emit(event Event)
}

// EventFunc adapts a function to EventSink
type EventFunc func(Event)

// Emit calls f
func (f EventFunc) Emit(event Event) { f(event) }

// EntryCreated is emitted when a file or directory was materialized.
// Renamed is set when a move was done by a direct rename, Merged when a
// directory already existed and receives the source's entries.
type EntryCreated struct {
	Source  url.URL
	Dest    url.URL
	IsDir   bool
	Renamed bool
	Merged  bool
}

func (EntryCreated) isEvent() {}

// LinkCreated is emitted when a symbolic link was created at Dest
type LinkCreated struct {
	Source url.URL
	Target string
	Dest   url.URL
}

func (LinkCreated) isEvent() {}

// Renamed is emitted when a destination changed name, either by a direct
// rename of a source or by a conflict answer.
type Renamed struct {
	Old url.URL
	New url.URL
}

func (Renamed) isEvent() {}

// CreatingDirectory is emitted before a directory is created
type CreatingDirectory struct {
	Dest url.URL
}

func (CreatingDirectory) isEvent() {}

// AboutToCreate announces the records that are going to be materialized
type AboutToCreate struct {
	Records []models.CopyRecord
}

func (AboutToCreate) isEvent() {}

// Skipped is emitted when a source entry is left out
type Skipped struct {
	Source url.URL
	Dest   url.URL
}

func (Skipped) isEvent() {}

// FilesAdded tells listeners that Dir got new entries
type FilesAdded struct {
	Dir url.URL
}

func (FilesAdded) isEvent() {}

// FilesRemoved tells listeners that the sources of a move are gone
type FilesRemoved struct {
	Sources []url.URL
}

func (FilesRemoved) isEvent() {}

// DirNotifier is told which directories a job is about to churn so that
// directory watchers can pause. Every Suppress is matched by a Restore.
type DirNotifier interface {
	Suppress(dir url.URL)
	Restore(dir url.URL)
	FilesAdded(dir url.URL)
	FilesRemoved(sources []url.URL)
}

type nopNotifier struct{}

func (nopNotifier) Suppress(url.URL)       {}
func (nopNotifier) Restore(url.URL)        {}
func (nopNotifier) FilesAdded(url.URL)     {}
func (nopNotifier) FilesRemoved([]url.URL) {}

type nopEvents struct{}

func (nopEvents) Emit(Event) {}

// MultiSink fans events out to several sinks
type MultiSink []EventSink

// Emit forwards event to every sink
func (m MultiSink) Emit(event Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(event)
		}
	}
}
