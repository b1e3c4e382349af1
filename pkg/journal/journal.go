// Package journal records what a job created so that it can be undone.
//
// A Recorder is plugged into a job as an event sink. It keeps one Entry per
// created file, directory, link or renamed source and saves the journal as a
// JSON file. Undo replays a saved journal backwards.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sdejongh/kopier/pkg/copyjob"
	"github.com/sdejongh/kopier/pkg/models"
)

// Kind tells how an entry came to exist, and so how it is undone
type Kind string

const (
	// KindCopied is a file copied to Dest
	KindCopied Kind = "copied"
	// KindMoved is a file moved from Source to Dest
	KindMoved Kind = "moved"
	// KindRenamed is a source renamed in one step to Dest
	KindRenamed Kind = "renamed"
	// KindDir is a directory created at Dest
	KindDir Kind = "dir"
	// KindLink is a symbolic link created at Dest
	KindLink Kind = "link"
)

const (
	journalVersion = 1
	// saveEvery bounds how many entries can be lost if the process dies
	saveEvery = 100
)

// Entry is one undoable change
type Entry struct {
	Kind   Kind      `json:"kind"`
	Source string    `json:"source,omitempty"`
	Dest   string    `json:"dest"`
	Target string    `json:"target,omitempty"`
	Time   time.Time `json:"time"`
}

// Journal is the persisted record of one job
type Journal struct {
	// Version for journal file format compatibility
	Version int `json:"version"`

	JobID       string         `json:"job_id"`
	Mode        models.JobMode `json:"mode"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt time.Time      `json:"completed_at,omitempty"`

	Entries []Entry `json:"entries"`
}

// New creates an empty journal for a job
func New(jobID string, mode models.JobMode) *Journal {
	return &Journal{
		Version:   journalVersion,
		JobID:     jobID,
		Mode:      mode,
		CreatedAt: time.Now(),
		Entries:   []Entry{},
	}
}

// Load reads a journal file
func Load(path string) (*Journal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}

	var j Journal
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("failed to parse journal: %w", err)
	}
	if j.Version > journalVersion {
		return nil, fmt.Errorf("journal version %d is newer than supported version %d", j.Version, journalVersion)
	}
	return &j, nil
}

// Save writes the journal to path atomically
func (j *Journal) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create journal directory: %w", err)
	}

	data, err := json.MarshalIndent(j, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal journal: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write journal: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize journal: %w", err)
	}
	return nil
}

// DefaultDir returns the directory journals are kept in when none is
// configured
func DefaultDir() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir, _ = os.UserHomeDir()
		configDir = filepath.Join(configDir, ".config")
	}
	return filepath.Join(configDir, "kopier", "journal")
}

// PathFor returns the journal file of a job inside dir
func PathFor(dir, jobID string) string {
	if dir == "" {
		dir = DefaultDir()
	}
	return filepath.Join(dir, jobID+".json")
}

// Recorder turns job events into journal entries and keeps the file current
type Recorder struct {
	mu      sync.Mutex
	journal *Journal
	path    string
	unsaved int
	err     error
}

// NewRecorder creates a recorder writing the journal of a job to path
func NewRecorder(path, jobID string, mode models.JobMode) *Recorder {
	return &Recorder{journal: New(jobID, mode), path: path}
}

// Path returns the journal file
func (r *Recorder) Path() string {
	return r.path
}

// Emit implements copyjob.EventSink
func (r *Recorder) Emit(event copyjob.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch e := event.(type) {
	case copyjob.EntryCreated:
		entry := Entry{Source: e.Source.String(), Dest: e.Dest.String(), Time: time.Now()}
		switch {
		case e.Merged:
			return
		case e.Renamed:
			entry.Kind = KindRenamed
		case e.IsDir:
			entry.Kind = KindDir
			entry.Source = ""
		case r.journal.Mode == models.ModeMove:
			entry.Kind = KindMoved
		default:
			entry.Kind = KindCopied
		}
		r.add(entry)

	case copyjob.LinkCreated:
		entry := Entry{Kind: KindLink, Dest: e.Dest.String(), Target: e.Target, Time: time.Now()}
		// A moved link is recreated at its source on undo
		if r.journal.Mode == models.ModeMove {
			entry.Source = e.Source.String()
		}
		r.add(entry)

	case copyjob.FilesAdded, copyjob.FilesRemoved:
		r.save()
	}
}

func (r *Recorder) add(e Entry) {
	r.journal.Entries = append(r.journal.Entries, e)
	r.unsaved++
	if r.unsaved >= saveEvery {
		r.save()
	}
}

func (r *Recorder) save() {
	if err := r.journal.Save(r.path); err != nil {
		r.err = err
		return
	}
	r.unsaved = 0
}

// Close marks the journal complete and saves it. It reports the first save
// error seen while recording.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.journal.CompletedAt = time.Now()
	r.save()
	return r.err
}

// Entries returns a copy of the recorded entries
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.journal.Entries...)
}
