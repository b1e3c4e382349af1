// Package copyjob implements the copy, move and link orchestrator.
//
// A Job walks its sources, fills two pending queues (directories and
// files), then materializes them at the destination one sub-operation at a
// time. Every decision a job takes is driven by the result of the previous
// sub-operation, so a job is a state machine run by a single goroutine.
package copyjob

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sdejongh/kopier/internal/platform"
	"github.com/sdejongh/kopier/pkg/logging"
	"github.com/sdejongh/kopier/pkg/models"
	"github.com/sdejongh/kopier/pkg/storage"
)

// DefaultReportInterval is the progress report period used when none is set
const DefaultReportInterval = 200 * time.Millisecond

// FileSystem is the file-access layer a job drives. storage.Mux implements it.
type FileSystem interface {
	Stat(ctx context.Context, u url.URL) (storage.Entry, error)
	List(ctx context.Context, u url.URL, fn func([]storage.Entry) error) error
	Mkdir(ctx context.Context, u url.URL, permissions int) error
	Copy(ctx context.Context, src, dst url.URL, opts storage.CopyOptions) error
	Move(ctx context.Context, src, dst url.URL, opts storage.CopyOptions) error
	Symlink(ctx context.Context, target string, dst url.URL, overwrite bool) error
	Rename(ctx context.Context, src, dst url.URL, overwrite bool) error
	Rmdir(ctx context.Context, u url.URL) error
	Remove(ctx context.Context, u url.URL) error
	SetModTime(ctx context.Context, u url.URL, t time.Time) error
	Capabilities(u url.URL) storage.Capabilities
}

// ProgressSink receives periodic progress snapshots
type ProgressSink interface {
	Report(p models.Progress)
}

// Options tunes a job. The zero value is a non-interactive job without
// progress reporting.
type Options struct {
	// Resolver answers naming conflicts; nil makes the job non-interactive
	Resolver Resolver

	// Events receives lifecycle events
	Events EventSink

	// Notifier is told which directories are being modified
	Notifier DirNotifier

	// Progress receives snapshots every ReportInterval
	Progress       ProgressSink
	ReportInterval time.Duration

	Logger logging.Logger

	// ResolveLocalURLs replaces the destination by its canonical local path
	// when the backend reports one
	ResolveLocalURLs bool

	// DefaultPermissions creates files with the backend default permissions
	// instead of the source ones
	DefaultPermissions bool

	// TempName generates the temporary name used by case-only renames
	TempName func() string

	// SameContent, when set, is asked whether an existing destination file
	// already holds the source content before a copy conflict is reported.
	// Matching files are counted as copied.
	SameContent func(ctx context.Context, src, dst url.URL) (bool, error)
}

// subOp is one outstanding sub-operation and the continuation that consumes
// its result
type subOp struct {
	name    string
	url     url.URL
	run     func(ctx context.Context, post func([]storage.Entry)) (storage.Entry, error)
	onBatch func([]storage.Entry)
	then    func(entry storage.Entry, err error)
}

type completion struct {
	final bool
	batch []storage.Entry
	entry storage.Entry
	err   error
}

type autoFlags struct {
	skip      bool
	overwrite bool
	rename    bool
}

// Job copies, moves or links a list of sources to one destination
type Job struct {
	id      string
	mode    models.JobMode
	sources []url.URL
	dest    url.URL
	as      bool

	fs     FileSystem
	opts   Options
	log    logging.Logger
	events EventSink
	notify DirNotifier

	// Owned by the run loop
	ctx             context.Context
	globalDest      url.URL
	globalDestState destState
	curDest         url.URL
	curDestState    destState
	srcIdx          int
	listSrc         url.URL
	listDest        url.URL

	dirs         []models.CopyRecord
	files        []models.CopyRecord
	dirsToRemove []url.URL
	dirsCopied   []models.CopyRecord
	parentDirs   map[string]url.URL
	suppressed   []url.URL

	skipPaths      []string
	overwritePaths []string
	fileFlags      autoFlags
	dirFlags       autoFlags

	onlyRenames    bool
	singleFileCopy bool
	linkOp         bool
	conflictErr    error
	renameSrc      url.URL
	renameDest     url.URL
	renamed        []url.URL
	moved          []url.URL
	errs           []models.JobError

	inflight    *subOp
	held        *subOp
	suspended   bool
	cancelErr   error
	finished    bool
	err         error
	completions chan completion
	ctrl        chan bool
	skips       chan url.URL
	done        chan struct{}
	started     atomic.Bool

	reporter    *Reporter
	asking      atomic.Bool
	transferred atomic.Int64

	// Shared with the reporter and callers
	mu        sync.Mutex
	state     State
	stats     models.Statistics
	srcList   []url.URL
	curSrcStr string
	curDstStr string
	startTime time.Time
	report    *models.JobReport
}

// New creates a job from a validated job description
func New(spec models.JobSpec, fs FileSystem, opts Options) (*Job, error) {
	if len(spec.Sources) == 0 {
		return nil, ErrNoSources
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid job: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop
	}
	if opts.Events == nil {
		opts.Events = nopEvents{}
	}
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}
	if opts.ReportInterval <= 0 {
		opts.ReportInterval = DefaultReportInterval
	}
	if opts.TempName == nil {
		opts.TempName = uuid.NewString
	}
	id := spec.ID
	if id == "" {
		id = uuid.NewString()
	}

	j := &Job{
		id:          id,
		mode:        spec.Mode,
		sources:     append([]url.URL(nil), spec.Sources...),
		dest:        spec.Dest,
		as:          spec.As,
		fs:          fs,
		opts:        opts,
		events:      opts.Events,
		notify:      opts.Notifier,
		parentDirs:  make(map[string]url.URL),
		onlyRenames: spec.Mode == models.ModeMove,
		completions: make(chan completion),
		ctrl:        make(chan bool),
		skips:       make(chan url.URL),
		done:        make(chan struct{}),
		srcList:     append([]url.URL(nil), spec.Sources...),
	}
	j.log = opts.Logger.WithFields(logging.Fields{"job_id": id, "mode": string(spec.Mode)})
	return j, nil
}

// ID returns the job identifier
func (j *Job) ID() string { return j.id }

// Run executes the job until it is done, fails or ctx is cancelled.
// It returns the final report along with the terminal error, if any.
func (j *Job) Run(ctx context.Context) (*models.JobReport, error) {
	if !j.started.CompareAndSwap(false, true) {
		return nil, errors.New("job already started")
	}
	defer close(j.done)

	j.ctx = ctx
	j.mu.Lock()
	j.startTime = time.Now()
	j.mu.Unlock()

	j.log.Info(ctx, "job started", logging.Fields{
		"sources": len(j.sources),
		"dest":    j.dest.String(),
	})

	defer j.restoreDirs()

	if j.opts.Progress != nil {
		j.reporter = newReporter(j, j.opts.Progress, j.opts.ReportInterval)
		j.reporter.start()
	}

	j.statDest()
	j.loop(ctx)

	if j.reporter != nil {
		j.reporter.stop()
	}

	report := j.buildReport()
	if j.err != nil {
		j.log.Error(ctx, "job failed", j.err, logging.Fields{"status": string(report.Status)})
		return report, j.err
	}
	j.log.Info(ctx, "job completed", logging.Fields{
		"status":          string(report.Status),
		"processed_files": report.Stats.ProcessedFiles,
		"processed_bytes": report.Stats.ProcessedBytes,
		"duration":        report.Duration.String(),
	})
	return report, nil
}

func (j *Job) loop(ctx context.Context) {
	ctxDone := ctx.Done()
	for !j.finished {
		select {
		case c := <-j.completions:
			op := j.inflight
			if !c.final {
				if op.onBatch != nil {
					op.onBatch(c.batch)
				}
				continue
			}
			j.inflight = nil
			if j.cancelErr != nil && c.err != nil {
				j.fatal(op.url, j.cancelErr)
				continue
			}
			op.then(c.entry, c.err)

		case suspend := <-j.ctrl:
			j.control(suspend)

		case u := <-j.skips:
			j.skip(u)

		case <-ctxDone:
			ctxDone = nil
			j.cancelErr = fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
			if j.inflight == nil {
				u := j.dest
				if j.held != nil {
					u = j.held.url
				}
				j.held = nil
				j.fatal(u, j.cancelErr)
			}
		}

		if !j.finished && j.inflight == nil && j.held == nil {
			j.fatal(url.URL{}, fmt.Errorf("no sub-operation outstanding in state %s", j.currentState()))
		}
	}
}

func (j *Job) control(suspend bool) {
	switch {
	case suspend && !j.suspended:
		j.suspended = true
		j.log.Info(j.ctx, "job suspended", nil)
		if j.inflight == nil && j.held != nil {
			j.flush()
		}
	case !suspend && j.suspended:
		j.suspended = false
		j.log.Info(j.ctx, "job resumed", nil)
		if op := j.held; op != nil {
			j.held = nil
			j.launch(op)
		}
	}
}

// start dispatches op, or holds it while the job is suspended
func (j *Job) start(op *subOp) {
	if err := j.ctx.Err(); err != nil && j.cancelErr == nil {
		j.cancelErr = fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	if j.cancelErr != nil {
		j.fatal(op.url, j.cancelErr)
		return
	}
	if j.suspended {
		j.held = op
		j.flush()
		return
	}
	j.launch(op)
}

func (j *Job) launch(op *subOp) {
	j.inflight = op
	j.log.Debug(j.ctx, "dispatch", logging.Fields{
		"op":    op.name,
		"url":   op.url.String(),
		"state": j.currentState().String(),
	})
	ctx := j.ctx
	go func() {
		post := func(batch []storage.Entry) {
			j.completions <- completion{batch: batch}
		}
		entry, err := op.run(ctx, post)
		j.completions <- completion{final: true, entry: entry, err: err}
	}()
}

// call starts a sub-operation that only reports an error
func (j *Job) call(name string, u url.URL, fn func(ctx context.Context) error, then func(err error)) {
	j.start(&subOp{
		name: name,
		url:  u,
		run: func(ctx context.Context, _ func([]storage.Entry)) (storage.Entry, error) {
			return storage.Entry{}, fn(ctx)
		},
		then: func(_ storage.Entry, err error) { then(err) },
	})
}

func (j *Job) stat(u url.URL, then func(storage.Entry, error)) {
	j.start(&subOp{
		name: "stat",
		url:  u,
		run: func(ctx context.Context, _ func([]storage.Entry)) (storage.Entry, error) {
			return j.fs.Stat(ctx, u)
		},
		then: then,
	})
}

func (j *Job) list(u url.URL, onBatch func([]storage.Entry), then func(error)) {
	j.start(&subOp{
		name: "list",
		url:  u,
		run: func(ctx context.Context, post func([]storage.Entry)) (storage.Entry, error) {
			return storage.Entry{}, j.fs.List(ctx, u, func(batch []storage.Entry) error {
				post(batch)
				return nil
			})
		},
		onBatch: onBatch,
		then:    func(_ storage.Entry, err error) { then(err) },
	})
}

// Suspend holds the job after its outstanding sub-operation completes
func (j *Job) Suspend() {
	select {
	case j.ctrl <- true:
	case <-j.done:
	}
}

// Resume dispatches the held sub-operation of a suspended job
func (j *Job) Resume() {
	select {
	case j.ctrl <- false:
	case <-j.done:
	}
}

// SkipSource removes a top-level source from the list of sources reported
// as removed at the end of a move. The run loop applies it between two
// sub-operations.
func (j *Job) SkipSource(u url.URL) {
	select {
	case j.skips <- u:
	case <-j.done:
	}
}

// State returns the current state
func (j *Job) State() State {
	return j.currentState()
}

// Stats returns a copy of the current counters
func (j *Job) Stats() models.Statistics {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stats
}

// Report returns the final report, nil while the job is running
func (j *Job) Report() *models.JobReport {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.report
}

// Done is closed when Run returns
func (j *Job) Done() <-chan struct{} {
	return j.done
}

func (j *Job) currentState() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func (j *Job) setState(s State) {
	j.mu.Lock()
	prev := j.state
	j.state = s
	j.mu.Unlock()
	if prev != s {
		j.log.Debug(j.ctx, "state changed", logging.Fields{"from": prev.String(), "to": s.String()})
	}
}

func (j *Job) setCurrent(src, dst url.URL) {
	j.mu.Lock()
	j.curSrcStr = src.String()
	j.curDstStr = dst.String()
	j.mu.Unlock()
}

func (j *Job) update(fn func(s *models.Statistics)) {
	j.mu.Lock()
	fn(&j.stats)
	j.mu.Unlock()
}

func (j *Job) emit(e Event) {
	j.events.Emit(e)
}

func (j *Job) flush() {
	if j.reporter != nil {
		j.reporter.flush()
	}
}

// skip drops u from the sources to report as removed and from the
// directories to delete
func (j *Job) skip(u url.URL) {
	j.mu.Lock()
	j.srcList = removeURL(j.srcList, u)
	j.moved = removeURL(j.moved, u)
	j.mu.Unlock()
	j.dirsToRemove = removeURL(j.dirsToRemove, u)
}

// markMoved records a top-level source that no longer exists at its
// original location
func (j *Job) markMoved(u url.URL) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, s := range j.srcList {
		if platform.Equal(s, u) {
			j.moved = append(j.moved, u)
			return
		}
	}
}

func removeURL(list []url.URL, u url.URL) []url.URL {
	out := list[:0]
	for _, v := range list {
		if !platform.Equal(v, u) {
			out = append(out, v)
		}
	}
	return out
}

func (j *Job) shouldSkip(p string) bool {
	for _, prefix := range j.skipPaths {
		if platform.HasPathPrefix(p, prefix) {
			return true
		}
	}
	return false
}

func (j *Job) shouldOverwrite(flags *autoFlags, p string) bool {
	if flags.overwrite {
		return true
	}
	for _, prefix := range j.overwritePaths {
		if platform.HasPathPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// tolerate records a failure that does not stop the job
func (j *Job) tolerate(u url.URL, action models.Action, err error) {
	j.log.Warn(j.ctx, "operation failed, continuing", logging.Fields{
		"url":    u.String(),
		"action": string(action),
		"error":  err.Error(),
	})
	j.errs = append(j.errs, models.JobError{
		Path:      u.String(),
		Operation: action,
		Error:     err.Error(),
		Tolerated: true,
		Timestamp: time.Now(),
	})
}

// fatal stops the job. Already completed work is kept and announced.
func (j *Job) fatal(u url.URL, err error) {
	if j.finished {
		return
	}
	state := j.currentState()
	j.err = &JobError{State: state, URL: u, Err: err}
	j.errs = append(j.errs, models.JobError{
		Path:      u.String(),
		Operation: actionOf(state, j.mode),
		Error:     err.Error(),
		Timestamp: time.Now(),
	})
	j.setState(StateFailed)
	j.finished = true
	j.announce(false)
}

func (j *Job) cancel(u url.URL) {
	j.fatal(u, ErrCancelled)
}

func (j *Job) finish() {
	j.setState(StateDone)
	j.finished = true
	j.announce(true)
}

// announce emits the bulk notifications of the end of a job
func (j *Job) announce(complete bool) {
	if !j.onlyRenames {
		dir := j.destDir()
		j.emit(FilesAdded{Dir: dir})
		j.notify.FilesAdded(dir)
	}
	if j.mode != models.ModeMove {
		return
	}
	j.mu.Lock()
	removed := append(append([]url.URL(nil), j.renamed...), j.moved...)
	if complete {
		removed = append([]url.URL(nil), j.srcList...)
	}
	j.mu.Unlock()
	if len(removed) > 0 {
		j.emit(FilesRemoved{Sources: removed})
		j.notify.FilesRemoved(removed)
	}
}

// destDir is the directory that receives new entries
func (j *Job) destDir() url.URL {
	if j.globalDestState != destIsDir || j.as {
		return platform.Parent(j.globalDest)
	}
	return j.globalDest
}

func (j *Job) suppressDir(dir url.URL) {
	for _, s := range j.suppressed {
		if platform.Equal(s, dir) {
			return
		}
	}
	j.suppressed = append(j.suppressed, dir)
	j.notify.Suppress(dir)
}

func (j *Job) restoreDirs() {
	for _, dir := range j.suppressed {
		j.notify.Restore(dir)
	}
	j.suppressed = nil
}

func (j *Job) buildReport() *models.JobReport {
	j.mu.Lock()
	defer j.mu.Unlock()

	end := time.Now()
	report := &models.JobReport{
		JobID:     j.id,
		Mode:      j.mode,
		Dest:      j.dest.String(),
		StartTime: j.startTime,
		EndTime:   end,
		Duration:  end.Sub(j.startTime),
		Stats:     j.stats,
		Errors:    append([]models.JobError(nil), j.errs...),
	}
	for _, s := range j.sources {
		report.Sources = append(report.Sources, s.String())
	}

	switch {
	case j.err != nil && errors.Is(j.err, ErrCancelled):
		report.Status = models.StatusCancelled
	case j.err != nil:
		report.Status = models.StatusFailed
	case len(j.errs) > 0 || j.stats.FilesSkipped > 0 || j.stats.DirsSkipped > 0:
		report.Status = models.StatusPartial
	default:
		report.Status = models.StatusSuccess
	}
	j.report = report
	return report
}

func actionOf(s State, mode models.JobMode) models.Action {
	switch s {
	case StateRenaming, StateRenamingViaTemp, StateRevertingTempRename:
		return models.ActionRename
	case StateCreatingDirs, StateConflictCreatingDirs:
		return models.ActionMkdir
	case StateDeletingDirs:
		return models.ActionDelete
	case StateCopyingFiles, StateConflictCopyingFiles:
		switch mode {
		case models.ModeMove:
			return models.ActionMove
		case models.ModeLink:
			return models.ActionLink
		}
		return models.ActionCopy
	}
	return models.ActionCopy
}
