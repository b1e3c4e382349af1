package copyjob

import (
	"context"
	"fmt"

	"github.com/sdejongh/kopier/internal/platform"
	"github.com/sdejongh/kopier/pkg/logging"
	"github.com/sdejongh/kopier/pkg/models"
	"github.com/sdejongh/kopier/pkg/storage"
)

func (j *Job) startCopyingFiles() {
	if j.mode == models.ModeMove {
		for _, dir := range j.parentDirs {
			j.suppressDir(dir)
		}
	}
	j.setState(StateCopyingFiles)
	j.copyNextFile()
}

func (j *Job) copyNextFile() {
	j.setState(StateCopyingFiles)

	for len(j.files) > 0 && j.shouldSkip(j.files[0].Dest.Path) {
		j.files = j.files[1:]
		j.update(func(s *models.Statistics) { s.FilesSkipped++ })
	}
	if len(j.files) == 0 {
		j.deleteNextDir()
		return
	}

	rec := j.files[0]
	overwrite := !platform.Equal(rec.Source, rec.Dest) && j.shouldOverwrite(&j.fileFlags, rec.Dest.Path)
	sameBackend := platform.SameBackend(rec.Source, rec.Dest)

	j.setCurrent(rec.Source, rec.Dest)
	j.transferred.Store(0)
	j.linkOp = false

	opts := storage.CopyOptions{
		Permissions: rec.Permissions,
		Overwrite:   overwrite,
		ModTime:     rec.ModTime,
		Size:        rec.Size,
		Progress:    func(n int64) { j.transferred.Store(n) },
	}

	switch {
	case j.mode == models.ModeLink:
		if !sameBackend {
			j.fatal(rec.Dest, ErrCannotSymlink)
			return
		}
		j.linkOp = true
		j.call("symlink", rec.Dest, func(ctx context.Context) error {
			return j.fs.Symlink(ctx, rec.LinkTarget, rec.Dest, overwrite)
		}, j.fileDone)

	case rec.IsLink() && sameBackend:
		// A link is recreated, not followed; moving it removes the old one afterwards
		j.linkOp = true
		j.call("symlink", rec.Dest, func(ctx context.Context) error {
			return j.fs.Symlink(ctx, rec.LinkTarget, rec.Dest, overwrite)
		}, j.fileDone)

	case j.mode == models.ModeMove:
		j.call("move", rec.Source, func(ctx context.Context) error {
			return j.fs.Move(ctx, rec.Source, rec.Dest, opts)
		}, j.fileDone)

	default:
		// Files from a source that cannot be listed, such as plain web
		// servers, would otherwise end up read-only
		remoteSource := !j.fs.Capabilities(rec.Source).SupportsListing
		if j.opts.DefaultPermissions || (remoteSource && platform.IsLocal(rec.Dest)) {
			opts.Permissions = models.UnknownPermissions
		}
		j.call("copy", rec.Source, func(ctx context.Context) error {
			return j.fs.Copy(ctx, rec.Source, rec.Dest, opts)
		}, j.fileDone)
	}
}

func (j *Job) fileDone(err error) {
	rec := j.files[0]
	if err != nil {
		j.fileFailed(rec, err)
		return
	}
	if j.linkOp && j.mode == models.ModeMove {
		j.call("remove", rec.Source, func(ctx context.Context) error {
			return j.fs.Remove(ctx, rec.Source)
		}, func(err error) {
			if err != nil {
				j.tolerate(rec.Source, models.ActionDelete, err)
			} else {
				j.markMoved(rec.Source)
			}
			j.fileCompleted(rec)
		})
		return
	}
	if j.mode == models.ModeMove && !j.linkOp {
		j.markMoved(rec.Source)
	}
	j.fileCompleted(rec)
}

func (j *Job) fileCompleted(rec models.CopyRecord) {
	if j.linkOp {
		j.emit(LinkCreated{Source: rec.Source, Target: rec.LinkTarget, Dest: rec.Dest})
		j.update(func(s *models.Statistics) { s.Links++ })
	} else {
		j.emit(EntryCreated{Source: rec.Source, Dest: rec.Dest})
	}
	j.popFile(rec)
}

// popFile counts the front file as processed and moves on
func (j *Job) popFile(rec models.CopyRecord) {
	n := j.transferred.Swap(0)
	if rec.HasSize() {
		n = rec.Size
	}
	j.update(func(s *models.Statistics) {
		s.ProcessedFiles++
		s.ProcessedBytes += n
	})
	j.files = j.files[1:]
	j.copyNextFile()
}

// skipFile drops the front file. Its size still counts as processed so
// that progress reaches the total.
func (j *Job) skipFile(rec models.CopyRecord) {
	j.skip(rec.Source)
	j.emit(Skipped{Source: rec.Source, Dest: rec.Dest})
	j.transferred.Store(0)
	j.update(func(s *models.Statistics) {
		s.FilesSkipped++
		if rec.HasSize() {
			s.ProcessedBytes += rec.Size
		}
	})
	j.files = j.files[1:]
	j.copyNextFile()
}

func (j *Job) fileFailed(rec models.CopyRecord, err error) {
	if storage.IsKind(err, storage.KindCancelled) {
		j.fatal(rec.Source, fmt.Errorf("%w: %w", ErrCancelled, err))
		return
	}
	if j.fileFlags.skip {
		j.tolerate(rec.Source, actionOf(StateCopyingFiles, j.mode), err)
		j.skipFile(rec)
		return
	}

	if !storage.IsConflict(err) {
		j.askSkip(rec, err)
		return
	}

	j.update(func(s *models.Statistics) { s.Conflicts++ })
	switch {
	case j.fileFlags.rename:
		j.renameFile(rec, suggestName(platform.FileName(rec.Dest)))
		return
	case j.opts.Resolver == nil:
		j.fatal(rec.Dest, fmt.Errorf("%w: %w", ErrNotInteractive, err))
		return
	}

	j.conflictErr = err
	j.setState(StateConflictCopyingFiles)
	j.stat(rec.Dest, func(e storage.Entry, serr error) {
		req := models.ConflictRequest{
			Kind:           models.ConflictFile,
			Source:         rec.Source,
			Dest:           rec.Dest,
			SourceSize:     rec.Size,
			DestSize:       models.UnknownSize,
			SourceCreated:  rec.CreatedTime,
			SourceModified: rec.ModTime,
			Multi:          !j.singleFileCopy,
			AllowSkip:      !j.singleFileCopy,
		}
		if serr == nil {
			req.DestSize = e.Size
			req.DestCreated = e.CreatedTime
			req.DestModified = e.ModTime
		}
		switch {
		case storage.IsKind(j.conflictErr, storage.KindDirAlreadyExists):
			// A directory is never replaced by a file
		case storage.IsKind(j.conflictErr, storage.KindIdenticalFiles) || sameEntry(rec, e):
			req.AllowOverwriteItself = true
		default:
			req.AllowOverwrite = true
		}

		if req.AllowOverwrite && serr == nil && j.checksContent() && (!rec.HasSize() || e.Size == rec.Size) {
			j.compareContent(rec, req)
			return
		}
		j.resolveFileConflict(rec, req)
	})
}

// checksContent tells whether an existing destination file is compared with
// its source before the conflict is reported
func (j *Job) checksContent() bool {
	return j.opts.SameContent != nil && j.mode == models.ModeCopy && !j.linkOp
}

// compareContent treats a destination that already holds the source content
// as copied
func (j *Job) compareContent(rec models.CopyRecord, req models.ConflictRequest) {
	var same bool
	j.call("compare", rec.Dest, func(ctx context.Context) error {
		var err error
		same, err = j.opts.SameContent(ctx, rec.Source, rec.Dest)
		return err
	}, func(err error) {
		switch {
		case err != nil:
			j.log.Warn(j.ctx, "content comparison failed", logging.Fields{
				"source": rec.Source.String(),
				"dest":   rec.Dest.String(),
				"error":  err.Error(),
			})
		case same:
			j.log.Info(j.ctx, "destination already up to date", logging.Fields{
				"source": rec.Source.String(),
				"dest":   rec.Dest.String(),
			})
			j.update(func(s *models.Statistics) { s.FilesUpToDate++ })
			j.popFile(rec)
			return
		}
		j.resolveFileConflict(rec, req)
	})
}

func (j *Job) resolveFileConflict(rec models.CopyRecord, req models.ConflictRequest) {
	d, aerr := j.ask(req)
	if aerr != nil {
		j.fatal(rec.Dest, aerr)
		return
	}
	d, aerr = checkDecision(req, d)
	if aerr != nil {
		j.fatal(rec.Dest, aerr)
		return
	}

	switch d.Action {
	case models.DecisionCancel:
		j.cancel(rec.Dest)
	case models.DecisionRename:
		j.renameFile(rec, d.NewName)
	case models.DecisionAutoRename:
		j.fileFlags.rename = true
		j.renameFile(rec, suggestName(platform.FileName(rec.Dest)))
	case models.DecisionAutoSkip:
		j.fileFlags.skip = true
		j.skipFile(rec)
	case models.DecisionSkip:
		j.skipFile(rec)
	case models.DecisionOverwriteAll:
		j.fileFlags.overwrite = true
		j.copyNextFile()
	case models.DecisionOverwrite:
		j.overwritePaths = append(j.overwritePaths, rec.Dest.Path)
		j.copyNextFile()
	case models.DecisionOverwriteItself:
		j.popFile(rec)
	}
}

// askSkip offers to skip an entry that failed for another reason than a
// naming conflict
func (j *Job) askSkip(rec models.CopyRecord, err error) {
	asker, ok := j.opts.Resolver.(SkipAsker)
	if !ok {
		j.fatal(rec.Source, err)
		return
	}

	j.asking.Store(true)
	d, aerr := asker.AskSkip(j.ctx, models.SkipRequest{
		Source: rec.Source,
		Dest:   rec.Dest,
		Err:    err,
		Multi:  len(j.files) > 1,
	})
	j.asking.Store(false)
	if aerr != nil {
		j.fatal(rec.Source, aerr)
		return
	}

	switch d.Action {
	case models.DecisionAutoSkip:
		j.fileFlags.skip = true
		fallthrough
	case models.DecisionSkip:
		j.tolerate(rec.Source, actionOf(StateCopyingFiles, j.mode), err)
		j.skipFile(rec)
	default:
		j.cancel(rec.Source)
	}
}

func (j *Job) renameFile(rec models.CopyRecord, newName string) {
	newDest := platform.WithFileName(rec.Dest, newName)
	j.emit(Renamed{Old: rec.Dest, New: newDest})
	j.update(func(s *models.Statistics) { s.Renames++ })

	j.files[0].Dest = newDest
	j.emit(AboutToCreate{Records: []models.CopyRecord{j.files[0]}})
	j.copyNextFile()
}

// deleteNextDir removes moved source directories, deepest first
func (j *Job) deleteNextDir() {
	if j.mode != models.ModeMove || len(j.dirsToRemove) == 0 {
		j.setNextDirAttribute()
		return
	}

	j.setState(StateDeletingDirs)
	last := len(j.dirsToRemove) - 1
	dir := j.dirsToRemove[last]
	j.dirsToRemove = j.dirsToRemove[:last]
	j.setCurrent(dir, dir)

	j.call("rmdir", dir, func(ctx context.Context) error {
		return j.fs.Rmdir(ctx, dir)
	}, func(err error) {
		if err != nil {
			// Skipped entries legitimately keep a directory populated
			j.log.Debug(j.ctx, "source directory not removed", logging.Fields{"url": dir.String(), "error": err.Error()})
		} else {
			j.markMoved(dir)
		}
		j.deleteNextDir()
	})
}

func (j *Job) setNextDirAttribute() {
	j.setState(StateSettingDirAttributes)

	for len(j.dirsCopied) > 0 {
		rec := j.dirsCopied[0]
		j.dirsCopied = j.dirsCopied[1:]
		if rec.ModTime.IsZero() {
			continue
		}
		j.call("set-mtime", rec.Dest, func(ctx context.Context) error {
			return j.fs.SetModTime(ctx, rec.Dest, rec.ModTime)
		}, func(err error) {
			if err != nil {
				j.log.Debug(j.ctx, "modification time not restored", logging.Fields{"url": rec.Dest.String(), "error": err.Error()})
			}
			j.setNextDirAttribute()
		})
		return
	}
	j.finish()
}
