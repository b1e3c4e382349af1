package copyjob

import (
	"context"
	"fmt"
	"strings"

	"github.com/sdejongh/kopier/internal/platform"
	"github.com/sdejongh/kopier/pkg/models"
	"github.com/sdejongh/kopier/pkg/storage"
)

func (j *Job) createNextDir() {
	j.setState(StateCreatingDirs)

	for len(j.dirs) > 0 && j.shouldSkip(j.dirs[0].Dest.Path) {
		j.dirs = j.dirs[1:]
		j.update(func(s *models.Statistics) { s.DirsSkipped++ })
	}
	if len(j.dirs) == 0 {
		j.startCopyingFiles()
		return
	}

	rec := j.dirs[0]
	j.setCurrent(rec.Source, rec.Dest)
	j.emit(CreatingDirectory{Dest: rec.Dest})
	// Created with default permissions so files can be written into it
	j.call("mkdir", rec.Dest, func(ctx context.Context) error {
		return j.fs.Mkdir(ctx, rec.Dest, models.UnknownPermissions)
	}, j.mkdirDone)
}

func (j *Job) mkdirDone(err error) {
	rec := j.dirs[0]
	switch {
	case err == nil:
		j.emit(EntryCreated{Source: rec.Source, Dest: rec.Dest, IsDir: true})
		j.dirsCopied = append(j.dirsCopied, rec)
		j.popDir()
	case storage.IsKind(err, storage.KindAlreadyExists, storage.KindDirAlreadyExists):
		j.dirConflict(rec, err)
	default:
		j.fatal(rec.Dest, err)
	}
}

func (j *Job) popDir() {
	j.dirs = j.dirs[1:]
	j.update(func(s *models.Statistics) { s.ProcessedDirs++ })
	j.createNextDir()
}

func (j *Job) skipDir(rec models.CopyRecord) {
	j.skipPaths = append(j.skipPaths, rec.Dest.Path)
	j.skip(rec.Source)
	j.emit(Skipped{Source: rec.Source, Dest: rec.Dest})
	j.update(func(s *models.Statistics) { s.DirsSkipped++ })
	j.popDir()
}

// mergeDir keeps the existing directory and overwrites what lands in it
func (j *Job) mergeDir(rec models.CopyRecord) {
	j.overwritePaths = append(j.overwritePaths, rec.Dest.Path)
	j.emit(EntryCreated{Source: rec.Source, Dest: rec.Dest, IsDir: true, Merged: true})
	j.popDir()
}

func (j *Job) dirConflict(rec models.CopyRecord, err error) {
	j.conflictErr = err
	j.update(func(s *models.Statistics) { s.Conflicts++ })

	switch {
	case j.dirFlags.skip:
		j.skipDir(rec)
		return
	case j.shouldOverwrite(&j.dirFlags, rec.Dest.Path):
		j.emit(EntryCreated{Source: rec.Source, Dest: rec.Dest, IsDir: true, Merged: true})
		j.popDir()
		return
	case j.dirFlags.rename:
		j.renameDir(rec, suggestName(platform.FileName(rec.Dest)))
		return
	case j.opts.Resolver == nil:
		j.fatal(rec.Dest, fmt.Errorf("%w: %w", ErrNotInteractive, err))
		return
	}

	j.setState(StateConflictCreatingDirs)
	j.stat(rec.Dest, func(e storage.Entry, serr error) {
		req := models.ConflictRequest{
			Kind:           models.ConflictDir,
			Source:         rec.Source,
			Dest:           rec.Dest,
			SourceSize:     rec.Size,
			DestSize:       models.UnknownSize,
			SourceCreated:  rec.CreatedTime,
			SourceModified: rec.ModTime,
			Multi:          true,
			AllowSkip:      true,
		}
		if serr == nil {
			req.DestSize = e.Size
			req.DestCreated = e.CreatedTime
			req.DestModified = e.ModTime
		}
		// Only an existing directory can be merged into
		if storage.IsKind(j.conflictErr, storage.KindDirAlreadyExists) {
			if sameEntry(rec, e) {
				req.AllowOverwriteItself = true
			} else {
				req.AllowOverwrite = true
			}
		}

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
			j.renameDir(rec, d.NewName)
		case models.DecisionAutoRename:
			j.dirFlags.rename = true
			j.renameDir(rec, suggestName(platform.FileName(rec.Dest)))
		case models.DecisionAutoSkip:
			j.dirFlags.skip = true
			j.skipDir(rec)
		case models.DecisionSkip:
			j.skipDir(rec)
		case models.DecisionOverwriteAll:
			j.dirFlags.overwrite = true
			j.mergeDir(rec)
		case models.DecisionOverwrite, models.DecisionOverwriteItself:
			j.mergeDir(rec)
		}
	})
}

// renameDir gives the directory at the front of the queue a new name and
// moves every queued entry below it along
func (j *Job) renameDir(rec models.CopyRecord, newName string) {
	oldDest := rec.Dest
	newDest := platform.WithFileName(oldDest, newName)

	j.emit(Renamed{Old: oldDest, New: newDest})
	j.update(func(s *models.Statistics) { s.Renames++ })

	j.dirs[0].Dest = newDest
	for i := 1; i < len(j.dirs); i++ {
		if u, ok := platform.ReplacePathPrefix(j.dirs[i].Dest, oldDest.Path, newDest.Path); ok {
			j.dirs[i].Dest = u
		}
	}
	for i := range j.files {
		if u, ok := platform.ReplacePathPrefix(j.files[i].Dest, oldDest.Path, newDest.Path); ok {
			j.files[i].Dest = u
		}
	}

	if len(j.dirs) > 0 {
		j.emit(AboutToCreate{Records: append([]models.CopyRecord(nil), j.dirs...)})
	}
	if len(j.files) > 0 {
		j.emit(AboutToCreate{Records: append([]models.CopyRecord(nil), j.files...)})
	}
	j.createNextDir()
}

// sameEntry reports whether the existing destination is the source itself,
// directly or through a symbolic link
func sameEntry(rec models.CopyRecord, existing storage.Entry) bool {
	if platform.Equal(rec.Source, rec.Dest) {
		return true
	}
	return existing.LinkTarget != "" && rec.Source.Scheme == rec.Dest.Scheme &&
		strings.TrimSuffix(rec.Source.Path, "/") == existing.LinkTarget
}
