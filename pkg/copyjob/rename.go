package copyjob

import (
	"context"
	"fmt"
	"net/url"

	"github.com/sdejongh/kopier/internal/platform"
	"github.com/sdejongh/kopier/pkg/logging"
	"github.com/sdejongh/kopier/pkg/models"
	"github.com/sdejongh/kopier/pkg/storage"
)

// startRename tries to move src with a single rename before falling back
// to stat, list, copy and delete
func (j *Job) startRename(src url.URL) {
	dest := j.leafDest(platform.FileName(src))
	j.setState(StateRenaming)
	j.setCurrent(src, dest)
	j.renameSrc, j.renameDest = src, dest

	if !platform.Equal(platform.Parent(src), platform.Parent(dest)) {
		j.onlyRenames = false
	}

	j.emit(AboutToCreate{Records: []models.CopyRecord{{
		Source:      src,
		Dest:        dest,
		Permissions: models.UnknownPermissions,
		Size:        models.UnknownSize,
	}}})

	j.call("rename", src, func(ctx context.Context) error {
		return j.fs.Rename(ctx, src, dest, false)
	}, j.renameDone)
}

func (j *Job) renameDone(err error) {
	src, dest := j.renameSrc, j.renameDest
	if err != nil && platform.IsLocal(src) && !platform.Equal(src, dest) && platform.EqualFold(src, dest) &&
		storage.IsKind(err, storage.KindAlreadyExists, storage.KindDirAlreadyExists, storage.KindIdenticalFiles) {
		j.renameViaTemp(src, dest, err)
		return
	}
	j.renameResult(err)
}

// renameViaTemp renames src to dest on a case-insensitive filesystem,
// where both names point to the same entry
func (j *Job) renameViaTemp(src, dest url.URL, cause error) {
	tmp := platform.WithFileName(src, ".kopier-"+j.opts.TempName())
	j.setState(StateRenamingViaTemp)
	j.log.Debug(j.ctx, "case-only rename through temporary name", logging.Fields{
		"src": src.String(), "dest": dest.String(), "tmp": tmp.String(),
	})

	j.call("rename", src, func(ctx context.Context) error {
		return j.fs.Rename(ctx, src, tmp, false)
	}, func(err error) {
		if err != nil {
			j.setState(StateRenaming)
			j.renameResult(cause)
			return
		}
		j.call("rename", tmp, func(ctx context.Context) error {
			return j.fs.Rename(ctx, tmp, dest, false)
		}, func(err error) {
			if err == nil {
				j.setState(StateRenaming)
				j.renameResult(nil)
				return
			}
			j.setState(StateRevertingTempRename)
			j.call("rename", tmp, func(ctx context.Context) error {
				return j.fs.Rename(ctx, tmp, src, false)
			}, func(rerr error) {
				if rerr != nil {
					j.fatal(src, fmt.Errorf("failed to rename %s back: %w", tmp.String(), rerr))
					return
				}
				j.setState(StateRenaming)
				j.renameResult(cause)
			})
		})
	})
}

func (j *Job) renameResult(err error) {
	src, dest := j.renameSrc, j.renameDest

	switch {
	case err == nil:
		j.emit(EntryCreated{Source: src, Dest: dest, Renamed: true})
		j.emit(Renamed{Old: src, New: dest})
		j.renamed = append(j.renamed, src)
		j.update(func(s *models.Statistics) {
			s.ProcessedFiles++
			s.Renames++
		})
		j.statNextSrc()

	case storage.IsConflict(err):
		j.renameConflict(src, dest, err)

	case storage.IsKind(err, storage.KindUnsupported):
		j.log.Debug(j.ctx, "rename not supported, copying instead", logging.Fields{"src": src.String()})
		j.statFallback(src)

	default:
		j.fatal(src, err)
	}
}

// statFallback moves src the long way
func (j *Job) statFallback(src url.URL) {
	j.onlyRenames = false
	j.statSource(src)
}

func (j *Job) renameConflict(src, dest url.URL, err error) {
	kind := models.ConflictFile
	flags := &j.fileFlags
	if storage.IsKind(err, storage.KindDirAlreadyExists) {
		kind = models.ConflictDir
		flags = &j.dirFlags
	}
	j.update(func(s *models.Statistics) { s.Conflicts++ })

	switch {
	case flags.skip:
		j.skipSrc()
		return
	case flags.overwrite:
		j.overwritePaths = append(j.overwritePaths, dest.Path)
		j.statFallback(src)
		return
	case flags.rename:
		j.retryRename(dest, suggestName(platform.FileName(dest)))
		return
	case j.opts.Resolver == nil:
		j.fatal(dest, fmt.Errorf("%w: %w", ErrNotInteractive, err))
		return
	}

	j.stat(dest, func(e storage.Entry, serr error) {
		req := models.ConflictRequest{
			Kind:                 kind,
			Source:               src,
			Dest:                 dest,
			SourceSize:           models.UnknownSize,
			DestSize:             models.UnknownSize,
			Multi:                len(j.sources) > 1,
			AllowSkip:            len(j.sources) > 1,
			AllowOverwrite:       true,
			AllowOverwriteItself: platform.Equal(src, dest),
		}
		if serr == nil {
			req.DestSize = e.Size
			req.DestCreated = e.CreatedTime
			req.DestModified = e.ModTime
		}

		d, aerr := j.ask(req)
		if aerr != nil {
			j.fatal(dest, aerr)
			return
		}

		switch d.Action {
		case models.DecisionCancel:
			j.cancel(src)
		case models.DecisionRename:
			j.retryRename(dest, d.NewName)
		case models.DecisionAutoRename:
			flags.rename = true
			j.retryRename(dest, suggestName(platform.FileName(dest)))
		case models.DecisionAutoSkip:
			flags.skip = true
			j.skipSrc()
		case models.DecisionSkip:
			j.skipSrc()
		case models.DecisionOverwriteAll:
			flags.overwrite = true
			j.overwritePaths = append(j.overwritePaths, dest.Path)
			j.statFallback(src)
		case models.DecisionOverwrite:
			j.overwritePaths = append(j.overwritePaths, dest.Path)
			j.statFallback(src)
		case models.DecisionOverwriteItself:
			j.statNextSrc()
		default:
			j.fatal(dest, fmt.Errorf("unexpected conflict decision %q", d.Action))
		}
	})
}

// retryRename points the current destination to newName, states it and
// tries the rename again
func (j *Job) retryRename(dest url.URL, newName string) {
	j.curDest = platform.WithFileName(dest, newName)
	j.curDestState = destNotStated
	j.setState(StateStatingDest)
	j.stat(j.curDest, func(e storage.Entry, err error) {
		j.curDestState = classify(e, err)
		if platform.Equal(j.curDest, j.globalDest) {
			j.globalDestState = j.curDestState
		}
		j.statCurrentSrc()
	})
}
