package copyjob

import (
	"fmt"
	"net/url"

	"github.com/sdejongh/kopier/internal/platform"
	"github.com/sdejongh/kopier/pkg/logging"
	"github.com/sdejongh/kopier/pkg/models"
	"github.com/sdejongh/kopier/pkg/storage"
)

func classify(e storage.Entry, err error) destState {
	switch {
	case err != nil:
		return destDoesNotExist
	case e.IsDir:
		return destIsDir
	default:
		return destIsFile
	}
}

func (j *Job) statDest() {
	j.setState(StateStatingDest)
	j.globalDest = j.dest
	j.stat(j.dest, func(e storage.Entry, err error) {
		j.globalDestState = classify(e, err)
		if err == nil && j.opts.ResolveLocalURLs && e.LocalPath != "" {
			j.globalDest = platform.FromLocalPath(e.LocalPath)
		}
		j.log.Debug(j.ctx, "destination stated", logging.Fields{
			"dest":   j.globalDest.String(),
			"exists": err == nil,
			"is_dir": err == nil && e.IsDir,
		})
		j.suppressDir(j.destDir())
		j.curDest, j.curDestState = j.globalDest, j.globalDestState
		j.srcIdx = 0
		j.statCurrentSrc()
	})
}

// nextSource moves to the next source and forgets the destination changes
// the previous one made
func (j *Job) nextSource() {
	j.curDest, j.curDestState = j.globalDest, j.globalDestState
	j.srcIdx++
}

func (j *Job) statNextSrc() {
	j.nextSource()
	j.statCurrentSrc()
}

func (j *Job) skipSrc() {
	src := j.sources[j.srcIdx]
	j.skip(src)
	j.emit(Skipped{Source: src})
	j.update(func(s *models.Statistics) { s.FilesSkipped++ })
	j.statNextSrc()
}

// leafDest is where a top-level source lands
func (j *Job) leafDest(name string) url.URL {
	if j.curDestState == destIsDir && !j.as {
		return platform.AddPath(j.curDest, name)
	}
	return j.curDest
}

func (j *Job) statCurrentSrc() {
	for ; j.srcIdx < len(j.sources); j.nextSource() {
		src := j.sources[j.srcIdx]
		j.setState(StateStatingSource)
		j.setCurrent(src, j.curDest)

		if j.mode == models.ModeLink {
			j.queueLink(src)
			continue
		}
		if j.mode == models.ModeMove {
			if !j.fs.Capabilities(src).SupportsDeleting {
				j.skip(src)
				j.tolerate(src, models.ActionMove, fmt.Errorf("cannot move %s: deleting is not supported by this backend", src.String()))
				continue
			}
			if j.renamePlausible(src) {
				j.startRename(src)
				return
			}
		}
		j.statSource(src)
		return
	}
	j.statDone()
}

// queueLink adds the record of a link to src without stating it
func (j *Job) queueLink(src url.URL) {
	rec := models.CopyRecord{
		Source:      src,
		Dest:        j.leafDest(platform.FileName(src)),
		LinkTarget:  src.Path,
		Permissions: models.UnknownPermissions,
		Size:        models.UnknownSize,
	}
	j.files = append(j.files, rec)
	j.update(func(s *models.Statistics) { s.TotalFiles++ })
}

func (j *Job) renamePlausible(src url.URL) bool {
	switch {
	case platform.SameBackend(src, j.curDest):
		return j.fs.Capabilities(src).CanRename
	case platform.IsLocal(src) && j.fs.Capabilities(j.curDest).CanRenameFromFile:
		return true
	case platform.IsLocal(j.curDest) && j.fs.Capabilities(src).CanRenameToFile:
		return true
	}
	return false
}

func (j *Job) statSource(src url.URL) {
	j.setState(StateStatingSource)
	j.stat(src, func(e storage.Entry, err error) {
		if err != nil {
			if platform.IsLocal(src) {
				j.fatal(src, err)
				return
			}
			// Some backends cannot stat; assume a file and let the copy decide
			j.log.Warn(j.ctx, "source stat failed, assuming a file", logging.Fields{"url": src.String(), "error": err.Error()})
			j.files = append(j.files, models.CopyRecord{
				Source:      src,
				Dest:        j.leafDest(platform.FileName(src)),
				Permissions: models.UnknownPermissions,
				Size:        models.UnknownSize,
			})
			j.update(func(s *models.Statistics) { s.TotalFiles++ })
			j.statNextSrc()
			return
		}

		j.addEntries(src, []storage.Entry{e}, true)

		if !e.IsDir || e.IsLink {
			j.statNextSrc()
			return
		}

		switch j.curDestState {
		case destIsDir:
			if !j.as {
				j.curDest = platform.AddPath(j.curDest, entryName(src, e))
			}
		case destIsFile:
			j.fatal(j.curDest, ErrIsFile)
			return
		default:
			// The source directory becomes the destination
			if platform.Equal(j.curDest, j.globalDest) {
				j.globalDestState = destIsDir
			}
			j.curDestState = destIsDir
		}
		j.startListing(src)
	})
}

func entryName(src url.URL, e storage.Entry) string {
	if e.Name != "" {
		return e.Name
	}
	return platform.FileName(src)
}

// addEntries queues the records of a stat result or of a listing batch
func (j *Job) addEntries(src url.URL, entries []storage.Entry, stating bool) {
	var files, dirs int
	var bytes int64

	for _, e := range entries {
		rec := models.CopyRecord{
			Permissions: e.Permissions,
			ModTime:     e.ModTime,
			CreatedTime: e.CreatedTime,
			Size:        e.Size,
			IsDir:       e.IsDir && !e.IsLink,
		}
		if e.IsLink {
			rec.LinkTarget = e.LinkTarget
		}

		if stating {
			rec.Source = src
			rec.Dest = j.curDest
			if j.curDestState == destIsDir && !j.as {
				rec.Dest = platform.AddPath(j.curDest, entryName(src, e))
			}
		} else {
			if e.RelPath == "" || e.RelPath == "." || e.RelPath == ".." || e.Name == "." || e.Name == ".." {
				continue
			}
			rec.Source = platform.AddPath(j.listSrc, e.RelPath)
			rec.Dest = platform.AddPath(j.listDest, e.RelPath)
		}

		if rec.HasSize() {
			bytes += rec.Size
		}

		if rec.IsDir && j.mode != models.ModeLink {
			j.dirs = append(j.dirs, rec)
			dirs++
			if j.mode == models.ModeMove {
				j.dirsToRemove = append(j.dirsToRemove, rec.Source)
			}
		} else {
			j.files = append(j.files, rec)
			files++
			if j.mode == models.ModeMove {
				parent := platform.Parent(rec.Source)
				j.parentDirs[parent.String()] = parent
			}
		}
	}

	j.update(func(s *models.Statistics) {
		s.TotalFiles += files
		s.TotalDirs += dirs
		s.TotalBytes += bytes
	})
}

func (j *Job) startListing(src url.URL) {
	j.setState(StateListing)
	j.listSrc = src
	j.listDest = j.curDest
	j.list(src, func(batch []storage.Entry) {
		j.addEntries(src, batch, false)
	}, func(err error) {
		if err != nil {
			j.fatal(src, err)
			return
		}
		j.statNextSrc()
	})
}

// statDone is reached once every source was stated and listed
func (j *Job) statDone() {
	if len(j.dirs) > 0 {
		j.emit(AboutToCreate{Records: append([]models.CopyRecord(nil), j.dirs...)})
	}
	if len(j.files) > 0 {
		j.emit(AboutToCreate{Records: append([]models.CopyRecord(nil), j.files...)})
	}
	j.singleFileCopy = len(j.files) == 1 && len(j.dirs) == 0
	j.log.Debug(j.ctx, "sources stated", logging.Fields{
		"dirs":  len(j.dirs),
		"files": len(j.files),
	})
	j.createNextDir()
}
