package journal

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/sdejongh/kopier/internal/platform"
	"github.com/sdejongh/kopier/pkg/logging"
	"github.com/sdejongh/kopier/pkg/models"
	"github.com/sdejongh/kopier/pkg/storage"
)

// FileSystem is the part of the file-access layer undo needs
type FileSystem interface {
	Stat(ctx context.Context, u url.URL) (storage.Entry, error)
	Mkdir(ctx context.Context, u url.URL, permissions int) error
	Move(ctx context.Context, src, dst url.URL, opts storage.CopyOptions) error
	Rename(ctx context.Context, src, dst url.URL, overwrite bool) error
	Symlink(ctx context.Context, target string, dst url.URL, overwrite bool) error
	Rmdir(ctx context.Context, u url.URL) error
	Remove(ctx context.Context, u url.URL) error
}

// UndoReport summarizes an undo
type UndoReport struct {
	Reverted int
	Failed   int
	Errors   []models.JobError
}

// Undo reverts the entries of j, newest first. Failures do not stop the
// replay; they are collected and the joined error is returned.
func Undo(ctx context.Context, fs FileSystem, j *Journal, log logging.Logger) (*UndoReport, error) {
	if log == nil {
		log = logging.Nop
	}
	log = log.WithFields(logging.Fields{"job_id": j.JobID, "mode": string(j.Mode)})

	report := &UndoReport{}
	var errs []error

	for i := len(j.Entries) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		e := j.Entries[i]
		if err := undoEntry(ctx, fs, e); err != nil {
			report.Failed++
			report.Errors = append(report.Errors, models.JobError{
				Path:      e.Dest,
				Operation: models.ActionDelete,
				Error:     err.Error(),
				Timestamp: time.Now(),
			})
			errs = append(errs, err)
			log.Warn(ctx, "undo failed", logging.Fields{"kind": string(e.Kind), "dest": e.Dest, "error": err.Error()})
			continue
		}
		report.Reverted++
		log.Debug(ctx, "undone", logging.Fields{"kind": string(e.Kind), "dest": e.Dest})
	}

	log.Info(ctx, "undo completed", logging.Fields{"reverted": report.Reverted, "failed": report.Failed})
	return report, errors.Join(errs...)
}

func undoEntry(ctx context.Context, fs FileSystem, e Entry) error {
	dest, err := parseURL(e.Dest)
	if err != nil {
		return err
	}

	switch e.Kind {
	case KindCopied:
		return wrap("remove", dest, fs.Remove(ctx, dest))

	case KindDir:
		return wrap("remove directory", dest, fs.Rmdir(ctx, dest))

	case KindLink:
		if e.Source != "" {
			src, err := parseURL(e.Source)
			if err != nil {
				return err
			}
			if err := mkdirAll(ctx, fs, platform.Parent(src)); err != nil {
				return err
			}
			if err := fs.Symlink(ctx, e.Target, src, false); err != nil {
				return wrap("restore link", src, err)
			}
		}
		return wrap("remove", dest, fs.Remove(ctx, dest))

	case KindMoved, KindRenamed:
		src, err := parseURL(e.Source)
		if err != nil {
			return err
		}
		if err := mkdirAll(ctx, fs, platform.Parent(src)); err != nil {
			return err
		}
		if e.Kind == KindRenamed {
			return wrap("rename back", dest, fs.Rename(ctx, dest, src, false))
		}
		return wrap("move back", dest, fs.Move(ctx, dest, src, storage.CopyOptions{
			Permissions: models.UnknownPermissions,
			Size:        models.UnknownSize,
		}))
	}
	return fmt.Errorf("unknown journal entry kind %q", e.Kind)
}

// mkdirAll recreates the source directories a move took away
func mkdirAll(ctx context.Context, fs FileSystem, u url.URL) error {
	if _, err := fs.Stat(ctx, u); err == nil {
		return nil
	}
	parent := platform.Parent(u)
	if parent.Path != u.Path {
		if err := mkdirAll(ctx, fs, parent); err != nil {
			return err
		}
	}
	err := fs.Mkdir(ctx, u, models.UnknownPermissions)
	if err != nil && !storage.IsKind(err, storage.KindAlreadyExists, storage.KindDirAlreadyExists) {
		return wrap("recreate directory", u, err)
	}
	return nil
}

func parseURL(s string) (url.URL, error) {
	u, err := url.Parse(s)
	if err != nil {
		return url.URL{}, fmt.Errorf("invalid journal location %q: %w", s, err)
	}
	return *u, nil
}

func wrap(op string, u url.URL, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("failed to %s %s: %w", op, u.String(), err)
}
