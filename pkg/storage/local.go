package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sdejongh/kopier/internal/platform"
	"github.com/sdejongh/kopier/pkg/ratelimit"
)

const (
	defaultDirPerm  = 0755
	defaultFilePerm = 0644
	listBatchSize   = 200
)

// Local is the file:// backend
type Local struct {
	limiter    *ratelimit.Limiter
	bufferSize int
}

// LocalOptions configures a Local backend
type LocalOptions struct {
	// Limiter throttles file content transfers, nil means unlimited
	Limiter *ratelimit.Limiter
	// BufferSize is the copy buffer size in bytes
	BufferSize int
}

// NewLocal creates a new local filesystem backend
func NewLocal(opts LocalOptions) *Local {
	if opts.BufferSize < 1024 {
		opts.BufferSize = 64 * 1024
	}
	return &Local{limiter: opts.Limiter, bufferSize: opts.BufferSize}
}

// Stat returns metadata of the entry, symlinks are not followed
func (l *Local) Stat(ctx context.Context, u url.URL) (Entry, error) {
	p := platform.LocalPath(u)

	info, err := os.Lstat(p)
	if err != nil {
		return Entry{}, fromOS("stat", u, err)
	}

	entry := entryFromInfo(info)
	entry.LocalPath = p
	if entry.IsLink {
		if entry.LinkTarget, err = os.Readlink(p); err != nil {
			return Entry{}, fromOS("stat", u, err)
		}
		// the entry stays a link, IsDir tells what it points to
		if target, err := os.Stat(p); err == nil {
			entry.IsDir = target.IsDir()
		}
	}
	return entry, nil
}

// List walks the directory recursively, parents before children
func (l *Local) List(ctx context.Context, u url.URL, fn func([]Entry) error) error {
	root := platform.LocalPath(u)
	batch := make([]Entry, 0, listBatchSize)

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == root {
			if !d.IsDir() {
				return fmt.Errorf("not a directory: %s", root)
			}
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		entry := entryFromInfo(info)
		entry.RelPath = filepath.ToSlash(rel)
		entry.LocalPath = p
		if entry.IsLink {
			if entry.LinkTarget, err = os.Readlink(p); err != nil {
				return err
			}
		}

		batch = append(batch, entry)
		if len(batch) == listBatchSize {
			if err := fn(batch); err != nil {
				return err
			}
			batch = make([]Entry, 0, listBatchSize)
		}
		return nil
	})
	if err != nil {
		return fromOS("list", u, err)
	}

	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}

// Mkdir creates one directory
func (l *Local) Mkdir(ctx context.Context, u url.URL, permissions int) error {
	p := platform.LocalPath(u)

	perm := os.FileMode(defaultDirPerm)
	if permissions >= 0 {
		perm = os.FileMode(permissions).Perm()
	}

	if err := os.Mkdir(p, perm); err != nil {
		if os.IsExist(err) {
			return existsError("mkdir", u, p, err)
		}
		return fromOS("mkdir", u, err)
	}
	return nil
}

// Copy copies a regular file, following a source symlink
func (l *Local) Copy(ctx context.Context, src, dst url.URL, opts CopyOptions) error {
	srcPath := platform.LocalPath(src)
	dstPath := platform.LocalPath(dst)

	srcInfo, err := os.Stat(srcPath)
	if err != nil {
		return fromOS("copy", src, err)
	}
	if srcInfo.IsDir() {
		return NewError("copy", src, KindIsDirectory, nil)
	}
	if err := checkDest("copy", dst, dstPath, srcInfo, opts.Overwrite); err != nil {
		return err
	}

	if opts.Permissions < 0 {
		opts.Permissions = int(srcInfo.Mode().Perm())
	}

	file, err := os.Open(srcPath)
	if err != nil {
		return fromOS("copy", src, err)
	}
	defer file.Close()

	return l.write(ctx, dst, dstPath, file, opts)
}

// Move renames a file, falling back to copy and remove across devices
func (l *Local) Move(ctx context.Context, src, dst url.URL, opts CopyOptions) error {
	srcPath := platform.LocalPath(src)
	dstPath := platform.LocalPath(dst)

	srcInfo, err := os.Lstat(srcPath)
	if err != nil {
		return fromOS("move", src, err)
	}
	if err := checkDest("move", dst, dstPath, srcInfo, opts.Overwrite); err != nil {
		return err
	}

	err = os.Rename(srcPath, dstPath)
	if err == nil {
		if opts.Progress != nil && srcInfo.Mode().IsRegular() {
			opts.Progress(srcInfo.Size())
		}
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return fromOS("move", src, err)
	}

	opts.Overwrite = true // destination checked above
	if err := l.Copy(ctx, src, dst, opts); err != nil {
		return err
	}
	if err := os.Remove(srcPath); err != nil {
		return fromOS("move", src, err)
	}
	return nil
}

// Symlink creates dst pointing to target
func (l *Local) Symlink(ctx context.Context, target string, dst url.URL, overwrite bool) error {
	dstPath := platform.LocalPath(dst)

	if info, err := os.Lstat(dstPath); err == nil {
		if info.IsDir() {
			return NewError("symlink", dst, KindDirAlreadyExists, nil)
		}
		if !overwrite {
			return NewError("symlink", dst, KindAlreadyExists, nil)
		}
		if err := os.Remove(dstPath); err != nil {
			return fromOS("symlink", dst, err)
		}
	}

	if err := os.Symlink(target, dstPath); err != nil {
		return fromOS("symlink", dst, err)
	}
	return nil
}

// Rename renames src to dst. Without overwrite an existing destination is a
// conflict, including when it only differs from src by case on a
// case-insensitive filesystem.
func (l *Local) Rename(ctx context.Context, src, dst url.URL, overwrite bool) error {
	srcPath := platform.LocalPath(src)
	dstPath := platform.LocalPath(dst)

	if _, err := os.Lstat(srcPath); err != nil {
		return fromOS("rename", src, err)
	}
	if !overwrite {
		if _, err := os.Lstat(dstPath); err == nil {
			return existsError("rename", dst, dstPath, nil)
		}
	}

	if err := os.Rename(srcPath, dstPath); err != nil {
		if errors.Is(err, syscall.EXDEV) {
			return NewError("rename", src, KindUnsupported, err)
		}
		return fromOS("rename", src, err)
	}
	return nil
}

// Rmdir removes an empty directory
func (l *Local) Rmdir(ctx context.Context, u url.URL) error {
	p := platform.LocalPath(u)

	info, err := os.Lstat(p)
	if err != nil {
		return fromOS("rmdir", u, err)
	}
	if !info.IsDir() {
		return NewError("rmdir", u, KindOther, fmt.Errorf("not a directory"))
	}
	if err := os.Remove(p); err != nil {
		return NewError("rmdir", u, KindNotEmpty, err)
	}
	return nil
}

// Remove removes a file or symlink
func (l *Local) Remove(ctx context.Context, u url.URL) error {
	p := platform.LocalPath(u)

	info, err := os.Lstat(p)
	if err != nil {
		return fromOS("remove", u, err)
	}
	if info.IsDir() {
		return NewError("remove", u, KindIsDirectory, nil)
	}
	return fromOS("remove", u, os.Remove(p))
}

// SetModTime sets access and modification time
func (l *Local) SetModTime(ctx context.Context, u url.URL, t time.Time) error {
	return fromOS("set modification time of", u, os.Chtimes(platform.LocalPath(u), t, t))
}

// Capabilities of the local filesystem
func (l *Local) Capabilities() Capabilities {
	return Capabilities{
		CanRename:        true,
		SupportsDeleting: true,
		SupportsListing:  true,
		SupportsSymlink:  true,
	}
}

// Open opens a file for reading
func (l *Local) Open(ctx context.Context, u url.URL) (io.ReadCloser, Entry, error) {
	p := platform.LocalPath(u)

	file, err := os.Open(p)
	if err != nil {
		return nil, Entry{}, fromOS("open", u, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, Entry{}, fromOS("open", u, err)
	}
	if info.IsDir() {
		file.Close()
		return nil, Entry{}, NewError("open", u, KindIsDirectory, nil)
	}

	entry := entryFromInfo(info)
	entry.LocalPath = p
	return file, entry, nil
}

// Create writes r to a new file
func (l *Local) Create(ctx context.Context, u url.URL, r io.Reader, opts CopyOptions) error {
	p := platform.LocalPath(u)
	if err := checkDest("create", u, p, nil, opts.Overwrite); err != nil {
		return err
	}
	return l.write(ctx, u, p, r, opts)
}

// Close releases resources (no-op for local filesystem)
func (l *Local) Close() error {
	return nil
}

// write streams r into dstPath and restores permissions and mtime.
// A partial file is removed on failure.
func (l *Local) write(ctx context.Context, dst url.URL, dstPath string, r io.Reader, opts CopyOptions) error {
	perm := os.FileMode(defaultFilePerm)
	if opts.Permissions >= 0 {
		perm = os.FileMode(opts.Permissions).Perm()
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if !opts.Overwrite {
		flags |= os.O_EXCL
	}
	file, err := os.OpenFile(dstPath, flags, perm)
	if err != nil {
		if os.IsExist(err) {
			return existsError("create", dst, dstPath, err)
		}
		return fromOS("create", dst, err)
	}

	reader := ratelimit.NewReader(ctx, r, l.limiter, opts.Progress)
	buf := make([]byte, l.bufferSize)
	written, err := io.CopyBuffer(file, reader, buf)
	closeErr := file.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && opts.Size >= 0 && written != opts.Size {
		err = fmt.Errorf("incomplete write: expected %d bytes, wrote %d", opts.Size, written)
	}
	if err != nil {
		os.Remove(dstPath)
		return fromOS("write", dst, err)
	}

	if opts.Permissions >= 0 {
		// the umask may have masked the requested bits
		if err := os.Chmod(dstPath, perm); err != nil {
			return fromOS("chmod", dst, err)
		}
	}
	if !opts.ModTime.IsZero() {
		if err := os.Chtimes(dstPath, opts.ModTime, opts.ModTime); err != nil {
			return fromOS("set modification time of", dst, err)
		}
	}
	return nil
}

// checkDest reports a conflict when dstPath exists. srcInfo may be nil.
func checkDest(op string, dst url.URL, dstPath string, srcInfo os.FileInfo, overwrite bool) error {
	dstInfo, err := os.Lstat(dstPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fromOS(op, dst, err)
	}
	if srcInfo != nil && os.SameFile(srcInfo, dstInfo) {
		return NewError(op, dst, KindIdenticalFiles, nil)
	}
	if dstInfo.IsDir() {
		return NewError(op, dst, KindDirAlreadyExists, nil)
	}
	if !overwrite {
		return NewError(op, dst, KindAlreadyExists, nil)
	}
	return nil
}

func existsError(op string, u url.URL, p string, err error) error {
	if info, statErr := os.Lstat(p); statErr == nil && info.IsDir() {
		return NewError(op, u, KindDirAlreadyExists, err)
	}
	return NewError(op, u, KindAlreadyExists, err)
}

func entryFromInfo(info os.FileInfo) Entry {
	entry := Entry{
		Name:        info.Name(),
		IsDir:       info.IsDir(),
		IsLink:      info.Mode()&os.ModeSymlink != 0,
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		Permissions: int(info.Mode().Perm()),
	}
	if entry.IsDir {
		entry.Size = 0
	}
	return entry
}
