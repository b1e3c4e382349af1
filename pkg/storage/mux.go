package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/sdejongh/kopier/internal/platform"
	"github.com/sdejongh/kopier/pkg/metrics"
)

// Mux routes every operation to the backend registered for the URL scheme
// and copies between backends by streaming.
type Mux struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewMux creates an empty router
func NewMux() *Mux {
	return &Mux{backends: make(map[string]Backend)}
}

// Register serves scheme with b, replacing any previous backend
func (m *Mux) Register(scheme string, b Backend) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backends[scheme] = b
}

// Backend returns the backend for u
func (m *Mux) Backend(u url.URL) (Backend, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.backends[u.Scheme]
	if !ok {
		return nil, NewError("access", u, KindUnsupported, fmt.Errorf("no backend for scheme %q", u.Scheme))
	}
	return b, nil
}

// Stat implements the file-access layer
func (m *Mux) Stat(ctx context.Context, u url.URL) (Entry, error) {
	b, err := m.Backend(u)
	if err != nil {
		return Entry{}, err
	}
	return b.Stat(ctx, u)
}

// List implements the file-access layer
func (m *Mux) List(ctx context.Context, u url.URL, fn func([]Entry) error) error {
	b, err := m.Backend(u)
	if err != nil {
		return err
	}
	return b.List(ctx, u, fn)
}

// Mkdir implements the file-access layer
func (m *Mux) Mkdir(ctx context.Context, u url.URL, permissions int) error {
	b, err := m.Backend(u)
	if err != nil {
		return err
	}
	return b.Mkdir(ctx, u, permissions)
}

// Copy copies inside a backend, or streams between two
func (m *Mux) Copy(ctx context.Context, src, dst url.URL, opts CopyOptions) error {
	srcB, dstB, err := m.pair(src, dst)
	if err != nil {
		return err
	}
	if platform.SameBackend(src, dst) {
		return srcB.Copy(ctx, src, dst, opts)
	}
	return m.stream(ctx, srcB, dstB, src, dst, opts)
}

// Move moves inside a backend, or streams between two then removes the source
func (m *Mux) Move(ctx context.Context, src, dst url.URL, opts CopyOptions) error {
	srcB, dstB, err := m.pair(src, dst)
	if err != nil {
		return err
	}
	if platform.SameBackend(src, dst) {
		return srcB.Move(ctx, src, dst, opts)
	}
	if err := m.stream(ctx, srcB, dstB, src, dst, opts); err != nil {
		return err
	}
	return srcB.Remove(ctx, src)
}

// Symlink implements the file-access layer
func (m *Mux) Symlink(ctx context.Context, target string, dst url.URL, overwrite bool) error {
	b, err := m.Backend(dst)
	if err != nil {
		return err
	}
	return b.Symlink(ctx, target, dst, overwrite)
}

// Rename asks the backend able to rename between src and dst
func (m *Mux) Rename(ctx context.Context, src, dst url.URL, overwrite bool) error {
	srcB, dstB, err := m.pair(src, dst)
	if err != nil {
		return err
	}
	switch {
	case platform.SameBackend(src, dst):
		return srcB.Rename(ctx, src, dst, overwrite)
	case platform.IsLocal(src) && dstB.Capabilities().CanRenameFromFile:
		return dstB.Rename(ctx, src, dst, overwrite)
	case platform.IsLocal(dst) && srcB.Capabilities().CanRenameToFile:
		return srcB.Rename(ctx, src, dst, overwrite)
	}
	return Unsupported("rename", src)
}

// Rmdir implements the file-access layer
func (m *Mux) Rmdir(ctx context.Context, u url.URL) error {
	b, err := m.Backend(u)
	if err != nil {
		return err
	}
	return b.Rmdir(ctx, u)
}

// Remove implements the file-access layer
func (m *Mux) Remove(ctx context.Context, u url.URL) error {
	b, err := m.Backend(u)
	if err != nil {
		return err
	}
	return b.Remove(ctx, u)
}

// SetModTime implements the file-access layer
func (m *Mux) SetModTime(ctx context.Context, u url.URL, t time.Time) error {
	b, err := m.Backend(u)
	if err != nil {
		return err
	}
	return b.SetModTime(ctx, u, t)
}

// Capabilities returns the capabilities of the backend serving u
func (m *Mux) Capabilities(u url.URL) Capabilities {
	b, err := m.Backend(u)
	if err != nil {
		return Capabilities{}
	}
	return b.Capabilities()
}

// Close closes every registered backend
func (m *Mux) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for scheme, b := range m.backends {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s backend: %w", scheme, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Mux) pair(src, dst url.URL) (Backend, Backend, error) {
	srcB, err := m.Backend(src)
	if err != nil {
		return nil, nil, err
	}
	dstB, err := m.Backend(dst)
	if err != nil {
		return nil, nil, err
	}
	return srcB, dstB, nil
}

// Open opens a file for reading on any backend that streams content
func (m *Mux) Open(ctx context.Context, u url.URL) (io.ReadCloser, Entry, error) {
	b, err := m.Backend(u)
	if err != nil {
		return nil, Entry{}, err
	}
	s, ok := b.(Streamer)
	if !ok {
		return nil, Entry{}, Unsupported("read", u)
	}
	return s.Open(ctx, u)
}

// stream copies file content from one backend to another
func (m *Mux) stream(ctx context.Context, srcB, dstB Backend, src, dst url.URL, opts CopyOptions) error {
	from, ok := srcB.(Streamer)
	if !ok {
		return Unsupported("read", src)
	}
	to, ok := dstB.(Streamer)
	if !ok {
		return Unsupported("write", dst)
	}

	r, entry, err := from.Open(ctx, src)
	if err != nil {
		return err
	}
	defer r.Close()

	if opts.Size < 0 {
		opts.Size = entry.Size
	}
	var transferred int64
	progress := opts.Progress
	opts.Progress = func(n int64) {
		transferred = n
		if progress != nil {
			progress(n)
		}
	}

	err = to.Create(ctx, dst, r, opts)
	metrics.RecordStreamedBytes(src.Scheme, dst.Scheme, transferred)
	return err
}
