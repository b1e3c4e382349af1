// Package compare decides whether two files hold the same content, so that
// a copy can leave an already up to date destination alone.
package compare

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/sdejongh/kopier/pkg/storage"
)

// Result represents the outcome of comparing two files
type Result string

const (
	// Same indicates files are identical
	Same Result = "same"
	// Different indicates files differ
	Different Result = "different"
)

// Comparison methods
const (
	MethodSize      = "size"
	MethodTimestamp = "timestamp"
	MethodHash      = "hash"
	MethodBinary    = "binary"
)

// Methods lists the accepted comparison methods
var Methods = []string{MethodSize, MethodTimestamp, MethodHash, MethodBinary}

// Comparison holds the result of comparing two files
type Comparison struct {
	Source url.URL
	Dest   url.URL
	Result Result
	Reason string
}

// Files gives read access to the compared files. storage.Mux implements it.
type Files interface {
	Stat(ctx context.Context, u url.URL) (storage.Entry, error)
	Open(ctx context.Context, u url.URL) (io.ReadCloser, storage.Entry, error)
}

// Comparator defines the interface for file comparison algorithms
type Comparator interface {
	// Compare compares two files and returns the result
	Compare(ctx context.Context, source, dest url.URL) (*Comparison, error)

	// Name returns the name of the comparison method
	Name() string
}

// New returns the comparator implementing method
func New(method string, files Files, bufferSize int) (Comparator, error) {
	switch method {
	case MethodSize:
		return NewSizeComparator(files), nil
	case MethodTimestamp:
		return NewTimestampComparator(files), nil
	case MethodHash:
		return NewHashComparator(files, bufferSize), nil
	case MethodBinary:
		return NewBinaryComparator(files, bufferSize), nil
	}
	return nil, fmt.Errorf("unknown comparison method %q", method)
}

// SameContent turns c into a predicate telling whether dst already holds
// the content of src
func SameContent(c Comparator) func(ctx context.Context, src, dst url.URL) (bool, error) {
	return func(ctx context.Context, src, dst url.URL) (bool, error) {
		cmp, err := c.Compare(ctx, src, dst)
		if err != nil {
			return false, err
		}
		return cmp.Result == Same, nil
	}
}

// statBoth stats the two files in parallel
func statBoth(ctx context.Context, files Files, source, dest url.URL) (storage.Entry, storage.Entry, error) {
	var src, dst storage.Entry
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if src, err = files.Stat(gctx, source); err != nil {
			return fmt.Errorf("failed to stat source: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if dst, err = files.Stat(gctx, dest); err != nil {
			return fmt.Errorf("failed to stat destination: %w", err)
		}
		return nil
	})
	err := g.Wait()
	return src, dst, err
}

// precheck compares what the metadata alone can tell. It returns nil when
// the sizes match and the content has to be looked at.
func precheck(source, dest url.URL, src, dst storage.Entry) *Comparison {
	c := &Comparison{Source: source, Dest: dest, Result: Different}
	switch {
	case src.IsDir || dst.IsDir || src.IsLink || dst.IsLink:
		c.Reason = "not a regular file"
	case src.Size < 0 || dst.Size < 0:
		c.Reason = "file size unknown"
	case src.Size != dst.Size:
		c.Reason = fmt.Sprintf("file sizes differ (source: %d, dest: %d)", src.Size, dst.Size)
	default:
		return nil
	}
	return c
}

// openBoth opens the two files for reading
func openBoth(ctx context.Context, files Files, source, dest url.URL) (io.ReadCloser, io.ReadCloser, error) {
	rs, _, err := files.Open(ctx, source)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open source: %w", err)
	}
	rd, _, err := files.Open(ctx, dest)
	if err != nil {
		rs.Close()
		return nil, nil, fmt.Errorf("failed to open destination: %w", err)
	}
	return rs, rd, nil
}

func newBufferPool(bufferSize int) *sync.Pool {
	if bufferSize < 4096 {
		bufferSize = 4096
	}
	return &sync.Pool{
		New: func() interface{} {
			buf := make([]byte, bufferSize)
			return &buf
		},
	}
}
