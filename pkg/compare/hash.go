package compare

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
	"net/url"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Partial hashing configuration
const (
	// Minimum file size to enable partial hashing (1MB)
	partialHashThreshold = 1 * 1024 * 1024
	// Size of partial hash to compute (256KB)
	partialHashSize = 256 * 1024
)

// HashComparator compares files using SHA-256 hash. Large files are first
// compared on the hash of their head so that most different files are
// rejected before being read in full.
type HashComparator struct {
	files             Files
	bufferPool        *sync.Pool
	enablePartialHash bool
}

// NewHashComparator creates a new hash-based comparator
func NewHashComparator(files Files, bufferSize int) *HashComparator {
	return &HashComparator{
		files:             files,
		bufferPool:        newBufferPool(bufferSize),
		enablePartialHash: true,
	}
}

// SetPartialHashEnabled enables or disables partial hashing optimization
func (c *HashComparator) SetPartialHashEnabled(enabled bool) {
	c.enablePartialHash = enabled
}

// Compare compares two files using SHA-256 hash
func (c *HashComparator) Compare(ctx context.Context, source, dest url.URL) (*Comparison, error) {
	src, dst, err := statBoth(ctx, c.files, source, dest)
	if err != nil {
		return nil, err
	}
	if cmp := precheck(source, dest, src, dst); cmp != nil {
		return cmp, nil
	}

	rs, rd, err := openBoth(ctx, c.files, source, dest)
	if err != nil {
		return nil, err
	}
	defer rs.Close()
	defer rd.Close()

	hs, hd := sha256.New(), sha256.New()

	if c.enablePartialHash && src.Size >= partialHashThreshold {
		if err := c.hashBoth(ctx, hs, hd, rs, rd, partialHashSize); err != nil {
			return nil, err
		}
		if !bytes.Equal(hs.Sum(nil), hd.Sum(nil)) {
			return &Comparison{
				Source: source,
				Dest:   dest,
				Result: Different,
				Reason: "file partial hashes differ",
			}, nil
		}
	}

	// The hashers carry on from where the partial pass stopped
	if err := c.hashBoth(ctx, hs, hd, rs, rd, -1); err != nil {
		return nil, err
	}
	if !bytes.Equal(hs.Sum(nil), hd.Sum(nil)) {
		return &Comparison{
			Source: source,
			Dest:   dest,
			Result: Different,
			Reason: "file hashes differ",
		}, nil
	}

	return &Comparison{
		Source: source,
		Dest:   dest,
		Result: Same,
		Reason: fmt.Sprintf("file hashes match (%x)", hs.Sum(nil)),
	}, nil
}

// hashBoth feeds both readers to their hashers in parallel, up to limit
// bytes each (no limit when negative)
func (c *HashComparator) hashBoth(ctx context.Context, hs, hd hash.Hash, rs, rd io.Reader, limit int64) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := c.hashStream(gctx, hs, rs, limit); err != nil {
			return fmt.Errorf("failed to hash source: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := c.hashStream(gctx, hd, rd, limit); err != nil {
			return fmt.Errorf("failed to hash destination: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func (c *HashComparator) hashStream(ctx context.Context, h hash.Hash, r io.Reader, limit int64) error {
	if limit >= 0 {
		r = io.LimitReader(r, limit)
	}

	bufPtr := c.bufferPool.Get().(*[]byte)
	defer c.bufferPool.Put(bufPtr)
	buffer := *bufPtr

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := r.Read(buffer)
		if n > 0 {
			h.Write(buffer[:n])
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Name returns the comparator name
func (c *HashComparator) Name() string {
	return MethodHash
}
