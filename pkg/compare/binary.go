package compare

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"
)

// BinaryComparator compares files byte by byte and stops at the first
// difference
type BinaryComparator struct {
	files      Files
	bufferPool *sync.Pool
}

// NewBinaryComparator creates a new byte-by-byte comparator
func NewBinaryComparator(files Files, bufferSize int) *BinaryComparator {
	return &BinaryComparator{
		files:      files,
		bufferPool: newBufferPool(bufferSize),
	}
}

// Compare compares two files byte by byte
func (c *BinaryComparator) Compare(ctx context.Context, source, dest url.URL) (*Comparison, error) {
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

	sourceBufPtr := c.bufferPool.Get().(*[]byte)
	defer c.bufferPool.Put(sourceBufPtr)
	sourceBuf := *sourceBufPtr

	destBufPtr := c.bufferPool.Get().(*[]byte)
	defer c.bufferPool.Put(destBufPtr)
	destBuf := *destBufPtr

	var bytesCompared int64
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		// ReadFull keeps both sides aligned whatever chunks the readers return
		sourceN, sourceErr := io.ReadFull(rs, sourceBuf)
		if sourceErr != nil && !isEnd(sourceErr) {
			return nil, fmt.Errorf("failed to read source: %w", sourceErr)
		}
		destN, destErr := io.ReadFull(rd, destBuf)
		if destErr != nil && !isEnd(destErr) {
			return nil, fmt.Errorf("failed to read destination: %w", destErr)
		}

		if !bytes.Equal(sourceBuf[:sourceN], destBuf[:destN]) {
			return &Comparison{
				Source: source,
				Dest:   dest,
				Result: Different,
				Reason: fmt.Sprintf("binary content differs at byte offset %d", bytesCompared+firstDifference(sourceBuf[:sourceN], destBuf[:destN])),
			}, nil
		}
		bytesCompared += int64(sourceN)

		if sourceErr != nil || destErr != nil {
			if sourceErr == nil || destErr == nil {
				return &Comparison{
					Source: source,
					Dest:   dest,
					Result: Different,
					Reason: fmt.Sprintf("file lengths differ after %d bytes", bytesCompared),
				}, nil
			}
			break
		}
	}

	return &Comparison{
		Source: source,
		Dest:   dest,
		Result: Same,
		Reason: fmt.Sprintf("binary content matches (%d bytes)", bytesCompared),
	}, nil
}

func isEnd(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// firstDifference returns the offset of the first byte where a and b differ
func firstDifference(a, b []byte) int64 {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return int64(i)
		}
	}
	return int64(n)
}

// Name returns the comparator name
func (c *BinaryComparator) Name() string {
	return MethodBinary
}
