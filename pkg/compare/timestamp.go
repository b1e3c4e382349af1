package compare

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// timestampTolerance absorbs the timestamp precision differences between
// filesystems and object stores
const timestampTolerance = time.Second

// TimestampComparator compares files by size and modification time
type TimestampComparator struct {
	files Files
}

// NewTimestampComparator creates a new timestamp comparator
func NewTimestampComparator(files Files) *TimestampComparator {
	return &TimestampComparator{files: files}
}

// Compare considers two files the same if they have the same size and the
// source is not newer than the destination
func (c *TimestampComparator) Compare(ctx context.Context, source, dest url.URL) (*Comparison, error) {
	src, dst, err := statBoth(ctx, c.files, source, dest)
	if err != nil {
		return nil, err
	}
	if cmp := precheck(source, dest, src, dst); cmp != nil {
		return cmp, nil
	}

	if src.ModTime.IsZero() || dst.ModTime.IsZero() {
		return &Comparison{
			Source: source,
			Dest:   dest,
			Result: Different,
			Reason: "modification time unknown",
		}, nil
	}
	if src.ModTime.Sub(dst.ModTime) > timestampTolerance {
		return &Comparison{
			Source: source,
			Dest:   dest,
			Result: Different,
			Reason: fmt.Sprintf("source is newer (source: %s, dest: %s)", src.ModTime.Format("2006-01-02 15:04:05"), dst.ModTime.Format("2006-01-02 15:04:05")),
		}, nil
	}

	return &Comparison{
		Source: source,
		Dest:   dest,
		Result: Same,
		Reason: "size and timestamp match",
	}, nil
}

// Name returns the comparator name
func (c *TimestampComparator) Name() string {
	return MethodTimestamp
}
