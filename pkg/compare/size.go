package compare

import (
	"context"
	"net/url"
)

// SizeComparator considers two files identical when their sizes match
type SizeComparator struct {
	files Files
}

// NewSizeComparator creates a new size comparator
func NewSizeComparator(files Files) *SizeComparator {
	return &SizeComparator{files: files}
}

// Compare compares two files by size only
func (c *SizeComparator) Compare(ctx context.Context, source, dest url.URL) (*Comparison, error) {
	src, dst, err := statBoth(ctx, c.files, source, dest)
	if err != nil {
		return nil, err
	}
	if cmp := precheck(source, dest, src, dst); cmp != nil {
		return cmp, nil
	}
	return &Comparison{
		Source: source,
		Dest:   dest,
		Result: Same,
		Reason: "sizes match",
	}, nil
}

// Name returns the comparator name
func (c *SizeComparator) Name() string {
	return MethodSize
}
