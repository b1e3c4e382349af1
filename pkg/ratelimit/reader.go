package ratelimit

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Progress reporting thresholds
const (
	progressReportInterval = 50 * time.Millisecond
	progressReportBytes    = 64 * 1024
)

// Limiter is a byte budget shared by every stream of a process
type Limiter struct {
	bytesPerSecond int64
	bucketSize     int64 // burst size
	lim            *rate.Limiter
}

// NewLimiter creates a limiter for bytesPerSecond. A non-positive rate
// returns nil, which every helper of this package treats as unlimited.
func NewLimiter(bytesPerSecond int64) *Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}

	// one second worth of data, 64KB minimum
	bucketSize := bytesPerSecond
	if bucketSize < 65536 {
		bucketSize = 65536
	}

	return &Limiter{
		bytesPerSecond: bytesPerSecond,
		bucketSize:     bucketSize,
		lim:            rate.NewLimiter(rate.Limit(bytesPerSecond), int(bucketSize)),
	}
}

// Rate returns the configured bytes per second, 0 for a nil limiter
func (l *Limiter) Rate() int64 {
	if l == nil {
		return 0
	}
	return l.bytesPerSecond
}

// WaitN blocks until n bytes may be transferred or ctx is done. Requests
// above the bucket size are split.
func (l *Limiter) WaitN(ctx context.Context, n int64) error {
	if l == nil {
		return nil
	}
	for n > 0 {
		chunk := min(n, l.bucketSize)
		if err := l.lim.WaitN(ctx, int(chunk)); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// Reader throttles an io.Reader through a Limiter and reports the running
// byte count to an optional progress callback.
type Reader struct {
	reader     io.Reader
	limiter    *Limiter
	ctx        context.Context
	onProgress func(read int64)

	read           int64
	lastReported   int64
	lastReportTime time.Time
}

// NewReader wraps reader. limiter and onProgress may both be nil.
func NewReader(ctx context.Context, reader io.Reader, limiter *Limiter, onProgress func(read int64)) *Reader {
	return &Reader{
		reader:         reader,
		limiter:        limiter,
		ctx:            ctx,
		onProgress:     onProgress,
		lastReportTime: time.Now(),
	}
}

// Read implements io.Reader
func (r *Reader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}

	if r.limiter != nil && int64(len(p)) > r.limiter.bucketSize {
		p = p[:r.limiter.bucketSize]
	}

	n, err := r.reader.Read(p)
	if n > 0 && r.limiter != nil {
		// pay for what was read before handing it out
		if werr := r.limiter.WaitN(r.ctx, int64(n)); werr != nil {
			return 0, werr
		}
	}

	if n > 0 {
		r.read += int64(n)
	}
	if r.onProgress != nil && (n > 0 || err != nil) {
		// throttle callbacks, always report the final read
		if r.read-r.lastReported >= progressReportBytes ||
			time.Since(r.lastReportTime) >= progressReportInterval ||
			err != nil {
			if r.read != r.lastReported || err != nil {
				r.onProgress(r.read)
			}
			r.lastReported = r.read
			r.lastReportTime = time.Now()
		}
	}
	return n, err
}

// BytesRead returns the number of bytes read so far
func (r *Reader) BytesRead() int64 {
	return r.read
}

// ParseRate parses a bandwidth such as "512K", "10M" or "1G" (bytes per
// second, binary multiples). An empty string or "0" means unlimited.
func ParseRate(s string) (int64, error) {
	raw := s
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" || s == "0" {
		return 0, nil
	}
	s = strings.TrimSuffix(strings.TrimSuffix(s, "/S"), "B")
	if s == "" {
		return 0, fmt.Errorf("invalid bandwidth %q", raw)
	}

	multiplier := int64(1)
	switch s[len(s)-1] {
	case 'K':
		multiplier = 1 << 10
	case 'M':
		multiplier = 1 << 20
	case 'G':
		multiplier = 1 << 30
	}
	if multiplier > 1 {
		s = s[:len(s)-1]
	}

	value, err := strconv.ParseFloat(s, 64)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("invalid bandwidth %q (e.g. \"10M\", \"1G\")", raw)
	}
	return int64(value * float64(multiplier)), nil
}
