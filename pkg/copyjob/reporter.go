package copyjob

import (
	"sync"
	"time"

	"github.com/sdejongh/kopier/pkg/models"
)

// Reporter samples a job's counters and sends snapshots to a ProgressSink.
// It only reads job state.
type Reporter struct {
	job      *Job
	sink     ProgressSink
	interval time.Duration

	mu      sync.Mutex
	lastSrc string
	lastDst string

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func newReporter(j *Job, sink ProgressSink, interval time.Duration) *Reporter {
	return &Reporter{
		job:      j,
		sink:     sink,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

func (r *Reporter) start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-r.stopCh:
				return
			case <-ticker.C:
				// Quiet while a resolver talks to the user
				if r.job.asking.Load() {
					continue
				}
				r.flush()
			}
		}
	}()
}

// stop ends periodic reporting and sends the final snapshot
func (r *Reporter) stop() {
	close(r.stopCh)
	r.wg.Wait()
	r.flush()
}

func (r *Reporter) flush() {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, src, dst := r.job.snapshot()
	if src != r.lastSrc || dst != r.lastDst {
		p.CurrentSource, p.CurrentDest = src, dst
		r.lastSrc, r.lastDst = src, dst
	}
	r.sink.Report(p)
}

// snapshot returns the job's progress and its current pair
func (j *Job) snapshot() (models.Progress, string, string) {
	inflight := j.transferred.Load()

	j.mu.Lock()
	defer j.mu.Unlock()

	s := j.stats
	p := models.Progress{
		JobID:          j.id,
		Mode:           j.mode,
		State:          j.state.String(),
		TotalBytes:     s.TotalBytes,
		ProcessedBytes: s.ProcessedBytes + inflight,
		TotalFiles:     s.TotalFiles,
		ProcessedFiles: s.ProcessedFiles,
		TotalDirs:      s.TotalDirs,
		ProcessedDirs:  s.ProcessedDirs,
		Elapsed:        time.Since(j.startTime),
	}
	if p.ProcessedBytes > p.TotalBytes {
		p.TotalBytes = p.ProcessedBytes
	}
	if secs := p.Elapsed.Seconds(); secs > 0 {
		p.Speed = int64(float64(p.ProcessedBytes) / secs)
	}
	return p, j.curSrcStr, j.curDstStr
}
