// Package metrics provides Prometheus metrics for kopier jobs and backends.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sdejongh/kopier/pkg/models"
)

var (
	// Transfer metrics
	bytesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kopier_bytes_processed_total",
			Help: "Total bytes copied, moved or skipped by jobs",
		},
		[]string{"mode"},
	)

	filesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kopier_files_processed_total",
			Help: "Total files processed by jobs",
		},
		[]string{"mode"},
	)

	dirsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kopier_dirs_processed_total",
			Help: "Total directories processed by jobs",
		},
		[]string{"mode"},
	)

	streamedBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kopier_streamed_bytes_total",
			Help: "Bytes streamed between two different backends",
		},
		[]string{"from", "to"},
	)

	// Job metrics
	jobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kopier_jobs_total",
			Help: "Total number of finished jobs",
		},
		[]string{"mode", "status"},
	)

	jobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kopier_jobs_active",
			Help: "Number of jobs currently running",
		},
	)

	jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kopier_job_duration_seconds",
			Help:    "Job duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		},
		[]string{"mode"},
	)

	conflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kopier_conflicts_total",
			Help: "Naming conflicts by kind and decision",
		},
		[]string{"kind", "decision"},
	)

	// Backend metrics
	backendOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kopier_backend_operations_total",
			Help: "Total backend operations",
		},
		[]string{"backend", "operation", "status"},
	)

	backendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kopier_backend_operation_duration_seconds",
			Help:    "Backend operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// RecordBackendOperation records one backend call.
func RecordBackendOperation(backend, operation string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	backendOperations.WithLabelValues(backend, operation, status).Inc()
	backendDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// RecordStreamedBytes records bytes copied between two backends.
func RecordStreamedBytes(from, to string, n int64) {
	if n > 0 {
		streamedBytes.WithLabelValues(from, to).Add(float64(n))
	}
}

// RecordConflict records a resolved naming conflict.
func RecordConflict(kind models.ConflictKind, decision models.DecisionAction) {
	conflictsTotal.WithLabelValues(string(kind), string(decision)).Inc()
}

// JobStarted marks a job as running.
func JobStarted() {
	jobsActive.Inc()
}

// JobFinished records the outcome of a job.
func JobFinished(report *models.JobReport) {
	jobsActive.Dec()
	jobsTotal.WithLabelValues(string(report.Mode), string(report.Status)).Inc()
	jobDuration.WithLabelValues(string(report.Mode)).Observe(report.Duration.Seconds())
}

// Sink turns progress snapshots of one job into counter increments.
type Sink struct {
	mu    sync.Mutex
	bytes int64
	files int
	dirs  int
}

// NewSink creates a progress sink for one job
func NewSink() *Sink {
	return &Sink{}
}

// Report adds the progress made since the previous snapshot
func (s *Sink) Report(p models.Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mode := string(p.Mode)
	if d := p.ProcessedBytes - s.bytes; d > 0 {
		bytesProcessed.WithLabelValues(mode).Add(float64(d))
		s.bytes = p.ProcessedBytes
	}
	if d := p.ProcessedFiles - s.files; d > 0 {
		filesProcessed.WithLabelValues(mode).Add(float64(d))
		s.files = p.ProcessedFiles
	}
	if d := p.ProcessedDirs - s.dirs; d > 0 {
		dirsProcessed.WithLabelValues(mode).Add(float64(d))
		s.dirs = p.ProcessedDirs
	}
}
