package metrics

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sdejongh/kopier/pkg/models"
)

func TestSinkReportsDeltas(t *testing.T) {
	sink := NewSink()
	counter := bytesProcessed.WithLabelValues("metrics-test")
	before := testutil.ToFloat64(counter)

	sink.Report(models.Progress{Mode: "metrics-test", ProcessedBytes: 100, ProcessedFiles: 1})
	sink.Report(models.Progress{Mode: "metrics-test", ProcessedBytes: 250, ProcessedFiles: 2})
	// snapshots never go backwards in counters
	sink.Report(models.Progress{Mode: "metrics-test", ProcessedBytes: 200, ProcessedFiles: 2})

	if got := testutil.ToFloat64(counter) - before; got != 250 {
		t.Errorf("bytes counter delta = %v, want 250", got)
	}
	if got := testutil.ToFloat64(filesProcessed.WithLabelValues("metrics-test")); got != 2 {
		t.Errorf("files counter = %v, want 2", got)
	}
}

func TestRecordConflict(t *testing.T) {
	counter := conflictsTotal.WithLabelValues("file", "skip")
	before := testutil.ToFloat64(counter)

	RecordConflict(models.ConflictFile, models.DecisionSkip)

	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("conflict counter delta = %v, want 1", got)
	}
}

func TestJobLifecycle(t *testing.T) {
	before := testutil.ToFloat64(jobsActive)
	JobStarted()
	if got := testutil.ToFloat64(jobsActive); got != before+1 {
		t.Errorf("jobs active = %v, want %v", got, before+1)
	}

	JobFinished(&models.JobReport{Mode: models.ModeCopy, Status: models.StatusSuccess, Duration: time.Second})
	if got := testutil.ToFloat64(jobsActive); got != before {
		t.Errorf("jobs active = %v, want %v", got, before)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	RecordBackendOperation("s3", "head_object", 10*time.Millisecond, true)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if !strings.Contains(rec.Body.String(), "kopier_backend_operations_total") {
		t.Error("metrics output missing kopier_backend_operations_total")
	}
}

func TestServeStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, "127.0.0.1:0") }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}
