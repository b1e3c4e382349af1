package copyjob

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/sdejongh/kopier/pkg/models"
)

// Scheduler runs independent jobs concurrently
type Scheduler struct {
	limit int
}

// NewScheduler creates a scheduler running at most limit jobs at once.
// A limit below one means no limit.
func NewScheduler(limit int) *Scheduler {
	return &Scheduler{limit: limit}
}

// Run runs every job and returns their reports in the order of jobs.
// Jobs do not stop each other; the returned error is the first one seen.
func (s *Scheduler) Run(ctx context.Context, jobs []*Job) ([]*models.JobReport, error) {
	var g errgroup.Group
	if s.limit > 0 {
		g.SetLimit(s.limit)
	}

	reports := make([]*models.JobReport, len(jobs))
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			report, err := job.Run(ctx)
			reports[i] = report
			return err
		})
	}
	return reports, g.Wait()
}
