// Package scheduler decides when and on which days to act, moves the day
// view to those days and runs the observe and book workflows.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/court-sniper/internal/jobs"
)

type Enqueuer interface {
	Enqueue(j jobs.Job) (jobs.Job, error)
}

// Daily queues one release-waiting book job ahead of every release.
type Daily struct {
	Planner Planner
	Clock   Clock
	Jobs    Enqueuer
	// Warmup is how long before FireAt the job is queued, leaving time to
	// launch the browser and load the page.
	Warmup time.Duration
	Log    *slog.Logger
}

func (d *Daily) Run(ctx context.Context) error {
	clock := d.Clock
	if clock == nil {
		clock = SystemClock
	}
	log := d.Log
	if log == nil {
		log = slog.Default()
	}

	var last time.Time
	for {
		plan := d.Planner.Plan(clock.Now())
		if !plan.ReleaseAt.After(last) {
			plan = d.Planner.Plan(last.Add(time.Second))
		}
		at := plan.FireAt.Add(-d.Warmup)
		log.Info("next release scheduled",
			"release_at", plan.ReleaseAt.Format(time.RFC3339),
			"queue_at", at.Format(time.RFC3339),
			"window", plan.WindowStart.Format("2006-01-02")+".."+plan.WindowEnd.Format("2006-01-02"))

		if err := WaitUntil(ctx, clock, at, log); err != nil {
			return err
		}
		j, err := d.Jobs.Enqueue(jobs.Job{Kind: jobs.KindBook, WaitForRelease: true, ReleaseAt: plan.ReleaseAt})
		if err != nil {
			log.Error("release job not queued", "release_at", plan.ReleaseAt.Format(time.RFC3339), "err", err)
		} else {
			log.Info("release job queued", "job_id", j.ID)
		}
		last = plan.ReleaseAt
	}
}
