// Package scheduler runs periodic maintenance jobs, such as resyncing the
// open session when no push channel is attached.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is a named unit of periodic work.
type Job struct {
	Name     string
	Schedule string
	Enabled  bool
	// Timeout bounds one run. Zero means DefaultJobTimeout.
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// DefaultJobTimeout bounds a job run when the job sets no timeout.
const DefaultJobTimeout = time.Minute

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field, plus descriptors such as
// "@every 30s".
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Scheduler fires jobs on their cron schedules. A job that is still running
// when its next tick arrives is skipped.
type Scheduler struct {
	jobs []Job
	cron *cron.Cron
}

// New creates a Scheduler for the given jobs.
func New(jobs ...Job) *Scheduler {
	return &Scheduler{
		jobs: jobs,
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
	}
}

// Validate checks a schedule expression.
func Validate(schedule string) error {
	if _, err := cronParser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	return nil
}

// Start registers the enabled jobs and starts the cron ticker. Jobs with an
// invalid schedule are skipped and reported in the returned error; the
// valid ones still run. Job runs stop once ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	var errs []error
	for _, job := range s.jobs {
		if job.Schedule == "" || !job.Enabled || job.Run == nil {
			continue
		}
		job := job
		_, err := s.cron.AddFunc(job.Schedule, func() {
			s.run(ctx, job)
		})
		if err != nil {
			slog.Error("invalid cron schedule", "job", job.Name, "schedule", job.Schedule, "error", err)
			errs = append(errs, fmt.Errorf("job %s: %w", job.Name, err))
			continue
		}
		slog.Info("scheduled job", "job", job.Name, "schedule", job.Schedule)
	}
	s.cron.Start()
	return errors.Join(errs...)
}

func (s *Scheduler) run(ctx context.Context, job Job) {
	if ctx.Err() != nil {
		return
	}
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}
	jctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	if err := job.Run(jctx); err != nil {
		slog.Warn("scheduled job failed", "job", job.Name, "error", err)
		return
	}
	slog.Debug("scheduled job finished", "job", job.Name, "duration", time.Since(start))
}

// Stop stops the cron ticker and waits for running jobs to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
