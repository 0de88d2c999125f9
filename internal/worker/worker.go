// Package worker runs periodic background jobs on a fixed interval.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/DukeRupert/tandem/internal/metrics"
)

// Runner schedules registered jobs, one goroutine per job. Runs of the same
// job never overlap.
type Runner struct {
	jobs   []Job
	config Config
	logger *slog.Logger

	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a Runner with the given configuration. Start it with Start and
// stop it with Stop.
func New(config Config, logger *slog.Logger) (*Runner, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Runner{
		config: config,
		logger: logger,
		stopCh: make(chan struct{}),
	}, nil
}

// Register adds a job. Call this before Start.
func (r *Runner) Register(job Job) {
	r.jobs = append(r.jobs, job)
	r.logger.Debug("registered job", "job_type", job.Type())
}

// Start launches a goroutine per registered job. Jobs stop when ctx is done
// or Stop is called.
func (r *Runner) Start(ctx context.Context) {
	for _, job := range r.jobs {
		r.wg.Add(1)
		go r.loop(ctx, job)
	}
	r.logger.Info("worker started", "jobs", len(r.jobs), "interval", r.config.Interval)
}

// Stop signals all jobs to stop and waits for in-flight runs, up to the
// configured ShutdownTimeout. It reports whether every job finished.
func (r *Runner) Stop() bool {
	r.stopOnce.Do(func() { close(r.stopCh) })

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("worker stopped gracefully")
		return true
	case <-time.After(r.config.ShutdownTimeout):
		r.logger.Warn("worker shutdown timeout exceeded, some jobs may still be running")
		return false
	}
}

// loop runs job on every tick until stopped. A permanent failure ends the loop.
func (r *Runner) loop(ctx context.Context, job Job) {
	defer r.wg.Done()

	logger := r.logger.With("job_type", job.Type())

	if r.config.RunOnStart {
		if !r.execute(ctx, job, logger) {
			return
		}
	}

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !r.execute(ctx, job, logger) {
				return
			}
		}
	}
}

// execute performs a single run with the job timeout. It returns false when
// the job must not be scheduled again.
func (r *Runner) execute(ctx context.Context, job Job, logger *slog.Logger) bool {
	jobCtx, cancel := context.WithTimeout(ctx, r.config.JobTimeout)
	defer cancel()

	start := time.Now()
	err := job.Run(jobCtx)
	duration := time.Since(start)

	if err != nil {
		metrics.JobFailed(job.Type(), duration)
		if IsPermanent(err) {
			logger.Error("job failed permanently, unscheduling", "error", err)
			return false
		}
		logger.Warn("job failed", "error", err, "duration_ms", duration.Milliseconds())
		return true
	}

	metrics.JobCompleted(job.Type(), duration)
	logger.Debug("job completed", "duration_ms", duration.Milliseconds())
	return true
}
