// Package watch re-runs a dashboard job on a cron schedule.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one scheduled run.
type Job func(ctx context.Context) error

// Scheduler runs a Job on a cron schedule. Runs never overlap: a tick that
// fires while the previous run is still going is skipped.
type Scheduler struct {
	schedule string
	job      Job
	cron     *cron.Cron
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	runs    int
}

// NewScheduler creates a scheduler for job. Schedules use standard cron
// syntax or descriptors such as "@every 5m" and "@hourly".
func NewScheduler(schedule string, job Job) *Scheduler {
	return &Scheduler{
		schedule: schedule,
		job:      job,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:   slog.Default().With("component", "watch.scheduler"),
	}
}

// Start schedules the job. It stops the scheduler when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, err)
	}

	if _, err := s.cron.AddFunc(s.schedule, func() { s.run(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule refresh: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("Watch scheduler started", "schedule", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	err := s.job(ctx)

	s.mu.Lock()
	s.runs++
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("Scheduled refresh failed", "error", err, "duration", time.Since(start))
		return
	}
	s.logger.Debug("Scheduled refresh completed", "duration", time.Since(start))
}

// Stop stops the scheduler and waits for a running job to complete.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info("Watch scheduler stopped")
}

// IsRunning returns true if the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Runs returns how many times the job has completed.
func (s *Scheduler) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// NextRun returns the next scheduled run, or nil when not scheduled.
func (s *Scheduler) NextRun() *time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
