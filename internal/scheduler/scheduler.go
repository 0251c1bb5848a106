// Package scheduler runs the periodic maintenance jobs: the idle-ticket
// sweep, the feedback digest and session pruning.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// JobFunc is called when a scheduled job fires.
type JobFunc func(ctx context.Context) error

// Scheduler manages named cron jobs.
type Scheduler struct {
	mu     sync.Mutex
	cron   *cron.Cron
	jobs   map[string]cron.EntryID
	logger *slog.Logger

	ctx context.Context
}

// New creates an empty scheduler.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:   cron.New(),
		jobs:   make(map[string]cron.EntryID),
		logger: logger,
		ctx:    context.Background(),
	}
}

// Start begins the cron loop. Blocks until context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", s.JobCount())

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
	return ctx.Err()
}

// Register adds a named job. The schedule is a standard cron expression
// (5 fields) or a predefined one like @every 10m. Registering an existing
// name replaces the previous schedule.
func (s *Scheduler) Register(name, schedule string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.jobs[name]; ok {
		s.cron.Remove(old)
	}

	id, err := s.cron.AddFunc(schedule, func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()

		if err := fn(ctx); err != nil {
			s.logger.Error("job failed", "job", name, "error", err)
			return
		}
		s.logger.Debug("job finished", "job", name)
	})
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q for %s: %w", schedule, name, err)
	}

	s.jobs[name] = id
	s.logger.Info("job registered", "job", name, "schedule", schedule)
	return nil
}

// Remove deletes a named job.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.jobs[name]; ok {
		s.cron.Remove(id)
		delete(s.jobs, name)
	}
}

// JobCount returns the number of registered jobs.
func (s *Scheduler) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}
