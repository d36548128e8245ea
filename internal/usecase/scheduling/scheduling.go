// Package scheduling runs recurring maintenance tasks on fixed intervals.
// It wraps robfig/cron so intervals and cron expressions share one engine.
package scheduling

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// TaskFunc is a unit of recurring work. The context is cancelled when the
// scheduler stops.
type TaskFunc func(ctx context.Context) error

// Scheduler runs named tasks on recurring schedules.
type Scheduler struct {
	cron    *cron.Cron
	entries map[string]cron.EntryID
	logger  *slog.Logger
	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a scheduler.
func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		entries: make(map[string]cron.EntryID),
		logger:  logger,
	}
}

// Every registers a task that fires at a fixed interval. Unlike cron.Every
// the interval may be sub-second, which keeps tests fast.
func (s *Scheduler) Every(name string, interval time.Duration, fn TaskFunc) error {
	if interval <= 0 {
		return fmt.Errorf("scheduler: interval for task %q must be positive", name)
	}
	return s.schedule(name, &constantDelay{delay: interval}, fn)
}

// Cron registers a task driven by a cron expression ("*/5 * * * *").
func (s *Scheduler) Cron(name, expr string, fn TaskFunc) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	sched, err := parser.Parse(expr)
	if err != nil {
		return fmt.Errorf("scheduler: invalid cron expression %q for task %q: %w", expr, name, err)
	}
	return s.schedule(name, sched, fn)
}

func (s *Scheduler) schedule(name string, sched cron.Schedule, fn TaskFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[name]; exists {
		return fmt.Errorf("scheduler: task %q already registered", name)
	}

	logger := s.logger
	entryID := s.cron.Schedule(sched, cron.FuncJob(func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()

		if ctx == nil {
			logger.Debug("scheduler stopped, skipping task", "task", name)
			return
		}

		start := time.Now()
		if err := fn(ctx); err != nil {
			logger.Warn("scheduled task failed",
				"task", name,
				"error", err,
				"duration", time.Since(start))
		}
	}))

	s.entries[name] = entryID
	return nil
}

// Remove drops a registered task by name.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.entries[name]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, name)
	}
}

// Start begins running registered tasks. Idempotent.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.started = true
}

// Stop cancels task contexts and waits for running jobs to finish.
// Idempotent. The lock is released before waiting so an in-flight job that
// still needs it can complete.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.ctx = nil
	s.started = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
}

// constantDelay implements cron.Schedule for a fixed interval.
type constantDelay struct {
	delay time.Duration
}

func (d *constantDelay) Next(t time.Time) time.Time {
	return t.Add(d.delay)
}
