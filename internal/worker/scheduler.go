// Package worker runs the ingestion pipeline's periodic tasks: container
// scanning, upload retries, ready-notification publishing and acknowledgement
// consumption.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TaskFunc is one scheduled unit of work. Errors are logged, never fatal.
type TaskFunc func(ctx context.Context) error

// Task pairs a named TaskFunc with its interval.
type Task struct {
	Name     string
	Interval time.Duration
	Run      TaskFunc
}

// Scheduler drives a set of tasks on independent tickers.
type Scheduler struct {
	tasks  []Task
	logger *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewScheduler builds a scheduler over the given tasks.
func NewScheduler(logger *zap.Logger, tasks ...Task) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{tasks: tasks, logger: logger}
}

// Start launches one goroutine per task. Safe to call once.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	for _, task := range s.tasks {
		if task.Interval <= 0 || task.Run == nil {
			s.logger.Warn("task skipped, no interval or body", zap.String("task", task.Name))
			continue
		}
		s.wg.Add(1)
		go s.loop(ctx, task)
	}
	s.started = true
	s.logger.Info("scheduler started", zap.Int("tasks", len(s.tasks)))
}

// Stop cancels all task loops and waits for them to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, task Task) {
	defer s.wg.Done()
	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	// Run once at startup so a fresh deployment drains backlog immediately.
	s.runOnce(ctx, task)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, task)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("task panicked",
				zap.String("task", task.Name),
				zap.Any("panic", r))
		}
	}()
	start := time.Now()
	if err := task.Run(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("task failed",
			zap.String("task", task.Name),
			zap.Error(fmt.Errorf("%s: %w", task.Name, err)))
		return
	}
	s.logger.Debug("task finished",
		zap.String("task", task.Name),
		zap.Duration("took", time.Since(start)))
}
