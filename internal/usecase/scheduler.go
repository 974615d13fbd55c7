package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/crypto-morph/newsfinder/internal/ports"
)

// Scheduler wires the interval driver with the runner.
type Scheduler struct {
	driver ports.Scheduler
	runner *Runner
	config RunConfig
	logger *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring runs.
func NewScheduler(driver ports.Scheduler, runner *Runner, cfg RunConfig, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{driver: driver, runner: runner, config: cfg, logger: logger.With("component", "scheduler")}
}

// Start registers a job that starts a run and waits for it.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.runner == nil {
		return nil
	}

	job := func(trigger time.Time) {
		runID, err := s.runner.StartRun(ctx, s.config)
		if err != nil {
			s.logger.Error("start scheduled run", "error", err)
			return
		}
		s.logger.Info("scheduled run triggered", "run_id", runID, "trigger", trigger.Format(time.RFC3339))
		if _, err := s.runner.Wait(ctx, runID); err != nil {
			s.logger.Error("scheduled run failed", "run_id", runID, "error", err)
		}
	}

	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
