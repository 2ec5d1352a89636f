package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"FeedScanner/internal/domain"
	"FeedScanner/internal/ports"
)

// Scheduler wires the cron driver with the pipeline use case.
type Scheduler struct {
	driver   ports.Scheduler
	pipeline *Pipeline
	notifier ports.Notifier
	logger   *slog.Logger

	triggered sync.WaitGroup
}

// NewScheduler returns a helper to start/stop recurring runs. notifier may be nil.
func NewScheduler(driver ports.Scheduler, pipeline *Pipeline, notifier ports.Notifier, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{driver: driver, pipeline: pipeline, notifier: notifier, logger: logger}
}

// Start registers the pipeline with the provided scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.pipeline == nil {
		return nil
	}

	job := func(trigger time.Time) {
		s.logger.Info("scheduled run triggered", "at", trigger)
		s.RunOnce(ctx)
	}

	return s.driver.Start(ctx, job)
}

// Stop tears down the underlying scheduler and waits, until ctx is done, for
// scheduled and triggered runs still in flight.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver != nil {
		if err := s.driver.Stop(ctx); err != nil {
			return err
		}
	}

	drained := make(chan struct{})
	go func() {
		s.triggered.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce executes the pipeline in the caller's goroutine and publishes the digest.
func (s *Scheduler) RunOnce(ctx context.Context) domain.Outcome {
	out := s.pipeline.Run(ctx)
	s.logger.Info("run outcome", "run_id", out.RunID, "outcome", out.String())
	s.publish(ctx, out)
	return out
}

// Trigger starts a run in the background unless one is already in flight.
// done, when set, receives the outcome.
func (s *Scheduler) Trigger(ctx context.Context, done func(domain.Outcome)) bool {
	if s.pipeline == nil || s.pipeline.Busy() {
		return false
	}
	s.triggered.Add(1)
	go func() {
		defer s.triggered.Done()
		out := s.RunOnce(ctx)
		if done != nil {
			done(out)
		}
	}()
	return true
}

func (s *Scheduler) publish(ctx context.Context, out domain.Outcome) {
	if s.notifier == nil || out.Status != domain.RunCompleted || len(out.Items) == 0 {
		return
	}
	if err := s.notifier.PublishDigest(ctx, BuildDigest(out)); err != nil {
		s.logger.Warn("publish digest failed", "run_id", out.RunID, "error", err)
	}
}
