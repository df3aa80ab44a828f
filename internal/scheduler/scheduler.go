package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/couchcryptid/soil-telemetry-service/internal/pipeline"
	"github.com/go-co-op/gocron"
)

// Refresher runs one refresh cycle.
type Refresher interface {
	Refresh(ctx context.Context) (pipeline.Snapshot, error)
}

// Scheduler runs a refresh cycle on a fixed interval. Runs never overlap; a
// tick that arrives while a cycle is still running is skipped.
type Scheduler struct {
	scheduler  *gocron.Scheduler
	refresher  Refresher
	interval   time.Duration
	runTimeout time.Duration
	logger     *slog.Logger
}

// New creates a Scheduler. Each run is bounded by runTimeout.
func New(refresher Refresher, interval, runTimeout time.Duration, logger *slog.Logger) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler:  s,
		refresher:  refresher,
		interval:   interval,
		runTimeout: runTimeout,
		logger:     logger,
	}
}

// Start schedules the job, runs it once immediately and returns. Runs stop
// when ctx is canceled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.interval <= 0 {
		return errors.New("scheduler interval must be positive")
	}

	_, err := s.scheduler.Every(s.interval).Do(func() {
		if ctx.Err() != nil {
			return
		}
		runCtx, cancel := context.WithTimeout(ctx, s.runTimeout)
		defer cancel()

		snap, err := s.refresher.Refresh(runCtx)
		if err != nil {
			s.logger.Error("scheduled refresh failed", "error", err)
			return
		}
		s.logger.Info("scheduled refresh complete", "rows", len(snap.Table), "next_in", s.interval)
	})
	if err != nil {
		return err
	}

	s.logger.Info("scheduler started", "interval", s.interval)
	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
