package scheduler

import (
	"context"
	"log/slog"
	"time"

	"blogsync/internal/domain"
)

// Puller defines the interface for pull operations.
type Puller interface {
	Pull(ctx context.Context) (*domain.PullStats, error)
}

type Scheduler struct {
	puller   Puller
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

func NewScheduler(puller Puller, interval, timeout time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		puller:   puller,
		interval: interval,
		timeout:  timeout,
		logger:   logger.With("component", "scheduler"),
	}
}

// Start pulls immediately and then on every tick until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval, "timeout", s.timeout)

	s.runPull(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runPull(ctx)
		}
	}
}

func (s *Scheduler) runPull(ctx context.Context) {
	pullCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		pullCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if _, err := s.puller.Pull(pullCtx); err != nil {
		s.logger.Error("pull failed", "error", err, "message", domain.UserMessage(err))
	}
}
