package worker

import (
	"context"
	"time"

	"locker-service/internal/util"

	"go.uber.org/zap"
)

// Maintainer performs the periodic cleanup passes
type Maintainer interface {
	AbandonStale(ctx context.Context, olderThan time.Duration) (int, error)
	ReleaseExpired(ctx context.Context) (int, error)
}

// Sweeper abandons pending rentals past their TTL and frees expired slots
type Sweeper struct {
	maintainer Maintainer
	interval   time.Duration
	pendingTTL time.Duration
	logger     *zap.Logger
}

// NewSweeper creates a new sweeper
func NewSweeper(maintainer Maintainer, interval, pendingTTL time.Duration) *Sweeper {
	return &Sweeper{
		maintainer: maintainer,
		interval:   interval,
		pendingTTL: pendingTTL,
		logger:     util.GetLogger(),
	}
}

// Start runs a pass immediately and then every interval until ctx ends
func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("Starting sweeper",
		zap.Duration("interval", s.interval),
		zap.Duration("pending_ttl", s.pendingTTL))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Sweeper stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep. Errors are logged; the next tick tries again.
func (s *Sweeper) RunOnce(ctx context.Context) (abandoned, released int) {
	abandoned, err := s.maintainer.AbandonStale(ctx, s.pendingTTL)
	if err != nil {
		s.logger.Error("Failed to abandon stale rentals", zap.Error(err))
	}

	released, err = s.maintainer.ReleaseExpired(ctx)
	if err != nil {
		s.logger.Error("Failed to release expired occupancies", zap.Error(err))
	}

	if abandoned > 0 || released > 0 {
		s.logger.Info("Sweep finished",
			zap.Int("abandoned", abandoned),
			zap.Int("released", released))
	}
	return abandoned, released
}
