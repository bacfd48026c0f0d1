package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Resolver reconciles meetings whose end did not run to completion.
type Resolver interface {
	// ResolveStuck completes meetings left in the ending state.
	ResolveStuck(ctx context.Context, grace time.Duration) (int, error)
	// RedispatchUnsummarized hands ended meetings without a summary back to post-processing.
	RedispatchUnsummarized(ctx context.Context, grace time.Duration) (int, error)
}

// Sweeper periodically reconciles meetings whose finalizer or dispatch never completed.
type Sweeper struct {
	resolver Resolver
	interval time.Duration
	grace    time.Duration
	logger   *zap.Logger
}

// NewSweeper creates a sweeper running every interval for meetings stuck longer than grace.
func NewSweeper(r Resolver, interval, grace time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{resolver: r, interval: interval, grace: grace, logger: logger}
}

// Run sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopping")
			return nil
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one reconciliation pass and returns how many meetings it completed and how
// many it re-dispatched.
func (s *Sweeper) Sweep(ctx context.Context) (resolved, redispatched int) {
	n, err := s.resolver.ResolveStuck(ctx, s.grace)
	if err != nil {
		s.logger.Warn("sweep failed", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("resolved stuck meetings", zap.Int("count", n))
	}
	resolved = n

	n, err = s.resolver.RedispatchUnsummarized(ctx, s.grace)
	if err != nil {
		s.logger.Warn("summary re-dispatch failed", zap.Int("sent", n), zap.Error(err))
	} else if n > 0 {
		s.logger.Info("re-dispatched unsummarized meetings", zap.Int("count", n))
	}
	return resolved, n
}
