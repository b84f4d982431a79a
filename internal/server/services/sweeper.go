package services

import (
	"context"
	"time"

	"github.com/dmitrijs2005/authgate/internal/logging"
	"github.com/dmitrijs2005/authgate/internal/metrics"
	"github.com/dmitrijs2005/authgate/internal/server/repositories/refreshtokens"
)

// Sweeper periodically deletes refresh tokens past their expiry.
type Sweeper struct {
	store    refreshtokens.Repository
	interval time.Duration
	metrics  *metrics.Metrics
	logger   logging.Logger
	now      func() time.Time
}

// NewSweeper purges expired refresh tokens from store every interval once started.
func NewSweeper(store refreshtokens.Repository, interval time.Duration, m *metrics.Metrics, logger logging.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		metrics:  m,
		logger:   logger.With("module", "sweeper"),
		now:      time.Now,
	}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info(ctx, "sweeper started", "interval", s.interval.String())
	s.sweepAndLog(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info(context.Background(), "sweeper stopped")
			return
		case <-ticker.C:
			s.sweepAndLog(ctx)
		}
	}
}

// Sweep purges tokens that expired before now.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	n, err := s.store.PurgeExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	s.metrics.Purged(n)
	return n, nil
}

func (s *Sweeper) sweepAndLog(ctx context.Context) {
	n, err := s.Sweep(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error(ctx, "purge expired refresh tokens failed", "error", err)
		}
		return
	}
	if n > 0 {
		s.logger.Info(ctx, "purged expired refresh tokens", "count", n)
	}
}
