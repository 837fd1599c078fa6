package tasks

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/rhythm/internal/metrics"
	"github.com/desertthunder/rhythm/internal/scratch"
)

// Pruner forgets finished jobs; implemented by [Manager].
type Pruner interface {
	Prune(now time.Time) int
}

// Sweeper enforces the retention window on scratch storage at a fixed interval.
type Sweeper struct {
	store    *scratch.Store
	pruner   Pruner
	interval time.Duration
	logger   *log.Logger
}

// NewSweeper creates a Sweeper. pruner may be nil when no job registry exists (one-shot CLI sweeps).
func NewSweeper(store *scratch.Store, pruner Pruner, interval time.Duration, logger *log.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{store: store, pruner: pruner, interval: interval, logger: logger}
}

// SweepOnce deletes everything at least one retention window old at now.
func (s *Sweeper) SweepOnce(now time.Time) scratch.SweepResult {
	res := s.store.Sweep(now)

	pruned := 0
	if s.pruner != nil {
		pruned = s.pruner.Prune(now)
	}

	for _, err := range res.Errors {
		s.logger.Warn("sweep could not remove entry", "err", err)
	}
	if res.Removed > 0 || pruned > 0 || len(res.Errors) > 0 {
		s.logger.Info("retention sweep",
			"removed", res.Removed,
			"kept", res.Kept,
			"missing", res.Missing,
			"failed", len(res.Errors),
			"jobs_pruned", pruned,
		)
	}

	metrics.ObserveSweep(res.Removed, len(res.Errors), res.Kept, res.Freed)
	return res
}

// Run sweeps immediately and then on every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("retention sweeper started", "dir", s.store.Dir(), "retention", s.store.Retention(), "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.SweepOnce(s.store.Now())
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retention sweeper stopped")
			return nil
		case <-ticker.C:
			s.SweepOnce(s.store.Now())
		}
	}
}
