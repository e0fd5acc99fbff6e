package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/softcane/vortex-core/internal/metrics"
)

// ExpiryNotifier receives records the sweep transitioned to failed so the
// owning optimization job can re-plan. Expiry is surfaced exactly like an
// explicit failure.
type ExpiryNotifier interface {
	ActionExpired(rec AgentActionRecord)
}

// Sweeper periodically fails overdue records.
type Sweeper struct {
	store    Store
	notifier ExpiryNotifier
	interval time.Duration
	logger   *slog.Logger
}

// SweeperConfig configures the expired-action sweep loop.
type SweeperConfig struct {
	Store    Store
	Notifier ExpiryNotifier
	Interval time.Duration
	Logger   *slog.Logger
}

// NewSweeper creates a sweeper. Interval defaults to one minute.
func NewSweeper(cfg SweeperConfig) *Sweeper {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		store:    cfg.Store,
		notifier: cfg.Notifier,
		interval: interval,
		logger:   logger,
	}
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.SweepOnce(ctx); err != nil {
				s.logger.Error("sweep failed", "error", err)
			}
		}
	}
}

// SweepOnce runs a single sweep pass.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	swept, err := s.store.SweepExpired(ctx, time.Now())
	if err != nil {
		return err
	}
	for _, rec := range swept {
		s.logger.Warn("delegated action expired",
			"record_id", rec.ID,
			"job_id", rec.JobID,
			"cluster_id", rec.ClusterID,
			"action_type", rec.ActionType,
			"created_at", rec.CreatedAt,
		)
		metrics.ActionsSwept.Inc()
		if s.notifier != nil {
			s.notifier.ActionExpired(rec)
		}
	}
	return nil
}
