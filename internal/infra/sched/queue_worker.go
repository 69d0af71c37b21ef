package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"khip-entitlements/internal/infra/metrics"
	"khip-entitlements/internal/usecase"
)

// PoolStatsFunc samples the database pool (total, idle, in use).
type PoolStatsFunc func() (total, idle, inUse int32)

// QueueWorker periodically publishes the report queue gauges and warns about
// purchases that have waited more than a day for a draft.
type QueueWorker struct {
	interval  time.Duration
	queue     usecase.AdminQueueUseCase
	poolStats PoolStatsFunc
	now       func() time.Time
	log       *zerolog.Logger
}

// NewQueueWorker creates the worker. poolStats may be nil (in-memory store).
func NewQueueWorker(interval time.Duration, queue usecase.AdminQueueUseCase, poolStats PoolStatsFunc, logger *zerolog.Logger) *QueueWorker {
	l := logger.With().Str("component", "QueueWorker").Logger()
	return &QueueWorker{
		interval:  interval,
		queue:     queue,
		poolStats: poolStats,
		now:       time.Now,
		log:       &l,
	}
}

func (w *QueueWorker) WithClock(now func() time.Time) *QueueWorker {
	w.now = now
	return w
}

func (w *QueueWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting queue worker")
	// Run once on startup, then on every tick
	w.RunOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping queue worker")
			return ctx.Err()
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sampling pass.
func (w *QueueWorker) RunOnce(ctx context.Context) {
	if w.poolStats != nil {
		metrics.SetDBPoolStats(w.poolStats())
	}

	now := w.now()
	counts, err := w.queue.Counts(ctx, now)
	if err != nil {
		w.log.Error().Err(err).Msg("queue counts failed")
		return
	}
	metrics.SetReportQueue(counts.Pending, counts.UnderReview, counts.Overdue, counts.Delivered)
	if counts.Overdue == 0 {
		return
	}

	items, err := w.queue.PendingQueue(ctx, now)
	if err != nil {
		w.log.Error().Err(err).Msg("pending queue failed")
		return
	}
	for _, it := range items {
		if it.IsOverdue {
			w.log.Warn().
				Str("purchase_id", it.Purchase.ID).
				Str("company_id", it.Purchase.CompanyID).
				Dur("waiting", it.TimeSincePurchase).
				Msg("report purchase overdue")
		}
	}
}
