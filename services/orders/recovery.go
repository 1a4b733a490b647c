package main

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

// RecoveryWorker finishes sagas a crashed or cut-off request left behind and
// abandons carts nobody touched for a while.
type RecoveryWorker struct {
	saga       *SagaExecutor
	carts      *CartStore
	repository Repository
	interval   time.Duration
	grace      time.Duration
	cartTTL    time.Duration
}

// ledgerSweeper is a ledger that must drop its own expired entries.
type ledgerSweeper interface {
	Sweep(now time.Time) int
}

func NewRecoveryWorker(saga *SagaExecutor, carts *CartStore, repository Repository, interval, grace, cartTTL time.Duration) *RecoveryWorker {
	return &RecoveryWorker{
		saga:       saga,
		carts:      carts,
		repository: repository,
		interval:   interval,
		grace:      grace,
		cartTTL:    cartTTL,
	}
}

func (w *RecoveryWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.RunOnce(ctx, time.Now())
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce resumes sagas idle since before now-grace and expires carts idle
// since before now-cartTTL. It returns how many sagas were resumed.
func (w *RecoveryWorker) RunOnce(ctx context.Context, now time.Time) int {
	resumed := w.recoverStuckSagas(ctx, now.Add(-w.grace))

	if sweeper, ok := w.saga.ledger.(ledgerSweeper); ok {
		if swept := sweeper.Sweep(now); swept > 0 {
			log.Debug().Int("entries", swept).Msg("🧹 Dropped expired idempotency keys")
		}
	}

	if w.cartTTL > 0 {
		expired, err := w.carts.ExpireInactive(ctx, now.Add(-w.cartTTL))
		if err != nil {
			log.Error().Err(err).Msg("❌ Failed to expire idle carts")
		} else if expired > 0 {
			log.Info().Int("carts", expired).Msg("🧹 Abandoned idle carts")
		}
	}
	return resumed
}

func (w *RecoveryWorker) recoverStuckSagas(ctx context.Context, updatedBefore time.Time) int {
	records, err := w.repository.ListUnfinishedSagas(ctx, updatedBefore)
	if err != nil {
		log.Error().Err(err).Msg("❌ Failed to list unfinished sagas")
		return 0
	}

	resumed := 0
	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}
		err := w.saga.Resume(ctx, rec.OrderID)
		switch {
		case err == nil:
			resumed++
		case errors.Is(err, ErrConflict):
			// still running elsewhere
		default:
			log.Error().Err(err).Str("order_id", rec.OrderID).Str("status", rec.Current.String()).
				Msg("❌ Failed to resume saga")
		}
	}
	return resumed
}
