package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/readone97/Sol-Kart/gateway/middleware"
	"github.com/readone97/Sol-Kart/native/payrequest"
	"github.com/readone97/Sol-Kart/observability"
)

// idempotencyRetention is how long replayable create responses are kept.
const idempotencyRetention = 24 * time.Hour

// janitor expires stale intents and trims per-client and idempotency state.
type janitor struct {
	registry *payrequest.Registry
	store    *SQLiteStore
	limiter  *middleware.RateLimiter
	metrics  *observability.PaymentsMetrics
	logger   *slog.Logger
	interval time.Duration
	nowFn    func() time.Time
}

func (j *janitor) run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		j.sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (j *janitor) sweep(ctx context.Context) {
	expired, err := j.registry.Sweep(ctx)
	if err != nil {
		j.logger.Warn("janitor: sweep intents failed", slog.Any("error", err))
	} else if expired > 0 {
		j.metrics.RecordExpired(expired)
		j.logger.Info("janitor: expired payment requests", slog.Int("count", expired))
	}
	if pending, err := j.registry.Pending(ctx); err == nil {
		j.metrics.SetPending(pending)
	}
	if j.limiter != nil {
		j.limiter.Prune()
	}
	if j.store != nil {
		if _, err := j.store.PruneIdempotency(ctx, j.nowFn().Add(-idempotencyRetention)); err != nil {
			j.logger.Warn("janitor: prune idempotency keys failed", slog.Any("error", err))
		}
	}
}
