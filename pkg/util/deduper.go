package util

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SetNXer is the subset of *redis.Client used by Deduper.
type SetNXer interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type Deduper struct {
	rdb    SetNXer
	ttl    time.Duration
	logger *zap.Logger
}

func NewDeduper(rdb SetNXer, ttl time.Duration, logger *zap.Logger) *Deduper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduper{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

// AcquireOnce reports whether this is the first time handler sees eventKey.
// A Redis failure lets the event through; handlers downstream are idempotent.
func (d *Deduper) AcquireOnce(ctx context.Context, handler string, eventKey string) bool {
	key := dedupKey(handler, eventKey)

	ok, err := d.rdb.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		d.logger.Warn("Redis dedup check failed, allowing processing",
			zap.String("handler", handler),
			zap.String("event_key", eventKey),
			zap.Error(err),
		)
		return true
	}

	if !ok {
		d.logger.Info("Skipped duplicated event",
			zap.String("handler", handler),
			zap.String("dedup_key", key),
		)
	}

	return ok
}

// Release forgets eventKey so a redelivered message is processed again.
// Handlers call it when they fail with a retryable error.
func (d *Deduper) Release(ctx context.Context, handler string, eventKey string) {
	if err := d.rdb.Del(ctx, dedupKey(handler, eventKey)).Err(); err != nil {
		d.logger.Warn("Redis dedup release failed",
			zap.String("handler", handler),
			zap.String("event_key", eventKey),
			zap.Error(err),
		)
	}
}

func dedupKey(handler, eventKey string) string {
	return "dedup:" + handler + ":" + eventKey
}
