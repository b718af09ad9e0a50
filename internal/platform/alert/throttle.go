package alert

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const throttleKey = "alert_throttle"

type counterStore interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
}

// Throttler forwards operator alerts to the error log, at most limit times per
// window across every process sharing the Redis instance.
type Throttler struct {
	store  counterStore
	limit  int64
	window time.Duration
	log    *zap.SugaredLogger
}

func NewThrottler(store counterStore, limit int, window time.Duration, log *zap.SugaredLogger) *Throttler {
	return &Throttler{store: store, limit: int64(limit), window: window, log: log}
}

// Alert records msg for operator attention. When the counter cannot be read the
// alert is emitted anyway.
func (t *Throttler) Alert(ctx context.Context, msg string, keysAndValues ...interface{}) bool {
	count, err := t.next(ctx)
	if err != nil {
		t.log.Warnw("alert throttle unavailable", "error", err)
	} else if count > t.limit {
		return false
	}
	t.log.Errorw(msg, keysAndValues...)
	return true
}

func (t *Throttler) next(ctx context.Context) (int64, error) {
	if err := t.store.SetNX(ctx, throttleKey, 0, t.window).Err(); err != nil {
		return 0, err
	}
	return t.store.Incr(ctx, throttleKey).Result()
}
