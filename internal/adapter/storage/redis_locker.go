package storage

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rl1809/stock-ledger/internal/logger"
)

const (
	lockKeyPrefix      = "ledger:lock:item:"
	lockReleaseTimeout = 2 * time.Second
)

var releaseLockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisLocker serializes applies on an item across processes. The lock expires after ttl so a
// crashed holder cannot wedge an item; if a holder outlives its ttl, the version check in the
// ledger commit still rejects the late writer with a storage conflict.
type RedisLocker struct {
	client  *redis.Client
	ttl     time.Duration
	backoff time.Duration
	log     *logger.Logger
}

type RedisLockerOption func(*RedisLocker)

// WithLockLogger reports lock releases that fail; such an item stays blocked until the ttl expires.
func WithLockLogger(l *logger.Logger) RedisLockerOption {
	return func(r *RedisLocker) { r.log = l }
}

func NewRedisLocker(client *redis.Client, ttl, backoff time.Duration, opts ...RedisLockerOption) *RedisLocker {
	if backoff <= 0 {
		backoff = 10 * time.Millisecond
	}
	r := &RedisLocker{client: client, ttl: ttl, backoff: backoff, log: logger.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisLocker) Lock(ctx context.Context, itemID int64) (func(), error) {
	key := lockKey(itemID)
	token := uuid.NewString()

	for {
		ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(r.backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// released on a fresh context: the caller's may already be cancelled
			releaseCtx, cancel := context.WithTimeout(context.Background(), lockReleaseTimeout)
			defer cancel()
			if err := releaseLockScript.Run(releaseCtx, r.client, []string{key}, token).Err(); err != nil {
				r.log.Error("release item lock failed", "key", key, "ttl", r.ttl, "error", err)
			}
		})
	}, nil
}

func lockKey(itemID int64) string {
	return lockKeyPrefix + strconv.FormatInt(itemID, 10)
}
