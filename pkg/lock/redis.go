package lock

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/pantrypilot/pantrypilot-backend/pkg/logger"
	"github.com/redis/go-redis/v9"

	apperrors "github.com/pantrypilot/pantrypilot-backend/pkg/errors"
)

const (
	redisKeyPrefix = "pantrypilot:lock:"
	retryInterval  = 50 * time.Millisecond
)

// RedisLocker serializes keys across service replicas using Redis.
type RedisLocker struct {
	client  *redislock.Client
	ttl     time.Duration
	timeout time.Duration
	logger  *logger.Logger
}

// NewRedisLocker creates a distributed locker. ttl bounds how long a crashed
// holder can block a key; timeout bounds how long Acquire retries.
func NewRedisLocker(client redis.UniversalClient, ttl, timeout time.Duration, log *logger.Logger) *RedisLocker {
	return &RedisLocker{
		client:  redislock.New(client),
		ttl:     ttl,
		timeout: timeout,
		logger:  log,
	}
}

// Acquire obtains the Redis lock for key, retrying linearly until the
// configured timeout. Contention past the timeout surfaces as RESOURCE_BUSY.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	obtainCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	lk, err := l.client.Obtain(obtainCtx, redisKeyPrefix+key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(retryInterval),
	})
	if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) {
		return nil, apperrors.Busy(key)
	}
	if err != nil {
		return nil, err
	}

	return func() {
		// Release on a fresh context so a cancelled request still frees the key.
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := lk.Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			l.logger.Warn().Err(err).Str("lock_key", key).Msg("failed to release lock")
		}
	}, nil
}
