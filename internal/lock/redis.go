package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Only the holder's token may delete the key
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker extends KeyedMutex across worker instances with a SET NX
// lease per key. The lease expires after ttl if a holder dies.
type RedisLocker struct {
	redis  *redis.Client
	local  *KeyedMutex
	ttl    time.Duration
	retry  time.Duration
	logger *zap.Logger
}

// NewRedisLocker creates a distributed locker
func NewRedisLocker(redisClient *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{
		redis:  redisClient,
		local:  NewKeyedMutex(),
		ttl:    ttl,
		retry:  25 * time.Millisecond,
		logger: logger,
	}
}

func lockKey(key string) string {
	return fmt.Sprintf("incident_lock:%s", key)
}

// Lock takes the in-process lock first, then polls for the Redis lease
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	unlockLocal, err := l.local.Lock(ctx, key)
	if err != nil {
		return nil, err
	}

	k := lockKey(key)
	token := uuid.NewString()

	for {
		ok, err := l.redis.SetNX(ctx, k, token, l.ttl).Result()
		if err != nil {
			unlockLocal()
			return nil, fmt.Errorf("failed to acquire lock %s: %w", k, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			unlockLocal()
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}

	return func() {
		defer unlockLocal()

		// The caller's context may already be cancelled
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := releaseScript.Run(releaseCtx, l.redis, []string{k}, token).Err(); err != nil {
			l.logger.Warn("Failed to release lock", zap.String("key", k), zap.Error(err))
		}
	}, nil
}
