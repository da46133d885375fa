package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter shares attempt counters between server instances through Redis.
// Each key uses a counter that expires with the window and a lock marker that
// expires with the lock duration.
type RedisLimiter struct {
	rdb    redis.Cmdable
	prefix string
	policy AttemptPolicy
}

func NewRedisLimiter(rdb redis.Cmdable, prefix string, policy AttemptPolicy) *RedisLimiter {
	return &RedisLimiter{
		rdb:    rdb,
		prefix: prefix,
		policy: policy.withDefaults(),
	}
}

func (r *RedisLimiter) Check(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := r.rdb.PTTL(ctx, r.lockKey(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis limiter: check lock: %w", err)
	}
	if ttl <= 0 {
		return 0, nil
	}
	return ttl, nil
}

func (r *RedisLimiter) RecordFailure(ctx context.Context, key string) (int, error) {
	failKey := r.failKey(key)

	// The counter is created with its expiry in the same transaction that
	// increments it, so it can never outlive the window.
	var incr *redis.IntCmd
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, failKey, 0, r.policy.Window)
		incr = pipe.Incr(ctx, failKey)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis limiter: count failure: %w", err)
	}
	count := incr.Val()

	if count < int64(r.policy.MaxAttempts) {
		return r.policy.MaxAttempts - int(count), nil
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.lockKey(key), "1", r.policy.LockDuration)
		pipe.Del(ctx, failKey)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis limiter: lock: %w", err)
	}

	return 0, nil
}

func (r *RedisLimiter) Reset(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, r.failKey(key), r.lockKey(key)).Err(); err != nil {
		return fmt.Errorf("redis limiter: reset: %w", err)
	}
	return nil
}

func (r *RedisLimiter) failKey(key string) string {
	return r.prefix + "fail:" + key
}

func (r *RedisLimiter) lockKey(key string) string {
	return r.prefix + "lock:" + key
}
