package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const keyPrefix = "ratelimit:"

// Result 一次限流判断的结果
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter 基于 Redis 的固定窗口限流
type Limiter struct {
	rdb *redis.Client
	now func() time.Time
}

func NewLimiter(rdb *redis.Client) *Limiter {
	return &Limiter{rdb: rdb, now: time.Now}
}

// Allow 在 window 内对 key 计数，超过 limit 时拒绝
func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	if limit <= 0 {
		return &Result{Allowed: true, Remaining: -1}, nil
	}

	now := l.now()
	windowStart := now.Truncate(window)
	redisKey := fmt.Sprintf("%s%s:%d", keyPrefix, key, windowStart.Unix())

	var incr *redis.IntCmd
	_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.Expire(ctx, redisKey, window)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rate limit incr: %w", err)
	}

	count := int(incr.Val())
	if count > limit {
		return &Result{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: windowStart.Add(window).Sub(now),
		}, nil
	}
	return &Result{Allowed: true, Remaining: limit - count}, nil
}
