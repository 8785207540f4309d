// Package ratelimit 固定窗口请求限流
//
// 计数器保存在 Redis 中，多个 API Server 实例共享同一配额。
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix Redis 计数器 key 前缀
const KeyPrefix = "natours:ratelimit:"

// Result 一次计数的结果
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration // 当前窗口剩余时间
}

// Limiter 限流器接口
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// ============================================================================
// RedisLimiter
// ============================================================================

// RedisLimiter 基于 INCR + PEXPIRE 的固定窗口限流
type RedisLimiter struct {
	client *redis.Client
	max    int
	window time.Duration
}

// NewRedisLimiter 每个 key 在 window 内最多 limit 次请求
func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, max: limit, window: window}
}

// Allow 计数并判断是否超限
//
// 窗口从该 key 的第一次请求开始计时。
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	k := KeyPrefix + key

	pipe := l.client.Pipeline()
	incr := pipe.Incr(ctx, k)
	pttl := pipe.PTTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("ratelimit: %w", err)
	}

	count := incr.Val()
	ttl := pttl.Val()
	// 新窗口或 key 丢失过期时间
	if count == 1 || ttl < 0 {
		if err := l.client.PExpire(ctx, k, l.window).Err(); err != nil {
			return Result{}, fmt.Errorf("ratelimit: %w", err)
		}
		ttl = l.window
	}

	res := Result{
		Allowed:    count <= int64(l.max),
		Limit:      l.max,
		Remaining:  max(l.max-int(count), 0),
		RetryAfter: ttl,
	}
	return res, nil
}

// Reset 清除 key 的计数
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	return l.client.Del(ctx, KeyPrefix+key).Err()
}

var _ Limiter = (*RedisLimiter)(nil)
