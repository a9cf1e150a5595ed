package xratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// routeMappingTTL 路由到服务端桶映射在 Redis 中的保留时间。
const routeMappingTTL = 24 * time.Hour

// reserveScript 原子地从桶中预占一个配额，并返回 {状态, generation}。
// 状态 -1：桶状态未知或已重置，直接放行且未预占；0：已预占；>0：需要等待的毫秒数。
var reserveScript = redis.NewScript(`
local state = redis.call('HMGET', KEYS[1], 'remaining', 'reset_at', 'generation')
if not state[1] then
	return {-1, 0}
end
local remaining = tonumber(state[1])
local reset_at = tonumber(state[2]) or 0
local gen = tonumber(state[3]) or 0
local now = tonumber(ARGV[1])
if now >= reset_at then
	return {-1, gen}
end
if remaining > 0 then
	redis.call('HINCRBY', KEYS[1], 'remaining', -1)
	return {0, gen}
end
return {reset_at - now, gen}
`)

// refundScript 退回未发送请求预占的配额，桶已被覆盖时不做任何事。
var refundScript = redis.NewScript(`
local gen = tonumber(redis.call('HGET', KEYS[1], 'generation')) or 0
if gen == tonumber(ARGV[1]) then
	return redis.call('HINCRBY', KEYS[1], 'remaining', 1)
end
return 0
`)

// Redis 基于 Redis 的共享限流器。
//
// 多个进程使用同一个 token 时，它们共享服务端的限流桶，
// 这时需要把桶状态放在 Redis 中。全局每秒限制通过 redis_rate 实现。
type Redis struct {
	opts    *options
	rdb     redis.UniversalClient
	limiter *redis_rate.Limiter
}

// NewRedis 创建 Redis 限流器。rdb 由调用方管理生命周期。
func NewRedis(rdb redis.UniversalClient, opts ...Option) (*Redis, error) {
	if rdb == nil {
		return nil, ErrNilRedisClient
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if err := o.validate(); err != nil {
		return nil, err
	}
	return &Redis{
		opts:    o,
		rdb:     rdb,
		limiter: redis_rate.NewLimiter(rdb),
	}, nil
}

// Acquire 实现 RateLimiter。
func (l *Redis) Acquire(ctx context.Context, bucket string) (Permit, time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	pttl, err := l.rdb.PTTL(ctx, l.globalLockKey()).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("xratelimit: read global lock: %w", err)
	}
	if pttl > 0 {
		return nil, pttl, nil
	}

	key, err := l.bucketKey(ctx, bucket)
	if err != nil {
		return nil, 0, err
	}

	now := l.opts.now()
	res, err := reserveScript.Run(ctx, l.rdb, []string{key}, now.UnixMilli()).Int64Slice()
	if err != nil {
		return nil, 0, fmt.Errorf("xratelimit: reserve %s: %w", bucket, err)
	}
	if len(res) != 2 {
		return nil, 0, fmt.Errorf("xratelimit: reserve %s: unexpected reply %v", bucket, res)
	}
	status, gen := res[0], res[1]
	if status > 0 {
		return nil, time.Duration(status) * time.Millisecond, nil
	}

	reserved := status == 0

	release := func(sent bool) {
		if !sent && reserved {
			l.refund(context.WithoutCancel(ctx), key, gen)
		}
	}

	if l.opts.globalRate > 0 {
		limit := redis_rate.Limit{Rate: l.opts.globalRate, Burst: l.opts.globalBurst, Period: time.Second}
		allowed, err := l.limiter.Allow(ctx, l.globalRateKey(), limit)
		if err != nil {
			release(false)
			return nil, 0, fmt.Errorf("xratelimit: global limit: %w", err)
		}
		if allowed.Allowed == 0 {
			release(false)
			return nil, max(allowed.RetryAfter, time.Millisecond), nil
		}
	}

	return PermitFunc(release), 0, nil
}

// Update 实现 RateLimiter。
func (l *Redis) Update(ctx context.Context, bucket string, h *Headers) error {
	if h == nil {
		return nil
	}
	now := l.opts.now()

	if h.Global && h.RetryAfter > 0 {
		l.opts.logger.Warn("xratelimit: global rate limit hit",
			slog.Duration("retry_after", h.RetryAfter))
		return l.rdb.Set(ctx, l.globalLockKey(), "1", h.RetryAfter).Err()
	}

	if h.Bucket != "" {
		if err := l.rdb.Set(ctx, l.routeKey(bucket), h.Bucket, routeMappingTTL).Err(); err != nil {
			return fmt.Errorf("xratelimit: store route mapping: %w", err)
		}
	}
	key, err := l.bucketKey(ctx, bucket)
	if err != nil {
		return err
	}

	fields := map[string]any{}
	var resetAt time.Time
	switch {
	case h.ResetAfter > 0:
		resetAt = now.Add(h.ResetAfter)
	case !h.Reset.IsZero():
		resetAt = h.Reset
	}
	if h.Limit > 0 {
		fields["limit"] = strconv.Itoa(h.Limit)
		fields["remaining"] = strconv.Itoa(h.Remaining)
	}
	if h.RetryAfter > 0 {
		fields["remaining"] = "0"
		if until := now.Add(h.RetryAfter); until.After(resetAt) {
			resetAt = until
		}
	}
	if resetAt.IsZero() || len(fields) == 0 {
		return nil
	}
	fields["reset_at"] = strconv.FormatInt(resetAt.UnixMilli(), 10)

	pipe := l.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.HIncrBy(ctx, key, "generation", 1)
	pipe.PExpire(ctx, key, max(resetAt.Sub(now), 0)+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("xratelimit: update %s: %w", bucket, err)
	}
	return nil
}

func (l *Redis) refund(ctx context.Context, key string, gen int64) {
	if err := refundScript.Run(ctx, l.rdb, []string{key}, gen).Err(); err != nil && !errors.Is(err, redis.Nil) {
		l.opts.logger.Warn("xratelimit: refund failed",
			slog.String("key", key), slog.Any("error", err))
	}
}

func (l *Redis) bucketKey(ctx context.Context, bucket string) (string, error) {
	hash, err := l.rdb.Get(ctx, l.routeKey(bucket)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return l.opts.keyPrefix + "bucket:" + bucket, nil
	case err != nil:
		return "", fmt.Errorf("xratelimit: read route mapping: %w", err)
	}
	return l.opts.keyPrefix + "bucket:" + hash + ":" + majorOf(bucket), nil
}

func (l *Redis) routeKey(bucket string) string {
	return l.opts.keyPrefix + "route:" + bucket
}

func (l *Redis) globalLockKey() string {
	return l.opts.keyPrefix + "global:lock"
}

func (l *Redis) globalRateKey() string {
	return l.opts.keyPrefix + "global"
}
