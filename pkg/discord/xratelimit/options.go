package xratelimit

import (
	"fmt"
	"log/slog"
	"time"
)

// 默认值。
const (
	// DefaultGlobalRate Discord 对 bot 的全局限制：每秒 50 个请求。
	DefaultGlobalRate = 50
	// DefaultRouteCacheSize 路由到服务端桶映射的缓存容量。
	DefaultRouteCacheSize = 4096
	// DefaultProbeInterval 桶状态未知时，等待探测请求返回的重试间隔。
	DefaultProbeInterval = 50 * time.Millisecond
	// DefaultKeyPrefix Redis 键前缀。
	DefaultKeyPrefix = "twilight:ratelimit:"
)

type options struct {
	globalRate     int
	globalBurst    int
	routeCacheSize int
	probeInterval  time.Duration
	keyPrefix      string
	logger         *slog.Logger
	now            func() time.Time
}

// Option 限流器选项。
type Option func(*options)

func defaultOptions() *options {
	return &options{
		globalRate:     DefaultGlobalRate,
		globalBurst:    DefaultGlobalRate,
		routeCacheSize: DefaultRouteCacheSize,
		probeInterval:  DefaultProbeInterval,
		keyPrefix:      DefaultKeyPrefix,
		now:            time.Now,
	}
}

func (o *options) validate() error {
	if o.globalRate < 0 || o.globalBurst < 0 {
		return fmt.Errorf("%w: global rate %d burst %d", ErrInvalidOption, o.globalRate, o.globalBurst)
	}
	if o.routeCacheSize <= 0 {
		return fmt.Errorf("%w: route cache size %d", ErrInvalidOption, o.routeCacheSize)
	}
	if o.probeInterval <= 0 {
		return fmt.Errorf("%w: probe interval %s", ErrInvalidOption, o.probeInterval)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.globalBurst == 0 {
		o.globalBurst = o.globalRate
	}
	return nil
}

// WithGlobalLimit 设置全局每秒请求数与突发量，rate 为 0 表示不做全局限制。
// burst 为 0 时与 rate 相同。
func WithGlobalLimit(rate, burst int) Option {
	return func(o *options) {
		o.globalRate = rate
		o.globalBurst = burst
	}
}

// WithRouteCacheSize 设置路由到服务端桶映射的缓存容量。
func WithRouteCacheSize(size int) Option {
	return func(o *options) {
		o.routeCacheSize = size
	}
}

// WithProbeInterval 设置未知桶的探测重试间隔。
func WithProbeInterval(d time.Duration) Option {
	return func(o *options) {
		o.probeInterval = d
	}
}

// WithKeyPrefix 设置 Redis 键前缀，仅 Redis 实现使用。
func WithKeyPrefix(prefix string) Option {
	return func(o *options) {
		o.keyPrefix = prefix
	}
}

// WithLogger 设置日志记录器，nil 使用 slog.Default()。
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// withClock 替换时间源，供测试使用。
func withClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}
