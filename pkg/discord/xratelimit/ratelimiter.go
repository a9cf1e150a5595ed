package xratelimit

import (
	"context"
	"sync"
	"time"
)

//go:generate mockgen -source=ratelimiter.go -destination=../xhttp/ratelimiter_mock_test.go -package=xhttp

// RateLimiter 限流能力。
//
// 实现必须是并发安全的。
type RateLimiter interface {
	// Acquire 尝试为 bucket 获取发送许可。
	// 返回非 nil 的 Permit 表示可以立即发送；
	// 返回 nil Permit 和正的等待时长表示暂时没有配额，调用方应在等待后重试；
	// ctx 结束或后端故障时返回 error。
	Acquire(ctx context.Context, bucket string) (Permit, time.Duration, error)

	// Update 用响应头更新 bucket 的状态，服务端状态覆盖本地预测。
	// h 为 nil 时不做任何事。
	Update(ctx context.Context, bucket string, h *Headers) error
}

// Permit 一次发送许可。
type Permit interface {
	// Release 归还许可，每个许可恰好调用一次。
	// sent 为 false 表示请求没有发出，预占的配额会被退回。
	Release(sent bool)
}

// PermitFunc 函数形式的 Permit，重复调用只生效一次。
func PermitFunc(fn func(sent bool)) Permit {
	return &funcPermit{fn: fn}
}

type funcPermit struct {
	once sync.Once
	fn   func(sent bool)
}

func (p *funcPermit) Release(sent bool) {
	p.once.Do(func() {
		if p.fn != nil {
			p.fn(sent)
		}
	})
}

// =============================================================================
// Noop
// =============================================================================

// Noop 不做任何限制的 RateLimiter。
type Noop struct{}

type noopPermit struct{}

func (noopPermit) Release(bool) {}

// Acquire 总是立即授予许可。
func (Noop) Acquire(ctx context.Context, _ string) (Permit, time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	return noopPermit{}, 0, nil
}

// Update 忽略响应头。
func (Noop) Update(context.Context, string, *Headers) error { return nil }

var (
	_ RateLimiter = Noop{}
	_ RateLimiter = (*InMemory)(nil)
	_ RateLimiter = (*Redis)(nil)
)
