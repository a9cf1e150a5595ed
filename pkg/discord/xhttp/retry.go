package xhttp

import (
	"context"
	"errors"
	"time"

	retry "github.com/avast/retry-go/v5"
)

// DefaultRetryAttempts Retry 的默认最大尝试次数。
const DefaultRetryAttempts = 3

type retryOptions struct {
	attempts uint
	maxDelay time.Duration
	onRetry  func(attempt int, err error)
}

// RetryOption Retry 的选项。
type RetryOption func(*retryOptions)

// WithRetryAttempts 设置最大尝试次数（含第一次）。
func WithRetryAttempts(n uint) RetryOption {
	return func(o *retryOptions) {
		if n > 0 {
			o.attempts = n
		}
	}
}

// WithRetryMaxDelay 设置单次等待的上限，429 的 RetryAfter 超过上限时放弃重试。
func WithRetryMaxDelay(d time.Duration) RetryOption {
	return func(o *retryOptions) {
		o.maxDelay = d
	}
}

// WithOnRetry 设置重试回调，attempt 从 1 开始。
func WithOnRetry(fn func(attempt int, err error)) RetryOption {
	return func(o *retryOptions) {
		o.onRetry = fn
	}
}

// Retry 在调用方一侧按策略重试 Client.Request。
//
// Client.Request 本身从不重试；需要重试的调用方显式使用 Retry。
// 429 按服务端给出的 RetryAfter 等待，其他可重试错误指数退避。
// 请求体必须可重复读取（不要使用 io.Reader）。
func Retry(ctx context.Context, c *Client, req *Request, opts ...RetryOption) (*Response, error) {
	o := &retryOptions{attempts: DefaultRetryAttempts, maxDelay: time.Minute}
	for _, opt := range opts {
		opt(o)
	}

	retryOpts := []retry.Option{
		retry.Context(ctx),
		retry.Attempts(o.attempts),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			if !IsRetryable(err) {
				return false
			}
			var rl *RateLimitedError
			if errors.As(err, &rl) && o.maxDelay > 0 && rl.RetryAfter > o.maxDelay {
				return false
			}
			return true
		}),
		retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
			var rl *RateLimitedError
			if errors.As(err, &rl) {
				return rl.RetryAfter
			}
			return retry.BackOffDelay(n, err, config)
		}),
	}
	if o.maxDelay > 0 {
		retryOpts = append(retryOpts, retry.MaxDelay(o.maxDelay))
	}
	if o.onRetry != nil {
		retryOpts = append(retryOpts, retry.OnRetry(func(n uint, err error) {
			o.onRetry(int(n)+1, err)
		}))
	}

	return retry.NewWithData[*Response](retryOpts...).Do(func() (*Response, error) {
		return c.Request(ctx, req)
	})
}
