package xhttp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/splatterxl/twilight/pkg/discord/xmodel"
	"github.com/splatterxl/twilight/pkg/discord/xratelimit"
)

// UserAgent 没有身份元数据时使用的 User-Agent。
const UserAgent = "DiscordBot (https://github.com/splatterxl/twilight, 0.1.0)"

// Client Discord REST 客户端。
//
// Client 只能通过 Builder.Build 构造，构造完成时身份元数据已经就绪（或被显式跳过）。
// Client 可被任意多个 goroutine 并发使用，调度过程不持有全局锁。
type Client struct {
	http         *http.Client
	baseURL      *url.URL
	token        string
	proxy        string
	proxyUseHTTP bool
	limiter      xratelimit.RateLimiter
	// invalid 为 nil 表示未开启 RememberInvalidToken。
	// 只会从 false 变为 true，之后不再复位。
	invalid        *atomic.Bool
	timeout        time.Duration
	defaultHeaders http.Header
	// mentions 默认提及策略的 JSON 编码，nil 表示没有默认策略。
	mentions  []byte
	identity  *xmodel.SuperProperties
	logger    *slog.Logger
	telemetry *telemetry
	closers   []io.Closer
	closed    atomic.Bool
	// pick 从上下文载荷候选中选择下标。
	pick func(n int) int
}

// TokenInvalidated 报告 token 是否已被判定失效。
// 未开启 RememberInvalidToken 时总是返回 false。
func (c *Client) TokenInvalidated() bool {
	return c.invalid != nil && c.invalid.Load()
}

// Identity 返回构造时获取的身份元数据，跳过获取时为 nil。
func (c *Client) Identity() *xmodel.SuperProperties {
	return c.identity
}

// Timeout 返回请求超时。
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// RateLimiter 返回使用的限流器，nil 表示不做限流。
func (c *Client) RateLimiter() xratelimit.RateLimiter {
	return c.limiter
}

// Close 释放空闲连接以及构建时创建的资源，调用方传入的限流器不会被关闭。
// 重复调用是安全的。
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.http.CloseIdleConnections()

	var errs []error
	for _, closer := range c.closers {
		errs = append(errs, closer.Close())
	}
	return errors.Join(errs...)
}

// Decode 调度请求并将 2xx JSON 响应体解码为 T。
func Decode[T any](ctx context.Context, c *Client, req *Request) (T, error) {
	var zero T
	resp, err := c.Request(ctx, req)
	if err != nil {
		return zero, err
	}
	var v T
	if err := resp.Decode(&v); err != nil {
		return zero, err
	}
	return v, nil
}
