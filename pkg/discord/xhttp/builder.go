package xhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/splatterxl/twilight/pkg/discord/xmodel"
	"github.com/splatterxl/twilight/pkg/discord/xratelimit"
)

// Builder 客户端构建器。
//
// 设置方法出错时错误会被暂存，在 Build 时返回。
type Builder struct {
	token          string
	proxy          string
	proxyUseHTTP   bool
	limiter        xratelimit.RateLimiter
	limiterSet     bool
	timeout        time.Duration
	defaultHeaders http.Header
	mentions       *xmodel.AllowedMentions
	remember       bool
	baseURL        string
	httpClient     *http.Client
	identity       *xmodel.SuperProperties
	skipIdentity   bool
	identityURL    string
	logger         *slog.Logger
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	breaker        bool
	// newLimiter 由 FromConfig 设置，每次 Build 创建新的限流器及其需要关闭的资源。
	newLimiter func() (xratelimit.RateLimiter, io.Closer, error)
	err        error
}

// NewBuilder 创建构建器，默认值：超时 10 秒、记住失效 token、进程内限流器。
func NewBuilder() *Builder {
	return &Builder{
		timeout:     DefaultTimeout,
		remember:    true,
		baseURL:     DefaultBaseURL,
		identityURL: DefaultIdentityURL,
	}
}

// Token 设置认证 token。没有 "Bot " 或 "Bearer " 前缀时补 "Bot "。
func (b *Builder) Token(token string) *Builder {
	b.token = normalizeToken(token)
	return b
}

// Proxy 设置代理 host[:port]；useHTTP 为 true 时以 http 访问代理。
// 请求路径保持不变，只替换 scheme 和 host。
func (b *Builder) Proxy(host string, useHTTP bool) *Builder {
	if err := validateProxy(host); err != nil {
		b.err = err
		return b
	}
	b.proxy = host
	b.proxyUseHTTP = useHTTP
	return b
}

// RateLimiter 替换默认限流器；传入 nil 表示不做限流。
//
// 调用方传入的限流器由调用方管理生命周期，Client.Close 不会关闭它。
func (b *Builder) RateLimiter(rl xratelimit.RateLimiter) *Builder {
	b.limiter = rl
	b.limiterSet = true
	b.newLimiter = nil
	return b
}

// Timeout 设置超时，分别约束限流等待和发送两个阶段。
func (b *Builder) Timeout(d time.Duration) *Builder {
	if d <= 0 {
		b.err = fmt.Errorf("%w: %s", ErrInvalidTimeout, d)
		return b
	}
	b.timeout = d
	return b
}

// DefaultHeaders 设置附加到每个请求的头。
func (b *Builder) DefaultHeaders(h http.Header) *Builder {
	b.defaultHeaders = h.Clone()
	return b
}

// DefaultAllowedMentions 设置默认提及策略，只作用于接受该字段且调用方未设置的请求。
func (b *Builder) DefaultAllowedMentions(m *xmodel.AllowedMentions) *Builder {
	b.mentions = m.Clone()
	return b
}

// RememberInvalidToken 收到 401 后是否让此后的请求直接失败，默认 true。
func (b *Builder) RememberInvalidToken(enabled bool) *Builder {
	b.remember = enabled
	return b
}

// BaseURL 设置 API 地址。
func (b *Builder) BaseURL(raw string) *Builder {
	if err := validateAbsoluteURL(raw); err != nil {
		b.err = err
		return b
	}
	b.baseURL = strings.TrimSuffix(raw, "/")
	return b
}

// HTTPClient 使用自定义 http.Client。其 Timeout 字段会被忽略，超时由 Client 控制。
func (b *Builder) HTTPClient(c *http.Client) *Builder {
	b.httpClient = c
	return b
}

// Identity 使用给定的身份元数据，不再发起获取请求。
func (b *Builder) Identity(props *xmodel.SuperProperties) *Builder {
	b.identity = props
	return b
}

// SkipIdentity 跳过身份元数据获取，请求不携带 X-Super-Properties。
func (b *Builder) SkipIdentity() *Builder {
	b.skipIdentity = true
	return b
}

// IdentityURL 设置身份元数据服务地址。
func (b *Builder) IdentityURL(raw string) *Builder {
	if err := validateAbsoluteURL(raw); err != nil {
		b.err = err
		return b
	}
	b.identityURL = raw
	return b
}

// Logger 设置日志记录器，nil 使用 slog.Default()。
func (b *Builder) Logger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// MeterProvider 设置指标 provider，nil 使用全局 provider。
func (b *Builder) MeterProvider(mp metric.MeterProvider) *Builder {
	b.meterProvider = mp
	return b
}

// TracerProvider 设置 trace provider，nil 使用全局 provider。
func (b *Builder) TracerProvider(tp trace.TracerProvider) *Builder {
	b.tracerProvider = tp
	return b
}

// CircuitBreaker 是否在 transport 上启用熔断，默认关闭。
func (b *Builder) CircuitBreaker(enabled bool) *Builder {
	b.breaker = enabled
	return b
}

// FromConfig 应用配置文件中的设置。
func (b *Builder) FromConfig(cfg *Config) *Builder {
	if err := cfg.Validate(); err != nil {
		b.err = err
		return b
	}
	cfg = cfg.Clone()
	cfg.ApplyDefaults()

	if cfg.Token != "" {
		b.Token(cfg.Token)
	}
	b.BaseURL(cfg.BaseURL)
	b.Timeout(cfg.Timeout)
	if cfg.Proxy != "" {
		b.Proxy(cfg.Proxy, cfg.ProxyUseHTTP)
	}
	b.RememberInvalidToken(*cfg.RememberInvalidToken)
	if len(cfg.DefaultHeaders) > 0 {
		h := make(http.Header, len(cfg.DefaultHeaders))
		for k, v := range cfg.DefaultHeaders {
			h.Set(k, v)
		}
		b.defaultHeaders = h
	}
	if mentions, err := cfg.AllowedMentions.toModel(); err == nil && mentions != nil {
		b.mentions = mentions
	}
	b.breaker = cfg.CircuitBreaker
	if cfg.Identity.Skip {
		b.skipIdentity = true
	}
	b.IdentityURL(cfg.Identity.URL)

	var opts []xratelimit.Option
	if b.logger != nil {
		opts = append(opts, xratelimit.WithLogger(b.logger))
	}
	switch {
	case cfg.RateLimiter.GlobalRate < 0:
		opts = append(opts, xratelimit.WithGlobalLimit(0, 0))
	case cfg.RateLimiter.GlobalRate > 0:
		opts = append(opts, xratelimit.WithGlobalLimit(cfg.RateLimiter.GlobalRate, 0))
	}
	if cfg.RateLimiter.KeyPrefix != "" {
		opts = append(opts, xratelimit.WithKeyPrefix(cfg.RateLimiter.KeyPrefix))
	}

	switch cfg.RateLimiter.Kind {
	case LimiterNone:
		b.RateLimiter(nil)
	case LimiterRedis:
		redisOpts := &redis.Options{
			Addr:     cfg.RateLimiter.RedisAddr,
			Password: cfg.RateLimiter.RedisPassword,
		}
		b.setLimiterFactory(func() (xratelimit.RateLimiter, io.Closer, error) {
			rdb := redis.NewClient(redisOpts)
			rl, err := xratelimit.NewRedis(rdb, opts...)
			if err != nil {
				_ = rdb.Close() //nolint:errcheck // 构建失败路径
				return nil, nil, err
			}
			return rl, rdb, nil
		})
	default:
		b.setLimiterFactory(func() (xratelimit.RateLimiter, io.Closer, error) {
			rl, err := xratelimit.NewInMemory(opts...)
			return rl, nil, err
		})
	}
	return b
}

func (b *Builder) setLimiterFactory(fn func() (xratelimit.RateLimiter, io.Closer, error)) {
	b.limiter = nil
	b.limiterSet = true
	b.newLimiter = fn
}

// Build 组装客户端并获取身份元数据。
//
// 身份元数据获取通过与普通请求相同的调度流程完成，失败时返回 *ConstructionError，
// 不会返回半初始化的客户端。
func (b *Builder) Build(ctx context.Context) (*Client, error) {
	if b.err != nil {
		return nil, b.err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	base, err := url.Parse(b.baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBaseURL, err)
	}

	tel, err := newTelemetry(b.meterProvider, b.tracerProvider)
	if err != nil {
		return nil, err
	}

	// 只有本次构建创建的资源归 Client 所有
	var closers []io.Closer
	limiter := b.limiter
	switch {
	case b.newLimiter != nil:
		rl, closer, err := b.newLimiter()
		if err != nil {
			return nil, err
		}
		limiter = rl
		if closer != nil {
			closers = append(closers, closer)
		}
	case !b.limiterSet:
		rl, err := xratelimit.NewInMemory(xratelimit.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		limiter = rl
	}

	c := &Client{
		http:           b.buildHTTPClient(logger),
		baseURL:        base,
		token:          b.token,
		proxy:          b.proxy,
		proxyUseHTTP:   b.proxyUseHTTP,
		limiter:        limiter,
		timeout:        b.timeout,
		defaultHeaders: b.defaultHeaders.Clone(),
		logger:         logger,
		telemetry:      tel,
		closers:        closers,
		pick:           rand.IntN,
	}
	if b.remember {
		c.invalid = new(atomic.Bool)
	}
	if b.mentions != nil {
		data, err := json.Marshal(b.mentions)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("%w: %w", ErrEncodeBody, err)
		}
		c.mentions = data
	}

	switch {
	case b.identity != nil:
		c.identity = b.identity
	case !b.skipIdentity:
		props, err := c.fetchIdentity(ctx, b.identityURL)
		if err != nil {
			c.Close()
			return nil, &ConstructionError{Err: err}
		}
		c.identity = props
	}
	return c, nil
}

func (b *Builder) buildHTTPClient(logger *slog.Logger) *http.Client {
	var hc http.Client
	if b.httpClient != nil {
		hc = *b.httpClient
	}
	// 超时由 context 控制
	hc.Timeout = 0

	transport := hc.Transport
	if transport == nil {
		if dt, ok := http.DefaultTransport.(*http.Transport); ok {
			transport = dt.Clone()
		} else {
			transport = http.DefaultTransport
		}
	}
	if b.breaker {
		transport = newBreakerTransport(transport, logger)
	}
	hc.Transport = otelhttp.NewTransport(transport,
		otelhttp.WithMeterProvider(orGlobalMeter(b.meterProvider)),
		otelhttp.WithTracerProvider(orGlobalTracer(b.tracerProvider)),
	)
	return &hc
}

// normalizeToken 补全认证方案前缀。
func normalizeToken(token string) string {
	token = strings.TrimSpace(token)
	if token == "" {
		return ""
	}
	if strings.HasPrefix(token, "Bot ") || strings.HasPrefix(token, "Bearer ") {
		return token
	}
	return "Bot " + token
}

// cloneHeader 与 http.Header.Clone 相同，但 nil 返回空 Header。
func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	maps.Copy(out, h.Clone())
	return out
}
