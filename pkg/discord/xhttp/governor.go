package xhttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/splatterxl/twilight/pkg/discord/xmodel"
	"github.com/splatterxl/twilight/pkg/discord/xratelimit"
	"github.com/splatterxl/twilight/pkg/discord/xroute"
)

// 注入的请求头。
const (
	HeaderAuthorization     = "Authorization"
	HeaderUserAgent         = "User-Agent"
	HeaderContentType       = "Content-Type"
	HeaderSuperProperties   = "X-Super-Properties"
	HeaderContextProperties = "X-Context-Properties"
	HeaderAuditLogReason    = "X-Audit-Log-Reason"
)

// Request 调度一次请求。
//
// 步骤依次为：token 失效检查、获取限流许可、注入头与身份信息、代理改写、
// 带超时发送、按响应更新限流器与 token 状态。任何一步都可能提前返回分类错误：
//   - ErrTokenInvalidated: token 已失效（未访问网络），或本次收到 401（*StatusError）
//   - *RateLimitedError: 429，限流器已在返回前更新
//   - *TimeoutError: 等待限流许可或发送超过 Timeout
//   - *TransportError: 连接、IO 或限流后端失败
//   - *StatusError: 其他非 2xx
//
// Request 从不自动重试。
func (c *Client) Request(ctx context.Context, req *Request) (resp *Response, err error) {
	if req == nil {
		return nil, ErrNilRequest
	}
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	route := req.Route
	name := string(route.Name())
	requestID := uuid.NewString()
	start := time.Now()

	ctx, span := c.telemetry.start(ctx, name, route.Method(), requestID)
	status := 0
	defer func() {
		if resp != nil {
			status = resp.StatusCode
		}
		c.telemetry.finish(ctx, span, name, status, err, time.Since(start))
	}()

	// 1. token 失效检查，在限流之前，失效的客户端不消耗任何许可
	if c.invalid != nil && c.invalid.Load() {
		return nil, ErrTokenInvalidated
	}

	log := c.logger.With(
		slog.String("request_id", requestID),
		slog.String("route", name),
	)

	// 请求体在获取许可前编码，编码失败不占用限流配额
	body, err := encodeBody(req.Body)
	if err != nil {
		return nil, err
	}

	// 2. 限流许可
	bucket := route.BucketKey()
	permit, err := c.acquire(ctx, route, bucket)
	if err != nil {
		return nil, err
	}
	released := false
	release := func(sent bool) {
		if permit != nil && !released {
			released = true
			permit.Release(sent)
		}
	}
	defer release(false)

	// 3、4. 构造请求：注入头与身份信息，代理改写
	httpReq, carriesToken, err := c.newHTTPRequest(req, body)
	if err != nil {
		return nil, err
	}

	// 5. 发送，超时从发送前开始计算
	sendCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	log.Debug("xhttp: dispatch", slog.String("method", httpReq.Method), slog.String("url", sanitizeURL(httpReq.URL)))

	httpResp, err := c.http.Do(httpReq.WithContext(sendCtx))
	if err != nil {
		release(!errors.Is(err, ErrCircuitOpen))
		return nil, c.sendError(ctx, route, "send", err)
	}

	// 6. 分类响应，限流头在读取响应体之前解析，读取失败时仍更新限流器
	headers, herr := xratelimit.ParseHeaders(httpResp.Header)
	if herr != nil {
		log.Warn("xhttp: ignore malformed rate limit headers", slog.Any("error", herr))
		headers = nil
	}
	respBody, err := readBody(httpResp)
	if err != nil {
		c.update(ctx, log, bucket, headers)
		release(true)
		return nil, c.sendError(ctx, route, "read", err)
	}

	switch code := httpResp.StatusCode; {
	case code >= 200 && code < 300:
		c.update(ctx, log, bucket, headers)
		release(true)
		return &Response{StatusCode: code, Header: httpResp.Header, Body: respBody}, nil

	case code == http.StatusTooManyRequests:
		rlErr := c.rateLimited(route, bucket, headers, respBody)
		if headers == nil {
			headers = &xratelimit.Headers{}
		}
		headers.RetryAfter = rlErr.RetryAfter
		headers.Global = rlErr.Global
		c.update(ctx, log, bucket, headers)
		release(true)
		log.Info("xhttp: rate limited",
			slog.Duration("retry_after", rlErr.RetryAfter),
			slog.Bool("global", rlErr.Global))
		return nil, rlErr

	case code == http.StatusUnauthorized:
		c.update(ctx, log, bucket, headers)
		release(true)
		if carriesToken && c.invalid != nil && c.invalid.CompareAndSwap(false, true) {
			c.telemetry.recordInvalidated(ctx)
			log.Warn("xhttp: token invalidated, further requests will fail without contacting the api")
		}
		return nil, newStatusError(route, code, respBody)

	default:
		c.update(ctx, log, bucket, headers)
		release(true)
		return nil, newStatusError(route, code, respBody)
	}
}

// acquire 循环获取许可，直到拿到许可或超过 Timeout。
func (c *Client) acquire(ctx context.Context, route xroute.Route, bucket string) (xratelimit.Permit, error) {
	if c.limiter == nil {
		return nil, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	var timer *time.Timer

	for {
		permit, wait, err := c.limiter.Acquire(waitCtx, bucket)
		if err != nil {
			return nil, c.waitError(ctx, waitCtx, route, err)
		}
		if permit != nil {
			if d := time.Since(start); d > 0 {
				c.telemetry.recordWait(ctx, string(route.Name()), d)
			}
			return permit, nil
		}
		if wait <= 0 {
			wait = time.Millisecond
		}

		if timer == nil {
			timer = time.NewTimer(wait)
			defer timer.Stop()
		} else {
			timer.Reset(wait)
		}
		select {
		case <-timer.C:
		case <-waitCtx.Done():
			return nil, c.waitError(ctx, waitCtx, route, waitCtx.Err())
		}
	}
}

// waitError 区分调用方取消、超时与限流后端故障。
func (c *Client) waitError(ctx, waitCtx context.Context, route xroute.Route, err error) error {
	switch {
	case ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled):
		return fmt.Errorf("xhttp: %s: %w", route.Name(), ctx.Err())
	case waitCtx.Err() != nil:
		return &TimeoutError{Stage: StageRateLimit, Timeout: c.timeout, Route: string(route.Name()), Err: waitCtx.Err()}
	case errors.Is(err, context.DeadlineExceeded):
		return &TimeoutError{Stage: StageRateLimit, Timeout: c.timeout, Route: string(route.Name()), Err: err}
	default:
		return &TransportError{Op: "ratelimit", Route: string(route.Name()), Err: err}
	}
}

// sendError 分类发送或读取阶段的错误。
func (c *Client) sendError(ctx context.Context, route xroute.Route, op string, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return fmt.Errorf("xhttp: %s: %w", route.Name(), ctx.Err())
	case errors.Is(err, context.DeadlineExceeded):
		return &TimeoutError{Stage: StageSend, Timeout: c.timeout, Route: string(route.Name()), Err: err}
	default:
		return &TransportError{Op: op, Route: string(route.Name()), Err: err}
	}
}

// update 把响应头交给限流器。限流器出错不影响本次结果。
func (c *Client) update(ctx context.Context, log *slog.Logger, bucket string, h *xratelimit.Headers) {
	if c.limiter == nil || h == nil {
		return
	}
	if err := c.limiter.Update(context.WithoutCancel(ctx), bucket, h); err != nil {
		log.Warn("xhttp: rate limiter update failed", slog.Any("error", err))
	}
}

// rateLimited 合并 429 响应头与响应体中的限流信息，响应体的 retry_after 精度更高，优先使用。
func (c *Client) rateLimited(route xroute.Route, bucket string, h *xratelimit.Headers, body []byte) *RateLimitedError {
	e := &RateLimitedError{Route: string(route.Name()), Bucket: bucket}
	if h != nil {
		e.RetryAfter = h.WaitFrom(time.Now())
		e.Global = h.Global
		e.Scope = h.Scope
		if h.Bucket != "" {
			e.Bucket = h.Bucket
		}
	}

	var payload xmodel.TooManyRequests
	if err := json.Unmarshal(body, &payload); err == nil {
		if d := xratelimit.Seconds(payload.RetryAfter); d > 0 {
			e.RetryAfter = d
		}
		e.Global = e.Global || payload.Global
		e.Message = payload.Message
	}
	return e
}

// newHTTPRequest 组装 http.Request。第二个返回值表示请求是否携带了 token。
func (c *Client) newHTTPRequest(req *Request, body *encodedBody) (*http.Request, bool, error) {
	route := req.Route

	if body.json != nil && c.mentions != nil && route.SupportsAllowedMentions() && !overridesContentType(req.Headers) {
		body.json = injectAllowedMentions(body.json, c.mentions)
	}

	httpReq, err := http.NewRequest(route.Method(), c.targetURL(route), body.open())
	if err != nil {
		return nil, false, fmt.Errorf("xhttp: create request failed: %w", err)
	}

	h := cloneHeader(c.defaultHeaders)
	carriesToken := false
	if !route.IsExternal() && c.token != "" {
		h.Set(HeaderAuthorization, c.token)
		carriesToken = true
	}
	if h.Get(HeaderUserAgent) == "" {
		ua := UserAgent
		if c.identity != nil && c.identity.BrowserUserAgent != "" {
			ua = c.identity.BrowserUserAgent
		}
		h.Set(HeaderUserAgent, ua)
	}
	if c.identity != nil && !route.IsExternal() {
		h.Set(HeaderSuperProperties, c.identity.Encoded())
	}
	if props := route.ContextPropertiesWith(c.pick); props != "" {
		h.Set(HeaderContextProperties, props)
	}
	if body.json != nil {
		h.Set(HeaderContentType, "application/json")
	}
	if req.Reason != "" {
		h.Set(HeaderAuditLogReason, url.PathEscape(req.Reason))
	}
	for k, vs := range req.Headers {
		h[http.CanonicalHeaderKey(k)] = append([]string(nil), vs...)
	}
	if _, ok := h[HeaderAuthorization]; ok && h.Get(HeaderAuthorization) != c.token {
		carriesToken = false
	}

	httpReq.Header = h
	return httpReq, carriesToken, nil
}

// targetURL 非外部路由拼接 API 地址；配置了代理时替换 scheme 与 host，路径保持不变。
func (c *Client) targetURL(route xroute.Route) string {
	if route.IsExternal() {
		return route.URL().String()
	}
	scheme, host := c.baseURL.Scheme, c.baseURL.Host
	if c.proxy != "" {
		host = c.proxy
		scheme = "https"
		if c.proxyUseHTTP {
			scheme = "http"
		}
	}
	return scheme + "://" + host + strings.TrimSuffix(c.baseURL.EscapedPath(), "/") + route.Path()
}

// readBody 读取响应体，超过 maxResponseSize 时返回错误而非截断。
func readBody(resp *http.Response) ([]byte, error) {
	defer func() { _ = resp.Body.Close() }() //nolint:errcheck // Close 错误无法传播

	limited := io.LimitReader(resp.Body, maxResponseSize+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if len(data) > maxResponseSize {
		return nil, ErrResponseTooLarge
	}
	return data, nil
}

func newStatusError(route xroute.Route, code int, body []byte) *StatusError {
	e := &StatusError{StatusCode: code, Body: body, Route: string(route.Name())}
	var payload xmodel.APIErrorBody
	if err := json.Unmarshal(body, &payload); err == nil {
		e.Code = payload.Code
		e.Message = payload.Message
	}
	return e
}

// sanitizeURL 去掉查询参数，避免日志中出现高基数字段。
func sanitizeURL(u *url.URL) string {
	return u.Scheme + "://" + u.Host + u.EscapedPath()
}
