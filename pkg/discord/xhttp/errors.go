package xhttp

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// 调度结果错误
// =============================================================================

var (
	// ErrTokenInvalidated 表示 token 已被服务端判定无效（401）。
	// 开启 RememberInvalidToken 时，此后同一 Client 的所有请求都直接返回该错误，不访问网络。
	ErrTokenInvalidated = errors.New("xhttp: token invalidated")

	// ErrRateLimited 表示服务端返回 429。
	ErrRateLimited = errors.New("xhttp: rate limited")

	// ErrTimeout 表示在等待限流许可或发送请求时超过了超时时间。
	ErrTimeout = errors.New("xhttp: timeout")

	// ErrTransport 表示连接或 IO 失败。
	ErrTransport = errors.New("xhttp: transport failure")

	// ErrHTTPStatus 表示服务端返回了其他非 2xx 状态码。
	ErrHTTPStatus = errors.New("xhttp: unexpected status")

	// ErrConstructionFailed 表示构建客户端时获取身份元数据失败。
	ErrConstructionFailed = errors.New("xhttp: client construction failed")
)

// =============================================================================
// 配置与请求错误
// =============================================================================

var (
	// ErrNilConfig 表示传入的配置为 nil。
	ErrNilConfig = errors.New("xhttp: nil config")

	// ErrInvalidTimeout 表示超时配置无效。
	ErrInvalidTimeout = errors.New("xhttp: invalid timeout")

	// ErrInvalidBaseURL 表示 API 基础地址无效。
	ErrInvalidBaseURL = errors.New("xhttp: invalid base url: must include scheme and host")

	// ErrInvalidProxy 表示代理地址无效，代理只接受 host[:port]。
	ErrInvalidProxy = errors.New("xhttp: invalid proxy: expected host[:port]")

	// ErrUnsupportedFormat 表示不支持的配置格式。
	ErrUnsupportedFormat = errors.New("xhttp: unsupported config format")

	// ErrNilRequest 表示传入的请求为 nil。
	ErrNilRequest = errors.New("xhttp: nil request")

	// ErrEncodeBody 表示请求体编码失败。
	ErrEncodeBody = errors.New("xhttp: encode request body failed")

	// ErrResponseTooLarge 表示响应体超过最大限制。
	ErrResponseTooLarge = errors.New("xhttp: response body exceeds maximum size limit")

	// ErrClientClosed 表示客户端已关闭。
	ErrClientClosed = errors.New("xhttp: client closed")
)

// =============================================================================
// 类型化错误
// =============================================================================

// RetryableError 可重试错误接口。
type RetryableError interface {
	error
	Retryable() bool
}

// StatusError 非 2xx 且非 429 的响应。
//
// 401 响应也以 StatusError 返回，同时匹配 ErrTokenInvalidated。
type StatusError struct {
	StatusCode int
	// Code Discord JSON 错误码，响应体不是 JSON 时为 0。
	Code    int
	Message string
	Body    []byte
	Route   string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("xhttp: %s: status %d: %s (code %d)", e.Route, e.StatusCode, e.Message, e.Code)
	}
	return fmt.Sprintf("xhttp: %s: status %d", e.Route, e.StatusCode)
}

// Is 支持 errors.Is 检查。
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrHTTPStatus:
		return true
	case ErrTokenInvalidated:
		return e.StatusCode == 401
	}
	return false
}

// Retryable 5xx 可重试。
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500
}

// RateLimitedError 服务端返回 429。
type RateLimitedError struct {
	// RetryAfter 服务端要求的等待时长。
	RetryAfter time.Duration
	Global     bool
	Scope      string
	Bucket     string
	Message    string
	Route      string
}

func (e *RateLimitedError) Error() string {
	scope := "bucket"
	if e.Global {
		scope = "global"
	}
	return fmt.Sprintf("xhttp: %s: rate limited (%s), retry after %s", e.Route, scope, e.RetryAfter)
}

// Is 支持 errors.Is 检查。
func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// Retryable 等待 RetryAfter 后可重试。
func (e *RateLimitedError) Retryable() bool { return true }

// Stage 超时发生的阶段。
type Stage string

const (
	// StageRateLimit 等待限流许可。
	StageRateLimit Stage = "rate_limit"
	// StageSend 发送请求并读取响应。
	StageSend Stage = "send"
)

// TimeoutError 本地超时。
type TimeoutError struct {
	Stage   Stage
	Timeout time.Duration
	Route   string
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("xhttp: %s: timeout after %s waiting for %s", e.Route, e.Timeout, e.Stage)
}

// Is 支持 errors.Is 检查。
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// Retryable 超时可重试。
func (e *TimeoutError) Retryable() bool { return true }

// TransportError 连接、IO 或限流后端失败。
type TransportError struct {
	// Op 失败的步骤，例如 "send"、"read"、"ratelimit"。
	Op    string
	Route string
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("xhttp: %s: %s failed: %v", e.Route, e.Op, e.Err)
}

// Is 支持 errors.Is 检查。
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

func (e *TransportError) Unwrap() error { return e.Err }

// Retryable 传输错误可重试。
func (e *TransportError) Retryable() bool { return true }

// ConstructionError 构建客户端失败。
type ConstructionError struct {
	Err error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("xhttp: client construction failed: %v", e.Err)
}

// Is 支持 errors.Is 检查。
func (e *ConstructionError) Is(target error) bool {
	return target == ErrConstructionFailed
}

func (e *ConstructionError) Unwrap() error { return e.Err }

// =============================================================================
// 错误分类
// =============================================================================

// ErrorKind 调度结果的类别。
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindUnknown
	KindTokenInvalidated
	KindRateLimited
	KindTimeout
	KindTransport
	KindHTTPStatus
	KindConstructionFailed
	// KindCanceled 调用方取消了 context。
	KindCanceled
)

var kindNames = [...]string{
	KindNone:               "none",
	KindUnknown:            "unknown",
	KindTokenInvalidated:   "token_invalidated",
	KindRateLimited:        "rate_limited",
	KindTimeout:            "timeout",
	KindTransport:          "transport",
	KindHTTPStatus:         "http_status",
	KindConstructionFailed: "construction_failed",
	KindCanceled:           "canceled",
}

func (k ErrorKind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// KindOf 返回错误的类别。
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrConstructionFailed):
		return KindConstructionFailed
	case errors.Is(err, ErrTokenInvalidated):
		return KindTokenInvalidated
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrTransport):
		return KindTransport
	case errors.Is(err, ErrHTTPStatus):
		return KindHTTPStatus
	case errors.Is(err, context.Canceled):
		return KindCanceled
	default:
		return KindUnknown
	}
}

// IsRetryable 检查错误是否值得重试。
//
// 规则：
//   - nil、token 失效、构建失败、调用方取消：不重试
//   - 实现 RetryableError 接口：根据 Retryable() 返回值判断
//   - 其他错误：不重试
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindNone, KindTokenInvalidated, KindConstructionFailed, KindCanceled:
		return false
	}
	var re RetryableError
	if errors.As(err, &re) {
		return re.Retryable()
	}
	return false
}
