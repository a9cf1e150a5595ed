package xratelimit

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Discord 限流响应头。
const (
	HeaderBucket     = "X-RateLimit-Bucket"
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderResetAfter = "X-RateLimit-Reset-After"
	HeaderGlobal     = "X-RateLimit-Global"
	HeaderScope      = "X-RateLimit-Scope"
	HeaderRetryAfter = "Retry-After"
)

// 限流作用域。
const (
	ScopeUser   = "user"
	ScopeGlobal = "global"
	ScopeShared = "shared"
)

// Headers 一次响应携带的限流信息。
type Headers struct {
	// Bucket 服务端桶标识，多个路由可能共享同一个桶。
	Bucket string
	// Limit 桶容量。
	Limit int
	// Remaining 剩余配额。
	Remaining int
	// Reset 桶重置的绝对时间。
	Reset time.Time
	// ResetAfter 距桶重置的时长。
	ResetAfter time.Duration
	// Global 为 true 表示触发的是全局限流。
	Global bool
	// Scope user/global/shared。
	Scope string
	// RetryAfter 非零表示本次请求被限流（429），需要等待的时长。
	RetryAfter time.Duration
}

// Limited 报告响应是否为限流拒绝。
func (h *Headers) Limited() bool {
	return h != nil && h.RetryAfter > 0
}

// WaitFrom 返回相对 now 需要等待的时长。
func (h *Headers) WaitFrom(now time.Time) time.Duration {
	if h == nil {
		return 0
	}
	if h.RetryAfter > 0 {
		return h.RetryAfter
	}
	if h.Remaining > 0 {
		return 0
	}
	if h.ResetAfter > 0 {
		return h.ResetAfter
	}
	if !h.Reset.IsZero() {
		return max(h.Reset.Sub(now), 0)
	}
	return 0
}

// ParseHeaders 解析限流响应头。
// 响应不含任何限流头时返回 nil, nil。
func ParseHeaders(header http.Header) (*Headers, error) {
	present := false
	for _, k := range []string{HeaderBucket, HeaderLimit, HeaderRemaining, HeaderReset,
		HeaderResetAfter, HeaderGlobal, HeaderScope, HeaderRetryAfter} {
		if header.Get(k) != "" {
			present = true
			break
		}
	}
	if !present {
		return nil, nil
	}

	h := &Headers{
		Bucket: header.Get(HeaderBucket),
		Scope:  header.Get(HeaderScope),
	}

	var err error
	if v := header.Get(HeaderLimit); v != "" {
		if h.Limit, err = strconv.Atoi(v); err != nil {
			return nil, headerError(HeaderLimit, v, err)
		}
	}
	if v := header.Get(HeaderRemaining); v != "" {
		if h.Remaining, err = strconv.Atoi(v); err != nil {
			return nil, headerError(HeaderRemaining, v, err)
		}
	}
	if v := header.Get(HeaderReset); v != "" {
		secs, err := parseSeconds(v)
		if err != nil {
			return nil, headerError(HeaderReset, v, err)
		}
		whole, frac := math.Modf(secs)
		h.Reset = time.Unix(int64(whole), int64(frac*1e9))
	}
	if v := header.Get(HeaderResetAfter); v != "" {
		secs, err := parseSeconds(v)
		if err != nil {
			return nil, headerError(HeaderResetAfter, v, err)
		}
		h.ResetAfter = Seconds(secs)
	}
	if v := header.Get(HeaderRetryAfter); v != "" {
		secs, err := parseSeconds(v)
		if err != nil {
			return nil, headerError(HeaderRetryAfter, v, err)
		}
		h.RetryAfter = Seconds(secs)
	}
	if v := header.Get(HeaderGlobal); v != "" {
		h.Global = strings.EqualFold(v, "true")
	}
	if h.Scope == ScopeGlobal {
		h.Global = true
	}
	return h, nil
}

// Seconds 将（可带小数的）秒数转换为 time.Duration。
func Seconds(secs float64) time.Duration {
	if secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

func parseSeconds(v string) (float64, error) {
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, err
	}
	if secs < 0 || math.IsNaN(secs) || math.IsInf(secs, 0) {
		return 0, errOutOfRange
	}
	return secs, nil
}

func headerError(name, value string, err error) error {
	return fmt.Errorf("%w: %s=%q: %v", ErrInvalidHeader, name, value, err)
}
