package xhttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen 表示熔断器打开，请求没有发出。
var ErrCircuitOpen = errors.New("xhttp: circuit breaker open")

// errServerStatus 标记 5xx 响应，仅用于熔断计数，不会返回给调用方。
var errServerStatus = errors.New("xhttp: server error status")

const (
	breakerConsecutiveFailures = 5
	breakerOpenTimeout         = 30 * time.Second
	breakerInterval            = time.Minute
)

// breakerTransport 统计传输失败与 5xx，连续失败后快速失败。
type breakerTransport struct {
	base http.RoundTripper
	cb   *gobreaker.CircuitBreaker[*http.Response]
}

func newBreakerTransport(base http.RoundTripper, logger *slog.Logger) *breakerTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	st := gobreaker.Settings{
		Name:        "discord",
		MaxRequests: 1,
		Interval:    breakerInterval,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("xhttp: circuit breaker state changed",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	}
	return &breakerTransport{
		base: base,
		cb:   gobreaker.NewCircuitBreaker[*http.Response](st),
	}
}

// RoundTrip 实现 http.RoundTripper。
func (t *breakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.cb.Execute(func() (*http.Response, error) {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return resp, errServerStatus
		}
		return resp, nil
	})
	switch {
	case errors.Is(err, errServerStatus):
		return resp, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, fmt.Errorf("%w: %w", ErrCircuitOpen, err)
	}
	return resp, err
}

// CloseIdleConnections 透传给底层 transport。
func (t *breakerTransport) CloseIdleConnections() {
	if c, ok := t.base.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
}
