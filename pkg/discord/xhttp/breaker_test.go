package xhttp

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/splatterxl/twilight/pkg/discord/xroute"
)

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	srv, rec := newRecordingServer(t, jsonHandler(http.StatusInternalServerError, `{"message":"oops"}`))
	c := newTestClient(t, srv, func(b *Builder) { b.CircuitBreaker(true) })
	ctx := context.Background()

	for range breakerConsecutiveFailures {
		_, err := c.Request(ctx, NewRequest(xroute.GetGateway(), nil))
		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
	}

	_, err := c.Request(ctx, NewRequest(xroute.GetGateway(), nil))
	require.ErrorIs(t, err, ErrCircuitOpen)
	require.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, int32(breakerConsecutiveFailures), rec.hits.Load())
}

func TestCircuitBreaker_OpenReleasesUnsent(t *testing.T) {
	ctrl := gomock.NewController(t)
	limiter := NewMockRateLimiter(ctrl)
	permit := NewMockPermit(ctrl)
	limiter.EXPECT().Acquire(gomock.Any(), gomock.Any()).Return(permit, time.Duration(0), nil).AnyTimes()
	limiter.EXPECT().Update(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	permit.EXPECT().Release(true).Times(breakerConsecutiveFailures)
	permit.EXPECT().Release(false).Times(1)

	srv, _ := newRecordingServer(t, jsonHandler(http.StatusBadGateway, ``))
	c := newTestClient(t, srv, func(b *Builder) { b.CircuitBreaker(true).RateLimiter(limiter) })

	for range breakerConsecutiveFailures + 1 {
		_, err := c.Request(context.Background(), NewRequest(xroute.GetGateway(), nil))
		require.Error(t, err)
	}
}

func TestCircuitBreaker_SuccessResets(t *testing.T) {
	var fail atomic.Bool
	srv, rec := newRecordingServer(t, func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			jsonHandler(http.StatusServiceUnavailable, `{}`)(w, r)
			return
		}
		jsonHandler(http.StatusOK, `{}`)(w, r)
	})
	c := newTestClient(t, srv, func(b *Builder) { b.CircuitBreaker(true) })
	ctx := context.Background()

	for i := range 2 * breakerConsecutiveFailures {
		fail.Store(i%breakerConsecutiveFailures != breakerConsecutiveFailures-1)
		_, _ = c.Request(ctx, NewRequest(xroute.GetGateway(), nil))
	}
	assert.Equal(t, int32(2*breakerConsecutiveFailures), rec.hits.Load())
}
