package xratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBucket = "POST /channels/1/messages"

func newTestInMemory(t *testing.T, clock *fakeClock, opts ...Option) *InMemory {
	t.Helper()
	opts = append([]Option{withClock(clock.Now), WithGlobalLimit(0, 0)}, opts...)
	l, err := NewInMemory(opts...)
	require.NoError(t, err)
	return l
}

func mustAcquire(t *testing.T, l RateLimiter, bucket string) Permit {
	t.Helper()
	p, wait, err := l.Acquire(context.Background(), bucket)
	require.NoError(t, err)
	require.NotNil(t, p, "expected permit, got wait %s", wait)
	return p
}

func TestNewInMemory_Validation(t *testing.T) {
	_, err := NewInMemory(WithRouteCacheSize(0))
	assert.ErrorIs(t, err, ErrInvalidOption)
	_, err = NewInMemory(WithProbeInterval(0))
	assert.ErrorIs(t, err, ErrInvalidOption)
	_, err = NewInMemory(WithGlobalLimit(-1, 0))
	assert.ErrorIs(t, err, ErrInvalidOption)

	l, err := NewInMemory()
	require.NoError(t, err)
	assert.NotNil(t, l.global)
}

func TestInMemory_UnknownBucketProbe(t *testing.T) {
	clock := newFakeClock()
	l := newTestInMemory(t, clock)

	probe := mustAcquire(t, l, testBucket)

	// 探测请求未返回前，同桶的其他请求需要等待
	p, wait, err := l.Acquire(context.Background(), testBucket)
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Equal(t, DefaultProbeInterval, wait)

	// 其他桶不受影响
	other := mustAcquire(t, l, "POST /channels/2/messages")
	other.Release(false)

	// 探测未发送时归还，下一个请求成为新的探测
	probe.Release(false)
	mustAcquire(t, l, testBucket).Release(true)
}

func TestInMemory_TracksRemaining(t *testing.T) {
	clock := newFakeClock()
	l := newTestInMemory(t, clock)
	ctx := context.Background()

	probe := mustAcquire(t, l, testBucket)
	require.NoError(t, l.Update(ctx, testBucket, &Headers{
		Bucket:     "hash-a",
		Limit:      3,
		Remaining:  2,
		ResetAfter: 2 * time.Second,
	}))
	probe.Release(true)

	p1 := mustAcquire(t, l, testBucket)
	p2 := mustAcquire(t, l, testBucket)

	p, wait, err := l.Acquire(ctx, testBucket)
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Equal(t, 2*time.Second, wait)

	t.Run("unsent release refunds", func(t *testing.T) {
		p2.Release(false)
		p3 := mustAcquire(t, l, testBucket)
		p3.Release(true)
	})
	p1.Release(true)

	t.Run("refills after reset", func(t *testing.T) {
		clock.Advance(2 * time.Second)
		for range 3 {
			mustAcquire(t, l, testBucket).Release(true)
		}
		p, wait, err := l.Acquire(ctx, testBucket)
		require.NoError(t, err)
		assert.Nil(t, p)
		assert.Equal(t, 2*time.Second, wait)
	})
}

func TestInMemory_ServerStateOverrides(t *testing.T) {
	clock := newFakeClock()
	l := newTestInMemory(t, clock)
	ctx := context.Background()

	require.NoError(t, l.Update(ctx, testBucket, &Headers{Bucket: "h", Limit: 5, Remaining: 5, ResetAfter: time.Second}))
	held := mustAcquire(t, l, testBucket)

	// 服务端报告已耗尽
	require.NoError(t, l.Update(ctx, testBucket, &Headers{Bucket: "h", Limit: 5, Remaining: 0, ResetAfter: time.Second}))

	// 旧 generation 的许可退回不会凭空增加配额
	held.Release(false)
	p, _, err := l.Acquire(ctx, testBucket)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestInMemory_SharedServerBucket(t *testing.T) {
	clock := newFakeClock()
	l := newTestInMemory(t, clock)
	ctx := context.Background()

	get := "GET /channels/1/messages/{message_id}"
	patch := "PATCH /channels/1/messages/{message_id}"
	for _, b := range []string{get, patch} {
		require.NoError(t, l.Update(ctx, b, &Headers{Bucket: "shared", Limit: 1, Remaining: 1, ResetAfter: time.Second}))
	}

	mustAcquire(t, l, get).Release(true)
	p, _, err := l.Acquire(ctx, patch)
	require.NoError(t, err)
	assert.Nil(t, p, "routes mapped to the same server bucket share capacity")

	// 相同服务端桶、不同主要参数互不影响
	other := "GET /channels/2/messages/{message_id}"
	require.NoError(t, l.Update(ctx, other, &Headers{Bucket: "shared", Limit: 1, Remaining: 1, ResetAfter: time.Second}))
	mustAcquire(t, l, other).Release(true)
}

func TestInMemory_429(t *testing.T) {
	clock := newFakeClock()
	l := newTestInMemory(t, clock)
	ctx := context.Background()

	t.Run("bucket", func(t *testing.T) {
		require.NoError(t, l.Update(ctx, testBucket, &Headers{RetryAfter: 3 * time.Second}))
		p, wait, err := l.Acquire(ctx, testBucket)
		require.NoError(t, err)
		assert.Nil(t, p)
		assert.Equal(t, 3*time.Second, wait)
	})

	t.Run("global", func(t *testing.T) {
		other := "GET /gateway"
		require.NoError(t, l.Update(ctx, other, &Headers{Global: true, RetryAfter: time.Second}))
		p, wait, err := l.Acquire(ctx, "GET /users/@me")
		require.NoError(t, err)
		assert.Nil(t, p)
		assert.Equal(t, time.Second, wait)

		// 更短的锁定不会缩短已有锁定
		require.NoError(t, l.Update(ctx, other, &Headers{Global: true, RetryAfter: time.Millisecond}))
		_, wait, _ = l.Acquire(ctx, "GET /users/@me")
		assert.Equal(t, time.Second, wait)

		clock.Advance(time.Second)
		mustAcquire(t, l, "GET /users/@me").Release(true)
	})
}

func TestInMemory_GlobalLimit(t *testing.T) {
	clock := newFakeClock()
	l := newTestInMemory(t, clock, WithGlobalLimit(2, 2))

	p1 := mustAcquire(t, l, "GET /a")
	p2 := mustAcquire(t, l, "GET /b")
	p, wait, err := l.Acquire(context.Background(), "GET /c")
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Equal(t, 500*time.Millisecond, wait)

	// 被全局限制拒绝的请求不占用桶的探测位
	clock.Advance(500 * time.Millisecond)
	mustAcquire(t, l, "GET /c").Release(true)
	p1.Release(true)
	p2.Release(true)
}

func TestInMemory_GlobalLimitRefundsUnsent(t *testing.T) {
	clock := newFakeClock()
	l := newTestInMemory(t, clock, WithGlobalLimit(1, 1))

	mustAcquire(t, l, "GET /a").Release(false)

	// 未发送的请求归还全局令牌
	sent := mustAcquire(t, l, "GET /b")
	sent.Release(true)

	// 已发送的请求不归还
	p, wait, err := l.Acquire(context.Background(), "GET /c")
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Equal(t, time.Second, wait)
}

func TestInMemory_CanceledContext(t *testing.T) {
	l := newTestInMemory(t, newFakeClock())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := l.Acquire(ctx, testBucket)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, l.Update(ctx, testBucket, nil))
}

func TestInMemory_ConcurrentAcquire(t *testing.T) {
	clock := newFakeClock()
	l := newTestInMemory(t, clock)
	ctx := context.Background()
	require.NoError(t, l.Update(ctx, testBucket, &Headers{Bucket: "h", Limit: 10, Remaining: 10, ResetAfter: time.Minute}))

	var granted atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, _, err := l.Acquire(ctx, testBucket)
			if err == nil && p != nil {
				granted.Add(1)
				p.Release(true)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(10), granted.Load())
	assert.Equal(t, 1, l.Len())
}

func TestMajorOf(t *testing.T) {
	assert.Equal(t, "1", majorOf("POST /channels/1/messages"))
	assert.Equal(t, "9", majorOf("GET /guilds/9/members/{id}"))
	assert.Equal(t, "7/abc", majorOf("POST /webhooks/7/abc"))
	assert.Equal(t, "", majorOf("GET /users/@me"))
}
