package xratelimit

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

const (
	shardCount = 16
	// maxBucketsPerShard 超过后清理已过期且空闲的桶。
	maxBucketsPerShard = 1024
)

// InMemory 进程内限流器。
//
// 桶状态按服务端桶标识（X-RateLimit-Bucket）加主要参数存储，
// 路由到服务端桶的映射在第一次收到响应头后记入 LRU。
// 状态未知的桶同一时间只放行一个探测请求，直到拿到响应头。
type InMemory struct {
	opts   *options
	global *rate.Limiter
	// globalUntil 全局 429 锁定截止时间（UnixNano）。
	globalUntil atomic.Int64
	routes      *lru.Cache[string, string]
	shards      [shardCount]memShard
}

type memShard struct {
	mu      sync.Mutex
	buckets map[string]*memBucket
}

type memBucket struct {
	known     bool
	limit     int
	remaining int
	resetAt   time.Time
	window    time.Duration
	inflight  int
	// generation 每次被服务端状态覆盖或本地重置时递增，
	// 旧 generation 的许可退回时不再归还配额。
	generation uint64
}

// NewInMemory 创建进程内限流器。
func NewInMemory(opts ...Option) (*InMemory, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if err := o.validate(); err != nil {
		return nil, err
	}

	routes, err := lru.New[string, string](o.routeCacheSize)
	if err != nil {
		return nil, err
	}

	l := &InMemory{opts: o, routes: routes}
	if o.globalRate > 0 {
		l.global = rate.NewLimiter(rate.Limit(o.globalRate), o.globalBurst)
	}
	for i := range l.shards {
		l.shards[i].buckets = make(map[string]*memBucket)
	}
	return l, nil
}

// Acquire 实现 RateLimiter。
func (l *InMemory) Acquire(ctx context.Context, bucket string) (Permit, time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	now := l.opts.now()

	if until := l.globalUntil.Load(); until > now.UnixNano() {
		return nil, time.Duration(until - now.UnixNano()), nil
	}

	key := l.storageKey(bucket)
	sh := l.shard(key)

	sh.mu.Lock()
	b, ok := sh.buckets[key]
	if !ok {
		b = &memBucket{}
		sh.buckets[key] = b
	}

	if b.known && !now.Before(b.resetAt) {
		if b.window > 0 {
			b.remaining = b.limit
			b.resetAt = now.Add(b.window)
		} else {
			b.known = false
		}
		b.generation++
	}

	reserved := false
	switch {
	case !b.known:
		if b.inflight > 0 {
			sh.mu.Unlock()
			return nil, l.opts.probeInterval, nil
		}
	case b.remaining <= 0:
		wait := b.resetAt.Sub(now)
		sh.mu.Unlock()
		return nil, max(wait, l.opts.probeInterval), nil
	default:
		b.remaining--
		reserved = true
	}
	b.inflight++
	gen := b.generation
	sh.mu.Unlock()

	releaseBucket := func(sent bool) {
		sh.mu.Lock()
		defer sh.mu.Unlock()
		b.inflight--
		if !sent && reserved && b.generation == gen {
			b.remaining++
		}
	}

	var global *rate.Reservation
	if l.global != nil {
		global = l.global.ReserveN(now, 1)
		if delay := global.DelayFrom(now); delay > 0 {
			global.CancelAt(now)
			releaseBucket(false)
			return nil, delay, nil
		}
	}

	release := func(sent bool) {
		// 按预占时刻取消，晚于预占时刻取消时 rate.Limiter 不会归还令牌。
		if !sent && global != nil {
			global.CancelAt(now)
		}
		releaseBucket(sent)
	}
	return PermitFunc(release), 0, nil
}

// Update 实现 RateLimiter。
func (l *InMemory) Update(_ context.Context, bucket string, h *Headers) error {
	if h == nil {
		return nil
	}
	now := l.opts.now()

	if h.Global && h.RetryAfter > 0 {
		until := now.Add(h.RetryAfter).UnixNano()
		for {
			cur := l.globalUntil.Load()
			if cur >= until || l.globalUntil.CompareAndSwap(cur, until) {
				break
			}
		}
		l.opts.logger.Warn("xratelimit: global rate limit hit",
			slog.Duration("retry_after", h.RetryAfter))
		return nil
	}

	if h.Bucket != "" {
		if prev, ok := l.routes.Get(bucket); !ok || prev != h.Bucket {
			l.routes.Add(bucket, h.Bucket)
			l.dropRouteBucket(bucket)
		}
	}

	key := l.storageKey(bucket)
	sh := l.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	b, ok := sh.buckets[key]
	if !ok {
		if len(sh.buckets) >= maxBucketsPerShard {
			sh.sweep(now)
		}
		b = &memBucket{}
		sh.buckets[key] = b
	}
	b.apply(h, now)
	return nil
}

// Len 返回当前跟踪的桶数量。
func (l *InMemory) Len() int {
	n := 0
	for i := range l.shards {
		sh := &l.shards[i]
		sh.mu.Lock()
		n += len(sh.buckets)
		sh.mu.Unlock()
	}
	return n
}

func (b *memBucket) apply(h *Headers, now time.Time) {
	b.generation++
	if h.Limit > 0 {
		b.known = true
		b.limit = h.Limit
		b.remaining = h.Remaining
	}
	switch {
	case h.ResetAfter > 0:
		b.resetAt = now.Add(h.ResetAfter)
		b.window = h.ResetAfter
	case !h.Reset.IsZero():
		b.resetAt = h.Reset
	}
	if h.RetryAfter > 0 {
		b.known = true
		b.remaining = 0
		if until := now.Add(h.RetryAfter); until.After(b.resetAt) {
			b.resetAt = until
		}
	}
}

// storageKey 已知服务端桶时返回 "hash:主要参数"，否则直接使用路由分桶键。
func (l *InMemory) storageKey(bucket string) string {
	if hash, ok := l.routes.Get(bucket); ok {
		return hash + ":" + majorOf(bucket)
	}
	return bucket
}

// dropRouteBucket 路由映射到服务端桶后，删除以路由键存放的空闲旧桶。
func (l *InMemory) dropRouteBucket(bucket string) {
	sh := l.shard(bucket)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if b, ok := sh.buckets[bucket]; ok && b.inflight == 0 {
		delete(sh.buckets, bucket)
	}
}

func (l *InMemory) shard(key string) *memShard {
	return &l.shards[xxhash.Sum64String(key)%shardCount]
}

func (sh *memShard) sweep(now time.Time) {
	for k, b := range sh.buckets {
		if b.inflight == 0 && now.After(b.resetAt) {
			delete(sh.buckets, k)
		}
	}
}

// majorOf 提取分桶键中的主要参数，例如
// "POST /channels/1/messages" -> "1"，"POST /webhooks/7/abc" -> "7/abc"。
func majorOf(bucket string) string {
	_, path, ok := strings.Cut(bucket, " ")
	if !ok {
		path = bucket
	}
	segs := strings.Split(path, "/")
	var major []string
	for i := 1; i < len(segs); i++ {
		switch segs[i-1] {
		case "channels", "guilds":
			major = append(major, segs[i])
		case "webhooks":
			major = append(major, segs[i])
			if i+1 < len(segs) {
				major = append(major, segs[i+1])
			}
		}
	}
	return strings.Join(major, "/")
}
