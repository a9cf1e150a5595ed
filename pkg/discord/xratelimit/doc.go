// Package xratelimit 提供 Discord REST 限流能力。
//
// 请求调度器只通过 RateLimiter 接口使用限流器：
//
//	permit, wait, err := limiter.Acquire(ctx, route.BucketKey())
//	// permit != nil: 立即发送，完成后必须 Release 一次
//	// permit == nil: 等待 wait 后再次 Acquire
//	...
//	limiter.Update(ctx, route.BucketKey(), headers)
//	permit.Release(true)
//
// 内置三种实现：
//   - Noop: 不做任何限制
//   - InMemory: 进程内按服务端桶跟踪剩余配额，默认实现
//   - Redis: 多进程共享同一个 bot token 时使用
//
// 所有实现都以服务端返回的限流头为准，本地预测只用于避免明显会被拒绝的请求。
package xratelimit
