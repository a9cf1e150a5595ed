// Package xroute 定义 Discord REST API 的路由表。
//
// 路由是静态数据：每个 Route 携带方法、路径模板和参数，
// 由它派生出实际请求路径（Path）、限流分桶键（BucketKey）
// 以及少数路由才有的 X-Context-Properties 载荷（ContextProperties）。
//
// # 分桶键
//
// Discord 的限流按"主要参数"分桶：channel_id、guild_id、webhook_id（以及 webhook_token）
// 相同的请求共享一个桶，其余参数（message_id、user_id 等）不影响分桶。
// 因此 BucketKey 只代入主要参数，其他参数保留占位符：
//
//	xroute.GetMessage(1, 2).BucketKey()  // "GET /channels/1/messages/{message_id}"
//	xroute.GetMessage(1, 3).BucketKey()  // 同上
//
// # 外部路由
//
// External 用于访问 Discord API 之外的绝对 URL（例如身份元数据服务），
// 这类请求不携带 Authorization 头，也不做代理改写。
package xroute
