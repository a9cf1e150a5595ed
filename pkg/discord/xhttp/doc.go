// Package xhttp 是 Discord REST API 的请求调度客户端。
//
// # 构建
//
// Client 只能通过 Builder 构建。Build 会先获取一次身份元数据（X-Super-Properties），
// 成功后才返回客户端；失败时返回 *ConstructionError：
//
//	client, err := xhttp.NewBuilder().
//	    Token(os.Getenv("DISCORD_TOKEN")).
//	    Timeout(5 * time.Second).
//	    DefaultAllowedMentions(&xmodel.AllowedMentions{}).
//	    Build(ctx)
//
// # 调度
//
// Client.Request 是唯一的调度入口，依次执行：
//  1. token 失效检查：开启 RememberInvalidToken 且此前收到过 401 时直接返回 ErrTokenInvalidated
//  2. 按路由分桶键获取限流许可，最多等待 Timeout
//  3. 注入 Authorization、默认头、身份信息、按路由的上下文载荷、默认提及策略，最后应用请求级覆盖头
//  4. 配置了代理时替换 scheme 与 host，路径不变
//  5. 以新的 Timeout 发送
//  6. 按状态码分类结果，并把限流头交给限流器
//
// Client.Request 从不重试。需要重试的调用方使用 Retry，它按 429 的 RetryAfter 等待。
//
// # 错误
//
// 所有错误都可以用 errors.Is 匹配哨兵错误，或用 KindOf 得到类别：
//
//	_, err := client.Request(ctx, xhttp.NewRequest(xroute.GetGateway(), nil))
//	switch xhttp.KindOf(err) {
//	case xhttp.KindRateLimited:
//	    var rl *xhttp.RateLimitedError
//	    errors.As(err, &rl)
//	    time.Sleep(rl.RetryAfter)
//	case xhttp.KindTokenInvalidated:
//	    // 需要用新 token 重新构建客户端
//	}
package xhttp
