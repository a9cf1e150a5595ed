// Package xmodel 定义 Discord REST 请求与响应中使用的数据模型。
//
// 这里只收录请求调度核心真正需要的模型：
//
//   - Snowflake：Discord ID，JSON 中以字符串传输
//   - AllowedMentions：消息提及策略，客户端可配置默认值
//   - SuperProperties：客户端身份元数据，构建客户端时获取一次
//   - TooManyRequests / APIErrorBody：错误响应体
//   - AutoModerationTriggerMetadata：自动审核规则触发元数据
//   - Message / User / Gateway / CreateMessage：常用端点的请求与响应
//
// 完整的 API Schema 不在本包范围内，调用方可以使用自己的类型配合
// xhttp.Decode 解码任意响应。
package xmodel
