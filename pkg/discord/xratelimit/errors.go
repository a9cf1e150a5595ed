package xratelimit

import "errors"

var (
	// ErrInvalidHeader 表示限流响应头格式错误。
	ErrInvalidHeader = errors.New("xratelimit: invalid rate limit header")

	// ErrNilRedisClient 表示 Redis 客户端为 nil。
	ErrNilRedisClient = errors.New("xratelimit: nil redis client")

	// ErrInvalidOption 表示选项取值无效。
	ErrInvalidOption = errors.New("xratelimit: invalid option")
)

var errOutOfRange = errors.New("value out of range")
