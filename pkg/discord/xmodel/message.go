package xmodel

// User Discord 用户。
type User struct {
	ID            Snowflake `json:"id"`
	Username      string    `json:"username"`
	Discriminator string    `json:"discriminator,omitempty"`
	GlobalName    string    `json:"global_name,omitempty"`
	Bot           bool      `json:"bot,omitempty"`
}

// Message 频道消息。
type Message struct {
	ID        Snowflake `json:"id"`
	ChannelID Snowflake `json:"channel_id"`
	Author    User      `json:"author"`
	Content   string    `json:"content"`
	Nonce     string    `json:"nonce,omitempty"`
}

// CreateMessage 发送消息的请求体。
//
// AllowedMentions 为 nil 时字段被省略，客户端的默认提及策略会在发送前补上；
// 显式设置（包括空对象）时保持原样。
type CreateMessage struct {
	Content         string           `json:"content,omitempty"`
	Nonce           string           `json:"nonce,omitempty"`
	TTS             bool             `json:"tts,omitempty"`
	AllowedMentions *AllowedMentions `json:"allowed_mentions,omitempty"`
}

// Gateway GET /gateway 的响应。
type Gateway struct {
	URL string `json:"url"`
}

// GatewayBot GET /gateway/bot 的响应。
type GatewayBot struct {
	URL               string `json:"url"`
	Shards            int    `json:"shards"`
	SessionStartLimit struct {
		Total          int `json:"total"`
		Remaining      int `json:"remaining"`
		ResetAfter     int `json:"reset_after"`
		MaxConcurrency int `json:"max_concurrency"`
	} `json:"session_start_limit"`
}

// TooManyRequests 429 响应体。RetryAfter 单位为秒，可带小数。
type TooManyRequests struct {
	Message    string  `json:"message"`
	RetryAfter float64 `json:"retry_after"`
	Global     bool    `json:"global"`
	Code       int     `json:"code,omitempty"`
}

// APIErrorBody 非 2xx 响应的通用错误体。
type APIErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
