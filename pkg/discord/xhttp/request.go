package xhttp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/splatterxl/twilight/pkg/discord/xroute"
)

// Request 一次待调度的请求，只属于一次 Client.Request 调用。
type Request struct {
	// Route 目标路由，同时决定分桶键和按路由注入的头。
	Route xroute.Route

	// Body 请求体：
	//   - nil: 无请求体
	//   - []byte、json.RawMessage、string: 原样发送，是合法 JSON 时按 JSON 处理
	//   - io.Reader: 原样发送，不做默认提及策略注入
	//   - 其他: JSON 序列化
	Body any

	// Headers 按请求覆盖的头，冲突时优先于客户端注入的头。
	Headers http.Header

	// Reason 审计日志原因（X-Audit-Log-Reason）。
	Reason string
}

// NewRequest 创建请求。
func NewRequest(route xroute.Route, body any) *Request {
	return &Request{Route: route, Body: body}
}

// WithHeader 设置一个覆盖头并返回 r。
func (r *Request) WithHeader(key, value string) *Request {
	if r.Headers == nil {
		r.Headers = make(http.Header)
	}
	r.Headers.Set(key, value)
	return r
}

// WithReason 设置审计日志原因并返回 r。
func (r *Request) WithReason(reason string) *Request {
	r.Reason = reason
	return r
}

// Response 2xx 响应。
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode 将 JSON 响应体解码到 v。
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return &TransportError{Op: "decode", Err: err}
	}
	return nil
}

// encodedBody 编码后的请求体。
type encodedBody struct {
	reader io.Reader
	json   []byte
}

// encodeBody 按 Body 类型编码；json 非 nil 表示请求体是 JSON。
func encodeBody(body any) (*encodedBody, error) {
	switch v := body.(type) {
	case nil:
		return &encodedBody{}, nil
	case json.RawMessage:
		return rawBody(v), nil
	case []byte:
		return rawBody(v), nil
	case string:
		return rawBody([]byte(v)), nil
	case io.Reader:
		return &encodedBody{reader: v}, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEncodeBody, err)
		}
		return &encodedBody{json: data}, nil
	}
}

func rawBody(data []byte) *encodedBody {
	if json.Valid(data) {
		return &encodedBody{json: data}
	}
	return &encodedBody{reader: bytes.NewReader(data)}
}

// injectAllowedMentions 请求体是 JSON 对象且没有 allowed_mentions 键时补上默认值。
// 显式设置的值（包括 null 和 {}）保持不变。
func injectAllowedMentions(body, mentions []byte) []byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return body
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return body
	}
	if _, ok := fields["allowed_mentions"]; ok {
		return body
	}
	fields["allowed_mentions"] = mentions
	out, err := json.Marshal(fields)
	if err != nil {
		return body
	}
	return out
}

func (b *encodedBody) open() io.Reader {
	if b.json != nil {
		return bytes.NewReader(b.json)
	}
	return b.reader
}

// overridesContentType 报告覆盖头中是否指定了非 JSON 的 Content-Type。
func overridesContentType(h http.Header) bool {
	ct := h.Get("Content-Type")
	return ct != "" && !strings.HasPrefix(ct, "application/json")
}
