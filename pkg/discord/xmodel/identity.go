package xmodel

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrEmptyIdentity 表示身份元数据响应为空。
var ErrEmptyIdentity = errors.New("xmodel: empty identity payload")

// SuperProperties 客户端身份元数据。
//
// 构建客户端时获取一次，此后只读。原始 JSON 会被完整保留，
// 通过 Encoded 以 base64 形式注入到每个请求的 X-Super-Properties 头中，
// 因此服务端新增的字段不会在转发时丢失。
type SuperProperties struct {
	OS                string `json:"os,omitempty"`
	Browser           string `json:"browser,omitempty"`
	Device            string `json:"device,omitempty"`
	SystemLocale      string `json:"system_locale,omitempty"`
	BrowserUserAgent  string `json:"browser_user_agent,omitempty"`
	BrowserVersion    string `json:"browser_version,omitempty"`
	OSVersion         string `json:"os_version,omitempty"`
	ReleaseChannel    string `json:"release_channel,omitempty"`
	ClientBuildNumber int64  `json:"client_build_number,omitempty"`

	raw []byte
}

// ParseSuperProperties 解析身份元数据。
//
// 同时接受两种形态：直接的属性对象，或 {"properties": {...}} 包装。
func ParseSuperProperties(data []byte) (*SuperProperties, error) {
	if len(data) == 0 {
		return nil, ErrEmptyIdentity
	}

	var envelope struct {
		Properties json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("xmodel: decode identity failed: %w", err)
	}
	if len(envelope.Properties) > 0 && envelope.Properties[0] == '{' {
		data = envelope.Properties
	}

	var props SuperProperties
	if err := json.Unmarshal(data, &props); err != nil {
		return nil, fmt.Errorf("xmodel: decode identity failed: %w", err)
	}
	if props.OS == "" && props.Browser == "" && props.ClientBuildNumber == 0 {
		return nil, ErrEmptyIdentity
	}
	props.raw = append([]byte(nil), data...)
	return &props, nil
}

// Encoded 返回 X-Super-Properties 头使用的 base64 编码。
func (p *SuperProperties) Encoded() string {
	if p == nil {
		return ""
	}
	raw := p.raw
	if len(raw) == 0 {
		// 手工构造的实例没有原始 JSON，按字段序列化
		var err error
		raw, err = json.Marshal(p)
		if err != nil {
			return ""
		}
	}
	return base64.StdEncoding.EncodeToString(raw)
}
