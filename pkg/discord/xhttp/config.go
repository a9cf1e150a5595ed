package xhttp

import (
	"fmt"
	"maps"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/splatterxl/twilight/pkg/discord/xmodel"
)

// =============================================================================
// 默认值
// =============================================================================

const (
	// DefaultTimeout 默认请求超时时间，分别作用于限流等待和发送两个阶段。
	DefaultTimeout = 10 * time.Second

	// DefaultBaseURL Discord REST API 地址。
	DefaultBaseURL = "https://discord.com/api/v10"

	// DefaultIdentityURL 身份元数据服务地址。
	DefaultIdentityURL = "https://discord-user-api.cf/api/v2/properties/web?channel=stable"

	// maxResponseSize 最大响应体大小（10MB）。
	maxResponseSize = 10 * 1024 * 1024
)

// 限流器类型。
const (
	LimiterMemory = "memory"
	LimiterRedis  = "redis"
	LimiterNone   = "none"
)

// Format 配置文件格式。
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// =============================================================================
// Config
// =============================================================================

// Config 客户端的可序列化配置，供 Builder.FromConfig 使用。
type Config struct {
	// Token 认证 token。没有 "Bot " 或 "Bearer " 前缀时自动补 "Bot "。
	Token string `koanf:"token"`

	// BaseURL API 地址，默认 https://discord.com/api/v10。
	BaseURL string `koanf:"base_url"`

	// Timeout 请求超时，默认 10 秒。
	Timeout time.Duration `koanf:"timeout"`

	// Proxy 代理 host[:port]。设置后请求发往代理，路径不变。
	Proxy string `koanf:"proxy"`

	// ProxyUseHTTP 访问代理时使用 http 而非 https。
	ProxyUseHTTP bool `koanf:"proxy_use_http"`

	// RememberInvalidToken 收到 401 后是否让后续请求直接失败，默认 true。
	RememberInvalidToken *bool `koanf:"remember_invalid_token"`

	// DefaultHeaders 附加到每个请求的头。
	DefaultHeaders map[string]string `koanf:"default_headers"`

	// AllowedMentions 默认提及策略。
	AllowedMentions *MentionsConfig `koanf:"allowed_mentions"`

	// RateLimiter 限流器配置。
	RateLimiter RateLimiterConfig `koanf:"ratelimiter"`

	// Identity 身份元数据配置。
	Identity IdentityConfig `koanf:"identity"`

	// CircuitBreaker 是否启用熔断。
	CircuitBreaker bool `koanf:"circuit_breaker"`
}

// MentionsConfig 默认提及策略的配置形式。
type MentionsConfig struct {
	Parse       []string `koanf:"parse"`
	Users       []string `koanf:"users"`
	Roles       []string `koanf:"roles"`
	RepliedUser bool     `koanf:"replied_user"`
}

// RateLimiterConfig 限流器配置。
type RateLimiterConfig struct {
	// Kind memory、redis 或 none，默认 memory。
	Kind string `koanf:"kind"`
	// GlobalRate 全局每秒请求数，0 使用默认值 50，负数关闭全局限制。
	GlobalRate int `koanf:"global_rate"`
	// RedisAddr Kind 为 redis 时的地址。
	RedisAddr string `koanf:"redis_addr"`
	// RedisPassword Redis 密码。
	RedisPassword string `koanf:"redis_password"`
	// KeyPrefix Redis 键前缀。
	KeyPrefix string `koanf:"key_prefix"`
}

// IdentityConfig 身份元数据配置。
type IdentityConfig struct {
	// Skip 跳过身份元数据获取。
	Skip bool `koanf:"skip"`
	// URL 身份元数据服务地址。
	URL string `koanf:"url"`
}

// ApplyDefaults 应用默认值。
func (c *Config) ApplyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RememberInvalidToken == nil {
		remember := true
		c.RememberInvalidToken = &remember
	}
	if c.RateLimiter.Kind == "" {
		c.RateLimiter.Kind = LimiterMemory
	}
	if c.Identity.URL == "" {
		c.Identity.URL = DefaultIdentityURL
	}
}

// Validate 验证配置有效性。
func (c *Config) Validate() error {
	if c == nil {
		return ErrNilConfig
	}
	if c.Timeout < 0 {
		return ErrInvalidTimeout
	}
	if c.BaseURL != "" {
		if err := validateAbsoluteURL(c.BaseURL); err != nil {
			return err
		}
	}
	if c.Proxy != "" {
		if err := validateProxy(c.Proxy); err != nil {
			return err
		}
	}
	switch c.RateLimiter.Kind {
	case "", LimiterMemory, LimiterNone:
	case LimiterRedis:
		if c.RateLimiter.RedisAddr == "" {
			return fmt.Errorf("xhttp: ratelimiter kind redis requires redis_addr")
		}
	default:
		return fmt.Errorf("xhttp: unknown ratelimiter kind %q", c.RateLimiter.Kind)
	}
	if c.Identity.URL != "" {
		if err := validateAbsoluteURL(c.Identity.URL); err != nil {
			return err
		}
	}
	if _, err := c.AllowedMentions.toModel(); err != nil {
		return err
	}
	return nil
}

// Clone 创建配置的深拷贝。
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	if c.RememberInvalidToken != nil {
		v := *c.RememberInvalidToken
		clone.RememberInvalidToken = &v
	}
	clone.DefaultHeaders = maps.Clone(c.DefaultHeaders)
	if c.AllowedMentions != nil {
		m := *c.AllowedMentions
		m.Parse = append([]string(nil), c.AllowedMentions.Parse...)
		m.Users = append([]string(nil), c.AllowedMentions.Users...)
		m.Roles = append([]string(nil), c.AllowedMentions.Roles...)
		clone.AllowedMentions = &m
	}
	return &clone
}

func (m *MentionsConfig) toModel() (*xmodel.AllowedMentions, error) {
	if m == nil {
		return nil, nil
	}
	out := &xmodel.AllowedMentions{RepliedUser: m.RepliedUser}
	for _, p := range m.Parse {
		switch t := xmodel.MentionType(p); t {
		case xmodel.MentionUsers, xmodel.MentionRoles, xmodel.MentionEveryone:
			out.Parse = append(out.Parse, t)
		default:
			return nil, fmt.Errorf("xhttp: unknown mention type %q", p)
		}
	}
	for _, raw := range m.Users {
		id, err := xmodel.ParseSnowflake(raw)
		if err != nil {
			return nil, err
		}
		out.Users = append(out.Users, id)
	}
	for _, raw := range m.Roles {
		id, err := xmodel.ParseSnowflake(raw)
		if err != nil {
			return nil, err
		}
		out.Roles = append(out.Roles, id)
	}
	return out, nil
}

// =============================================================================
// 加载
// =============================================================================

// LoadConfig 从字节数据解析配置，配置位于顶层或 "discord" 键下。
func LoadConfig(data []byte, format Format) (*Config, error) {
	var parser koanf.Parser
	switch format {
	case FormatYAML:
		parser = yaml.Parser()
	case FormatJSON:
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	k := koanf.New(".")
	if len(data) > 0 {
		if err := k.Load(rawbytes.Provider(data), parser); err != nil {
			return nil, fmt.Errorf("xhttp: parse config failed: %w", err)
		}
	}

	path := ""
	if k.Exists("discord") {
		path = "discord"
	}
	var cfg Config
	if err := k.UnmarshalWithConf(path, &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("xhttp: unmarshal config failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfigFile 按扩展名（.yaml/.yml/.json）读取配置文件。
func LoadConfigFile(path string) (*Config, error) {
	var format Format
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = FormatYAML
	case ".json":
		format = FormatJSON
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("xhttp: read config failed: %w", err)
	}
	return LoadConfig(data, format)
}

// =============================================================================
// 辅助函数
// =============================================================================

func validateAbsoluteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: %q", ErrInvalidBaseURL, raw)
	}
	return nil
}

// validateProxy 代理只接受 host[:port]，不能带协议或路径。
func validateProxy(proxy string) error {
	if strings.Contains(proxy, "://") || strings.ContainsAny(proxy, "/?# ") {
		return fmt.Errorf("%w: %q", ErrInvalidProxy, proxy)
	}
	u, err := url.Parse("http://" + proxy)
	if err != nil || u.Host != proxy || u.Hostname() == "" {
		return fmt.Errorf("%w: %q", ErrInvalidProxy, proxy)
	}
	return nil
}
