package xroute

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/splatterxl/twilight/pkg/discord/xmodel"
)

// Name 路由的逻辑名称。
type Name string

const (
	NameGetGateway               Name = "GetGateway"
	NameGetGatewayBot            Name = "GetGatewayBot"
	NameGetCurrentUser           Name = "GetCurrentUser"
	NameGetUser                  Name = "GetUser"
	NameGetChannel               Name = "GetChannel"
	NameGetMessages              Name = "GetMessages"
	NameGetMessage               Name = "GetMessage"
	NameCreateMessage            Name = "CreateMessage"
	NameUpdateMessage            Name = "UpdateMessage"
	NameDeleteMessage            Name = "DeleteMessage"
	NameCreateReaction           Name = "CreateReaction"
	NameCreateTypingTrigger      Name = "CreateTypingTrigger"
	NameCreatePrivateChannel     Name = "CreatePrivateChannel"
	NameGetGuild                 Name = "GetGuild"
	NameGetAutoModerationRules   Name = "GetAutoModerationRules"
	NameCreateAutoModerationRule Name = "CreateAutoModerationRule"
	NameExecuteWebhook           Name = "ExecuteWebhook"
	NameAcceptInvite             Name = "AcceptInvite"
	NameGetRelationships         Name = "GetRelationships"
	NameSendFriendRequest        Name = "SendFriendRequest"
	NameCreateRelationship       Name = "CreateRelationship"
	NameDeleteRelationship       Name = "DeleteRelationship"
	NameRaw                      Name = "Raw"
	NameExternal                 Name = "External"
)

// majorParams 参与分桶的路径参数。
var majorParams = map[string]struct{}{
	"channel_id":    {},
	"guild_id":      {},
	"webhook_id":    {},
	"webhook_token": {},
}

// placeholder 匹配模板中的 {name} 占位符。
var placeholder = regexp.MustCompile(`\{([a-z_]+)\}`)

// Route 一个逻辑 API 调用的目标。
//
// Route 是值类型，可以安全地复制和并发读取。
type Route struct {
	name     Name
	method   string
	template string
	params   map[string]string
	query    url.Values
	external *url.URL
}

func newRoute(name Name, method, template string, kv ...string) Route {
	r := Route{name: name, method: method, template: template}
	if len(kv) > 0 {
		r.params = make(map[string]string, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			r.params[kv[i]] = kv[i+1]
		}
	}
	return r
}

// Name 返回路由名称。
func (r Route) Name() Name { return r.name }

// Method 返回 HTTP 方法。
func (r Route) Method() string { return r.method }

// Template 返回路径模板，例如 "/channels/{channel_id}/messages"。
func (r Route) Template() string { return r.template }

// Param 返回路径参数的原始值。
func (r Route) Param(key string) (string, bool) {
	v, ok := r.params[key]
	return v, ok
}

// IsExternal 报告路由是否指向 Discord API 之外的绝对 URL。
func (r Route) IsExternal() bool { return r.external != nil }

// URL 返回外部路由的绝对 URL 副本，非外部路由返回 nil。
func (r Route) URL() *url.URL {
	if r.external == nil {
		return nil
	}
	u := *r.external
	return &u
}

// WithQuery 返回附加了查询参数的副本。
func (r Route) WithQuery(key, value string) Route {
	q := make(url.Values, len(r.query)+1)
	for k, v := range r.query {
		q[k] = append([]string(nil), v...)
	}
	q.Add(key, value)
	r.query = q
	return r
}

// Path 渲染路径（含查询串），参数经过路径转义。
// 外部路由返回其绝对 URL 的 path 与 query 部分。
func (r Route) Path() string {
	if r.external != nil {
		return r.external.RequestURI()
	}
	p := placeholder.ReplaceAllStringFunc(r.template, func(m string) string {
		v, ok := r.params[m[1:len(m)-1]]
		if !ok {
			return m
		}
		return url.PathEscape(v)
	})
	if len(r.query) > 0 {
		p += "?" + r.query.Encode()
	}
	return p
}

// BucketKey 返回限流分桶键。
func (r Route) BucketKey() string {
	if r.external != nil {
		return r.method + " " + r.external.Host + r.external.Path
	}
	if r.name == NameRaw {
		return r.method + " " + normalizeRaw(r.template)
	}
	p := placeholder.ReplaceAllStringFunc(r.template, func(m string) string {
		key := m[1 : len(m)-1]
		if _, major := majorParams[key]; !major {
			return m
		}
		if v, ok := r.params[key]; ok {
			return url.PathEscape(v)
		}
		return m
	})
	return r.method + " " + p
}

// SupportsAllowedMentions 报告请求体是否接受 allowed_mentions 字段。
func (r Route) SupportsAllowedMentions() bool {
	switch r.name {
	case NameCreateMessage, NameUpdateMessage, NameExecuteWebhook:
		return true
	default:
		return false
	}
}

// String 实现 fmt.Stringer。
func (r Route) String() string {
	return string(r.name) + " " + r.method + " " + r.Path()
}

// normalizeRaw 将自由路径中的非主要 ID 段替换为占位符。
func normalizeRaw(path string) string {
	path, _, _ = strings.Cut(path, "?")
	segs := strings.Split(path, "/")
	for i := 1; i < len(segs); i++ {
		prev := segs[i-1]
		switch {
		case prev == "reactions":
			segs[i] = "{emoji}"
		case isDigits(segs[i]):
			if prev == "channels" || prev == "guilds" || prev == "webhooks" {
				continue
			}
			segs[i] = "{id}"
		case i >= 2 && segs[i-2] == "webhooks" && isDigits(prev):
			// webhooks/{id}/{token} 中的 token 是主要参数
			continue
		}
	}
	return strings.Join(segs, "/")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// =============================================================================
// 路由构造
// =============================================================================

// GetGateway GET /gateway。
func GetGateway() Route {
	return newRoute(NameGetGateway, http.MethodGet, "/gateway")
}

// GetGatewayBot GET /gateway/bot。
func GetGatewayBot() Route {
	return newRoute(NameGetGatewayBot, http.MethodGet, "/gateway/bot")
}

// GetCurrentUser GET /users/@me。
func GetCurrentUser() Route {
	return newRoute(NameGetCurrentUser, http.MethodGet, "/users/@me")
}

// GetUser GET /users/{user_id}。
func GetUser(userID xmodel.Snowflake) Route {
	return newRoute(NameGetUser, http.MethodGet, "/users/{user_id}", "user_id", userID.String())
}

// GetChannel GET /channels/{channel_id}。
func GetChannel(channelID xmodel.Snowflake) Route {
	return newRoute(NameGetChannel, http.MethodGet, "/channels/{channel_id}", "channel_id", channelID.String())
}

// GetMessages GET /channels/{channel_id}/messages。
func GetMessages(channelID xmodel.Snowflake) Route {
	return newRoute(NameGetMessages, http.MethodGet, "/channels/{channel_id}/messages",
		"channel_id", channelID.String())
}

// GetMessage GET /channels/{channel_id}/messages/{message_id}。
func GetMessage(channelID, messageID xmodel.Snowflake) Route {
	return newRoute(NameGetMessage, http.MethodGet, "/channels/{channel_id}/messages/{message_id}",
		"channel_id", channelID.String(), "message_id", messageID.String())
}

// CreateMessage POST /channels/{channel_id}/messages。
func CreateMessage(channelID xmodel.Snowflake) Route {
	return newRoute(NameCreateMessage, http.MethodPost, "/channels/{channel_id}/messages",
		"channel_id", channelID.String())
}

// UpdateMessage PATCH /channels/{channel_id}/messages/{message_id}。
func UpdateMessage(channelID, messageID xmodel.Snowflake) Route {
	return newRoute(NameUpdateMessage, http.MethodPatch, "/channels/{channel_id}/messages/{message_id}",
		"channel_id", channelID.String(), "message_id", messageID.String())
}

// DeleteMessage DELETE /channels/{channel_id}/messages/{message_id}。
func DeleteMessage(channelID, messageID xmodel.Snowflake) Route {
	return newRoute(NameDeleteMessage, http.MethodDelete, "/channels/{channel_id}/messages/{message_id}",
		"channel_id", channelID.String(), "message_id", messageID.String())
}

// CreateReaction PUT /channels/{channel_id}/messages/{message_id}/reactions/{emoji}/@me。
// emoji 为 unicode 表情或 name:id 形式的自定义表情。
func CreateReaction(channelID, messageID xmodel.Snowflake, emoji string) Route {
	return newRoute(NameCreateReaction, http.MethodPut,
		"/channels/{channel_id}/messages/{message_id}/reactions/{emoji}/@me",
		"channel_id", channelID.String(), "message_id", messageID.String(), "emoji", emoji)
}

// CreateTypingTrigger POST /channels/{channel_id}/typing。
func CreateTypingTrigger(channelID xmodel.Snowflake) Route {
	return newRoute(NameCreateTypingTrigger, http.MethodPost, "/channels/{channel_id}/typing",
		"channel_id", channelID.String())
}

// CreatePrivateChannel POST /users/@me/channels。
func CreatePrivateChannel() Route {
	return newRoute(NameCreatePrivateChannel, http.MethodPost, "/users/@me/channels")
}

// GetGuild GET /guilds/{guild_id}。
func GetGuild(guildID xmodel.Snowflake) Route {
	return newRoute(NameGetGuild, http.MethodGet, "/guilds/{guild_id}", "guild_id", guildID.String())
}

// GetAutoModerationRules GET /guilds/{guild_id}/auto-moderation/rules。
func GetAutoModerationRules(guildID xmodel.Snowflake) Route {
	return newRoute(NameGetAutoModerationRules, http.MethodGet, "/guilds/{guild_id}/auto-moderation/rules",
		"guild_id", guildID.String())
}

// CreateAutoModerationRule POST /guilds/{guild_id}/auto-moderation/rules。
func CreateAutoModerationRule(guildID xmodel.Snowflake) Route {
	return newRoute(NameCreateAutoModerationRule, http.MethodPost, "/guilds/{guild_id}/auto-moderation/rules",
		"guild_id", guildID.String())
}

// ExecuteWebhook POST /webhooks/{webhook_id}/{webhook_token}。
func ExecuteWebhook(webhookID xmodel.Snowflake, token string) Route {
	return newRoute(NameExecuteWebhook, http.MethodPost, "/webhooks/{webhook_id}/{webhook_token}",
		"webhook_id", webhookID.String(), "webhook_token", token)
}

// AcceptInvite POST /invites/{code}。
func AcceptInvite(code string) Route {
	return newRoute(NameAcceptInvite, http.MethodPost, "/invites/{code}", "code", code)
}

// GetRelationships GET /users/@me/relationships。
func GetRelationships() Route {
	return newRoute(NameGetRelationships, http.MethodGet, "/users/@me/relationships")
}

// SendFriendRequest POST /users/@me/relationships（按用户名添加好友）。
func SendFriendRequest() Route {
	return newRoute(NameSendFriendRequest, http.MethodPost, "/users/@me/relationships")
}

// CreateRelationship PUT /users/@me/relationships/{user_id}。
func CreateRelationship(userID xmodel.Snowflake) Route {
	return newRoute(NameCreateRelationship, http.MethodPut, "/users/@me/relationships/{user_id}",
		"user_id", userID.String())
}

// DeleteRelationship DELETE /users/@me/relationships/{user_id}。
func DeleteRelationship(userID xmodel.Snowflake) Route {
	return newRoute(NameDeleteRelationship, http.MethodDelete, "/users/@me/relationships/{user_id}",
		"user_id", userID.String())
}

// Raw 以自由路径构造路由，用于尚未收录的接口。
// path 必须以 "/" 开头，可以带查询串；分桶时数字 ID 会被归一化。
func Raw(method, path string) Route {
	r := newRoute(NameRaw, strings.ToUpper(method), path)
	if p, q, ok := strings.Cut(path, "?"); ok {
		r.template = p
		if values, err := url.ParseQuery(q); err == nil {
			r.query = values
		}
	}
	return r
}

// External 构造指向绝对 URL 的路由。
func External(method, rawURL string) (Route, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Route{}, err
	}
	if u.Scheme == "" || u.Host == "" {
		return Route{}, &url.Error{Op: "parse", URL: rawURL, Err: errNotAbsolute}
	}
	r := newRoute(NameExternal, strings.ToUpper(method), u.Path)
	r.external = u
	return r, nil
}
