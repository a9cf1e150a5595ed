package xmodel

// MentionType 允许解析的提及类别。
type MentionType string

const (
	// MentionUsers 解析用户提及。
	MentionUsers MentionType = "users"
	// MentionRoles 解析角色提及。
	MentionRoles MentionType = "roles"
	// MentionEveryone 解析 @everyone 和 @here。
	MentionEveryone MentionType = "everyone"
)

// AllowedMentions 控制消息中哪些提及会真正通知到对方。
//
// 零值（非 nil 指针）序列化为 {}，Discord 将其解释为"不允许任何提及"，
// 这是一个显式设置，不会被客户端默认策略覆盖。
type AllowedMentions struct {
	Parse       []MentionType `json:"parse,omitempty"`
	Users       []Snowflake   `json:"users,omitempty"`
	Roles       []Snowflake   `json:"roles,omitempty"`
	RepliedUser bool          `json:"replied_user,omitempty"`
}

// Clone 返回深拷贝。
func (m *AllowedMentions) Clone() *AllowedMentions {
	if m == nil {
		return nil
	}
	c := *m
	c.Parse = append([]MentionType(nil), m.Parse...)
	c.Users = append([]Snowflake(nil), m.Users...)
	c.Roles = append([]Snowflake(nil), m.Roles...)
	return &c
}
