package xmodel

// KeywordPresetType Discord 预定义的关键词集合。
type KeywordPresetType uint8

const (
	// KeywordPresetProfanity 脏话。
	KeywordPresetProfanity KeywordPresetType = 1
	// KeywordPresetSexualContent 性相关内容。
	KeywordPresetSexualContent KeywordPresetType = 2
	// KeywordPresetSlurs 侮辱性词汇。
	KeywordPresetSlurs KeywordPresetType = 3
)

// AutoModerationTriggerMetadata 判断自动审核规则是否触发的附加数据。
//
// 哪些字段生效取决于规则的 trigger_type，未设置的字段不会被序列化。
type AutoModerationTriggerMetadata struct {
	// AllowList 不会触发预设规则的豁免子串。
	AllowList []string `json:"allow_list,omitempty"`
	// KeywordFilter 在内容中搜索的子串，支持通配符。
	KeywordFilter []string `json:"keyword_filter,omitempty"`
	// Presets 内置词库。
	Presets []KeywordPresetType `json:"presets,omitempty"`
}

// AutoModerationRule 自动审核规则（仅包含创建规则时需要的字段）。
type AutoModerationRule struct {
	ID              Snowflake                      `json:"id,omitempty"`
	GuildID         Snowflake                      `json:"guild_id,omitempty"`
	Name            string                         `json:"name"`
	EventType       uint8                          `json:"event_type"`
	TriggerType     uint8                          `json:"trigger_type"`
	TriggerMetadata *AutoModerationTriggerMetadata `json:"trigger_metadata,omitempty"`
	Enabled         bool                           `json:"enabled"`
}
