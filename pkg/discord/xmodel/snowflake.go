package xmodel

import (
	"bytes"
	"fmt"
	"strconv"
	"time"
)

// DiscordEpoch Discord 雪花 ID 的纪元（2015-01-01T00:00:00Z，毫秒）。
const DiscordEpoch int64 = 1420070400000

// Snowflake Discord 资源 ID。
//
// JSON 编码为字符串（避免 JavaScript 精度丢失），解码同时接受字符串和数字。
type Snowflake uint64

// ParseSnowflake 从十进制字符串解析 Snowflake。
func ParseSnowflake(s string) (Snowflake, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("xmodel: invalid snowflake %q: %w", s, err)
	}
	return Snowflake(v), nil
}

// String 返回十进制字符串表示。
func (s Snowflake) String() string {
	return strconv.FormatUint(uint64(s), 10)
}

// IsValid 零值不是有效的 Discord ID。
func (s Snowflake) IsValid() bool {
	return s != 0
}

// Time 返回 ID 中编码的创建时间。
func (s Snowflake) Time() time.Time {
	ms := int64(s>>22) + DiscordEpoch
	return time.UnixMilli(ms).UTC()
}

// MarshalJSON 实现 json.Marshaler。
func (s Snowflake) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON 实现 json.Unmarshaler。
func (s *Snowflake) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*s = 0
		return nil
	}
	raw := string(bytes.Trim(data, `"`))
	v, err := ParseSnowflake(raw)
	if err != nil {
		return err
	}
	*s = v
	return nil
}
