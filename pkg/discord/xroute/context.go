package xroute

import (
	"encoding/base64"
	"encoding/json"
	"math/rand/v2"
)

// Location X-Context-Properties 中的 location 值。
type Location string

const (
	LocationFriends      Location = "Friends"
	LocationContextMenu  Location = "ContextMenu"
	LocationUserProfile  Location = "User Profile"
	LocationAddFriend    Location = "Add Friend"
	LocationGuildHeader  Location = "Guild Header"
	LocationDMChannel    Location = "DM Channel"
	LocationAddFriendsDM Location = "Add Friends to DM"
	LocationNewGroupDM   Location = "New Group DM"
)

// emptyContext {} 的 base64 编码，表示"有上下文但没有位置"。
const emptyContext = "e30="

// Payload 返回该位置的 X-Context-Properties 头值。
func (l Location) Payload() string {
	if l == "" {
		return emptyContext
	}
	data, err := json.Marshal(struct {
		Location Location `json:"location"`
	}{l})
	if err != nil {
		return emptyContext
	}
	return base64.StdEncoding.EncodeToString(data)
}

// contextTable 每个路由可能的上下文载荷；空 Location 表示发送 {}。
// 未出现在表中的路由不发送 X-Context-Properties。
var contextTable = map[Name][]Location{
	NameCreateRelationship:   {LocationFriends, LocationContextMenu, LocationUserProfile},
	NameDeleteRelationship:   {LocationFriends, LocationContextMenu, LocationUserProfile},
	NameSendFriendRequest:    {LocationAddFriend},
	NameCreatePrivateChannel: {LocationFriends, LocationContextMenu, LocationUserProfile, LocationDMChannel},
	NameAcceptInvite:         {""},
}

// ContextProperties 从路由的候选集合中均匀随机选一个载荷。
// 路由没有候选时返回空串。
func (r Route) ContextProperties() string {
	return r.ContextPropertiesWith(rand.IntN)
}

// ContextPropertiesWith 与 ContextProperties 相同，但由 pick 决定下标。
// pick(n) 必须返回 [0, n) 内的值。
func (r Route) ContextPropertiesWith(pick func(n int) int) string {
	candidates := contextTable[r.name]
	switch len(candidates) {
	case 0:
		return ""
	case 1:
		return candidates[0].Payload()
	}
	return candidates[pick(len(candidates))].Payload()
}

// ContextCandidates 返回路由的候选位置副本。
func (r Route) ContextCandidates() []Location {
	return append([]Location(nil), contextTable[r.name]...)
}
