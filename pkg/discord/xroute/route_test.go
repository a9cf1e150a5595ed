package xroute

import (
	"encoding/base64"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splatterxl/twilight/pkg/discord/xmodel"
)

func TestRoute_Path(t *testing.T) {
	tests := []struct {
		name  string
		route Route
		want  string
	}{
		{"gateway", GetGateway(), "/gateway"},
		{"create message", CreateMessage(123), "/channels/123/messages"},
		{"get message", GetMessage(1, 2), "/channels/1/messages/2"},
		{"reaction escaped", CreateReaction(1, 2, "name:99"), "/channels/1/messages/2/reactions/name:99/@me"},
		{"reaction unicode", CreateReaction(1, 2, "👍"), "/channels/1/messages/2/reactions/%F0%9F%91%8D/@me"},
		{"webhook", ExecuteWebhook(7, "tok/en"), "/webhooks/7/tok%2Fen"},
		{"query", GetMessages(5).WithQuery("limit", "50"), "/channels/5/messages?limit=50"},
		{"raw", Raw("get", "/channels/5/pins?after=1"), "/channels/5/pins?after=1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.route.Path())
		})
	}
}

func TestRoute_BucketKey(t *testing.T) {
	t.Run("minor params share a bucket", func(t *testing.T) {
		a := GetMessage(1, 100).BucketKey()
		b := GetMessage(1, 200).BucketKey()
		assert.Equal(t, a, b)
		assert.Equal(t, "GET /channels/1/messages/{message_id}", a)
	})

	t.Run("major params split buckets", func(t *testing.T) {
		assert.NotEqual(t, CreateMessage(1).BucketKey(), CreateMessage(2).BucketKey())
		assert.Equal(t, "POST /channels/1/messages", CreateMessage(1).BucketKey())
	})

	t.Run("method is part of the key", func(t *testing.T) {
		assert.NotEqual(t, GetMessage(1, 2).BucketKey(), DeleteMessage(1, 2).BucketKey())
	})

	t.Run("webhook token is major", func(t *testing.T) {
		assert.Equal(t, "POST /webhooks/7/abc", ExecuteWebhook(7, "abc").BucketKey())
	})

	t.Run("user id is minor", func(t *testing.T) {
		assert.Equal(t, "PUT /users/@me/relationships/{user_id}", CreateRelationship(42).BucketKey())
	})

	t.Run("query does not affect bucket", func(t *testing.T) {
		assert.Equal(t, GetMessages(5).BucketKey(), GetMessages(5).WithQuery("limit", "1").BucketKey())
	})
}

func TestRaw_BucketKeyNormalization(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/channels/1/messages/2", "GET /channels/1/messages/{id}"},
		{"/channels/1/messages/3?limit=2", "GET /channels/1/messages/{id}"},
		{"/guilds/9/members/8", "GET /guilds/9/members/{id}"},
		{"/webhooks/7/secret/messages/4", "GET /webhooks/7/secret/messages/{id}"},
		{"/channels/1/messages/2/reactions/x:1/@me", "GET /channels/1/messages/{id}/reactions/{emoji}/@me"},
		{"/users/@me", "GET /users/@me"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, Raw(http.MethodGet, tt.path).BucketKey())
		})
	}
}

func TestExternal(t *testing.T) {
	r, err := External("post", "https://example.com/api/v2/properties/web?channel=stable")
	require.NoError(t, err)
	assert.True(t, r.IsExternal())
	assert.Equal(t, http.MethodPost, r.Method())
	assert.Equal(t, "/api/v2/properties/web?channel=stable", r.Path())
	assert.Equal(t, "POST example.com/api/v2/properties/web", r.BucketKey())
	assert.Equal(t, "example.com", r.URL().Host)
	assert.False(t, CreateMessage(1).IsExternal())
	assert.Nil(t, CreateMessage(1).URL())

	_, err = External(http.MethodGet, "/relative")
	assert.Error(t, err)
	_, err = External(http.MethodGet, "://bad")
	assert.Error(t, err)
}

func TestRoute_SupportsAllowedMentions(t *testing.T) {
	assert.True(t, CreateMessage(1).SupportsAllowedMentions())
	assert.True(t, UpdateMessage(1, 2).SupportsAllowedMentions())
	assert.True(t, ExecuteWebhook(1, "t").SupportsAllowedMentions())
	assert.False(t, GetMessage(1, 2).SupportsAllowedMentions())
	assert.False(t, Raw(http.MethodPost, "/channels/1/messages").SupportsAllowedMentions())
}

func TestRoute_WithQueryDoesNotAlias(t *testing.T) {
	base := GetMessages(1).WithQuery("limit", "1")
	a := base.WithQuery("before", "5")
	assert.Equal(t, "/channels/1/messages?limit=1", base.Path())
	assert.Equal(t, "/channels/1/messages?before=5&limit=1", a.Path())
}

func TestRoute_Param(t *testing.T) {
	r := GetMessage(xmodel.Snowflake(10), xmodel.Snowflake(20))
	v, ok := r.Param("message_id")
	assert.True(t, ok)
	assert.Equal(t, "20", v)
	_, ok = r.Param("guild_id")
	assert.False(t, ok)
	assert.Equal(t, NameGetMessage, r.Name())
	assert.Equal(t, "/channels/{channel_id}/messages/{message_id}", r.Template())
}

func TestContextProperties(t *testing.T) {
	t.Run("known payloads", func(t *testing.T) {
		assert.Equal(t, "eyJsb2NhdGlvbiI6IkZyaWVuZHMifQ==", LocationFriends.Payload())
		assert.Equal(t, "eyJsb2NhdGlvbiI6IkNvbnRleHRNZW51In0=", LocationContextMenu.Payload())
		assert.Equal(t, "e30=", Location("").Payload())
	})

	t.Run("no candidates", func(t *testing.T) {
		assert.Empty(t, CreateMessage(1).ContextProperties())
	})

	t.Run("single candidate", func(t *testing.T) {
		got := SendFriendRequest().ContextProperties()
		raw, err := base64.StdEncoding.DecodeString(got)
		require.NoError(t, err)
		assert.JSONEq(t, `{"location":"Add Friend"}`, string(raw))
		assert.Equal(t, "e30=", AcceptInvite("abc").ContextProperties())
	})

	t.Run("uniform pick uses every candidate", func(t *testing.T) {
		r := CreateRelationship(1)
		candidates := r.ContextCandidates()
		require.Len(t, candidates, 3)
		for i, loc := range candidates {
			got := r.ContextPropertiesWith(func(n int) int {
				assert.Equal(t, len(candidates), n)
				return i
			})
			assert.Equal(t, loc.Payload(), got)
		}
	})

	t.Run("random pick stays within candidates", func(t *testing.T) {
		r := DeleteRelationship(1)
		allowed := make(map[string]bool)
		for _, loc := range r.ContextCandidates() {
			allowed[loc.Payload()] = true
		}
		for range 50 {
			assert.True(t, allowed[r.ContextProperties()])
		}
	})
}
