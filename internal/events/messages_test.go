package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/npezzotti/gochat-sync/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRoomEvent(t *testing.T) {
	tcases := []struct {
		name  string
		raw   string
		check func(t *testing.T, ev *RoomEvent)
	}{
		{
			name: "chat",
			raw:  `{"type":"chat","message_id":55,"message":"hi","username":"bob","user_id":2,"unread_count":3,"is_read_by_all":false,"timestamp":"2024-05-01T10:00:00Z"}`,
			check: func(t *testing.T, ev *RoomEvent) {
				require.NotNil(t, ev.Chat, "expected chat variant")
				assert.Equal(t, 55, ev.Chat.MessageId)
				assert.Equal(t, "bob", ev.Chat.Username)
				assert.Equal(t, 3, ev.Chat.UnreadCount)
				assert.Nil(t, ev.File)
			},
		},
		{
			name: "file",
			raw:  `{"type":"file","message_id":7,"username":"amy","file":{"name":"a.png","size":12,"url":"/m/a.png","is_image":true}}`,
			check: func(t *testing.T, ev *RoomEvent) {
				require.NotNil(t, ev.File, "expected file variant")
				assert.Equal(t, "a.png", ev.File.File.Name)
				assert.True(t, ev.File.File.IsImage)
			},
		},
		{
			name: "system",
			raw:  `{"type":"system","message":"bob joined","username":"bob"}`,
			check: func(t *testing.T, ev *RoomEvent) {
				require.NotNil(t, ev.System, "expected system variant")
				assert.Equal(t, "bob joined", ev.System.Message)
			},
		},
		{
			name: "reaction update",
			raw:  `{"type":"reaction_update","message_id":9,"reaction_counts":{"like":2,"good":1},"reaction_type":"like"}`,
			check: func(t *testing.T, ev *RoomEvent) {
				require.NotNil(t, ev.ReactionUpdate, "expected reaction variant")
				assert.Equal(t, 2, ev.ReactionUpdate.Counts[types.ReactionLike])
				assert.Equal(t, types.ReactionLike, ev.ReactionUpdate.ReactionType)
			},
		},
		{
			name: "read counts",
			raw:  `{"type":"messages_read_count_update","messages":[{"id":1,"unread_count":0,"is_read_by_all":true}]}`,
			check: func(t *testing.T, ev *RoomEvent) {
				require.NotNil(t, ev.ReadCounts, "expected read count variant")
				require.Len(t, ev.ReadCounts.Messages, 1)
				assert.True(t, ev.ReadCounts.Messages[0].IsReadByAll)
			},
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := DecodeRoomEvent([]byte(tc.raw))
			require.NoError(t, err, "expected event to decode")
			tc.check(t, ev)
		})
	}
}

func TestDecodeRoomEvent_Errors(t *testing.T) {
	_, err := DecodeRoomEvent([]byte(`{"type":"bogus"}`))
	assert.ErrorIs(t, err, ErrUnknownEvent)

	_, err = DecodeRoomEvent([]byte(`not json`))
	assert.Error(t, err, "expected malformed frame to fail")

	_, err = DecodeRoomEvent([]byte(`{"type":"chat","message_id":"x"}`))
	assert.Error(t, err, "expected bad field type to fail")
}

func TestDecodePresenceEvent(t *testing.T) {
	ev, err := DecodePresenceEvent([]byte(`{"type":"all_unread_counts","unread_counts":{"3":2,"4":0}}`))
	require.NoError(t, err)
	require.NotNil(t, ev.AllUnread)
	assert.Equal(t, map[int]int{3: 2, 4: 0}, ev.AllUnread.UnreadCounts)

	ev, err = DecodePresenceEvent([]byte(`{"type":"room_created","room":{"id":9,"name":"go"},"deactivated":true}`))
	require.NoError(t, err)
	require.NotNil(t, ev.RoomCreated)
	assert.Equal(t, 9, ev.RoomCreated.Room.Id)
	assert.True(t, ev.RoomCreated.Deactivated)

	ev, err = DecodePresenceEvent([]byte(`{"type":"online_stats","online_users":12}`))
	require.NoError(t, err)
	require.NotNil(t, ev.OnlineStats)
	assert.Equal(t, 12, ev.OnlineStats.OnlineUsers)

	ev, err = DecodePresenceEvent([]byte(`{"type":"room_member_update","room_id":4,"member_count":8}`))
	require.NoError(t, err)
	require.NotNil(t, ev.MemberCount)
	assert.Equal(t, 8, ev.MemberCount.MemberCount)

	ev, err = DecodePresenceEvent([]byte(`{"type":"unread_count_update","room_id":4,"unread_count":1}`))
	require.NoError(t, err)
	require.NotNil(t, ev.UnreadCount)
	assert.Equal(t, 1, ev.UnreadCount.UnreadCount)

	_, err = DecodePresenceEvent([]byte(`{"type":"chat"}`))
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestToMessage(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	chat := &ChatMessage{MessageId: 55, Message: "hi", Username: "bob", Timestamp: ts}
	msg := chat.ToMessage(3)
	assert.Equal(t, 55, msg.Id)
	assert.Equal(t, 3, msg.RoomId)
	assert.Equal(t, types.MessageTypeText, msg.Type)
	assert.Equal(t, ts, msg.CreatedAt)

	file := &FileMessage{MessageId: 6, File: types.FileInfo{Name: "a.png", IsImage: true}}
	msg = file.ToMessage(3)
	assert.Equal(t, types.MessageTypeImage, msg.Type)
	require.NotNil(t, msg.File)
	assert.Equal(t, "a.png", msg.File.Name)

	sys := &SystemMessage{Message: "bob left"}
	msg = sys.ToMessage(3)
	assert.Equal(t, types.MessageTypeSystem, msg.Type)
	assert.False(t, msg.CreatedAt.IsZero(), "expected missing timestamp to default to now")
}

func TestOutboundFrames(t *testing.T) {
	tcases := []struct {
		name     string
		frame    any
		expected string
	}{
		{"text", NewText("bob", "hello"), `{"type":"text","message":"hello","username":"bob"}`},
		{"user join", NewUserJoin("bob"), `{"type":"user_join","username":"bob"}`},
		{"user leave", NewUserLeave("bob"), `{"type":"user_leave","username":"bob"}`},
		{"refresh", NewRefreshUnread(), `{"type":"refresh_unread_counts"}`},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := json.Marshal(tc.frame)
			assert.NoError(t, err)
			assert.JSONEq(t, tc.expected, string(b))
		})
	}
}
