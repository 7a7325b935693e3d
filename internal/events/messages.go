package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/npezzotti/gochat-sync/internal/types"
)

var ErrUnknownEvent = errors.New("unknown event type")

// Room channel event types.
const (
	TypeChat              = "chat"
	TypeFile              = "file"
	TypeSystem            = "system"
	TypeReactionUpdate    = "reaction_update"
	TypeReadCountUpdate   = "messages_read_count_update"
	TypeText              = "text"
	TypeUserJoin          = "user_join"
	TypeUserLeave         = "user_leave"
	TypeUnreadCountUpdate = "unread_count_update"
	TypeAllUnreadCounts   = "all_unread_counts"
	TypeRoomCreated       = "room_created"
	TypeOnlineStats       = "online_stats"
	TypeRoomMemberUpdate  = "room_member_update"
	TypeRefreshUnread     = "refresh_unread_counts"
)

type envelope struct {
	Type string `json:"type"`
}

// RoomEvent is a frame received on a room channel. Exactly one field is set.
type RoomEvent struct {
	Chat           *ChatMessage
	File           *FileMessage
	System         *SystemMessage
	ReactionUpdate *ReactionUpdate
	ReadCounts     *ReadCountUpdate
}

type ChatMessage struct {
	MessageId   int       `json:"message_id"`
	Message     string    `json:"message"`
	Username    string    `json:"username"`
	UserId      int       `json:"user_id"`
	UnreadCount int       `json:"unread_count"`
	IsReadByAll bool      `json:"is_read_by_all"`
	Timestamp   time.Time `json:"timestamp"`
}

type FileMessage struct {
	MessageId   int            `json:"message_id"`
	Username    string         `json:"username"`
	UserId      int            `json:"user_id"`
	File        types.FileInfo `json:"file"`
	Message     string         `json:"message"`
	UnreadCount int            `json:"unread_count"`
	IsReadByAll bool           `json:"is_read_by_all"`
	Timestamp   time.Time      `json:"timestamp"`
}

type SystemMessage struct {
	MessageId int       `json:"message_id,omitempty"`
	Message   string    `json:"message"`
	Username  string    `json:"username"`
	Timestamp time.Time `json:"timestamp"`
}

type ReactionUpdate struct {
	MessageId    int                        `json:"message_id"`
	Counts       map[types.ReactionKind]int `json:"reaction_counts"`
	ReactionType types.ReactionKind         `json:"reaction_type"`
	Username     string                     `json:"username"`
}

type ReadCount struct {
	Id          int  `json:"id"`
	UnreadCount int  `json:"unread_count"`
	IsReadByAll bool `json:"is_read_by_all"`
}

type ReadCountUpdate struct {
	Messages []ReadCount `json:"messages"`
}

// PresenceEvent is a frame received on the presence channel. Exactly one
// field is set.
type PresenceEvent struct {
	UnreadCount *UnreadCountUpdate
	AllUnread   *AllUnreadCounts
	RoomCreated *RoomCreated
	OnlineStats *OnlineStats
	MemberCount *RoomMemberUpdate
}

type UnreadCountUpdate struct {
	RoomId      int `json:"room_id"`
	UnreadCount int `json:"unread_count"`
}

type AllUnreadCounts struct {
	UnreadCounts map[int]int `json:"unread_counts"`
}

type RoomCreated struct {
	Room        types.Room `json:"room"`
	Deactivated bool       `json:"deactivated"`
}

type OnlineStats struct {
	OnlineUsers int `json:"online_users"`
}

type RoomMemberUpdate struct {
	RoomId      int `json:"room_id"`
	MemberCount int `json:"member_count"`
}

func decodeInto(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}

	return nil
}

func eventType(raw []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("decode envelope: %w", err)
	}

	return env.Type, nil
}

func DecodeRoomEvent(raw []byte) (*RoomEvent, error) {
	typ, err := eventType(raw)
	if err != nil {
		return nil, err
	}

	var ev RoomEvent
	switch typ {
	case TypeChat:
		ev.Chat = &ChatMessage{}
		err = decodeInto(raw, ev.Chat)
	case TypeFile:
		ev.File = &FileMessage{}
		err = decodeInto(raw, ev.File)
	case TypeSystem:
		ev.System = &SystemMessage{}
		err = decodeInto(raw, ev.System)
	case TypeReactionUpdate:
		ev.ReactionUpdate = &ReactionUpdate{}
		err = decodeInto(raw, ev.ReactionUpdate)
	case TypeReadCountUpdate:
		ev.ReadCounts = &ReadCountUpdate{}
		err = decodeInto(raw, ev.ReadCounts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, typ)
	}

	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func DecodePresenceEvent(raw []byte) (*PresenceEvent, error) {
	typ, err := eventType(raw)
	if err != nil {
		return nil, err
	}

	var ev PresenceEvent
	switch typ {
	case TypeUnreadCountUpdate:
		ev.UnreadCount = &UnreadCountUpdate{}
		err = decodeInto(raw, ev.UnreadCount)
	case TypeAllUnreadCounts:
		ev.AllUnread = &AllUnreadCounts{}
		err = decodeInto(raw, ev.AllUnread)
	case TypeRoomCreated:
		ev.RoomCreated = &RoomCreated{}
		err = decodeInto(raw, ev.RoomCreated)
	case TypeOnlineStats:
		ev.OnlineStats = &OnlineStats{}
		err = decodeInto(raw, ev.OnlineStats)
	case TypeRoomMemberUpdate:
		ev.MemberCount = &RoomMemberUpdate{}
		err = decodeInto(raw, ev.MemberCount)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, typ)
	}

	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// ToMessage converts a chat broadcast into a stored message for roomId.
func (m *ChatMessage) ToMessage(roomId int) types.Message {
	return types.Message{
		Id:          m.MessageId,
		RoomId:      roomId,
		UserId:      m.UserId,
		Author:      m.Username,
		Body:        m.Message,
		Type:        types.MessageTypeText,
		CreatedAt:   orNow(m.Timestamp),
		UnreadCount: m.UnreadCount,
		IsReadByAll: m.IsReadByAll,
	}
}

func (m *FileMessage) ToMessage(roomId int) types.Message {
	typ := types.MessageTypeFile
	if m.File.IsImage {
		typ = types.MessageTypeImage
	}

	file := m.File
	return types.Message{
		Id:          m.MessageId,
		RoomId:      roomId,
		UserId:      m.UserId,
		Author:      m.Username,
		Body:        m.Message,
		File:        &file,
		Type:        typ,
		CreatedAt:   orNow(m.Timestamp),
		UnreadCount: m.UnreadCount,
		IsReadByAll: m.IsReadByAll,
	}
}

func (m *SystemMessage) ToMessage(roomId int) types.Message {
	return types.Message{
		Id:          m.MessageId,
		RoomId:      roomId,
		Author:      m.Username,
		Body:        m.Message,
		Type:        types.MessageTypeSystem,
		CreatedAt:   orNow(m.Timestamp),
		IsReadByAll: true,
	}
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return Now()
	}
	return t
}

// Outbound frames.

type TextMessage struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	Username string `json:"username"`
}

type UserNotice struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

type RefreshRequest struct {
	Type string `json:"type"`
}

func NewText(username, message string) *TextMessage {
	return &TextMessage{Type: TypeText, Message: message, Username: username}
}

func NewUserJoin(username string) *UserNotice {
	return &UserNotice{Type: TypeUserJoin, Username: username}
}

func NewUserLeave(username string) *UserNotice {
	return &UserNotice{Type: TypeUserLeave, Username: username}
}

func NewRefreshUnread() *RefreshRequest {
	return &RefreshRequest{Type: TypeRefreshUnread}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
