package types

import (
	"fmt"
	"time"
)

type User struct {
	Id       int    `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

type Room struct {
	Id          int       `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	MemberCount int       `json:"member_count"`
	MaxMembers  int       `json:"max_members"`
	Creator     string    `json:"creator,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UnreadCount int       `json:"unread_count"`
}

type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeFile   MessageType = "file"
	MessageTypeImage  MessageType = "image"
	MessageTypeSystem MessageType = "system"
)

type ReactionKind string

const (
	ReactionLike  ReactionKind = "like"
	ReactionGood  ReactionKind = "good"
	ReactionCheck ReactionKind = "check"
)

// ReactionKinds is the closed set of reactions a viewer may apply.
var ReactionKinds = []ReactionKind{ReactionLike, ReactionGood, ReactionCheck}

func ParseReactionKind(s string) (ReactionKind, error) {
	for _, k := range ReactionKinds {
		if string(k) == s {
			return k, nil
		}
	}

	return "", fmt.Errorf("invalid reaction kind %q", s)
}

type FileInfo struct {
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	Url     string `json:"url"`
	IsImage bool   `json:"is_image"`
}

type Message struct {
	Id             int                  `json:"id"`
	RoomId         int                  `json:"room_id"`
	UserId         int                  `json:"user_id,omitempty"`
	Author         string               `json:"author"`
	Body           string               `json:"content"`
	File           *FileInfo            `json:"file,omitempty"`
	Type           MessageType          `json:"message_type"`
	CreatedAt      time.Time            `json:"created_at"`
	UnreadCount    int                  `json:"unread_count"`
	IsReadByAll    bool                 `json:"is_read_by_all"`
	ReactionCounts map[ReactionKind]int `json:"reaction_counts,omitempty"`
	MyReaction     ReactionKind         `json:"my_reaction,omitempty"`
	// Local is set on optimistic echoes until the server copy arrives.
	Local bool `json:"-"`
}

// Cursor points into a single room's history. The history endpoint returns
// newest-first pages, so Next walks backwards in time.
type Cursor struct {
	Next       *string `json:"next"`
	Previous   *string `json:"previous"`
	TotalCount int     `json:"count"`
	PageSize   int     `json:"page_size"`
}

func (c Cursor) Older() *string {
	return c.Next
}

type MessagePage struct {
	Cursor
	Results []Message `json:"results"`
}

type RoomPage struct {
	Rooms   []Room `json:"rooms"`
	Page    int    `json:"page"`
	Limit   int    `json:"limit"`
	Total   int    `json:"total"`
	HasNext bool   `json:"has_next"`
}

type JoinResult struct {
	IsFirst bool `json:"is_first"`
	Room    Room `json:"room"`
}

type ReactionResult struct {
	MessageId    int                  `json:"message_id"`
	Counts       map[ReactionKind]int `json:"reaction_counts"`
	UserReaction ReactionKind         `json:"user_reaction"`
}

type CreateRoomParams struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	MaxMembers  int    `json:"max_members,omitempty"`
}

type Credentials struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type StoredSession struct {
	Credentials
	User      User      `json:"user"`
	UpdatedAt time.Time `json:"updated_at"`
}
