package session

import (
	"github.com/npezzotti/gochat-sync/internal/store"
	"github.com/npezzotti/gochat-sync/internal/types"
)

// Snapshot is the merged view handed to the presentation layer.
type Snapshot struct {
	User              *types.User       `json:"user"`
	Rooms             []types.Room      `json:"rooms"`
	MyRooms           []types.Room      `json:"my_rooms"`
	OnlineUsers       int               `json:"online_users"`
	ActiveRoom        *types.Room       `json:"active_room"`
	RoomConnected     bool              `json:"room_connected"`
	PresenceConnected bool              `json:"presence_connected"`
	Messages          []types.Message   `json:"messages"`
	Groups            []store.DateGroup `json:"groups"`
	HasOlder          bool              `json:"has_older"`
}

// Snapshot merges unread counts and reactions into copies of the room list
// and the active room's messages.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	snap := Snapshot{
		RoomConnected:     c.roomCh != nil && c.roomCh.Connected(),
		PresenceConnected: c.presenceCh != nil && c.presenceCh.Connected(),
	}
	if c.user != nil {
		u := *c.user
		snap.User = &u
	}
	if c.activeRoom != nil {
		r := *c.activeRoom
		snap.ActiveRoom = &r
	}
	c.mu.RUnlock()

	counts := c.unread.Counts()
	snap.Rooms = withUnread(c.rooms.Rooms(), counts)
	snap.MyRooms = withUnread(c.rooms.MyRooms(), counts)
	snap.OnlineUsers = c.rooms.OnlineCount()
	if snap.ActiveRoom != nil {
		snap.ActiveRoom.UnreadCount = counts[snap.ActiveRoom.Id]
	}

	if snap.ActiveRoom == nil {
		return snap
	}

	msgs := c.messages.All()
	for i := range msgs {
		m := &msgs[i]
		rs := c.reactions.State(m.Id)
		m.ReactionCounts = rs.Counts
		m.MyReaction = rs.Mine
		if st, ok := c.unread.MessageState(m.Id); ok {
			m.UnreadCount = st.UnreadCount
			m.IsReadByAll = st.IsReadByAll
		}
	}
	snap.Messages = msgs
	snap.Groups = store.GroupByDate(msgs, nil)
	snap.HasOlder = c.messages.HasOlder()
	return snap
}

func withUnread(rooms []types.Room, counts map[int]int) []types.Room {
	for i := range rooms {
		if n, ok := counts[rooms[i].Id]; ok {
			rooms[i].UnreadCount = n
		}
	}
	return rooms
}
