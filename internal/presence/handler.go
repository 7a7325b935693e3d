package presence

import (
	"log"

	"github.com/npezzotti/gochat-sync/internal/events"
	"golang.org/x/time/rate"
)

// UnreadSink receives room-level unread updates.
type UnreadSink interface {
	ApplyRoomUnreadDelta(roomId, count int)
	ApplySnapshot(counts map[int]int)
}

type Sender interface {
	Send(v any) error
}

// Handler applies presence channel events to the room list and the unread
// tracker.
type Handler struct {
	log     *log.Logger
	rooms   *RoomList
	unread  UnreadSink
	limiter *rate.Limiter
}

// NewHandler builds a Handler. A nil limiter allows one refresh request per
// second with a burst of one.
func NewHandler(l *log.Logger, rooms *RoomList, unread UnreadSink, limiter *rate.Limiter) *Handler {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Limit(1), 1)
	}

	return &Handler{
		log:     l,
		rooms:   rooms,
		unread:  unread,
		limiter: limiter,
	}
}

func (h *Handler) Handle(ev *events.PresenceEvent) {
	switch {
	case ev.UnreadCount != nil:
		h.unread.ApplyRoomUnreadDelta(ev.UnreadCount.RoomId, ev.UnreadCount.UnreadCount)
	case ev.AllUnread != nil:
		h.unread.ApplySnapshot(ev.AllUnread.UnreadCounts)
	case ev.RoomCreated != nil:
		room := ev.RoomCreated.Room
		if ev.RoomCreated.Deactivated {
			h.log.Printf("room %d deactivated", room.Id)
			h.rooms.RemoveRoom(room.Id)
			return
		}
		if !h.rooms.AddRoom(room) {
			h.log.Printf("room %d already listed", room.Id)
		}
	case ev.OnlineStats != nil:
		h.rooms.SetOnlineCount(ev.OnlineStats.OnlineUsers)
	case ev.MemberCount != nil:
		h.rooms.SetMemberCount(ev.MemberCount.RoomId, ev.MemberCount.MemberCount)
	default:
		h.log.Println("empty presence event")
	}
}

// RequestRefresh asks the server to resend the full unread snapshot. Calls
// beyond the limiter's rate are skipped and report false.
func (h *Handler) RequestRefresh(ch Sender) bool {
	if ch == nil || !h.limiter.Allow() {
		return false
	}

	if err := ch.Send(events.NewRefreshUnread()); err != nil {
		h.log.Printf("request unread refresh: %v", err)
		return false
	}
	return true
}
