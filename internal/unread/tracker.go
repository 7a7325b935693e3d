package unread

import (
	"context"
	"log"
	"maps"
	"sync"
)

type ReadMarker interface {
	MarkRead(ctx context.Context, roomId int) error
}

type MessageState struct {
	UnreadCount int  `json:"unread_count"`
	IsReadByAll bool `json:"is_read_by_all"`
}

// Tracker keeps per-room unread totals and per-message read receipts.
type Tracker struct {
	log    *log.Logger
	marker ReadMarker

	mu       sync.RWMutex
	rooms    map[int]int
	messages map[int]MessageState
	wg       sync.WaitGroup
}

func NewTracker(l *log.Logger, m ReadMarker) *Tracker {
	return &Tracker{
		log:      l,
		marker:   m,
		rooms:    make(map[int]int),
		messages: make(map[int]MessageState),
	}
}

// MarkRead zeroes the local count for roomId and notifies the server in the
// background. A later presence snapshot may overwrite the local zero.
func (t *Tracker) MarkRead(ctx context.Context, roomId int) {
	t.mu.Lock()
	t.rooms[roomId] = 0
	t.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if err := t.marker.MarkRead(ctx, roomId); err != nil {
			t.log.Printf("mark room %d read: %v", roomId, err)
		}
	}()
}

// Wait blocks until in-flight mark-read requests finish.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

// ApplyRoomUnreadDelta sets the unread count for a single room.
func (t *Tracker) ApplyRoomUnreadDelta(roomId, count int) {
	if count < 0 {
		count = 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.rooms[roomId] = count
}

// ApplySnapshot replaces every room's unread count.
func (t *Tracker) ApplySnapshot(counts map[int]int) {
	next := make(map[int]int, len(counts))
	for id, n := range counts {
		if n < 0 {
			n = 0
		}
		next[id] = n
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.rooms = next
}

// ApplyReadCountUpdate merges a read receipt. Unread counts never grow back
// and IsReadByAll never reverts once set.
func (t *Tracker) ApplyReadCountUpdate(messageId, unreadCount int, isReadByAll bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if unreadCount < 0 {
		unreadCount = 0
	}

	st, ok := t.messages[messageId]
	if !ok {
		t.messages[messageId] = MessageState{UnreadCount: unreadCount, IsReadByAll: isReadByAll}
		return
	}

	if unreadCount < st.UnreadCount {
		st.UnreadCount = unreadCount
	}
	st.IsReadByAll = st.IsReadByAll || isReadByAll
	t.messages[messageId] = st
}

func (t *Tracker) RoomCount(roomId int) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rooms[roomId]
}

func (t *Tracker) Counts() map[int]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return maps.Clone(t.rooms)
}

func (t *Tracker) MessageState(messageId int) (MessageState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.messages[messageId]
	return st, ok
}

// ForgetMessages drops per-message state when the active room changes.
func (t *Tracker) ForgetMessages() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = make(map[int]MessageState)
}

// Reset drops all state, used on logout.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rooms = make(map[int]int)
	t.messages = make(map[int]MessageState)
}
