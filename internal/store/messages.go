package store

import (
	"context"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/npezzotti/gochat-sync/internal/types"
)

// HistoryFetcher fetches one page of a room's history. An empty pageURL
// requests the newest page.
type HistoryFetcher interface {
	ListMessages(ctx context.Context, roomId int, pageURL string) (types.MessagePage, error)
}

// MessageStore is the ordered, deduplicated message log of the active room.
type MessageStore struct {
	log     *log.Logger
	fetcher HistoryFetcher

	mu       sync.RWMutex
	roomId   int
	messages []types.Message
	index    map[int]struct{}
	cursor   types.Cursor
	loading  bool
	// generation changes on every Reset so in-flight page loads for a
	// previous room are dropped.
	generation int
	localSeq   int
}

func NewMessageStore(l *log.Logger, f HistoryFetcher) *MessageStore {
	return &MessageStore{
		log:     l,
		fetcher: f,
		index:   make(map[int]struct{}),
	}
}

// Reset clears the store and points it at roomId.
func (s *MessageStore) Reset(roomId int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.roomId = roomId
	s.messages = nil
	s.index = make(map[int]struct{})
	s.cursor = types.Cursor{}
	s.loading = false
	s.generation++
}

func (s *MessageStore) RoomId() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomId
}

// LoadFirstPage resets the store for roomId and loads the newest page.
func (s *MessageStore) LoadFirstPage(ctx context.Context, roomId int) ([]types.Message, error) {
	s.Reset(roomId)

	s.mu.Lock()
	gen := s.generation
	s.loading = true
	s.mu.Unlock()

	page, err := s.fetcher.ListMessages(ctx, roomId, "")

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return nil, nil
	}
	s.loading = false
	if err != nil {
		return nil, fmt.Errorf("load first page: %w", err)
	}

	added := s.mergeHeadLocked(page.Results)
	s.cursor = page.Cursor
	s.log.Printf("loaded %d messages for room %d (total %d)", len(added), roomId, page.TotalCount)
	return added, nil
}

// LoadOlderPage fetches the next older page and merges it at the head. It is
// a no-op once history is exhausted or while another load is in flight.
func (s *MessageStore) LoadOlderPage(ctx context.Context) ([]types.Message, error) {
	s.mu.Lock()
	older := s.cursor.Older()
	if older == nil || s.loading {
		s.mu.Unlock()
		return nil, nil
	}
	s.loading = true
	gen := s.generation
	roomId := s.roomId
	s.mu.Unlock()

	page, err := s.fetcher.ListMessages(ctx, roomId, *older)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		s.log.Printf("dropping older page for room %d, room changed", roomId)
		return nil, nil
	}
	s.loading = false
	if err != nil {
		return nil, fmt.Errorf("load older page: %w", err)
	}

	added := s.mergeHeadLocked(page.Results)
	s.cursor = page.Cursor
	return added, nil
}

// mergeHeadLocked inserts a newest-first wire page, skipping ids already held.
func (s *MessageStore) mergeHeadLocked(page []types.Message) []types.Message {
	added := make([]types.Message, 0, len(page))
	for i := len(page) - 1; i >= 0; i-- {
		msg := page[i]
		if _, ok := s.index[msg.Id]; ok {
			continue
		}
		msg.RoomId = s.roomId
		added = append(added, msg)
	}

	if len(added) == 0 {
		return added
	}

	for _, msg := range added {
		s.index[msg.Id] = struct{}{}
	}
	s.messages = append(slices.Clone(added), s.messages...)
	slices.SortStableFunc(s.messages, compareMessages)
	return added
}

// IngestLive stores a message received on the room channel. It reports
// whether the message row was inserted or replaced an optimistic echo.
func (s *MessageStore) IngestLive(msg types.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.Id == 0 {
		msg.Id = s.nextLocalIdLocked()
	}
	msg.Local = false
	return s.upsertLocked(msg)
}

// IngestLocal stores an optimistic echo of a message this client created.
// A server copy with the same id always replaces it.
func (s *MessageStore) IngestLocal(msg types.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg.Local = true
	return s.upsertLocked(msg)
}

func (s *MessageStore) upsertLocked(msg types.Message) bool {
	if msg.RoomId != 0 && s.roomId != 0 && msg.RoomId != s.roomId {
		s.log.Printf("ignoring message %d for room %d, active room is %d", msg.Id, msg.RoomId, s.roomId)
		return false
	}
	msg.RoomId = s.roomId

	if _, ok := s.index[msg.Id]; ok {
		i := slices.IndexFunc(s.messages, func(m types.Message) bool { return m.Id == msg.Id })
		if i < 0 || msg.Local || !s.messages[i].Local {
			return false
		}

		s.messages = slices.Delete(s.messages, i, i+1)
		s.insertSortedLocked(msg)
		return true
	}

	s.index[msg.Id] = struct{}{}
	s.insertSortedLocked(msg)
	return true
}

func (s *MessageStore) insertSortedLocked(msg types.Message) {
	i, _ := slices.BinarySearchFunc(s.messages, msg, compareMessages)
	s.messages = slices.Insert(s.messages, i, msg)
}

// nextLocalIdLocked returns ids for notices the server did not number.
func (s *MessageStore) nextLocalIdLocked() int {
	s.localSeq--
	return s.localSeq
}

func (s *MessageStore) All() []types.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.messages)
}

func (s *MessageStore) Get(id int) (types.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := slices.IndexFunc(s.messages, func(m types.Message) bool { return m.Id == id })
	if i < 0 {
		return types.Message{}, false
	}
	return s.messages[i], true
}

func (s *MessageStore) Cursor() types.Cursor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursor
}

func (s *MessageStore) HasOlder() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursor.Older() != nil
}

func compareMessages(a, b types.Message) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}

	switch {
	case a.Id < b.Id:
		return -1
	case a.Id > b.Id:
		return 1
	}
	return 0
}

type DateGroup struct {
	Date     time.Time       `json:"date"`
	Messages []types.Message `json:"messages"`
}

// GroupByDate splits an ordered message sequence at calendar-day
// boundaries in loc.
func GroupByDate(msgs []types.Message, loc *time.Location) []DateGroup {
	if loc == nil {
		loc = time.UTC
	}

	var groups []DateGroup
	for _, m := range msgs {
		t := m.CreatedAt.In(loc)
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
		if n := len(groups); n > 0 && groups[n-1].Date.Equal(day) {
			groups[n-1].Messages = append(groups[n-1].Messages, m)
			continue
		}
		groups = append(groups, DateGroup{Date: day, Messages: []types.Message{m}})
	}

	return groups
}
