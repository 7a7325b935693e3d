package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/npezzotti/gochat-sync/internal/api"
	"github.com/npezzotti/gochat-sync/internal/testutil"
	"github.com/npezzotti/gochat-sync/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func msgAt(id int) types.Message {
	return types.Message{
		Id:        id,
		Author:    "alice",
		Body:      "m",
		Type:      types.MessageTypeText,
		CreatedAt: base.Add(time.Duration(id) * time.Minute),
	}
}

// newestFirst builds a wire page holding ids hi down to lo.
func newestFirst(lo, hi int) []types.Message {
	var page []types.Message
	for id := hi; id >= lo; id-- {
		page = append(page, msgAt(id))
	}
	return page
}

func ids(msgs []types.Message) []int {
	out := make([]int, len(msgs))
	for i, m := range msgs {
		out[i] = m.Id
	}
	return out
}

func seq(lo, hi int) []int {
	var out []int
	for i := lo; i <= hi; i++ {
		out = append(out, i)
	}
	return out
}

func TestLoadFirstAndOlderPage(t *testing.T) {
	fetcher := &api.MockChatAPI{}
	defer fetcher.AssertExpectations(t)

	fetcher.On("ListMessages", mock.Anything, 3, "").Return(types.MessagePage{
		Cursor:  types.Cursor{Next: testutil.StrPtr("/api/rooms/3/messages/?page=2"), TotalCount: 61, PageSize: 31},
		Results: newestFirst(100, 130),
	}, nil).Once()
	fetcher.On("ListMessages", mock.Anything, 3, "/api/rooms/3/messages/?page=2").Return(types.MessagePage{
		Cursor:  types.Cursor{Previous: testutil.StrPtr("/api/rooms/3/messages/?page=1"), TotalCount: 61, PageSize: 31},
		Results: newestFirst(70, 99),
	}, nil).Once()

	s := NewMessageStore(testutil.TestLogger(t), fetcher)

	first, err := s.LoadFirstPage(context.Background(), 3)
	require.NoError(t, err)
	assert.Len(t, first, 31)
	assert.True(t, s.HasOlder(), "expected an older page to be available")

	older, err := s.LoadOlderPage(context.Background())
	require.NoError(t, err)
	assert.Len(t, older, 30)

	assert.Equal(t, seq(70, 130), ids(s.All()), "expected ascending gap-free sequence")
	assert.False(t, s.HasOlder(), "expected history to be exhausted")

	// past exhaustion is a no-op and does not hit the fetcher
	again, err := s.LoadOlderPage(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, again)
}

func TestLoadOlderPage_OverlapIsDeduplicated(t *testing.T) {
	fetcher := &api.MockChatAPI{}
	defer fetcher.AssertExpectations(t)

	fetcher.On("ListMessages", mock.Anything, 1, "").Return(types.MessagePage{
		Cursor:  types.Cursor{Next: testutil.StrPtr("p2")},
		Results: newestFirst(10, 20),
	}, nil).Once()
	fetcher.On("ListMessages", mock.Anything, 1, "p2").Return(types.MessagePage{
		Results: newestFirst(5, 12),
	}, nil).Once()

	s := NewMessageStore(testutil.TestLogger(t), fetcher)
	_, err := s.LoadFirstPage(context.Background(), 1)
	require.NoError(t, err)

	added, err := s.LoadOlderPage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, seq(5, 9), ids(added))
	assert.Equal(t, seq(5, 20), ids(s.All()))
}

func TestLoadFirstPage_Error(t *testing.T) {
	fetcher := &api.MockChatAPI{}
	defer fetcher.AssertExpectations(t)

	fetcher.On("ListMessages", mock.Anything, 1, "").Return(types.MessagePage{}, errors.New("boom")).Once()

	s := NewMessageStore(testutil.TestLogger(t), fetcher)
	_, err := s.LoadFirstPage(context.Background(), 1)
	assert.Error(t, err)
	assert.Empty(t, s.All())
	assert.False(t, s.HasOlder())
}

func TestLoadOlderPage_DroppedAfterReset(t *testing.T) {
	fetcher := &api.MockChatAPI{}
	defer fetcher.AssertExpectations(t)

	s := NewMessageStore(testutil.TestLogger(t), fetcher)

	fetcher.On("ListMessages", mock.Anything, 1, "").Return(types.MessagePage{
		Cursor:  types.Cursor{Next: testutil.StrPtr("p2")},
		Results: newestFirst(10, 20),
	}, nil).Once()
	fetcher.On("ListMessages", mock.Anything, 1, "p2").Run(func(mock.Arguments) {
		// the user navigates away while the page is in flight
		s.Reset(2)
	}).Return(types.MessagePage{Results: newestFirst(1, 9)}, nil).Once()

	_, err := s.LoadFirstPage(context.Background(), 1)
	require.NoError(t, err)

	added, err := s.LoadOlderPage(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, added)
	assert.Empty(t, s.All(), "expected stale page to be dropped")
	assert.Equal(t, 2, s.RoomId())
}

func TestIngestLive_Dedup(t *testing.T) {
	s := NewMessageStore(testutil.TestLogger(t), &api.MockChatAPI{})
	s.Reset(1)

	arrivals := []int{5, 3, 5, 9, 3, 3, 7, 9, 1}
	for _, id := range arrivals {
		s.IngestLive(msgAt(id))
	}

	assert.Equal(t, []int{1, 3, 5, 7, 9}, ids(s.All()), "expected one ordered entry per id")
}

func TestIngestLive_ReplacesLocalEcho(t *testing.T) {
	s := NewMessageStore(testutil.TestLogger(t), &api.MockChatAPI{})
	s.Reset(1)

	echo := msgAt(55)
	echo.Author = "me"
	assert.True(t, s.IngestLocal(echo))

	server := msgAt(55)
	server.Author = "bob"
	assert.True(t, s.IngestLive(server), "expected server copy to replace the echo")

	all := s.All()
	require.Len(t, all, 1)
	assert.Equal(t, "bob", all[0].Author)
	assert.False(t, all[0].Local)

	// a second server copy is a no-op for the row
	dup := msgAt(55)
	dup.Author = "mallory"
	assert.False(t, s.IngestLive(dup))
	m, ok := s.Get(55)
	require.True(t, ok)
	assert.Equal(t, "bob", m.Author)

	// an echo never overwrites the server copy
	assert.False(t, s.IngestLocal(echo))
}

func TestIngestLive_SystemNoticesWithoutId(t *testing.T) {
	s := NewMessageStore(testutil.TestLogger(t), &api.MockChatAPI{})
	s.Reset(1)

	s.IngestLive(types.Message{Type: types.MessageTypeSystem, Body: "a joined", CreatedAt: base})
	s.IngestLive(types.Message{Type: types.MessageTypeSystem, Body: "b joined", CreatedAt: base.Add(time.Second)})

	all := s.All()
	require.Len(t, all, 2)
	assert.Less(t, all[0].Id, 0)
	assert.NotEqual(t, all[0].Id, all[1].Id)
}

func TestIngestLive_OtherRoomIgnored(t *testing.T) {
	s := NewMessageStore(testutil.TestLogger(t), &api.MockChatAPI{})
	s.Reset(1)

	m := msgAt(4)
	m.RoomId = 2
	assert.False(t, s.IngestLive(m))
	assert.Empty(t, s.All())
}

func TestGroupByDate(t *testing.T) {
	day1 := time.Date(2024, 5, 1, 23, 30, 0, 0, time.UTC)
	msgs := []types.Message{
		{Id: 1, CreatedAt: day1},
		{Id: 2, CreatedAt: day1.Add(20 * time.Minute)},
		{Id: 3, CreatedAt: day1.Add(40 * time.Minute)},
		{Id: 4, CreatedAt: day1.Add(48 * time.Hour)},
	}

	groups := GroupByDate(msgs, time.UTC)
	require.Len(t, groups, 3)
	assert.Equal(t, []int{1, 2}, ids(groups[0].Messages))
	assert.Equal(t, []int{3}, ids(groups[1].Messages))
	assert.Equal(t, []int{4}, ids(groups[2].Messages))

	tokyo := time.FixedZone("JST", 9*60*60)
	groups = GroupByDate(msgs, tokyo)
	require.Len(t, groups, 2)
	assert.Equal(t, []int{1, 2, 3}, ids(groups[0].Messages))

	assert.Empty(t, GroupByDate(nil, nil))
}
