package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/npezzotti/gochat-sync/internal/api"
	"github.com/npezzotti/gochat-sync/internal/channel"
	"github.com/npezzotti/gochat-sync/internal/events"
	"github.com/npezzotti/gochat-sync/internal/presence"
	"github.com/npezzotti/gochat-sync/internal/reaction"
	"github.com/npezzotti/gochat-sync/internal/stats"
	"github.com/npezzotti/gochat-sync/internal/store"
	"github.com/npezzotti/gochat-sync/internal/types"
	"github.com/npezzotti/gochat-sync/internal/unread"
	"golang.org/x/time/rate"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomFull     = errors.New("room is full")
	ErrJoinFailed   = errors.New("failed to join room")
	ErrNoActiveRoom = errors.New("no active room")
	ErrNotLoggedIn  = errors.New("not logged in")
	ErrEmptyMessage = errors.New("message is empty")
)

const (
	roomPathPrefix = "ws/chat/"
	presencePath   = "ws/notifications/"
	roomPageSize   = 50
)

// SessionEnder clears persisted credentials when the server rejects them.
type SessionEnder interface {
	Expire(ctx context.Context)
}

type Options struct {
	// WSBaseURL is the origin channels are dialed against, e.g.
	// ws://localhost:8000/.
	WSBaseURL string
	Stats     stats.StatsProvider
	Ender     SessionEnder
	// Notify is called with a fresh snapshot after each applied change.
	Notify func(Snapshot)
	// RefreshEvery bounds how often unread snapshots are requested.
	RefreshEvery time.Duration
}

type kind int

const (
	roomConn kind = iota
	presenceConn
)

type frame struct {
	kind   kind
	gen    int
	roomId int
	raw    []byte
}

type closeNotice struct {
	kind kind
	gen  int
	err  error
}

// connHandler forwards one connection's frames into the controller loop,
// tagged with the generation and room it was opened under.
type connHandler struct {
	c      *Controller
	kind   kind
	gen    int
	roomId int
}

func (h *connHandler) HandleMessage(raw []byte) {
	select {
	case h.c.frames <- &frame{kind: h.kind, gen: h.gen, roomId: h.roomId, raw: raw}:
	case <-h.c.stop:
	}
}

func (h *connHandler) HandleClose(err error) {
	select {
	case h.c.closed <- &closeNotice{kind: h.kind, gen: h.gen, err: err}:
	case <-h.c.stop:
	}
}

// Controller owns the room and presence channels and routes their events
// into the message store, reaction aggregator and unread tracker.
type Controller struct {
	log    *log.Logger
	api    api.ChatAPI
	dialer channel.Dialer
	stats  stats.StatsProvider
	ender  SessionEnder
	notify func(Snapshot)
	wsBase *url.URL

	messages  *store.MessageStore
	unread    *unread.Tracker
	reactions *reaction.Aggregator
	rooms     *presence.RoomList
	presence  *presence.Handler

	// opLock serializes navigation and auth transitions.
	opLock sync.Mutex

	mu          sync.RWMutex
	user        *types.User
	activeRoom  *types.Room
	roomCh      channel.Channel
	roomGen     int
	presenceCh  channel.Channel
	presenceGen int
	announced   map[int]bool

	frames chan *frame
	closed chan *closeNotice
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func NewController(l *log.Logger, chatAPI api.ChatAPI, dialer channel.Dialer, opts Options) (*Controller, error) {
	base, err := url.Parse(opts.WSBaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse websocket url: %w", err)
	}
	if base.Scheme != "ws" && base.Scheme != "wss" {
		return nil, fmt.Errorf("websocket url must use ws or wss, got %q", base.Scheme)
	}
	if base.Path == "" || base.Path[len(base.Path)-1] != '/' {
		base.Path += "/"
	}

	st := opts.Stats
	if st == nil {
		st = stats.Nop{}
	}

	tracker := unread.NewTracker(l, chatAPI)
	rooms := presence.NewRoomList()

	var limiter *rate.Limiter
	if opts.RefreshEvery > 0 {
		limiter = rate.NewLimiter(rate.Every(opts.RefreshEvery), 1)
	}

	return &Controller{
		log:       l,
		api:       chatAPI,
		dialer:    dialer,
		stats:     st,
		ender:     opts.Ender,
		notify:    opts.Notify,
		wsBase:    base,
		messages:  store.NewMessageStore(l, chatAPI),
		unread:    tracker,
		reactions: reaction.NewAggregator(l),
		rooms:     rooms,
		presence:  presence.NewHandler(l, rooms, tracker, limiter),
		announced: make(map[int]bool),
		frames:    make(chan *frame, 256),
		closed:    make(chan *closeNotice, 8),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

// Run applies channel events until Shutdown. Events from connections that
// have since been closed or replaced are discarded.
func (c *Controller) Run() {
	defer close(c.done)

	for {
		select {
		case <-c.stop:
			return
		case f := <-c.frames:
			if !c.current(f.kind, f.gen) {
				c.stats.Incr(stats.DroppedEvents)
				continue
			}
			switch f.kind {
			case roomConn:
				c.handleRoomFrame(f.roomId, f.raw)
			case presenceConn:
				c.handlePresenceFrame(f.raw)
			}
			c.publish()
		case n := <-c.closed:
			c.handleClosed(n)
		}
	}
}

func (c *Controller) current(k kind, gen int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if k == roomConn {
		return gen == c.roomGen
	}
	return gen == c.presenceGen
}

// handleRoomFrame applies a frame from the channel of roomId. A navigation
// can land between the generation check and here, so frames for a room the
// store no longer holds are dropped, and messages carry roomId so the store
// rejects them if the switch happens later still.
func (c *Controller) handleRoomFrame(roomId int, raw []byte) {
	ev, err := events.DecodeRoomEvent(raw)
	if err != nil {
		c.log.Printf("room channel: %v", err)
		c.stats.Incr(stats.DroppedEvents)
		return
	}
	if roomId != c.messages.RoomId() {
		c.log.Printf("dropping event for room %d, active room is %d", roomId, c.messages.RoomId())
		c.stats.Incr(stats.DroppedEvents)
		return
	}
	c.stats.Incr(stats.RoomEvents)

	switch {
	case ev.Chat != nil:
		c.ingest(ev.Chat.ToMessage(roomId))
	case ev.File != nil:
		c.ingest(ev.File.ToMessage(roomId))
	case ev.System != nil:
		c.messages.IngestLive(ev.System.ToMessage(roomId))
	case ev.ReactionUpdate != nil:
		u := ev.ReactionUpdate
		c.reactions.ApplyRemoteBroadcast(u.MessageId, u.Counts, u.ReactionType)
	case ev.ReadCounts != nil:
		for _, rc := range ev.ReadCounts.Messages {
			c.unread.ApplyReadCountUpdate(rc.Id, rc.UnreadCount, rc.IsReadByAll)
		}
	}
}

func (c *Controller) ingest(msg types.Message) {
	c.messages.IngestLive(msg)
	if msg.RoomId != c.messages.RoomId() {
		return
	}
	c.seed(msg)
}

func (c *Controller) seed(msg types.Message) {
	c.reactions.Seed(msg.Id, msg.ReactionCounts, msg.MyReaction)
	c.unread.ApplyReadCountUpdate(msg.Id, msg.UnreadCount, msg.IsReadByAll)
}

func (c *Controller) handlePresenceFrame(raw []byte) {
	ev, err := events.DecodePresenceEvent(raw)
	if err != nil {
		c.log.Printf("presence channel: %v", err)
		c.stats.Incr(stats.DroppedEvents)
		return
	}
	c.stats.Incr(stats.PresenceEvents)
	c.presence.Handle(ev)
}

func (c *Controller) handleClosed(n *closeNotice) {
	c.mu.Lock()
	switch {
	case n.kind == roomConn && n.gen == c.roomGen && c.roomCh != nil:
		c.roomCh = nil
		c.log.Printf("room channel closed: %v", n.err)
	case n.kind == presenceConn && n.gen == c.presenceGen && c.presenceCh != nil:
		c.presenceCh = nil
		c.log.Printf("presence channel closed: %v", n.err)
	default:
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.stats.Decr(stats.OpenChannels)
	c.publish()
}

// Shutdown closes both channels and stops Run.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.opLock.Lock()
	c.closeRoomLocked(ctx, true)
	c.closePresenceLocked()
	c.opLock.Unlock()

	c.once.Do(func() { close(c.stop) })
	c.unread.Wait()

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnAuthChange opens a fresh presence channel for user, or tears the whole
// session down when user is nil.
func (c *Controller) OnAuthChange(ctx context.Context, user *types.User) error {
	c.opLock.Lock()
	defer c.opLock.Unlock()

	if user == nil {
		c.teardownLocked(ctx)
		return nil
	}

	c.mu.RLock()
	prev := c.user
	c.mu.RUnlock()
	if prev != nil && prev.Id != user.Id {
		c.teardownLocked(ctx)
	}

	c.closePresenceLocked()

	u := *user
	c.mu.Lock()
	c.user = &u
	c.presenceGen++
	gen := c.presenceGen
	c.mu.Unlock()

	ch, err := c.dialer.Dial(ctx, c.wsBase.JoinPath(presencePath).String(), &connHandler{c: c, kind: presenceConn, gen: gen})
	if err != nil {
		if errors.Is(err, channel.ErrNotAuthorized) {
			c.expireLocked(ctx)
			return fmt.Errorf("open presence channel: %w", api.ErrUnauthorized)
		}
		return fmt.Errorf("open presence channel: %w", err)
	}

	c.mu.Lock()
	c.presenceCh = ch
	c.mu.Unlock()
	c.stats.Incr(stats.OpenChannels)

	if err := c.refreshRoomsLocked(ctx); err != nil {
		return err
	}
	c.publish()
	return nil
}

func (c *Controller) roomURL(room types.Room) string {
	name := room.Name
	if name == "" {
		name = strconv.Itoa(room.Id)
	}
	return c.wsBase.JoinPath(roomPathPrefix, name).String() + "/"
}

// OpenRoom makes roomId the active room. It is a no-op when roomId is
// already open on a live channel. Any other open room is closed first, and
// the room channel is dialed only after the first history page is stored.
func (c *Controller) OpenRoom(ctx context.Context, roomId int) error {
	c.opLock.Lock()
	defer c.opLock.Unlock()

	c.mu.RLock()
	user := c.user
	open := c.activeRoom != nil && c.activeRoom.Id == roomId && c.roomCh != nil && c.roomCh.Connected()
	c.mu.RUnlock()

	if user == nil {
		return ErrNotLoggedIn
	}
	if open {
		return nil
	}

	c.closeRoomLocked(ctx, true)
	c.messages.Reset(roomId)

	join, err := c.api.JoinRoom(ctx, roomId)
	if err != nil {
		c.messages.Reset(0)
		return c.joinError(ctx, roomId, err)
	}

	room := join.Room
	if room.Id == 0 {
		room, _ = c.rooms.Room(roomId)
		room.Id = roomId
	}

	page, err := c.messages.LoadFirstPage(ctx, roomId)
	if err != nil {
		c.abortOpen(ctx, roomId)
		return c.checkAuthLocked(ctx, fmt.Errorf("open room %d: %w", roomId, err))
	}
	for _, msg := range page {
		c.seed(msg)
	}

	c.mu.Lock()
	c.roomGen++
	gen := c.roomGen
	c.mu.Unlock()

	ch, err := c.dialer.Dial(ctx, c.roomURL(room), &connHandler{c: c, kind: roomConn, gen: gen, roomId: roomId})
	if err != nil {
		c.abortOpen(ctx, roomId)
		if errors.Is(err, channel.ErrNotAuthorized) {
			c.expireLocked(ctx)
			return fmt.Errorf("open room channel: %w", api.ErrUnauthorized)
		}
		return fmt.Errorf("open room channel: %w", err)
	}

	c.mu.Lock()
	c.activeRoom = &room
	c.roomCh = ch
	firstEntry := join.IsFirst && !c.announced[roomId]
	if firstEntry {
		c.announced[roomId] = true
	}
	presenceCh := c.presenceCh
	c.mu.Unlock()
	c.stats.Incr(stats.OpenChannels)

	if firstEntry {
		if err := ch.Send(events.NewUserJoin(user.Username)); err != nil {
			c.log.Printf("announce join to room %d: %v", roomId, err)
		}
	}

	c.rooms.AddMyRoom(room)
	c.unread.MarkRead(ctx, roomId)
	if presenceCh != nil {
		c.presence.RequestRefresh(presenceCh)
	}

	c.log.Printf("opened room %d (%s)", roomId, room.Name)
	c.publish()
	return nil
}

func (c *Controller) joinError(ctx context.Context, roomId int, err error) error {
	var apiErr *api.ApiError
	switch {
	case errors.Is(err, api.ErrUnauthorized):
		c.expireLocked(ctx)
		return fmt.Errorf("join room %d: %w", roomId, err)
	case errors.Is(err, api.ErrNotFound):
		return fmt.Errorf("join room %d: %w", roomId, ErrRoomNotFound)
	case errors.Is(err, api.ErrBadRequest):
		return fmt.Errorf("join room %d: %w", roomId, ErrRoomFull)
	case errors.As(err, &apiErr):
		return fmt.Errorf("join room %d: %w: %s", roomId, ErrJoinFailed, apiErr.Error())
	}
	return fmt.Errorf("join room %d: %w: %v", roomId, ErrJoinFailed, err)
}

// abortOpen undoes a join whose activation could not complete.
func (c *Controller) abortOpen(ctx context.Context, roomId int) {
	c.messages.Reset(0)
	c.reactions.Reset()
	c.unread.ForgetMessages()
	if err := c.api.DisconnectRoom(ctx, roomId); err != nil {
		c.log.Printf("disconnect room %d: %v", roomId, err)
	}
}

// CloseRoom detaches from the active room. Membership is kept.
func (c *Controller) CloseRoom(ctx context.Context) error {
	c.opLock.Lock()
	defer c.opLock.Unlock()

	c.closeRoomLocked(ctx, true)
	c.publish()
	return nil
}

// closeRoomLocked closes the room channel and clears room state. With
// notify set the server is told about the disconnect, best effort.
func (c *Controller) closeRoomLocked(ctx context.Context, notify bool) {
	c.mu.Lock()
	ch, room := c.roomCh, c.activeRoom
	c.roomCh = nil
	c.activeRoom = nil
	c.roomGen++
	c.mu.Unlock()

	if room != nil && notify {
		if err := c.api.DisconnectRoom(ctx, room.Id); err != nil {
			c.log.Printf("disconnect room %d: %v", room.Id, err)
		}
	}
	if ch != nil {
		ch.Close()
		c.stats.Decr(stats.OpenChannels)
	}

	c.messages.Reset(0)
	c.reactions.Reset()
	c.unread.ForgetMessages()
}

func (c *Controller) closePresenceLocked() {
	c.mu.Lock()
	ch := c.presenceCh
	c.presenceCh = nil
	c.presenceGen++
	c.mu.Unlock()

	if ch != nil {
		ch.Close()
		c.stats.Decr(stats.OpenChannels)
	}
}

// LeaveRoom removes the user from the active room. The channel is torn down
// even when the leave request fails.
func (c *Controller) LeaveRoom(ctx context.Context) error {
	c.opLock.Lock()
	defer c.opLock.Unlock()

	c.mu.RLock()
	room, ch, user := c.activeRoom, c.roomCh, c.user
	c.mu.RUnlock()
	if room == nil {
		return ErrNoActiveRoom
	}

	if ch != nil && user != nil {
		if err := ch.Send(events.NewUserLeave(user.Username)); err != nil {
			c.log.Printf("announce leave from room %d: %v", room.Id, err)
		}
	}

	leaveErr := c.api.LeaveRoom(ctx, room.Id)

	c.closeRoomLocked(ctx, false)
	c.rooms.RemoveMyRoom(room.Id)

	c.mu.Lock()
	delete(c.announced, room.Id)
	c.mu.Unlock()

	c.publish()
	if leaveErr != nil {
		return c.checkAuthLocked(ctx, fmt.Errorf("leave room %d: %w", room.Id, leaveErr))
	}
	return nil
}

// SendText sends a chat message on the active room channel and marks the
// room read. The stored row arrives with the server's broadcast.
func (c *Controller) SendText(ctx context.Context, text string) error {
	if text == "" {
		return ErrEmptyMessage
	}

	c.mu.RLock()
	room, ch, user := c.activeRoom, c.roomCh, c.user
	c.mu.RUnlock()
	if room == nil || ch == nil || user == nil {
		return ErrNoActiveRoom
	}

	if err := ch.Send(events.NewText(user.Username, text)); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	c.stats.Incr(stats.MessagesSent)
	c.unread.MarkRead(ctx, room.Id)
	return nil
}

// UploadFile posts an attachment to the active room and stores the returned
// message as a local echo until the broadcast arrives.
func (c *Controller) UploadFile(ctx context.Context, name string, r io.Reader) (types.Message, error) {
	c.mu.RLock()
	room := c.activeRoom
	c.mu.RUnlock()
	if room == nil {
		return types.Message{}, ErrNoActiveRoom
	}

	msg, err := c.api.UploadFile(ctx, room.Id, name, r)
	if err != nil {
		return types.Message{}, c.checkAuth(ctx, fmt.Errorf("upload %s: %w", name, err))
	}

	if msg.RoomId == 0 {
		msg.RoomId = room.Id
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = events.Now()
	}
	if msg.Id != 0 && c.messages.IngestLocal(msg) {
		c.seed(msg)
	}
	c.stats.Incr(stats.MessagesSent)
	c.unread.MarkRead(ctx, room.Id)
	c.publish()
	return msg, nil
}

// ToggleReaction applies the viewer's reaction optimistically and reconciles
// it with the server's answer.
func (c *Controller) ToggleReaction(ctx context.Context, messageId int, kind types.ReactionKind) (reaction.State, error) {
	p, err := c.reactions.Toggle(messageId, kind)
	if err != nil {
		return reaction.State{}, err
	}
	c.stats.Incr(stats.ReactionToggles)
	c.publish()

	res, err := c.api.ToggleReaction(ctx, messageId, kind)
	if err != nil {
		if c.reactions.Reject(p) {
			c.stats.Incr(stats.ReactionRejected)
			c.publish()
		}
		return c.reactions.State(messageId), c.checkAuth(ctx, fmt.Errorf("toggle reaction: %w", err))
	}

	if c.reactions.ApplyServerUpdate(messageId, p.OpId, res.Counts, res.UserReaction) {
		c.publish()
	}
	return c.reactions.State(messageId), nil
}

// LoadOlder fetches one older history page for the active room.
func (c *Controller) LoadOlder(ctx context.Context) ([]types.Message, error) {
	c.mu.RLock()
	room := c.activeRoom
	c.mu.RUnlock()
	if room == nil {
		return nil, ErrNoActiveRoom
	}

	page, err := c.messages.LoadOlderPage(ctx)
	if err != nil {
		return nil, c.checkAuth(ctx, err)
	}
	for _, msg := range page {
		c.seed(msg)
	}
	if len(page) > 0 {
		c.publish()
	}
	return page, nil
}

// RefreshRooms reloads the full room list and the user's rooms.
func (c *Controller) RefreshRooms(ctx context.Context) error {
	c.opLock.Lock()
	defer c.opLock.Unlock()

	if err := c.refreshRoomsLocked(ctx); err != nil {
		return err
	}
	c.publish()
	return nil
}

func (c *Controller) refreshRoomsLocked(ctx context.Context) error {
	page, err := c.api.ListRooms(ctx, 1, roomPageSize)
	if err != nil {
		return c.checkAuthLocked(ctx, fmt.Errorf("list rooms: %w", err))
	}
	mine, err := c.api.MyRooms(ctx)
	if err != nil {
		return c.checkAuthLocked(ctx, fmt.Errorf("list my rooms: %w", err))
	}

	c.rooms.SetRooms(page.Rooms)
	c.rooms.SetMyRooms(mine)
	return nil
}

// CreateRoom validates and creates a room, adding it to both lists.
func (c *Controller) CreateRoom(ctx context.Context, params types.CreateRoomParams) (types.Room, error) {
	if err := ValidateRoomName(params.Name); err != nil {
		return types.Room{}, err
	}

	room, err := c.api.CreateRoom(ctx, params)
	if err != nil {
		return types.Room{}, c.checkAuth(ctx, fmt.Errorf("create room: %w", err))
	}

	c.rooms.AddRoom(room)
	c.rooms.AddMyRoom(room)
	c.publish()
	return room, nil
}

// DeleteRoom deletes a room the user created. Deleting the active room
// closes it first.
func (c *Controller) DeleteRoom(ctx context.Context, roomId int) error {
	c.opLock.Lock()
	defer c.opLock.Unlock()

	if err := c.api.DeleteRoom(ctx, roomId); err != nil {
		return c.checkAuthLocked(ctx, fmt.Errorf("delete room %d: %w", roomId, err))
	}

	c.mu.RLock()
	active := c.activeRoom != nil && c.activeRoom.Id == roomId
	c.mu.RUnlock()
	if active {
		c.closeRoomLocked(ctx, false)
	}

	c.rooms.RemoveRoom(roomId)
	c.publish()
	return nil
}

func (c *Controller) checkAuth(ctx context.Context, err error) error {
	if errors.Is(err, api.ErrUnauthorized) {
		c.opLock.Lock()
		c.expireLocked(ctx)
		c.opLock.Unlock()
	}
	return err
}

func (c *Controller) checkAuthLocked(ctx context.Context, err error) error {
	if errors.Is(err, api.ErrUnauthorized) {
		c.expireLocked(ctx)
	}
	return err
}

// expireLocked forces the logged-out state after the server rejected the
// session's credentials.
func (c *Controller) expireLocked(ctx context.Context) {
	c.log.Println("session credentials rejected, logging out")
	c.teardownLocked(ctx)
	if c.ender != nil {
		c.ender.Expire(ctx)
	}
	c.publish()
}

func (c *Controller) teardownLocked(ctx context.Context) {
	c.closeRoomLocked(ctx, false)
	c.closePresenceLocked()

	c.mu.Lock()
	c.user = nil
	c.announced = make(map[int]bool)
	c.mu.Unlock()

	c.rooms.Reset()
	c.unread.Reset()
}

func (c *Controller) publish() {
	if c.notify != nil {
		c.notify(c.Snapshot())
	}
}
