package channel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/gochat-sync/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu       sync.Mutex
	frames   []string
	closed   chan error
	received chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		closed:   make(chan error, 1),
		received: make(chan struct{}, 16),
	}
}

func (h *recordingHandler) HandleMessage(raw []byte) {
	h.mu.Lock()
	h.frames = append(h.frames, string(raw))
	h.mu.Unlock()
	h.received <- struct{}{}
}

func (h *recordingHandler) HandleClose(err error) {
	h.closed <- err
}

func (h *recordingHandler) Frames() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.frames...)
}

type staticToken string

func (s staticToken) AccessToken() string { return string(s) }

var upgrader = websocket.Upgrader{}

// newEchoServer upgrades, records the Authorization header, and echoes
// every text frame back to the client.
func newEchoServer(t *testing.T, authHeader chan<- string) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if authHeader != nil {
			authHeader <- r.Header.Get("Authorization")
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		for {
			mt, b, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if err := ws.WriteMessage(mt, b); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDialSendsBearerAndEchoes(t *testing.T) {
	auth := make(chan string, 1)
	srv := newEchoServer(t, auth)
	h := newRecordingHandler()

	d := NewWebsocketDialer(testutil.TestLogger(t), staticToken("tok"))
	ch, err := d.Dial(context.Background(), wsURL(srv), h)
	require.NoError(t, err)
	defer ch.Close()

	assert.Equal(t, "Bearer tok", <-auth)
	assert.True(t, ch.Connected())

	require.NoError(t, ch.Send(map[string]string{"type": "text", "message": "hi"}))

	select {
	case <-h.received:
	case <-time.After(2 * time.Second):
		t.Fatal("expected echoed frame")
	}
	assert.JSONEq(t, `{"type":"text","message":"hi"}`, h.Frames()[0])
}

func TestCloseIsIdempotentAndSilent(t *testing.T) {
	srv := newEchoServer(t, nil)
	h := newRecordingHandler()

	d := NewWebsocketDialer(testutil.TestLogger(t), nil)
	ch, err := d.Dial(context.Background(), wsURL(srv), h)
	require.NoError(t, err)

	assert.NoError(t, ch.Close())
	assert.NoError(t, ch.Close())
	assert.False(t, ch.Connected())
	assert.ErrorIs(t, ch.Send("x"), ErrClosed)

	select {
	case err := <-h.closed:
		t.Fatalf("client close should not notify handler, got %v", err)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestServerCloseNotifiesHandler(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"))
		ws.Close()
	}))
	defer srv.Close()

	h := newRecordingHandler()
	d := NewWebsocketDialer(testutil.TestLogger(t), nil)
	ch, err := d.Dial(context.Background(), wsURL(srv), h)
	require.NoError(t, err)

	select {
	case err := <-h.closed:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("expected close notification")
	}
	assert.False(t, ch.Connected())
}

func TestDialUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	d := NewWebsocketDialer(testutil.TestLogger(t), staticToken("expired"))
	_, err := d.Dial(context.Background(), wsURL(srv), newRecordingHandler())
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestSendQueueFull(t *testing.T) {
	c := &Conn{
		log:  testutil.TestLogger(t),
		send: make(chan []byte, 1),
		stop: make(chan struct{}),
	}
	c.connected.Store(true)

	assert.NoError(t, c.Send("a"))
	assert.ErrorIs(t, c.Send("b"), ErrSendQueueFull)
}
