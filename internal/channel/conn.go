package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendQueueSize  = 64
)

var (
	ErrClosed         = errors.New("channel closed")
	ErrSendQueueFull  = errors.New("send queue full")
	ErrNotAuthorized  = errors.New("channel dial unauthorized")
	errNormalShutdown = errors.New("closed by client")
)

// Handler receives frames and the terminal close of one connection. Calls
// come from the connection's read goroutine.
type Handler interface {
	HandleMessage(raw []byte)
	HandleClose(err error)
}

// Channel is an open streaming connection.
type Channel interface {
	Send(v any) error
	Close() error
	Connected() bool
}

type Dialer interface {
	Dial(ctx context.Context, url string, h Handler) (Channel, error)
}

type TokenSource interface {
	AccessToken() string
}

// WebsocketDialer opens channels over gorilla websockets.
type WebsocketDialer struct {
	log    *log.Logger
	tokens TokenSource
	dialer *websocket.Dialer
}

func NewWebsocketDialer(l *log.Logger, tokens TokenSource) *WebsocketDialer {
	return &WebsocketDialer{
		log:    l,
		tokens: tokens,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

func (d *WebsocketDialer) Dial(ctx context.Context, url string, h Handler) (Channel, error) {
	header := http.Header{}
	if d.tokens != nil {
		if tok := d.tokens.AccessToken(); tok != "" {
			header.Set("Authorization", "Bearer "+tok)
		}
	}

	ws, resp, err := d.dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("dial %s: %w", url, ErrNotAuthorized)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := newConn(ws, h, d.log)
	go c.writePump()
	go c.readPump()
	return c, nil
}

// Conn is one websocket connection with its own read and write pumps.
type Conn struct {
	ws        *websocket.Conn
	handler   Handler
	log       *log.Logger
	send      chan []byte
	stop      chan struct{}
	closeOnce sync.Once
	connected atomic.Bool
	closeErr  error
}

func newConn(ws *websocket.Conn, h Handler, l *log.Logger) *Conn {
	c := &Conn{
		ws:      ws,
		handler: h,
		log:     l,
		send:    make(chan []byte, sendQueueSize),
		stop:    make(chan struct{}),
	}
	c.connected.Store(true)
	return c
}

func (c *Conn) Connected() bool {
	return c.connected.Load()
}

// Send queues v as a JSON text frame without blocking.
func (c *Conn) Send(v any) error {
	if !c.Connected() {
		return ErrClosed
	}

	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	select {
	case <-c.stop:
		return ErrClosed
	case c.send <- b:
		return nil
	default:
		c.log.Println("failed to queue frame, send queue is full")
		return ErrSendQueueFull
	}
}

// Close stops both pumps. The handler is not notified of a client-initiated
// close.
func (c *Conn) Close() error {
	c.shutdown(errNormalShutdown)
	return nil
}

func (c *Conn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.closeErr = err
		c.connected.Store(false)
		close(c.stop)
	})
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case b := <-c.send:
			if !c.write(websocket.TextMessage, b) {
				c.shutdown(errors.New("write failed"))
				return
			}
		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil) {
				c.shutdown(errors.New("ping failed"))
				return
			}
		case <-c.stop:
			if c.closeErr == errNormalShutdown {
				c.ws.SetWriteDeadline(time.Now().Add(writeWait))
				c.ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			}
			return
		}
	}
}

func (c *Conn) write(msgType int, b []byte) bool {
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.ws.WriteMessage(msgType, b); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("ws: write: %v", err)
		}
		return false
	}

	return true
}

func (c *Conn) readPump() {
	var readErr error
	defer func() {
		c.shutdown(readErr)
		c.ws.Close()
		if c.closeErr != errNormalShutdown {
			c.handler.HandleClose(c.closeErr)
		}
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error { c.ws.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			readErr = err
			return
		}

		select {
		case <-c.stop:
			return
		default:
		}

		c.handler.HandleMessage(raw)
	}
}
