package ws

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"chat-relay/runtime"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	// writeWait bounds a single frame write to the peer.
	writeWait = 10 * time.Second

	// pongWait is how long a connection may stay silent before the read
	// side gives up on it; pings go out well inside that window.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var (
	errConnClosed     = errors.New("connection closed")
	errSendBufferFull = errors.New("send buffer full")
)

// Conn adapts one websocket to the event sink contract. All writes go
// through a buffered channel drained by a single writer goroutine, so a
// slow or stalled peer never blocks a broadcaster: once the buffer is
// full the frame is dropped and the caller told so.
type Conn struct {
	id      string
	ws      *websocket.Conn
	send    chan []byte
	inbound *rate.Limiter
	maxSize int64
	log     *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func newConn(ws *websocket.Conn, sendBuffer int, maxMessageSize int64, inbound *rate.Limiter, log *slog.Logger) *Conn {
	return &Conn{
		id:      uuid.NewString(),
		ws:      ws,
		send:    make(chan []byte, sendBuffer),
		inbound: inbound,
		maxSize: maxMessageSize,
		log:     log,
		done:    make(chan struct{}),
	}
}

func (c *Conn) ID() string {
	return c.id
}

// Consume enqueues one outbound frame. Non-blocking: a full buffer
// means the frame is dropped, not that the caller waits.
func (c *Conn) Consume(ctx context.Context, frame []byte) error {
	select {
	case <-c.done:
		return errConnClosed
	case <-ctx.Done():
		return ctx.Err()
	case c.send <- frame:
		return nil
	default:
		return errSendBufferFull
	}
}

// Close sends a close control frame with the given code and tears the
// connection down. Safe to call more than once.
func (c *Conn) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(code, reason)
		deadline := time.Now().Add(writeWait)
		if err := c.ws.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
			c.log.Debug("close frame write failed", "connection_id", c.id, "err", err)
		}
		_ = c.ws.Close()
	})
}

// writePump is the single writer for this connection. It drains the
// send buffer and keeps the peer alive with periodic pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close(websocket.CloseNormalClosure, "")
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// readPump reads frames sequentially and hands each to the router
// before reading the next, which is what gives one connection its
// strict event ordering. It returns when the peer goes away or stops
// answering pings.
func (c *Conn) readPump(ctx context.Context, s *runtime.Session, router *runtime.Router) {
	defer c.Close(websocket.CloseNormalClosure, "")

	c.ws.SetReadLimit(c.maxSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("unexpected close", "connection_id", c.id, "err", err)
			}
			return
		}

		// Inbound throttle. Offending frames are dropped without
		// dispatching; the connection itself survives.
		if c.inbound != nil && !c.inbound.Allow() {
			c.log.Debug("inbound frame throttled", "connection_id", c.id, "user_id", s.User.ID)
			continue
		}

		router.Dispatch(ctx, s, raw)
	}
}
