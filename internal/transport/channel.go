// Package transport is the client side of the realtime event channel:
// a websocket connection with room join/leave commands and
// at-least-once delivery of message events.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"parley/internal/auth"
	"parley/internal/models"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound frame size
	maxMessageSize = 65536

	sendBufferSize = 64
)

var ErrClosed = errors.New("transport channel closed")

// Event is a realtime frame. Inbound frames carry delivered messages;
// outbound frames carry room commands and the sender's own broadcast.
type Event struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"roomId,omitempty"`
	Message *models.Message `json:"message,omitempty"`
}

// Frame types.
const (
	EventMessageDelivered = "messageDelivered"
	cmdJoinRoom           = "joinRoom"
	cmdLeaveRoom          = "leaveRoom"
)

// Handler receives delivered events on the read-pump goroutine, in
// delivery order.
type Handler func(Event)

// Channel is a live websocket connection to the realtime transport.
type Channel struct {
	conn *websocket.Conn
	send chan Event

	mu   sync.RWMutex
	subs map[*Subscription]struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the realtime transport, authorizing with the
// current credential when one is set.
func Dial(ctx context.Context, wsURL string, creds *auth.Store) (*Channel, error) {
	header := http.Header{}
	if creds != nil {
		if token, ok := creds.Token(); ok {
			header.Set("Authorization", "Bearer "+token)
		}
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing transport (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dialing transport: %w", err)
	}

	ch := &Channel{
		conn: conn,
		send: make(chan Event, sendBufferSize),
		subs: make(map[*Subscription]struct{}),
		done: make(chan struct{}),
	}
	go ch.readPump()
	go ch.writePump()
	return ch, nil
}

// Subscription is a handle for a registered handler. Cancel is
// idempotent; once it returns, the handler is unreachable.
type Subscription struct {
	ch      *Channel
	handler Handler
}

// Subscribe registers a handler for delivered events.
func (c *Channel) Subscribe(handler Handler) *Subscription {
	sub := &Subscription{ch: c, handler: handler}
	c.mu.Lock()
	c.subs[sub] = struct{}{}
	c.mu.Unlock()
	return sub
}

// Cancel invalidates the subscription. Dispatch holds the read lock
// while invoking handlers, so Cancel returning means no further calls
// can start; this does not rely on collection timing.
func (s *Subscription) Cancel() {
	s.ch.mu.Lock()
	delete(s.ch.subs, s)
	s.ch.mu.Unlock()
}

// Join subscribes the connection to a room's event stream.
func (c *Channel) Join(roomID string) error {
	return c.enqueue(Event{Type: cmdJoinRoom, RoomID: roomID})
}

// Leave unsubscribes from a room. Leaving a room that was never joined
// is harmless; the server treats it as a no-op.
func (c *Channel) Leave(roomID string) error {
	return c.enqueue(Event{Type: cmdLeaveRoom, RoomID: roomID})
}

// Emit broadcasts a delivery event carrying the given message. The
// server fans it out to every subscriber of the room, the sender
// included.
func (c *Channel) Emit(msg *models.Message) error {
	return c.enqueue(Event{Type: EventMessageDelivered, RoomID: msg.RoomID, Message: msg})
}

func (c *Channel) enqueue(ev Event) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case <-c.done:
		return ErrClosed
	case c.send <- ev:
		return nil
	}
}

// Close tears the connection down. Idempotent.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Done is closed when the channel terminates, from either side.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

func (c *Channel) readPump() {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var ev Event
		if err := c.conn.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.Warn("transport read failed", "component", "transport", "error", err)
			}
			return
		}
		if ev.Type != EventMessageDelivered || ev.Message == nil {
			continue
		}
		c.dispatch(ev)
	}
}

func (c *Channel) dispatch(ev Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for sub := range c.subs {
		sub.handler(ev)
	}
}

func (c *Channel) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case ev := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				slog.Warn("transport write failed", "component", "transport", "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
