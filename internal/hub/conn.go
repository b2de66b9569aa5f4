package hub

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"palaver/internal/models"
	"palaver/internal/wire"
)

const (
	// Time allowed to write a frame
	writeWait = 10 * time.Second

	// Time allowed between pongs
	pongWait = 60 * time.Second

	// Ping interval (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Max inbound frame size
	maxMessageSize = 4096

	sendBufferSize = 256

	// Inbound frame budget per connection
	frameRate  = 10
	frameBurst = 20
)

// Conn is one live authenticated socket. Its channel membership and closed
// flag are owned by the hub and guarded by the hub's mutex.
type Conn struct {
	id       string
	hub      *Hub
	ws       *websocket.Conn
	send     chan []byte
	identity models.Identity
	limiter  *rate.Limiter

	// guarded by hub.mu
	channelID  int64
	hasChannel bool
	closed     bool
}

func newConn(h *Hub, ws *websocket.Conn, identity models.Identity) *Conn {
	return &Conn{
		id:       uuid.NewString(),
		hub:      h,
		ws:       ws,
		send:     make(chan []byte, sendBufferSize),
		identity: identity,
		limiter:  rate.NewLimiter(rate.Limit(frameRate), frameBurst),
	}
}

// Identity returns the immutable identity attached at handshake time.
func (c *Conn) Identity() models.Identity {
	return c.identity
}

// Channel returns the connection's current channel, if one was joined.
func (c *Conn) Channel() (int64, bool) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	return c.channelID, c.hasChannel
}

// trySend queues a frame without blocking. Caller holds the hub lock, so a
// full buffer just drops the frame; the write pump tearing down will take
// the connection out of the registry.
func (c *Conn) trySend(payload []byte) {
	select {
	case c.send <- payload:
	default:
		slog.Warn("[HUB] Send buffer full, dropping frame", "conn", c.id, "user", c.identity.UserID)
	}
}

// readPump pumps frames from the socket into the hub until the connection
// dies. One malformed or over-budget frame never kills the connection.
func (c *Conn) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.Warn("[WS] Unexpected close", "conn", c.id, "user", c.identity.UserID, "error", err)
			}
			return
		}

		if !c.limiter.Allow() {
			slog.Warn("[WS] Rate limit exceeded, dropping frame", "conn", c.id, "user", c.identity.UserID)
			continue
		}

		c.dispatch(payload)
	}
}

// dispatch decodes one inbound frame and routes it. The type switch is
// exhaustive over the client side of the protocol.
func (c *Conn) dispatch(payload []byte) {
	ev, err := wire.DecodeClient(payload)
	if err != nil {
		slog.Error("[WS] Failed to parse client frame", "conn", c.id, "user", c.identity.UserID, "error", err)
		return
	}

	switch ev := ev.(type) {
	case wire.ChannelJoin:
		c.hub.HandleJoin(c, ev.ChannelID)
	case wire.MessageAnnounce:
		c.hub.RelayNewMessage(context.Background(), c, ev.ChannelID, ev.MessageID)
	case wire.TypingStart:
		c.hub.HandleTypingStart(c)
	case wire.TypingStop:
		c.hub.HandleTypingStop(c)
	}
}

// writePump pumps queued frames to the socket and keeps the connection
// alive with pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				slog.Debug("[WS] Write failed", "conn", c.id, "user", c.identity.UserID, "error", err)
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
