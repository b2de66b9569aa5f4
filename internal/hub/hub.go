// Package hub is the real-time core: it tracks every live authenticated
// connection, fans events out to channels, derives presence from connection
// state and runs the message relay protocol.
package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"palaver/internal/models"
	"palaver/internal/wire"
)

// MessageLoader loads the authoritative message row for the relay protocol.
// Satisfied by *store.Store.
type MessageLoader interface {
	MessageWithAuthor(ctx context.Context, messageID int64) (models.Message, error)
}

const defaultTypingTimeout = 3 * time.Second

// Hub owns the connection registry. All registry reads and writes go through
// its mutex with short critical sections; the lock is never held across
// store I/O.
type Hub struct {
	mu    sync.RWMutex
	conns []*Conn // registration order, drives presence ordering

	store  MessageLoader
	secret []byte
	typing *typingTracker
}

// Option alters hub construction defaults.
type Option interface {
	apply(*Hub)
}

type optionFunc func(h *Hub)

func (f optionFunc) apply(h *Hub) { f(h) }

// TypingTimeout overrides the quiet period after which a typing signal
// auto-expires.
func TypingTimeout(d time.Duration) Option {
	return optionFunc(func(h *Hub) {
		h.typing.timeout = d
	})
}

// NewHub creates a hub that validates handshakes against secret and loads
// relayed messages through store.
func NewHub(store MessageLoader, secret []byte, opts ...Option) *Hub {
	h := &Hub{
		store:  store,
		secret: secret,
		typing: newTypingTracker(defaultTypingTimeout),
	}
	for _, opt := range opts {
		opt.apply(h)
	}
	return h
}

// Register admits an authenticated connection to the registry. The
// connection has no channel until a join is processed.
func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	h.conns = append(h.conns, c)
	total := len(h.conns)
	h.mu.Unlock()

	slog.Info("[HUB] Connection registered", "conn", c.id, "user", c.identity.UserID, "total", total)
}

// Unregister removes a connection and performs the disconnect sweep: the
// vacated channel gets a presence update and a synthetic typing stop, then
// every connection gets fresh occupancy counts.
func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	idx := -1
	for i, conn := range h.conns {
		if conn == c {
			idx = i
			break
		}
	}
	if idx < 0 {
		h.mu.Unlock()
		return
	}
	h.conns = append(h.conns[:idx], h.conns[idx+1:]...)
	c.closed = true
	close(c.send)
	channelID, hadChannel := c.channelID, c.hasChannel
	total := len(h.conns)
	h.mu.Unlock()

	h.typing.forget(c)

	slog.Info("[HUB] Connection unregistered", "conn", c.id, "user", c.identity.UserID, "total", total)

	if hadChannel {
		h.BroadcastToChannel(channelID, wire.PresenceUpdate{Users: h.OnlineUsers(channelID)}, nil)
		h.BroadcastToChannel(channelID, wire.TypingStopped{UserID: c.identity.UserID}, nil)
	}
	h.BroadcastToAll(wire.ChannelCounts{Counts: h.ChannelCounts()})
}

// SetChannel records the connection's new channel and returns the previous
// one so callers can notify the vacated channel.
func (h *Hub) SetChannel(c *Conn, channelID int64) (prev int64, had bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	prev, had = c.channelID, c.hasChannel
	c.channelID = channelID
	c.hasChannel = true
	return prev, had
}

// BroadcastToChannel sends an event to every open connection currently in
// the channel, skipping exclude. A connection that cannot accept the frame
// never aborts the rest of the fan-out.
func (h *Hub) BroadcastToChannel(channelID int64, ev wire.ServerEvent, exclude *Conn) {
	payload, err := wire.EncodeServer(ev)
	if err != nil {
		slog.Error("[HUB] Failed to encode broadcast event", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.conns {
		if c == exclude || c.closed || !c.hasChannel || c.channelID != channelID {
			continue
		}
		c.trySend(payload)
	}
}

// BroadcastToAll sends an event to every open connection regardless of
// channel. Used for channel lifecycle and occupancy updates.
func (h *Hub) BroadcastToAll(ev wire.ServerEvent) {
	payload, err := wire.EncodeServer(ev)
	if err != nil {
		slog.Error("[HUB] Failed to encode broadcast event", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.conns {
		if c.closed {
			continue
		}
		c.trySend(payload)
	}
}

// AnnounceChannelCreated relays a persisted channel record to everyone, so
// users can see channels they have not joined.
func (h *Hub) AnnounceChannelCreated(ch models.Channel) {
	h.BroadcastToAll(wire.ChannelCreated{Channel: ch})
}

// AnnounceChannelDeleted relays a channel deletion to everyone. Members of
// the deleted channel redirect themselves client-side.
func (h *Hub) AnnounceChannelDeleted(channelID int64) {
	h.BroadcastToAll(wire.ChannelDeleted{ChannelID: channelID})
}

// Shutdown cancels all typing timers and closes every live socket.
func (h *Hub) Shutdown() {
	h.typing.sweep()

	h.mu.RLock()
	conns := make([]*Conn, len(h.conns))
	copy(conns, h.conns)
	h.mu.RUnlock()

	for _, c := range conns {
		if c.ws != nil {
			if err := c.ws.Close(); err != nil {
				slog.Debug("[HUB] Error closing connection during shutdown", "conn", c.id, "error", err)
			}
		}
	}

	slog.Info("[HUB] Shutdown complete", "closed", len(conns))
}
