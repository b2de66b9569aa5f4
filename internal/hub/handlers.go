package hub

import (
	"context"
	"errors"
	"log/slog"

	"palaver/internal/wire"
)

// HandleJoin moves a connection into a channel and announces the change.
// The outbound order is part of the contract: presence for the vacated
// channel, presence for the new channel, the join notification (excluding
// the joiner), then occupancy counts to everyone.
func (h *Hub) HandleJoin(c *Conn, channelID int64) {
	prev, had := h.SetChannel(c, channelID)

	slog.Info("[HUB] Channel join", "conn", c.id, "user", c.identity.UserID, "channel", channelID)

	if had {
		h.BroadcastToChannel(prev, wire.PresenceUpdate{Users: h.OnlineUsers(prev)}, nil)
	}
	h.BroadcastToChannel(channelID, wire.PresenceUpdate{Users: h.OnlineUsers(channelID)}, nil)
	h.BroadcastToChannel(channelID, wire.UserJoined{Username: c.identity.Username}, c)
	h.BroadcastToAll(wire.ChannelCounts{Counts: h.ChannelCounts()})
}

// RelayNewMessage re-derives a just-persisted message from the store and
// broadcasts it to the announced channel. Every validation failure is a
// silent no-op: a stale id, a deleted row or a mismatched author/channel is
// an expected race or a spoof attempt, not an error to surface.
//
// The store load is the only suspension point; the connection's channel is
// checked before it and re-validated through the loaded row after it, so no
// lock spans the I/O.
func (h *Hub) RelayNewMessage(ctx context.Context, c *Conn, channelID, messageID int64) {
	current, ok := c.Channel()
	if !ok || current != channelID {
		slog.Debug("[HUB] Dropping relay for channel not joined", "conn", c.id, "channel", channelID)
		return
	}

	msg, err := h.store.MessageWithAuthor(ctx, messageID)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.Debug("[HUB] Dropping relay for unloadable message", "conn", c.id, "message", messageID, "error", err)
		}
		return
	}

	if msg.UserID != c.identity.UserID {
		slog.Warn("[HUB] Dropping relay for foreign message", "conn", c.id, "user", c.identity.UserID, "author", msg.UserID)
		return
	}
	if msg.ChannelID != channelID {
		slog.Debug("[HUB] Dropping relay for cross-channel message", "conn", c.id, "announced", channelID, "actual", msg.ChannelID)
		return
	}

	// the sender receives its own broadcast and dedupes by id
	h.BroadcastToChannel(channelID, wire.MessageNew{ChannelID: channelID, Message: msg}, nil)
}

// HandleTypingStart broadcasts a typing signal to the connection's channel
// and arms the expiry timer. A repeated start inside the active period only
// re-arms; no duplicate start is emitted.
func (h *Hub) HandleTypingStart(c *Conn) {
	channelID, ok := c.Channel()
	if !ok {
		return
	}

	fresh := h.typing.start(c, func(gen uint64) { h.typingExpired(c, gen) })
	if fresh {
		h.BroadcastToChannel(channelID, wire.TypingStarted{
			UserID:   c.identity.UserID,
			Username: c.identity.Username,
		}, c)
	}
}

// HandleTypingStop clears any armed expiry timer and broadcasts the stop.
func (h *Hub) HandleTypingStop(c *Conn) {
	channelID, ok := c.Channel()
	if !ok {
		return
	}

	h.typing.stop(c)
	h.BroadcastToChannel(channelID, wire.TypingStopped{UserID: c.identity.UserID}, c)
}

// typingExpired runs when a typing timer fires without an explicit stop.
func (h *Hub) typingExpired(c *Conn, gen uint64) {
	if !h.typing.expire(c, gen) {
		// superseded or torn down in the meantime
		return
	}

	channelID, ok := c.Channel()
	if !ok {
		return
	}
	h.BroadcastToChannel(channelID, wire.TypingStopped{UserID: c.identity.UserID}, c)
}
