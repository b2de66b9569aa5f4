package hub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"palaver/internal/models"
	"palaver/internal/wire"
)

func TestHandleJoinEventOrder(t *testing.T) {
	h, _ := newTestHub()
	oldPeer := addConn(h, 1, "alice")
	newPeer := addConn(h, 2, "bob")
	joiner := addConn(h, 3, "carol")
	h.SetChannel(oldPeer, 1)
	h.SetChannel(newPeer, 2)
	h.SetChannel(joiner, 1)
	drain(t, oldPeer)
	drain(t, newPeer)
	drain(t, joiner)

	h.HandleJoin(joiner, 2)

	// vacated channel: fresh presence, then counts
	oldEvents := drain(t, oldPeer)
	require.Len(t, oldEvents, 2)
	oldPresence, ok := oldEvents[0].(wire.PresenceUpdate)
	require.True(t, ok, "vacated channel must get presence first, got %T", oldEvents[0])
	require.Equal(t, []models.OnlineUser{{UserID: 1, Username: "alice"}}, oldPresence.Users)
	require.IsType(t, wire.ChannelCounts{}, oldEvents[1])

	// destination channel: presence, join notification, counts, in that order
	newEvents := drain(t, newPeer)
	require.Len(t, newEvents, 3)
	newPresence, ok := newEvents[0].(wire.PresenceUpdate)
	require.True(t, ok, "destination channel must get presence first, got %T", newEvents[0])
	require.Equal(t, []models.OnlineUser{
		{UserID: 2, Username: "bob"},
		{UserID: 3, Username: "carol"},
	}, newPresence.Users)
	require.Equal(t, wire.UserJoined{Username: "carol"}, newEvents[1])
	counts, ok := newEvents[2].(wire.ChannelCounts)
	require.True(t, ok, "counts must come last, got %T", newEvents[2])
	require.Equal(t, map[int64]int{1: 1, 2: 2}, counts.Counts)

	// the joiner sees the new presence and counts but not its own join
	joinerEvents := drain(t, joiner)
	require.Len(t, joinerEvents, 2)
	require.IsType(t, wire.PresenceUpdate{}, joinerEvents[0])
	require.IsType(t, wire.ChannelCounts{}, joinerEvents[1])
}

func TestHandleJoinFirstChannel(t *testing.T) {
	h, _ := newTestHub()
	joiner := addConn(h, 1, "alice")

	h.HandleJoin(joiner, 7)

	events := drain(t, joiner)
	require.Len(t, events, 2, "no vacated channel means presence plus counts only")
	presence, ok := events[0].(wire.PresenceUpdate)
	require.True(t, ok)
	require.Equal(t, []models.OnlineUser{{UserID: 1, Username: "alice"}}, presence.Users)
	counts, ok := events[1].(wire.ChannelCounts)
	require.True(t, ok)
	require.Equal(t, map[int64]int{7: 1}, counts.Counts)
}

func relayFixture(t *testing.T) (*Hub, *Conn, *Conn) {
	t.Helper()

	h, loader := newTestHub()
	loader.msgs[7] = models.Message{ID: 7, ChannelID: 3, UserID: 1, Username: "alice", Content: "hello"}

	sender := addConn(h, 1, "alice")
	peer := addConn(h, 2, "bob")
	h.SetChannel(sender, 3)
	h.SetChannel(peer, 3)
	drain(t, sender)
	drain(t, peer)
	return h, sender, peer
}

func TestRelayDeliversToChannelIncludingSender(t *testing.T) {
	h, sender, peer := relayFixture(t)

	h.RelayNewMessage(context.Background(), sender, 3, 7)

	want := wire.MessageNew{
		ChannelID: 3,
		Message:   models.Message{ID: 7, ChannelID: 3, UserID: 1, Username: "alice", Content: "hello"},
	}
	peerEvents := drain(t, peer)
	require.Len(t, peerEvents, 1)
	require.Equal(t, want, peerEvents[0])

	senderEvents := drain(t, sender)
	require.Len(t, senderEvents, 1, "sender receives its own broadcast and dedupes client-side")
	require.Equal(t, want, senderEvents[0])
}

func TestRelayDropsWhenSenderHasNoChannel(t *testing.T) {
	h, loader := newTestHub()
	loader.msgs[7] = models.Message{ID: 7, ChannelID: 3, UserID: 1}
	sender := addConn(h, 1, "alice")
	peer := addConn(h, 2, "bob")
	h.SetChannel(peer, 3)
	drain(t, peer)

	h.RelayNewMessage(context.Background(), sender, 3, 7)

	require.Empty(t, drain(t, peer))
}

func TestRelayDropsOnChannelMismatch(t *testing.T) {
	h, sender, peer := relayFixture(t)
	h.SetChannel(sender, 4)
	drain(t, peer)

	h.RelayNewMessage(context.Background(), sender, 3, 7)

	require.Empty(t, drain(t, peer))
}

func TestRelayDropsUnknownMessage(t *testing.T) {
	h, sender, peer := relayFixture(t)

	h.RelayNewMessage(context.Background(), sender, 3, 404)

	require.Empty(t, drain(t, peer))
}

func TestRelayDropsForeignMessage(t *testing.T) {
	h, sender, peer := relayFixture(t)

	// peer announces a message authored by sender
	h.RelayNewMessage(context.Background(), peer, 3, 7)

	require.Empty(t, drain(t, sender))
	require.Empty(t, drain(t, peer))
}

func TestRelayDropsWhenRowBelongsElsewhere(t *testing.T) {
	h, loader := newTestHub()
	loader.msgs[9] = models.Message{ID: 9, ChannelID: 3, UserID: 1, Username: "alice"}
	sender := addConn(h, 1, "alice")
	peer := addConn(h, 2, "bob")
	h.SetChannel(sender, 4)
	h.SetChannel(peer, 4)
	drain(t, sender)
	drain(t, peer)

	// announced channel matches the connection but not the persisted row
	h.RelayNewMessage(context.Background(), sender, 4, 9)

	require.Empty(t, drain(t, peer))
}
