package state

import (
	"palaver/internal/wire"
)

// Apply routes one pushed server event into the view. The type switch is
// exhaustive over the server side of the protocol; wiring it to the
// transport is one OnMessage registration:
//
//	unsub := client.OnMessage(view.Apply)
func (c *Chat) Apply(ev wire.ServerEvent) {
	switch ev := ev.(type) {
	case wire.MessageNew:
		// messages for other channels are dropped, not buffered; the next
		// fetch for that channel is authoritative
		if channelID, ok := c.ActiveChannel(); ok && channelID == ev.ChannelID {
			c.AddMessage(ev.Message)
		}

	case wire.PresenceUpdate:
		c.SetOnlineUsers(ev.Users)

	case wire.ChannelCounts:
		c.SetCounts(ev.Counts)

	case wire.ChannelCreated:
		c.AddChannel(ev.Channel)

	case wire.ChannelDeleted:
		c.removeAndRedirect(ev.ChannelID)

	case wire.TypingStarted:
		c.typing.Start(ev.UserID, ev.Username)

	case wire.TypingStopped:
		c.typing.Stop(ev.UserID)

	case wire.UserJoined:
		c.AddSystemMessage(ev.Username + " has joined the chat")

	case wire.UserLeft:
		c.AddSystemMessage(ev.Username + " has left the channel")
	}
}
