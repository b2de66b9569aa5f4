// Package state holds a client's local view of the chat: messages and
// channels merged from two independent write paths, a periodic snapshot
// fetch and individual push events, deduplicated by id.
package state

import (
	"sync"
	"time"

	"palaver/internal/models"
	"palaver/internal/store"
)

// Chat is the reconciled client view. All methods are safe for concurrent
// use by the transport's read loop and the UI loop.
type Chat struct {
	mu         sync.Mutex
	channelID  int64
	active     bool
	loading    bool
	channels   []models.Channel
	messages   []models.Message
	online     []models.OnlineUser
	counts     map[int64]int
	sysCounter int64

	typing *TypingTracker

	// onRedirect fires after a deleted active channel forced a local
	// switch to the reserved channel.
	onRedirect func(ch models.Channel)
}

// Option alters view construction defaults.
type Option interface {
	apply(*Chat)
}

type optionFunc func(c *Chat)

func (f optionFunc) apply(c *Chat) { f(c) }

// TypingTimeout overrides the display expiry of received typing signals.
func TypingTimeout(d time.Duration) Option {
	return optionFunc(func(c *Chat) {
		c.typing = NewTypingTracker(d)
	})
}

// OnRedirect registers the hook invoked when the view redirects itself out
// of a deleted channel. The consumer re-joins and re-fetches from there.
func OnRedirect(f func(ch models.Channel)) Option {
	return optionFunc(func(c *Chat) {
		c.onRedirect = f
	})
}

func New(opts ...Option) *Chat {
	c := &Chat{
		counts: make(map[int64]int),
		typing: NewTypingTracker(defaultTypingTimeout),
	}
	for _, opt := range opts {
		opt.apply(c)
	}
	return c
}

// SetChannel switches the active channel. The message collection is cleared
// and marked loading until the next fetch resolves; stale messages from the
// previous channel never mix with the new one. Re-setting the same channel
// is a no-op.
func (c *Chat) SetChannel(channelID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active && c.channelID == channelID {
		return
	}
	c.channelID = channelID
	c.active = true
	c.messages = nil
	c.loading = true
	c.typing.ClearAll()
}

// LeaveChannel clears the active channel and its messages.
func (c *Chat) LeaveChannel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.active = false
	c.messages = nil
	c.loading = false
	c.typing.ClearAll()
}

// ActiveChannel returns the current channel, if any.
func (c *Chat) ActiveChannel() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channelID, c.active
}

// Loading reports whether a fetch for the active channel is outstanding.
func (c *Chat) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// SetMessages merges a fetched snapshot into the view: snapshot items
// first, then any locally-held items the snapshot does not know about yet,
// in their existing relative order. A push that raced the fetch is never
// dropped.
func (c *Chat) SetMessages(fetched []models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fetchedIDs := make(map[int64]struct{}, len(fetched))
	for _, msg := range fetched {
		fetchedIDs[msg.ID] = struct{}{}
	}

	merged := append([]models.Message{}, fetched...)
	for _, msg := range c.messages {
		if _, ok := fetchedIDs[msg.ID]; !ok {
			merged = append(merged, msg)
		}
	}
	c.messages = merged
	c.loading = false
}

// AddMessage appends a pushed message. Adding an id the view already holds
// is a no-op, so the sender receiving its own broadcast is harmless.
func (c *Chat) AddMessage(msg models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, existing := range c.messages {
		if existing.ID == msg.ID {
			return
		}
	}
	c.messages = append(c.messages, msg)
}

// AddSystemMessage appends a locally generated notice. System messages get
// negative ids so they can never collide with a fetched row.
func (c *Chat) AddSystemMessage(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addSystemMessageLocked(text)
}

func (c *Chat) addSystemMessageLocked(text string) {
	c.sysCounter++
	c.messages = append(c.messages, models.Message{
		ID:        -c.sysCounter,
		UserID:    models.SystemUserID,
		Username:  "system",
		Content:   text,
		CreatedAt: time.Now(),
	})
}

// Messages returns a copy of the current message collection, oldest first.
func (c *Chat) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Message{}, c.messages...)
}

// SetChannels merges a fetched channel snapshot, retaining channels known
// only from push events.
func (c *Chat) SetChannels(fetched []models.Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fetchedIDs := make(map[int64]struct{}, len(fetched))
	for _, ch := range fetched {
		fetchedIDs[ch.ID] = struct{}{}
	}

	merged := append([]models.Channel{}, fetched...)
	for _, ch := range c.channels {
		if _, ok := fetchedIDs[ch.ID]; !ok {
			merged = append(merged, ch)
		}
	}
	c.channels = merged
}

// AddChannel appends a pushed channel record, idempotent by id.
func (c *Chat) AddChannel(ch models.Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, existing := range c.channels {
		if existing.ID == ch.ID {
			return
		}
	}
	c.channels = append(c.channels, ch)
}

// RemoveChannel drops a channel from the view. If it was the active one the
// view leaves it; the redirect decision belongs to removeAndRedirect.
func (c *Chat) RemoveChannel(channelID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeChannelLocked(channelID)
}

func (c *Chat) removeChannelLocked(channelID int64) {
	kept := c.channels[:0]
	for _, ch := range c.channels {
		if ch.ID != channelID {
			kept = append(kept, ch)
		}
	}
	c.channels = kept

	if c.active && c.channelID == channelID {
		c.active = false
		c.messages = nil
		c.loading = false
	}
}

// Channels returns a copy of the known channels.
func (c *Chat) Channels() []models.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Channel{}, c.channels...)
}

// ChannelByName finds a channel by its unique name.
func (c *Chat) ChannelByName(name string) (models.Channel, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ch := range c.channels {
		if ch.Name == name {
			return ch, true
		}
	}
	return models.Channel{}, false
}

// SetOnlineUsers replaces the presence snapshot of the active channel.
func (c *Chat) SetOnlineUsers(users []models.OnlineUser) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.online = append([]models.OnlineUser{}, users...)
}

// OnlineUsers returns a copy of the latest presence snapshot.
func (c *Chat) OnlineUsers() []models.OnlineUser {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.OnlineUser{}, c.online...)
}

// SetCounts replaces the per-channel occupancy counts.
func (c *Chat) SetCounts(counts map[int64]int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.counts = make(map[int64]int, len(counts))
	for id, n := range counts {
		c.counts[id] = n
	}
}

// Counts returns a copy of the per-channel occupancy counts.
func (c *Chat) Counts() map[int64]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[int64]int, len(c.counts))
	for id, n := range c.counts {
		out[id] = n
	}
	return out
}

// Typing exposes the tracker of received typing signals.
func (c *Chat) Typing() *TypingTracker {
	return c.typing
}

// removeAndRedirect handles a channel:deleted push: the channel leaves the
// list, and if it was the active one the view moves itself to the reserved
// channel and surfaces a notice. The server never forces this; it only
// announced the deletion.
func (c *Chat) removeAndRedirect(channelID int64) {
	c.mu.Lock()

	var deletedName string
	wasActive := c.active && c.channelID == channelID
	for _, ch := range c.channels {
		if ch.ID == channelID {
			deletedName = ch.Name
			break
		}
	}

	var general models.Channel
	var haveGeneral bool
	if wasActive {
		for _, ch := range c.channels {
			if ch.Name == store.GeneralChannel && ch.ID != channelID {
				general, haveGeneral = ch, true
				break
			}
		}
	}

	c.removeChannelLocked(channelID)

	if !wasActive || !haveGeneral {
		c.mu.Unlock()
		return
	}

	c.channelID = general.ID
	c.active = true
	c.messages = nil
	c.loading = true
	c.typing.ClearAll()
	if deletedName == "" {
		deletedName = "#unknown"
	}
	c.addSystemMessageLocked("You were moved from channel: " + deletedName + " because it was removed")
	redirect := c.onRedirect
	c.mu.Unlock()

	if redirect != nil {
		redirect(general)
	}
}
