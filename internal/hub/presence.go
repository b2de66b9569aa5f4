package hub

import "palaver/internal/models"

// Presence is always recomputed from live registry state. There is no
// cached count to drift; the O(connections) scan is the correctness
// baseline.

// OnlineUsers returns the distinct users with at least one open connection
// in the channel, ordered by first-seen connection.
func (h *Hub) OnlineUsers(channelID int64) []models.OnlineUser {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[int64]struct{})
	users := []models.OnlineUser{}
	for _, c := range h.conns {
		if c.closed || !c.hasChannel || c.channelID != channelID {
			continue
		}
		if _, ok := seen[c.identity.UserID]; ok {
			continue
		}
		seen[c.identity.UserID] = struct{}{}
		users = append(users, models.OnlineUser{
			UserID:   c.identity.UserID,
			Username: c.identity.Username,
		})
	}
	return users
}

// ChannelCounts maps each channel to its count of distinct present users.
// Connections that never joined a channel are excluded.
func (h *Hub) ChannelCounts() map[int64]int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	usersByChannel := make(map[int64]map[int64]struct{})
	for _, c := range h.conns {
		if c.closed || !c.hasChannel {
			continue
		}
		users, ok := usersByChannel[c.channelID]
		if !ok {
			users = make(map[int64]struct{})
			usersByChannel[c.channelID] = users
		}
		users[c.identity.UserID] = struct{}{}
	}

	counts := make(map[int64]int, len(usersByChannel))
	for channelID, users := range usersByChannel {
		counts[channelID] = len(users)
	}
	return counts
}
