// Package models defines the records shared between the store, the hub and
// both sides of the wire protocol.
package models

import "time"

// SystemUserID is the author id used for locally generated system notices.
// It never collides with a real user id.
const SystemUserID int64 = -1

// Identity is the verified (user id, username) pair attached to a connection
// at handshake time. It is immutable for the lifetime of the connection.
type Identity struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
}

// Message is a durable chat message together with its author's display name.
type Message struct {
	ID        int64     `json:"id"`
	ChannelID int64     `json:"channelId"`
	UserID    int64     `json:"userId"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Channel is a named durable topic. CreatedBy is nil for the bootstrap
// channel, which has no creator.
type Channel struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedBy *int64    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

// OnlineUser is one entry of a presence snapshot.
type OnlineUser struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
}
