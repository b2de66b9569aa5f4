// Package wire defines the JSON wire protocol: one event per frame, tagged
// with a "type" field. Each direction is a closed set of Go types so that
// dispatch is an exhaustive type switch rather than string-keyed branching.
package wire

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/valyala/fastjson"

	"palaver/internal/models"
)

// Event type tags as they appear on the wire.
const (
	TypeChannelJoin    = "channel:join"
	TypeMessageNew     = "message:new"
	TypeTypingStart    = "typing:start"
	TypeTypingStop     = "typing:stop"
	TypePresenceUpdate = "presence:update"
	TypeChannelCounts  = "channel:counts"
	TypeUserJoined     = "user:joined"
	TypeUserLeft       = "user:left"
	TypeChannelCreated = "channel:created"
	TypeChannelDeleted = "channel:deleted"
)

// ClientEvent is a frame sent from a client to the server.
type ClientEvent interface {
	clientType() string
}

// ServerEvent is a frame pushed from the server to clients.
type ServerEvent interface {
	serverType() string
}

// ChannelJoin asks the server to move the connection into a channel.
type ChannelJoin struct {
	ChannelID int64 `json:"channelId"`
}

// MessageAnnounce points the server at a freshly persisted message id so it
// can be re-read and broadcast. It carries no content on purpose: the row in
// the store is the only trusted source.
type MessageAnnounce struct {
	ChannelID int64 `json:"channelId"`
	MessageID int64 `json:"messageId"`
}

// TypingStart signals that the sender started typing in its current channel.
type TypingStart struct{}

// TypingStop signals that the sender stopped typing.
type TypingStop struct{}

func (ChannelJoin) clientType() string     { return TypeChannelJoin }
func (MessageAnnounce) clientType() string { return TypeMessageNew }
func (TypingStart) clientType() string     { return TypeTypingStart }
func (TypingStop) clientType() string      { return TypeTypingStop }

// MessageNew carries a full, authoritative message row to channel members.
type MessageNew struct {
	ChannelID int64          `json:"channelId"`
	Message   models.Message `json:"message"`
}

// PresenceUpdate is the recomputed online-user list of one channel.
type PresenceUpdate struct {
	Users []models.OnlineUser `json:"users"`
}

// ChannelCounts maps channel id to the number of distinct present users.
type ChannelCounts struct {
	Counts map[int64]int `json:"counts"`
}

// TypingStarted tells channel members that a user started typing.
type TypingStarted struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
}

// TypingStopped tells channel members that a user stopped typing.
type TypingStopped struct {
	UserID int64 `json:"userId"`
}

// UserJoined is the system notification sent to a channel when a user joins.
type UserJoined struct {
	Username string `json:"username"`
}

// UserLeft is the system notification sent to a channel when a user leaves.
type UserLeft struct {
	Username string `json:"username"`
}

// ChannelCreated announces a new channel record to every connection.
type ChannelCreated struct {
	Channel models.Channel `json:"channel"`
}

// ChannelDeleted announces a deleted channel id to every connection.
type ChannelDeleted struct {
	ChannelID int64 `json:"channelId"`
}

func (MessageNew) serverType() string     { return TypeMessageNew }
func (PresenceUpdate) serverType() string { return TypePresenceUpdate }
func (ChannelCounts) serverType() string  { return TypeChannelCounts }
func (TypingStarted) serverType() string  { return TypeTypingStart }
func (TypingStopped) serverType() string  { return TypeTypingStop }
func (UserJoined) serverType() string     { return TypeUserJoined }
func (UserLeft) serverType() string       { return TypeUserLeft }
func (ChannelCreated) serverType() string { return TypeChannelCreated }
func (ChannelDeleted) serverType() string { return TypeChannelDeleted }

// EncodeClient serializes a client event with its type tag spliced in.
func EncodeClient(ev ClientEvent) ([]byte, error) {
	return encode(ev.clientType(), ev)
}

// EncodeServer serializes a server event with its type tag spliced in.
func EncodeServer(ev ServerEvent) ([]byte, error) {
	return encode(ev.serverType(), ev)
}

func encode(tag string, ev any) ([]byte, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", tag, err)
	}

	head := []byte(`{"type":"` + tag + `"`)
	if len(raw) <= 2 {
		// empty payload object
		return append(head, '}'), nil
	}
	head = append(head, ',')
	return append(head, raw[1:]...), nil
}

// DecodeClient parses one inbound frame from a client. Unknown or untagged
// frames are an error; the caller decides whether that kills the connection.
func DecodeClient(data []byte) (ClientEvent, error) {
	tag, err := frameType(data)
	if err != nil {
		return nil, err
	}

	switch tag {
	case TypeChannelJoin:
		var ev ChannelJoin
		return ev, unmarshal(data, &ev, tag)
	case TypeMessageNew:
		var ev MessageAnnounce
		return ev, unmarshal(data, &ev, tag)
	case TypeTypingStart:
		return TypingStart{}, nil
	case TypeTypingStop:
		return TypingStop{}, nil
	default:
		return nil, fmt.Errorf("unknown client event type %q", tag)
	}
}

// DecodeServer parses one frame pushed by the server.
func DecodeServer(data []byte) (ServerEvent, error) {
	tag, err := frameType(data)
	if err != nil {
		return nil, err
	}

	switch tag {
	case TypeMessageNew:
		var ev MessageNew
		return ev, unmarshal(data, &ev, tag)
	case TypePresenceUpdate:
		var ev PresenceUpdate
		return ev, unmarshal(data, &ev, tag)
	case TypeChannelCounts:
		var ev ChannelCounts
		return ev, unmarshal(data, &ev, tag)
	case TypeTypingStart:
		var ev TypingStarted
		return ev, unmarshal(data, &ev, tag)
	case TypeTypingStop:
		var ev TypingStopped
		return ev, unmarshal(data, &ev, tag)
	case TypeUserJoined:
		var ev UserJoined
		return ev, unmarshal(data, &ev, tag)
	case TypeUserLeft:
		var ev UserLeft
		return ev, unmarshal(data, &ev, tag)
	case TypeChannelCreated:
		var ev ChannelCreated
		return ev, unmarshal(data, &ev, tag)
	case TypeChannelDeleted:
		var ev ChannelDeleted
		return ev, unmarshal(data, &ev, tag)
	default:
		return nil, fmt.Errorf("unknown server event type %q", tag)
	}
}

// frameType pulls the type tag out of a frame without a full decode.
func frameType(data []byte) (string, error) {
	if err := fastjson.ValidateBytes(data); err != nil {
		return "", fmt.Errorf("malformed frame: %w", err)
	}
	tag := fastjson.GetString(data, "type")
	if tag == "" {
		return "", fmt.Errorf("frame has no type tag")
	}
	return tag, nil
}

func unmarshal(data []byte, ev any, tag string) error {
	if err := json.Unmarshal(data, ev); err != nil {
		return fmt.Errorf("unmarshal %s event: %w", tag, err)
	}
	return nil
}
