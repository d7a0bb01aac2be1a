// Package protocol defines the WebSocket event types and payloads exchanged
// between chat clients and the hub. Every frame is a JSON object with a
// "type" discriminator; the remaining keys are the event payload.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/whisper/roomchat/internal/chat"
)

// ---------------------------------------------------------------------------
// Event names
// ---------------------------------------------------------------------------

// Client -> Server event types.
const (
	TypeUserJoin        = "user_join"
	TypeSendMessage     = "send_message"
	TypeMessageRead     = "message_read"
	TypeMessageReaction = "message_reaction"
	TypeTyping          = "typing"
	TypeJoinRoom        = "join_room"
	TypePrivateMessage  = "private_message"
	TypePing            = "ping"
)

// Server -> Client event types. TypePrivateMessage is used in both
// directions.
const (
	TypeSessionCreated        = "session_created"
	TypeUserJoined            = "user_joined"
	TypeUserLeft              = "user_left"
	TypeUserJoinedRoom        = "user_joined_room"
	TypeUserLeftRoom          = "user_left_room"
	TypeUserList              = "user_list"
	TypePreviousMessages      = "previous_messages"
	TypeReceiveMessage        = "receive_message"
	TypeMessageDelivered      = "message_delivered"
	TypeMessageReadUpdate     = "message_read_update"
	TypeMessageReactionUpdate = "message_reaction_update"
	TypeTypingUsers           = "typing_users"
	TypeRateLimited           = "rate_limited"
	TypeError                 = "error"
	TypePong                  = "pong"
)

// ---------------------------------------------------------------------------
// Envelope
// ---------------------------------------------------------------------------

// Envelope holds the event type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "type"
// field so the payload can be decoded later into the matching struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server payloads
// ---------------------------------------------------------------------------

// UserJoinMsg registers the connection under a username in a room. An empty
// room means the default room.
type UserJoinMsg struct {
	Username string `json:"username"`
	Room     string `json:"room"`
}

// SendMessageMsg posts a message to the sender's current room. TempID is an
// opaque client correlation value echoed back in message_delivered.
type SendMessageMsg struct {
	Message string `json:"message"`
	TempID  any    `json:"tempId"`
}

// MessageReadMsg marks a room message as read by the sender.
type MessageReadMsg struct {
	MessageID int64 `json:"messageId"`
}

// MessageReactionMsg toggles the sender's reaction on a room message.
type MessageReactionMsg struct {
	MessageID int64  `json:"messageId"`
	Reaction  string `json:"reaction"`
}

// TypingMsg sets the sender's typing indicator.
type TypingMsg struct {
	IsTyping bool `json:"isTyping"`
}

// JoinRoomMsg moves the sender to another room.
type JoinRoomMsg struct {
	RoomName string `json:"roomName"`
}

// PrivateMessageMsg sends a direct message to another connection.
type PrivateMessageMsg struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct{}

// ---------------------------------------------------------------------------
// Server -> Client payloads
// ---------------------------------------------------------------------------

// SessionCreatedMsg greets a new connection with its id, which other
// clients use to address private messages.
type SessionCreatedMsg struct {
	SessionID string `json:"sessionId"`
}

// UserListMsg carries the participants of a room.
type UserListMsg struct {
	Users []chat.Participant `json:"users"`
}

// PreviousMessagesMsg carries a room history, oldest first.
type PreviousMessagesMsg struct {
	Messages []chat.Message `json:"messages"`
}

// MessageDeliveredMsg acknowledges a send_message to its sender.
type MessageDeliveredMsg struct {
	TempID    any   `json:"tempId"`
	MessageID int64 `json:"messageId"`
}

// MessageReadUpdateMsg carries the readers of a message.
type MessageReadUpdateMsg struct {
	MessageID int64    `json:"messageId"`
	ReadBy    []string `json:"readBy"`
}

// MessageReactionUpdateMsg carries the reactions of a message.
type MessageReactionUpdateMsg struct {
	MessageID int64               `json:"messageId"`
	Reactions map[string][]string `json:"reactions"`
}

// TypingUsersMsg carries the usernames typing in a room.
type TypingUsersMsg struct {
	Users []string `json:"users"`
}

// RateLimitedMsg tells the client its event was dropped by the rate limiter.
type RateLimitedMsg struct {
	RetryAfter int `json:"retryAfter"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct{}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client event.
// It returns the event type, the decoded struct and any error encountered.
// An error is returned for unknown or server-only event types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeUserJoin:
		var m UserJoinMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSendMessage:
		var m SendMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMessageRead:
		var m MessageReadMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMessageReaction:
		var m MessageReactionMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeJoinRoom:
		var m JoinRoomMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePrivateMessage:
		var m PrivateMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		msg = PingMsg{}
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates the JSON frame for a server event. The payload
// must marshal to a JSON object; its keys are merged with the "type" key.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: payload for %q is not a JSON object: %w", msgType, err)
	}
	if m == nil {
		m = make(map[string]json.RawMessage, 1)
	}

	typ, _ := json.Marshal(msgType)
	m["type"] = typ

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
