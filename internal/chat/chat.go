// Package chat defines the domain types shared by the hub components: the
// fixed room set, participants, messages and the sentinel errors that the
// hub reports at its boundary.
package chat

import (
	"slices"
	"time"
)

// Fixed room names. Rooms are never created at runtime.
const (
	RoomGeneral = "general"
	RoomRandom  = "random"
	RoomTech    = "tech"

	// DefaultRoom is used when a join does not name a room.
	DefaultRoom = RoomGeneral
)

// MaxHistory is the number of messages retained per room.
const MaxHistory = 200

var rooms = []string{RoomGeneral, RoomRandom, RoomTech}

// Rooms returns the fixed room names in declaration order.
func Rooms() []string {
	return slices.Clone(rooms)
}

// IsRoom reports whether name is one of the fixed rooms.
func IsRoom(name string) bool {
	return slices.Contains(rooms, name)
}

// Participant is the live state of one joined connection.
type Participant struct {
	ID       string    `json:"id"` // connection ID
	Username string    `json:"username"`
	Room     string    `json:"room"`
	IsOnline bool      `json:"isOnline"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Message is a chat message. Room messages live in the room history;
// private messages are built per delivery and never stored.
type Message struct {
	ID            int64               `json:"id"`
	Sender        string              `json:"sender"`
	SenderID      string              `json:"senderId"`
	Room          string              `json:"room,omitempty"`
	Body          string              `json:"message"`
	CreatedAt     time.Time           `json:"timestamp"`
	ReadBy        []string            `json:"readBy,omitempty"`    // connection IDs, insertion order
	Reactions     map[string][]string `json:"reactions,omitempty"` // symbol -> usernames
	IsPrivate     bool                `json:"isPrivate,omitempty"`
	RecipientID   string              `json:"recipientId,omitempty"`
	RecipientName string              `json:"recipient,omitempty"`
	System        bool                `json:"system,omitempty"`
}

// Clone returns a copy of m that shares no slices or maps with it.
func (m Message) Clone() Message {
	m.ReadBy = slices.Clone(m.ReadBy)
	if m.Reactions != nil {
		reactions := make(map[string][]string, len(m.Reactions))
		for symbol, users := range m.Reactions {
			reactions[symbol] = slices.Clone(users)
		}
		m.Reactions = reactions
	}
	return m
}
