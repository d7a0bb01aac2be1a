package hub

import "github.com/whisper/roomchat/internal/chat"

// Broadcaster delivers events to connections. It is implemented by the
// transport and owns all I/O; every method must return without blocking on
// the network. Delivery is best effort and at most once.
type Broadcaster interface {
	// EmitTo sends an event to one connection.
	EmitTo(connID, event string, payload any)

	// EmitToRoom sends an event to every member of the room group except
	// exclude (empty excludes nobody).
	EmitToRoom(room, event string, payload any, exclude string)

	// JoinRoom and LeaveRoom maintain the room groups EmitToRoom targets.
	JoinRoom(connID, room string)
	LeaveRoom(connID, room string)
}

// Mirror observes committed room messages, e.g. to feed moderation.
// Committed is called with the hub lock held and must not block.
type Mirror interface {
	Committed(msg chat.Message)
}
