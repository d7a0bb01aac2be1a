package ws

import (
	"sync"

	"go.uber.org/zap"

	"github.com/whisper/roomchat/internal/protocol"
)

// Groups tracks which connections belong to which room and delivers hub
// events to them. Frames are encoded once per emit and queued on each
// target connection; a full queue drops the frame for that connection only.
type Groups struct {
	conns  *ConnectionManager
	logger *zap.Logger

	mu      sync.RWMutex
	members map[string]map[string]struct{} // room -> session ids
}

// NewGroups creates an empty group table over conns.
func NewGroups(conns *ConnectionManager, logger *zap.Logger) *Groups {
	return &Groups{
		conns:   conns,
		logger:  logger,
		members: make(map[string]map[string]struct{}),
	}
}

// EmitTo sends an event to a single connection.
func (g *Groups) EmitTo(connID, event string, payload any) {
	frame, err := protocol.NewServerMessage(event, payload)
	if err != nil {
		g.logger.Error("ws: encode event", zap.String("type", event), zap.Error(err))
		return
	}
	g.deliver(connID, event, frame)
}

// EmitToRoom sends an event to every member of room except exclude.
func (g *Groups) EmitToRoom(room, event string, payload any, exclude string) {
	frame, err := protocol.NewServerMessage(event, payload)
	if err != nil {
		g.logger.Error("ws: encode event", zap.String("type", event), zap.Error(err))
		return
	}

	for _, id := range g.Members(room) {
		if id == exclude {
			continue
		}
		g.deliver(id, event, frame)
	}
}

// JoinRoom adds connID to room.
func (g *Groups) JoinRoom(connID, room string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	set, ok := g.members[room]
	if !ok {
		set = make(map[string]struct{})
		g.members[room] = set
	}
	set[connID] = struct{}{}
}

// LeaveRoom removes connID from room.
func (g *Groups) LeaveRoom(connID, room string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if set, ok := g.members[room]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(g.members, room)
		}
	}
}

// Forget removes connID from every room.
func (g *Groups) Forget(connID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for room, set := range g.members {
		delete(set, connID)
		if len(set) == 0 {
			delete(g.members, room)
		}
	}
}

// Members returns a snapshot of the session ids in room.
func (g *Groups) Members(room string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	set := g.members[room]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

func (g *Groups) deliver(connID, event string, frame []byte) {
	c := g.conns.Get(connID)
	if c == nil {
		return
	}
	if !c.Enqueue(frame) {
		g.logger.Warn("ws: dropped frame",
			zap.String("session", connID),
			zap.String("type", event),
		)
	}
}
