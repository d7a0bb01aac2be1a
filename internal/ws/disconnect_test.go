package ws

import (
	"testing"

	"go.uber.org/zap"

	"github.com/whisper/roomchat/internal/chat"
	"github.com/whisper/roomchat/internal/hub"
	"github.com/whisper/roomchat/internal/registry"
	"github.com/whisper/roomchat/internal/room"
)

// ---------------------------------------------------------------------------
// Test: A join that lands after eviction leaves no participant behind
// ---------------------------------------------------------------------------

func TestRemoveConnection_LateJoin(t *testing.T) {
	s := newTestServer()
	reg := registry.New()
	h := hub.New(reg, room.NewStore(), s.Groups(), zap.NewNop())
	s.SetOnDisconnect(h.Disconnect)

	c, _ := pipeConnection(t, "conn-a", 4)
	s.conns.Add(c)

	// Heartbeat eviction wins the race against a worker holding user_join.
	s.RemoveConnection(c)
	if err := h.Join(c.ID, "alice", chat.RoomGeneral); err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}

	if n := reg.Count(); n != 0 {
		t.Errorf("expected no participants, got %d", n)
	}
	if members := s.Groups().Members(chat.RoomGeneral); len(members) != 0 {
		t.Errorf("expected no group members, got %v", members)
	}
}
