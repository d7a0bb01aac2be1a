package ws

import (
	"testing"
	"time"

	"github.com/gobwas/ws"
	"go.uber.org/zap"
)

func newTestServer() *Server {
	return NewServer(DefaultServerConfig(), zap.NewNop(), nil)
}

// ---------------------------------------------------------------------------
// Test: Stale connections are evicted, live ones are pinged
// ---------------------------------------------------------------------------

func TestCheckConnections(t *testing.T) {
	s := newTestServer()
	cfg := DefaultHeartbeatConfig()
	now := time.Now()

	stale, _ := pipeConnection(t, "stale", 1)
	stale.lastSeen.Store(now.Add(-time.Hour).UnixNano())
	live, client := pipeConnection(t, "live", 1)

	s.conns.Add(stale)
	s.conns.Add(live)

	var gone []string
	s.SetOnDisconnect(func(id string) { gone = append(gone, id) })

	pings := make(chan ws.OpCode, 1)
	go func() {
		frame, err := ws.ReadFrame(client)
		if err == nil {
			pings <- frame.Header.OpCode
		}
	}()

	checkConnections(s, cfg, now)

	if s.conns.Get("stale") != nil {
		t.Error("stale connection was not removed")
	}
	if s.conns.Get("live") == nil {
		t.Error("live connection was removed")
	}
	if len(gone) != 1 || gone[0] != "stale" {
		t.Errorf("expected disconnect callback for stale only, got %v", gone)
	}

	select {
	case op := <-pings:
		if op != ws.OpPing {
			t.Errorf("expected ping frame, got opcode %v", op)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("live connection was not pinged")
	}
}

// ---------------------------------------------------------------------------
// Test: RemoveConnection runs the disconnect callback once
// ---------------------------------------------------------------------------

func TestRemoveConnection_Once(t *testing.T) {
	s := newTestServer()
	c, _ := pipeConnection(t, "sess-1", 1)
	s.conns.Add(c)
	s.Groups().JoinRoom(c.ID, "general")

	calls := 0
	s.SetOnDisconnect(func(string) { calls++ })

	s.RemoveConnection(c)
	s.RemoveConnection(c)

	if calls != 1 {
		t.Fatalf("expected one disconnect callback, got %d", calls)
	}
	if n := len(s.Groups().Members("general")); n != 0 {
		t.Errorf("expected connection to leave its groups, %d members remain", n)
	}
	if s.Connections().Count() != 0 {
		t.Errorf("expected no connections, got %d", s.Connections().Count())
	}
}
