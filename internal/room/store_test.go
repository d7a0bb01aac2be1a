package room

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/whisper/roomchat/internal/chat"
)

func msg(sender, body string) chat.Message {
	return chat.Message{Sender: sender, SenderID: "conn-" + sender, Body: body}
}

func TestAppendAndHistory(t *testing.T) {
	s := NewStore()

	first, err := s.Append(chat.RoomGeneral, msg("alice", "hello"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, _ := s.Append(chat.RoomGeneral, msg("bob", "hi"))

	if first.ID == 0 || second.ID <= first.ID {
		t.Fatalf("ids not increasing: %d, %d", first.ID, second.ID)
	}
	if first.Room != chat.RoomGeneral {
		t.Errorf("expected room %q, got %q", chat.RoomGeneral, first.Room)
	}
	if first.CreatedAt.IsZero() {
		t.Error("expected timestamp to be set")
	}
	if len(first.ReadBy) != 1 || first.ReadBy[0] != "conn-alice" {
		t.Errorf("expected readBy [conn-alice], got %v", first.ReadBy)
	}

	history, err := s.History(chat.RoomGeneral)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(history))
	}
	if history[0].Body != "hello" || history[1].Body != "hi" {
		t.Errorf("history out of order: %+v", history)
	}
}

func TestAppendUnknownRoom(t *testing.T) {
	s := NewStore()

	_, err := s.Append("lobby", msg("alice", "hello"))
	if !errors.Is(err, chat.ErrUnknownRoom) {
		t.Fatalf("expected ErrUnknownRoom, got %v", err)
	}
	if _, err := s.History("lobby"); !errors.Is(err, chat.ErrUnknownRoom) {
		t.Fatalf("expected ErrUnknownRoom from History, got %v", err)
	}
}

func TestEmptyHistory(t *testing.T) {
	s := NewStore()

	history, err := s.History(chat.RoomTech)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if history == nil {
		t.Fatal("expected non-nil empty slice, got nil")
	}
	if len(history) != 0 {
		t.Fatalf("expected 0 messages, got %d", len(history))
	}
}

func TestHistoryBoundedOldestEvicted(t *testing.T) {
	s := NewStore()

	var ids []int64
	for i := 1; i <= chat.MaxHistory+1; i++ {
		m, err := s.Append(chat.RoomGeneral, msg("alice", fmt.Sprintf("msg-%d", i)))
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		ids = append(ids, m.ID)
	}

	history, _ := s.History(chat.RoomGeneral)
	if len(history) != chat.MaxHistory {
		t.Fatalf("expected %d messages, got %d", chat.MaxHistory, len(history))
	}
	if history[0].Body != "msg-2" {
		t.Errorf("expected oldest surviving message msg-2, got %q", history[0].Body)
	}
	if history[len(history)-1].Body != fmt.Sprintf("msg-%d", chat.MaxHistory+1) {
		t.Errorf("unexpected newest message %q", history[len(history)-1].Body)
	}

	if _, ok := s.FindByID(chat.RoomGeneral, ids[0]); ok {
		t.Error("first message should be unreachable after eviction")
	}
	if _, ok := s.FindByID(chat.RoomGeneral, ids[1]); !ok {
		t.Error("second message should still be reachable")
	}
}

func TestHistoryIsACopy(t *testing.T) {
	s := NewStore()
	m, _ := s.Append(chat.RoomGeneral, msg("alice", "hello"))

	history, _ := s.History(chat.RoomGeneral)
	history[0].Body = "changed"
	history[0].ReadBy[0] = "intruder"

	got, _ := s.FindByID(chat.RoomGeneral, m.ID)
	if got.Body != "hello" || got.ReadBy[0] != "conn-alice" {
		t.Errorf("history snapshot aliases stored message: %+v", got)
	}
}

func TestFindByIDWrongRoom(t *testing.T) {
	s := NewStore()
	m, _ := s.Append(chat.RoomGeneral, msg("alice", "hello"))

	if _, ok := s.FindByID(chat.RoomTech, m.ID); ok {
		t.Error("message must only be found in its own room")
	}
	if _, ok := s.FindByID("nowhere", m.ID); ok {
		t.Error("unknown room must not find anything")
	}
}

func TestMarkReadIdempotent(t *testing.T) {
	s := NewStore()
	m, _ := s.Append(chat.RoomGeneral, msg("alice", "hello"))

	once, ok := s.MarkRead(chat.RoomGeneral, m.ID, "conn-bob")
	if !ok {
		t.Fatal("expected message to be found")
	}
	twice, _ := s.MarkRead(chat.RoomGeneral, m.ID, "conn-bob")

	want := []string{"conn-alice", "conn-bob"}
	for _, got := range [][]string{once, twice} {
		if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
			t.Errorf("expected readBy %v, got %v", want, got)
		}
	}

	if _, ok := s.MarkRead(chat.RoomGeneral, 9999, "conn-bob"); ok {
		t.Error("expected missing message to report false")
	}
}

func TestToggleReaction(t *testing.T) {
	s := NewStore()
	m, _ := s.Append(chat.RoomGeneral, msg("alice", "hello"))

	reactions, ok := s.ToggleReaction(chat.RoomGeneral, m.ID, "👍", "bob")
	if !ok {
		t.Fatal("expected message to be found")
	}
	if got := reactions["👍"]; len(got) != 1 || got[0] != "bob" {
		t.Fatalf("expected [bob], got %v", got)
	}

	reactions, _ = s.ToggleReaction(chat.RoomGeneral, m.ID, "👍", "carol")
	if got := reactions["👍"]; len(got) != 2 {
		t.Fatalf("expected two reactors, got %v", got)
	}

	// Toggling again removes only that user.
	reactions, _ = s.ToggleReaction(chat.RoomGeneral, m.ID, "👍", "bob")
	if got := reactions["👍"]; len(got) != 1 || got[0] != "carol" {
		t.Fatalf("expected [carol], got %v", got)
	}

	reactions, _ = s.ToggleReaction(chat.RoomGeneral, m.ID, "👍", "carol")
	if _, present := reactions["👍"]; present {
		t.Errorf("expected empty symbol to be dropped, got %v", reactions)
	}

	if _, ok := s.ToggleReaction(chat.RoomGeneral, 9999, "👍", "bob"); ok {
		t.Error("expected missing message to report false")
	}
}

func TestTyping(t *testing.T) {
	s := NewStore()

	s.SetTyping(chat.RoomGeneral, "c2", true)
	s.SetTyping(chat.RoomGeneral, "c1", true)
	s.SetTyping(chat.RoomGeneral, "c1", true)
	s.SetTyping(chat.RoomTech, "c3", true)

	got := s.TypingSnapshot(chat.RoomGeneral)
	if len(got) != 2 || got[0] != "c1" || got[1] != "c2" {
		t.Fatalf("unexpected typing snapshot %v", got)
	}
	if !s.IsTyping(chat.RoomGeneral, "c1") || s.IsTyping(chat.RoomTech, "c1") {
		t.Error("IsTyping does not match the typing sets")
	}

	s.SetTyping(chat.RoomGeneral, "c1", false)
	s.SetTyping(chat.RoomGeneral, "c1", false)
	if got := s.TypingSnapshot(chat.RoomGeneral); len(got) != 1 || got[0] != "c2" {
		t.Fatalf("unexpected typing snapshot after clear %v", got)
	}

	// Unknown rooms are ignored.
	s.SetTyping("nowhere", "c1", true)
	if got := s.TypingSnapshot("nowhere"); len(got) != 0 {
		t.Errorf("expected nothing for unknown room, got %v", got)
	}
}

func TestPage(t *testing.T) {
	s := NewStore()
	for i := 1; i <= 5; i++ {
		s.Append(chat.RoomRandom, msg("alice", fmt.Sprintf("msg-%d", i)))
	}

	tests := []struct {
		name    string
		page    int
		limit   int
		bodies  []string
		hasMore bool
	}{
		{"first page", 1, 2, []string{"msg-5", "msg-4"}, true},
		{"second page", 2, 2, []string{"msg-3", "msg-2"}, true},
		{"last partial page", 3, 2, []string{"msg-1"}, false},
		{"past the end", 4, 2, []string{}, false},
		{"everything", 1, 50, []string{"msg-5", "msg-4", "msg-3", "msg-2", "msg-1"}, false},
		{"page clamped to 1", 0, 1, []string{"msg-5"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := s.Page(chat.RoomRandom, tt.page, tt.limit)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.Total != 5 {
				t.Errorf("expected total 5, got %d", p.Total)
			}
			if p.HasMore != tt.hasMore {
				t.Errorf("expected hasMore %v, got %v", tt.hasMore, p.HasMore)
			}
			if len(p.Messages) != len(tt.bodies) {
				t.Fatalf("expected %d messages, got %d", len(tt.bodies), len(p.Messages))
			}
			for i, body := range tt.bodies {
				if p.Messages[i].Body != body {
					t.Errorf("index %d: expected %q, got %q", i, body, p.Messages[i].Body)
				}
			}
		})
	}

	if _, err := s.Page("nowhere", 1, 10); !errors.Is(err, chat.ErrUnknownRoom) {
		t.Errorf("expected ErrUnknownRoom, got %v", err)
	}
}

func TestSearch(t *testing.T) {
	s := NewStore()
	s.Append(chat.RoomTech, msg("alice", "Go is great"))
	s.Append(chat.RoomGeneral, msg("bob", "anyone here likes GOLANG?"))
	s.Append(chat.RoomGeneral, msg("carol", "lunch time"))

	results := s.Search("go")
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	// Room order: general before tech.
	if results[0].Room != chat.RoomGeneral || results[1].Room != chat.RoomTech {
		t.Errorf("unexpected result order: %+v", results)
	}

	if got := s.Search(""); len(got) != 0 {
		t.Errorf("empty query should match nothing, got %d", len(got))
	}
	if got := s.Search(" "); len(got) != 3 {
		t.Errorf("a space should match every multi-word body, got %d", len(got))
	}
	if got := s.Search("  "); len(got) != 0 {
		t.Errorf("a double space matches no body, got %d", len(got))
	}
	if got := s.Search("nothing matches this"); got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", got)
	}
}

func TestSearchCapped(t *testing.T) {
	s := NewStore()
	for _, name := range s.Rooms() {
		for i := 0; i < 30; i++ {
			s.Append(name, msg("alice", fmt.Sprintf("needle %d", i)))
		}
	}

	if got := s.Search("NEEDLE"); len(got) != MaxSearchResults {
		t.Fatalf("expected %d results, got %d", MaxSearchResults, len(got))
	}
}

func TestConcurrentAccess(t *testing.T) {
	s := NewStore()
	goroutines := 50
	perGoroutine := 20

	var wg sync.WaitGroup
	wg.Add(goroutines)

	for g := 0; g < goroutines; g++ {
		go func(id int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				m, err := s.Append(chat.RoomGeneral, msg(fmt.Sprintf("u%d", id), "hi"))
				if err != nil {
					t.Errorf("append: %v", err)
					return
				}
				// Interleave reads and mutations to stress the room lock.
				s.MarkRead(chat.RoomGeneral, m.ID, "reader")
				s.ToggleReaction(chat.RoomGeneral, m.ID, "👍", "reader")
				_, _ = s.History(chat.RoomGeneral)
			}
		}(g)
	}
	wg.Wait()

	history, _ := s.History(chat.RoomGeneral)
	if len(history) != chat.MaxHistory {
		t.Fatalf("expected %d messages, got %d", chat.MaxHistory, len(history))
	}
	for i := 1; i < len(history); i++ {
		if history[i].ID <= history[i-1].ID {
			t.Fatalf("history order does not follow id order at %d", i)
		}
	}
}
