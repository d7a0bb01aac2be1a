// Package room owns the per-room message history and typing state. Every
// room in the fixed set gets a ring buffer of the last chat.MaxHistory
// messages, an id index over that buffer, and a typing set.
package room

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/whisper/roomchat/internal/chat"
)

// MaxSearchResults caps Search results across all rooms.
const MaxSearchResults = 50

// Page is one page of a room history, most recent first.
type Page struct {
	Messages []chat.Message `json:"messages"`
	HasMore  bool           `json:"hasMore"`
	Total    int            `json:"total"`
}

// Store holds every room for the lifetime of the process. The set of rooms
// is fixed at construction, so the map itself is never written after New.
type Store struct {
	rooms  map[string]*room
	order  []string
	idMu   sync.Mutex
	lastID int64
	clock  func() time.Time
}

// room is a fixed-size circular buffer of messages plus typing state.
// One lock serializes append, read, markRead and reaction toggles.
type room struct {
	mu     sync.RWMutex
	items  []*chat.Message
	pos    int
	count  int
	index  map[int64]*chat.Message
	typing map[string]struct{}
}

// NewStore creates a Store with an empty history for each fixed room.
func NewStore() *Store {
	s := &Store{
		rooms: make(map[string]*room),
		order: chat.Rooms(),
		clock: time.Now,
	}
	for _, name := range s.order {
		s.rooms[name] = &room{
			items:  make([]*chat.Message, chat.MaxHistory),
			index:  make(map[int64]*chat.Message),
			typing: make(map[string]struct{}),
		}
	}
	return s
}

// Rooms returns the room names in declaration order.
func (s *Store) Rooms() []string {
	return slices.Clone(s.order)
}

// NextID returns a fresh message id. Ids increase across all rooms.
func (s *Store) NextID() int64 {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	s.lastID++
	return s.lastID
}

func (s *Store) room(name string) (*room, error) {
	r, ok := s.rooms[name]
	if !ok {
		return nil, fmt.Errorf("room: %w: %q", chat.ErrUnknownRoom, name)
	}
	return r, nil
}

// Append commits msg to the room history. It assigns the id, the room and
// (if unset) the timestamp, seeds ReadBy with the sender, and evicts the
// oldest message once the room holds chat.MaxHistory entries.
func (s *Store) Append(roomName string, msg chat.Message) (chat.Message, error) {
	r, err := s.room(roomName)
	if err != nil {
		return chat.Message{}, err
	}

	stored := msg.Clone()
	stored.Room = roomName
	stored.ReadBy = nil
	if msg.SenderID != "" {
		stored.ReadBy = []string{msg.SenderID}
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.clock().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Assign under the room lock so per-room order matches id order.
	stored.ID = s.NextID()

	if old := r.items[r.pos]; old != nil {
		delete(r.index, old.ID)
	}
	r.items[r.pos] = &stored
	r.index[stored.ID] = &stored
	r.pos = (r.pos + 1) % len(r.items)
	if r.count < len(r.items) {
		r.count++
	}
	return stored.Clone(), nil
}

// History returns the room's messages oldest first. The result is a deep
// copy and safe to hand to other goroutines.
func (s *Store) History(roomName string) ([]chat.Message, error) {
	r, err := s.room(roomName)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot(), nil
}

// snapshot must be called with r.mu held.
func (r *room) snapshot() []chat.Message {
	size := len(r.items)
	out := make([]chat.Message, r.count)
	// The oldest message is at position (pos - count) mod size.
	start := (r.pos - r.count + size) % size
	for i := 0; i < r.count; i++ {
		out[i] = r.items[(start+i)%size].Clone()
	}
	return out
}

// FindByID returns a copy of the message with the given id if it is still
// in the room history.
func (s *Store) FindByID(roomName string, id int64) (chat.Message, bool) {
	r, err := s.room(roomName)
	if err != nil {
		return chat.Message{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.index[id]
	if !ok {
		return chat.Message{}, false
	}
	return m.Clone(), true
}

// MarkRead adds connID to the message's readers. It returns the updated
// reader list, or false if the message is not in the room history.
func (s *Store) MarkRead(roomName string, id int64, connID string) ([]string, bool) {
	r, err := s.room(roomName)
	if err != nil {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.index[id]
	if !ok {
		return nil, false
	}
	if !slices.Contains(m.ReadBy, connID) {
		m.ReadBy = append(m.ReadBy, connID)
	}
	return slices.Clone(m.ReadBy), true
}

// ToggleReaction adds username to the symbol's set, or removes it if it is
// already there. Empty sets are dropped from the map. It returns a copy of
// the updated reactions, or false if the message is not in the history.
func (s *Store) ToggleReaction(roomName string, id int64, symbol, username string) (map[string][]string, bool) {
	r, err := s.room(roomName)
	if err != nil {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.index[id]
	if !ok {
		return nil, false
	}
	if m.Reactions == nil {
		m.Reactions = make(map[string][]string)
	}

	users := m.Reactions[symbol]
	if i := slices.Index(users, username); i >= 0 {
		users = slices.Delete(users, i, i+1)
	} else {
		users = append(users, username)
	}
	if len(users) == 0 {
		delete(m.Reactions, symbol)
	} else {
		m.Reactions[symbol] = users
	}

	return m.Clone().Reactions, true
}

// SetTyping adds or removes connID from the room's typing set. Unknown rooms
// are ignored.
func (s *Store) SetTyping(roomName, connID string, isTyping bool) {
	r, err := s.room(roomName)
	if err != nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if isTyping {
		r.typing[connID] = struct{}{}
	} else {
		delete(r.typing, connID)
	}
}

// IsTyping reports whether connID is in the room's typing set.
func (s *Store) IsTyping(roomName, connID string) bool {
	r, err := s.room(roomName)
	if err != nil {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.typing[connID]
	return ok
}

// TypingSnapshot returns the connection ids in the room's typing set, sorted.
func (s *Store) TypingSnapshot(roomName string) []string {
	r, err := s.room(roomName)
	if err != nil {
		return nil
	}

	r.mu.RLock()
	ids := make([]string, 0, len(r.typing))
	for id := range r.typing {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Page returns one page of the room history with the most recent message
// first. page is 1-based, and page 1 holds the newest limit messages.
func (s *Store) Page(roomName string, page, limit int) (Page, error) {
	history, err := s.History(roomName)
	if err != nil {
		return Page{}, err
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 1
	}

	slices.Reverse(history)
	total := len(history)
	start := total
	if page-1 <= total/limit {
		start = min((page-1)*limit, total)
	}
	end := min(start+limit, total)

	return Page{
		Messages: history[start:end],
		HasMore:  end < total,
		Total:    total,
	}, nil
}

// Search returns messages whose body contains query, case-insensitively,
// across all rooms in room order and oldest first within a room. At most
// MaxSearchResults messages are returned; an empty query matches nothing.
// The query is not trimmed, so " " finds bodies containing a space.
func (s *Store) Search(query string) []chat.Message {
	q := strings.ToLower(query)
	if q == "" {
		return []chat.Message{}
	}

	results := make([]chat.Message, 0)
	for _, name := range s.order {
		history, _ := s.History(name)
		matches := lo.Filter(history, func(m chat.Message, _ int) bool {
			return strings.Contains(strings.ToLower(m.Body), q)
		})
		results = append(results, matches...)
		if len(results) >= MaxSearchResults {
			return results[:MaxSearchResults]
		}
	}
	return results
}
