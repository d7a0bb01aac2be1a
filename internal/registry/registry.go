// Package registry tracks the Participant bound to each joined connection.
// It is a plain state container: it never notifies anyone, callers decide
// what to broadcast.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/whisper/roomchat/internal/chat"
)

type entry struct {
	participant chat.Participant
	seq         uint64 // registration order, breaks JoinedAt ties
}

// Registry maps connection IDs to participants. It is goroutine-safe.
type Registry struct {
	mu    sync.RWMutex
	byID  map[string]*entry
	seq   uint64
	clock func() time.Time
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		byID:  make(map[string]*entry),
		clock: time.Now,
	}
}

// Register creates the participant for connID. The username is trimmed and
// validated; the room is stored as given (callers validate it).
func (r *Registry) Register(connID, username, room string) (chat.Participant, error) {
	name, err := chat.NormalizeUsername(username)
	if err != nil {
		return chat.Participant{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[connID]; ok {
		return chat.Participant{}, fmt.Errorf("registry: %w: %s", chat.ErrDuplicateConnection, connID)
	}

	r.seq++
	p := chat.Participant{
		ID:       connID,
		Username: name,
		Room:     room,
		IsOnline: true,
		JoinedAt: r.clock().UTC(),
	}
	r.byID[connID] = &entry{participant: p, seq: r.seq}
	return p, nil
}

// Lookup returns the participant for connID.
func (r *Registry) Lookup(connID string) (chat.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byID[connID]
	if !ok {
		return chat.Participant{}, false
	}
	return e.participant, true
}

// SetRoom moves connID to room. Unknown connections are ignored.
func (r *Registry) SetRoom(connID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.byID[connID]; ok {
		e.participant.Room = room
	}
}

// Remove deletes connID and returns the participant it held. Removing an
// unknown connection returns false.
func (r *Registry) Remove(connID string) (chat.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[connID]
	if !ok {
		return chat.Participant{}, false
	}
	delete(r.byID, connID)
	return e.participant, true
}

// InRoom returns the participants currently in room, ordered by join time.
func (r *Registry) InRoom(room string) []chat.Participant {
	return r.collect(func(p chat.Participant) bool { return p.Room == room })
}

// All returns every participant, ordered by join time.
func (r *Registry) All() []chat.Participant {
	return r.collect(func(chat.Participant) bool { return true })
}

// Count returns the number of registered participants.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func (r *Registry) collect(keep func(chat.Participant) bool) []chat.Participant {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.byID))
	for _, e := range r.byID {
		if keep(e.participant) {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.participant.JoinedAt.Equal(b.participant.JoinedAt) {
			return a.participant.JoinedAt.Before(b.participant.JoinedAt)
		}
		return a.seq < b.seq
	})
	out := make([]chat.Participant, len(entries))
	for i, e := range entries {
		out[i] = e.participant
	}
	r.mu.RUnlock()
	return out
}
