// Package presence derives per-room online and typing lists. Nothing here is
// stored: every call reads the registry and the room typing sets, so the
// lists can never drift from the participants that actually exist.
package presence

import (
	"github.com/samber/lo"

	"github.com/whisper/roomchat/internal/chat"
)

// Participants is the registry view presence needs.
type Participants interface {
	InRoom(room string) []chat.Participant
}

// TypingSets is the room store view presence needs.
type TypingSets interface {
	TypingSnapshot(room string) []string
}

// Service answers presence queries for a room.
type Service struct {
	participants Participants
	typing       TypingSets
}

// NewService creates a Service over the given registry and room store.
func NewService(participants Participants, typing TypingSets) *Service {
	return &Service{participants: participants, typing: typing}
}

// OnlineInRoom returns the participants in room, ordered by join time.
func (s *Service) OnlineInRoom(room string) []chat.Participant {
	return s.participants.InRoom(room)
}

// UsernamesTypingInRoom returns the usernames of participants in room that
// are typing, ordered by join time. Typing entries whose connection is gone
// or has moved to another room are dropped.
func (s *Service) UsernamesTypingInRoom(room string) []string {
	typing := lo.KeyBy(s.typing.TypingSnapshot(room), func(id string) string { return id })
	if len(typing) == 0 {
		return []string{}
	}

	online := lo.Filter(s.participants.InRoom(room), func(p chat.Participant, _ int) bool {
		_, ok := typing[p.ID]
		return ok
	})
	return lo.Map(online, func(p chat.Participant, _ int) string { return p.Username })
}
