// Package hub applies client events to the chat state and fans the results
// out through a Broadcaster. Handlers are serialized by one lock so the
// mutation and fan-out of an event are atomic relative to other events.
package hub

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/whisper/roomchat/internal/chat"
	"github.com/whisper/roomchat/internal/metrics"
	"github.com/whisper/roomchat/internal/presence"
	"github.com/whisper/roomchat/internal/protocol"
	"github.com/whisper/roomchat/internal/registry"
	"github.com/whisper/roomchat/internal/room"
)

// closedRetention is how long a disconnected connection id stays refused.
// Frames a worker read before the disconnect reach the hub well within it.
const closedRetention = time.Minute

type tombstone struct {
	connID string
	at     time.Time
}

// Hub coordinates the registry, the room store and presence.
type Hub struct {
	mu       sync.Mutex
	closed   map[string]struct{}
	buried   []tombstone // oldest first
	registry *registry.Registry
	rooms    *room.Store
	presence *presence.Service
	out      Broadcaster
	mirror   Mirror
	logger   *zap.Logger
	clock    func() time.Time
}

// Option configures a Hub.
type Option func(*Hub)

// WithMirror registers a Mirror that observes every committed message.
func WithMirror(m Mirror) Option {
	return func(h *Hub) { h.mirror = m }
}

// New creates a Hub over the given registry and room store.
func New(reg *registry.Registry, rooms *room.Store, out Broadcaster, logger *zap.Logger, opts ...Option) *Hub {
	h := &Hub{
		closed:   make(map[string]struct{}),
		registry: reg,
		rooms:    rooms,
		presence: presence.NewService(reg, rooms),
		out:      out,
		logger:   logger,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Join registers connID as username in roomName (the default room when
// empty), then announces it to the room and sends it the room history.
func (h *Hub) Join(connID, username, roomName string) error {
	defer h.track(protocol.TypeUserJoin)()

	if roomName == "" {
		roomName = chat.DefaultRoom
	}
	if !chat.IsRoom(roomName) {
		return fmt.Errorf("hub: join %q: %w", roomName, chat.ErrUnknownRoom)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, gone := h.closed[connID]; gone {
		h.logger.Debug("hub: join from closed connection",
			zap.String("conn", connID),
			zap.Error(chat.ErrUnknownConnection),
		)
		return nil
	}

	p, err := h.registry.Register(connID, username, roomName)
	if err != nil {
		return fmt.Errorf("hub: join: %w", err)
	}

	h.out.JoinRoom(connID, roomName)
	h.out.EmitToRoom(roomName, protocol.TypeUserJoined, p, connID)
	h.emitUserList(roomName)
	h.emitHistory(connID, roomName)

	h.logger.Info("hub: participant joined",
		zap.String("conn", connID),
		zap.String("username", p.Username),
		zap.String("room", roomName),
		zap.Int("participants", h.registry.Count()),
	)
	return nil
}

// Send commits body to the sender's room and acknowledges it with the
// assigned id. Blank bodies are dropped without error.
func (h *Hub) Send(connID, body string, tempID any) error {
	defer h.track(protocol.TypeSendMessage)()

	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.participant(connID, protocol.TypeSendMessage)
	if !ok {
		return nil
	}
	if err := chat.ValidateMessage(body); err != nil {
		if errors.Is(err, chat.ErrEmptyMessage) {
			return nil
		}
		return fmt.Errorf("hub: send: %w", err)
	}

	msg, err := h.rooms.Append(p.Room, chat.Message{
		Sender:   p.Username,
		SenderID: connID,
		Body:     body,
	})
	if err != nil {
		return fmt.Errorf("hub: send: %w", err)
	}
	metrics.MessagesCommitted.WithLabelValues(p.Room).Inc()

	h.out.EmitToRoom(p.Room, protocol.TypeReceiveMessage, msg, connID)
	h.out.EmitTo(connID, protocol.TypeMessageDelivered, protocol.MessageDeliveredMsg{
		TempID:    tempID,
		MessageID: msg.ID,
	})

	if h.mirror != nil {
		h.mirror.Committed(msg)
	}
	return nil
}

// MarkRead records that connID has read message id in its current room.
func (h *Hub) MarkRead(connID string, id int64) {
	defer h.track(protocol.TypeMessageRead)()

	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.participant(connID, protocol.TypeMessageRead)
	if !ok {
		return
	}

	readBy, ok := h.rooms.MarkRead(p.Room, id, connID)
	if !ok {
		h.logger.Debug("hub: mark read",
			zap.Int64("message", id),
			zap.String("room", p.Room),
			zap.Error(chat.ErrMessageNotFound),
		)
		return
	}

	h.out.EmitToRoom(p.Room, protocol.TypeMessageReadUpdate, protocol.MessageReadUpdateMsg{
		MessageID: id,
		ReadBy:    readBy,
	}, "")
}

// React toggles connID's reaction symbol on message id in its current room.
func (h *Hub) React(connID string, id int64, symbol string) {
	defer h.track(protocol.TypeMessageReaction)()

	if symbol == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.participant(connID, protocol.TypeMessageReaction)
	if !ok {
		return
	}

	reactions, ok := h.rooms.ToggleReaction(p.Room, id, symbol, p.Username)
	if !ok {
		h.logger.Debug("hub: react",
			zap.Int64("message", id),
			zap.String("room", p.Room),
			zap.Error(chat.ErrMessageNotFound),
		)
		return
	}

	h.out.EmitToRoom(p.Room, protocol.TypeMessageReactionUpdate, protocol.MessageReactionUpdateMsg{
		MessageID: id,
		Reactions: reactions,
	}, "")
}

// SetTyping updates connID's typing flag and tells the rest of the room.
func (h *Hub) SetTyping(connID string, isTyping bool) {
	defer h.track(protocol.TypeTyping)()

	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.participant(connID, protocol.TypeTyping)
	if !ok {
		return
	}

	h.rooms.SetTyping(p.Room, connID, isTyping)
	h.emitTyping(p.Room, connID)
}

// SwitchRoom moves connID to roomName. Switching to the current room only
// re-sends its history.
func (h *Hub) SwitchRoom(connID, roomName string) error {
	defer h.track(protocol.TypeJoinRoom)()

	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.participant(connID, protocol.TypeJoinRoom)
	if !ok {
		return nil
	}
	if !chat.IsRoom(roomName) {
		return fmt.Errorf("hub: switch to %q: %w", roomName, chat.ErrUnknownRoom)
	}

	old := p.Room
	if old == roomName {
		h.emitHistory(connID, roomName)
		return nil
	}

	wasTyping := h.rooms.IsTyping(old, connID)
	h.rooms.SetTyping(old, connID, false)
	h.out.LeaveRoom(connID, old)
	h.registry.SetRoom(connID, roomName)

	h.out.EmitToRoom(old, protocol.TypeUserLeftRoom, p, "")
	h.emitUserList(old)
	if wasTyping {
		h.emitTyping(old, "")
	}

	p.Room = roomName
	h.out.JoinRoom(connID, roomName)
	h.out.EmitToRoom(roomName, protocol.TypeUserJoinedRoom, p, connID)
	h.emitUserList(roomName)
	h.emitHistory(connID, roomName)

	h.logger.Info("hub: participant switched room",
		zap.String("conn", connID),
		zap.String("from", old),
		zap.String("to", roomName),
	)
	return nil
}

// PrivateMessage delivers body from connID to the participant to. The
// message is never stored; it goes to the recipient and back to the sender.
func (h *Hub) PrivateMessage(connID, to, body string) error {
	defer h.track(protocol.TypePrivateMessage)()

	h.mu.Lock()
	defer h.mu.Unlock()

	from, ok := h.participant(connID, protocol.TypePrivateMessage)
	if !ok {
		return nil
	}
	if err := chat.ValidateMessage(body); err != nil {
		if errors.Is(err, chat.ErrEmptyMessage) {
			return nil
		}
		return fmt.Errorf("hub: private message: %w", err)
	}
	recipient, ok := h.registry.Lookup(to)
	if !ok {
		h.logger.Debug("hub: private message to unknown participant", zap.String("to", to))
		return nil
	}

	msg := chat.Message{
		ID:            h.rooms.NextID(),
		Sender:        from.Username,
		SenderID:      connID,
		Body:          body,
		CreatedAt:     h.clock().UTC(),
		IsPrivate:     true,
		RecipientID:   recipient.ID,
		RecipientName: recipient.Username,
	}

	h.out.EmitTo(recipient.ID, protocol.TypePrivateMessage, msg)
	if recipient.ID != connID {
		h.out.EmitTo(connID, protocol.TypePrivateMessage, msg)
	}
	return nil
}

// Disconnect removes connID and tells its former room. It is safe to call
// more than once. A join that arrives for connID afterwards is ignored.
func (h *Hub) Disconnect(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.bury(connID)

	p, ok := h.registry.Remove(connID)
	if !ok {
		return
	}

	wasTyping := h.rooms.IsTyping(p.Room, connID)
	h.rooms.SetTyping(p.Room, connID, false)
	h.out.LeaveRoom(connID, p.Room)

	p.IsOnline = false
	h.out.EmitToRoom(p.Room, protocol.TypeUserLeft, p, "")
	h.emitUserList(p.Room)
	if wasTyping {
		h.emitTyping(p.Room, "")
	}

	h.logger.Info("hub: participant left",
		zap.String("conn", connID),
		zap.String("username", p.Username),
		zap.String("room", p.Room),
	)
}

// bury marks connID closed and forgets ids older than closedRetention.
// Callers hold h.mu.
func (h *Hub) bury(connID string) {
	now := h.clock()
	n := 0
	for n < len(h.buried) && now.Sub(h.buried[n].at) > closedRetention {
		delete(h.closed, h.buried[n].connID)
		n++
	}
	h.buried = h.buried[n:]

	if _, ok := h.closed[connID]; ok {
		return
	}
	h.closed[connID] = struct{}{}
	h.buried = append(h.buried, tombstone{connID: connID, at: now})
}

// participant looks up connID. Callers hold h.mu.
func (h *Hub) participant(connID, event string) (chat.Participant, bool) {
	p, ok := h.registry.Lookup(connID)
	if !ok {
		h.logger.Debug("hub: event from unjoined connection",
			zap.String("conn", connID),
			zap.String("type", event),
			zap.Error(chat.ErrUnknownConnection),
		)
	}
	return p, ok
}

func (h *Hub) emitUserList(roomName string) {
	online := h.presence.OnlineInRoom(roomName)
	metrics.RoomParticipants.WithLabelValues(roomName).Set(float64(len(online)))
	h.out.EmitToRoom(roomName, protocol.TypeUserList, protocol.UserListMsg{Users: online}, "")
}

func (h *Hub) emitTyping(roomName, exclude string) {
	h.out.EmitToRoom(roomName, protocol.TypeTypingUsers, protocol.TypingUsersMsg{
		Users: h.presence.UsernamesTypingInRoom(roomName),
	}, exclude)
}

func (h *Hub) emitHistory(connID, roomName string) {
	history, err := h.rooms.History(roomName)
	if err != nil {
		h.logger.Warn("hub: load history", zap.String("room", roomName), zap.Error(err))
		return
	}
	h.out.EmitTo(connID, protocol.TypePreviousMessages, protocol.PreviousMessagesMsg{Messages: history})
}

// track counts an inbound event and returns a func that records its
// handling latency.
func (h *Hub) track(event string) func() {
	start := time.Now()
	metrics.EventsTotal.WithLabelValues(event).Inc()
	return func() {
		metrics.EventLatency.WithLabelValues(event).Observe(time.Since(start).Seconds())
	}
}
