package main

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/whisper/roomchat/internal/chat"
	"github.com/whisper/roomchat/internal/hub"
	"github.com/whisper/roomchat/internal/metrics"
	"github.com/whisper/roomchat/internal/protocol"
	"github.com/whisper/roomchat/internal/ratelimit"
	"github.com/whisper/roomchat/internal/ws"
)

// limiterTimeout bounds each Redis round trip on the event path.
const limiterTimeout = 500 * time.Millisecond

// rateLimiter is the part of ratelimit.Limiter the handlers use.
type rateLimiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
	RetryAfter(ctx context.Context, identifier string, rule ratelimit.Rule) (time.Duration, error)
}

// replyFunc sends an event back to the connection that sent the request.
type replyFunc func(event string, payload any)

// handlers binds client events to the hub. A nil limiter disables rate
// limiting.
type handlers struct {
	hub         *hub.Hub
	limiter     rateLimiter
	messageRule ratelimit.Rule
	privateRule ratelimit.Rule
	logger      *zap.Logger
}

func (h *handlers) register(d *ws.MessageDispatcher) {
	d.Register(protocol.TypeUserJoin, h.adapt(h.join))
	d.Register(protocol.TypeSendMessage, h.adapt(h.send))
	d.Register(protocol.TypeMessageRead, h.adapt(h.markRead))
	d.Register(protocol.TypeMessageReaction, h.adapt(h.react))
	d.Register(protocol.TypeTyping, h.adapt(h.typing))
	d.Register(protocol.TypeJoinRoom, h.adapt(h.joinRoom))
	d.Register(protocol.TypePrivateMessage, h.adapt(h.privateMessage))
}

func (h *handlers) adapt(fn func(connID string, reply replyFunc, msg any)) ws.MessageHandler {
	return func(conn *ws.Connection, msg interface{}) {
		fn(conn.ID, func(event string, payload any) {
			if err := conn.Send(event, payload); err != nil {
				h.logger.Debug("chatserver: reply not queued",
					zap.String("session", conn.ID),
					zap.String("type", event),
					zap.Error(err),
				)
			}
		}, msg)
	}
}

func (h *handlers) join(connID string, reply replyFunc, msg any) {
	m, ok := msg.(protocol.UserJoinMsg)
	if !ok {
		return
	}
	h.report(connID, reply, h.hub.Join(connID, m.Username, m.Room))
}

func (h *handlers) send(connID string, reply replyFunc, msg any) {
	m, ok := msg.(protocol.SendMessageMsg)
	if !ok {
		return
	}
	if !h.allow(connID, reply, h.messageRule) {
		return
	}
	h.report(connID, reply, h.hub.Send(connID, m.Message, m.TempID))
}

func (h *handlers) markRead(connID string, _ replyFunc, msg any) {
	if m, ok := msg.(protocol.MessageReadMsg); ok {
		h.hub.MarkRead(connID, m.MessageID)
	}
}

func (h *handlers) react(connID string, _ replyFunc, msg any) {
	if m, ok := msg.(protocol.MessageReactionMsg); ok {
		h.hub.React(connID, m.MessageID, m.Reaction)
	}
}

func (h *handlers) typing(connID string, _ replyFunc, msg any) {
	if m, ok := msg.(protocol.TypingMsg); ok {
		h.hub.SetTyping(connID, m.IsTyping)
	}
}

func (h *handlers) joinRoom(connID string, reply replyFunc, msg any) {
	m, ok := msg.(protocol.JoinRoomMsg)
	if !ok {
		return
	}
	h.report(connID, reply, h.hub.SwitchRoom(connID, m.RoomName))
}

func (h *handlers) privateMessage(connID string, reply replyFunc, msg any) {
	m, ok := msg.(protocol.PrivateMessageMsg)
	if !ok {
		return
	}
	if !h.allow(connID, reply, h.privateRule) {
		return
	}
	h.report(connID, reply, h.hub.PrivateMessage(connID, m.To, m.Message))
}

// allow applies rule to connID and tells the client when it is over the
// limit. Limiter errors fail open.
func (h *handlers) allow(connID string, reply replyFunc, rule ratelimit.Rule) bool {
	if h.limiter == nil {
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), limiterTimeout)
	defer cancel()

	ok, err := h.limiter.Allow(ctx, connID, rule)
	if ok || err != nil {
		return true
	}

	metrics.RateLimited.Inc()
	retry, err := h.limiter.RetryAfter(ctx, connID, rule)
	if err != nil || retry <= 0 {
		retry = rule.Window
	}
	reply(protocol.TypeRateLimited, protocol.RateLimitedMsg{
		RetryAfter: int(math.Ceil(retry.Seconds())),
	})
	return false
}

// report turns a hub error into an error event for the sender.
func (h *handlers) report(connID string, reply replyFunc, err error) {
	if err == nil {
		return
	}

	code, message := errorCode(err)
	h.logger.Debug("chatserver: event rejected",
		zap.String("session", connID),
		zap.String("code", code),
		zap.Error(err),
	)
	reply(protocol.TypeError, protocol.ErrorMsg{Code: code, Message: message})
}

func errorCode(err error) (code, message string) {
	switch {
	case errors.Is(err, chat.ErrUnknownRoom):
		return "unknown_room", "room does not exist"
	case errors.Is(err, chat.ErrInvalidUsername):
		return "invalid_username", "username must be 1 to 20 characters"
	case errors.Is(err, chat.ErrDuplicateConnection):
		return "already_joined", "connection has already joined"
	case errors.Is(err, chat.ErrInvalidMessage):
		return "invalid_message", "message is too long or not valid UTF-8"
	default:
		return "internal_error", "request could not be processed"
	}
}
