package messaging

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/whisper/roomchat/internal/chat"
	"github.com/whisper/roomchat/internal/moderation"
)

// Publisher is the subset of NATSClient the feed needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// RoomFeed publishes every committed room message for review. It
// implements hub.Mirror.
type RoomFeed struct {
	pub    Publisher
	logger *zap.Logger
}

// NewRoomFeed creates a RoomFeed over pub.
func NewRoomFeed(pub Publisher, logger *zap.Logger) *RoomFeed {
	return &RoomFeed{pub: pub, logger: logger}
}

// Committed publishes msg on its room subject. Failures are logged and the
// message is not retried.
func (f *RoomFeed) Committed(msg chat.Message) {
	data, err := json.Marshal(moderation.NewReview(msg))
	if err != nil {
		f.logger.Error("messaging: marshal review", zap.Int64("message", msg.ID), zap.Error(err))
		return
	}
	if err := f.pub.Publish(RoomSubject(msg.Room), data); err != nil {
		f.logger.Warn("messaging: publish review",
			zap.Int64("message", msg.ID),
			zap.String("room", msg.Room),
			zap.Error(err),
		)
	}
}
