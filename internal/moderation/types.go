package moderation

import (
	"time"

	"github.com/whisper/roomchat/internal/chat"
)

// Review is published by the chat server for every committed room message.
type Review struct {
	MessageID int64  `json:"messageId"`
	Room      string `json:"room"`
	SenderID  string `json:"senderId"`
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	Ts        int64  `json:"ts"`
}

// NewReview builds the review request for a committed message.
func NewReview(msg chat.Message) Review {
	return Review{
		MessageID: msg.ID,
		Room:      msg.Room,
		SenderID:  msg.SenderID,
		Sender:    msg.Sender,
		Text:      msg.Body,
		Ts:        msg.CreatedAt.UnixMilli(),
	}
}

// Flag is published by the moderator for a Review that tripped the filter.
type Flag struct {
	MessageID int64  `json:"messageId"`
	Room      string `json:"room"`
	SenderID  string `json:"senderId"`
	Sender    string `json:"sender"`
	Reason    string `json:"reason"`
	Term      string `json:"term"`
	FlaggedAt int64  `json:"flaggedAt"`
}

// Review runs the filter over r and returns the Flag to publish, if any.
func (f *Filter) Review(r Review, now time.Time) (Flag, bool) {
	result := f.Check(r.Text)
	if !result.Blocked {
		return Flag{}, false
	}
	return Flag{
		MessageID: r.MessageID,
		Room:      r.Room,
		SenderID:  r.SenderID,
		Sender:    r.Sender,
		Reason:    result.Reason,
		Term:      result.Term,
		FlaggedAt: now.UnixMilli(),
	}, true
}
