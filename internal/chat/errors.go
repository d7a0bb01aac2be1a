package chat

import "errors"

var (
	// ErrUnknownRoom is returned for room names outside the fixed set.
	ErrUnknownRoom = errors.New("unknown room")

	// ErrUnknownConnection marks events from connections that never joined
	// or already left. The hub swallows it.
	ErrUnknownConnection = errors.New("unknown connection")

	// ErrDuplicateConnection is returned when a connection joins twice.
	ErrDuplicateConnection = errors.New("connection already joined")

	// ErrInvalidUsername is returned for empty or over-long usernames.
	ErrInvalidUsername = errors.New("invalid username")

	// ErrMessageNotFound marks read/react events for ids that are not in the
	// room history, usually because they were evicted. The hub swallows it.
	ErrMessageNotFound = errors.New("message not found")

	// ErrEmptyMessage is returned for blank bodies. The hub drops these
	// silently.
	ErrEmptyMessage = errors.New("message text is empty")

	// ErrInvalidMessage is returned for bodies that are too long or not
	// valid UTF-8.
	ErrInvalidMessage = errors.New("invalid message")
)
