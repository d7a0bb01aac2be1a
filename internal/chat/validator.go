package chat

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

const (
	MaxMessageBytes = 8192 // hard cap before counting characters
	MaxTextChars    = 2000 // max character count
	MaxUsername     = 20   // max username length in characters
)

var validate = validator.New()

type joinInput struct {
	Username string `validate:"required,max=20"`
}

// NormalizeUsername trims surrounding whitespace and checks the result is
// non-empty and at most MaxUsername characters.
func NormalizeUsername(name string) (string, error) {
	name = strings.TrimSpace(name)
	if err := validate.Struct(joinInput{Username: name}); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidUsername, name)
	}
	return name, nil
}

// ValidateMessage checks that a chat message body meets content requirements.
// Blank bodies yield ErrEmptyMessage, everything else ErrInvalidMessage.
func ValidateMessage(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	if len(text) > MaxMessageBytes {
		return fmt.Errorf("%w: exceeds %d byte limit", ErrInvalidMessage, MaxMessageBytes)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("%w: contains invalid UTF-8", ErrInvalidMessage)
	}
	if utf8.RuneCountInString(text) > MaxTextChars {
		return fmt.Errorf("%w: exceeds %d character limit", ErrInvalidMessage, MaxTextChars)
	}
	return nil
}
