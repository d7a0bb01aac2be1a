package chat

import (
	"errors"
	"strings"
	"testing"
)

func TestNormalizeUsername(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"plain", "alice", "alice", false},
		{"trimmed", "  bob \t", "bob", false},
		{"exactly twenty", strings.Repeat("a", 20), strings.Repeat("a", 20), false},
		{"twenty runes multibyte", strings.Repeat("é", 20), strings.Repeat("é", 20), false},
		{"empty", "", "", true},
		{"blank", "   ", "", true},
		{"too long", strings.Repeat("a", 21), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeUsername(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidUsername) {
					t.Fatalf("NormalizeUsername(%q) error = %v, want ErrInvalidUsername", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeUsername(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("NormalizeUsername(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestValidateMessage(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"ok", "hello", nil},
		{"max chars", strings.Repeat("x", MaxTextChars), nil},
		{"empty", "", ErrEmptyMessage},
		{"whitespace only", " \n\t ", ErrEmptyMessage},
		{"too many chars", strings.Repeat("x", MaxTextChars+1), ErrInvalidMessage},
		{"too many bytes", strings.Repeat("x", MaxMessageBytes+1), ErrInvalidMessage},
		{"invalid utf8", "hi \xff", ErrInvalidMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessage(tt.input)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("ValidateMessage() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRooms(t *testing.T) {
	got := Rooms()
	if len(got) != 3 || got[0] != RoomGeneral || got[1] != RoomRandom || got[2] != RoomTech {
		t.Fatalf("unexpected rooms: %v", got)
	}

	// The returned slice is a copy.
	got[0] = "mutated"
	if !IsRoom(RoomGeneral) || IsRoom("mutated") {
		t.Fatal("Rooms() leaked the internal slice")
	}
}

func TestMessageClone(t *testing.T) {
	orig := Message{
		ID:        1,
		ReadBy:    []string{"a"},
		Reactions: map[string][]string{"👍": {"alice"}},
	}

	cp := orig.Clone()
	cp.ReadBy[0] = "b"
	cp.Reactions["👍"][0] = "mallory"
	cp.Reactions["🎉"] = []string{"bob"}

	if orig.ReadBy[0] != "a" {
		t.Errorf("clone shares ReadBy")
	}
	if orig.Reactions["👍"][0] != "alice" {
		t.Errorf("clone shares reaction sets")
	}
	if _, ok := orig.Reactions["🎉"]; ok {
		t.Errorf("clone shares reaction map")
	}
}
