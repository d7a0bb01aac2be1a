package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/roomchat/internal/chat"
	"github.com/whisper/roomchat/internal/registry"
	"github.com/whisper/roomchat/internal/room"
)

func setup(t *testing.T) (*Service, *registry.Registry, *room.Store) {
	t.Helper()
	reg := registry.New()
	store := room.NewStore()
	return NewService(reg, store), reg, store
}

func TestOnlineInRoom(t *testing.T) {
	svc, reg, _ := setup(t)

	_, err := reg.Register("a", "alice", chat.RoomGeneral)
	require.NoError(t, err)
	_, err = reg.Register("b", "bob", chat.RoomTech)
	require.NoError(t, err)
	_, err = reg.Register("c", "carol", chat.RoomGeneral)
	require.NoError(t, err)

	online := svc.OnlineInRoom(chat.RoomGeneral)
	require.Len(t, online, 2)
	assert.Equal(t, "alice", online[0].Username)
	assert.Equal(t, "carol", online[1].Username)

	// Derived live: removal shows up immediately.
	reg.Remove("a")
	online = svc.OnlineInRoom(chat.RoomGeneral)
	require.Len(t, online, 1)
	assert.Equal(t, "carol", online[0].Username)
}

func TestUsernamesTypingInRoom(t *testing.T) {
	svc, reg, store := setup(t)

	for _, p := range []struct{ id, name string }{{"a", "alice"}, {"b", "bob"}, {"c", "carol"}} {
		_, err := reg.Register(p.id, p.name, chat.RoomGeneral)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{}, svc.UsernamesTypingInRoom(chat.RoomGeneral))

	store.SetTyping(chat.RoomGeneral, "c", true)
	store.SetTyping(chat.RoomGeneral, "a", true)
	assert.Equal(t, []string{"alice", "carol"}, svc.UsernamesTypingInRoom(chat.RoomGeneral))
}

func TestUsernamesTypingDropsStaleEntries(t *testing.T) {
	svc, reg, store := setup(t)

	_, err := reg.Register("a", "alice", chat.RoomGeneral)
	require.NoError(t, err)
	_, err = reg.Register("b", "bob", chat.RoomGeneral)
	require.NoError(t, err)

	store.SetTyping(chat.RoomGeneral, "a", true)
	store.SetTyping(chat.RoomGeneral, "b", true)
	store.SetTyping(chat.RoomGeneral, "ghost", true)

	// b moved away with a stale typing entry; a is gone.
	reg.SetRoom("b", chat.RoomTech)
	reg.Remove("a")

	assert.Empty(t, svc.UsernamesTypingInRoom(chat.RoomGeneral))
	assert.Empty(t, svc.UsernamesTypingInRoom(chat.RoomTech), "typing state is per room")
}
