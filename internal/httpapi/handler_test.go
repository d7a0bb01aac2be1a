package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/whisper/roomchat/internal/chat"
	"github.com/whisper/roomchat/internal/registry"
	"github.com/whisper/roomchat/internal/room"
)

func setupRouter(t *testing.T) (*chi.Mux, *room.Store, *registry.Registry) {
	t.Helper()
	store := room.NewStore()
	reg := registry.New()

	r := chi.NewRouter()
	r.Route("/api", func(api chi.Router) {
		New(store, reg, zap.NewNop()).RegisterRoutes(api)
	})
	return r, store, reg
}

func get(t *testing.T, h http.Handler, target string, out any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	if out != nil && resp.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), out))
	}
	return resp
}

func seed(t *testing.T, store *room.Store, roomName string, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		_, err := store.Append(roomName, chat.Message{Sender: "alice", SenderID: "c1", Body: fmt.Sprintf("m%d", i)})
		require.NoError(t, err)
	}
}

func TestMessagesPagination(t *testing.T) {
	r, store, _ := setupRouter(t)
	seed(t, store, chat.RoomGeneral, 5)

	var page room.Page
	resp := get(t, r, "/api/messages/general?page=1&limit=2", &page)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "application/json", resp.Header().Get("Content-Type"))
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "m5", page.Messages[0].Body)
	assert.Equal(t, "m4", page.Messages[1].Body)
	assert.True(t, page.HasMore)
	assert.Equal(t, 5, page.Total)

	resp = get(t, r, "/api/messages/general?page=3&limit=2", &page)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "m1", page.Messages[0].Body)
	assert.False(t, page.HasMore)
}

func TestMessagesDefaultsAndCaps(t *testing.T) {
	r, store, _ := setupRouter(t)
	seed(t, store, chat.RoomTech, chat.MaxHistory)

	var page room.Page
	get(t, r, "/api/messages/tech", &page)
	assert.Len(t, page.Messages, DefaultPageLimit)

	get(t, r, "/api/messages/tech?limit=500", &page)
	assert.Len(t, page.Messages, MaxPageLimit)

	get(t, r, "/api/messages/tech?page=abc&limit=-3", &page)
	assert.Len(t, page.Messages, DefaultPageLimit)
	assert.Equal(t, fmt.Sprintf("m%d", chat.MaxHistory), page.Messages[0].Body)

	get(t, r, "/api/messages/tech?page=99", &page)
	assert.Empty(t, page.Messages)
	assert.False(t, page.HasMore)
}

func TestMessagesUnknownRoom(t *testing.T) {
	r, _, _ := setupRouter(t)

	resp := get(t, r, "/api/messages/nope", nil)
	require.Equal(t, http.StatusNotFound, resp.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "room not found", body["error"])
}

func TestRooms(t *testing.T) {
	r, _, _ := setupRouter(t)

	var rooms []string
	get(t, r, "/api/rooms", &rooms)
	assert.Equal(t, []string{"general", "random", "tech"}, rooms)
}

func TestUsers(t *testing.T) {
	r, _, reg := setupRouter(t)

	var users []chat.Participant
	get(t, r, "/api/users", &users)
	assert.Empty(t, users)

	_, err := reg.Register("c1", "alice", chat.RoomGeneral)
	require.NoError(t, err)
	_, err = reg.Register("c2", "bob", chat.RoomTech)
	require.NoError(t, err)

	get(t, r, "/api/users", &users)
	require.Len(t, users, 2)
	assert.Equal(t, "alice", users[0].Username)
	assert.Equal(t, "bob", users[1].Username)
	assert.True(t, users[0].IsOnline)
}

func TestSearch(t *testing.T) {
	r, store, _ := setupRouter(t)
	_, err := store.Append(chat.RoomGeneral, chat.Message{Sender: "alice", Body: "Hello there"})
	require.NoError(t, err)
	_, err = store.Append(chat.RoomTech, chat.Message{Sender: "bob", Body: "say HELLO"})
	require.NoError(t, err)
	_, err = store.Append(chat.RoomTech, chat.Message{Sender: "bob", Body: "unrelated"})
	require.NoError(t, err)

	var results []chat.Message
	get(t, r, "/api/search?q=hello", &results)
	require.Len(t, results, 2)
	assert.Equal(t, chat.RoomGeneral, results[0].Room)
	assert.Equal(t, chat.RoomTech, results[1].Room)

	resp := get(t, r, "/api/search", &results)
	assert.Equal(t, "[]\n", resp.Body.String())
}
