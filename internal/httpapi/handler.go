// Package httpapi serves the read-only HTTP query surface over the room
// store and the participant registry.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/whisper/roomchat/internal/chat"
	"github.com/whisper/roomchat/internal/room"
)

// Page size bounds for GET /messages/{room}.
const (
	DefaultPageLimit = 50
	MaxPageLimit     = 200
)

// Participants is the registry view the handler needs.
type Participants interface {
	All() []chat.Participant
}

// Handler serves room history, rooms, online users and search.
type Handler struct {
	rooms        *room.Store
	participants Participants
	logger       *zap.Logger
}

// New creates a query handler.
func New(rooms *room.Store, participants Participants, logger *zap.Logger) *Handler {
	return &Handler{
		rooms:        rooms,
		participants: participants,
		logger:       logger,
	}
}

// RegisterRoutes mounts the query routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/messages/{room}", h.handleMessages)
	r.Get("/rooms", h.handleRooms)
	r.Get("/users", h.handleUsers)
	r.Get("/search", h.handleSearch)
}

// handleMessages returns one page of a room's history, newest first.
func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "room")
	page := queryInt(r, "page", 1)
	limit := min(queryInt(r, "limit", DefaultPageLimit), MaxPageLimit)

	p, err := h.rooms.Page(name, page, limit)
	if err != nil {
		if errors.Is(err, chat.ErrUnknownRoom) {
			respondError(w, http.StatusNotFound, "room not found")
			return
		}
		h.logger.Error("httpapi: load page", zap.String("room", name), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}

	respondJSON(w, http.StatusOK, p)
}

func (h *Handler) handleRooms(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.rooms.Rooms())
}

func (h *Handler) handleUsers(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.participants.All())
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.rooms.Search(r.URL.Query().Get("q")))
}

// queryInt parses a positive integer query parameter, falling back to def
// when it is missing or invalid.
func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 1 {
		return def
	}
	return v
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
