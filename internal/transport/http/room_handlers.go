package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/peerbeam/peerbeam-server/internal/auth"
	"github.com/peerbeam/peerbeam-server/internal/store"
)

// RoomHandlers provides HTTP handlers for room management endpoints.
type RoomHandlers struct {
	store       store.Store
	authService *auth.Service
	log         *zerolog.Logger
}

// NewRoomHandlers creates a new room handlers instance.
func NewRoomHandlers(st store.Store, authService *auth.Service, logger *zerolog.Logger) *RoomHandlers {
	return &RoomHandlers{
		store:       st,
		authService: authService,
		log:         logger,
	}
}

// CreateRoomRequest represents the create room request body.
type CreateRoomRequest struct {
	Name            string `json:"name" binding:"required,min=1,max=64"`
	IsPrivate       bool   `json:"isPrivate"`
	Password        string `json:"password"`
	MaxParticipants int    `json:"maxParticipants" binding:"omitempty,min=2,max=64"`
}

// RoomResponse represents a room in API responses.
type RoomResponse struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	OwnerID         string `json:"ownerId"`
	IsPrivate       bool   `json:"isPrivate"`
	MaxParticipants int    `json:"maxParticipants,omitempty"`
	CreatedAt       string `json:"createdAt"`
}

// GuestTokenRequest represents the guest token mint request body.
type GuestTokenRequest struct {
	AllowPrivate bool `json:"allowPrivate"`
}

// MessageResponse represents a persisted message in API responses.
type MessageResponse struct {
	ID        string `json:"id"`
	RoomID    string `json:"roomId"`
	UserID    string `json:"userId"`
	Username  string `json:"username,omitempty"`
	Body      string `json:"body"`
	CreatedAt string `json:"createdAt"`
}

func currentUserID(c *gin.Context) (string, bool) {
	v, exists := c.Get(ContextKeyUserID)
	if !exists {
		return "", false
	}
	uid, ok := v.(string)
	return uid, ok
}

// CreateRoom handles room creation.
// POST /api/rooms
func (h *RoomHandlers) CreateRoom(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create room request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	var pwHash string
	if req.IsPrivate && req.Password != "" {
		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			h.log.Error().Err(err).Msg("failed to hash room password")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
			return
		}
		pwHash = hash
	}

	room, err := h.store.CreateRoom(c.Request.Context(), &store.Room{
		Name:            req.Name,
		OwnerID:         uid,
		IsPrivate:       req.IsPrivate,
		PasswordHash:    pwHash,
		MaxParticipants: req.MaxParticipants,
	})
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			c.JSON(http.StatusConflict, ErrorResponse{Error: "room already exists"})
			return
		}
		h.log.Error().Err(err).Str("room_name", req.Name).Msg("failed to create room")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	// The owner is on the persisted roster from the start.
	if err := h.store.AddRoomMember(c.Request.Context(), room.ID, uid); err != nil {
		h.log.Warn().Err(err).Str("room_id", room.ID).Msg("owner roster write failed")
	}

	h.log.Info().Str("room_id", room.ID).Str("owner_id", uid).Msg("room created")
	c.JSON(http.StatusCreated, toRoomResponse(room))
}

// ListRooms handles listing persisted rooms.
// GET /api/rooms
func (h *RoomHandlers) ListRooms(c *gin.Context) {
	rooms, err := h.store.ListRooms(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list rooms")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := make([]RoomResponse, 0, len(rooms))
	for i := range rooms {
		response = append(response, toRoomResponse(&rooms[i]))
	}
	c.JSON(http.StatusOK, response)
}

// GuestToken mints a short-lived guest credential scoped to one room.
// Only the room owner may invite guests.
// POST /api/rooms/:id/guest-token
func (h *RoomHandlers) GuestToken(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	roomID := c.Param("id")
	room, err := h.store.GetRoomByID(c.Request.Context(), roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "room not found"})
			return
		}
		h.log.Error().Err(err).Str("room_id", roomID).Msg("failed to load room")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	if room.OwnerID != uid {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "only the room owner can invite guests"})
		return
	}

	// Body is optional; the default grant does not bypass the private gate.
	var req GuestTokenRequest
	_ = c.ShouldBindJSON(&req)

	token, err := h.authService.GuestToken(roomID, req.AllowPrivate && room.IsPrivate)
	if err != nil {
		h.log.Error().Err(err).Str("room_id", roomID).Msg("failed to mint guest token")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, AuthResponse{Token: token})
}

// ListMessages returns the recent persisted transcript for a room.
// GET /api/rooms/:id/messages
func (h *RoomHandlers) ListMessages(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	roomID := c.Param("id")
	room, err := h.store.GetRoomByID(c.Request.Context(), roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "room not found"})
			return
		}
		h.log.Error().Err(err).Str("room_id", roomID).Msg("failed to load room")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	if room.IsPrivate && room.OwnerID != uid {
		member, err := h.store.IsRoomMember(c.Request.Context(), roomID, uid)
		if err != nil || !member {
			c.JSON(http.StatusForbidden, ErrorResponse{Error: "not a member of this room"})
			return
		}
	}

	messages, err := h.store.ListRecentMessages(c.Request.Context(), roomID, 100)
	if err != nil {
		h.log.Error().Err(err).Str("room_id", roomID).Msg("failed to list messages")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := make([]MessageResponse, 0, len(messages))
	for _, m := range messages {
		response = append(response, MessageResponse{
			ID:        m.ID,
			RoomID:    m.RoomID,
			UserID:    m.UserID,
			Username:  m.Username,
			Body:      m.Body,
			CreatedAt: m.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	c.JSON(http.StatusOK, response)
}

func toRoomResponse(room *store.Room) RoomResponse {
	return RoomResponse{
		ID:              room.ID,
		Name:            room.Name,
		OwnerID:         room.OwnerID,
		IsPrivate:       room.IsPrivate,
		MaxParticipants: room.MaxParticipants,
		CreatedAt:       room.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}
