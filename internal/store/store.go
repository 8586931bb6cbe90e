package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// User represents an account in the system.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	Status       string
	LastSeen     time.Time
	CreatedAt    time.Time
}

// Room is the persisted room record. Live membership is tracked in memory
// by the hub and is independent of this record.
type Room struct {
	ID              string
	Name            string
	OwnerID         string
	IsPrivate       bool
	PasswordHash    string
	MaxParticipants int
	CreatedAt       time.Time
}

// Message is a persisted chat message.
type Message struct {
	ID        string
	RoomID    string
	UserID    string
	Username  string
	Body      string
	CreatedAt time.Time
}

// UserStore provides account persistence.
type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	// SetUserStatus persists a derived presence status. Best-effort: callers
	// log failures and move on.
	SetUserStatus(ctx context.Context, id, status string) error
	// TouchLastSeen updates the user's last-seen timestamp. Best-effort.
	TouchLastSeen(ctx context.Context, id string) error
}

// RoomStore provides room record persistence and the persisted roster.
type RoomStore interface {
	CreateRoom(ctx context.Context, room *Room) (*Room, error)
	GetRoomByID(ctx context.Context, id string) (*Room, error)
	ListRooms(ctx context.Context) ([]Room, error)
	AddRoomMember(ctx context.Context, roomID, userID string) error
	IsRoomMember(ctx context.Context, roomID, userID string) (bool, error)
}

// MessageStore provides chat transcript persistence.
type MessageStore interface {
	CreateMessage(ctx context.Context, roomID, userID, body string) (*Message, error)
	ListRecentMessages(ctx context.Context, roomID string, limit int) ([]Message, error)
}

// Store is the full persistence collaborator.
type Store interface {
	UserStore
	RoomStore
	MessageStore
	Close() error
}

// IsSchemaErr reports whether err looks like a missing table/column error.
// Callers treat this as the degraded-mode signal and fall back to the
// in-memory cache instead of failing the user-facing operation.
func IsSchemaErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "no such table") || strings.Contains(msg, "no such column")
}
