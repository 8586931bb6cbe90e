package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/peerbeam/peerbeam-server/internal/store"
)

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &SQLiteStore{db: db}, nil
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply schema without migrations.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'offline',
	last_seen     DATETIME,
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS rooms (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	owner_id         TEXT NOT NULL,
	is_private       BOOLEAN NOT NULL DEFAULT 0,
	password_hash    TEXT NOT NULL DEFAULT '',
	max_participants INTEGER NOT NULL DEFAULT 0,
	created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (owner_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS room_members (
	room_id    TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	joined_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (room_id, user_id),
	FOREIGN KEY (room_id) REFERENCES rooms(id),
	FOREIGN KEY (user_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	room_id    TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	body       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (room_id) REFERENCES rooms(id),
	FOREIGN KEY (user_id) REFERENCES users(id)
);

CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_room_members_user ON room_members(user_id);
`

// EnsureSchema applies the base schema. Idempotent.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== UserStore implementation ====

// CreateUser creates a new user with hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, passwordHash string) (*store.User, error) {
	id := uuid.NewString()
	query := `
		INSERT INTO users (id, username, password_hash, status)
		VALUES (?, ?, ?, 'offline')
	`
	if _, err := s.db.ExecContext(ctx, query, id, username, passwordHash); err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	return s.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, status, COALESCE(last_seen, created_at), created_at
		FROM users
		WHERE id = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, status, COALESCE(last_seen, created_at), created_at
		FROM users
		WHERE username = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, username))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*store.User, error) {
	var user store.User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.Status,
		&user.LastSeen,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}

// SetUserStatus persists a derived presence status.
func (s *SQLiteStore) SetUserStatus(ctx context.Context, id, status string) error {
	query := `UPDATE users SET status = ? WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, query, status, id); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return nil
}

// TouchLastSeen updates the user's last-seen timestamp.
func (s *SQLiteStore) TouchLastSeen(ctx context.Context, id string) error {
	query := `UPDATE users SET last_seen = ? WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, query, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}
	return nil
}

// ==== RoomStore implementation ====

// CreateRoom persists a room record. A zero ID is filled in.
func (s *SQLiteStore) CreateRoom(ctx context.Context, room *store.Room) (*store.Room, error) {
	if room.ID == "" {
		room.ID = uuid.NewString()
	}
	query := `
		INSERT INTO rooms (id, name, owner_id, is_private, password_hash, max_participants)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		room.ID, room.Name, room.OwnerID, room.IsPrivate, room.PasswordHash, room.MaxParticipants)
	if err != nil {
		return nil, fmt.Errorf("insert room: %w", err)
	}

	return s.GetRoomByID(ctx, room.ID)
}

// GetRoomByID retrieves a room record by ID.
func (s *SQLiteStore) GetRoomByID(ctx context.Context, id string) (*store.Room, error) {
	query := `
		SELECT id, name, owner_id, is_private, password_hash, max_participants, created_at
		FROM rooms
		WHERE id = ?
	`
	var room store.Room
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&room.ID,
		&room.Name,
		&room.OwnerID,
		&room.IsPrivate,
		&room.PasswordHash,
		&room.MaxParticipants,
		&room.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query room: %w", err)
	}
	return &room, nil
}

// ListRooms lists all persisted rooms.
func (s *SQLiteStore) ListRooms(ctx context.Context) ([]store.Room, error) {
	query := `
		SELECT id, name, owner_id, is_private, password_hash, max_participants, created_at
		FROM rooms
		ORDER BY created_at
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query rooms: %w", err)
	}
	defer rows.Close()

	var rooms []store.Room
	for rows.Next() {
		var room store.Room
		if err := rows.Scan(
			&room.ID,
			&room.Name,
			&room.OwnerID,
			&room.IsPrivate,
			&room.PasswordHash,
			&room.MaxParticipants,
			&room.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// AddRoomMember records persisted membership (the roster, not live state).
func (s *SQLiteStore) AddRoomMember(ctx context.Context, roomID, userID string) error {
	query := `INSERT OR IGNORE INTO room_members (room_id, user_id) VALUES (?, ?)`
	if _, err := s.db.ExecContext(ctx, query, roomID, userID); err != nil {
		return fmt.Errorf("insert room member: %w", err)
	}
	return nil
}

// IsRoomMember reports persisted roster membership.
func (s *SQLiteStore) IsRoomMember(ctx context.Context, roomID, userID string) (bool, error) {
	query := `SELECT 1 FROM room_members WHERE room_id = ? AND user_id = ?`
	var one int
	err := s.db.QueryRowContext(ctx, query, roomID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query room member: %w", err)
	}
	return true, nil
}

// ==== MessageStore implementation ====

// CreateMessage persists a chat message.
func (s *SQLiteStore) CreateMessage(ctx context.Context, roomID, userID, body string) (*store.Message, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	query := `
		INSERT INTO messages (id, room_id, user_id, body, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, id, roomID, userID, body, now); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	msg := &store.Message{
		ID:        id,
		RoomID:    roomID,
		UserID:    userID,
		Body:      body,
		CreatedAt: now,
	}

	// Username is denormalized for display; missing users are not fatal.
	if user, err := s.GetUserByID(ctx, userID); err == nil {
		msg.Username = user.Username
	}

	return msg, nil
}

// ListRecentMessages returns up to limit most recent messages in
// chronological order.
func (s *SQLiteStore) ListRecentMessages(ctx context.Context, roomID string, limit int) ([]store.Message, error) {
	query := `
		SELECT m.id, m.room_id, m.user_id, COALESCE(u.username, ''), m.body, m.created_at
		FROM messages m
		LEFT JOIN users u ON u.id = m.user_id
		WHERE m.room_id = ?
		ORDER BY m.created_at DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []store.Message
	for rows.Next() {
		var msg store.Message
		if err := rows.Scan(
			&msg.ID,
			&msg.RoomID,
			&msg.UserID,
			&msg.Username,
			&msg.Body,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
