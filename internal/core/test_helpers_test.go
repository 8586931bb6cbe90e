package core

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/peerbeam/peerbeam-server/internal/store"
)

// fakeRoomStore is an in-memory store.RoomStore for hub tests.
type fakeRoomStore struct {
	mu     sync.Mutex
	rooms  map[string]*store.Room
	roster map[string]map[string]bool
	err    error
}

func newFakeRoomStore() *fakeRoomStore {
	return &fakeRoomStore{
		rooms:  make(map[string]*store.Room),
		roster: make(map[string]map[string]bool),
	}
}

func (f *fakeRoomStore) CreateRoom(_ context.Context, room *store.Room) (*store.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if room.ID == "" {
		room.ID = uuid.NewString()
	}
	cp := *room
	cp.CreatedAt = time.Now()
	f.rooms[cp.ID] = &cp
	return &cp, nil
}

func (f *fakeRoomStore) GetRoomByID(_ context.Context, id string) (*store.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	room, ok := f.rooms[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *room
	return &cp, nil
}

func (f *fakeRoomStore) ListRooms(_ context.Context) ([]store.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Room
	for _, room := range f.rooms {
		out = append(out, *room)
	}
	return out, nil
}

func (f *fakeRoomStore) AddRoomMember(_ context.Context, roomID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.roster[roomID] == nil {
		f.roster[roomID] = make(map[string]bool)
	}
	f.roster[roomID][userID] = true
	return nil
}

func (f *fakeRoomStore) IsRoomMember(_ context.Context, roomID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.roster[roomID][userID], nil
}

// fakeMessageStore is an in-memory store.MessageStore; set fail to exercise
// the degraded path.
type fakeMessageStore struct {
	mu       sync.Mutex
	messages map[string][]store.Message
	fail     bool
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{messages: make(map[string][]store.Message)}
}

func (f *fakeMessageStore) CreateMessage(_ context.Context, roomID, userID, body string) (*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("no such table: messages")
	}
	msg := store.Message{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		UserID:    userID,
		Body:      body,
		CreatedAt: time.Now(),
	}
	f.messages[roomID] = append(f.messages[roomID], msg)
	return &msg, nil
}

func (f *fakeMessageStore) ListRecentMessages(_ context.Context, roomID string, limit int) ([]store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("no such table: messages")
	}
	msgs := f.messages[roomID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]store.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (f *fakeMessageStore) count(roomID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages[roomID])
}

func newTestHub(rooms store.RoomStore, messages store.MessageStore) *Hub {
	return NewHub(rooms, messages, nil, Options{}, nil)
}

func connect(h *Hub, userID string) *Conn {
	c := NewConn(Identity{UserID: userID, Username: userID})
	h.Register(c)
	return c
}

func connectGuest(h *Hub, userID, roomID string, allowPrivate bool) *Conn {
	c := NewConn(Identity{
		UserID:       userID,
		Username:     "guest_" + userID,
		Guest:        true,
		GuestRoom:    roomID,
		AllowPrivate: allowPrivate,
	})
	h.Register(c)
	return c
}

// asWire renders an outbound message the way the transport would, so tests
// can assert on wire fields regardless of the concrete Go type.
func asWire(t *testing.T, msg any) map[string]any {
	t.Helper()

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal outbound: %v", err)
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		t.Fatalf("unmarshal outbound: %v", err)
	}
	return obj
}

// mustMessage polls a connection's outbound queue until a message of the
// wanted type arrives, skipping others.
func mustMessage(t *testing.T, c *Conn, msgType string) map[string]any {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case msg := <-c.Outbound():
			obj := asWire(t, msg)
			if obj["type"] == msgType {
				return obj
			}
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	t.Fatalf("expected message of type %q not received", msgType)
	return nil
}

// mustNoMessage asserts no message of the given type is queued.
func mustNoMessage(t *testing.T, c *Conn, msgType string) {
	t.Helper()

	for {
		select {
		case msg := <-c.Outbound():
			obj := asWire(t, msg)
			if obj["type"] == msgType {
				t.Fatalf("unexpected message of type %q: %v", msgType, obj)
			}
		default:
			return
		}
	}
}

func drain(c *Conn) {
	for {
		select {
		case <-c.Outbound():
		default:
			return
		}
	}
}
