package core

import (
	"sync"

	"github.com/peerbeam/peerbeam-server/internal/store"
)

// historyCache is the per-room chat transcript cache: a fixed-capacity ring
// buffer per room. It receives every relayed message and serves history
// snapshots when the persistence store is unavailable. Entries for a room
// are dropped when the live room empties.
type historyCache struct {
	mu    sync.Mutex
	cap   int
	rooms map[string][]store.Message
}

func newHistoryCache(capacity int) *historyCache {
	return &historyCache{
		cap:   capacity,
		rooms: make(map[string][]store.Message),
	}
}

// Add appends a message, evicting the oldest once the ring is full.
func (h *historyCache) Add(roomID string, msg store.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	buf := append(h.rooms[roomID], msg)
	if len(buf) > h.cap {
		buf = buf[len(buf)-h.cap:]
	}
	h.rooms[roomID] = buf
}

// Recent returns a snapshot of the cached transcript in chronological order.
func (h *historyCache) Recent(roomID string) []store.Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	buf := h.rooms[roomID]
	out := make([]store.Message, len(buf))
	copy(out, buf)
	return out
}

// Evict clears a room's transcript.
func (h *historyCache) Evict(roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms, roomID)
}
