package core

import (
	"context"
	"time"

	"github.com/peerbeam/peerbeam-server/internal/proto"
)

// Presence status values.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
	StatusInCall  = "in-call"
)

// PresenceSink receives derived presence updates. Writes are best-effort:
// failures are logged, never surfaced to the user operation.
type PresenceSink interface {
	SetUserStatus(ctx context.Context, userID, status string) error
	TouchLastSeen(ctx context.Context, userID string) error
}

// FanoutSink writes presence updates to several sinks, keeping the first
// error for the caller's log line.
type FanoutSink []PresenceSink

func (f FanoutSink) SetUserStatus(ctx context.Context, userID, status string) error {
	var first error
	for _, s := range f {
		if err := s.SetUserStatus(ctx, userID, status); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (f FanoutSink) TouchLastSeen(ctx context.Context, userID string) error {
	var first error
	for _, s := range f {
		if err := s.TouchLastSeen(ctx, userID); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Status derives a user's presence from the live tables: in-call while the
// user holds a call entry or any room membership, online while any
// connection is open, otherwise offline.
func (h *Hub) Status(userID string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.statusLocked(userID)
}

func (h *Hub) statusLocked(userID string) string {
	if _, ok := h.calls[userID]; ok {
		return StatusInCall
	}
	for _, members := range h.members {
		if _, ok := members[userID]; ok {
			return StatusInCall
		}
	}
	if len(h.conns[userID]) > 0 {
		return StatusOnline
	}
	return StatusOffline
}

// announcePresence recomputes a user's status, broadcasts it to everyone
// else, and persists it asynchronously.
func (h *Hub) announcePresence(userID string) {
	h.mu.Lock()
	status := h.statusLocked(userID)
	h.mu.Unlock()

	h.BroadcastExcept(proto.NewUserStatus(userID, status), userID)
	h.persistStatus(userID, status)
}

func (h *Hub) persistStatus(userID, status string) {
	if h.presence == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.presence.SetUserStatus(ctx, userID, status); err != nil {
			h.log.Warn().Err(err).Str("user_id", userID).Str("status", status).Msg("presence persist failed")
		}
	}()
}

func (h *Hub) touchLastSeen(userID string) {
	if h.presence == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.presence.TouchLastSeen(ctx, userID); err != nil {
			h.log.Warn().Err(err).Str("user_id", userID).Msg("last-seen touch failed")
		}
	}()
}
