package core

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/peerbeam/peerbeam-server/internal/proto"
	"github.com/peerbeam/peerbeam-server/internal/store"
)

// Options tunes hub behavior. Zero values fall back to defaults.
type Options struct {
	MaxMessageLength   int
	HistoryLimit       int
	FallbackBufferSize int

	// Liveness: connections idle past PongTimeout are force-closed;
	// connections idle past PingInterval receive a presence-check ping.
	PingInterval  time.Duration
	PongTimeout   time.Duration
	SweepInterval time.Duration
}

func (o *Options) applyDefaults() {
	if o.MaxMessageLength <= 0 {
		o.MaxMessageLength = 2000
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 50
	}
	if o.FallbackBufferSize <= 0 {
		o.FallbackBufferSize = 100
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = 75 * time.Second
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = 15 * time.Second
	}
}

// Hub owns all live coordination state: the connection registry, live room
// membership, chat subscriptions, and the active call table. One mutex
// serializes mutations across the four tables; outbound delivery is
// fire-and-forget per connection and never blocks the mutation path.
type Hub struct {
	log      *zerolog.Logger
	rooms    store.RoomStore
	messages store.MessageStore
	presence PresenceSink
	opts     Options

	history *historyCache

	mu      sync.Mutex
	conns   map[string]map[*Conn]struct{}  // user -> live connections
	members map[string]map[string]struct{} // room -> live member user ids
	chat    map[string]map[string]struct{} // room -> chat-subscribed user ids
	calls   map[string]string              // user -> call peer (symmetric)
	ringing map[string]string              // caller -> callee, awaiting answer
}

// NewHub constructs the coordination hub. Store collaborators may be nil;
// room and chat operations then run purely on in-memory state.
func NewHub(rooms store.RoomStore, messages store.MessageStore, presence PresenceSink, opts Options, logger *zerolog.Logger) *Hub {
	opts.applyDefaults()
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Hub{
		log:      logger,
		rooms:    rooms,
		messages: messages,
		presence: presence,
		opts:     opts,
		history:  newHistoryCache(opts.FallbackBufferSize),
		conns:    make(map[string]map[*Conn]struct{}),
		members:  make(map[string]map[string]struct{}),
		chat:     make(map[string]map[string]struct{}),
		calls:    make(map[string]string),
		ringing:  make(map[string]string),
	}
}

// Run drives the liveness sweep until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			h.sweep(now)
		}
	}
}

func (h *Hub) sweep(now time.Time) {
	var evict, ping []*Conn

	h.mu.Lock()
	for _, set := range h.conns {
		for c := range set {
			idle := now.Sub(c.lastPong)
			switch {
			case idle > h.opts.PongTimeout:
				evict = append(evict, c)
			case idle > h.opts.PingInterval:
				ping = append(ping, c)
			}
		}
	}
	h.mu.Unlock()

	for _, c := range ping {
		c.send(proto.NewPresenceCheck(now.UnixMilli()))
	}
	for _, c := range evict {
		h.log.Warn().Str("user_id", c.UserID).Str("conn_id", c.ID).Msg("liveness timeout, closing connection")
		// Transport closes the socket; the usual unregister path cleans up.
		c.ForceClose(CloseCodeLivenessTimeout)
	}
}

// Register adds a connection to its user's registry entry. The first live
// connection announces the user to everyone else.
func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	set := h.conns[c.UserID]
	if set == nil {
		set = make(map[*Conn]struct{})
		h.conns[c.UserID] = set
	}
	set[c] = struct{}{}
	first := len(set) == 1
	c.lastPong = time.Now()
	h.mu.Unlock()

	h.log.Debug().Str("user_id", c.UserID).Str("conn_id", c.ID).Bool("first", first).Msg("connection registered")

	if first {
		h.BroadcastExcept(proto.NewUserConnected(c.UserID, c.Username), c.UserID)
		h.announcePresence(c.UserID)
	}
}

// Unregister removes a connection and runs disconnect cleanup: the session's
// room is left, chat subscriptions dropped, and on the last connection any
// active or ringing call is torn down with a synthesized hangup to the peer.
// Idempotent: a second call for the same connection is a no-op.
func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()

	set, ok := h.conns[c.UserID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok := set[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(set, c)
	last := len(set) == 0
	if last {
		delete(h.conns, c.UserID)
	}

	var leftRoom string
	var leftRemaining []string
	if c.room != "" {
		if left, remaining := h.leaveRoomLocked(c, c.room); left {
			leftRoom = c.room
			leftRemaining = remaining
		}
		c.room = ""
	}

	for roomID := range c.chatRooms {
		h.unsubscribeChatLocked(c, roomID)
	}

	// Call teardown is user-scoped, so it waits for the last connection.
	var hangupPeers []string
	if last {
		if peer, ok := h.calls[c.UserID]; ok {
			delete(h.calls, c.UserID)
			delete(h.calls, peer)
			hangupPeers = append(hangupPeers, peer)
		}
		if callee, ok := h.ringing[c.UserID]; ok {
			delete(h.ringing, c.UserID)
			hangupPeers = append(hangupPeers, callee)
		}
		for caller, callee := range h.ringing {
			if callee == c.UserID {
				delete(h.ringing, caller)
				hangupPeers = append(hangupPeers, caller)
			}
		}
	}
	h.mu.Unlock()

	for _, uid := range leftRemaining {
		h.SendToUser(uid, proto.NewRoomUserLeft(leftRoom, c.UserID))
	}

	for _, peer := range hangupPeers {
		h.SendToUser(peer, proto.NewHangup(c.UserID, "ended"))
		h.announcePresence(peer)
	}

	if last {
		h.BroadcastExcept(proto.NewUserDisconnected(c.UserID), c.UserID)
	}
	h.announcePresence(c.UserID)

	h.log.Debug().Str("user_id", c.UserID).Str("conn_id", c.ID).Bool("last", last).Msg("connection unregistered")
}

// SendToUser delivers a message to every open connection for the user.
// A user with no live connections is a silent no-op, not an error.
func (h *Hub) SendToUser(userID string, msg any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns[userID] {
		c.send(msg)
	}
}

// BroadcastExcept delivers to every connection of every registered user
// except the excluded identity.
func (h *Hub) BroadcastExcept(msg any, excludeUserID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for uid, set := range h.conns {
		if uid == excludeUserID {
			continue
		}
		for c := range set {
			c.send(msg)
		}
	}
}

// ConnectionCount reports the number of live connections for a user.
func (h *Hub) ConnectionCount(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns[userID])
}

func (h *Hub) sendErr(c *Conn, code, message string) {
	c.send(proto.NewError(code, message))
}
