package core

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// CloseCodeLivenessTimeout is the websocket close code used when the
// liveness sweep evicts a silent connection. Distinct from a normal close
// so clients can tell eviction from a graceful shutdown.
const CloseCodeLivenessTimeout = 4008

// Identity describes who owns a connection, resolved before the upgrade.
type Identity struct {
	UserID   string
	Username string
	Guest    bool
	// GuestRoom is the single room a guest credential is scoped to.
	GuestRoom string
	// AllowPrivate lets a guest credential pass the private-room gate for
	// its scoped room.
	AllowPrivate bool
}

// Conn is one open bidirectional channel for a user. A user may hold
// several (multi-device); each is owned by the hub's registry entry for
// that user.
type Conn struct {
	ID string
	Identity

	out  chan any
	done chan struct{}

	closeOnce sync.Once
	closeCode int

	// Guarded by the hub mutex.
	room      string
	chatRooms map[string]struct{}
	lastPong  time.Time
}

// NewConn constructs a connection with an initialized outbound queue.
func NewConn(identity Identity) *Conn {
	return &Conn{
		ID:        uuid.NewString(),
		Identity:  identity,
		out:       make(chan any, 32),
		done:      make(chan struct{}),
		chatRooms: make(map[string]struct{}),
	}
}

// send queues an outbound message without blocking. Slow consumers drop
// messages; state transitions are the source of truth, not delivery.
func (c *Conn) send(msg any) {
	select {
	case c.out <- msg:
	default:
	}
}

// Outbound is drained by the transport write loop.
func (c *Conn) Outbound() <-chan any {
	return c.out
}

// Done is closed when the server force-closes the connection.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// CloseCode returns the close code set by ForceClose, or zero.
func (c *Conn) CloseCode() int {
	return c.closeCode
}

// ForceClose asks the transport to close the underlying channel with the
// given code. Safe to call more than once.
func (c *Conn) ForceClose(code int) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		close(c.done)
	})
}
