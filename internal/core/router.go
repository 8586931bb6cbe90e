package core

import (
	"context"
	"time"

	"github.com/peerbeam/peerbeam-server/internal/proto"
)

// Dispatch routes one parsed inbound message to its handler, enforcing the
// authorization and room/call invariants. Unknown kinds never reach here;
// proto.Decode rejects them at the transport.
func (h *Hub) Dispatch(ctx context.Context, c *Conn, msg proto.Inbound) {
	switch m := msg.(type) {
	case *proto.Signal:
		if c.Guest {
			h.sendErr(c, ErrCodeUnauthorized, "guests cannot use call signaling")
			return
		}
		switch m.Type {
		case proto.TypeOffer:
			h.handleOffer(c, m)
		case proto.TypeAnswer:
			h.handleAnswer(c, m)
		case proto.TypeHangup:
			h.handleHangup(c, m)
		default: // ice-candidate, screen-share: pure relay
			h.relaySignal(c, m)
		}

	case *proto.Typing:
		// Relay-only, no state mutation. Guests are excluded.
		if c.Guest || m.To == "" {
			return
		}
		h.SendToUser(m.To, proto.NewTypingRelay(c.UserID, m.IsTyping))

	case *proto.RoomSignal:
		h.relayRoomSignal(c, m)

	case *proto.JoinRoom:
		h.handleJoinRoom(ctx, c, m)

	case *proto.LeaveRoom:
		h.handleLeaveRoom(c)

	case *proto.JoinRoomChat:
		h.handleJoinRoomChat(ctx, c, m)

	case *proto.LeaveRoomChat:
		h.handleLeaveRoomChat(c, m)

	case *proto.RoomMessage:
		h.handleRoomMessage(ctx, c, m)

	case *proto.StartCall:
		if c.Guest {
			h.sendErr(c, ErrCodeUnauthorized, "guests cannot start calls")
			return
		}
		h.handleStartCall(c, m)

	case *proto.PresencePong:
		h.mu.Lock()
		c.lastPong = time.Now()
		h.mu.Unlock()
		h.touchLastSeen(c.UserID)
	}
}

// relayRoomSignal forwards room-scoped media signaling. Both sender and
// target must be live members of the named room; anything else is silently
// dropped.
func (h *Hub) relayRoomSignal(c *Conn, m *proto.RoomSignal) {
	if m.To == "" || m.RoomID == "" {
		return
	}

	h.mu.Lock()
	members := h.members[m.RoomID]
	_, senderIn := members[c.UserID]
	_, targetIn := members[m.To]
	h.mu.Unlock()

	if !senderIn || !targetIn {
		return
	}

	obj, err := proto.Relay(m.Raw, c.UserID)
	if err != nil {
		h.log.Warn().Err(err).Str("type", m.Type).Msg("dropping unrelayable room signal")
		return
	}
	h.SendToUser(m.To, obj)
}
