package core

import (
	"github.com/peerbeam/peerbeam-server/internal/proto"
)

// The active call table pairs users symmetrically: calls[A] == B iff
// calls[B] == A. A pending offer lives in the ringing table until answered.
// There is no ring timeout: an unanswered offer is cleared only by an
// explicit hangup or by either side disconnecting.

// handleOffer checks for call collisions before relaying. If either party
// is already in a call or in any room the sender is told the call was
// rejected and the target never sees the offer.
func (h *Hub) handleOffer(c *Conn, m *proto.Signal) {
	if m.To == "" {
		h.sendErr(c, ErrCodeBadRequest, "to is required")
		return
	}

	h.mu.Lock()
	if h.busyLocked(c.UserID) || h.busyLocked(m.To) {
		h.mu.Unlock()
		h.log.Debug().Str("from", c.UserID).Str("to", m.To).Msg("offer rejected, party busy")
		c.send(proto.NewHangup(m.To, "rejected"))
		return
	}
	h.ringing[c.UserID] = m.To
	h.mu.Unlock()

	h.relaySignal(c, m)
}

func (h *Hub) busyLocked(userID string) bool {
	if _, ok := h.calls[userID]; ok {
		return true
	}
	for _, members := range h.members {
		if _, ok := members[userID]; ok {
			return true
		}
	}
	return false
}

// handleAnswer pairs caller and callee symmetrically and flips both
// presences to in-call. Only the callee of a pending offer may answer: an
// answer with no matching ringing entry, or for a party that entered another
// call in the meantime, is dropped without touching the table.
func (h *Hub) handleAnswer(c *Conn, m *proto.Signal) {
	if m.To == "" {
		h.sendErr(c, ErrCodeBadRequest, "to is required")
		return
	}

	caller := m.To
	h.mu.Lock()
	if h.ringing[caller] != c.UserID {
		h.mu.Unlock()
		h.log.Debug().Str("from", c.UserID).Str("caller", caller).Msg("dropping unsolicited answer")
		return
	}
	delete(h.ringing, caller)
	_, callerBusy := h.calls[caller]
	_, calleeBusy := h.calls[c.UserID]
	if callerBusy || calleeBusy {
		h.mu.Unlock()
		h.log.Debug().Str("from", c.UserID).Str("caller", caller).Msg("dropping stale answer, party already in call")
		return
	}
	h.calls[caller] = c.UserID
	h.calls[c.UserID] = caller
	h.mu.Unlock()

	h.relaySignal(c, m)

	h.announcePresence(caller)
	h.announcePresence(c.UserID)
}

// handleHangup clears both sides of the call. The peer is looked up from
// the table by sender identity, falling back to the message's declared
// target when no entry exists.
func (h *Hub) handleHangup(c *Conn, m *proto.Signal) {
	h.mu.Lock()
	peer, ok := h.calls[c.UserID]
	if !ok {
		peer = m.To
	}
	delete(h.calls, c.UserID)
	if peer != "" {
		delete(h.calls, peer)
	}
	delete(h.ringing, c.UserID)
	if peer != "" && h.ringing[peer] == c.UserID {
		delete(h.ringing, peer)
	}
	h.mu.Unlock()

	// A self-addressed hangup has nothing to relay.
	if peer != "" && peer != c.UserID {
		h.relaySignalTo(c, m, peer)
		h.announcePresence(peer)
	}
	h.announcePresence(c.UserID)
}

// CallPeer returns the user's current call peer, if any.
func (h *Hub) CallPeer(userID string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	peer, ok := h.calls[userID]
	return peer, ok
}

// handleStartCall relays the courtesy ring. It never touches the call
// table; the state transition happens on offer/answer.
func (h *Hub) handleStartCall(c *Conn, m *proto.StartCall) {
	if m.ReceiverID == "" {
		h.sendErr(c, ErrCodeBadRequest, "receiverId is required")
		return
	}
	h.SendToUser(m.ReceiverID, proto.NewIncomingCall(c.UserID, c.Username, m.CallType))
}

// relaySignal forwards a direct signaling message to its declared target,
// stamping the sender identity over any client-supplied "from".
func (h *Hub) relaySignal(c *Conn, m *proto.Signal) {
	h.relaySignalTo(c, m, m.To)
}

func (h *Hub) relaySignalTo(c *Conn, m *proto.Signal, target string) {
	obj, err := proto.Relay(m.Raw, c.UserID)
	if err != nil {
		h.log.Warn().Err(err).Str("type", m.Type).Msg("dropping unrelayable signal")
		return
	}
	h.SendToUser(target, obj)
}
