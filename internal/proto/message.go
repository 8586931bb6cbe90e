package proto

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Inbound message kinds. The wire format is one flat JSON object per
// message, discriminated by a "type" field.
const (
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice-candidate"
	TypeHangup       = "hangup"
	TypeScreenShare  = "screen-share"
	TypeTyping       = "typing"
	TypeRoomOffer    = "room-offer"
	TypeRoomAnswer   = "room-answer"
	TypeRoomICE      = "room-ice"
	TypeJoinRoom     = "join-room"
	TypeLeaveRoom    = "leave-room"
	TypeJoinRoomChat = "join-room-chat"
	TypeLeaveRoomChat = "leave-room-chat"
	TypeRoomMessage  = "room-message"
	TypeStartCall    = "start-call"
	TypePresencePong = "presence-pong"
)

// Outbound message kinds produced by the server.
const (
	TypeUserConnected    = "user-connected"
	TypeUserDisconnected = "user-disconnected"
	TypeUserStatus       = "user-status"
	TypeRoomJoined       = "room-joined"
	TypeRoomUserJoined   = "room-user-joined"
	TypeRoomUserLeft     = "room-user-left"
	TypeRoomMessages     = "room-messages"
	TypeError            = "error"
	TypePresenceCheck    = "presence-check"
	TypeIncomingCall     = "incoming-call"
)

// ErrUnknownType is returned by Decode for message kinds the server does
// not understand. Callers are expected to ignore such messages.
var ErrUnknownType = errors.New("unknown message type")

// Inbound is the tagged union of client-to-server messages. Decode returns
// exactly one of the concrete types below.
type Inbound interface {
	inbound()
}

// Signal is a direct signaling message (offer, answer, ice-candidate,
// hangup, screen-share) relayed to a single target user. Raw holds the
// original JSON object so opaque payload fields survive the relay.
type Signal struct {
	Type   string          `json:"type"`
	To     string          `json:"to"`
	Reason string          `json:"reason,omitempty"`
	Raw    json.RawMessage `json:"-"`
}

// Typing is a typing indicator relayed to a single target user.
type Typing struct {
	To       string `json:"to"`
	IsTyping bool   `json:"isTyping"`
}

// RoomSignal is room-scoped media signaling (room-offer, room-answer,
// room-ice) relayed to a single room member.
type RoomSignal struct {
	Type   string          `json:"type"`
	To     string          `json:"to"`
	RoomID string          `json:"roomId"`
	Raw    json.RawMessage `json:"-"`
}

// JoinRoom asks to join a room, optionally creating it.
type JoinRoom struct {
	RoomID    string `json:"roomId"`
	Create    bool   `json:"create,omitempty"`
	Name      string `json:"name,omitempty"`
	IsPrivate bool   `json:"isPrivate,omitempty"`
	Password  string `json:"password,omitempty"`
}

// LeaveRoom leaves the room this connection is currently joined to.
type LeaveRoom struct{}

// JoinRoomChat subscribes the connection to a room's chat broadcast.
type JoinRoomChat struct {
	RoomID string `json:"roomId"`
}

// LeaveRoomChat unsubscribes the connection from a room's chat broadcast.
type LeaveRoomChat struct {
	RoomID string `json:"roomId"`
}

// RoomMessage is a chat message addressed to a room.
type RoomMessage struct {
	RoomID string `json:"roomId"`
	Body   string `json:"body"`
}

// StartCall is a non-binding ring notification; call state only changes on
// offer/answer.
type StartCall struct {
	ReceiverID string `json:"receiverId"`
	CallType   string `json:"callType"`
}

// PresencePong answers a presence-check ping.
type PresencePong struct{}

func (*Signal) inbound()        {}
func (*Typing) inbound()        {}
func (*RoomSignal) inbound()    {}
func (*JoinRoom) inbound()      {}
func (*LeaveRoom) inbound()     {}
func (*JoinRoomChat) inbound()  {}
func (*LeaveRoomChat) inbound() {}
func (*RoomMessage) inbound()   {}
func (*StartCall) inbound()     {}
func (*PresencePong) inbound()  {}

// Decode parses one wire message into its concrete inbound type.
// Unknown kinds yield ErrUnknownType; malformed JSON yields a decode error.
func Decode(data []byte) (Inbound, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch head.Type {
	case TypeOffer, TypeAnswer, TypeICECandidate, TypeHangup, TypeScreenShare:
		var m Signal
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", head.Type, err)
		}
		m.Raw = append(json.RawMessage(nil), data...)
		return &m, nil
	case TypeTyping:
		var m Typing
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode typing: %w", err)
		}
		return &m, nil
	case TypeRoomOffer, TypeRoomAnswer, TypeRoomICE:
		var m RoomSignal
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", head.Type, err)
		}
		m.Raw = append(json.RawMessage(nil), data...)
		return &m, nil
	case TypeJoinRoom:
		var m JoinRoom
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode join-room: %w", err)
		}
		return &m, nil
	case TypeLeaveRoom:
		return &LeaveRoom{}, nil
	case TypeJoinRoomChat:
		var m JoinRoomChat
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode join-room-chat: %w", err)
		}
		return &m, nil
	case TypeLeaveRoomChat:
		var m LeaveRoomChat
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode leave-room-chat: %w", err)
		}
		return &m, nil
	case TypeRoomMessage:
		var m RoomMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode room-message: %w", err)
		}
		return &m, nil
	case TypeStartCall:
		var m StartCall
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode start-call: %w", err)
		}
		return &m, nil
	case TypePresencePong:
		return &PresencePong{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, head.Type)
	}
}

// Relay re-tags a signaling message with the sender identity, keeping any
// opaque payload fields intact. The "from" field is overwritten; a spoofed
// value supplied by the client never survives.
func Relay(raw json.RawMessage, from string) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("relay payload: %w", err)
	}
	obj["from"] = from
	return obj, nil
}
