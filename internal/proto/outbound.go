package proto

// Outbound structs marshal to the flat wire format, each carrying its own
// "type" tag. Constructors keep the tag values in one place.

// UserConnected announces a user's first live connection.
type UserConnected struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
}

// UserDisconnected announces a user's last connection closing.
type UserDisconnected struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// UserStatus broadcasts a recomputed presence status.
type UserStatus struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
	Status string `json:"status"`
}

// RoomJoined confirms a successful join to the joining connection.
type RoomJoined struct {
	Type   string   `json:"type"`
	RoomID string   `json:"roomId"`
	Users  []string `json:"users"`
	You    string   `json:"you"`
}

// RoomUserJoined tells prior members that someone joined.
type RoomUserJoined struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// RoomUserLeft tells remaining members that someone left.
type RoomUserLeft struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// ChatMessage is a single chat message fanned out to subscribers and
// embedded in history snapshots.
type ChatMessage struct {
	ID       string `json:"id"`
	RoomID   string `json:"roomId"`
	From     string `json:"from"`
	Username string `json:"username,omitempty"`
	Body     string `json:"body"`
	TS       int64  `json:"ts"`
}

// RoomMessages is a chat history snapshot.
type RoomMessages struct {
	Type     string        `json:"type"`
	RoomID   string        `json:"roomId"`
	Messages []ChatMessage `json:"messages"`
}

// NewRoomMessage wraps a single fresh chat message.
type NewRoomMessage struct {
	Type string `json:"type"`
	ChatMessage
}

// Error reports an operation failure to the offending connection only.
type Error struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// PresenceCheck is a liveness ping; clients answer with presence-pong.
type PresenceCheck struct {
	Type string `json:"type"`
	TS   int64  `json:"ts"`
}

// IncomingCall is the courtesy ring sent on start-call.
type IncomingCall struct {
	Type     string `json:"type"`
	From     string `json:"from"`
	Username string `json:"username,omitempty"`
	CallType string `json:"callType,omitempty"`
}

// TypingRelay forwards a typing indicator with the sender stamped.
type TypingRelay struct {
	Type     string `json:"type"`
	From     string `json:"from"`
	IsTyping bool   `json:"isTyping"`
}

// Hangup is synthesized by the server on call rejection and disconnect.
type Hangup struct {
	Type   string `json:"type"`
	From   string `json:"from"`
	Reason string `json:"reason"`
}

func NewUserConnected(userID, username string) UserConnected {
	return UserConnected{Type: TypeUserConnected, UserID: userID, Username: username}
}

func NewUserDisconnected(userID string) UserDisconnected {
	return UserDisconnected{Type: TypeUserDisconnected, UserID: userID}
}

func NewUserStatus(userID, status string) UserStatus {
	return UserStatus{Type: TypeUserStatus, UserID: userID, Status: status}
}

func NewRoomJoined(roomID string, users []string, you string) RoomJoined {
	return RoomJoined{Type: TypeRoomJoined, RoomID: roomID, Users: users, You: you}
}

func NewRoomUserJoined(roomID, userID string) RoomUserJoined {
	return RoomUserJoined{Type: TypeRoomUserJoined, RoomID: roomID, UserID: userID}
}

func NewRoomUserLeft(roomID, userID string) RoomUserLeft {
	return RoomUserLeft{Type: TypeRoomUserLeft, RoomID: roomID, UserID: userID}
}

func NewRoomMessages(roomID string, messages []ChatMessage) RoomMessages {
	if messages == nil {
		messages = []ChatMessage{}
	}
	return RoomMessages{Type: TypeRoomMessages, RoomID: roomID, Messages: messages}
}

func NewChatMessage(msg ChatMessage) NewRoomMessage {
	return NewRoomMessage{Type: TypeRoomMessage, ChatMessage: msg}
}

func NewError(code, message string) Error {
	return Error{Type: TypeError, Code: code, Message: message}
}

func NewPresenceCheck(ts int64) PresenceCheck {
	return PresenceCheck{Type: TypePresenceCheck, TS: ts}
}

func NewIncomingCall(from, username, callType string) IncomingCall {
	return IncomingCall{Type: TypeIncomingCall, From: from, Username: username, CallType: callType}
}

func NewTypingRelay(from string, isTyping bool) TypingRelay {
	return TypingRelay{Type: TypeTyping, From: from, IsTyping: isTyping}
}

func NewHangup(from, reason string) Hangup {
	return Hangup{Type: TypeHangup, From: from, Reason: reason}
}
