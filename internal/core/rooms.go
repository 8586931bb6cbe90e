package core

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/peerbeam/peerbeam-server/internal/auth"
	"github.com/peerbeam/peerbeam-server/internal/proto"
	"github.com/peerbeam/peerbeam-server/internal/store"
)

// handleJoinRoom runs the full join validation chain: guest scope, room
// record lookup/creation, privacy, guest liveness restriction, capacity.
// Capacity is checked under the table mutex together with the insert, so a
// concurrent join flood cannot overshoot the limit. A connection already in
// another room auto-leaves it first.
func (h *Hub) handleJoinRoom(ctx context.Context, c *Conn, m *proto.JoinRoom) {
	roomID := m.RoomID
	if roomID == "" {
		h.sendErr(c, ErrCodeBadRequest, "roomId is required")
		return
	}

	if c.Guest && roomID != c.GuestRoom {
		h.sendErr(c, ErrCodeUnauthorized, "guest credential is not valid for this room")
		return
	}

	room, err := h.lookupRoom(ctx, c, m)
	if err != nil {
		return // error already sent
	}

	// Privacy gate. Owners always pass; others need a password match, a
	// bypass grant, or persisted membership. Wrong password is reported
	// distinctly from room_not_found.
	if room.IsPrivate && room.OwnerID != c.UserID {
		bypass := c.Guest && c.AllowPrivate && roomID == c.GuestRoom
		if !bypass && !h.privateRoomAccess(ctx, c, room, m.Password) {
			h.sendErr(c, ErrCodeWrongPassword, "invalid room password")
			return
		}
	}

	h.mu.Lock()
	members := h.members[roomID]
	_, already := members[c.UserID]

	if c.Guest && !already && !h.hasNonGuestMemberLocked(roomID) {
		h.mu.Unlock()
		h.sendErr(c, ErrCodeUnauthorized, "room is not active")
		return
	}

	if room.MaxParticipants > 0 && !already && len(members) >= room.MaxParticipants {
		h.mu.Unlock()
		h.sendErr(c, ErrCodeRoomFull, "room is full")
		return
	}

	var leftRoom string
	var leftRemaining []string
	if c.room != "" && c.room != roomID {
		if left, remaining := h.leaveRoomLocked(c, c.room); left {
			leftRoom = c.room
			leftRemaining = remaining
		}
	}

	if members == nil {
		members = make(map[string]struct{})
		h.members[roomID] = members
	}
	joined := !already
	members[c.UserID] = struct{}{}
	c.room = roomID

	snapshot := make([]string, 0, len(members))
	for uid := range members {
		snapshot = append(snapshot, uid)
	}
	h.mu.Unlock()

	for _, uid := range leftRemaining {
		h.SendToUser(uid, proto.NewRoomUserLeft(leftRoom, c.UserID))
	}

	c.send(proto.NewRoomJoined(roomID, snapshot, c.UserID))
	if joined {
		for _, uid := range snapshot {
			if uid != c.UserID {
				h.SendToUser(uid, proto.NewRoomUserJoined(roomID, c.UserID))
			}
		}
	}

	h.log.Info().Str("user_id", c.UserID).Str("room_id", roomID).Int("members", len(snapshot)).Msg("joined room")
	h.announcePresence(c.UserID)
}

// lookupRoom fetches the persisted room record, creating it when asked.
// A store missing its schema degrades to an open synthetic record rather
// than failing the join.
func (h *Hub) lookupRoom(ctx context.Context, c *Conn, m *proto.JoinRoom) (*store.Room, error) {
	if h.rooms == nil {
		return &store.Room{ID: m.RoomID, Name: m.RoomID}, nil
	}

	room, err := h.rooms.GetRoomByID(ctx, m.RoomID)
	if err == nil {
		return room, nil
	}

	if errors.Is(err, store.ErrNotFound) {
		if !m.Create || c.Guest {
			h.sendErr(c, ErrCodeRoomNotFound, "room not found")
			return nil, err
		}
		return h.createRoom(ctx, c, m)
	}

	if store.IsSchemaErr(err) {
		h.log.Warn().Err(err).Str("room_id", m.RoomID).Msg("room store degraded, treating room as open")
		return &store.Room{ID: m.RoomID, Name: m.RoomID}, nil
	}

	h.log.Error().Err(err).Str("room_id", m.RoomID).Msg("room lookup failed")
	h.sendErr(c, ErrCodeBadRequest, "room lookup failed")
	return nil, err
}

func (h *Hub) createRoom(ctx context.Context, c *Conn, m *proto.JoinRoom) (*store.Room, error) {
	name := m.Name
	if name == "" {
		name = m.RoomID
	}

	var pwHash string
	if m.IsPrivate && m.Password != "" {
		hash, err := auth.HashPassword(m.Password)
		if err != nil {
			h.sendErr(c, ErrCodeBadRequest, "invalid room password")
			return nil, err
		}
		pwHash = hash
	}

	room, err := h.rooms.CreateRoom(ctx, &store.Room{
		ID:           m.RoomID,
		Name:         name,
		OwnerID:      c.UserID,
		IsPrivate:    m.IsPrivate,
		PasswordHash: pwHash,
	})
	if err != nil {
		if store.IsSchemaErr(err) {
			h.log.Warn().Err(err).Str("room_id", m.RoomID).Msg("room store degraded, room not persisted")
			return &store.Room{ID: m.RoomID, Name: name, OwnerID: c.UserID, IsPrivate: m.IsPrivate, PasswordHash: pwHash}, nil
		}
		h.log.Error().Err(err).Str("room_id", m.RoomID).Msg("room create failed")
		h.sendErr(c, ErrCodeBadRequest, "failed to create room")
		return nil, err
	}

	if err := h.rooms.AddRoomMember(ctx, room.ID, c.UserID); err != nil {
		h.log.Warn().Err(err).Str("room_id", room.ID).Msg("owner roster write failed")
	}

	return room, nil
}

func (h *Hub) privateRoomAccess(ctx context.Context, c *Conn, room *store.Room, password string) bool {
	if password != "" && room.PasswordHash != "" {
		if auth.ComparePassword(room.PasswordHash, password) == nil {
			return true
		}
		return false
	}
	if h.rooms == nil {
		return false
	}
	member, err := h.rooms.IsRoomMember(ctx, room.ID, c.UserID)
	if err != nil {
		h.log.Warn().Err(err).Str("room_id", room.ID).Msg("roster lookup failed")
		return false
	}
	return member
}

func (h *Hub) hasNonGuestMemberLocked(roomID string) bool {
	for uid := range h.members[roomID] {
		for conn := range h.conns[uid] {
			if !conn.Guest {
				return true
			}
		}
	}
	return false
}

// handleLeaveRoom leaves the connection's current room.
func (h *Hub) handleLeaveRoom(c *Conn) {
	h.mu.Lock()
	roomID := c.room
	if roomID == "" {
		h.mu.Unlock()
		h.sendErr(c, ErrCodeNotInRoom, "not in a room")
		return
	}
	left, remaining := h.leaveRoomLocked(c, roomID)
	c.room = ""
	h.mu.Unlock()

	if left {
		for _, uid := range remaining {
			h.SendToUser(uid, proto.NewRoomUserLeft(roomID, c.UserID))
		}
	}

	h.log.Info().Str("user_id", c.UserID).Str("room_id", roomID).Msg("left room")
	h.announcePresence(c.UserID)
}

// leaveRoomLocked removes the user from a room's live membership unless
// another of the user's connections still holds the same room session. An
// emptied room is deleted and its transcript cache cleared.
func (h *Hub) leaveRoomLocked(c *Conn, roomID string) (left bool, remaining []string) {
	for other := range h.conns[c.UserID] {
		if other != c && other.room == roomID {
			return false, nil
		}
	}

	members := h.members[roomID]
	if members == nil {
		return false, nil
	}
	if _, ok := members[c.UserID]; !ok {
		return false, nil
	}

	delete(members, c.UserID)
	if len(members) == 0 {
		delete(h.members, roomID)
		h.history.Evict(roomID)
		return true, nil
	}

	remaining = make([]string, 0, len(members))
	for uid := range members {
		remaining = append(remaining, uid)
	}
	return true, remaining
}

// MembersOf returns a snapshot of a room's live membership.
func (h *Hub) MembersOf(roomID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := h.members[roomID]
	out := make([]string, 0, len(members))
	for uid := range members {
		out = append(out, uid)
	}
	return out
}

// handleJoinRoomChat subscribes the connection to a room's chat broadcast
// and replies with a history snapshot. Access requires the room to be
// non-private, owned by the user, or covered by a guest bypass grant.
func (h *Hub) handleJoinRoomChat(ctx context.Context, c *Conn, m *proto.JoinRoomChat) {
	if m.RoomID == "" {
		h.sendErr(c, ErrCodeBadRequest, "roomId is required")
		return
	}

	if !h.chatAccess(ctx, c, m.RoomID) {
		return // error already sent
	}

	h.mu.Lock()
	subs := h.chat[m.RoomID]
	if subs == nil {
		subs = make(map[string]struct{})
		h.chat[m.RoomID] = subs
	}
	subs[c.UserID] = struct{}{}
	c.chatRooms[m.RoomID] = struct{}{}
	h.mu.Unlock()

	c.send(proto.NewRoomMessages(m.RoomID, h.historySnapshot(ctx, m.RoomID)))
}

func (h *Hub) chatAccess(ctx context.Context, c *Conn, roomID string) bool {
	if h.rooms == nil {
		return true
	}

	room, err := h.rooms.GetRoomByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.sendErr(c, ErrCodeRoomNotFound, "room not found")
			return false
		}
		if store.IsSchemaErr(err) {
			h.log.Warn().Err(err).Str("room_id", roomID).Msg("room store degraded, allowing chat access")
			return true
		}
		h.sendErr(c, ErrCodeBadRequest, "room lookup failed")
		return false
	}

	if room.IsPrivate && room.OwnerID != c.UserID {
		if c.Guest && c.AllowPrivate && roomID == c.GuestRoom {
			return true
		}
		h.sendErr(c, ErrCodeUnauthorized, "chat access denied")
		return false
	}
	return true
}

func (h *Hub) historySnapshot(ctx context.Context, roomID string) []proto.ChatMessage {
	if h.messages != nil {
		msgs, err := h.messages.ListRecentMessages(ctx, roomID, h.opts.HistoryLimit)
		if err == nil {
			return toChatMessages(msgs)
		}
		h.log.Warn().Err(err).Str("room_id", roomID).Msg("message store degraded, serving cached history")
	}
	return toChatMessages(h.history.Recent(roomID))
}

// handleLeaveRoomChat unsubscribes the connection from a room's chat.
func (h *Hub) handleLeaveRoomChat(c *Conn, m *proto.LeaveRoomChat) {
	if m.RoomID == "" {
		h.sendErr(c, ErrCodeBadRequest, "roomId is required")
		return
	}
	h.mu.Lock()
	h.unsubscribeChatLocked(c, m.RoomID)
	h.mu.Unlock()
}

// unsubscribeChatLocked drops the connection's subscription; the user stays
// in the chat table while another of their connections is subscribed.
func (h *Hub) unsubscribeChatLocked(c *Conn, roomID string) {
	delete(c.chatRooms, roomID)

	for other := range h.conns[c.UserID] {
		if other == c {
			continue
		}
		if _, ok := other.chatRooms[roomID]; ok {
			return
		}
	}

	subs := h.chat[roomID]
	if subs == nil {
		return
	}
	delete(subs, c.UserID)
	if len(subs) == 0 {
		delete(h.chat, roomID)
	}
}

// handleRoomMessage validates, persists (with in-memory fallback), and fans
// out a chat message to the room's chat subscribers. Oversized messages are
// rejected before reaching the store or any subscriber.
func (h *Hub) handleRoomMessage(ctx context.Context, c *Conn, m *proto.RoomMessage) {
	if m.RoomID == "" {
		h.sendErr(c, ErrCodeBadRequest, "roomId is required")
		return
	}
	if strings.TrimSpace(m.Body) == "" {
		h.sendErr(c, ErrCodeBadRequest, "message body is empty")
		return
	}
	if len(m.Body) > h.opts.MaxMessageLength {
		h.sendErr(c, ErrCodeMessageTooLong, "message body exceeds maximum length")
		return
	}

	h.mu.Lock()
	_, subscribed := h.chat[m.RoomID][c.UserID]
	h.mu.Unlock()
	if !subscribed {
		h.sendErr(c, ErrCodeNotInRoom, "not subscribed to room chat")
		return
	}

	msg := h.persistMessage(ctx, c, m)
	h.history.Add(m.RoomID, msg)

	h.mu.Lock()
	targets := make([]string, 0, len(h.chat[m.RoomID]))
	for uid := range h.chat[m.RoomID] {
		targets = append(targets, uid)
	}
	h.mu.Unlock()

	out := proto.NewChatMessage(toChatMessage(msg))
	for _, uid := range targets {
		h.SendToUser(uid, out)
	}
}

func (h *Hub) persistMessage(ctx context.Context, c *Conn, m *proto.RoomMessage) store.Message {
	if h.messages != nil {
		saved, err := h.messages.CreateMessage(ctx, m.RoomID, c.UserID, m.Body)
		if err == nil {
			if saved.Username == "" {
				saved.Username = c.Username
			}
			return *saved
		}
		h.log.Warn().Err(err).Str("room_id", m.RoomID).Msg("message store degraded, caching message in memory")
	}
	return store.Message{
		ID:        uuid.NewString(),
		RoomID:    m.RoomID,
		UserID:    c.UserID,
		Username:  c.Username,
		Body:      m.Body,
		CreatedAt: time.Now().UTC(),
	}
}

func toChatMessage(m store.Message) proto.ChatMessage {
	return proto.ChatMessage{
		ID:       m.ID,
		RoomID:   m.RoomID,
		From:     m.UserID,
		Username: m.Username,
		Body:     m.Body,
		TS:       m.CreatedAt.Unix(),
	}
}

func toChatMessages(msgs []store.Message) []proto.ChatMessage {
	out := make([]proto.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toChatMessage(m))
	}
	return out
}
