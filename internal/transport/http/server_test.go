package http

import (
	"bytes"
	"context"
	"encoding/json"
	stdhttp "net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/peerbeam/peerbeam-server/internal/auth"
	"github.com/peerbeam/peerbeam-server/internal/config"
	"github.com/peerbeam/peerbeam-server/internal/core"
	"github.com/peerbeam/peerbeam-server/internal/store/sqlite"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	st := newTestStore(t)
	cfg := config.Default()
	jwtConfig := &auth.JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      time.Hour,
		GuestTTL: 30 * time.Minute,
	}
	authService := auth.NewService(st, jwtConfig)
	logger := zerolog.Nop()
	hub := core.NewHub(st, st, core.FanoutSink{st}, core.Options{}, &logger)

	server := NewServer(hub, authService, st, &cfg, &logger)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, token string, body any) *stdhttp.Response {
	t.Helper()

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req, err := stdhttp.NewRequest(stdhttp.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := stdhttp.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func decodeJSON[T any](t *testing.T, resp *stdhttp.Response) T {
	t.Helper()

	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func registerUser(t *testing.T, ts *httptest.Server, username string) string {
	t.Helper()

	resp := postJSON(t, ts.URL+"/api/register", "", RegisterRequest{Username: username, Password: "secret123"})
	if resp.StatusCode != stdhttp.StatusCreated {
		t.Fatalf("register %s: status %d", username, resp.StatusCode)
	}
	return decodeJSON[AuthResponse](t, resp).Token
}

func dialWS(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?" + query
	conn, _, err := websocket.Dial(context.Background(), url, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "test done") })
	return conn
}

// readWSMessage pulls frames until one of the wanted type arrives.
func readWSMessage(t *testing.T, conn *websocket.Conn, msgType string) map[string]any {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		var obj map[string]any
		if err := wsjson.Read(ctx, conn, &obj); err != nil {
			t.Fatalf("read ws waiting for %q: %v", msgType, err)
		}
		if obj["type"] == msgType {
			return obj
		}
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, err := stdhttp.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != stdhttp.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestRegisterAndLoginEndpoints(t *testing.T) {
	ts := newTestServer(t)

	token := registerUser(t, ts, "alice")
	if token == "" {
		t.Fatal("empty token")
	}

	resp := postJSON(t, ts.URL+"/api/register", "", RegisterRequest{Username: "alice", Password: "secret123"})
	if resp.StatusCode != stdhttp.StatusConflict {
		t.Fatalf("duplicate register: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/api/login", "", LoginRequest{Username: "alice", Password: "secret123"})
	if resp.StatusCode != stdhttp.StatusOK {
		t.Fatalf("login: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/api/login", "", LoginRequest{Username: "alice", Password: "wrong"})
	if resp.StatusCode != stdhttp.StatusUnauthorized {
		t.Fatalf("bad login: status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRoomsEndpointRequiresAuth(t *testing.T) {
	ts := newTestServer(t)

	resp, err := stdhttp.Get(ts.URL + "/api/rooms")
	if err != nil {
		t.Fatalf("get rooms: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != stdhttp.StatusUnauthorized {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestCreateAndListRooms(t *testing.T) {
	ts := newTestServer(t)
	token := registerUser(t, ts, "alice")

	resp := postJSON(t, ts.URL+"/api/rooms", token, CreateRoomRequest{Name: "standup", MaxParticipants: 4})
	if resp.StatusCode != stdhttp.StatusCreated {
		t.Fatalf("create room: status %d", resp.StatusCode)
	}
	room := decodeJSON[RoomResponse](t, resp)
	if room.ID == "" || room.Name != "standup" || room.MaxParticipants != 4 {
		t.Fatalf("unexpected room: %+v", room)
	}

	req, _ := stdhttp.NewRequest(stdhttp.MethodGet, ts.URL+"/api/rooms", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	listResp, err := stdhttp.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("list rooms: %v", err)
	}
	rooms := decodeJSON[[]RoomResponse](t, listResp)
	if len(rooms) != 1 || rooms[0].ID != room.ID {
		t.Fatalf("unexpected room list: %+v", rooms)
	}
}

func TestGuestTokenOwnerOnly(t *testing.T) {
	ts := newTestServer(t)
	owner := registerUser(t, ts, "owner")
	intruder := registerUser(t, ts, "intruder")

	resp := postJSON(t, ts.URL+"/api/rooms", owner, CreateRoomRequest{Name: "standup"})
	room := decodeJSON[RoomResponse](t, resp)

	resp = postJSON(t, ts.URL+"/api/rooms/"+room.ID+"/guest-token", intruder, GuestTokenRequest{})
	if resp.StatusCode != stdhttp.StatusForbidden {
		t.Fatalf("intruder mint: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/api/rooms/"+room.ID+"/guest-token", owner, GuestTokenRequest{})
	if resp.StatusCode != stdhttp.StatusOK {
		t.Fatalf("owner mint: status %d", resp.StatusCode)
	}
	if decodeJSON[AuthResponse](t, resp).Token == "" {
		t.Fatal("empty guest token")
	}

	resp = postJSON(t, ts.URL+"/api/rooms/missing/guest-token", owner, GuestTokenRequest{})
	if resp.StatusCode != stdhttp.StatusNotFound {
		t.Fatalf("missing room: status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestWSRejectsBadCredentials(t *testing.T) {
	ts := newTestServer(t)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	cases := []string{
		url,
		url + "?token=garbage",
		url + "?guest=garbage",
	}
	for _, u := range cases {
		_, resp, err := websocket.Dial(context.Background(), u, nil)
		if err == nil {
			t.Fatalf("expected dial failure for %s", u)
		}
		if resp == nil || resp.StatusCode != stdhttp.StatusUnauthorized {
			t.Fatalf("expected 401 for %s, got %v", u, resp)
		}
	}
}

func TestWSGuestTokenRejectedOnTokenParam(t *testing.T) {
	ts := newTestServer(t)
	owner := registerUser(t, ts, "owner")

	resp := postJSON(t, ts.URL+"/api/rooms", owner, CreateRoomRequest{Name: "standup"})
	room := decodeJSON[RoomResponse](t, resp)
	resp = postJSON(t, ts.URL+"/api/rooms/"+room.ID+"/guest-token", owner, GuestTokenRequest{})
	guestToken := decodeJSON[AuthResponse](t, resp).Token

	// Guest credentials only work on the guest parameter.
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=" + guestToken
	_, dialResp, err := websocket.Dial(context.Background(), url, nil)
	if err == nil {
		t.Fatal("expected dial failure for guest token on token param")
	}
	if dialResp == nil || dialResp.StatusCode != stdhttp.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", dialResp)
	}
}

func TestWSSignalRelayEndToEnd(t *testing.T) {
	ts := newTestServer(t)
	aliceToken := registerUser(t, ts, "alice")
	bobToken := registerUser(t, ts, "bob")

	aliceConn := dialWS(t, ts, "token="+aliceToken)
	bobConn := dialWS(t, ts, "token="+bobToken)

	ctx := context.Background()

	// Alice sees bob's user-id in the connect announcement.
	connected := readWSMessage(t, aliceConn, "user-connected")
	bobID, _ := connected["userId"].(string)
	if bobID == "" {
		t.Fatalf("missing user id in announcement: %v", connected)
	}

	offer := map[string]any{"type": "offer", "to": bobID, "sdp": "v=0"}
	if err := wsjson.Write(ctx, aliceConn, offer); err != nil {
		t.Fatalf("write offer: %v", err)
	}

	got := readWSMessage(t, bobConn, "offer")
	if got["sdp"] != "v=0" {
		t.Fatalf("payload lost in relay: %v", got)
	}
	if got["from"] == "" || got["from"] == nil {
		t.Fatalf("missing sender stamp: %v", got)
	}
}

func TestWSMalformedMessageKeepsConnection(t *testing.T) {
	ts := newTestServer(t)
	token := registerUser(t, ts, "alice")

	conn := dialWS(t, ts, "token="+token)
	ctx := context.Background()

	if err := conn.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("write malformed: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"no-such-kind"}`)); err != nil {
		t.Fatalf("write unknown: %v", err)
	}

	// The connection survives; a well-formed message still round-trips.
	if err := wsjson.Write(ctx, conn, map[string]any{"type": "join-room", "roomId": "r1", "create": true}); err != nil {
		t.Fatalf("write join: %v", err)
	}
	joined := readWSMessage(t, conn, "room-joined")
	if joined["roomId"] != "r1" {
		t.Fatalf("unexpected room-joined: %v", joined)
	}
}

func TestWSRoomChatFlow(t *testing.T) {
	ts := newTestServer(t)
	aliceToken := registerUser(t, ts, "alice")
	bobToken := registerUser(t, ts, "bob")

	resp := postJSON(t, ts.URL+"/api/rooms", aliceToken, CreateRoomRequest{Name: "standup"})
	room := decodeJSON[RoomResponse](t, resp)

	aliceConn := dialWS(t, ts, "token="+aliceToken)
	bobConn := dialWS(t, ts, "token="+bobToken)
	ctx := context.Background()

	subscribe := map[string]any{"type": "join-room-chat", "roomId": room.ID}
	if err := wsjson.Write(ctx, aliceConn, subscribe); err != nil {
		t.Fatalf("alice subscribe: %v", err)
	}
	readWSMessage(t, aliceConn, "room-messages")
	if err := wsjson.Write(ctx, bobConn, subscribe); err != nil {
		t.Fatalf("bob subscribe: %v", err)
	}
	readWSMessage(t, bobConn, "room-messages")

	send := map[string]any{"type": "room-message", "roomId": room.ID, "body": "hello room"}
	if err := wsjson.Write(ctx, aliceConn, send); err != nil {
		t.Fatalf("send message: %v", err)
	}

	got := readWSMessage(t, bobConn, "room-message")
	if got["body"] != "hello room" {
		t.Fatalf("unexpected room-message: %v", got)
	}

	// The transcript is also visible over REST.
	req, _ := stdhttp.NewRequest(stdhttp.MethodGet, ts.URL+"/api/rooms/"+room.ID+"/messages", nil)
	req.Header.Set("Authorization", "Bearer "+aliceToken)
	listResp, err := stdhttp.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	messages := decodeJSON[[]MessageResponse](t, listResp)
	if len(messages) != 1 || messages[0].Body != "hello room" {
		t.Fatalf("unexpected transcript: %+v", messages)
	}
}

func TestAuthMiddlewareRejectsGuestTokens(t *testing.T) {
	ts := newTestServer(t)
	owner := registerUser(t, ts, "owner")

	resp := postJSON(t, ts.URL+"/api/rooms", owner, CreateRoomRequest{Name: "standup"})
	room := decodeJSON[RoomResponse](t, resp)
	resp = postJSON(t, ts.URL+"/api/rooms/"+room.ID+"/guest-token", owner, GuestTokenRequest{})
	guestToken := decodeJSON[AuthResponse](t, resp).Token

	resp = postJSON(t, ts.URL+"/api/rooms", guestToken, CreateRoomRequest{Name: "sneaky"})
	if resp.StatusCode != stdhttp.StatusUnauthorized {
		t.Fatalf("guest on REST: status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

// newTestStore opens a throwaway SQLite store with schema applied.
func newTestStore(t *testing.T) *sqlite.SQLiteStore {
	t.Helper()

	st, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}
