package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/peerbeam/peerbeam-server/internal/store"
)

type fakeUserStore struct {
	mu    sync.Mutex
	users map[string]*store.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[string]*store.User)}
}

func (f *fakeUserStore) CreateUser(_ context.Context, username, passwordHash string) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[username]; ok {
		return nil, errors.New("UNIQUE constraint failed: users.username")
	}
	u := &store.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
	}
	f.users[username] = u
	return u, nil
}

func (f *fakeUserStore) GetUserByID(_ context.Context, id string) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeUserStore) GetUserByUsername(_ context.Context, username string) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u, nil
}

func (f *fakeUserStore) SetUserStatus(_ context.Context, _, _ string) error { return nil }
func (f *fakeUserStore) TouchLastSeen(_ context.Context, _ string) error    { return nil }

func testConfig() *JWTConfig {
	return &JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "peerbeam",
		Audience: "peerbeam-clients",
		TTL:      time.Hour,
		GuestTTL: 30 * time.Minute,
	}
}

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newFakeUserStore(), testConfig())

	token, err := svc.Register(ctx, "alice", "secret123")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Username != "alice" || claims.IsGuest {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	if _, err := svc.Login(ctx, "alice", "secret123"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := svc.Login(ctx, "alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(ctx, "nobody", "secret123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newFakeUserStore(), testConfig())

	if _, err := svc.Register(ctx, "ab", "secret123"); !errors.Is(err, ErrInvalidUsername) {
		t.Fatalf("expected ErrInvalidUsername for short name, got %v", err)
	}
	if _, err := svc.Register(ctx, strings.Repeat("x", 33), "secret123"); !errors.Is(err, ErrInvalidUsername) {
		t.Fatalf("expected ErrInvalidUsername for long name, got %v", err)
	}
	if _, err := svc.Register(ctx, "alice", "short"); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("expected ErrInvalidPassword, got %v", err)
	}

	if _, err := svc.Register(ctx, "alice", "secret123"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Register(ctx, "alice", "secret123"); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestGuestTokenClaims(t *testing.T) {
	svc := NewService(newFakeUserStore(), testConfig())

	token, err := svc.GuestToken("room-1", true)
	if err != nil {
		t.Fatalf("guest token: %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !claims.IsGuest {
		t.Fatal("expected guest claim")
	}
	if claims.RoomID != "room-1" || !claims.AllowPrivate {
		t.Fatalf("unexpected guest scope: %+v", claims)
	}
	if !strings.HasPrefix(claims.Username, "guest_") {
		t.Fatalf("unexpected guest username: %q", claims.Username)
	}
}

func TestValidateTokenRejectsForgery(t *testing.T) {
	cfg := testConfig()

	token, err := GenerateToken(cfg, "u1", "alice")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	other := *cfg
	other.Secret = []byte("different-secret")
	if _, err := ValidateToken(&other, token); err == nil {
		t.Fatal("expected signature verification failure")
	}

	other = *cfg
	other.Issuer = "someone-else"
	if _, err := ValidateToken(&other, token); err == nil {
		t.Fatal("expected issuer mismatch failure")
	}

	if _, err := ValidateToken(cfg, "not.a.token"); err == nil {
		t.Fatal("expected parse failure")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	cfg := testConfig()
	cfg.TTL = -time.Minute

	token, err := GenerateToken(cfg, "u1", "alice")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := ValidateToken(cfg, token); err == nil {
		t.Fatal("expected expiry failure")
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("secret123")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hash == "secret123" {
		t.Fatal("password stored in cleartext")
	}
	if err := ComparePassword(hash, "secret123"); err != nil {
		t.Fatalf("compare: %v", err)
	}
	if err := ComparePassword(hash, "wrong"); err == nil {
		t.Fatal("expected mismatch error")
	}
}
