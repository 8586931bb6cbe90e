package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims represents JWT claims for PeerBeam authentication. Guest tokens
// reuse the same claim set with IsGuest set and a room scope.
type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	IsGuest  bool   `json:"is_guest"`
	// RoomID scopes a guest credential to a single room.
	RoomID string `json:"room_id,omitempty"`
	// AllowPrivate lets a guest credential bypass the private-room gate
	// for its scoped room.
	AllowPrivate bool `json:"allow_private,omitempty"`
	jwt.RegisteredClaims
}

// JWTConfig holds JWT configuration.
type JWTConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
	TTL      time.Duration
	GuestTTL time.Duration
}

// GenerateToken creates a new access token for the given user.
func GenerateToken(cfg *JWTConfig, userID, username string) (string, error) {
	return sign(cfg, Claims{UserID: userID, Username: username}, cfg.TTL)
}

// GenerateGuestToken creates a short-lived credential scoped to one room.
func GenerateGuestToken(cfg *JWTConfig, userID, username, roomID string, allowPrivate bool) (string, error) {
	return sign(cfg, Claims{
		UserID:       userID,
		Username:     username,
		IsGuest:      true,
		RoomID:       roomID,
		AllowPrivate: allowPrivate,
	}, cfg.GuestTTL)
}

func sign(cfg *JWTConfig, claims Claims, ttl time.Duration) (string, error) {
	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    cfg.Issuer,
		Audience:  jwt.ClaimStrings{cfg.Audience},
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(cfg.Secret)
}

// ValidateToken parses and validates a token (access or guest).
func ValidateToken(cfg *JWTConfig, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return cfg.Secret, nil
	})

	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	if cfg.Issuer != "" && claims.Issuer != cfg.Issuer {
		return nil, fmt.Errorf("invalid issuer")
	}

	if cfg.Audience != "" {
		validAudience := false
		for _, aud := range claims.Audience {
			if aud == cfg.Audience {
				validAudience = true
				break
			}
		}
		if !validAudience {
			return nil, fmt.Errorf("invalid audience")
		}
	}

	return claims, nil
}
