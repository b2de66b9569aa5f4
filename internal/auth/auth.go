// Package auth issues and verifies the JWT identity tokens presented during
// the WebSocket handshake and on the HTTP API.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"palaver/internal/models"
)

// Claims is the token payload: the verified identity plus standard claims.
type Claims struct {
	jwt.RegisteredClaims
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
}

var (
	ErrNoToken      = errors.New("no token provided")
	ErrInvalidToken = errors.New("invalid token")
)

// Sign mints an HS256 token for the given identity. Used by tooling and
// tests; credential handling itself lives outside this service.
func Sign(secret []byte, id models.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID:   id.UserID,
		Username: id.Username,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token and returns the identity it carries.
func Verify(secret []byte, tokenString string) (models.Identity, error) {
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")
	if tokenString == "" {
		return models.Identity{}, ErrNoToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return models.Identity{}, ErrInvalidToken
	}
	if claims.UserID == 0 || claims.Username == "" {
		return models.Identity{}, fmt.Errorf("%w: missing identity claims", ErrInvalidToken)
	}

	return models.Identity{UserID: claims.UserID, Username: claims.Username}, nil
}

// FromRequest extracts a token from a request (query param or header).
func FromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if header := r.Header.Get("Authorization"); header != "" {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}
