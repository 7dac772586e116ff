// Package token issues and verifies the JWTs that bind a websocket chat
// connection to its session.
package token

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTManager signs and verifies chat session tokens.
type JWTManager struct {
	secretKey       []byte
	sessionTokenDur time.Duration
}

// SessionClaims carries the chat session identity. Sessions are anonymous
// and ephemeral; the claims hold no user identity.
type SessionClaims struct {
	SessionID string `json:"sessionId"`
	jwt.RegisteredClaims
}

// NewJWTManager creates a JWTManager with the given signing secret and
// session token lifetime in hours.
func NewJWTManager(secret string, sessionTokenExpireHours int) *JWTManager {
	if sessionTokenExpireHours <= 0 {
		sessionTokenExpireHours = 24
	}
	return &JWTManager{
		secretKey:       []byte(secret),
		sessionTokenDur: time.Duration(sessionTokenExpireHours) * time.Hour,
	}
}

// GenerateSessionToken issues a token for a fresh chat session and returns
// the token with the session id it carries.
func (m *JWTManager) GenerateSessionToken() (string, string, error) {
	sessionID := GenerateRandomString(16)
	claims := SessionClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.sessionTokenDur)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", "", err
	}
	return signed, sessionID, nil
}

// VerifyToken validates a session token and returns its claims.
func (m *JWTManager) VerifyToken(tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secretKey, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*SessionClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

// GenerateRandomString generates a random hex string of a given byte length.
func GenerateRandomString(length int) string {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to a less random string on error
		return fmt.Sprintf("fallback%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
