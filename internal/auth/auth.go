package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/molekcbt/session-gateway/internal/config"
)

// TokenType tags the audience a token was issued for. The platform also
// issues admin and proctor tokens; this gateway only admits students, so
// anything else fails the middleware's type check.
type TokenType string

// TokenTypeStudent is the only token type this gateway serves.
const TokenTypeStudent TokenType = "student"

// Claims extends JWT standard claims with app-specific fields. Tokens are
// issued by the exam backend; the gateway only verifies them against the
// shared secret.
type Claims struct {
	jwt.RegisteredClaims
	TokenType TokenType `json:"token_type"`
	UserID    int       `json:"user_id"`
	ClassID   int       `json:"class_id,omitempty"`
}

// Verifier validates JWTs against the shared signing secret.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier from the configured secret.
func NewVerifier(cfg *config.Config) *Verifier {
	return &Verifier{secret: []byte(cfg.JWTSecret)}
}

// Verify parses and validates a JWT, returning the claims.
func (v *Verifier) Verify(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}

	return claims, nil
}
