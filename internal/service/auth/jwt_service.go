// Package auth verifies bearer tokens issued by the external identity
// provider. Tokens are never issued here.
package auth

import (
	"context"
	"time"
)

// TokenVerifier checks a bearer token and returns its claims.
type TokenVerifier interface {
	// ValidateToken verifies the signature and time claims of tokenString.
	// It returns ErrExpiredToken, ErrTokenNotYetValid, ErrMissingSubject or
	// ErrInvalidToken when the token cannot be accepted.
	ValidateToken(ctx context.Context, tokenString string) (*Claims, error)
}

// Claims is the subset of registered claims the API relies on.
type Claims struct {
	Subject   string    `json:"sub"`
	IssuedAt  time.Time `json:"iat,omitempty"`
	ExpiresAt time.Time `json:"exp,omitempty"`
	ID        string    `json:"jti,omitempty"`
}
