package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned when a token is malformed or carries no usable expiry.
var ErrInvalidToken = errors.New("invalid token")

// TokenExpiry reads the exp claim of a JWT without verifying its signature.
// The identity provider is the verifier; this is only used to schedule cache eviction
// when a token response omits expires_in.
func TokenExpiry(raw string) (time.Time, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return time.Time{}, ErrInvalidToken
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, ErrInvalidToken
	}
	return claims.ExpiresAt.Time, nil
}
