package token

import (
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Claims are the access token claims the client reads. Issued by the identity
// backend; the client never verifies the signature, the backend does.
type Claims struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
	jwtlib.RegisteredClaims
}

// Inspect decodes an access token without verifying its signature. It is used
// to derive the user id and expiry of a session handed over as raw tokens.
func Inspect(rawToken string) (*Claims, error) {
	if strings.TrimSpace(rawToken) == "" {
		return nil, fmt.Errorf("[token Inspect] empty token")
	}
	claims := &Claims{}
	if _, _, err := jwtlib.NewParser().ParseUnverified(rawToken, claims); err != nil {
		return nil, fmt.Errorf("[token Inspect] parse: %w", err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("[token Inspect] token has no subject")
	}
	return claims, nil
}

// Expiry returns the exp claim or the zero time.
func (c *Claims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}
