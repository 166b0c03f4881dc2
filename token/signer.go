package token

import (
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// HMACSigner issues and verifies HS256 access tokens.
type HMACSigner struct {
	key    []byte
	issuer string
}

func NewHMACSigner(key []byte, issuer string) *HMACSigner {
	return &HMACSigner{key: key, issuer: issuer}
}

// CreateAccessToken issues an access token for the user valid for ttl.
func (s *HMACSigner) CreateAccessToken(userID, email, phone string, ttl time.Duration) (string, time.Time, error) {
	now := NowTimeFunc()
	expiresAt := now.Add(ttl)
	claims := Claims{
		Email: email,
		Phone: phone,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			ID:        uuid.New().String(), // unique per token so two logins never share one
		},
	}
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign JWT token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks the signature and expiry of rawToken.
func (s *HMACSigner) Verify(rawToken string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwtlib.ParseWithClaims(rawToken, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.key, nil
	},
		jwtlib.WithIssuer(s.issuer),
		jwtlib.WithTimeFunc(NowTimeFunc),
	)
	if err != nil {
		return nil, fmt.Errorf("[HMACSigner Verify] %w", err)
	}
	return claims, nil
}
