package gotrue

import (
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// TokenResponse is the body returned by every /token grant, /signup and /verify.
type TokenResponse struct {
	// AccessToken is the JWT sent as "Authorization: Bearer <access_token>".
	AccessToken string `json:"access_token"`

	// TokenType is always "bearer".
	TokenType string `json:"token_type"`

	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int `json:"expires_in"`

	// ExpiresAt is the absolute expiry in unix seconds. Preferred over ExpiresIn.
	ExpiresAt int64 `json:"expires_at,omitempty"`

	// RefreshToken is opaque and rotates on each use.
	RefreshToken string `json:"refresh_token"`

	User *User `json:"user,omitempty"`
}

// User is the GoTrue user object.
type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email,omitempty"`
	Phone        string         `json:"phone,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
}

// Token converts the response to an oauth2.Token relative to now.
func (tr *TokenResponse) Token(now time.Time) *oauth2.Token {
	expiry := now.Add(time.Duration(tr.ExpiresIn) * time.Second)
	if tr.ExpiresAt > 0 {
		expiry = time.Unix(tr.ExpiresAt, 0)
	}
	return &oauth2.Token{
		AccessToken:  tr.AccessToken,
		TokenType:    tr.TokenType,
		RefreshToken: tr.RefreshToken,
		Expiry:       expiry,
	}
}

// APIError is a non-2xx GoTrue response. GoTrue uses two error shapes:
// OAuth style {error, error_description} and {code, error_code, msg}.
type APIError struct {
	Status      int    `json:"-"`
	ErrorCode   string `json:"error_code,omitempty"`
	OAuthError  string `json:"error,omitempty"`
	Description string `json:"error_description,omitempty"`
	Msg         string `json:"msg,omitempty"`
}

func (e *APIError) Error() string {
	code := e.ErrorCode
	if code == "" {
		code = e.OAuthError
	}
	msg := e.Msg
	if msg == "" {
		msg = e.Description
	}
	return fmt.Sprintf("gotrue %d %s: %s", e.Status, code, msg)
}

type passwordGrant struct {
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Password string `json:"password"`
}

type signUpRequest struct {
	Email    string         `json:"email,omitempty"`
	Phone    string         `json:"phone,omitempty"`
	Password string         `json:"password"`
	Data     map[string]any `json:"data,omitempty"`
}

type pkceGrant struct {
	AuthCode     string `json:"auth_code"`
	CodeVerifier string `json:"code_verifier"`
}

type idTokenGrant struct {
	Provider string `json:"provider"`
	IDToken  string `json:"id_token"`
}

type refreshGrant struct {
	RefreshToken string `json:"refresh_token"`
}

type otpRequest struct {
	Phone string `json:"phone"`
}

type verifyRequest struct {
	Phone string `json:"phone"`
	Token string `json:"token"`
	Type  string `json:"type"`
}
