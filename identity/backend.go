// Package identity describes the identity backend: the service of record for
// credentials, tokens and session lifecycle.
package identity

import (
	"context"

	"github.com/jrsteele09/go-auth-bridge/sessions"
)

// Provider identifies an external OAuth provider.
type Provider string

const (
	ProviderGoogle Provider = "google"
	ProviderApple  Provider = "apple"
	ProviderGithub Provider = "github"
)

// OAuthOptions are passed to SignInWithOAuth. RedirectTo is left empty so the
// backend applies its registered default callback URL.
type OAuthOptions struct {
	RedirectTo          string
	Scopes              string
	QueryParams         map[string]string
	SkipBrowserRedirect bool
}

// OAuthResult is the outcome of starting an OAuth flow. Redirected is set when
// the backend itself navigated the browser away.
type OAuthResult struct {
	Provider   Provider
	URL        string
	Redirected bool
}

// Credentials for password based sign in and sign up. Exactly one of Email or
// Phone is expected.
type Credentials struct {
	Email       string
	Phone       string
	Password    string
	DisplayName string
}

// OTPType distinguishes one-time code channels.
type OTPType string

const (
	OTPTypeSMS OTPType = "sms"
)

// ChangeEvent is the kind of auth state change reported by the backend.
type ChangeEvent string

const (
	EventSignedIn       ChangeEvent = "SIGNED_IN"
	EventSignedOut      ChangeEvent = "SIGNED_OUT"
	EventTokenRefreshed ChangeEvent = "TOKEN_REFRESHED"
	EventUserUpdated    ChangeEvent = "USER_UPDATED"
)

// ChangeHandler receives backend auth state changes. session is nil after a
// sign out.
type ChangeHandler func(event ChangeEvent, session *sessions.Session)

// Backend is the identity backend client. Methods returning a session return
// a nil session and a nil error when there is nothing to return.
type Backend interface {
	SignInWithPassword(ctx context.Context, creds Credentials) (*sessions.Session, error)
	SignUp(ctx context.Context, creds Credentials) (*sessions.Session, error)
	SignInWithOAuth(ctx context.Context, provider Provider, opts OAuthOptions) (*OAuthResult, error)
	SignInWithIDToken(ctx context.Context, provider Provider, idToken string) (*sessions.Session, error)
	ExchangeCodeForSession(ctx context.Context, code string) (*sessions.Session, error)
	SetSession(ctx context.Context, accessToken, refreshToken string) (*sessions.Session, error)
	GetSession(ctx context.Context) (*sessions.Session, error)
	RefreshSession(ctx context.Context) (*sessions.Session, error)
	OnAuthStateChange(handler ChangeHandler) (unsubscribe func())
	SignOut(ctx context.Context) error
	SignInWithOTP(ctx context.Context, phone string) error
	VerifyOTP(ctx context.Context, phone, token string, otpType OTPType) (*sessions.Session, error)
}
