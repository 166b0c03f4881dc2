package config

import "time"

type OAuthConfig interface {
	GetScopes() string
	GetPrompt() string
	GetRedirectTimeout() time.Duration
	GetNavigationDelay() time.Duration
	GetNativeSettleDelay() time.Duration
	GetAttemptStaleness() time.Duration
	GetNewUserWindow() time.Duration
	GetSSOIssuer() string
	GetSSOClientID() string
}

type OAuth struct {
	Scopes            string        `env:"OAUTH_SCOPES" envDefault:"email profile"`
	Prompt            string        `env:"OAUTH_PROMPT" envDefault:"select_account"`
	RedirectTimeout   time.Duration `env:"REDIRECT_TIMEOUT" envDefault:"8s"`
	NavigationDelay   time.Duration `env:"NAVIGATION_DELAY" envDefault:"50ms"`
	NativeSettleDelay time.Duration `env:"NATIVE_SETTLE_DELAY" envDefault:"3s"`
	AttemptStaleness  time.Duration `env:"ATTEMPT_STALENESS" envDefault:"5m"`
	NewUserWindow     time.Duration `env:"NEW_USER_WINDOW" envDefault:"5m"`
	SSOIssuer         string        `env:"SSO_ISSUER" envDefault:"https://accounts.google.com"`
	SSOClientID       string        `env:"SSO_CLIENT_ID"`
}

var _ OAuthConfig = OAuth{}

func (o OAuth) GetScopes() string {
	return o.Scopes
}

func (o OAuth) GetPrompt() string {
	return o.Prompt
}

// GetRedirectTimeout is how long a web initiation waits for the browser to
// leave the page before giving up.
func (o OAuth) GetRedirectTimeout() time.Duration {
	return o.RedirectTimeout
}

func (o OAuth) GetNavigationDelay() time.Duration {
	return o.NavigationDelay
}

// GetNativeSettleDelay gives the external surface time to appear before the
// loading flag is cleared on native platforms.
func (o OAuth) GetNativeSettleDelay() time.Duration {
	return o.NativeSettleDelay
}

// GetAttemptStaleness is the age after which an in-flight login is abandoned.
func (o OAuth) GetAttemptStaleness() time.Duration {
	return o.AttemptStaleness
}

// GetNewUserWindow is the account age under which a user is routed to onboarding.
func (o OAuth) GetNewUserWindow() time.Duration {
	return o.NewUserWindow
}

func (o OAuth) GetSSOIssuer() string {
	return o.SSOIssuer
}

func (o OAuth) GetSSOClientID() string {
	return o.SSOClientID
}
