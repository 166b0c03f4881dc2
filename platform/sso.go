package platform

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
)

// SSOUser is what a native SSO plugin returns after sign in.
type SSOUser struct {
	ID          string `json:"id"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	IDToken     string `json:"id_token"`
}

// SSOPlugin is a native single sign-on plugin (Google Sign-In on iOS/Android).
type SSOPlugin interface {
	SignIn(ctx context.Context) (*SSOUser, error)
	IsSignedIn(ctx context.Context) (bool, error)
	CurrentUser(ctx context.Context) (*SSOUser, error)
}

// IDTokenVerifier checks a provider ID token before it is handed to the
// identity backend.
type IDTokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (*IDTokenClaims, error)
}

type IDTokenClaims struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
}

// OIDCVerifier verifies ID tokens against an OIDC issuer.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

var _ IDTokenVerifier = (*OIDCVerifier)(nil)

// NewOIDCVerifier discovers issuer and verifies tokens minted for clientID.
func NewOIDCVerifier(ctx context.Context, issuer, clientID string) (*OIDCVerifier, error) {
	if clientID == "" {
		return nil, fmt.Errorf("[NewOIDCVerifier] clientID is required")
	}
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}
	return &OIDCVerifier{
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
	}, nil
}

// NewOIDCVerifierWithKeySet builds a verifier without discovery.
func NewOIDCVerifierWithKeySet(issuer, clientID string, keySet oidc.KeySet, now func() time.Time) *OIDCVerifier {
	return &OIDCVerifier{
		verifier: oidc.NewVerifier(issuer, keySet, &oidc.Config{
			ClientID: clientID,
			Now:      now,
		}),
	}
}

func (v *OIDCVerifier) Verify(ctx context.Context, rawIDToken string) (*IDTokenClaims, error) {
	idToken, err := v.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("ID token verification failed: %w", err)
	}
	var claims IDTokenClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to extract claims: %w", err)
	}
	return &claims, nil
}
