package auth

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-auth-bridge/identity"
	"github.com/jrsteele09/go-auth-bridge/internal/breadcrumb"
	"github.com/jrsteele09/go-auth-bridge/internal/config"
	autherrors "github.com/jrsteele09/go-auth-bridge/internal/errors"
	"github.com/jrsteele09/go-auth-bridge/platform"
	"github.com/jrsteele09/go-auth-bridge/sessions"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Surface is the external authorization surface a login was launched on.
type Surface string

const (
	SurfaceBackendRedirect Surface = "backend_redirect"
	SurfaceSSOPlugin       Surface = "sso_plugin"
	SurfaceOpenURL         Surface = "open_url"
	SurfaceOSScheme        Surface = "os_scheme"
	SurfaceLocation        Surface = "location"
)

// InitiationResult is either a completed session or a pending login whose
// callback will arrive asynchronously.
type InitiationResult struct {
	Session          *sessions.Session `json:"session,omitempty"`
	ShortCircuit     bool              `json:"short_circuit,omitempty"`
	Pending          bool              `json:"pending,omitempty"`
	AuthorizationURL string            `json:"authorization_url,omitempty"`
	Surface          Surface           `json:"surface,omitempty"`
}

// Initiator starts OAuth logins on web and native platforms.
type Initiator struct {
	deps Deps
	cfg  config.OAuthConfig
	settings

	mu       sync.Mutex
	redirect chan struct{} // closed by ConfirmRedirect
}

func NewInitiator(deps Deps, cfg config.OAuthConfig, options ...Option) (*Initiator, error) {
	if deps.Backend == nil {
		return nil, errors.New("[NewInitiator] Backend is required")
	}
	if deps.Store == nil {
		return nil, errors.New("[NewInitiator] Store is required")
	}
	if deps.Guard == nil {
		return nil, errors.New("[NewInitiator] Guard is required")
	}
	if deps.Probe == nil {
		return nil, errors.New("[NewInitiator] Probe is required")
	}
	if deps.Bridge == nil {
		return nil, errors.New("[NewInitiator] Bridge is required")
	}
	if deps.Notifier == nil {
		return nil, errors.New("[NewInitiator] Notifier is required")
	}
	if cfg == nil {
		return nil, errors.New("[NewInitiator] cfg is required")
	}
	return &Initiator{
		deps:     deps,
		cfg:      cfg,
		settings: newSettings(options),
	}, nil
}

// Initiate starts a login with provider. The loading flag is held for the
// whole call and released on every return path.
func (i *Initiator) Initiate(ctx context.Context, provider identity.Provider) (*InitiationResult, error) {
	release := i.deps.Store.BeginLoading()
	defer release()

	if s := i.refreshCached(ctx); s != nil {
		log.Debug().Str("user_id", s.UserID).Msg("initiate: cached session refreshed, skipping provider")
		return &InitiationResult{Session: s, ShortCircuit: true}, nil
	}

	native := i.deps.Probe.IsNative()
	opts := identity.OAuthOptions{
		Scopes: i.cfg.GetScopes(),
		QueryParams: map[string]string{
			"prompt":      i.cfg.GetPrompt(),
			"access_type": "offline",
			"nonce":       i.newID(),
		},
		SkipBrowserRedirect: native,
	}

	attempt := Attempt{
		ID:        i.newID(),
		Platform:  i.deps.Probe.OS(),
		Provider:  provider,
		StartedAt: i.nowTime(),
	}
	resolved := i.deps.Guard.Mark(attempt)
	breadcrumb.Drop(ctx, i.crumbs, breadcrumb.KeyAuthTimestamp, attempt.StartedAt.UTC().Format(timeFormat))
	breadcrumb.Drop(ctx, i.crumbs, breadcrumb.KeyAuthAttemptPlatform, string(attempt.Platform))

	if native {
		return i.initiateNative(ctx, provider, opts, attempt)
	}
	return i.initiateWeb(ctx, provider, opts, attempt, resolved)
}

// ConfirmRedirect reports that the browser left the page for the provider.
// It returns false when no web initiation is waiting.
func (i *Initiator) ConfirmRedirect() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.redirect == nil {
		return false
	}
	close(i.redirect)
	i.redirect = nil
	return true
}

func (i *Initiator) initiateWeb(ctx context.Context, provider identity.Provider, opts identity.OAuthOptions, attempt Attempt, resolved <-chan struct{}) (*InitiationResult, error) {
	res, err := i.authorizationURL(ctx, provider, opts, attempt)
	if err != nil {
		return nil, err
	}
	if res.Redirected {
		return &InitiationResult{Pending: true, AuthorizationURL: res.URL, Surface: SurfaceBackendRedirect}, nil
	}

	confirmed := i.armRedirect()
	defer i.disarmRedirect(confirmed)

	select {
	case <-i.after(i.cfg.GetNavigationDelay()):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := i.deps.Bridge.AssignLocation(ctx, res.URL); err != nil {
		i.launchFailure(ctx, SurfaceLocation, err)
		return nil, i.unreachable(attempt, err)
	}

	select {
	case <-confirmed:
		return &InitiationResult{Pending: true, AuthorizationURL: res.URL, Surface: SurfaceLocation}, nil
	case <-resolved:
		return &InitiationResult{Pending: true, AuthorizationURL: res.URL, Surface: SurfaceLocation}, nil
	case <-i.after(i.cfg.GetRedirectTimeout()):
		log.Warn().Str("attempt_id", attempt.ID).Dur("timeout", i.cfg.GetRedirectTimeout()).Msg("initiate: no redirect to provider")
		return nil, i.unreachable(attempt, errors.New("redirect did not happen"))
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (i *Initiator) initiateNative(ctx context.Context, provider identity.Provider, opts identity.OAuthOptions, attempt Attempt) (*InitiationResult, error) {
	if provider == ssoProvider && i.deps.Probe.HasSSOPlugin() && i.sso != nil {
		s, err := i.signInWithPlugin(ctx)
		if err == nil {
			i.deps.Guard.ClearIf(attempt.ID)
			i.deps.Store.SetSession(s)
			return &InitiationResult{Session: s, Surface: SurfaceSSOPlugin}, nil
		}
		i.launchFailure(ctx, SurfaceSSOPlugin, err)
	}

	res, err := i.authorizationURL(ctx, provider, opts, attempt)
	if err != nil {
		return nil, err
	}

	target := res.URL
	steps := []struct {
		surface Surface
		open    func() error
	}{
		{SurfaceOpenURL, func() error { return i.deps.Bridge.OpenURL(ctx, target) }},
		{SurfaceOSScheme, func() error {
			schemeURL, ok := platform.SchemeURL(i.deps.Probe.OS(), target)
			if !ok {
				return errors.Errorf("no browser scheme on %s", i.deps.Probe.OS())
			}
			return i.deps.Bridge.OpenScheme(ctx, schemeURL)
		}},
		{SurfaceLocation, func() error { return i.deps.Bridge.AssignLocation(ctx, target) }},
	}

	var surface Surface
	var lastErr error
	for _, step := range steps {
		if err := step.open(); err != nil {
			i.launchFailure(ctx, step.surface, err)
			lastErr = err
			continue
		}
		surface = step.surface
		break
	}
	if surface == "" {
		return nil, i.unreachable(attempt, lastErr)
	}

	select {
	case <-i.after(i.cfg.GetNativeSettleDelay()):
	case <-ctx.Done():
	}
	return &InitiationResult{Pending: true, AuthorizationURL: target, Surface: surface}, nil
}

// authorizationURL asks the backend for the provider URL. Failures clear the
// attempt and are classified as configuration or transient errors.
func (i *Initiator) authorizationURL(ctx context.Context, provider identity.Provider, opts identity.OAuthOptions, attempt Attempt) (*identity.OAuthResult, error) {
	res, err := i.deps.Backend.SignInWithOAuth(ctx, provider, opts)
	if err != nil {
		i.deps.Guard.ClearIf(attempt.ID)
		breadcrumb.Drop(ctx, i.crumbs, breadcrumb.KeyAuthError, err.Error())
		if errors.Is(err, identity.RedirectMismatchErr) || errors.Is(err, autherrors.ErrConfiguration) {
			log.Err(err).Str("provider", string(provider)).Msg("initiate: provider configuration error")
			i.deps.Notifier.Notify(LevelError, msgTryLater)
			return nil, autherrors.Mark(errors.Wrap(err, "SignInWithOAuth"), autherrors.ErrConfiguration)
		}
		log.Err(err).Str("provider", string(provider)).Msg("initiate: SignInWithOAuth failed")
		i.deps.Notifier.Notify(LevelError, msgAuthFailed)
		return nil, autherrors.Mark(errors.Wrap(err, "SignInWithOAuth"), autherrors.ErrTransientNetwork)
	}
	if res == nil || (res.URL == "" && !res.Redirected) {
		i.deps.Guard.ClearIf(attempt.ID)
		log.Error().Str("provider", string(provider)).Msg("initiate: provider returned no authorization URL")
		i.deps.Notifier.Notify(LevelError, msgTryLater)
		return nil, autherrors.Mark(errors.New("no authorization URL"), autherrors.ErrConfiguration)
	}
	return res, nil
}

func (i *Initiator) signInWithPlugin(ctx context.Context) (*sessions.Session, error) {
	user, err := i.sso.SignIn(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "sso SignIn")
	}
	if user == nil || user.IDToken == "" {
		return nil, errors.New("sso plugin returned no ID token")
	}
	if i.verifier != nil {
		if _, err := i.verifier.Verify(ctx, user.IDToken); err != nil {
			return nil, err
		}
	}
	s, err := i.deps.Backend.SignInWithIDToken(ctx, ssoProvider, user.IDToken)
	if err != nil {
		return nil, errors.Wrap(err, "SignInWithIDToken")
	}
	if s = sessions.Normalize(s, i.nowTime()); s == nil {
		return nil, autherrors.ErrInvalidSession
	}
	return s, nil
}

func (i *Initiator) refreshCached(ctx context.Context) *sessions.Session {
	cached := i.deps.Store.Snapshot().Session
	if !cached.Valid(i.nowTime()) {
		return nil
	}
	s, err := i.deps.Backend.RefreshSession(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("initiate: cached session refresh failed, starting a new login")
		return nil
	}
	if s = sessions.Normalize(s, i.nowTime()); s == nil {
		return nil
	}
	i.deps.Store.SetSession(s)
	return s
}

func (i *Initiator) unreachable(attempt Attempt, cause error) error {
	i.deps.Guard.ClearIf(attempt.ID)
	i.deps.Notifier.Notify(LevelError, msgProviderUnreachable)
	if cause == nil {
		return autherrors.ErrExternalSurfaceLaunch
	}
	return autherrors.Mark(cause, autherrors.ErrExternalSurfaceLaunch)
}

func (i *Initiator) launchFailure(ctx context.Context, surface Surface, err error) {
	log.Err(err).Str("surface", string(surface)).Msg("initiate: could not open surface")
	breadcrumb.Drop(ctx, i.crumbs, breadcrumb.KeyAuthLaunchFailure, string(surface)+": "+err.Error())
}

func (i *Initiator) armRedirect() chan struct{} {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.redirect != nil {
		close(i.redirect)
	}
	i.redirect = make(chan struct{})
	return i.redirect
}

func (i *Initiator) disarmRedirect(ch chan struct{}) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.redirect == ch {
		i.redirect = nil
	}
}
