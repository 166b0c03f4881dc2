package auth

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-auth-bridge/identity"
	"github.com/jrsteele09/go-auth-bridge/internal/breadcrumb"
	autherrors "github.com/jrsteele09/go-auth-bridge/internal/errors"
	"github.com/jrsteele09/go-auth-bridge/sessions"
	"github.com/jrsteele09/go-auth-bridge/users"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ssoProvider is the provider behind the native SSO plugin. Other providers
// skip the plugin and go through the browser.
const ssoProvider = identity.ProviderGoogle

// StateManager owns the process-wide session state and exposes the auth verbs.
// Every verb holds the loading flag until it returns.
type StateManager struct {
	deps       Deps
	initiator  *Initiator
	reconciler *Reconciler
	settings

	mu          sync.Mutex
	started     bool
	unsubscribe func()
}

func NewStateManager(deps Deps, initiator *Initiator, reconciler *Reconciler, options ...Option) (*StateManager, error) {
	if deps.Backend == nil {
		return nil, errors.New("[NewStateManager] Backend is required")
	}
	if deps.Store == nil {
		return nil, errors.New("[NewStateManager] Store is required")
	}
	if deps.Notifier == nil {
		return nil, errors.New("[NewStateManager] Notifier is required")
	}
	if deps.Probe == nil {
		return nil, errors.New("[NewStateManager] Probe is required")
	}
	if initiator == nil {
		return nil, errors.New("[NewStateManager] initiator is required")
	}
	if reconciler == nil {
		return nil, errors.New("[NewStateManager] reconciler is required")
	}
	return &StateManager{
		deps:       deps,
		initiator:  initiator,
		reconciler: reconciler,
		settings:   newSettings(options),
	}, nil
}

// State returns a snapshot of the current state.
func (m *StateManager) State() sessions.State {
	return m.deps.Store.Snapshot()
}

func (m *StateManager) Subscribe(fn func(sessions.State)) (unsubscribe func()) {
	return m.deps.Store.Subscribe(fn)
}

// Start hydrates the state: the backend session if any, otherwise a session
// restored from a signed-in native SSO plugin. Backend changes are mirrored
// into the state until Close. Calling Start again has no effect.
func (m *StateManager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.unsubscribe = m.deps.Backend.OnAuthStateChange(m.mirror)
	m.mu.Unlock()

	defer m.deps.Store.MarkHydrated()

	s, err := m.deps.Backend.GetSession(ctx)
	if err != nil {
		log.Err(err).Msg("state: GetSession failed during start")
	}
	s = sessions.Normalize(s, m.nowTime())
	if s == nil && m.canRestore() {
		s = m.restoreFromPlugin(ctx)
	}
	m.deps.Store.SetSession(s)
	m.rememberUser(s)
	return nil
}

// RestoreFromPlugin signs in with the native SSO plugin when there is no
// session and the plugin already holds a signed-in user. It runs when a
// native shell attaches after Start. A restored user is routed without a
// notification; nil means nothing was restored.
func (m *StateManager) RestoreFromPlugin(ctx context.Context) *sessions.Session {
	if m.deps.Store.Snapshot().Session.Valid(m.nowTime()) || !m.canRestore() {
		return nil
	}
	s := m.restoreFromPlugin(ctx)
	if s == nil {
		return nil
	}
	m.rememberUser(s)
	m.reconciler.Settle(ctx, s, LevelSuccess, "")
	return s
}

func (m *StateManager) canRestore() bool {
	return m.sso != nil && m.deps.Probe.IsNative() && m.deps.Probe.HasSSOPlugin()
}

// Close detaches the backend change subscription.
func (m *StateManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
}

func (m *StateManager) SignIn(ctx context.Context, creds identity.Credentials) (*sessions.Session, error) {
	release := m.deps.Store.BeginLoading()
	defer release()

	s, err := m.deps.Backend.SignInWithPassword(ctx, creds)
	if err != nil {
		return nil, m.failed(err, "SignInWithPassword")
	}
	return m.settle(ctx, s, msgSignedIn)
}

// SignUp creates an account. A nil session with a nil error means the
// backend is waiting for the user to confirm their email.
func (m *StateManager) SignUp(ctx context.Context, creds identity.Credentials) (*sessions.Session, error) {
	release := m.deps.Store.BeginLoading()
	defer release()

	s, err := m.deps.Backend.SignUp(ctx, creds)
	if err != nil {
		return nil, m.failed(err, "SignUp")
	}
	if s == nil {
		m.deps.Notifier.Notify(LevelInfo, msgConfirmEmail)
		return nil, nil
	}
	return m.settle(ctx, s, msgAccountCreated)
}

// SignInWithProvider starts an OAuth login. A completed session is routed
// immediately; otherwise the result is pending on the callback.
func (m *StateManager) SignInWithProvider(ctx context.Context, provider identity.Provider) (*InitiationResult, error) {
	release := m.deps.Store.BeginLoading()
	defer release()

	res, err := m.initiator.Initiate(ctx, provider)
	if err != nil {
		return nil, err
	}
	if res.Session != nil {
		m.rememberUser(res.Session)
		m.reconciler.Settle(ctx, res.Session, LevelSuccess, msgSignedIn)
	}
	return res, nil
}

// ConfirmRedirect reports that the browser left for the provider.
func (m *StateManager) ConfirmRedirect() bool {
	return m.initiator.ConfirmRedirect()
}

func (m *StateManager) SignInWithOneTimeCode(ctx context.Context, phone string) error {
	release := m.deps.Store.BeginLoading()
	defer release()

	if err := m.deps.Backend.SignInWithOTP(ctx, phone); err != nil {
		return m.failed(err, "SignInWithOTP")
	}
	m.deps.Notifier.Notify(LevelInfo, msgCodeSent)
	return nil
}

func (m *StateManager) VerifyOneTimeCode(ctx context.Context, phone, code string) (*sessions.Session, error) {
	release := m.deps.Store.BeginLoading()
	defer release()

	s, err := m.deps.Backend.VerifyOTP(ctx, phone, code, identity.OTPTypeSMS)
	if err != nil {
		return nil, m.failed(err, "VerifyOTP")
	}
	return m.settle(ctx, s, msgSignedIn)
}

// SignOut ends the session locally even if the backend call fails.
func (m *StateManager) SignOut(ctx context.Context) error {
	release := m.deps.Store.BeginLoading()
	defer release()

	if m.deps.Guard != nil {
		m.deps.Guard.Clear()
	}
	err := m.deps.Backend.SignOut(ctx)
	m.deps.Store.SetSession(nil)
	m.reconciler.RouteToSignIn(ctx, "", "", true)
	if err != nil {
		log.Err(err).Msg("state: SignOut failed")
		return errors.Wrap(err, "SignOut")
	}
	return nil
}

// mirror copies backend changes into the state. Sign in notifications come
// from the reconciler and the verbs so that silent checks stay silent.
func (m *StateManager) mirror(event identity.ChangeEvent, s *sessions.Session) {
	breadcrumb.Drop(context.Background(), m.crumbs, breadcrumb.KeyLastAuthStateChange, string(event))
	log.Debug().Str("event", string(event)).Msg("state: backend change")

	switch event {
	case identity.EventSignedOut:
		m.deps.Store.SetSession(nil)
		m.deps.Notifier.Notify(LevelInfo, msgSignedOut)
	case identity.EventUserUpdated:
		s = sessions.Normalize(s, m.nowTime())
		m.deps.Store.SetSession(s)
		m.rememberUser(s)
		m.deps.Notifier.Notify(LevelSuccess, msgProfileUpdated)
	default:
		s = sessions.Normalize(s, m.nowTime())
		m.deps.Store.SetSession(s)
		m.rememberUser(s)
	}
}

func (m *StateManager) restoreFromPlugin(ctx context.Context) *sessions.Session {
	signedIn, err := m.sso.IsSignedIn(ctx)
	if err != nil || !signedIn {
		if err != nil {
			log.Err(err).Msg("state: SSO plugin IsSignedIn failed")
		}
		return nil
	}
	user, err := m.sso.CurrentUser(ctx)
	if err != nil || user == nil || user.IDToken == "" {
		log.Err(err).Msg("state: SSO plugin has no usable user")
		return nil
	}
	if m.verifier != nil {
		if _, err := m.verifier.Verify(ctx, user.IDToken); err != nil {
			log.Err(err).Msg("state: SSO ID token rejected")
			return nil
		}
	}
	s, err := m.deps.Backend.SignInWithIDToken(ctx, ssoProvider, user.IDToken)
	if err != nil {
		log.Err(err).Msg("state: SignInWithIDToken failed during restore")
		return nil
	}
	return sessions.Normalize(s, m.nowTime())
}

func (m *StateManager) settle(ctx context.Context, s *sessions.Session, msg string) (*sessions.Session, error) {
	if s = sessions.Normalize(s, m.nowTime()); s == nil {
		m.deps.Notifier.Notify(LevelError, msgAuthFailed)
		return nil, autherrors.ErrInvalidSession
	}
	m.rememberUser(s)
	m.reconciler.Settle(ctx, s, LevelSuccess, msg)
	return s, nil
}

func (m *StateManager) failed(err error, op string) error {
	log.Err(err).Str("op", op).Msg("state: verb failed")
	m.deps.Notifier.Notify(LevelError, userMessage(err))
	return errors.Wrap(err, op)
}

// rememberUser records the user so the Router can tell new accounts apart.
// Existing profiles are left untouched.
func (m *StateManager) rememberUser(s *sessions.Session) {
	if m.profiles == nil || s == nil {
		return
	}
	if _, err := m.profiles.GetByID(s.UserID); err == nil {
		return
	}
	profile := &users.Profile{ID: s.UserID, CreatedAt: m.nowTime()}
	if s.User != nil {
		profile.Email = s.User.Email
		profile.Phone = s.User.Phone
		profile.DisplayName = s.User.DisplayName
		if !s.User.CreatedAt.IsZero() {
			profile.CreatedAt = s.User.CreatedAt
		}
	}
	if err := m.profiles.Upsert(profile); err != nil {
		log.Err(err).Str("user_id", s.UserID).Msg("state: failed to record profile")
	}
}
