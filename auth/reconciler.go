package auth

import (
	"context"
	"fmt"
	"sync"

	"github.com/jrsteele09/go-auth-bridge/callback"
	"github.com/jrsteele09/go-auth-bridge/internal/breadcrumb"
	autherrors "github.com/jrsteele09/go-auth-bridge/internal/errors"
	"github.com/jrsteele09/go-auth-bridge/sessions"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var _ callback.Handler = (*Reconciler)(nil)

// routeKey identifies a routing decision. A decision is repeated only when
// the same user goes to the same destination within the same attempt.
type routeKey struct {
	userID     string
	dest       Destination
	generation uint64
}

// Reconciler turns callback events into session state and routing.
type Reconciler struct {
	deps   Deps
	parser callback.URLParser
	settings

	mu          sync.Mutex
	last        *routeKey
	unsubscribe func()
}

func NewReconciler(deps Deps, options ...Option) (*Reconciler, error) {
	if deps.Backend == nil {
		return nil, errors.New("[NewReconciler] Backend is required")
	}
	if deps.Store == nil {
		return nil, errors.New("[NewReconciler] Store is required")
	}
	if deps.Guard == nil {
		return nil, errors.New("[NewReconciler] Guard is required")
	}
	if deps.Router == nil {
		return nil, errors.New("[NewReconciler] Router is required")
	}
	if deps.Notifier == nil {
		return nil, errors.New("[NewReconciler] Notifier is required")
	}
	s := newSettings(options)
	r := &Reconciler{
		deps:     deps,
		parser:   callback.URLParser{CustomScheme: s.scheme},
		settings: s,
	}
	// A signed out state makes the next sign in a new decision.
	r.unsubscribe = deps.Store.Subscribe(func(st sessions.State) {
		if st.Session == nil {
			r.forgetUser()
		}
	})
	return r, nil
}

// Close detaches the reconciler from the session store.
func (r *Reconciler) Close() {
	r.unsubscribe()
}

// Reconcile applies ev. Handled failures (notified and routed) return nil.
func (r *Reconciler) Reconcile(ctx context.Context, ev callback.Event) error {
	log.Debug().Str("type", ev.Kind()).Msg("reconcile: event")
	switch e := ev.(type) {
	case callback.Tokens:
		return r.reconcileTokens(ctx, e)
	case callback.AuthorizationCode:
		return r.reconcileCode(ctx, e)
	case callback.Error:
		return r.reconcileError(ctx, e)
	case callback.CallbackDetected:
		return r.CheckSession(ctx, true, false)
	case callback.CheckSessionRequest:
		return r.CheckSession(ctx, e.Force, e.Silent)
	case callback.FullURL:
		return r.reconcileURL(ctx, e)
	}
	return autherrors.Mark(fmt.Errorf("unhandled event %T", ev), autherrors.ErrCallbackMismatch)
}

func (r *Reconciler) reconcileTokens(ctx context.Context, e callback.Tokens) error {
	if cached := r.cached(); cached != nil && cached.AccessToken == e.AccessToken {
		log.Debug().Str("user_id", cached.UserID).Msg("reconcile: tokens already applied")
		r.settle(ctx, cached, "", "", true)
		return nil
	}

	release := r.deps.Store.BeginLoading()
	defer release()

	s, err := r.deps.Backend.SetSession(ctx, e.AccessToken, e.RefreshToken)
	if s = sessions.Normalize(s, r.nowTime()); err == nil && s != nil {
		r.settle(ctx, s, LevelSuccess, msgSignedIn, false)
		return nil
	}
	if err == nil {
		err = autherrors.ErrInvalidSession
	}
	log.Err(err).Msg("reconcile: SetSession failed, re-checking session")
	r.recoverOrFail(ctx, err)
	return nil
}

// reconcileCode never exchanges a code while a refreshable session exists;
// codes are single use and the exchange would fail.
func (r *Reconciler) reconcileCode(ctx context.Context, e callback.AuthorizationCode) error {
	release := r.deps.Store.BeginLoading()
	defer release()

	if cached := r.cached(); cached != nil {
		s, err := r.deps.Backend.RefreshSession(ctx)
		if s = sessions.Normalize(s, r.nowTime()); err == nil && s != nil {
			log.Debug().Str("user_id", s.UserID).Msg("reconcile: session refreshed, code not exchanged")
			r.settle(ctx, s, LevelSuccess, msgSignedIn, false)
			return nil
		}
		log.Debug().Err(err).Msg("reconcile: refresh failed, exchanging code")
	}

	s, err := r.deps.Backend.ExchangeCodeForSession(ctx, e.Code)
	if s = sessions.Normalize(s, r.nowTime()); err == nil && s != nil {
		r.settle(ctx, s, LevelSuccess, msgSignedIn, false)
		return nil
	}
	if err == nil {
		err = autherrors.ErrInvalidSession
	}
	log.Err(err).Msg("reconcile: code exchange failed, re-checking session")
	r.recoverOrFail(ctx, err)
	return nil
}

// reconcileError treats a provider error after an established session as a
// warning.
func (r *Reconciler) reconcileError(ctx context.Context, e callback.Error) error {
	r.deps.Guard.Clear()
	breadcrumb.Drop(ctx, r.crumbs, breadcrumb.KeyAuthError, e.Error())
	log.Warn().Str("code", e.Code).Str("description", e.Description).Msg("reconcile: provider reported an error")

	release := r.deps.Store.BeginLoading()
	defer release()

	if s := r.fetchSession(ctx); s != nil {
		r.settle(ctx, s, LevelWarning, msgAlreadySignedIn, false)
		return nil
	}
	r.RouteToSignIn(ctx, LevelError, e.Message(), false)
	return nil
}

// reconcileURL routes straight away when a session already exists, otherwise
// reconciles whatever the URL carries.
func (r *Reconciler) reconcileURL(ctx context.Context, e callback.FullURL) error {
	if s := r.fetchSession(ctx); s != nil {
		r.settle(ctx, s, "", "", true)
		return nil
	}
	ev := r.parser.Parse(e.URL)
	if _, again := ev.(callback.FullURL); again {
		return autherrors.Mark(errors.New("url parsed to a url"), autherrors.ErrCallbackMismatch)
	}
	return r.Reconcile(ctx, ev)
}

// CheckSession is the session check routine. Unless force is set it yields to
// a young in-flight attempt. With force it refreshes first and falls back to
// the cached session. Silent suppresses notifications.
func (r *Reconciler) CheckSession(ctx context.Context, force, silent bool) error {
	now := r.nowTime()
	breadcrumb.Drop(ctx, r.crumbs, breadcrumb.KeyLastSessionCheck, now.UTC().Format(timeFormat))

	if r.deps.Guard.ShouldSkip(now, force) {
		log.Debug().Bool("silent", silent).Msg("reconcile: login in progress, skipping session check")
		return nil
	}

	release := r.deps.Store.BeginLoading()
	defer release()

	var (
		s          *sessions.Session
		refreshErr error
	)
	if force {
		refreshed, err := r.deps.Backend.RefreshSession(ctx)
		if err != nil {
			refreshErr = err
			log.Debug().Err(err).Msg("reconcile: forced refresh failed")
		}
		s = sessions.Normalize(refreshed, r.nowTime())
	}
	if s == nil {
		s = r.fetchSession(ctx)
	}

	if s != nil {
		r.settle(ctx, s, LevelSuccess, msgSignedIn, silent)
		return nil
	}

	if force && refreshErr != nil {
		inProgress := r.deps.Guard.InProgress(now)
		r.deps.Guard.Clear()
		r.deps.Store.SetSession(nil)
		if inProgress {
			log.Debug().Msg("reconcile: session invalid but a login is in progress, staying put")
			if !silent {
				r.deps.Notifier.Notify(LevelError, msgSessionExpired)
			}
			return nil
		}
		r.RouteToSignIn(ctx, LevelError, msgSessionExpired, silent)
	}
	return nil
}

// Settle records s as the current session and routes its user. Used by the
// StateManager verbs so that callbacks for the same login do not route twice.
func (r *Reconciler) Settle(ctx context.Context, s *sessions.Session, level Level, msg string) {
	r.settle(ctx, s, level, msg, false)
}

// RouteToSignIn sends the user to the sign-in surface, notifying unless
// silent or the same decision was already made.
func (r *Reconciler) RouteToSignIn(ctx context.Context, level Level, msg string, silent bool) {
	key := routeKey{dest: DestinationSignIn, generation: r.deps.Guard.Generation()}
	if !r.remember(key) {
		log.Debug().Msg("reconcile: already routed to sign in")
		return
	}
	if !silent && msg != "" {
		r.deps.Notifier.Notify(level, msg)
	}
	r.deps.Router.Navigate(ctx, DestinationSignIn)
}

func (r *Reconciler) settle(ctx context.Context, s *sessions.Session, level Level, msg string, silent bool) {
	r.deps.Guard.Clear()
	r.deps.Store.SetSession(s)
	breadcrumb.Drop(ctx, r.crumbs, breadcrumb.KeyLastSessionUserID, s.UserID)

	dest := r.deps.Router.Classify(s.UserID)
	key := routeKey{userID: s.UserID, dest: dest, generation: r.deps.Guard.Generation()}
	if !r.remember(key) {
		log.Debug().Str("user_id", s.UserID).Str("destination", string(dest)).Msg("reconcile: already routed")
		return
	}
	if !silent && msg != "" {
		r.deps.Notifier.Notify(level, msg)
	}
	r.deps.Router.Navigate(ctx, dest)
}

// recoverOrFail re-fetches the session once after a failed exchange; the
// backend may have applied the credentials despite the error.
func (r *Reconciler) recoverOrFail(ctx context.Context, cause error) {
	if s := r.fetchSession(ctx); s != nil {
		r.settle(ctx, s, LevelSuccess, msgSignedIn, false)
		return
	}
	r.deps.Guard.Clear()
	breadcrumb.Drop(ctx, r.crumbs, breadcrumb.KeyAuthError, cause.Error())
	msg := msgAuthFailed
	if errors.Is(cause, autherrors.ErrConfiguration) {
		msg = msgTryLater
	}
	r.RouteToSignIn(ctx, LevelError, msg, false)
}

func (r *Reconciler) fetchSession(ctx context.Context) *sessions.Session {
	s, err := r.deps.Backend.GetSession(ctx)
	if err != nil {
		log.Err(autherrors.Mark(err, autherrors.ErrTransientNetwork)).Msg("reconcile: GetSession failed")
		return nil
	}
	return sessions.Normalize(s, r.nowTime())
}

func (r *Reconciler) cached() *sessions.Session {
	return sessions.Normalize(r.deps.Store.Snapshot().Session, r.nowTime())
}

// remember stores key and reports whether it differs from the last decision.
func (r *Reconciler) remember(key routeKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last != nil && *r.last == key {
		return false
	}
	r.last = &key
	return true
}

func (r *Reconciler) forgetUser() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last != nil && r.last.userID != "" {
		r.last = nil
	}
}
