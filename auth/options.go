package auth

import (
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-bridge/callback"
	"github.com/jrsteele09/go-auth-bridge/identity"
	"github.com/jrsteele09/go-auth-bridge/internal/breadcrumb"
	"github.com/jrsteele09/go-auth-bridge/platform"
	"github.com/jrsteele09/go-auth-bridge/sessions"
	"github.com/jrsteele09/go-auth-bridge/users"
)

// Deps holds the collaborators shared by the Initiator, Reconciler and
// StateManager. Each constructor checks the ones it needs.
type Deps struct {
	Backend  identity.Backend // identity backend client
	Store    *sessions.Store  // process-wide session state
	Guard    *Guard           // in-flight login attempt
	Router   *Router          // post-auth routing
	Notifier Notifier         // user visible messages
	Probe    platform.Probe   // platform capabilities
	Bridge   platform.Bridge  // native surfaces
}

const timeFormat = time.RFC3339Nano

type settings struct {
	nowTime  func() time.Time
	after    func(time.Duration) <-chan time.Time
	newID    func() string
	sso      platform.SSOPlugin
	verifier platform.IDTokenVerifier
	crumbs   breadcrumb.Store
	profiles users.Repo
	scheme   string
}

// Option configures optional behaviour of the auth components.
type Option func(*settings)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(s *settings) {
		s.nowTime = nowFunc
	}
}

// WithAfter replaces time.After for every delay and timeout (primarily for testing)
func WithAfter(after func(time.Duration) <-chan time.Time) Option {
	return func(s *settings) {
		s.after = after
	}
}

// WithIDGenerator replaces the uuid generator used for attempt ids and nonces.
func WithIDGenerator(newID func() string) Option {
	return func(s *settings) {
		s.newID = newID
	}
}

// WithSSOPlugin registers the native single sign-on plugin.
func WithSSOPlugin(plugin platform.SSOPlugin) Option {
	return func(s *settings) {
		s.sso = plugin
	}
}

// WithIDTokenVerifier verifies SSO plugin ID tokens before they are exchanged.
func WithIDTokenVerifier(v platform.IDTokenVerifier) Option {
	return func(s *settings) {
		s.verifier = v
	}
}

func WithBreadcrumbs(store breadcrumb.Store) Option {
	return func(s *settings) {
		s.crumbs = store
	}
}

// WithProfiles lets the StateManager record users it sees so the Router can
// classify them.
func WithProfiles(repo users.Repo) Option {
	return func(s *settings) {
		s.profiles = repo
	}
}

// WithCustomScheme sets the deep-link scheme understood when parsing callback URLs.
func WithCustomScheme(scheme string) Option {
	return func(s *settings) {
		s.scheme = scheme
	}
}

func newSettings(options []Option) settings {
	s := settings{
		nowTime: time.Now,
		after:   time.After,
		newID:   func() string { return uuid.New().String() },
		scheme:  callback.DefaultCustomScheme,
	}
	for _, opt := range options {
		opt(&s)
	}
	return s
}
