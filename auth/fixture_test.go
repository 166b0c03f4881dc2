package auth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-bridge/auth"
	"github.com/jrsteele09/go-auth-bridge/identity"
	"github.com/jrsteele09/go-auth-bridge/internal/config"
	"github.com/jrsteele09/go-auth-bridge/platform"
	"github.com/jrsteele09/go-auth-bridge/sessions"
	"github.com/jrsteele09/go-auth-bridge/users"
	fakeuserrepo "github.com/jrsteele09/go-auth-bridge/users/repofake"
	"github.com/stretchr/testify/require"
)

const (
	testUserID   = "user-1"
	testEmail    = "jane@example.com"
	testAccess   = "access-1"
	testRefresh  = "refresh-1"
	testCode     = "code-1"
	testAuthURL  = "https://identity.example/authorize?provider=google"
	redirectWait = 8 * time.Second
	settleDelay  = 3 * time.Second
	navDelay     = 50 * time.Millisecond
	staleness    = 5 * time.Minute
)

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// testClock is a settable now time.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testTimers replaces time.After. Durations listed in blocked never fire,
// everything else fires immediately.
type testTimers struct {
	mu        sync.Mutex
	requested []time.Duration
	blocked   map[time.Duration]bool
}

func (tt *testTimers) After(d time.Duration) <-chan time.Time {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	tt.requested = append(tt.requested, d)
	if tt.blocked[d] {
		return nil
	}
	ch := make(chan time.Time, 1)
	ch <- baseTime
	return ch
}

func (tt *testTimers) Requested() []time.Duration {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	return append([]time.Duration(nil), tt.requested...)
}

// fakeBackend is an identity.Backend whose behaviour is set per test. Unset
// funcs return nothing.
type fakeBackend struct {
	mu        sync.Mutex
	calls     map[string]int
	listeners identity.Listeners

	signInWithPassword func(identity.Credentials) (*sessions.Session, error)
	signUp             func(identity.Credentials) (*sessions.Session, error)
	signInWithOAuth    func(identity.Provider, identity.OAuthOptions) (*identity.OAuthResult, error)
	signInWithIDToken  func(identity.Provider, string) (*sessions.Session, error)
	exchangeCode       func(string) (*sessions.Session, error)
	setSession         func(string, string) (*sessions.Session, error)
	getSession         func() (*sessions.Session, error)
	refreshSession     func() (*sessions.Session, error)
	signOut            func() error
	signInWithOTP      func(string) error
	verifyOTP          func(string, string) (*sessions.Session, error)
}

var _ identity.Backend = (*fakeBackend)(nil)

func (b *fakeBackend) record(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.calls == nil {
		b.calls = make(map[string]int)
	}
	b.calls[name]++
}

func (b *fakeBackend) Calls(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[name]
}

func (b *fakeBackend) TotalCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for _, n := range b.calls {
		total += n
	}
	return total
}

func (b *fakeBackend) SignInWithPassword(ctx context.Context, creds identity.Credentials) (*sessions.Session, error) {
	b.record("SignInWithPassword")
	if b.signInWithPassword == nil {
		return nil, nil
	}
	return b.signInWithPassword(creds)
}

func (b *fakeBackend) SignUp(ctx context.Context, creds identity.Credentials) (*sessions.Session, error) {
	b.record("SignUp")
	if b.signUp == nil {
		return nil, nil
	}
	return b.signUp(creds)
}

func (b *fakeBackend) SignInWithOAuth(ctx context.Context, provider identity.Provider, opts identity.OAuthOptions) (*identity.OAuthResult, error) {
	b.record("SignInWithOAuth")
	if b.signInWithOAuth == nil {
		return &identity.OAuthResult{Provider: provider, URL: testAuthURL}, nil
	}
	return b.signInWithOAuth(provider, opts)
}

func (b *fakeBackend) SignInWithIDToken(ctx context.Context, provider identity.Provider, idToken string) (*sessions.Session, error) {
	b.record("SignInWithIDToken")
	if b.signInWithIDToken == nil {
		return nil, nil
	}
	return b.signInWithIDToken(provider, idToken)
}

func (b *fakeBackend) ExchangeCodeForSession(ctx context.Context, code string) (*sessions.Session, error) {
	b.record("ExchangeCodeForSession")
	if b.exchangeCode == nil {
		return nil, identity.InvalidGrantErr
	}
	return b.exchangeCode(code)
}

func (b *fakeBackend) SetSession(ctx context.Context, accessToken, refreshToken string) (*sessions.Session, error) {
	b.record("SetSession")
	if b.setSession == nil {
		return nil, identity.InvalidGrantErr
	}
	return b.setSession(accessToken, refreshToken)
}

func (b *fakeBackend) GetSession(ctx context.Context) (*sessions.Session, error) {
	b.record("GetSession")
	if b.getSession == nil {
		return nil, nil
	}
	return b.getSession()
}

func (b *fakeBackend) RefreshSession(ctx context.Context) (*sessions.Session, error) {
	b.record("RefreshSession")
	if b.refreshSession == nil {
		return nil, identity.InvalidRefreshTokenErr
	}
	return b.refreshSession()
}

func (b *fakeBackend) OnAuthStateChange(handler identity.ChangeHandler) func() {
	return b.listeners.Add(handler)
}

func (b *fakeBackend) SignOut(ctx context.Context) error {
	b.record("SignOut")
	b.listeners.Emit(identity.EventSignedOut, nil)
	if b.signOut == nil {
		return nil
	}
	return b.signOut()
}

func (b *fakeBackend) SignInWithOTP(ctx context.Context, phone string) error {
	b.record("SignInWithOTP")
	if b.signInWithOTP == nil {
		return nil
	}
	return b.signInWithOTP(phone)
}

func (b *fakeBackend) VerifyOTP(ctx context.Context, phone, code string, otpType identity.OTPType) (*sessions.Session, error) {
	b.record("VerifyOTP")
	if b.verifyOTP == nil {
		return nil, identity.InvalidOTPErr
	}
	return b.verifyOTP(phone, code)
}

// fakeBridge fails every surface named in failing.
type fakeBridge struct {
	mu      sync.Mutex
	opened  []string
	failing map[string]error
	onOpen  func(surface, target string)
}

func (fb *fakeBridge) open(surface, target string) error {
	fb.mu.Lock()
	fb.opened = append(fb.opened, surface)
	err := fb.failing[surface]
	hook := fb.onOpen
	fb.mu.Unlock()
	if err == nil && hook != nil {
		hook(surface, target)
	}
	return err
}

func (fb *fakeBridge) Opened() []string {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]string(nil), fb.opened...)
}

func (fb *fakeBridge) OpenURL(ctx context.Context, target string) error {
	return fb.open("open_url", target)
}

func (fb *fakeBridge) OpenScheme(ctx context.Context, schemeURL string) error {
	return fb.open("os_scheme", schemeURL)
}

func (fb *fakeBridge) AssignLocation(ctx context.Context, target string) error {
	return fb.open("location", target)
}

type notification struct {
	level   auth.Level
	message string
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []notification
}

func (n *recordingNotifier) Notify(level auth.Level, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, notification{level, message})
}

func (n *recordingNotifier) All() []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification(nil), n.notes...)
}

func (n *recordingNotifier) Levels() []auth.Level {
	var levels []auth.Level
	for _, note := range n.All() {
		levels = append(levels, note.level)
	}
	return levels
}

type recordingNavigator struct {
	mu    sync.Mutex
	dests []auth.Destination
}

func (n *recordingNavigator) Navigate(ctx context.Context, dest auth.Destination) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dests = append(n.dests, dest)
}

func (n *recordingNavigator) All() []auth.Destination {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]auth.Destination(nil), n.dests...)
}

type fakeSSOPlugin struct {
	user     *platform.SSOUser
	err      error
	signedIn bool
	signIns  int
}

func (p *fakeSSOPlugin) SignIn(ctx context.Context) (*platform.SSOUser, error) {
	p.signIns++
	return p.user, p.err
}

func (p *fakeSSOPlugin) IsSignedIn(ctx context.Context) (bool, error) {
	return p.signedIn, nil
}

func (p *fakeSSOPlugin) CurrentUser(ctx context.Context) (*platform.SSOUser, error) {
	return p.user, p.err
}

// testFixture wires the auth components against fakes.
type testFixture struct {
	clock      *testClock
	timers     *testTimers
	backend    *fakeBackend
	store      *sessions.Store
	guard      *auth.Guard
	profiles   users.Repo
	navigator  *recordingNavigator
	notifier   *recordingNotifier
	bridge     *fakeBridge
	probe      platform.StaticProbe
	deps       auth.Deps
	initiator  *auth.Initiator
	reconciler *auth.Reconciler
	manager    *auth.StateManager
}

func testOAuthConfig() config.OAuth {
	return config.OAuth{
		Scopes:            "email profile",
		Prompt:            "select_account",
		RedirectTimeout:   redirectWait,
		NavigationDelay:   navDelay,
		NativeSettleDelay: settleDelay,
		AttemptStaleness:  staleness,
		NewUserWindow:     5 * time.Minute,
	}
}

func setupTestFixture(t *testing.T, probe platform.StaticProbe, extra ...auth.Option) *testFixture {
	t.Helper()

	f := &testFixture{
		clock:     &testClock{now: baseTime},
		timers:    &testTimers{blocked: map[time.Duration]bool{}},
		backend:   &fakeBackend{},
		store:     sessions.NewStore(),
		guard:     auth.NewGuard(staleness),
		profiles:  fakeuserrepo.NewFakeUserRepo(),
		navigator: &recordingNavigator{},
		notifier:  &recordingNotifier{},
		bridge:    &fakeBridge{failing: map[string]error{}},
		probe:     probe,
	}
	options := append([]auth.Option{
		auth.WithNowTime(f.clock.Now),
		auth.WithAfter(f.timers.After),
		auth.WithProfiles(f.profiles),
	}, extra...)

	router, err := auth.NewRouter(f.profiles, f.navigator, 5*time.Minute, options...)
	require.NoError(t, err)

	f.deps = auth.Deps{
		Backend:  f.backend,
		Store:    f.store,
		Guard:    f.guard,
		Router:   router,
		Notifier: f.notifier,
		Probe:    probe,
		Bridge:   f.bridge,
	}
	f.initiator, err = auth.NewInitiator(f.deps, testOAuthConfig(), options...)
	require.NoError(t, err)
	f.reconciler, err = auth.NewReconciler(f.deps, options...)
	require.NoError(t, err)
	t.Cleanup(f.reconciler.Close)
	f.manager, err = auth.NewStateManager(f.deps, f.initiator, f.reconciler, options...)
	require.NoError(t, err)
	t.Cleanup(f.manager.Close)

	// Components start hydrated unless a test exercises Start.
	f.store.MarkHydrated()
	return f
}

// session returns a session for userID valid for an hour from the fixture clock.
func (f *testFixture) session(userID, access string) *sessions.Session {
	return &sessions.Session{
		AccessToken:  access,
		RefreshToken: "refresh-" + access,
		ExpiresAt:    f.clock.Now().Add(time.Hour),
		UserID:       userID,
		User:         &sessions.User{ID: userID, Email: testEmail},
	}
}

// addProfile records userID as created age ago.
func (f *testFixture) addProfile(t *testing.T, userID string, age time.Duration) {
	t.Helper()
	require.NoError(t, f.profiles.Upsert(&users.Profile{
		ID:        userID,
		Email:     testEmail,
		CreatedAt: f.clock.Now().Add(-age),
	}))
}
