package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-bridge/auth"
	"github.com/jrsteele09/go-auth-bridge/identity"
	"github.com/jrsteele09/go-auth-bridge/internal/breadcrumb"
	"github.com/jrsteele09/go-auth-bridge/platform"
	"github.com/jrsteele09/go-auth-bridge/sessions"
	"github.com/stretchr/testify/require"
)

func TestStateManager_Start(t *testing.T) {
	ctx := context.Background()

	t.Run("hydrates from the backend", func(t *testing.T) {
		f := setupTestFixture(t, platform.StaticProbe{})
		store := sessions.NewStore()
		f.deps.Store = store
		manager, err := auth.NewStateManager(f.deps, f.initiator, f.reconciler, auth.WithNowTime(f.clock.Now))
		require.NoError(t, err)
		defer manager.Close()
		s := f.session(testUserID, testAccess)
		f.backend.getSession = func() (*sessions.Session, error) { return s, nil }

		require.True(t, manager.State().IsLoading)
		require.NoError(t, manager.Start(ctx))
		require.NoError(t, manager.Start(ctx))

		state := manager.State()
		require.False(t, state.IsLoading)
		require.Equal(t, s, state.Session)
		require.Equal(t, testUserID, state.User.ID)
		require.Equal(t, 1, f.backend.Calls("GetSession"))
	})

	t.Run("no session still finishes loading", func(t *testing.T) {
		f := setupTestFixture(t, platform.StaticProbe{})
		store := sessions.NewStore()
		f.deps.Store = store
		manager, err := auth.NewStateManager(f.deps, f.initiator, f.reconciler)
		require.NoError(t, err)
		defer manager.Close()
		f.backend.getSession = func() (*sessions.Session, error) { return nil, errors.New("offline") }

		require.NoError(t, manager.Start(ctx))
		require.False(t, manager.State().IsLoading)
		require.Nil(t, manager.State().Session)
	})

	t.Run("restores a native sso sign in", func(t *testing.T) {
		probe := platform.StaticProbe{Platform: platform.OSIOS, SSOPlugin: true}
		plugin := &fakeSSOPlugin{signedIn: true, user: &platform.SSOUser{ID: "g-1", IDToken: "id-token"}}
		f := setupTestFixture(t, probe, auth.WithSSOPlugin(plugin))
		s := f.session(testUserID, testAccess)
		f.backend.signInWithIDToken = func(p identity.Provider, idToken string) (*sessions.Session, error) {
			require.Equal(t, "id-token", idToken)
			return s, nil
		}

		require.NoError(t, f.manager.Start(ctx))
		require.Equal(t, s, f.manager.State().Session)
		require.Empty(t, f.notifier.All())

		profile, err := f.profiles.GetByID(testUserID)
		require.NoError(t, err)
		require.Equal(t, testEmail, profile.Email)
	})

	t.Run("signed out plugin is not used", func(t *testing.T) {
		probe := platform.StaticProbe{Platform: platform.OSIOS, SSOPlugin: true}
		f := setupTestFixture(t, probe, auth.WithSSOPlugin(&fakeSSOPlugin{}))

		require.NoError(t, f.manager.Start(ctx))
		require.Nil(t, f.manager.State().Session)
		require.Zero(t, f.backend.Calls("SignInWithIDToken"))
	})
}

func TestStateManager_RestoreFromPlugin(t *testing.T) {
	ctx := context.Background()
	probe := platform.StaticProbe{Platform: platform.OSIOS, SSOPlugin: true}

	t.Run("late plugin sign in is restored and routed quietly", func(t *testing.T) {
		plugin := &fakeSSOPlugin{user: &platform.SSOUser{ID: "g-1", IDToken: "id-token"}}
		f := setupTestFixture(t, probe, auth.WithSSOPlugin(plugin))
		s := f.session(testUserID, testAccess)
		f.backend.signInWithIDToken = func(p identity.Provider, idToken string) (*sessions.Session, error) {
			require.Equal(t, identity.ProviderGoogle, p)
			return s, nil
		}
		require.NoError(t, f.manager.Start(ctx))
		require.Nil(t, f.manager.State().Session)

		plugin.signedIn = true
		require.Equal(t, s, f.manager.RestoreFromPlugin(ctx))
		require.Equal(t, s, f.manager.State().Session)
		require.Len(t, f.navigator.All(), 1)
		require.Empty(t, f.notifier.All())

		require.Nil(t, f.manager.RestoreFromPlugin(ctx))
		require.Equal(t, 1, f.backend.Calls("SignInWithIDToken"))
	})

	t.Run("web shells are not restored", func(t *testing.T) {
		plugin := &fakeSSOPlugin{signedIn: true, user: &platform.SSOUser{IDToken: "id-token"}}
		f := setupTestFixture(t, platform.StaticProbe{}, auth.WithSSOPlugin(plugin))

		require.Nil(t, f.manager.RestoreFromPlugin(ctx))
		require.Zero(t, f.backend.Calls("SignInWithIDToken"))
	})
}

func TestStateManager_MirrorsBackendChanges(t *testing.T) {
	ctx := context.Background()
	crumbs := breadcrumb.NewMemoryStore(time.Now)
	f := setupTestFixture(t, platform.StaticProbe{}, auth.WithBreadcrumbs(crumbs))
	require.NoError(t, f.manager.Start(ctx))

	var states []sessions.State
	unsubscribe := f.manager.Subscribe(func(st sessions.State) { states = append(states, st) })
	defer unsubscribe()

	s := f.session(testUserID, testAccess)
	f.backend.listeners.Emit(identity.EventSignedIn, s)
	require.Equal(t, s, f.manager.State().Session)
	require.Empty(t, f.notifier.All())

	f.backend.listeners.Emit(identity.EventUserUpdated, s)
	f.backend.listeners.Emit(identity.EventSignedOut, nil)
	require.Nil(t, f.manager.State().Session)
	require.Equal(t, []auth.Level{auth.LevelSuccess, auth.LevelInfo}, f.notifier.Levels())
	require.Len(t, states, 3)

	crumb, ok, err := crumbs.Get(ctx, breadcrumb.KeyLastAuthStateChange)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, string(identity.EventSignedOut), crumb.Value)

	f.manager.Close()
	f.backend.listeners.Emit(identity.EventSignedIn, s)
	require.Nil(t, f.manager.State().Session)
}

func TestStateManager_SignIn(t *testing.T) {
	ctx := context.Background()

	t.Run("success routes a returning user", func(t *testing.T) {
		f := setupTestFixture(t, platform.StaticProbe{})
		f.addProfile(t, testUserID, time.Hour)
		f.backend.signInWithPassword = func(creds identity.Credentials) (*sessions.Session, error) {
			require.Equal(t, testEmail, creds.Email)
			return f.session(testUserID, testAccess), nil
		}

		s, err := f.manager.SignIn(ctx, identity.Credentials{Email: testEmail, Password: "pw"})
		require.NoError(t, err)
		require.Equal(t, testUserID, s.UserID)
		require.Equal(t, []auth.Destination{auth.DestinationProfile}, f.navigator.All())
		require.Equal(t, []auth.Level{auth.LevelSuccess}, f.notifier.Levels())
		require.False(t, f.manager.State().IsLoading)
	})

	t.Run("bad credentials", func(t *testing.T) {
		f := setupTestFixture(t, platform.StaticProbe{})
		f.backend.signInWithPassword = func(identity.Credentials) (*sessions.Session, error) {
			return nil, identity.InvalidCredentialsErr
		}

		_, err := f.manager.SignIn(ctx, identity.Credentials{Email: testEmail, Password: "pw"})
		require.ErrorIs(t, err, identity.InvalidCredentialsErr)
		notes := f.notifier.All()
		require.Len(t, notes, 1)
		require.Equal(t, "Invalid email or password", notes[0].message)
		require.Empty(t, f.navigator.All())
		require.False(t, f.manager.State().IsLoading)
	})
}

func TestStateManager_SignUp(t *testing.T) {
	ctx := context.Background()

	t.Run("new account goes to onboarding", func(t *testing.T) {
		f := setupTestFixture(t, platform.StaticProbe{})
		s := f.session(testUserID, testAccess)
		s.User.CreatedAt = f.clock.Now()
		f.backend.signUp = func(identity.Credentials) (*sessions.Session, error) { return s, nil }

		got, err := f.manager.SignUp(ctx, identity.Credentials{Email: testEmail, Password: "pw"})
		require.NoError(t, err)
		require.Equal(t, s, got)
		require.Equal(t, []auth.Destination{auth.DestinationOnboarding}, f.navigator.All())
	})

	t.Run("email confirmation pending", func(t *testing.T) {
		f := setupTestFixture(t, platform.StaticProbe{})

		got, err := f.manager.SignUp(ctx, identity.Credentials{Email: testEmail, Password: "pw"})
		require.NoError(t, err)
		require.Nil(t, got)
		require.Equal(t, []auth.Level{auth.LevelInfo}, f.notifier.Levels())
		require.Empty(t, f.navigator.All())
	})
}

func TestStateManager_SignInWithProvider(t *testing.T) {
	ctx := context.Background()

	t.Run("pending web login", func(t *testing.T) {
		f := setupTestFixture(t, platform.StaticProbe{})
		f.timers.blocked[redirectWait] = true
		f.bridge.onOpen = func(string, string) { f.manager.ConfirmRedirect() }

		res, err := f.manager.SignInWithProvider(ctx, identity.ProviderGoogle)
		require.NoError(t, err)
		require.True(t, res.Pending)
		require.Empty(t, f.navigator.All())
		require.False(t, f.manager.State().IsLoading)
	})

	t.Run("sso session routes then callback is ignored", func(t *testing.T) {
		probe := platform.StaticProbe{Platform: platform.OSAndroid, SSOPlugin: true}
		plugin := &fakeSSOPlugin{user: &platform.SSOUser{IDToken: "id-token"}}
		f := setupTestFixture(t, probe, auth.WithSSOPlugin(plugin))
		s := f.session(testUserID, testAccess)
		f.backend.signInWithIDToken = func(identity.Provider, string) (*sessions.Session, error) { return s, nil }
		f.backend.getSession = func() (*sessions.Session, error) { return s, nil }

		res, err := f.manager.SignInWithProvider(ctx, identity.ProviderGoogle)
		require.NoError(t, err)
		require.Equal(t, s, res.Session)
		require.NoError(t, f.reconciler.CheckSession(ctx, false, true))

		require.Equal(t, []auth.Destination{auth.DestinationOnboarding}, f.navigator.All())
		require.Equal(t, []auth.Level{auth.LevelSuccess}, f.notifier.Levels())
	})

	t.Run("unreachable provider", func(t *testing.T) {
		f := setupTestFixture(t, platform.StaticProbe{})

		_, err := f.manager.SignInWithProvider(ctx, identity.ProviderGoogle)
		require.Error(t, err)
		require.False(t, f.manager.State().IsLoading)
	})
}

func TestStateManager_OneTimeCode(t *testing.T) {
	ctx := context.Background()
	const phone = "+15550100"
	f := setupTestFixture(t, platform.StaticProbe{})
	f.backend.verifyOTP = func(p, code string) (*sessions.Session, error) {
		if code != "123456" {
			return nil, identity.InvalidOTPErr
		}
		return f.session(testUserID, testAccess), nil
	}

	require.NoError(t, f.manager.SignInWithOneTimeCode(ctx, phone))
	require.Equal(t, []auth.Level{auth.LevelInfo}, f.notifier.Levels())

	_, err := f.manager.VerifyOneTimeCode(ctx, phone, "000000")
	require.ErrorIs(t, err, identity.InvalidOTPErr)

	s, err := f.manager.VerifyOneTimeCode(ctx, phone, "123456")
	require.NoError(t, err)
	require.Equal(t, testUserID, s.UserID)
	require.Equal(t, []auth.Level{auth.LevelInfo, auth.LevelError, auth.LevelSuccess}, f.notifier.Levels())
	require.False(t, f.manager.State().IsLoading)
}

func TestStateManager_SignOut(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t, platform.StaticProbe{})
	require.NoError(t, f.manager.Start(ctx))
	f.backend.signInWithPassword = func(identity.Credentials) (*sessions.Session, error) {
		return f.session(testUserID, testAccess), nil
	}
	f.backend.signOut = func() error { return errors.New("network down") }

	_, err := f.manager.SignIn(ctx, identity.Credentials{Email: testEmail, Password: "pw"})
	require.NoError(t, err)

	require.Error(t, f.manager.SignOut(ctx))
	require.Nil(t, f.manager.State().Session)
	require.False(t, f.manager.State().IsLoading)
	require.Equal(t, []auth.Destination{auth.DestinationOnboarding, auth.DestinationSignIn}, f.navigator.All())
	require.Equal(t, []auth.Level{auth.LevelSuccess, auth.LevelInfo}, f.notifier.Levels())
}
