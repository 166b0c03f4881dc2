package sessions_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-bridge/sessions"
	"github.com/stretchr/testify/require"
)

func TestSession_Valid(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	full := sessions.Session{
		AccessToken:  "access",
		RefreshToken: "refresh",
		UserID:       "user-1",
		ExpiresAt:    now.Add(time.Hour),
	}

	t.Run("complete session", func(t *testing.T) {
		s := full
		require.True(t, s.Valid(now))
		require.Same(t, &s, sessions.Normalize(&s, now))
	})

	t.Run("nil session", func(t *testing.T) {
		var s *sessions.Session
		require.False(t, s.Valid(now))
		require.Nil(t, sessions.Normalize(s, now))
	})

	t.Run("missing refresh token", func(t *testing.T) {
		s := full
		s.RefreshToken = ""
		require.False(t, s.Valid(now))
		require.Nil(t, sessions.Normalize(&s, now))
	})

	t.Run("missing user", func(t *testing.T) {
		s := full
		s.UserID = ""
		require.False(t, s.Valid(now))
	})

	t.Run("expired", func(t *testing.T) {
		s := full
		s.ExpiresAt = now
		require.False(t, s.Valid(now))
	})
}

func TestStore(t *testing.T) {
	t.Run("initial state is loading without session", func(t *testing.T) {
		st := sessions.NewStore()
		state := st.Snapshot()
		require.True(t, state.IsLoading)
		require.Nil(t, state.Session)
	})

	t.Run("hydration releases only the initial hold", func(t *testing.T) {
		st := sessions.NewStore()
		release := st.BeginLoading()

		st.MarkHydrated()
		require.True(t, st.Snapshot().IsLoading)
		st.MarkHydrated()
		require.True(t, st.Snapshot().IsLoading)

		release()
		require.False(t, st.Snapshot().IsLoading)
	})

	t.Run("set session derives user", func(t *testing.T) {
		st := sessions.NewStore()
		st.SetSession(&sessions.Session{UserID: "user-1"})
		state := st.Snapshot()
		require.Equal(t, "user-1", state.User.ID)

		st.SetSession(nil)
		require.Nil(t, st.Snapshot().User)
	})

	t.Run("loading holds nest", func(t *testing.T) {
		st := sessions.NewStore()
		st.MarkHydrated()

		releaseA := st.BeginLoading()
		releaseB := st.BeginLoading()
		require.True(t, st.Snapshot().IsLoading)

		releaseA()
		releaseA()
		require.True(t, st.Snapshot().IsLoading)

		releaseB()
		require.False(t, st.Snapshot().IsLoading)
	})

	t.Run("subscribers see every change until unsubscribed", func(t *testing.T) {
		st := sessions.NewStore()
		var seen []sessions.State
		unsubscribe := st.Subscribe(func(s sessions.State) { seen = append(seen, s) })

		st.MarkHydrated()
		st.SetSession(&sessions.Session{UserID: "user-1"})
		unsubscribe()
		st.SetSession(nil)

		require.Len(t, seen, 2)
		require.False(t, seen[0].IsLoading)
		require.Equal(t, "user-1", seen[1].Session.UserID)
	})

	t.Run("concurrent writers are delivered in write order", func(t *testing.T) {
		st := sessions.NewStore()
		var mu sync.Mutex
		var last sessions.State
		st.Subscribe(func(s sessions.State) {
			mu.Lock()
			last = s
			mu.Unlock()
		})

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				st.SetSession(&sessions.Session{UserID: fmt.Sprintf("user-%d", i)})
			}(i)
		}
		wg.Wait()

		mu.Lock()
		defer mu.Unlock()
		require.Equal(t, st.Snapshot().Session, last.Session)
	})
}
