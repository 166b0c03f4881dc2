package auth_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-bridge/auth"
	"github.com/jrsteele09/go-auth-bridge/platform"
	"github.com/stretchr/testify/require"
)

func TestGuard(t *testing.T) {
	attempt := auth.Attempt{ID: "a-1", Platform: platform.OSWeb, StartedAt: baseTime}

	t.Run("empty guard never skips", func(t *testing.T) {
		g := auth.NewGuard(staleness)
		require.False(t, g.ShouldSkip(baseTime, false))
		require.False(t, g.InProgress(baseTime))
	})

	t.Run("staleness boundaries", func(t *testing.T) {
		tests := []struct {
			name     string
			age      time.Duration
			force    bool
			skip     bool
			retained bool
		}{
			{"young attempt skips", 4*time.Minute + 59*time.Second, false, true, true},
			{"young attempt with force", 4*time.Minute + 59*time.Second, true, false, true},
			{"exactly stale is cleared", 5 * time.Minute, false, false, false},
			{"old attempt is cleared", 5*time.Minute + time.Second, false, false, false},
			{"old attempt with force is cleared", 6 * time.Minute, true, false, false},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				g := auth.NewGuard(staleness)
				g.Mark(attempt)
				require.Equal(t, tt.skip, g.ShouldSkip(baseTime.Add(tt.age), tt.force))
				_, ok := g.Active()
				require.Equal(t, tt.retained, ok)
			})
		}
	})

	t.Run("in progress does not clear", func(t *testing.T) {
		g := auth.NewGuard(staleness)
		g.Mark(attempt)
		require.True(t, g.InProgress(baseTime.Add(time.Minute)))
		require.False(t, g.InProgress(baseTime.Add(10*time.Minute)))
		_, ok := g.Active()
		require.True(t, ok)
	})

	t.Run("clear if matches id", func(t *testing.T) {
		g := auth.NewGuard(staleness)
		resolved := g.Mark(attempt)
		require.False(t, g.ClearIf("other"))
		require.True(t, g.ClearIf(attempt.ID))
		<-resolved
		require.False(t, g.ClearIf(attempt.ID))
	})

	t.Run("mark replaces and resolves previous", func(t *testing.T) {
		g := auth.NewGuard(staleness)
		first := g.Mark(attempt)
		gen := g.Generation()
		g.Mark(auth.Attempt{ID: "a-2", StartedAt: baseTime})
		<-first
		require.Equal(t, gen+1, g.Generation())
		active, ok := g.Active()
		require.True(t, ok)
		require.Equal(t, "a-2", active.ID)
	})
}
