package auth

import (
	"sync"
	"time"

	"github.com/jrsteele09/go-auth-bridge/identity"
	autherrors "github.com/jrsteele09/go-auth-bridge/internal/errors"
	"github.com/jrsteele09/go-auth-bridge/platform"
	"github.com/rs/zerolog/log"
)

// Attempt is an in-flight login.
type Attempt struct {
	ID        string
	Platform  platform.OS
	Provider  identity.Provider
	StartedAt time.Time
}

// Guard tracks the single active Attempt and suppresses racy session checks
// while it is young.
type Guard struct {
	mu         sync.Mutex
	attempt    *Attempt
	resolved   chan struct{}
	generation uint64
	staleness  time.Duration
}

func NewGuard(staleness time.Duration) *Guard {
	return &Guard{staleness: staleness}
}

// Mark records a as the active attempt, replacing any previous one. The
// returned channel is closed when a is cleared or replaced.
func (g *Guard) Mark(a Attempt) <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.release()
	g.attempt = &a
	g.resolved = make(chan struct{})
	g.generation++
	return g.resolved
}

func (g *Guard) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.release()
}

// ClearIf clears the active attempt only if its id is id.
func (g *Guard) ClearIf(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.attempt == nil || g.attempt.ID != id {
		return false
	}
	g.release()
	return true
}

// ShouldSkip reports whether a session check at now must be skipped: an
// attempt exists, is younger than the staleness window and force is false.
// A stale attempt is cleared as a side effect.
func (g *Guard) ShouldSkip(now time.Time, force bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.attempt == nil {
		return false
	}
	if g.staleLocked(now) {
		log.Debug().Err(autherrors.ErrStaleAttempt).
			Str("attempt_id", g.attempt.ID).
			Time("started_at", g.attempt.StartedAt).
			Msg("auth: clearing stale attempt")
		g.release()
		return false
	}
	return !force
}

// InProgress reports whether an attempt younger than the staleness window
// is active at now. It never clears anything.
func (g *Guard) InProgress(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.attempt != nil && !g.staleLocked(now)
}

func (g *Guard) Active() (Attempt, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.attempt == nil {
		return Attempt{}, false
	}
	return *g.attempt, true
}

// Generation increases with every Mark.
func (g *Guard) Generation() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.generation
}

func (g *Guard) staleLocked(now time.Time) bool {
	return now.Sub(g.attempt.StartedAt) >= g.staleness
}

func (g *Guard) release() {
	if g.resolved != nil {
		close(g.resolved)
		g.resolved = nil
	}
	g.attempt = nil
}
