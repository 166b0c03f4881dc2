package errors

import (
	"errors"
	"fmt"
)

// Error taxonomy for login and session reconciliation
var (
	// The provider returned no authorization URL or rejected the callback URL.
	// Not retried; indicates a deployment misconfiguration.
	ErrConfiguration = errors.New("configuration error")

	// A backend call failed. Recovered by re-fetching the session once.
	ErrTransientNetwork = errors.New("transient network error")

	// No external authorization surface (browser, plugin) could be opened.
	ErrExternalSurfaceLaunch = errors.New("could not reach provider")

	// A callback did not match any known session or code shape.
	ErrCallbackMismatch = errors.New("callback mismatch")

	// A login attempt exceeded its staleness window. Never surfaced to the user.
	ErrStaleAttempt = errors.New("stale auth attempt")

	// A backend returned a partial or expired session.
	ErrInvalidSession = errors.New("invalid session")

	// General errors
	ErrNotFound = errors.New("not found")
)

// Mark attaches a taxonomy sentinel to err so errors.Is matches both.
func Mark(err, sentinel error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sentinel) {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}
