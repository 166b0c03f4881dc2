// Package breadcrumb records debug markers about login attempts and session
// checks. Breadcrumbs are written best-effort and never read by control flow.
package breadcrumb

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	KeyAuthTimestamp        = "auth_timestamp"
	KeyAuthAttemptPlatform  = "auth_attempt_platform"
	KeyAuthLaunchFailure    = "auth_launch_failure"
	KeyLastSessionCheck     = "last_session_check"
	KeyLastSessionUserID    = "last_session_user_id"
	KeyAuthError            = "auth_error"
	KeyLastDeepLinkMessage  = "last_deep_link_message"
	KeyLastAuthStateChange  = "last_auth_state_change"
	KeyAuthCallbackReceived = "auth_callback_received_at"
)

// Crumb is one recorded marker. Only the latest value per key is kept.
type Crumb struct {
	Key   string    `json:"key"`
	Value string    `json:"value"`
	At    time.Time `json:"at"`
}

type Store interface {
	Put(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (Crumb, bool, error)
	All(ctx context.Context) ([]Crumb, error)
}

// Drop records key=value on store, logging and swallowing any failure. A nil
// store is allowed.
func Drop(ctx context.Context, store Store, key, value string) {
	if store == nil {
		return
	}
	if err := store.Put(ctx, key, value); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("breadcrumb: write failed")
	}
}
