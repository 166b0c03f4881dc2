package auth

import (
	"github.com/jrsteele09/go-auth-bridge/identity"
	autherrors "github.com/jrsteele09/go-auth-bridge/internal/errors"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Level is the severity of a user visible notification.
type Level string

const (
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
	LevelInfo    Level = "info"
)

// Notifier shows messages to the user (toasts in the app shell).
type Notifier interface {
	Notify(level Level, message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(level Level, message string)

func (f NotifierFunc) Notify(level Level, message string) {
	f(level, message)
}

// LogNotifier writes notifications to the global logger.
type LogNotifier struct{}

func (LogNotifier) Notify(level Level, message string) {
	var ev *zerolog.Event
	switch level {
	case LevelError:
		ev = log.Error()
	case LevelWarning:
		ev = log.Warn()
	default:
		ev = log.Info()
	}
	ev.Str("level", string(level)).Msg(message)
}

const (
	msgSignedIn            = "Successfully signed in"
	msgSignedOut           = "You have been signed out"
	msgProfileUpdated      = "Profile updated"
	msgAlreadySignedIn     = "Signed in, but the provider reported a problem"
	msgAuthFailed          = "Authentication failed. Please try again."
	msgSessionExpired      = "Your session could not be restored. Please sign in again."
	msgProviderUnreachable = "Could not reach the sign-in provider. Please try again."
	msgTryLater            = "Sign-in is unavailable right now. Please try again later."
	msgCodeSent            = "A verification code has been sent"
	msgAccountCreated      = "Account created"
	msgConfirmEmail        = "Check your inbox to confirm your account"
)

// userMessage picks the text shown for a failed verb.
func userMessage(err error) string {
	switch {
	case errors.Is(err, identity.InvalidCredentialsErr):
		return "Invalid email or password"
	case errors.Is(err, identity.UserAlreadyExistsErr):
		return "An account with these details already exists"
	case errors.Is(err, identity.InvalidOTPErr):
		return "The code is invalid or has expired"
	case errors.Is(err, autherrors.ErrConfiguration):
		return msgTryLater
	case errors.Is(err, autherrors.ErrExternalSurfaceLaunch):
		return msgProviderUnreachable
	}
	return msgAuthFailed
}
