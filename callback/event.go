// Package callback turns the asynchronous ways a login completes (bridge
// messages, deep links, same-page redirects) into a single ordered stream of
// Events.
package callback

import "fmt"

// Event is a normalized callback. The set of implementations is closed.
type Event interface {
	Kind() string
	isEvent()
}

// Tokens carries a session delivered directly by the provider redirect.
type Tokens struct {
	AccessToken  string
	RefreshToken string
}

// AuthorizationCode is a one-time code to be exchanged for a session.
type AuthorizationCode struct {
	Code string
}

// Error is a provider or backend error reported through the callback.
type Error struct {
	Code        string
	Description string
}

// CallbackDetected reports that a callback arrived without usable parameters.
type CallbackDetected struct{}

// FullURL is a raw callback URL still to be parsed.
type FullURL struct {
	URL string
}

// CheckSessionRequest asks for a session check. Force bypasses the
// in-progress guard and refreshes; Silent suppresses notifications.
type CheckSessionRequest struct {
	Force  bool
	Silent bool
}

func (Tokens) Kind() string              { return TypeAuthTokens }
func (AuthorizationCode) Kind() string   { return TypeAuthCode }
func (Error) Kind() string               { return TypeAuthError }
func (CallbackDetected) Kind() string    { return TypeCallbackDetected }
func (FullURL) Kind() string             { return TypeFullURL }
func (CheckSessionRequest) Kind() string { return TypeCheckSession }

func (Tokens) isEvent()              {}
func (AuthorizationCode) isEvent()   {}
func (Error) isEvent()               {}
func (CallbackDetected) isEvent()    {}
func (FullURL) isEvent()             {}
func (CheckSessionRequest) isEvent() {}

func (e Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Message returns the text shown to the user for the error.
func (e Error) Message() string {
	switch {
	case e.Description != "":
		return e.Description
	case e.Code != "":
		return e.Code
	}
	return "Authentication failed. Please try again."
}
