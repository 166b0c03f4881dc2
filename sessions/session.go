package sessions

import "time"

// User is the identity attached to a session.
type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Session is the locally cached copy of a credential bundle owned by the
// identity backend. It may be stale.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	UserID       string    `json:"user_id"`
	User         *User     `json:"user,omitempty"`
}

// Valid reports whether both tokens are present, the user is known and the
// session has not expired at now.
func (s *Session) Valid(now time.Time) bool {
	if s == nil {
		return false
	}
	return s.AccessToken != "" &&
		s.RefreshToken != "" &&
		s.UserID != "" &&
		s.ExpiresAt.After(now)
}

// Normalize returns s if it is valid at now and nil otherwise. Partial or
// expired sessions are treated as absent.
func Normalize(s *Session, now time.Time) *Session {
	if !s.Valid(now) {
		return nil
	}
	return s
}
