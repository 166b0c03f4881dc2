package users

import (
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Profile is the account record the post-auth router consults.
type Profile struct {
	ID           string    `json:"id"`
	Email        string    `json:"email,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	DisplayName  string    `json:"display_name,omitempty"`
	PasswordHash string    `json:"-"` // never serialize
	CreatedAt    time.Time `json:"created_at"`
}

// IsNew reports whether the account was created less than window before now.
func (p *Profile) IsNew(now time.Time, window time.Duration) bool {
	return now.Sub(p.CreatedAt) < window
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
