package identity

import "errors"

var (
	InvalidCredentialsErr  = errors.New("invalid login credentials")
	UserAlreadyExistsErr   = errors.New("user already registered")
	InvalidGrantErr        = errors.New("invalid grant")
	CodeAlreadyUsedErr     = errors.New("authorization code already used")
	InvalidRefreshTokenErr = errors.New("invalid refresh token")
	InvalidOTPErr          = errors.New("token has expired or is invalid")
	RedirectMismatchErr    = errors.New("invalid redirect url")
)
