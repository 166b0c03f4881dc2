// Package memory is an in-process identity backend. It backs the demo binary
// and the server tests; it keeps one signed-in session like a single client.
package memory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"net/url"
	"sync"
	"time"

	"github.com/jrsteele09/go-auth-bridge/identity"
	"github.com/jrsteele09/go-auth-bridge/sessions"
	"github.com/jrsteele09/go-auth-bridge/token"
	"github.com/jrsteele09/go-auth-bridge/users"
	"github.com/pkg/errors"
)

const (
	defaultAccessTokenTTL = time.Hour
	refreshTokenLength    = 32
	authorizeURL          = "https://identity.memory.invalid/authorize"
)

var _ identity.Backend = (*Backend)(nil)

// Backend is an in-memory identity.Backend.
type Backend struct {
	users     users.Repo
	signer    *token.HMACSigner
	listeners identity.Listeners
	nowTime   func() time.Time
	ttl       time.Duration

	lock          sync.Mutex
	current       *sessions.Session
	refreshTokens map[string]string // refresh token to user id
	codes         map[string]string // authorization code to user id
	usedCodes     map[string]struct{}
	otps          map[string]string // phone to pending code
}

type Option func(*Backend)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(b *Backend) {
		b.nowTime = nowFunc
	}
}

// WithAccessTokenTTL sets the lifetime of issued access tokens.
func WithAccessTokenTTL(ttl time.Duration) Option {
	return func(b *Backend) {
		b.ttl = ttl
	}
}

func New(userRepo users.Repo, signer *token.HMACSigner, options ...Option) *Backend {
	b := &Backend{
		users:         userRepo,
		signer:        signer,
		nowTime:       time.Now,
		ttl:           defaultAccessTokenTTL,
		refreshTokens: make(map[string]string),
		codes:         make(map[string]string),
		usedCodes:     make(map[string]struct{}),
		otps:          make(map[string]string),
	}
	for _, opt := range options {
		opt(b)
	}
	return b
}

func (b *Backend) SignInWithPassword(ctx context.Context, creds identity.Credentials) (*sessions.Session, error) {
	profile, err := b.lookup(creds.Email, creds.Phone)
	if err != nil {
		return nil, identity.InvalidCredentialsErr
	}
	if !users.CheckPasswordHash(creds.Password, profile.PasswordHash) {
		return nil, identity.InvalidCredentialsErr
	}
	return b.signIn(profile, identity.EventSignedIn)
}

func (b *Backend) SignUp(ctx context.Context, creds identity.Credentials) (*sessions.Session, error) {
	if creds.Email == "" && creds.Phone == "" {
		return nil, errors.New("[memory SignUp] email or phone is required")
	}
	if _, err := b.lookup(creds.Email, creds.Phone); err == nil {
		return nil, identity.UserAlreadyExistsErr
	}
	hash, err := users.HashPassword(creds.Password)
	if err != nil {
		return nil, errors.Wrap(err, "[memory SignUp] HashPassword")
	}
	profile := &users.Profile{
		Email:        creds.Email,
		Phone:        creds.Phone,
		DisplayName:  creds.DisplayName,
		PasswordHash: hash,
		CreatedAt:    b.nowTime(),
	}
	if err := b.users.Upsert(profile); err != nil {
		return nil, errors.Wrap(err, "[memory SignUp] Upsert")
	}
	return b.signIn(profile, identity.EventSignedIn)
}

// SignInWithOAuth returns an authorization URL on the fake provider. The
// memory backend cannot navigate, so Redirected is always false.
func (b *Backend) SignInWithOAuth(ctx context.Context, provider identity.Provider, opts identity.OAuthOptions) (*identity.OAuthResult, error) {
	if provider == "" {
		return nil, errors.New("[memory SignInWithOAuth] provider is required")
	}
	q := url.Values{}
	q.Set("provider", string(provider))
	if opts.Scopes != "" {
		q.Set("scopes", opts.Scopes)
	}
	for k, v := range opts.QueryParams {
		q.Set(k, v)
	}
	if opts.RedirectTo != "" {
		q.Set("redirect_to", opts.RedirectTo)
	}
	return &identity.OAuthResult{
		Provider: provider,
		URL:      authorizeURL + "?" + q.Encode(),
	}, nil
}

// SignInWithIDToken accepts a provider ID token. The token's email claim (or
// subject) identifies the account, which is created on first use.
func (b *Backend) SignInWithIDToken(ctx context.Context, provider identity.Provider, idToken string) (*sessions.Session, error) {
	claims, err := token.Inspect(idToken)
	if err != nil {
		return nil, errors.Wrap(identity.InvalidGrantErr, err.Error())
	}
	email := claims.Email
	if email == "" {
		email = claims.Subject + "@" + string(provider)
	}
	profile, err := b.users.GetByEmail(email)
	if err != nil {
		profile = &users.Profile{Email: email, CreatedAt: b.nowTime()}
		if err := b.users.Upsert(profile); err != nil {
			return nil, errors.Wrap(err, "[memory SignInWithIDToken] Upsert")
		}
	}
	return b.signIn(profile, identity.EventSignedIn)
}

// IssueAuthorizationCode simulates the provider completing a login for the
// user with email and returns the one-time code delivered to the callback.
func (b *Backend) IssueAuthorizationCode(email string) (string, error) {
	profile, err := b.users.GetByEmail(email)
	if err != nil {
		profile = &users.Profile{Email: email, CreatedAt: b.nowTime()}
		if err := b.users.Upsert(profile); err != nil {
			return "", errors.Wrap(err, "[memory IssueAuthorizationCode] Upsert")
		}
	}
	code, err := randomHex(16)
	if err != nil {
		return "", err
	}
	b.lock.Lock()
	b.codes[code] = profile.ID
	b.lock.Unlock()
	return code, nil
}

func (b *Backend) ExchangeCodeForSession(ctx context.Context, code string) (*sessions.Session, error) {
	b.lock.Lock()
	userID, ok := b.codes[code]
	_, used := b.usedCodes[code]
	if ok {
		delete(b.codes, code)
		b.usedCodes[code] = struct{}{}
	}
	b.lock.Unlock()

	if used {
		return nil, identity.CodeAlreadyUsedErr
	}
	if !ok {
		return nil, identity.InvalidGrantErr
	}
	profile, err := b.users.GetByID(userID)
	if err != nil {
		return nil, errors.Wrap(err, "[memory ExchangeCodeForSession] GetByID")
	}
	return b.signIn(profile, identity.EventSignedIn)
}

func (b *Backend) SetSession(ctx context.Context, accessToken, refreshToken string) (*sessions.Session, error) {
	claims, err := b.signer.Verify(accessToken)
	if err != nil {
		return nil, errors.Wrap(identity.InvalidGrantErr, err.Error())
	}
	b.lock.Lock()
	userID, ok := b.refreshTokens[refreshToken]
	b.lock.Unlock()
	if !ok || userID != claims.Subject {
		return nil, identity.InvalidRefreshTokenErr
	}
	profile, err := b.users.GetByID(userID)
	if err != nil {
		return nil, errors.Wrap(err, "[memory SetSession] GetByID")
	}
	s := &sessions.Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    claims.Expiry(),
		UserID:       userID,
		User:         toUser(profile),
	}
	b.lock.Lock()
	b.current = s
	b.lock.Unlock()
	b.listeners.Emit(identity.EventSignedIn, s)
	return s, nil
}

func (b *Backend) GetSession(ctx context.Context) (*sessions.Session, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	return sessions.Normalize(b.current, b.nowTime()), nil
}

// RefreshSession rotates the refresh token of the current session.
func (b *Backend) RefreshSession(ctx context.Context) (*sessions.Session, error) {
	b.lock.Lock()
	current := b.current
	b.lock.Unlock()
	if current == nil {
		return nil, identity.InvalidRefreshTokenErr
	}

	b.lock.Lock()
	userID, ok := b.refreshTokens[current.RefreshToken]
	delete(b.refreshTokens, current.RefreshToken)
	b.lock.Unlock()
	if !ok {
		return nil, identity.InvalidRefreshTokenErr
	}

	profile, err := b.users.GetByID(userID)
	if err != nil {
		return nil, errors.Wrap(err, "[memory RefreshSession] GetByID")
	}
	return b.signIn(profile, identity.EventTokenRefreshed)
}

func (b *Backend) OnAuthStateChange(handler identity.ChangeHandler) func() {
	return b.listeners.Add(handler)
}

func (b *Backend) SignOut(ctx context.Context) error {
	b.lock.Lock()
	if b.current != nil {
		delete(b.refreshTokens, b.current.RefreshToken)
	}
	b.current = nil
	b.lock.Unlock()
	b.listeners.Emit(identity.EventSignedOut, nil)
	return nil
}

func (b *Backend) SignInWithOTP(ctx context.Context, phone string) error {
	if phone == "" {
		return errors.New("[memory SignInWithOTP] phone is required")
	}
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return errors.Wrap(err, "[memory SignInWithOTP] rand.Int")
	}
	b.lock.Lock()
	b.otps[phone] = fmt.Sprintf("%06d", n.Int64())
	b.lock.Unlock()
	return nil
}

// PendingOTP returns the code last sent to phone. Stands in for the SMS.
func (b *Backend) PendingOTP(phone string) (string, bool) {
	b.lock.Lock()
	defer b.lock.Unlock()
	code, ok := b.otps[phone]
	return code, ok
}

func (b *Backend) VerifyOTP(ctx context.Context, phone, code string, otpType identity.OTPType) (*sessions.Session, error) {
	if otpType != identity.OTPTypeSMS {
		return nil, errors.Wrapf(identity.InvalidOTPErr, "unsupported otp type %q", otpType)
	}
	b.lock.Lock()
	expected, ok := b.otps[phone]
	if ok && expected == code {
		delete(b.otps, phone)
	}
	b.lock.Unlock()
	if !ok || expected != code {
		return nil, identity.InvalidOTPErr
	}

	profile, err := b.users.GetByPhone(phone)
	if err != nil {
		profile = &users.Profile{Phone: phone, CreatedAt: b.nowTime()}
		if err := b.users.Upsert(profile); err != nil {
			return nil, errors.Wrap(err, "[memory VerifyOTP] Upsert")
		}
	}
	return b.signIn(profile, identity.EventSignedIn)
}

func (b *Backend) signIn(profile *users.Profile, event identity.ChangeEvent) (*sessions.Session, error) {
	access, expiresAt, err := b.signer.CreateAccessToken(profile.ID, profile.Email, profile.Phone, b.ttl)
	if err != nil {
		return nil, errors.Wrap(err, "[memory signIn] CreateAccessToken")
	}
	refresh, err := randomHex(refreshTokenLength)
	if err != nil {
		return nil, err
	}
	s := &sessions.Session{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt,
		UserID:       profile.ID,
		User:         toUser(profile),
	}

	b.lock.Lock()
	b.refreshTokens[refresh] = profile.ID
	b.current = s
	b.lock.Unlock()

	b.listeners.Emit(event, s)
	return s, nil
}

func (b *Backend) lookup(email, phone string) (*users.Profile, error) {
	if email != "" {
		return b.users.GetByEmail(email)
	}
	return b.users.GetByPhone(phone)
}

func toUser(p *users.Profile) *sessions.User {
	return &sessions.User{
		ID:          p.ID,
		Email:       p.Email,
		Phone:       p.Phone,
		DisplayName: p.DisplayName,
		CreatedAt:   p.CreatedAt,
	}
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "rand.Read")
	}
	return hex.EncodeToString(b), nil
}
