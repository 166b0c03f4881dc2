// Package gotrue is an identity.Backend speaking the GoTrue (Supabase Auth)
// HTTP API. It keeps the signed-in session in memory the way a browser client
// keeps it in local storage.
package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jrsteele09/go-auth-bridge/identity"
	autherrors "github.com/jrsteele09/go-auth-bridge/internal/errors"
	"github.com/jrsteele09/go-auth-bridge/sessions"
	"github.com/jrsteele09/go-auth-bridge/token"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const (
	authorizePath = "/authorize"
	tokenPath     = "/token"
	signUpPath    = "/signup"
	userPath      = "/user"
	logoutPath    = "/logout"
	otpPath       = "/otp"
	verifyPath    = "/verify"

	grantPassword     = "password"
	grantPKCE         = "pkce"
	grantIDToken      = "id_token"
	grantRefreshToken = "refresh_token"
)

var _ identity.Backend = (*Client)(nil)

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	oauth      oauth2.Config
	listeners  identity.Listeners
	nowTime    func() time.Time

	lock     sync.Mutex
	current  *sessions.Session
	verifier string // PKCE verifier of the pending OAuth flow
}

type Option func(*Client)

// WithHTTPClient sets the HTTP client used for every request
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(client *Client) {
		client.nowTime = nowFunc
	}
}

func New(baseURL, apiKey string, options ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("[gotrue New] baseURL is required")
	}
	if apiKey == "" {
		return nil, errors.New("[gotrue New] apiKey is required")
	}
	baseURL = strings.TrimRight(baseURL, "/")
	c := &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: http.DefaultClient,
		nowTime:    time.Now,
		oauth: oauth2.Config{
			Endpoint: oauth2.Endpoint{
				AuthURL:  baseURL + authorizePath,
				TokenURL: baseURL + tokenPath,
			},
		},
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

func (c *Client) SignInWithPassword(ctx context.Context, creds identity.Credentials) (*sessions.Session, error) {
	var tr TokenResponse
	err := c.do(ctx, http.MethodPost, tokenPath, grant(grantPassword), passwordGrant{
		Email:    creds.Email,
		Phone:    creds.Phone,
		Password: creds.Password,
	}, "", &tr)
	if err != nil {
		return nil, err
	}
	return c.store(&tr, identity.EventSignedIn)
}

// SignUp registers an account. When the project requires email confirmation
// GoTrue returns no tokens and SignUp returns a nil session.
func (c *Client) SignUp(ctx context.Context, creds identity.Credentials) (*sessions.Session, error) {
	req := signUpRequest{Email: creds.Email, Phone: creds.Phone, Password: creds.Password}
	if creds.DisplayName != "" {
		req.Data = map[string]any{"display_name": creds.DisplayName}
	}
	var tr TokenResponse
	if err := c.do(ctx, http.MethodPost, signUpPath, nil, req, "", &tr); err != nil {
		return nil, err
	}
	if tr.AccessToken == "" {
		return nil, nil
	}
	return c.store(&tr, identity.EventSignedIn)
}

// SignInWithOAuth builds the PKCE authorize URL. The verifier is kept until
// ExchangeCodeForSession consumes it. The client never navigates, so
// Redirected is always false.
func (c *Client) SignInWithOAuth(ctx context.Context, provider identity.Provider, opts identity.OAuthOptions) (*identity.OAuthResult, error) {
	if provider == "" {
		return nil, errors.New("[gotrue SignInWithOAuth] provider is required")
	}
	verifier := oauth2.GenerateVerifier()

	params := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("provider", string(provider)),
		oauth2.S256ChallengeOption(verifier),
	}
	if opts.Scopes != "" {
		params = append(params, oauth2.SetAuthURLParam("scopes", opts.Scopes))
	}
	if opts.RedirectTo != "" {
		params = append(params, oauth2.SetAuthURLParam("redirect_to", opts.RedirectTo))
	}
	for k, v := range opts.QueryParams {
		params = append(params, oauth2.SetAuthURLParam(k, v))
	}

	c.lock.Lock()
	c.verifier = verifier
	c.lock.Unlock()

	return &identity.OAuthResult{
		Provider: provider,
		URL:      c.oauth.AuthCodeURL("", params...),
	}, nil
}

func (c *Client) SignInWithIDToken(ctx context.Context, provider identity.Provider, idToken string) (*sessions.Session, error) {
	var tr TokenResponse
	err := c.do(ctx, http.MethodPost, tokenPath, grant(grantIDToken), idTokenGrant{
		Provider: string(provider),
		IDToken:  idToken,
	}, "", &tr)
	if err != nil {
		return nil, err
	}
	return c.store(&tr, identity.EventSignedIn)
}

func (c *Client) ExchangeCodeForSession(ctx context.Context, code string) (*sessions.Session, error) {
	c.lock.Lock()
	verifier := c.verifier
	c.lock.Unlock()
	if verifier == "" {
		return nil, errors.Wrap(identity.InvalidGrantErr, "no pending PKCE flow")
	}

	var tr TokenResponse
	err := c.do(ctx, http.MethodPost, tokenPath, grant(grantPKCE), pkceGrant{
		AuthCode:     code,
		CodeVerifier: verifier,
	}, "", &tr)
	if err != nil {
		return nil, err
	}

	c.lock.Lock()
	if c.verifier == verifier {
		c.verifier = ""
	}
	c.lock.Unlock()
	return c.store(&tr, identity.EventSignedIn)
}

// SetSession adopts tokens received out of band. An expired access token is
// refreshed; otherwise the user is fetched with it to prove it is accepted.
func (c *Client) SetSession(ctx context.Context, accessToken, refreshToken string) (*sessions.Session, error) {
	if refreshToken == "" {
		return nil, identity.InvalidRefreshTokenErr
	}
	claims, err := token.Inspect(accessToken)
	if err != nil {
		return nil, errors.Wrap(identity.InvalidGrantErr, err.Error())
	}

	if !claims.Expiry().After(c.nowTime()) {
		return c.refresh(ctx, refreshToken, identity.EventSignedIn)
	}

	var u User
	if err := c.do(ctx, http.MethodGet, userPath, nil, nil, accessToken, &u); err != nil {
		return nil, err
	}
	s := &sessions.Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    claims.Expiry(),
		UserID:       claims.Subject,
		User:         toUser(&u),
	}
	c.lock.Lock()
	c.current = s
	c.lock.Unlock()
	c.listeners.Emit(identity.EventSignedIn, s)
	return s, nil
}

// GetSession returns the cached session, refreshing it first if it expired.
func (c *Client) GetSession(ctx context.Context) (*sessions.Session, error) {
	c.lock.Lock()
	current := c.current
	c.lock.Unlock()

	if current == nil {
		return nil, nil
	}
	if current.Valid(c.nowTime()) {
		return current, nil
	}
	if current.RefreshToken == "" {
		return nil, nil
	}
	return c.refresh(ctx, current.RefreshToken, identity.EventTokenRefreshed)
}

func (c *Client) RefreshSession(ctx context.Context) (*sessions.Session, error) {
	c.lock.Lock()
	current := c.current
	c.lock.Unlock()
	if current == nil || current.RefreshToken == "" {
		return nil, identity.InvalidRefreshTokenErr
	}
	return c.refresh(ctx, current.RefreshToken, identity.EventTokenRefreshed)
}

func (c *Client) OnAuthStateChange(handler identity.ChangeHandler) func() {
	return c.listeners.Add(handler)
}

// SignOut revokes the refresh token server side and always drops the local
// session. A token the server no longer knows is not an error.
func (c *Client) SignOut(ctx context.Context) error {
	c.lock.Lock()
	current := c.current
	c.current = nil
	c.lock.Unlock()

	var err error
	if current != nil {
		err = c.do(ctx, http.MethodPost, logoutPath, nil, nil, current.AccessToken, nil)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 {
			log.Debug().Int("status", apiErr.Status).Msg("gotrue: logout rejected, session already gone")
			err = nil
		}
	}
	c.listeners.Emit(identity.EventSignedOut, nil)
	return err
}

func (c *Client) SignInWithOTP(ctx context.Context, phone string) error {
	if phone == "" {
		return errors.New("[gotrue SignInWithOTP] phone is required")
	}
	return c.do(ctx, http.MethodPost, otpPath, nil, otpRequest{Phone: phone}, "", nil)
}

func (c *Client) VerifyOTP(ctx context.Context, phone, code string, otpType identity.OTPType) (*sessions.Session, error) {
	var tr TokenResponse
	err := c.do(ctx, http.MethodPost, verifyPath, nil, verifyRequest{
		Phone: phone,
		Token: code,
		Type:  string(otpType),
	}, "", &tr)
	if err != nil {
		return nil, err
	}
	return c.store(&tr, identity.EventSignedIn)
}

func (c *Client) refresh(ctx context.Context, refreshToken string, event identity.ChangeEvent) (*sessions.Session, error) {
	var tr TokenResponse
	err := c.do(ctx, http.MethodPost, tokenPath, grant(grantRefreshToken), refreshGrant{RefreshToken: refreshToken}, "", &tr)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status < 500 {
			return nil, errors.Wrap(identity.InvalidRefreshTokenErr, apiErr.Error())
		}
		return nil, err
	}
	return c.store(&tr, event)
}

// store converts a token response to a session, caches it and emits event.
func (c *Client) store(tr *TokenResponse, event identity.ChangeEvent) (*sessions.Session, error) {
	tok := tr.Token(c.nowTime())
	if !tok.Valid() {
		return nil, errors.Wrap(identity.InvalidGrantErr, "token response carried no usable access token")
	}

	var user *sessions.User
	userID := ""
	if tr.User != nil {
		user = toUser(tr.User)
		userID = tr.User.ID
	}
	if userID == "" {
		claims, err := token.Inspect(tok.AccessToken)
		if err != nil {
			return nil, errors.Wrap(identity.InvalidGrantErr, err.Error())
		}
		userID = claims.Subject
	}

	s := &sessions.Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
		UserID:       userID,
		User:         user,
	}
	c.lock.Lock()
	c.current = s
	c.lock.Unlock()

	c.listeners.Emit(event, s)
	return s, nil
}

// do sends a JSON request. Transport failures and 5xx responses are marked
// ErrTransientNetwork; 4xx responses map to the identity error set.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, bearer string, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "[gotrue do] json.Marshal")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return errors.Wrap(err, "[gotrue do] NewRequest")
	}
	if bearer == "" {
		bearer = c.apiKey
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return autherrors.Mark(fmt.Errorf("[gotrue] %s %s: %w", method, path, err), autherrors.ErrTransientNetwork)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return classify(apiErr)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return errors.Wrapf(err, "[gotrue do] decode %s", path)
	}
	return nil
}

// classify maps a GoTrue error response onto the identity and taxonomy errors.
func classify(apiErr *APIError) error {
	msg := strings.ToLower(apiErr.Msg + " " + apiErr.Description)
	switch {
	case apiErr.Status >= 500:
		return autherrors.Mark(apiErr, autherrors.ErrTransientNetwork)
	case strings.Contains(msg, "redirect"):
		return fmt.Errorf("%w: %w", identity.RedirectMismatchErr, apiErr)
	case apiErr.ErrorCode == "invalid_credentials" || strings.Contains(msg, "invalid login credentials"):
		return fmt.Errorf("%w: %w", identity.InvalidCredentialsErr, apiErr)
	case apiErr.ErrorCode == "user_already_exists" || strings.Contains(msg, "already registered"):
		return fmt.Errorf("%w: %w", identity.UserAlreadyExistsErr, apiErr)
	case apiErr.ErrorCode == "otp_expired" || strings.Contains(msg, "token has expired or is invalid"):
		return fmt.Errorf("%w: %w", identity.InvalidOTPErr, apiErr)
	case apiErr.ErrorCode == "flow_state_not_found" || strings.Contains(msg, "already used"):
		return fmt.Errorf("%w: %w", identity.CodeAlreadyUsedErr, apiErr)
	case apiErr.ErrorCode == "refresh_token_not_found" || apiErr.ErrorCode == "refresh_token_already_used":
		return fmt.Errorf("%w: %w", identity.InvalidRefreshTokenErr, apiErr)
	case apiErr.OAuthError == "invalid_grant" || apiErr.ErrorCode == "bad_code_verifier":
		return fmt.Errorf("%w: %w", identity.InvalidGrantErr, apiErr)
	}
	return apiErr
}

func grant(grantType string) url.Values {
	return url.Values{"grant_type": {grantType}}
}

func toUser(u *User) *sessions.User {
	user := &sessions.User{
		ID:        u.ID,
		Email:     u.Email,
		Phone:     u.Phone,
		CreatedAt: u.CreatedAt,
	}
	if name, ok := u.UserMetadata["display_name"].(string); ok {
		user.DisplayName = name
	} else if name, ok := u.UserMetadata["full_name"].(string); ok {
		user.DisplayName = name
	}
	return user
}
