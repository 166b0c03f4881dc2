package server

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jrsteele09/go-auth-bridge/auth"
	"github.com/jrsteele09/go-auth-bridge/callback"
	"github.com/jrsteele09/go-auth-bridge/internal/config"
	"github.com/jrsteele09/go-auth-bridge/platform"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Frame types sent to the shell.
const (
	FrameOpenURL        = "open_url"
	FrameOpenScheme     = "open_scheme"
	FrameAssignLocation = "assign_location"
	FrameNavigate       = "navigate"
	FrameNotify         = "notify"
	FrameSSOSignIn      = "sso_sign_in"
	FrameSSOStatus      = "sso_status"
	FrameSSOCurrentUser = "sso_current_user"
)

// Frame types received from the shell.
const (
	FrameResult          = "result"
	FrameBridgeMessage   = "bridge_message"
	FrameDeepLink        = "deep_link"
	FrameRedirectStarted = "redirect_started"
)

const (
	defaultReplyTimeout = 5 * time.Second
	// SSO sign in waits on the user in the native account picker.
	defaultSignInTimeout = 2 * time.Minute
)

var ErrNoShell = errors.New("no app shell connected")

// Frame is the JSON unit exchanged over the bridge socket.
type Frame struct {
	Type        string            `json:"type"`
	ID          string            `json:"id,omitempty"`
	URL         string            `json:"url,omitempty"`
	Destination string            `json:"destination,omitempty"`
	Level       string            `json:"level,omitempty"`
	Message     string            `json:"message,omitempty"`
	Error       string            `json:"error,omitempty"`
	Bridge      *callback.Message `json:"bridge,omitempty"`
	SignedIn    bool              `json:"signed_in,omitempty"`
	User        *platform.SSOUser `json:"user,omitempty"`
}

var (
	_ platform.Bridge = (*ShellHub)(nil)
	_ auth.Navigator  = (*ShellHub)(nil)
	_ auth.Notifier   = (*ShellHub)(nil)
	_ platform.Probe     = (*ShellHub)(nil)
	_ platform.SSOPlugin = (*ShellHub)(nil)
)

// ShellHub holds the socket to the app shell (web page or native webview).
// Surface launches, navigation and notifications are sent to the shell; the
// shell answers commands with result frames and pushes callbacks back.
// There is one shell per process; a new connection replaces the old one.
// The hub also answers platform questions for the connected shell, which
// reports its OS and whether it carries the native SSO plugin.
type ShellHub struct {
	upgrader        websocket.Upgrader
	replyTimeout    time.Duration
	signInTimeout   time.Duration
	fallback        auth.Notifier
	defaultPlatform platform.OS

	mu        sync.Mutex
	conn      *shellConn
	onFrame   func(ctx context.Context, f Frame)
	onConnect func(ctx context.Context)
	pending   map[string]chan Frame
}

type shellConn struct {
	ws       *websocket.Conn
	platform platform.OS
	sso      bool
	writeMu  sync.Mutex
}

func (c *shellConn) write(f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(f)
}

type HubOption func(*ShellHub)

// WithSignInTimeout bounds how long an SSO sign in waits for the shell.
func WithSignInTimeout(d time.Duration) HubOption {
	return func(h *ShellHub) {
		h.signInTimeout = d
	}
}

// WithDefaultPlatform sets the platform reported while no shell is attached.
func WithDefaultPlatform(p platform.OS) HubOption {
	return func(h *ShellHub) {
		h.defaultPlatform = p
	}
}

// WithReplyTimeout bounds how long a command waits for the shell's result.
func WithReplyTimeout(d time.Duration) HubOption {
	return func(h *ShellHub) {
		h.replyTimeout = d
	}
}

func NewShellHub(origins config.AllowedOrigins, options ...HubOption) *ShellHub {
	h := &ShellHub{
		replyTimeout:    defaultReplyTimeout,
		signInTimeout:   defaultSignInTimeout,
		fallback:        auth.LogNotifier{},
		defaultPlatform: platform.OSWeb,
		pending:         make(map[string]chan Frame),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || origins.IsAllowedOrigin(origin) || origins.IsAllowedOrigin("*")
		},
	}
	for _, opt := range options {
		opt(h)
	}
	return h
}

// OnFrame sets the handler for frames pushed by the shell. It runs on the
// socket read loop and must not block on shell commands.
func (h *ShellHub) OnFrame(fn func(ctx context.Context, f Frame)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onFrame = fn
}

// OnConnect sets a hook run in its own goroutine each time a shell attaches.
func (h *ShellHub) OnConnect(fn func(ctx context.Context)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onConnect = fn
}

// Connected reports whether a shell is attached.
func (h *ShellHub) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn != nil
}

// ServeWS upgrades the request and reads shell frames until the socket closes.
// The shell names its platform with the "platform" query parameter (the user
// agent is used otherwise) and sets "sso=true" when the SSO plugin is present.
func (h *ShellHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Err(err).Msg("hub: websocket upgrade failed")
		return
	}
	conn := &shellConn{ws: ws, platform: shellPlatform(r)}
	conn.sso, _ = strconv.ParseBool(r.URL.Query().Get("sso"))

	h.mu.Lock()
	previous := h.conn
	h.conn = conn
	onConnect := h.onConnect
	h.mu.Unlock()
	if previous != nil {
		log.Info().Msg("hub: replacing shell connection")
		previous.ws.Close()
	}
	log.Info().Str("remote", r.RemoteAddr).Str("platform", string(conn.platform)).Bool("sso", conn.sso).Msg("hub: shell connected")

	defer h.detach(conn)
	ctx := context.WithoutCancel(r.Context())
	if onConnect != nil {
		go onConnect(ctx)
	}
	for {
		var f Frame
		if err := ws.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Err(err).Msg("hub: shell read failed")
			}
			return
		}
		h.dispatch(ctx, f)
	}
}

func shellPlatform(r *http.Request) platform.OS {
	if name := r.URL.Query().Get("platform"); name != "" {
		return platform.ParseOS(name)
	}
	return platform.DetectOS(r.UserAgent())
}

func (h *ShellHub) OS() platform.OS {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn == nil {
		return h.defaultPlatform
	}
	return h.conn.platform
}

func (h *ShellHub) IsNative() bool {
	current := h.OS()
	return current == platform.OSIOS || current == platform.OSAndroid
}

// HasSSOPlugin is true only for a native shell that announced the plugin.
func (h *ShellHub) HasSSOPlugin() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn == nil || !h.conn.sso {
		return false
	}
	return h.conn.platform == platform.OSIOS || h.conn.platform == platform.OSAndroid
}

func (h *ShellHub) OpenURL(ctx context.Context, target string) error {
	_, err := h.command(ctx, Frame{Type: FrameOpenURL, URL: target}, h.replyTimeout)
	return err
}

func (h *ShellHub) OpenScheme(ctx context.Context, schemeURL string) error {
	_, err := h.command(ctx, Frame{Type: FrameOpenScheme, URL: schemeURL}, h.replyTimeout)
	return err
}

func (h *ShellHub) AssignLocation(ctx context.Context, target string) error {
	_, err := h.command(ctx, Frame{Type: FrameAssignLocation, URL: target}, h.replyTimeout)
	return err
}

// SignIn asks the shell's SSO plugin to sign the user in.
func (h *ShellHub) SignIn(ctx context.Context) (*platform.SSOUser, error) {
	res, err := h.command(ctx, Frame{Type: FrameSSOSignIn}, h.signInTimeout)
	if err != nil {
		return nil, err
	}
	return res.User, nil
}

func (h *ShellHub) IsSignedIn(ctx context.Context) (bool, error) {
	res, err := h.command(ctx, Frame{Type: FrameSSOStatus}, h.replyTimeout)
	if err != nil {
		return false, err
	}
	return res.SignedIn, nil
}

func (h *ShellHub) CurrentUser(ctx context.Context) (*platform.SSOUser, error) {
	res, err := h.command(ctx, Frame{Type: FrameSSOCurrentUser}, h.replyTimeout)
	if err != nil {
		return nil, err
	}
	return res.User, nil
}

func (h *ShellHub) Navigate(ctx context.Context, dest auth.Destination) {
	if err := h.send(Frame{Type: FrameNavigate, Destination: string(dest)}); err != nil {
		log.Err(err).Str("destination", string(dest)).Msg("hub: navigate not delivered")
	}
}

// Notify sends a toast to the shell, or logs it when no shell is attached.
func (h *ShellHub) Notify(level auth.Level, message string) {
	if err := h.send(Frame{Type: FrameNotify, Level: string(level), Message: message}); err != nil {
		h.fallback.Notify(level, message)
	}
}

// command sends f and waits for the matching result frame.
func (h *ShellHub) command(ctx context.Context, f Frame, timeout time.Duration) (Frame, error) {
	f.ID = uuid.New().String()
	reply := make(chan Frame, 1)
	h.mu.Lock()
	h.pending[f.ID] = reply
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.pending, f.ID)
		h.mu.Unlock()
	}()

	if err := h.send(f); err != nil {
		return Frame{}, err
	}
	select {
	case res := <-reply:
		if res.Error != "" {
			return Frame{}, errors.Errorf("%s: %s", f.Type, res.Error)
		}
		return res, nil
	case <-time.After(timeout):
		return Frame{}, errors.Errorf("%s: shell did not answer within %s", f.Type, timeout)
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (h *ShellHub) send(f Frame) error {
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()
	if conn == nil {
		return ErrNoShell
	}
	if err := conn.write(f); err != nil {
		return errors.Wrapf(err, "write %s", f.Type)
	}
	return nil
}

func (h *ShellHub) dispatch(ctx context.Context, f Frame) {
	h.mu.Lock()
	reply, waiting := h.pending[f.ID]
	handler := h.onFrame
	h.mu.Unlock()

	if f.Type == FrameResult {
		if waiting {
			select {
			case reply <- f:
			default:
			}
		} else {
			log.Debug().Str("id", f.ID).Msg("hub: result for unknown command")
		}
		return
	}
	if handler == nil {
		log.Debug().Str("type", f.Type).Msg("hub: no frame handler")
		return
	}
	handler(ctx, f)
}

func (h *ShellHub) detach(conn *shellConn) {
	h.mu.Lock()
	if h.conn == conn {
		h.conn = nil
	}
	h.mu.Unlock()
	conn.ws.Close()
	log.Info().Msg("hub: shell disconnected")
}
