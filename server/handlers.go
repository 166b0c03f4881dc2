package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/jrsteele09/go-auth-bridge/callback"
	"github.com/jrsteele09/go-auth-bridge/identity"
	autherrors "github.com/jrsteele09/go-auth-bridge/internal/errors"
	"github.com/jrsteele09/go-auth-bridge/internal/utils"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 64 << 10

var validate = validator.New(validator.WithRequiredStructEnabled())

var knownProviders = map[identity.Provider]struct{}{
	identity.ProviderGoogle: {},
	identity.ProviderApple:  {},
	identity.ProviderGithub: {},
}

type credentialsRequest struct {
	Email       string `json:"email" validate:"required_without=Phone,omitempty,email"`
	Phone       string `json:"phone" validate:"required_without=Email,omitempty,e164"`
	Password    string `json:"password" validate:"required,min=6"`
	DisplayName string `json:"display_name" validate:"omitempty,max=100"`
}

func (c credentialsRequest) credentials() identity.Credentials {
	return identity.Credentials{
		Email:       c.Email,
		Phone:       c.Phone,
		Password:    c.Password,
		DisplayName: c.DisplayName,
	}
}

type otpRequest struct {
	Phone string `json:"phone" validate:"required,e164"`
}

type verifyOTPRequest struct {
	Phone string `json:"phone" validate:"required,e164"`
	Code  string `json:"code" validate:"required,numeric,len=6"`
}

type deepLinkRequest struct {
	URL string `json:"url" validate:"required"`
}

type acceptedResponse struct {
	Accepted bool `json:"accepted"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// BridgeMessageHandler accepts a bridge message posted by the shell. Messages
// with an untrusted source are acknowledged but not processed.
func (s *Server) BridgeMessageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var msg callback.Message
		if err := decodeJSON(w, r, &msg); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusAccepted, acceptedResponse{Accepted: s.listener.Submit(msg)})
	}
}

func (s *Server) DeepLinkHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req deepLinkRequest
		if err := decodeAndValidate(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusAccepted, acceptedResponse{Accepted: s.listener.DeepLink(req.URL)})
	}
}

// AuthCallbackHandler receives the provider redirect when the callback URL
// points at this service.
func (s *Server) AuthCallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accepted := s.listener.DeepLink(requestURL(r))
		writeJSON(w, http.StatusAccepted, acceptedResponse{Accepted: accepted})
	}
}

func (s *Server) ProviderSignInHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := identity.Provider(r.PathValue("provider"))
		if _, ok := knownProviders[provider]; !ok {
			writeError(w, http.StatusNotFound, errors.Errorf("unknown provider %q", provider))
			return
		}
		res, err := s.manager.SignInWithProvider(context.WithoutCancel(r.Context()), provider)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) SignInHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req credentialsRequest
		if err := decodeAndValidate(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		sess, err := s.manager.SignIn(r.Context(), req.credentials())
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	}
}

func (s *Server) SignUpHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req credentialsRequest
		if err := decodeAndValidate(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		sess, err := s.manager.SignUp(r.Context(), req.credentials())
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		if sess == nil {
			writeJSON(w, http.StatusAccepted, acceptedResponse{Accepted: true})
			return
		}
		writeJSON(w, http.StatusCreated, sess)
	}
}

func (s *Server) SignOutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.manager.SignOut(r.Context()); err != nil {
			// The local session is gone either way.
			log.Err(err).Msg("server: backend sign out failed")
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) OneTimeCodeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req otpRequest
		if err := decodeAndValidate(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := s.manager.SignInWithOneTimeCode(r.Context(), req.Phone); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusAccepted, acceptedResponse{Accepted: true})
	}
}

func (s *Server) VerifyOneTimeCodeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req verifyOTPRequest
		if err := decodeAndValidate(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		sess, err := s.manager.VerifyOneTimeCode(r.Context(), req.Phone, req.Code)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	}
}

// SessionHandler returns the current auth state.
func (s *Server) SessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.manager.State())
	}
}

func (s *Server) BreadcrumbsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		crumbs, err := s.crumbs.All(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, crumbs)
	}
}

// handleShellFrame routes frames pushed by the shell socket.
func (s *Server) handleShellFrame(ctx context.Context, f Frame) {
	switch f.Type {
	case FrameBridgeMessage:
		// A frame without a message has no source and is dropped as untrusted.
		s.listener.Submit(utils.Value(f.Bridge))
	case FrameDeepLink:
		s.listener.DeepLink(f.URL)
	case FrameRedirectStarted:
		if !s.manager.ConfirmRedirect() {
			log.Debug().Msg("server: redirect confirmation with no login waiting")
		}
	default:
		log.Debug().Str("type", f.Type).Msg("server: unknown shell frame")
	}
}

// handleShellConnected restores a native SSO login the shell already holds.
func (s *Server) handleShellConnected(ctx context.Context) {
	if restored := s.manager.RestoreFromPlugin(ctx); restored != nil {
		log.Info().Str("user_id", restored.UserID).Msg("server: session restored from shell SSO plugin")
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, identity.InvalidCredentialsErr),
		errors.Is(err, identity.InvalidOTPErr),
		errors.Is(err, identity.InvalidGrantErr):
		return http.StatusUnauthorized
	case errors.Is(err, identity.UserAlreadyExistsErr):
		return http.StatusConflict
	case errors.Is(err, autherrors.ErrConfiguration):
		return http.StatusServiceUnavailable
	case errors.Is(err, autherrors.ErrExternalSurfaceLaunch),
		errors.Is(err, autherrors.ErrTransientNetwork):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, "decode body")
	}
	return nil
}

func decodeAndValidate(w http.ResponseWriter, r *http.Request, v any) error {
	if err := decodeJSON(w, r, v); err != nil {
		return err
	}
	if err := validate.Struct(v); err != nil {
		return errors.Wrap(err, "validate body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Err(err).Msg("server: encode response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		log.Err(err).Int("status", status).Msg("server: request failed")
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
