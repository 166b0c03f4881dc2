package callback

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	autherrors "github.com/jrsteele09/go-auth-bridge/internal/errors"
)

const (
	TypeAuthTokens       = "auth_tokens"
	TypeAuthCode         = "auth_code"
	TypeAuthError        = "auth_error"
	TypeCallbackDetected = "auth_callback_detected"
	TypeFullURL          = "auth_full_url"
	TypeCheckSession     = "check_session"

	// DefaultSource is the tag the bridge script puts on every message.
	DefaultSource = "deep-links"
)

// Message is the JSON envelope posted by the bridge script:
// {"source":"deep-links","type":"auth_code","data":{"code":"..."}}.
type Message struct {
	Source string          `json:"source"`
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type tokensPayload struct {
	AccessToken  string `json:"accessToken" validate:"required"`
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type codePayload struct {
	Code string `json:"code" validate:"required"`
}

type errorPayload struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"errorDescription"`
}

type fullURLPayload struct {
	URL string `json:"url" validate:"required"`
}

type checkSessionPayload struct {
	Force  bool `json:"force"`
	Silent bool `json:"silent"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Normalize converts a bridge message into an Event. Unknown types and
// payloads missing required fields are reported as ErrCallbackMismatch.
// The source tag is not checked here.
func Normalize(msg Message) (Event, error) {
	switch msg.Type {
	case TypeAuthTokens:
		var p tokensPayload
		if err := decode(msg, &p); err != nil {
			return nil, err
		}
		return Tokens{AccessToken: p.AccessToken, RefreshToken: p.RefreshToken}, nil
	case TypeAuthCode:
		var p codePayload
		if err := decode(msg, &p); err != nil {
			return nil, err
		}
		return AuthorizationCode{Code: p.Code}, nil
	case TypeAuthError:
		var p errorPayload
		if err := decode(msg, &p); err != nil {
			return nil, err
		}
		return Error{Code: p.Error, Description: p.ErrorDescription}, nil
	case TypeCallbackDetected:
		return CallbackDetected{}, nil
	case TypeFullURL:
		var p fullURLPayload
		if err := decode(msg, &p); err != nil {
			return nil, err
		}
		return FullURL{URL: p.URL}, nil
	case TypeCheckSession:
		var p checkSessionPayload
		if err := decode(msg, &p); err != nil {
			return nil, err
		}
		return CheckSessionRequest{Force: p.Force, Silent: p.Silent}, nil
	}
	return nil, autherrors.Mark(fmt.Errorf("unknown message type %q", msg.Type), autherrors.ErrCallbackMismatch)
}

func decode(msg Message, payload any) error {
	data := bytes.TrimSpace(msg.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		data = []byte("{}")
	}
	if err := json.Unmarshal(data, payload); err != nil {
		return autherrors.Mark(fmt.Errorf("%s payload: %w", msg.Type, err), autherrors.ErrCallbackMismatch)
	}
	if err := validate.Struct(payload); err != nil {
		return autherrors.Mark(fmt.Errorf("%s payload: %w", msg.Type, err), autherrors.ErrCallbackMismatch)
	}
	return nil
}
