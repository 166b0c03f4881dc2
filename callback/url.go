package callback

import (
	"net/url"
	"strings"
)

// DefaultCustomScheme is the app's registered deep-link scheme.
const DefaultCustomScheme = "introgy"

const placeholderBase = "https://callback.invalid/"

// URLParser extracts callback parameters from https and custom-scheme URLs.
type URLParser struct {
	CustomScheme string
}

// ParseURL parses raw with the default custom scheme.
func ParseURL(raw string) Event {
	return URLParser{CustomScheme: DefaultCustomScheme}.Parse(raw)
}

// Parse reads the query and fragment of raw. An error wins over tokens and
// tokens win over a code. Anything unparseable or without auth parameters
// becomes a forced session check.
func (p URLParser) Parse(raw string) Event {
	u, err := p.toURL(strings.TrimSpace(raw))
	if err != nil {
		return CheckSessionRequest{Force: true}
	}

	params := callbackParams(u)
	if e := params.Get("error"); e != "" {
		return Error{Code: e, Description: params.Get("error_description")}
	}
	access, refresh := params.Get("access_token"), params.Get("refresh_token")
	if access != "" && refresh != "" {
		return Tokens{AccessToken: access, RefreshToken: refresh}
	}
	if code := params.Get("code"); code != "" {
		return AuthorizationCode{Code: code}
	}
	return CheckSessionRequest{Force: true}
}

// toURL rebuilds custom-scheme URLs ("introgy://callback?code=x") as standard
// ones so the usual query parsing applies.
func (p URLParser) toURL(raw string) (*url.URL, error) {
	if p.CustomScheme != "" {
		prefix := p.CustomScheme + "://"
		if strings.HasPrefix(raw, prefix) {
			raw = placeholderBase + strings.TrimPrefix(raw, prefix)
		}
	}
	return url.Parse(raw)
}

// callbackParams merges the query and fragment parameters of u. Query
// values win.
func callbackParams(u *url.URL) url.Values {
	params := u.Query()
	if u.Fragment != "" {
		if fragment, err := url.ParseQuery(u.Fragment); err == nil {
			for k, v := range fragment {
				if _, ok := params[k]; !ok {
					params[k] = v
				}
			}
		}
	}
	return params
}

// HasAuthParams reports whether raw looks like an auth callback, using the
// default custom scheme.
func HasAuthParams(raw string) bool {
	return URLParser{CustomScheme: DefaultCustomScheme}.HasAuthParams(raw)
}

// HasAuthParams reports whether raw is an auth callback path or carries
// a token, code or error parameter in its query or fragment.
func (p URLParser) HasAuthParams(raw string) bool {
	u, err := p.toURL(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	if strings.HasSuffix(strings.TrimSuffix(u.Path, "/"), "auth/callback") {
		return true
	}
	params := callbackParams(u)
	for _, key := range []string{"access_token", "code", "error"} {
		if _, ok := params[key]; ok {
			return true
		}
	}
	return false
}
