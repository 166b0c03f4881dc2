package platform

import (
	"context"
	"net/url"
	"strings"
)

// Bridge opens external surfaces on behalf of the login flow.
type Bridge interface {
	// OpenURL opens target in the in-app browser.
	OpenURL(ctx context.Context, target string) error
	// OpenScheme hands a custom URL scheme to the OS.
	OpenScheme(ctx context.Context, schemeURL string) error
	// AssignLocation navigates the current page to target.
	AssignLocation(ctx context.Context, target string) error
}

const (
	iosSafariPrefix     = "x-safari-"
	androidChromePrefix = "googlechrome://navigate?url="
)

// SchemeURL returns the OS specific URL that forces target to open in the
// system browser. It reports false on platforms without such a scheme.
func SchemeURL(os OS, target string) (string, bool) {
	switch os {
	case OSIOS:
		if !strings.HasPrefix(target, "https://") && !strings.HasPrefix(target, "http://") {
			return "", false
		}
		return iosSafariPrefix + target, true
	case OSAndroid:
		return androidChromePrefix + url.QueryEscape(target), true
	}
	return "", false
}
