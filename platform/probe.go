// Package platform reports where the app is running and exposes the native
// surfaces (in-app browser, OS URL schemes, SSO plugin) the login flow can use.
package platform

import "strings"

// OS is the platform the client shell runs on.
type OS string

const (
	OSWeb     OS = "web"
	OSIOS     OS = "ios"
	OSAndroid OS = "android"
)

// Probe answers capability questions. Implementations must be cheap and
// side-effect free.
type Probe interface {
	IsNative() bool
	OS() OS
	HasSSOPlugin() bool
}

// StaticProbe is a Probe with fixed answers.
type StaticProbe struct {
	Platform  OS
	SSOPlugin bool
}

var _ Probe = StaticProbe{}

func (p StaticProbe) IsNative() bool {
	return p.Platform == OSIOS || p.Platform == OSAndroid
}

func (p StaticProbe) OS() OS {
	if p.Platform == "" {
		return OSWeb
	}
	return p.Platform
}

func (p StaticProbe) HasSSOPlugin() bool {
	return p.IsNative() && p.SSOPlugin
}

// ParseOS maps a platform name reported by a shell ("ios", "android", "web")
// to an OS. Unknown names are treated as web.
func ParseOS(name string) OS {
	switch OS(strings.ToLower(strings.TrimSpace(name))) {
	case OSIOS:
		return OSIOS
	case OSAndroid:
		return OSAndroid
	}
	return OSWeb
}

// DetectOS guesses the platform from a user agent. Capacitor and Cordova
// webviews report the mobile OS; everything else is web.
func DetectOS(userAgent string) OS {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"):
		return OSIOS
	case strings.Contains(ua, "android"):
		return OSAndroid
	}
	return OSWeb
}
