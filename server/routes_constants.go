package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// Bridge Routes - app shell transport
	RouteBridgeMessages = "/bridge/messages"
	RouteBridgeDeepLink = "/bridge/deep-link"
	RouteBridgeSocket   = "/bridge/ws"

	// Auth Routes - OAuth
	RouteAuthCallback = "/auth/callback"
	RouteAuthProvider = "/auth/signin/{provider}"

	// Auth Routes - Credentials
	RouteAuthSignIn    = "/auth/signin"
	RouteAuthSignUp    = "/auth/signup"
	RouteAuthSignOut   = "/auth/signout"
	RouteAuthOTP       = "/auth/otp"
	RouteAuthOTPVerify = "/auth/otp/verify"

	// State Routes
	RouteSession     = "/session"
	RouteBreadcrumbs = "/debug/breadcrumbs"
)
