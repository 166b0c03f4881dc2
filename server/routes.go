package server

func (s *Server) initRoutes() {
	// Bridge transport
	s.RegisterRouteHandler("POST "+RouteBridgeMessages, ChainMiddleware(s.BridgeMessageHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteBridgeDeepLink, ChainMiddleware(s.DeepLinkHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteBridgeSocket, ChainMiddleware(s.hub.ServeWS, s.LoggingMiddleware, s.RecoverMiddleware))

	// OAuth
	s.RegisterRouteHandler("GET "+RouteAuthCallback, ChainMiddleware(s.AuthCallbackHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAuthProvider, ChainMiddleware(s.ProviderSignInHandler(), s.APIMiddleware()...))

	// Credentials
	s.RegisterRouteHandler("POST "+RouteAuthSignIn, ChainMiddleware(s.SignInHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAuthSignUp, ChainMiddleware(s.SignUpHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAuthSignOut, ChainMiddleware(s.SignOutHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAuthOTP, ChainMiddleware(s.OneTimeCodeHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAuthOTPVerify, ChainMiddleware(s.VerifyOneTimeCodeHandler(), s.APIMiddleware()...))

	// State
	s.RegisterRouteHandler("GET "+RouteSession, ChainMiddleware(s.SessionHandler(), s.APIMiddleware()...))
	if s.crumbs != nil {
		s.RegisterRouteHandler("GET "+RouteBreadcrumbs, ChainMiddleware(s.BreadcrumbsHandler(), s.APIMiddleware()...))
	}

	// Preflight
	s.RegisterRouteHandler("OPTIONS /", ChainMiddleware(noContent, s.APIMiddleware()...))
}
