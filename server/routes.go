package server

func (s *Server) initRoutes() {
	s.RegisterRouteFunc("GET "+RouteHealth, s.HealthHandler())

	// Provider return targets
	s.RegisterRouteHandler("GET "+RouteRelay, ChainMiddleware(s.relay.ServeHTTP, s.HTMLMiddleWare()...))
	s.RegisterRouteHandler("GET "+RouteCallback, ChainMiddleware(s.loopback.ServeHTTP, s.HTMLMiddleWare()...))
	s.RegisterRouteHandler("POST "+RouteCallback, ChainMiddleware(s.loopback.ServeHTTP, s.HTMLMiddleWare()...)) // form_post

	s.RegisterRouteHandler("GET "+RouteAPISession, ChainMiddleware(s.SessionHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAPILogin, ChainMiddleware(s.LoginHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAPIDerive, ChainMiddleware(s.DeriveHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAPISign, ChainMiddleware(s.SignHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAPILogout, ChainMiddleware(s.LogoutHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteAPISettings, ChainMiddleware(s.SettingsGetHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("PUT "+RouteAPISettings, ChainMiddleware(s.SettingsPutHandler(), s.APIMiddleware()...))
}
