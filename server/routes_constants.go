package server

const (
	RouteRelay    = "/relay"
	RouteCallback = "/callback/"
	RouteHealth   = "/healthz"

	RouteAPISession  = "/api/session"
	RouteAPILogin    = "/api/login"
	RouteAPIDerive   = "/api/derive"
	RouteAPISign     = "/api/sign"
	RouteAPILogout   = "/api/logout"
	RouteAPISettings = "/api/settings"
)
