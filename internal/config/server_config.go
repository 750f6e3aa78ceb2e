package config

type ServerConfig interface {
	GetBaseURL() string
	GetCallbackBase() string
	GetRelayTitle() string
}

type Server struct{}

var _ ServerConfig = Server{}

// GetBaseURL is the public origin of the host (e.g. "https://relay.example.com"). Empty means
// loopback callbacks are rebuilt from the incoming request.
func (Server) GetBaseURL() string {
	return GetEnv("BASE_URL", "")
}

// GetCallbackBase, when set, makes the provider return to "<base>/<flow>" over HTTP instead of
// the app deep link. Point it at this host's /callback route for desktop development.
func (Server) GetCallbackBase() string {
	return GetEnv("CALLBACK_BASE", "")
}

func (Server) GetRelayTitle() string {
	return GetEnv("RELAY_TITLE", "Identity")
}
