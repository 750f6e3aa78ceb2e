package server

import (
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/jrsteele09/go-identity-bridge/internal/config"
	"github.com/jrsteele09/go-identity-bridge/protocol"
	"github.com/jrsteele09/go-identity-bridge/relay"
	"github.com/jrsteele09/go-identity-bridge/settings"
	"github.com/jrsteele09/go-identity-bridge/signer"
	"github.com/jrsteele09/go-identity-bridge/transport"
	"github.com/jrsteele09/go-identity-bridge/transport/loopback"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Services are the identity components the host exposes over HTTP.
type Services struct {
	Machine   *protocol.Machine
	Signer    *signer.Signer
	Settings  *settings.Manager
	Redirects *transport.RedirectHub
}

func (s Services) validate() error {
	switch {
	case s.Machine == nil:
		return errors.New("server: protocol machine is required")
	case s.Signer == nil:
		return errors.New("server: signer is required")
	case s.Settings == nil:
		return errors.New("server: settings manager is required")
	case s.Redirects == nil:
		return errors.New("server: redirect hub is required")
	}
	return nil
}

// Server hosts the bridge page, the loopback callback endpoint and a small JSON API that
// drives the identity flows from a desktop or development machine.
type Server struct {
	env      string
	mux      *http.ServeMux
	routes   []string
	config   config.Config
	services Services
	relay    http.Handler
	loopback http.Handler
	nodeBase atomic.Value
}

func New(cfg config.Config, services Services) (*Server, error) {
	if err := services.validate(); err != nil {
		return nil, err
	}
	bridge, err := relay.NewHandler(cfg.GetAppScheme(), cfg.GetRelayTitle())
	if err != nil {
		return nil, errors.Wrap(err, "[server.New] relay handler")
	}

	s := &Server{
		env:      cfg.GetEnv(),
		mux:      http.NewServeMux(),
		config:   cfg,
		services: services,
		relay:    bridge,
		loopback: loopback.NewHandler(services.Redirects, cfg.GetBaseURL()),
	}
	s.nodeBase.Store(services.Settings.Current().NodeBase)
	services.Settings.Subscribe(func(st settings.Settings) {
		s.nodeBase.Store(st.NodeBase)
	})
	s.initRoutes()
	s.logRoutes()
	return s, nil
}

// NodeBase is the node the app currently talks to, following settings updates.
func (s *Server) NodeBase() string {
	v, _ := s.nodeBase.Load().(string)
	return v
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

// Routes lists the registered patterns in registration order.
func (s *Server) Routes() []string {
	return append([]string(nil), s.routes...)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)
		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

func logRoute(method, path string) {
	log.Info().Str("method", colourMethod(method)).Msg(path)
}
