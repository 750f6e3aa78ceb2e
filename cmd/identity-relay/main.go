package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-identity-bridge/identity"
	"github.com/jrsteele09/go-identity-bridge/internal/config"
	"github.com/jrsteele09/go-identity-bridge/protocol"
	"github.com/jrsteele09/go-identity-bridge/server"
	"github.com/jrsteele09/go-identity-bridge/session"
	"github.com/jrsteele09/go-identity-bridge/settings"
	"github.com/jrsteele09/go-identity-bridge/signer"
	"github.com/jrsteele09/go-identity-bridge/spending"
	"github.com/jrsteele09/go-identity-bridge/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var errPanicRecovered = errors.New("panic recovered")

// main restarts run only after a recovered panic; start-up and configuration errors exit.
func main() {
	for {
		err := run()
		if err == nil {
			break
		}
		if !shouldRestart(err) {
			log.Fatal().Err(err).Msg("Error running server")
		}
		log.Error().Err(err).Msg("Restarting server")
		time.Sleep(1 * time.Second)
	}
	log.Info().Msg("Server stopped")
}

// shouldRestart reports whether run failed in a way a fresh start can fix. Configuration and
// start-up errors repeat on every attempt.
func shouldRestart(err error) bool {
	return errors.Is(err, errPanicRecovered)
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Recovered from panic")
			debug.PrintStack()
			returnError = errPanicRecovered
		}
	}()

	c := config.New()
	configureLogging(c.GetEnv())
	displayAppname(c.GetAppName())

	backend, err := openBackend(c)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.Err(err).Msg("closing secure store")
		}
	}()

	ctx := context.Background()
	prefs := settings.NewManager(backend)
	defer prefs.Subscribe(func(s settings.Settings) {
		log.Info().Str("nodeBase", s.NodeBase).Str("theme", string(s.Theme)).Msg("settings applied")
	})()
	if _, err := prefs.Init(ctx); err != nil {
		return fmt.Errorf("settings.Init: %w", err)
	}

	hub := transport.NewRedirectHub()
	machine, err := newMachine(c, session.NewStore(backend), hub)
	if err != nil {
		return err
	}
	if sess, err := machine.Restore(ctx); err != nil {
		return fmt.Errorf("machine.Restore: %w", err)
	} else if sess.IsLoggedIn() {
		log.Info().Str("owner", sess.OwnerPublicKey).Bool("authenticated", sess.IsDerived()).Msg("restored session")
	}

	handler, err := server.New(c, server.Services{
		Machine:   machine,
		Signer:    signer.New(machine),
		Settings:  prefs,
		Redirects: hub,
	})
	if err != nil {
		return fmt.Errorf("server.New: %w", err)
	}

	httpServer := &http.Server{Addr: c.GetPort(), Handler: handler}
	go listenAndServe(httpServer)
	waitForStopSignal()
	returnError = shutdown(httpServer)
	return returnError
}

func newMachine(c config.Config, store *session.Store, hub *transport.RedirectHub) (*protocol.Machine, error) {
	opts := []identity.Option{
		identity.WithHost(c.GetIdentityHost()),
		identity.WithAppScheme(c.GetAppScheme()),
		identity.WithAccessLevel(c.GetAccessLevel()),
		identity.WithTestnet(c.GetTestnet()),
	}
	if relayURL := c.GetRelayURL(); relayURL != "" {
		opts = append(opts, identity.WithRelayBase(relayURL))
	}
	if callbackBase := c.GetCallbackBase(); callbackBase != "" {
		opts = append(opts, identity.WithLinkBase(callbackBase))
	}
	provider := identity.NewProvider(opts...)

	// This host has no embedded web surface; only the system browser is available.
	registry, err := transport.NewRegistry(
		transport.NewSystemBrowserAdapter(consoleBrowser{}, hub, transport.WithAppScheme(c.GetAppScheme())),
	)
	if err != nil {
		return nil, fmt.Errorf("transport.NewRegistry: %w", err)
	}
	adapter, err := registry.Select(c.GetTransportKind())
	if err != nil {
		return nil, fmt.Errorf("transport %q (available %v): %w", c.GetTransportKind(), registry.Kinds(), err)
	}

	scope := spending.DefaultScope()
	scope.AppName = c.GetAppName()
	scope.ExpirationDays = c.GetDerivedKeyDays()
	scope.GlobalSpendCap = c.GetSpendCap()
	if _, err := spending.Build(scope); err != nil {
		return nil, fmt.Errorf("spending scope: %w", err)
	}

	return protocol.New(provider, adapter, store,
		protocol.WithScope(scope),
		protocol.WithTimeout(c.GetCallbackTimeout()),
	), nil
}

func configureLogging(env string) {
	if env == "DEV" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func listenAndServe(server *http.Server) {
	log.Info().Str("addr", server.Addr).Msg("Server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Err(err).Msg("server.ListenAndServe")
	}
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
