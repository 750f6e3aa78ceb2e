package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jrsteele09/go-identity-bridge/internal/config"
	"github.com/jrsteele09/go-identity-bridge/securestore"
	"github.com/jrsteele09/go-identity-bridge/securestore/badgerstore"
	"github.com/jrsteele09/go-identity-bridge/securestore/redisstore"
	"github.com/jrsteele09/go-identity-bridge/transport"
	"github.com/rs/zerolog/log"
)

type closableStore struct {
	securestore.Store
	close func() error
}

func (s closableStore) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

func openBackend(c config.Config) (closableStore, error) {
	var store closableStore
	switch backend := strings.ToLower(c.GetStoreBackend()); backend {
	case "memory", "":
		store = closableStore{Store: securestore.NewMemory()}
	case "badger":
		db, err := badgerstore.Open(c.GetDataFolder())
		if err != nil {
			return closableStore{}, fmt.Errorf("badgerstore.Open: %w", err)
		}
		store = closableStore{Store: db, close: db.Close}
	case "redis":
		rdb, err := redisstore.Connect(c.GetRedisAddr(), c.GetRedisPassword())
		if err != nil {
			return closableStore{}, fmt.Errorf("redisstore.Connect: %w", err)
		}
		store = closableStore{Store: rdb, close: rdb.Close}
	default:
		return closableStore{}, fmt.Errorf("unknown store backend %q", backend)
	}

	if passphrase := c.GetStorePassphrase(); passphrase != "" {
		store.Store = securestore.NewSealed(store.Store, securestore.KeyFromPassphrase(passphrase, c.GetAppName()))
	}
	log.Info().Str("backend", c.GetStoreBackend()).Bool("sealed", c.GetStorePassphrase() != "").Msg("secure store ready")
	return store, nil
}

// consoleBrowser stands in for the platform auth session: it prints the provider URL for the
// developer to open and waits for the callback to arrive on the loopback route.
type consoleBrowser struct{}

func (consoleBrowser) OpenAuthSession(ctx context.Context, url, callbackPrefix string) (transport.BrowserResult, error) {
	log.Info().Str("url", url).Str("awaiting", callbackPrefix).Msg("open this URL in a browser to continue")
	<-ctx.Done()
	return transport.BrowserResult{Type: transport.BrowserDismiss}, nil
}

func (consoleBrowser) Dismiss() {}
