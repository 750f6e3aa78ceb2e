package transport

import (
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type adapterOptions struct {
	logger    zerolog.Logger
	appScheme string
}

type AdapterOption func(*adapterOptions)

func WithLogger(logger zerolog.Logger) AdapterOption {
	return func(o *adapterOptions) {
		o.logger = logger
	}
}

// WithAppScheme sets the application's deep-link scheme (without "://"). Embedded surfaces
// never load URLs of this scheme.
func WithAppScheme(scheme string) AdapterOption {
	return func(o *adapterOptions) {
		o.appScheme = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(scheme)), "://")
	}
}

func newAdapterOptions(kind Kind, opts []AdapterOption) adapterOptions {
	o := adapterOptions{logger: log.Logger}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.With().Str("transport", string(kind)).Logger()
	return o
}

func (o adapterOptions) isAppLink(url string) bool {
	if o.appScheme == "" {
		return false
	}
	return strings.HasPrefix(strings.ToLower(url), o.appScheme+"://")
}
