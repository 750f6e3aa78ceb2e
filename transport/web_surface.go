package transport

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	sourceNavigation = "navigation"
	sourceMessage    = "message"
	sourceSurface    = "surface"
)

// surfaceAttempt wires one web surface to one waiter. onNavigation decides whether a
// navigation is the callback; the shared policy handles popups and app deep links.
type surfaceAttempt struct {
	ctx     context.Context
	surface WebSurface
	w       *waiter
	opts    adapterOptions
	logger  zerolog.Logger
}

func openSurface(ctx context.Context, provider SurfaceProvider, opts adapterOptions, req Request) (*surfaceAttempt, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, errors.New("transport: surface provider is not configured")
	}
	surface, err := provider.OpenSurface(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "[openSurface] open web surface")
	}
	s := &surfaceAttempt{
		ctx:     ctx,
		surface: surface,
		w:       newWaiter(),
		opts:    opts,
		logger:  opts.logger.With().Str("attempt", req.AttemptID).Logger(),
	}
	s.w.onCleanup(func() {
		if err := surface.Close(); err != nil {
			s.logger.Err(err).Msg("closing web surface")
		}
	})
	s.w.onCleanup(surface.OnDismiss(func() {
		if s.w.resolve(Result{Outcome: OutcomeCancelled, Source: sourceSurface}) {
			s.logger.Debug().Msg("web surface dismissed")
		}
	}))
	return s, nil
}

// watchNavigation installs the navigation policy. isCallback reports whether a navigation
// resolves the attempt; such navigations are never loaded.
func (s *surfaceAttempt) watchNavigation(isCallback func(url string) bool) {
	s.w.onCleanup(s.surface.OnNavigation(func(nav NavigationRequest) NavigationDecision {
		if isCallback(nav.URL) {
			if s.w.resolve(Result{Outcome: OutcomeCallback, Raw: nav.URL, Source: sourceNavigation}) {
				s.logger.Debug().Msg("callback intercepted from navigation")
			}
			return NavigationBlock
		}
		if s.opts.isAppLink(nav.URL) {
			s.logger.Debug().Msg("blocked app deep link inside web surface")
			return NavigationBlock
		}
		if !nav.IsTopFrame && nav.URL != "" {
			// Popups are loaded into the same surface so the flow stays visible.
			if err := s.surface.Load(s.ctx, nav.URL); err != nil {
				s.logger.Err(err).Msg("retargeting popup navigation")
			}
			return NavigationBlock
		}
		return NavigationAllow
	}))
}

func (s *surfaceAttempt) run(req Request) (Result, error) {
	if err := s.surface.Load(s.ctx, req.TargetURL); err != nil {
		s.w.cleanup()
		return Result{}, errors.Wrap(err, "[surfaceAttempt.run] load provider url")
	}
	return s.w.wait(s.ctx, req.timeout())
}

// NavigationInterceptAdapter renders the provider inside an embedded surface and treats the
// first navigation towards the callback prefix as the result.
type NavigationInterceptAdapter struct {
	surfaces SurfaceProvider
	opts     adapterOptions
}

func NewNavigationInterceptAdapter(surfaces SurfaceProvider, opts ...AdapterOption) *NavigationInterceptAdapter {
	return &NavigationInterceptAdapter{
		surfaces: surfaces,
		opts:     newAdapterOptions(KindNavigationIntercept, opts),
	}
}

func (a *NavigationInterceptAdapter) Kind() Kind {
	return KindNavigationIntercept
}

func (a *NavigationInterceptAdapter) Open(ctx context.Context, req Request) (Result, error) {
	s, err := openSurface(ctx, a.surfaces, a.opts, req)
	if err != nil {
		return Result{}, err
	}
	s.watchNavigation(func(url string) bool {
		return strings.HasPrefix(url, req.CallbackPrefix)
	})
	return s.run(req)
}
