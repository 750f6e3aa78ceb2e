package transport

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

const (
	sourceBrowser  = "browser"
	sourceListener = "listener"
)

// SystemBrowserAdapter hands the provider URL to the host's auth-session facility and
// listens for the app-wide deep link at the same time. Whichever of the two reports the
// callback first resolves the attempt.
type SystemBrowserAdapter struct {
	browser   SystemBrowser
	redirects RedirectListener
	opts      adapterOptions
}

func NewSystemBrowserAdapter(browser SystemBrowser, redirects RedirectListener, opts ...AdapterOption) *SystemBrowserAdapter {
	return &SystemBrowserAdapter{
		browser:   browser,
		redirects: redirects,
		opts:      newAdapterOptions(KindSystemBrowser, opts),
	}
}

func (a *SystemBrowserAdapter) Kind() Kind {
	return KindSystemBrowser
}

func (a *SystemBrowserAdapter) Open(ctx context.Context, req Request) (Result, error) {
	if err := req.validate(); err != nil {
		return Result{}, err
	}
	if a.browser == nil {
		return Result{}, errors.New("transport: system browser is not configured")
	}
	logger := a.opts.logger.With().Str("attempt", req.AttemptID).Logger()

	// A session left behind by an earlier attempt would swallow this one.
	a.browser.Dismiss()

	w := newWaiter()
	if a.redirects != nil {
		w.onCleanup(a.redirects.Subscribe(func(url string) {
			if !strings.HasPrefix(url, req.CallbackPrefix) {
				return
			}
			if w.resolve(Result{Outcome: OutcomeCallback, Raw: url, Source: sourceListener}) {
				logger.Debug().Msg("callback received from redirect listener")
			}
		}))
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	w.onCleanup(cancel)

	go func() {
		res, err := a.browser.OpenAuthSession(sessionCtx, req.TargetURL, req.CallbackPrefix)
		if sessionCtx.Err() != nil {
			return
		}
		if err != nil {
			w.fail(errors.Wrap(err, "[SystemBrowserAdapter.Open] open auth session"))
			return
		}
		switch res.Type {
		case BrowserSuccess:
			if strings.HasPrefix(res.URL, req.CallbackPrefix) {
				if w.resolve(Result{Outcome: OutcomeCallback, Raw: res.URL, Source: sourceBrowser}) {
					logger.Debug().Msg("callback received from auth session")
				}
			}
			// Success without a usable URL: the deep link arrives through the listener.
		case BrowserCancel, BrowserDismiss:
			if w.resolve(Result{Outcome: OutcomeCancelled, Source: sourceBrowser}) {
				logger.Debug().Str("type", string(res.Type)).Msg("auth session closed by user")
			}
		default:
			logger.Warn().Str("type", string(res.Type)).Msg("unexpected auth session result")
		}
	}()

	return w.wait(ctx, req.timeout())
}
