package transport

import "context"

// BrowserResultType is what the system auth-session facility reports when it returns.
type BrowserResultType string

const (
	BrowserSuccess BrowserResultType = "success"
	BrowserCancel  BrowserResultType = "cancel"
	BrowserDismiss BrowserResultType = "dismiss"
)

type BrowserResult struct {
	Type BrowserResultType
	URL  string
}

// SystemBrowser is the host's out-of-process authentication session. OpenAuthSession blocks
// until the session ends or ctx is cancelled, in which case the host closes the session.
type SystemBrowser interface {
	OpenAuthSession(ctx context.Context, url, callbackPrefix string) (BrowserResult, error)
	// Dismiss closes any session left open by an earlier attempt.
	Dismiss()
}

// RedirectListener delivers every deep link the application receives. The returned function
// removes the subscription.
type RedirectListener interface {
	Subscribe(fn func(url string)) (unsubscribe func())
}

type NavigationRequest struct {
	URL        string
	IsTopFrame bool
}

type NavigationDecision int

const (
	NavigationAllow NavigationDecision = iota
	NavigationBlock
)

// WebSurface is an embedded web view owned by the host. Handlers are invoked on host
// goroutines and must not be called while the host holds locks the surface methods need.
type WebSurface interface {
	Load(ctx context.Context, url string) error
	OnNavigation(fn func(NavigationRequest) NavigationDecision) (unsubscribe func())
	OnMessage(fn func(data string)) (unsubscribe func())
	OnDismiss(fn func()) (unsubscribe func())
	Close() error
}

// SurfaceProvider presents a fresh web surface for one attempt.
type SurfaceProvider interface {
	OpenSurface(ctx context.Context) (WebSurface, error)
}
