package loopback

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// Dispatcher receives callback URLs; transport.RedirectHub satisfies it.
type Dispatcher interface {
	Dispatch(url string) int
}

// Handler turns provider callbacks that arrive over loopback HTTP into redirect dispatches, so
// desktop and development hosts can use the system-browser transport without a registered
// deep-link scheme.
type Handler struct {
	dispatcher Dispatcher
	publicBase string
}

// NewHandler returns a handler that rebuilds each request's absolute URL. publicBase, when
// set, replaces the scheme and host seen by the server (for hosts behind a proxy).
func NewHandler(dispatcher Dispatcher, publicBase string) *Handler {
	return &Handler{dispatcher: dispatcher, publicBase: strings.TrimSuffix(publicBase, "/")}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// POST callbacks carry their parameters in the body (form_post); fold them into the
	// query so every callback looks the same to the decoder.
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form body", http.StatusBadRequest)
			return
		}
		// The decoder unescapes like decodeURIComponent, so spaces must travel as %20.
		form := strings.ReplaceAll(r.PostForm.Encode(), "+", "%20")
		switch {
		case form == "":
		case r.URL.RawQuery == "":
			r.URL.RawQuery = form
		default:
			r.URL.RawQuery += "&" + form
		}
	}

	callbackURL := h.absoluteURL(r)
	delivered := h.dispatcher.Dispatch(callbackURL)
	log.Debug().Str("path", r.URL.Path).Int("listeners", delivered).Msg("loopback callback received")

	if delivered == 0 {
		http.Error(w, "no sign-in attempt is waiting for this callback", http.StatusGone)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Sign-in complete. You can close this window.\n"))
}

func (h *Handler) absoluteURL(r *http.Request) string {
	base := h.publicBase
	if base == "" {
		base = scheme(r) + "://" + r.Host
	}
	u := base + r.URL.Path
	if r.URL.RawQuery != "" {
		u += "?" + r.URL.RawQuery
	}
	return u
}

func scheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if s := r.Header.Get("X-Forwarded-Proto"); s != "" {
		return s
	}
	return "http"
}
