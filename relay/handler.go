package relay

import (
	"bytes"
	"embed"
	"html/template"
	"io/fs"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

//go:embed templates/*
var templateFiles embed.FS

const bridgeTemplate = "bridge.html"

// Handler serves the same-origin bridge page the provider is sent back to. In an embedded
// surface the page posts {event:"<kind>-complete", params} to the host; in a plain browser it
// forwards the parameters to the app deep link named by the redirect parameter.
type Handler struct {
	tmpl      *template.Template
	appScheme string
	title     string
}

func NewHandler(appScheme, title string) (*Handler, error) {
	tmpl, err := parseTemplate(bridgeTemplate)
	if err != nil {
		return nil, errors.Wrap(err, "[relay.NewHandler] parse bridge template")
	}
	if title == "" {
		title = "Identity"
	}
	return &Handler{
		tmpl:      tmpl,
		appScheme: strings.ToLower(strings.TrimSuffix(strings.TrimSpace(appScheme), "://")),
		title:     title,
	}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var buf bytes.Buffer
	err := h.tmpl.Execute(&buf, struct {
		Title     string
		AppScheme string
	}{Title: h.title, AppScheme: h.appScheme})
	if err != nil {
		log.Err(err).Msg("rendering bridge page")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Referrer-Policy", "no-referrer")
	_, _ = w.Write(buf.Bytes())
}

func parseTemplate(name string) (*template.Template, error) {
	sub, err := fs.Sub(templateFiles, "templates")
	if err != nil {
		return nil, err
	}
	content, err := fs.ReadFile(sub, name)
	if err != nil {
		return nil, err
	}
	return template.New(name).Parse(string(content))
}
