package settings

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"github.com/jrsteele09/go-identity-bridge/securestore"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	KeyNodeBase = "app.nodeBase"
	KeyTheme    = "app.theme"

	DefaultNodeBase = "https://desocialworld.com"
)

type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

var (
	ErrInvalidTheme    = errors.New("theme must be light or dark")
	ErrInvalidNodeBase = errors.New("node base must be an absolute http(s) url")
)

// Settings are the process-wide runtime choices: which node the app talks to and how it
// looks.
type Settings struct {
	NodeBase string
	Theme    Theme
}

func Defaults() Settings {
	return Settings{NodeBase: DefaultNodeBase, Theme: ThemeDark}
}

func (s Settings) Validate() error {
	if s.Theme != ThemeLight && s.Theme != ThemeDark {
		return errors.Wrapf(ErrInvalidTheme, "%q", s.Theme)
	}
	u, err := url.Parse(s.NodeBase)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return errors.Wrapf(ErrInvalidNodeBase, "%q", s.NodeBase)
	}
	return nil
}

// Manager owns the current settings. It is created with defaults, loaded once with Init and
// changed only through Update, which persists before notifying subscribers.
type Manager struct {
	mu      sync.RWMutex
	store   securestore.Store
	current Settings
	next    int
	subs    map[int]func(Settings)
}

func NewManager(store securestore.Store) *Manager {
	return &Manager{
		store:   store,
		current: Defaults(),
		subs:    map[int]func(Settings){},
	}
}

// Init loads persisted values. Missing or invalid stored values keep their defaults.
func (m *Manager) Init(ctx context.Context) (Settings, error) {
	loaded := Defaults()

	theme, ok, err := m.store.Get(ctx, KeyTheme)
	if err != nil {
		return m.Current(), errors.Wrap(err, "[Manager.Init] theme")
	}
	if ok && (Theme(theme) == ThemeLight || Theme(theme) == ThemeDark) {
		loaded.Theme = Theme(theme)
	}

	nodeBase, ok, err := m.store.Get(ctx, KeyNodeBase)
	if err != nil {
		return m.Current(), errors.Wrap(err, "[Manager.Init] node base")
	}
	if ok && nodeBase != "" {
		candidate := loaded
		candidate.NodeBase = nodeBase
		if candidate.Validate() == nil {
			loaded.NodeBase = nodeBase
		} else {
			log.Warn().Str("nodeBase", nodeBase).Msg("ignoring invalid stored node base")
		}
	}

	m.mu.Lock()
	m.current = loaded
	m.mu.Unlock()
	m.notify(loaded)
	return loaded, nil
}

func (m *Manager) Current() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Update applies fn to a copy of the current settings, validates and persists the result.
func (m *Manager) Update(ctx context.Context, fn func(*Settings)) (Settings, error) {
	m.mu.Lock()
	next := m.current
	fn(&next)
	next.NodeBase = strings.TrimSuffix(strings.TrimSpace(next.NodeBase), "/")
	if err := next.Validate(); err != nil {
		m.mu.Unlock()
		return m.current, errors.Wrap(err, "[Manager.Update]")
	}
	prev := m.current
	if next.Theme != prev.Theme {
		if err := m.store.Set(ctx, KeyTheme, string(next.Theme)); err != nil {
			m.mu.Unlock()
			return prev, errors.Wrap(err, "[Manager.Update] theme")
		}
	}
	if next.NodeBase != prev.NodeBase {
		if err := m.store.Set(ctx, KeyNodeBase, next.NodeBase); err != nil {
			m.mu.Unlock()
			return prev, errors.Wrap(err, "[Manager.Update] node base")
		}
	}
	m.current = next
	m.mu.Unlock()

	if next != prev {
		m.notify(next)
	}
	return next, nil
}

// Subscribe registers fn for every settings change.
func (m *Manager) Subscribe(fn func(Settings)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.next
	m.next++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

func (m *Manager) notify(s Settings) {
	m.mu.RLock()
	fns := make([]func(Settings), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.RUnlock()
	for _, fn := range fns {
		fn(s)
	}
}
