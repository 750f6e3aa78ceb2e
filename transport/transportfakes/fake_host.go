package transportfakes

import (
	"context"
	"sort"
	"sync"

	"github.com/jrsteele09/go-identity-bridge/transport"
)

type browserReply struct {
	result transport.BrowserResult
	err    error
}

// Browser is a fake transport.SystemBrowser. Each OpenAuthSession blocks until the test
// calls Reply or the session context ends.
type Browser struct {
	mu         sync.Mutex
	dismissals int
	opened     []string
	replies    chan browserReply
	openedCh   chan string
}

func NewBrowser() *Browser {
	return &Browser{
		replies:  make(chan browserReply, 1),
		openedCh: make(chan string, 16),
	}
}

func (b *Browser) OpenAuthSession(ctx context.Context, url, _ string) (transport.BrowserResult, error) {
	b.mu.Lock()
	b.opened = append(b.opened, url)
	b.mu.Unlock()
	b.openedCh <- url

	select {
	case r := <-b.replies:
		return r.result, r.err
	case <-ctx.Done():
		return transport.BrowserResult{Type: transport.BrowserDismiss}, nil
	}
}

func (b *Browser) Dismiss() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dismissals++
}

func (b *Browser) Reply(result transport.BrowserResult, err error) {
	b.replies <- browserReply{result: result, err: err}
}

func (b *Browser) Opened() <-chan string {
	return b.openedCh
}

func (b *Browser) Dismissals() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dismissals
}

// Surface is a fake transport.WebSurface driven by the test through Navigate, Post and
// Dismiss.
type Surface struct {
	mu       sync.Mutex
	next     int
	nav      map[int]func(transport.NavigationRequest) transport.NavigationDecision
	msg      map[int]func(string)
	dismiss  map[int]func()
	loaded   []string
	closed   bool
	loadedCh chan string
	LoadErr  error
}

func NewSurface() *Surface {
	return &Surface{
		nav:      map[int]func(transport.NavigationRequest) transport.NavigationDecision{},
		msg:      map[int]func(string){},
		dismiss:  map[int]func(){},
		loadedCh: make(chan string, 16),
	}
}

func (s *Surface) Load(_ context.Context, url string) error {
	s.mu.Lock()
	if s.LoadErr != nil {
		err := s.LoadErr
		s.mu.Unlock()
		return err
	}
	s.loaded = append(s.loaded, url)
	s.mu.Unlock()

	select {
	case s.loadedCh <- url:
	default:
	}
	return nil
}

func (s *Surface) OnNavigation(fn func(transport.NavigationRequest) transport.NavigationDecision) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.nav[id] = fn
	return func() { s.remove(func() { delete(s.nav, id) }) }
}

func (s *Surface) OnMessage(fn func(string)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.msg[id] = fn
	return func() { s.remove(func() { delete(s.msg, id) }) }
}

func (s *Surface) OnDismiss(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.dismiss[id] = fn
	return func() { s.remove(func() { delete(s.dismiss, id) }) }
}

func (s *Surface) remove(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

func (s *Surface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Navigate runs the navigation handlers and reports Block if any handler blocked.
func (s *Surface) Navigate(url string, topFrame bool) transport.NavigationDecision {
	s.mu.Lock()
	handlers := make([]func(transport.NavigationRequest) transport.NavigationDecision, 0, len(s.nav))
	for _, id := range sortedIDs(s.nav) {
		handlers = append(handlers, s.nav[id])
	}
	s.mu.Unlock()

	decision := transport.NavigationAllow
	for _, h := range handlers {
		if h(transport.NavigationRequest{URL: url, IsTopFrame: topFrame}) == transport.NavigationBlock {
			decision = transport.NavigationBlock
		}
	}
	return decision
}

func (s *Surface) Post(data string) {
	s.mu.Lock()
	handlers := make([]func(string), 0, len(s.msg))
	for _, id := range sortedIDs(s.msg) {
		handlers = append(handlers, s.msg[id])
	}
	s.mu.Unlock()

	for _, h := range handlers {
		h(data)
	}
}

func (s *Surface) Dismiss() {
	s.mu.Lock()
	handlers := make([]func(), 0, len(s.dismiss))
	for _, id := range sortedIDs(s.dismiss) {
		handlers = append(handlers, s.dismiss[id])
	}
	s.mu.Unlock()

	for _, h := range handlers {
		h()
	}
}

func (s *Surface) Loads() <-chan string {
	return s.loadedCh
}

func (s *Surface) Loaded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.loaded...)
}

func (s *Surface) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Handlers reports how many handlers of any type are still registered.
func (s *Surface) Handlers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nav) + len(s.msg) + len(s.dismiss)
}

// SurfaceProvider hands out a single pre-built surface.
type SurfaceProvider struct {
	Surface *Surface
	Err     error
}

func (p *SurfaceProvider) OpenSurface(context.Context) (transport.WebSurface, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	return p.Surface, nil
}

func sortedIDs[T any](m map[int]T) []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
