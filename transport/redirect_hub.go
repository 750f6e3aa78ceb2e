package transport

import (
	"sort"
	"sync"
)

// RedirectHub is an in-process RedirectListener. The host feeds it every deep link or
// loopback callback it receives through Dispatch.
type RedirectHub struct {
	mu   sync.RWMutex
	next int
	subs map[int]func(string)
}

func NewRedirectHub() *RedirectHub {
	return &RedirectHub{subs: map[int]func(string){}}
}

func (h *RedirectHub) Subscribe(fn func(url string)) func() {
	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

// Dispatch delivers url to every current subscriber in subscription order and returns how
// many received it.
func (h *RedirectHub) Dispatch(url string) int {
	h.mu.RLock()
	ids := make([]int, 0, len(h.subs))
	for id := range h.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(string), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, h.subs[id])
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		fn(url)
	}
	return len(fns)
}

// Subscribers reports the number of live subscriptions.
func (h *RedirectHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
