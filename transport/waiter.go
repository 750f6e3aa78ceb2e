package transport

import (
	"context"
	"sync"
	"time"
)

const (
	sourceTimer   = "timer"
	sourceContext = "context"
)

// waiter is a one-shot resolution shared by every listener of a single attempt. The first
// resolve wins; later ones are ignored. Cleanups run once, in reverse registration order, as
// soon as wait returns.
type waiter struct {
	once   sync.Once
	done   chan struct{}
	result Result
	err    error

	mu       sync.Mutex
	cleaned  bool
	cleanups []func()
}

func newWaiter() *waiter {
	return &waiter{done: make(chan struct{})}
}

func (w *waiter) resolve(r Result) bool {
	won := false
	w.once.Do(func() {
		w.result = r
		close(w.done)
		won = true
	})
	return won
}

func (w *waiter) fail(err error) bool {
	won := false
	w.once.Do(func() {
		w.err = err
		close(w.done)
		won = true
	})
	return won
}

// onCleanup registers fn to run when the wait ends. If the wait already ended fn runs now.
func (w *waiter) onCleanup(fn func()) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	if w.cleaned {
		w.mu.Unlock()
		fn()
		return
	}
	w.cleanups = append(w.cleanups, fn)
	w.mu.Unlock()
}

func (w *waiter) cleanup() {
	w.mu.Lock()
	if w.cleaned {
		w.mu.Unlock()
		return
	}
	w.cleaned = true
	fns := w.cleanups
	w.cleanups = nil
	w.mu.Unlock()

	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}

func (w *waiter) wait(ctx context.Context, timeout time.Duration) (Result, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w.done:
	case <-timer.C:
		w.resolve(Result{Outcome: OutcomeTimedOut, Source: sourceTimer})
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			w.resolve(Result{Outcome: OutcomeTimedOut, Source: sourceContext})
		} else {
			w.resolve(Result{Outcome: OutcomeCancelled, Source: sourceContext})
		}
	}
	<-w.done
	w.cleanup()
	return w.result, w.err
}
