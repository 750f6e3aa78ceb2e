package transportfakes

import (
	"context"
	"errors"
	"sync"

	"github.com/jrsteele09/go-identity-bridge/transport"
)

var ErrNoScriptedStep = errors.New("transportfakes: no scripted step left")

// Step produces the outcome of one Open call.
type Step func(ctx context.Context, req transport.Request) (transport.Result, error)

func Callback(raw string) Step {
	return func(context.Context, transport.Request) (transport.Result, error) {
		return transport.Result{Outcome: transport.OutcomeCallback, Raw: raw, Source: "fake"}, nil
	}
}

func Cancelled() Step {
	return func(context.Context, transport.Request) (transport.Result, error) {
		return transport.Result{Outcome: transport.OutcomeCancelled, Source: "fake"}, nil
	}
}

func TimedOut() Step {
	return func(context.Context, transport.Request) (transport.Result, error) {
		return transport.Result{Outcome: transport.OutcomeTimedOut, Source: "fake"}, nil
	}
}

func Fail(err error) Step {
	return func(context.Context, transport.Request) (transport.Result, error) {
		return transport.Result{}, err
	}
}

// Block waits for release (then runs next) or for ctx, which resolves as cancelled.
func Block(release <-chan struct{}, next Step) Step {
	return func(ctx context.Context, req transport.Request) (transport.Result, error) {
		select {
		case <-release:
			return next(ctx, req)
		case <-ctx.Done():
			return transport.Result{Outcome: transport.OutcomeCancelled, Source: "fake"}, nil
		}
	}
}

// Adapter is a scripted transport.Adapter that records every request it receives.
type Adapter struct {
	mu      sync.Mutex
	kind    transport.Kind
	steps   []Step
	calls   []transport.Request
	entered chan transport.Request
}

func NewAdapter(kind transport.Kind, steps ...Step) *Adapter {
	return &Adapter{
		kind:    kind,
		steps:   steps,
		entered: make(chan transport.Request, 16),
	}
}

func (a *Adapter) Push(steps ...Step) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.steps = append(a.steps, steps...)
}

func (a *Adapter) Kind() transport.Kind {
	return a.kind
}

func (a *Adapter) Open(ctx context.Context, req transport.Request) (transport.Result, error) {
	a.mu.Lock()
	a.calls = append(a.calls, req)
	var step Step
	if len(a.steps) > 0 {
		step = a.steps[0]
		a.steps = a.steps[1:]
	}
	a.mu.Unlock()

	select {
	case a.entered <- req:
	default:
	}

	if step == nil {
		return transport.Result{}, ErrNoScriptedStep
	}
	return step(ctx, req)
}

// Entered delivers each request as Open starts handling it.
func (a *Adapter) Entered() <-chan transport.Request {
	return a.entered
}

func (a *Adapter) Calls() []transport.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]transport.Request(nil), a.calls...)
}

func (a *Adapter) CallCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}
