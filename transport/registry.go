package transport

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrNilAdapter        = errors.New("transport: adapter is nil")
	ErrDuplicateKind     = errors.New("transport: adapter kind already registered")
	ErrKindNotRegistered = errors.New("transport: adapter kind not registered")
)

// Registry holds the adapters a host can offer, keyed by kind. The configured kind selects
// the protocol's default adapter.
type Registry struct {
	mu       sync.RWMutex
	adapters map[Kind]Adapter
}

func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: map[Kind]Adapter{}}
	for _, a := range adapters {
		if err := r.Register(a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds adapter under its kind. Kinds are unique; the first registration wins.
func (r *Registry) Register(adapter Adapter) error {
	if adapter == nil {
		return ErrNilAdapter
	}
	kind, err := ParseKind(string(adapter.Kind()))
	if err != nil {
		return errors.Wrap(err, "[Registry.Register]")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[kind]; exists {
		return errors.Wrapf(ErrDuplicateKind, "[Registry.Register] %s", kind)
	}
	r.adapters[kind] = adapter
	return nil
}

func (r *Registry) Get(kind Kind) (Adapter, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[Kind(normalizeKind(string(kind)))]
	return adapter, ok
}

// Select returns the adapter registered for the configured kind name.
func (r *Registry) Select(name string) (Adapter, error) {
	kind, err := ParseKind(name)
	if err != nil {
		return nil, errors.Wrap(err, "[Registry.Select]")
	}
	adapter, ok := r.Get(kind)
	if !ok {
		return nil, errors.Wrapf(ErrKindNotRegistered, "[Registry.Select] %s", kind)
	}
	return adapter, nil
}

func (r *Registry) Kinds() []Kind {
	if r == nil {
		return []Kind{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]Kind, 0, len(r.adapters))
	for kind := range r.adapters {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
