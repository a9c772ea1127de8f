package backend

import (
	"fmt"
	"sort"
	"sync"

	"github.com/eth-act/ere/internal/model"
)

// Registry holds the backend factory for each kind.
type Registry struct {
	mu        sync.RWMutex
	factories map[model.BackendKind]Factory
}

// NewRegistry creates an empty backend registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[model.BackendKind]Factory),
	}
}

// Register adds a factory for kind, replacing any previous one.
func (r *Registry) Register(kind model.BackendKind, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

// Lookup returns the factory registered for kind.
func (r *Registry) Lookup(kind model.BackendKind) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.factories[kind]
	if !ok {
		return nil, fmt.Errorf("backend %q is not registered", kind)
	}
	return f, nil
}

// New looks up the factory for kind and creates a backend with it.
func (r *Registry) New(kind model.BackendKind, res model.Resource, program model.SerializedProgram) (Backend, error) {
	f, err := r.Lookup(kind)
	if err != nil {
		return nil, err
	}
	b, err := f(res, program)
	if err != nil {
		return nil, fmt.Errorf("create %s backend: %w", kind, err)
	}
	return b, nil
}

// Kinds returns the registered kinds in ordinal order.
func (r *Registry) Kinds() []model.BackendKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]model.BackendKind, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
