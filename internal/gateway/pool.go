package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/eth-act/ere/internal/backend"
	"github.com/eth-act/ere/internal/model"
)

// ErrNoGateway is returned by Resolve when no gateway serves a kind.
var ErrNoGateway = errors.New("no gateway for backend")

// Pool holds at most one Gateway per backend kind.
type Pool struct {
	mu       sync.RWMutex
	gateways map[model.BackendKind]*Gateway
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	return &Pool{gateways: make(map[model.BackendKind]*Gateway)}
}

// Add registers g. It fails if a gateway for the same kind exists.
func (p *Pool) Add(g *Gateway) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.gateways[g.Kind()]; ok {
		return fmt.Errorf("gateway for %s already exists", g.Kind())
	}
	p.gateways[g.Kind()] = g
	return nil
}

// Get returns the gateway for kind.
func (p *Pool) Get(kind model.BackendKind) (*Gateway, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	g, ok := p.gateways[kind]
	return g, ok
}

// Resolve returns the gateway for kind as a backend.Backend.
func (p *Pool) Resolve(kind model.BackendKind) (backend.Backend, error) {
	g, ok := p.Get(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoGateway, kind)
	}
	return g, nil
}

// Kinds returns the served kinds in order.
func (p *Pool) Kinds() []model.BackendKind {
	gateways := p.List()
	kinds := make([]model.BackendKind, len(gateways))
	for i, g := range gateways {
		kinds[i] = g.Kind()
	}
	return kinds
}

// List returns the gateways in kind order.
func (p *Pool) List() []*Gateway {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Gateway, 0, len(p.gateways))
	for _, g := range p.gateways {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind() < out[j].Kind() })
	return out
}

// Close closes every gateway and empties the pool.
func (p *Pool) Close(ctx context.Context) {
	p.mu.Lock()
	gateways := p.gateways
	p.gateways = make(map[model.BackendKind]*Gateway)
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, g := range gateways {
		wg.Go(func() { g.Close(ctx) })
	}
	wg.Wait()
}

// StartPool starts one gateway per entry concurrently. If any fails, the
// gateways already started are closed and the first error is returned.
func StartPool(ctx context.Context, entries []Options) (*Pool, error) {
	seen := make(map[model.BackendKind]bool, len(entries))
	for _, e := range entries {
		if seen[e.Kind] {
			return nil, fmt.Errorf("duplicate gateway for %s", e.Kind)
		}
		seen[e.Kind] = true
	}

	pool := NewPool()
	eg, egCtx := errgroup.WithContext(ctx)
	for _, opts := range entries {
		eg.Go(func() error {
			g, err := New(egCtx, opts)
			if err != nil {
				return err
			}
			return pool.Add(g)
		})
	}
	if err := eg.Wait(); err != nil {
		pool.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	return pool, nil
}
