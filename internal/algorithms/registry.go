// Package algorithms holds the causal discovery algorithms the service can
// execute in-process.
package algorithms

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/showwhy/discoverd/internal/domain"
	"github.com/showwhy/discoverd/internal/ports"
)

// ErrUnknownAlgorithm is returned for algorithms not in the registry
var ErrUnknownAlgorithm = errors.New("unknown discovery algorithm")

// Algorithm runs causal discovery for one request
type Algorithm interface {
	Name() domain.Algorithm
	Discover(ctx context.Context, req ports.DiscoveryRequest, progress ports.ProgressFunc) (*domain.DiscoveryResult, error)
}

// Registry maps algorithm identifiers to implementations
type Registry struct {
	mu         sync.RWMutex
	algorithms map[domain.Algorithm]Algorithm
}

// NewRegistry creates a registry holding algs
func NewRegistry(algs ...Algorithm) *Registry {
	r := &Registry{algorithms: make(map[domain.Algorithm]Algorithm)}
	for _, a := range algs {
		r.Register(a)
	}
	return r
}

// Register adds or replaces an algorithm
func (r *Registry) Register(a Algorithm) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.algorithms[a.Name()] = a
}

// Get returns the algorithm registered under name
func (r *Registry) Get(name domain.Algorithm) (Algorithm, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.algorithms[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not available on this server", ErrUnknownAlgorithm, name)
	}
	return a, nil
}

// Names returns the registered algorithm names, sorted
func (r *Registry) Names() []domain.Algorithm {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]domain.Algorithm, 0, len(r.algorithms))
	for name := range r.algorithms {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
