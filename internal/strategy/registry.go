package strategy

import (
	"fmt"
	"sync"
)

// Registry keeps producers in registration order. That order breaks ties in
// the aggregator's ranking, so it is part of the contract.
type Registry struct {
	mu        sync.RWMutex
	producers []Producer
	index     map[string]int
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[string]int)}
}

// Register appends p. Names must be unique.
func (r *Registry) Register(p Producer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	if _, ok := r.index[name]; ok {
		return fmt.Errorf("strategy %q: already registered", name)
	}
	r.index[name] = len(r.producers)
	r.producers = append(r.producers, p)
	return nil
}

// Get retrieves a producer by name.
func (r *Registry) Get(name string) (Producer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.index[name]
	if !ok {
		return nil, fmt.Errorf("strategy %q: not registered", name)
	}
	return r.producers[i], nil
}

// Producers returns the registered producers in registration order.
func (r *Registry) Producers() []Producer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Producer(nil), r.producers...)
}

// Names returns producer names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.producers))
	for i, p := range r.producers {
		names[i] = p.Name()
	}
	return names
}

// Order returns the registration index of name, or -1.
func (r *Registry) Order(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i, ok := r.index[name]; ok {
		return i
	}
	return -1
}
