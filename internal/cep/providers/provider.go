// Package providers defines the address provider contract and the
// priority-ordered registry the orchestrator races over.
package providers

import (
	"fmt"
	"sync"
	"time"

	"cepfinder/internal/cep/models"
	"cepfinder/pkg/domain"
)

// Provider is the contract every CEP data source implements.
type Provider interface {
	// Name returns a unique display identifier, copied into Address.Service.
	Name() string

	// Timeout bounds a single fetch. Zero means no per-provider limit.
	Timeout() time.Duration

	// BuildURL returns the endpoint to GET for cep.
	BuildURL(cep domain.CEP) string

	// Transform parses a raw response body. "Not found" payloads must yield an
	// error wrapping ErrNotFound, never a partial address.
	Transform(raw []byte) (*models.Address, error)
}

// Registry keeps providers in priority order. Index 0 is raced first.
type Registry struct {
	mu        sync.RWMutex
	providers []Provider
}

// NewRegistry creates a registry in the given order.
func NewRegistry(ps ...Provider) (*Registry, error) {
	r := &Registry{}
	for _, p := range ps {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register appends a provider at the lowest priority.
func (r *Registry) Register(p Provider) error {
	if p == nil {
		return fmt.Errorf("provider is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.providers {
		if existing.Name() == p.Name() {
			return fmt.Errorf("provider %s already registered", p.Name())
		}
	}
	r.providers = append(r.providers, p)
	return nil
}

// Get retrieves a provider by name.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.providers {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// Ordered returns a copy of the current priority order.
func (r *Registry) Ordered() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Provider, len(r.providers))
	copy(out, r.providers)
	return out
}

// Names returns provider names in priority order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.providers))
	for i, p := range r.providers {
		names[i] = p.Name()
	}
	return names
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}

// Reorder installs a new priority order. It must be a permutation of the
// registered providers.
func (r *Registry) Reorder(order []Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(order) != len(r.providers) {
		return fmt.Errorf("reorder: got %d providers, registry has %d", len(order), len(r.providers))
	}
	known := make(map[string]struct{}, len(r.providers))
	for _, p := range r.providers {
		known[p.Name()] = struct{}{}
	}
	for _, p := range order {
		if _, ok := known[p.Name()]; !ok {
			return fmt.Errorf("reorder: unknown or duplicate provider %s", p.Name())
		}
		delete(known, p.Name())
	}

	next := make([]Provider, len(order))
	copy(next, order)
	r.providers = next
	return nil
}
