// Package endpoint implements the named backend endpoint registry.
// Reads are lock-free against an immutable snapshot; every mutation builds
// a new snapshot and publishes it atomically, so concurrent readers see the
// table entirely before or entirely after a change, never in between.
package endpoint

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

var (
	// ErrNotFound is returned when no endpoint carries the requested name.
	ErrNotFound = errors.New("endpoint not found")
	// ErrAlreadyExists is returned by Add when the name is taken.
	ErrAlreadyExists = errors.New("endpoint already exists")
)

// Endpoint describes one backend RPC target.
type Endpoint struct {
	Name    string `json:"name" mapstructure:"name"`
	Host    string `json:"host" mapstructure:"host"`
	Port    int    `json:"port" mapstructure:"port"`
	Service string `json:"service" mapstructure:"service"`
	UseTLS  bool   `json:"use_tls" mapstructure:"use_tls"`
}

// Addr returns the host:port dial target.
func (e Endpoint) Addr() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// Registry holds the endpoint table. Mutations are serialised by a mutex;
// the read path touches only the atomically published snapshot.
type Registry struct {
	mu       sync.Mutex
	snapshot atomic.Pointer[map[string]Endpoint]
}

// NewRegistry creates a registry pre-populated with the given endpoints.
// Duplicate names are rejected.
func NewRegistry(endpoints []Endpoint) (*Registry, error) {
	table := make(map[string]Endpoint, len(endpoints))
	for _, ep := range endpoints {
		if _, ok := table[ep.Name]; ok {
			return nil, fmt.Errorf("endpoint %q: %w", ep.Name, ErrAlreadyExists)
		}
		table[ep.Name] = ep
	}
	r := &Registry{}
	r.snapshot.Store(&table)
	return r, nil
}

// Snapshot returns the current immutable endpoint table. Callers must not
// mutate the returned map.
func (r *Registry) Snapshot() map[string]Endpoint {
	return *r.snapshot.Load()
}

// Get looks up an endpoint by name.
func (r *Registry) Get(name string) (Endpoint, error) {
	ep, ok := r.Snapshot()[name]
	if !ok {
		return Endpoint{}, fmt.Errorf("endpoint %q: %w", name, ErrNotFound)
	}
	return ep, nil
}

// List returns all endpoints sorted by name.
func (r *Registry) List() []Endpoint {
	snap := r.Snapshot()
	out := make([]Endpoint, 0, len(snap))
	for _, ep := range snap {
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Add inserts a new endpoint. It fails with ErrAlreadyExists and leaves the
// published table untouched when the name is taken.
func (r *Registry) Add(ep Endpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := *r.snapshot.Load()
	if _, ok := cur[ep.Name]; ok {
		return fmt.Errorf("endpoint %q: %w", ep.Name, ErrAlreadyExists)
	}
	next := make(map[string]Endpoint, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	next[ep.Name] = ep
	r.snapshot.Store(&next)
	return nil
}

// Remove deletes an endpoint by name. It fails with ErrNotFound and leaves
// the published table untouched when the name is absent.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := *r.snapshot.Load()
	if _, ok := cur[name]; !ok {
		return fmt.Errorf("endpoint %q: %w", name, ErrNotFound)
	}
	next := make(map[string]Endpoint, len(cur)-1)
	for k, v := range cur {
		if k != name {
			next[k] = v
		}
	}
	r.snapshot.Store(&next)
	return nil
}
