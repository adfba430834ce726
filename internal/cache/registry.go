package cache

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// BackendSpec is one [[cache.backends]] entry of the config file
type BackendSpec struct {
	Type    string        `toml:"type"`
	Name    string        `toml:"name"`
	Preset  string        `toml:"preset"`
	Args    []string      `toml:"args"`
	URL     string        `toml:"url"`
	Method  string        `toml:"method"`
	Subject string        `toml:"subject"`
	Timeout time.Duration `toml:"timeout"`
}

// Factory builds a Backend from its spec
type Factory func(spec BackendSpec) (Backend, error)

// Registry maps backend types to factories. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty Registry
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under typ
func (r *Registry) Register(typ string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[typ]; exists {
		return fmt.Errorf("cache backend type %q is already registered", typ)
	}
	r.factories[typ] = factory
	return nil
}

// Create builds one backend
func (r *Registry) Create(spec BackendSpec) (Backend, error) {
	r.mu.RLock()
	factory, exists := r.factories[spec.Type]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown cache backend type %q (known: %s)", spec.Type, strings.Join(r.Types(), ", "))
	}
	b, err := factory(spec)
	if err != nil {
		return nil, fmt.Errorf("cache backend %q: %w", spec.Type, err)
	}
	return b, nil
}

// CreateAll builds the backends in configuration order
func (r *Registry) CreateAll(specs []BackendSpec) ([]Backend, error) {
	backends := make([]Backend, 0, len(specs))
	for _, spec := range specs {
		b, err := r.Create(spec)
		if err != nil {
			return nil, err
		}
		backends = append(backends, b)
	}
	return backends, nil
}

// Types returns the registered backend types, sorted
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for typ := range r.factories {
		types = append(types, typ)
	}
	sort.Strings(types)
	return types
}
