package spec

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownSpec is returned by Registry.Get for names that were never registered.
var ErrUnknownSpec = errors.New("unknown load spec")

// Registry maps spec names to specs. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]LoadSpec
}

// NewRegistry creates a registry holding the given specs.
func NewRegistry(specs ...LoadSpec) (*Registry, error) {
	r := &Registry{specs: make(map[string]LoadSpec, len(specs))}
	for _, s := range specs {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds or replaces a spec under its name.
func (r *Registry) Register(s LoadSpec) error {
	if err := s.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.specs[s.Name] = s
	r.mu.Unlock()
	return nil
}

// Get returns the spec registered under name.
func (r *Registry) Get(name string) (LoadSpec, error) {
	r.mu.RLock()
	s, ok := r.specs[name]
	r.mu.RUnlock()
	if !ok {
		return LoadSpec{}, fmt.Errorf("%q: %w", name, ErrUnknownSpec)
	}
	return s, nil
}

// List returns all registered specs sorted by name.
func (r *Registry) List() []LoadSpec {
	r.mu.RLock()
	out := make([]LoadSpec, 0, len(r.specs))
	for _, s := range r.specs {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DefaultSpecs are registered by the server when no other specs are configured.
func DefaultSpecs() []LoadSpec {
	return []LoadSpec{
		{Name: "avatar", Width: 96, Height: 96, Mode: ModeCrop},
		{Name: "thumbnail", Width: 240, Height: 240, Mode: ModeCrop},
		{Name: "feed", Width: 1080, Height: 0, Mode: ModeFit},
		{Name: "fullscreen", Width: 1920, Height: 1920, Mode: ModeFit},
	}
}
