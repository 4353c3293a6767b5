package resource

import (
	"sync"
)

// Registry stores resource descriptors in registration order.
// It becomes read-only once an orchestrator is created from it.
type Registry struct {
	mu     sync.RWMutex
	order  []string
	byKey  map[string]Descriptor
	sealed bool
}

func NewRegistry(descriptors ...Descriptor) (*Registry, error) {
	r := &Registry{byKey: make(map[string]Descriptor, len(descriptors))}
	for _, d := range descriptors {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a descriptor. An empty scope defaults to ScopeSuite.
func (r *Registry) Register(d Descriptor) error {
	if d.Scope == "" {
		d.Scope = ScopeSuite
	}
	if err := d.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return ErrRegistrySealed
	}
	if r.byKey == nil {
		r.byKey = make(map[string]Descriptor)
	}
	if _, exists := r.byKey[d.Key]; exists {
		return &DuplicateKeyError{Key: d.Key}
	}
	r.byKey[d.Key] = d.clone()
	r.order = append(r.order, d.Key)
	return nil
}

// MustRegister panics on registration error; intended for suite bootstrap code.
func (r *Registry) MustRegister(descriptors ...Descriptor) *Registry {
	for _, d := range descriptors {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
	return r
}

// Resolve returns a copy of the descriptor registered under key.
func (r *Registry) Resolve(key string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byKey[key]
	if !ok {
		return Descriptor{}, &NotFoundError{Key: key}
	}
	return d.clone(), nil
}

// Descriptors returns registration-ordered copies, optionally filtered by scope.
func (r *Registry) Descriptors(scopes ...Scope) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, key := range r.order {
		d := r.byKey[key]
		if len(scopes) > 0 && !containsScope(scopes, d.Scope) {
			continue
		}
		out = append(out, d.clone())
	}
	return out
}

// Len returns the number of registered descriptors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Seal makes the registry read-only.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Sealed reports whether Seal was called.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

func containsScope(scopes []Scope, s Scope) bool {
	for _, v := range scopes {
		if v == s {
			return true
		}
	}
	return false
}
