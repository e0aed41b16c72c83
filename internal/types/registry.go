package types

import (
	"fmt"
	"sync"
)

// Registry is a name->Type lookup table. Structural types (Tuple, List) do
// not register; only named built-ins and user types do.
type Registry struct {
	mu    sync.RWMutex
	types map[string]Type
}

// NewRegistry builds a Registry preloaded with the built-in scalar types.
func NewRegistry() *Registry {
	r := &Registry{types: make(map[string]Type)}
	for _, t := range []Type{UInt64, String, Bytes, Bool, Float64} {
		r.types[mustName(t)] = t
	}
	return r
}

func mustName(t Type) string {
	name, ok := t.Name()
	if !ok {
		panic("types: built-in registered without a name")
	}
	return name
}

// Add registers t under its name. Re-registering the exact same
// definition is a no-op; registering a different definition under an
// already-used name is an error, per spec section 3's invariant that two
// types sharing a name must have identical behavior for the life of the
// database.
func (r *Registry) Add(t Type) error {
	name, ok := t.Name()
	if !ok {
		return fmt.Errorf("types: cannot register an unnamed (structural) type")
	}
	if name == "" {
		return fmt.Errorf("types: type name must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, found := r.types[name]; found {
		if existing.Equal(t) {
			return nil
		}
		return fmt.Errorf("types: %q already registered with a different definition", name)
	}
	r.types[name] = t
	return nil
}

// Lookup returns the type registered under name, if any.
func (r *Registry) Lookup(name string) (Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	return t, ok
}
