package capability

import "sync"

// Registry holds the registered adapters and hands them out in canonical
// order. Registration order does not matter; Ordered always walks
// CanonicalOrder with TagChat first.
type Registry struct {
	mu       sync.RWMutex
	adapters map[Tag]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[Tag]Adapter)}
}

// Register adds an adapter, replacing any previous adapter for the same
// tag. Adapters with an invalid tag are ignored.
func (r *Registry) Register(a Adapter) {
	if a == nil || !a.Tag().Valid() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Tag()] = a
}

// Get returns the adapter for the tag, if registered.
func (r *Registry) Get(tag Tag) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[tag]
	return a, ok
}

// Ordered returns the registered adapters, chat first, then the
// canonical order. Unregistered tags are skipped.
func (r *Registry) Ordered() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, 0, len(r.adapters))
	if a, ok := r.adapters[TagChat]; ok {
		out = append(out, a)
	}
	for _, tag := range CanonicalOrder {
		if a, ok := r.adapters[tag]; ok {
			out = append(out, a)
		}
	}
	return out
}

// Tags returns the tags of all registered adapters in the same order as
// Ordered.
func (r *Registry) Tags() []Tag {
	adapters := r.Ordered()
	tags := make([]Tag, len(adapters))
	for i, a := range adapters {
		tags[i] = a.Tag()
	}
	return tags
}
