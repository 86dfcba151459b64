package session

import "sync"

// Registry is the concurrency-safe map of session identifier to
// Handle. All membership changes go through it, and the presence check
// in add is atomic with the insert so duplicate creation requests are
// rejected rather than racing.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]*Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]*Handle)}
}

// add inserts a handle, rejecting the insert with ErrConflict when a
// live (non-terminal) handle already holds the identifier. A lingering
// terminal handle is replaced.
func (r *Registry) add(h *Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.handles[h.id]; ok && !existing.State().Terminal() {
		return ErrConflict
	}
	r.handles[h.id] = h
	return nil
}

// remove deletes the identifier's entry, but only if it still points at
// the given handle. A stale removal must never evict a successor
// session created under the same identifier.
func (r *Registry) remove(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.handles[h.id]; ok && current == h {
		delete(r.handles, h.id)
	}
}

// Get returns the handle for an identifier.
func (r *Registry) Get(id string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handles[id]
	return h, ok
}

// List returns all registered handles.
func (r *Registry) List() []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handles := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	return handles
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}
