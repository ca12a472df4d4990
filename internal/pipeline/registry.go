package pipeline

import (
	"sync"

	"github.com/google/uuid"
)

// Registry holds the trackers of runs started by this process so status reads
// never touch an in-progress stage. Finished runs stay resident; restarts fall
// back to the persisted run row.
type Registry struct {
	mu       sync.RWMutex
	trackers map[uuid.UUID]*Tracker
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{trackers: make(map[uuid.UUID]*Tracker)}
}

// Add registers a tracker under its run id.
func (r *Registry) Add(t *Tracker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trackers[t.ID()] = t
}

// Get returns the tracker for a run id, if this process owns it.
func (r *Registry) Get(id uuid.UUID) (*Tracker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.trackers[id]
	return t, ok
}
