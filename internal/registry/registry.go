// Package registry tracks which improvements are in flight and enforces
// the concurrency cap and per-component exclusivity.
package registry

import (
	"sync"

	"github.com/xkilldash9x/loopsmith/api/schemas"
)

// Key identifies an active improvement by what it changes.
type Key struct {
	Type      schemas.OpportunityType
	Component string
}

// Registry is the shared in-flight improvement table. Safe for concurrent
// use.
type Registry struct {
	mu       sync.RWMutex
	limit    int
	byKey    map[Key]string // key -> opportunity ID
	byComp   map[string]string
	released int64
}

// New creates a registry capped at limit concurrent improvements.
func New(limit int) *Registry {
	return &Registry{
		limit:  limit,
		byKey:  make(map[Key]string),
		byComp: make(map[string]string),
	}
}

// Acquire claims a slot for the opportunity. It fails when the cap is
// reached, when the same (type, component) is already active, or when any
// improvement already owns the component.
func (r *Registry) Acquire(op schemas.ImprovementOpportunity) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.byKey) >= r.limit {
		return false
	}
	key := Key{Type: op.Type, Component: op.Component}
	if _, taken := r.byKey[key]; taken {
		return false
	}
	if _, taken := r.byComp[op.Component]; taken {
		return false
	}

	r.byKey[key] = op.ID
	r.byComp[op.Component] = op.ID
	return true
}

// Release frees the slot held for the opportunity. Releasing an unheld
// slot is a no-op.
func (r *Registry) Release(op schemas.ImprovementOpportunity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := Key{Type: op.Type, Component: op.Component}
	if r.byKey[key] != op.ID {
		return
	}
	delete(r.byKey, key)
	delete(r.byComp, op.Component)
	r.released++
}

// Count returns the number of active improvements.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byKey)
}

// ActiveKeys snapshots the in-flight (type, component) pairs for the
// prioritizer.
func (r *Registry) ActiveKeys() map[Key]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[Key]bool, len(r.byKey))
	for k := range r.byKey {
		out[k] = true
	}
	return out
}

// ActiveComponents lists components currently being improved.
func (r *Registry) ActiveComponents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byComp))
	for c := range r.byComp {
		out = append(out, c)
	}
	return out
}
