package scheduler

import (
	"sort"
	"sync"
)

// Handle is a live, cancellable one-shot timer.
type Handle interface {
	Stop() bool
}

type entry struct {
	handle Handle
	gen    uint64
	firing bool
}

// Registry maps message ids to their live timer. Each entry carries a
// generation so a callback from a replaced or removed timer can tell it no
// longer owns the id.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	nextGen uint64
}

func NewRegistry() *Registry {
	return &Registry{entries: map[string]*entry{}}
}

// Set stops any existing timer for id and installs the handle returned by
// build. build runs under the registry lock and receives the generation the
// new timer must present to Claim and Release. Set fails with ErrFiring when
// the current timer for id is already delivering.
func (r *Registry) Set(id string, build func(gen uint64) Handle) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.entries[id]; ok {
		if old.firing {
			return 0, errFiring(id)
		}
		old.handle.Stop()
	}
	r.nextGen++
	gen := r.nextGen
	r.entries[id] = &entry{handle: build(gen), gen: gen}
	return gen, nil
}

// SetIfAbsent installs the handle returned by build only when id has no
// entry. ok is false when an entry already exists.
func (r *Registry) SetIfAbsent(id string, build func(gen uint64) Handle) (gen uint64, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[id]; exists {
		return 0, false
	}
	r.nextGen++
	gen = r.nextGen
	r.entries[id] = &entry{handle: build(gen), gen: gen}
	return gen, true
}

// Replace swaps the firing entry owned by gen for a fresh timer. It fails
// when gen no longer owns id.
func (r *Registry) Replace(id string, gen uint64, build func(gen uint64) Handle) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.gen != gen {
		return 0, false
	}
	r.nextGen++
	next := r.nextGen
	r.entries[id] = &entry{handle: build(next), gen: next}
	return next, true
}

func (r *Registry) Get(id string) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.handle, true
}

// Remove stops and deletes the timer for id. An entry that is already
// delivering cannot be stopped; it is left in place and firing is true.
func (r *Registry) Remove(id string) (removed, firing bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return false, false
	}
	if e.firing {
		return false, true
	}
	e.handle.Stop()
	delete(r.entries, id)
	return true, false
}

// Claim marks the entry as delivering if gen still owns id.
func (r *Registry) Claim(id string, gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.gen != gen || e.firing {
		return false
	}
	e.firing = true
	return true
}

// Release deletes the entry for id if gen still owns it.
func (r *Registry) Release(id string, gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.gen != gen {
		return false
	}
	delete(r.entries, id)
	return true
}

func (r *Registry) Firing(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	return ok && e.firing
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) IDs() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Clear stops every timer that has not started delivering.
func (r *Registry) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, e := range r.entries {
		if e.firing {
			continue
		}
		e.handle.Stop()
		delete(r.entries, id)
		n++
	}
	return n
}
