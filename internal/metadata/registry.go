package metadata

import "sync/atomic"

// Registry holds the current entity snapshot. Snapshots are immutable:
// Load builds a fresh map and swaps the pointer, so concurrent readers
// never observe a partially-replaced set and never take a lock.
type Registry struct {
	snapshot atomic.Pointer[snapshot]
}

type snapshot struct {
	entities map[string]*Entity
	ordered  []*Entity
}

func NewRegistry() *Registry {
	r := &Registry{}
	r.snapshot.Store(&snapshot{entities: map[string]*Entity{}})
	return r
}

// GetEntity returns the entity with the given name, or nil.
func (r *Registry) GetEntity(name string) *Entity {
	return r.snapshot.Load().entities[name]
}

// AllEntities returns all registered entities in load order.
func (r *Registry) AllEntities() []*Entity {
	return r.snapshot.Load().ordered
}

// Load replaces the entity snapshot. Called at startup and on reload;
// in-flight readers keep the snapshot they already resolved.
func (r *Registry) Load(entities []*Entity) {
	snap := &snapshot{
		entities: make(map[string]*Entity, len(entities)),
		ordered:  entities,
	}
	for _, e := range entities {
		snap.entities[e.Name] = e
	}
	r.snapshot.Store(snap)
}
