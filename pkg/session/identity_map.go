package session

import "sync"

// identityMap is the within-session bidirectional map between document
// id and in-memory entity (spec §4.2). All operations are O(1)
// expected, except Remove/iteration bookkeeping which is O(n) in the
// number of tracked entities — acceptable at session scope.
//
// Entities are tracked by pointer identity: Save/Get callers are
// expected to pass pointers, the same convention the teacher's
// generic repositories use for T types.IBaseModel.
type identityMap struct {
	mu      sync.RWMutex
	byID    map[uint]interface{}
	idByPtr map[interface{}]uint
	order   []uint
}

func newIdentityMap() *identityMap {
	return &identityMap{
		byID:    make(map[uint]interface{}),
		idByPtr: make(map[interface{}]uint),
	}
}

// Put inserts or overwrites the id<->entity pair.
func (m *identityMap) Put(id uint, entity interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byID[id]; !exists {
		m.order = append(m.order, id)
	}
	m.byID[id] = entity
	m.idByPtr[entity] = id
}

// Get returns the tracked entity for id.
func (m *identityMap) Get(id uint) (interface{}, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.byID[id]
	return e, ok
}

// Has reports whether entity (by pointer identity) is tracked, and its
// id if so.
func (m *identityMap) Has(entity interface{}) (uint, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.idByPtr[entity]
	return id, ok
}

// Remove drops id (and its entity) from both directions.
func (m *identityMap) Remove(id uint) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entity, ok := m.byID[id]
	if !ok {
		return
	}
	delete(m.byID, id)
	delete(m.idByPtr, entity)
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// All returns the currently tracked entities in stable insertion order.
func (m *identityMap) All() []trackedEntity {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]trackedEntity, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, trackedEntity{ID: id, Entity: m.byID[id]})
	}
	return out
}

type trackedEntity struct {
	ID     uint
	Entity interface{}
}
