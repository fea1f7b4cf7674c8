// Package snapshot coordinates evm_snapshot / evm_revert across the node's
// revertible components.
package snapshot

import (
	"sort"
	"sync"
)

// Snapshotter is a component whose state can be captured and restored.
type Snapshotter interface {
	Snapshot() int
	RevertToSnapshot(id int)
}

// Snapshot holds a point-in-time capture of every component.
type Snapshot struct {
	ID          uint64
	ComponentID []int
}

// Manager manages node-wide snapshots.
type Manager struct {
	components []Snapshotter

	snapshots map[uint64]*Snapshot
	nextID    uint64

	mu sync.RWMutex
}

// NewManager creates a snapshot manager over components. Components are
// captured in order and reverted in reverse order.
func NewManager(components ...Snapshotter) *Manager {
	return &Manager{
		components: components,
		snapshots:  make(map[uint64]*Snapshot),
		nextID:     1,
	}
}

// Snapshot creates a new snapshot and returns its ID.
func (m *Manager) Snapshot() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]int, len(m.components))
	for i, c := range m.components {
		ids[i] = c.Snapshot()
	}

	snap := &Snapshot{
		ID:          m.nextID,
		ComponentID: ids,
	}

	m.snapshots[m.nextID] = snap
	m.nextID++

	return snap.ID
}

// Revert reverts to a previous snapshot. The snapshot and every later one
// are consumed.
func (m *Manager) Revert(id uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, exists := m.snapshots[id]
	if !exists {
		return false
	}

	for i := len(m.components) - 1; i >= 0; i-- {
		m.components[i].RevertToSnapshot(snap.ComponentID[i])
	}

	for snapID := range m.snapshots {
		if snapID >= id {
			delete(m.snapshots, snapID)
		}
	}

	return true
}

// Delete removes a snapshot.
func (m *Manager) Delete(id uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.snapshots[id]; !exists {
		return false
	}

	delete(m.snapshots, id)
	return true
}

// List returns all snapshot IDs in ascending order.
func (m *Manager) List() []uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]uint64, 0, len(m.snapshots))
	for id := range m.snapshots {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Clear removes all snapshots.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.snapshots = make(map[uint64]*Snapshot)
}

// Count returns the number of snapshots.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.snapshots)
}

// Get retrieves a snapshot by ID.
func (m *Manager) Get(id uint64) (*Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap, exists := m.snapshots[id]
	return snap, exists
}
