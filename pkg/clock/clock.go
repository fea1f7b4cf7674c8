// Package clock provides the virtual chain clock used as block timestamp source.
package clock

import (
	"errors"
	"sync"
	"time"
)

// ErrTimestampInPast is returned when moving the clock backwards.
var ErrTimestampInPast = errors.New("timestamp is lower than current time")

// Clock reports the current chain time in unix seconds.
type Clock interface {
	Now() uint64
}

// Source returns the wall time the virtual clock is anchored to.
type Source func() time.Time

// Fixed returns a Source frozen at the given unix timestamp.
func Fixed(unix uint64) Source {
	t := time.Unix(int64(unix), 0)
	return func() time.Time { return t }
}

type snapshot struct {
	id     int
	offset uint64
}

// Manager is a Clock that can be pushed forward the way evm_increaseTime does.
type Manager struct {
	source     Source
	timeOffset uint64

	snapshots  []snapshot
	nextSnapID int

	mu sync.RWMutex
}

// NewManager creates a clock over source. A nil source uses time.Now.
func NewManager(source Source) *Manager {
	if source == nil {
		source = time.Now
	}
	return &Manager{source: source}
}

// Now returns the current virtual timestamp.
func (m *Manager) Now() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.nowLocked()
}

func (m *Manager) nowLocked() uint64 {
	return uint64(m.source().Unix()) + m.timeOffset
}

// IncreaseTime moves the clock forward and returns the new timestamp.
func (m *Manager) IncreaseTime(seconds uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.timeOffset += seconds
	return m.nowLocked(), nil
}

// SetTime jumps the clock to timestamp, which must not be in the past.
func (m *Manager) SetTime(timestamp uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowLocked()
	if timestamp < now {
		return ErrTimestampInPast
	}
	m.timeOffset += timestamp - now
	return nil
}

// Offset returns the accumulated offset in seconds.
func (m *Manager) Offset() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.timeOffset
}

// Snapshot records the current offset for revert.
func (m *Manager) Snapshot() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := snapshot{id: m.nextSnapID, offset: m.timeOffset}
	m.snapshots = append(m.snapshots, snap)
	m.nextSnapID++
	return snap.id
}

// RevertToSnapshot restores the offset recorded by id and drops later snapshots.
func (m *Manager) RevertToSnapshot(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, snap := range m.snapshots {
		if snap.id == id {
			m.timeOffset = snap.offset
			m.snapshots = m.snapshots[:i]
			return
		}
	}
}

// Reset clears the offset and all snapshots.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.timeOffset = 0
	m.snapshots = nil
	m.nextSnapID = 0
}
