package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const genesisTime = uint64(1700000000)

func TestNewManager_DefaultsToWallClock(t *testing.T) {
	m := NewManager(nil)
	require.NotNil(t, m)

	now := uint64(time.Now().Unix())
	assert.InDelta(t, now, m.Now(), 2)
}

func TestManager_Fixed(t *testing.T) {
	m := NewManager(Fixed(genesisTime))

	assert.Equal(t, genesisTime, m.Now())
	assert.Equal(t, genesisTime, m.Now())
}

func TestManager_IncreaseTime(t *testing.T) {
	m := NewManager(Fixed(genesisTime))

	ts, err := m.IncreaseTime(31)
	require.NoError(t, err)
	assert.Equal(t, genesisTime+31, ts)

	ts, err = m.IncreaseTime(10)
	require.NoError(t, err)
	assert.Equal(t, genesisTime+41, ts)
	assert.Equal(t, genesisTime+41, m.Now())
	assert.Equal(t, uint64(41), m.Offset())
}

func TestManager_SetTime(t *testing.T) {
	m := NewManager(Fixed(genesisTime))

	require.NoError(t, m.SetTime(genesisTime+100))
	assert.Equal(t, genesisTime+100, m.Now())

	err := m.SetTime(genesisTime + 99)
	assert.ErrorIs(t, err, ErrTimestampInPast)
	assert.Equal(t, genesisTime+100, m.Now())
}

func TestManager_Snapshot(t *testing.T) {
	m := NewManager(Fixed(genesisTime))

	m.IncreaseTime(10)
	snap1 := m.Snapshot()
	m.IncreaseTime(20)
	snap2 := m.Snapshot()
	m.IncreaseTime(30)

	m.RevertToSnapshot(snap2)
	assert.Equal(t, genesisTime+30, m.Now())

	m.RevertToSnapshot(snap1)
	assert.Equal(t, genesisTime+10, m.Now())

	// snap2 was dropped when reverting to snap1.
	m.RevertToSnapshot(snap2)
	assert.Equal(t, genesisTime+10, m.Now())
}

func TestManager_Reset(t *testing.T) {
	m := NewManager(Fixed(genesisTime))
	m.IncreaseTime(500)
	m.Snapshot()

	m.Reset()

	assert.Equal(t, genesisTime, m.Now())
	assert.Equal(t, uint64(0), m.Offset())
}
