package world

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyTableAllocatesLowestFreeSlot(t *testing.T) {
	kt := NewKeyTable(3) // 7 slots

	for i, id := range []uint32{10, 20, 30} {
		key, ok := kt.Add(id)
		require.True(t, ok)
		assert.Equal(t, uint32(i+1), key)
	}

	kt.Remove(20)
	assert.False(t, kt.Contains(20))
	assert.Zero(t, kt.KeyFor(20))
	assert.Zero(t, kt.RoomFor(2))

	key, ok := kt.Add(40)
	require.True(t, ok)
	assert.Equal(t, uint32(2), key, "freed slot is reused first")
	assert.Equal(t, uint32(40), kt.RoomFor(2))
}

func TestKeyTableNoSpace(t *testing.T) {
	kt := NewKeyTable(1)

	key, ok := kt.Add(42)
	require.True(t, ok)
	assert.Equal(t, uint32(1), key)
	assert.True(t, kt.IsFull())

	_, ok = kt.Add(99)
	assert.False(t, ok)

	require.NoError(t, kt.SetCapacity(2))
	assert.False(t, kt.IsFull())
	key, ok = kt.Add(99)
	require.True(t, ok)
	assert.Equal(t, uint32(2), key)
}

func TestKeyTableKeysAreUnique(t *testing.T) {
	kt := NewKeyTable(8)
	seen := map[uint32]uint32{}
	for id := uint32(1); id <= 255; id++ {
		key, ok := kt.Add(id * 1000)
		require.True(t, ok)
		require.NotZero(t, key)
		if prev, dup := seen[key]; dup {
			t.Fatalf("key %d given to room %d and %d", key, prev, id*1000)
		}
		seen[key] = id * 1000
	}
	assert.True(t, kt.IsFull())
	assert.Equal(t, 255, kt.Len())
	for key, id := range seen {
		assert.Equal(t, key, kt.KeyFor(id))
	}
}

func TestKeyTableZeroMeansNoRoom(t *testing.T) {
	kt := NewKeyTable(2)
	_, ok := kt.Add(0)
	assert.False(t, ok)
	assert.Zero(t, kt.RoomFor(0))
	assert.Zero(t, kt.RoomFor(3))
	assert.True(t, kt.IsEmpty())
}

func TestKeyTableSetCapacityRefusesToDropKeys(t *testing.T) {
	kt := NewKeyTable(3)
	for _, id := range []uint32{1, 2, 3, 4} {
		_, ok := kt.Add(id)
		require.True(t, ok)
	}
	assert.ErrorIs(t, kt.SetCapacity(2), ErrInvalidArgument)

	kt.Remove(4)
	assert.Equal(t, uint32(3), kt.HighestKey())
	assert.NoError(t, kt.SetCapacity(2))
}

func TestKeyTableSlotsAndSetSlot(t *testing.T) {
	kt := NewKeyTable(4)
	for _, id := range []uint32{7, 8, 9} {
		kt.Add(id)
	}
	kt.Remove(8)
	assert.Equal(t, []uint32{7, 0, 9}, kt.Slots())

	rebuilt := NewKeyTable(4)
	for i, id := range kt.Slots() {
		require.NoError(t, rebuilt.SetSlot(uint32(i+1), id))
	}
	assert.Equal(t, kt.Slots(), rebuilt.Slots())
	assert.Equal(t, uint32(3), rebuilt.KeyFor(9))
	assert.Equal(t, []uint32{7, 9}, rebuilt.Rooms())

	assert.ErrorIs(t, rebuilt.SetSlot(5, 7), ErrInvalidArgument, "duplicate room")
	assert.ErrorIs(t, rebuilt.SetSlot(16, 1), ErrInvalidArgument, "key beyond width")
	assert.ErrorIs(t, rebuilt.SetSlot(0, 1), ErrInvalidArgument, "key zero")
}
