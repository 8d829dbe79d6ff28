package world

import (
	"fmt"
	"sort"
)

// KeyTable maps the small per-block keys of one chunk to room IDs and back.
// Key 0 is reserved for "no room" and never occupies a slot.
type KeyTable struct {
	slots    []uint32          // slots[k] is the room for key k; slots[0] is unused
	keys     map[uint32]uint32 // room ID -> key
	capacity uint64            // 2^width - 1
}

// NewKeyTable returns an empty table sized for keys of width bits.
func NewKeyTable(width int) *KeyTable {
	return &KeyTable{
		slots:    make([]uint32, 1),
		keys:     make(map[uint32]uint32),
		capacity: capacityFor(width),
	}
}

func capacityFor(width int) uint64 {
	return uint64(1)<<width - 1
}

// Add stores roomID in the lowest free slot and returns its key. ok is false
// when every slot allowed by the current width is occupied; the caller widens
// and retries.
func (t *KeyTable) Add(roomID uint32) (key uint32, ok bool) {
	if roomID == 0 {
		return 0, false
	}
	if k, exists := t.keys[roomID]; exists {
		return k, true
	}
	for k := 1; k < len(t.slots); k++ {
		if t.slots[k] == 0 {
			t.slots[k] = roomID
			t.keys[roomID] = uint32(k)
			return uint32(k), true
		}
	}
	if uint64(len(t.slots)-1) >= t.capacity {
		return 0, false
	}
	key = uint32(len(t.slots))
	t.slots = append(t.slots, roomID)
	t.keys[roomID] = key
	return key, true
}

// KeyFor returns the key of roomID, or 0 when absent.
func (t *KeyTable) KeyFor(roomID uint32) uint32 {
	return t.keys[roomID]
}

// RoomFor returns the room stored under key, or 0 for key 0 or an unused key.
func (t *KeyTable) RoomFor(key uint32) uint32 {
	if key == 0 || uint64(key) >= uint64(len(t.slots)) {
		return 0
	}
	return t.slots[key]
}

// Remove frees the slot of roomID so a later Add can reuse it.
func (t *KeyTable) Remove(roomID uint32) {
	k, ok := t.keys[roomID]
	if !ok {
		return
	}
	delete(t.keys, roomID)
	t.slots[k] = 0
	t.trim()
}

// trim drops empty slots at the tail.
func (t *KeyTable) trim() {
	n := len(t.slots)
	for n > 1 && t.slots[n-1] == 0 {
		n--
	}
	t.slots = t.slots[:n]
}

// Contains reports whether roomID has a slot.
func (t *KeyTable) Contains(roomID uint32) bool {
	_, ok := t.keys[roomID]
	return ok
}

// Len returns the number of occupied slots.
func (t *KeyTable) Len() int { return len(t.keys) }

// IsEmpty reports whether no slot is occupied.
func (t *KeyTable) IsEmpty() bool { return len(t.keys) == 0 }

// IsFull reports whether every slot allowed by the current width is occupied.
func (t *KeyTable) IsFull() bool { return uint64(len(t.keys)) >= t.capacity }

// HighestKey returns the largest occupied key, or 0 when empty.
func (t *KeyTable) HighestKey() uint32 { return uint32(len(t.slots) - 1) }

// SetCapacity changes the width bound. It refuses to drop below the highest
// occupied key.
func (t *KeyTable) SetCapacity(width int) error {
	c := capacityFor(width)
	if uint64(t.HighestKey()) > c {
		return fmt.Errorf("%w: key %d does not fit in %d bits", ErrInvalidArgument, t.HighestKey(), width)
	}
	t.capacity = c
	return nil
}

// Slots returns the room of every slot from key 1 up to the highest occupied
// key; empty slots are 0.
func (t *KeyTable) Slots() []uint32 {
	out := make([]uint32, len(t.slots)-1)
	copy(out, t.slots[1:])
	return out
}

// SetSlot puts roomID under key. Used when rebuilding a table from disk.
func (t *KeyTable) SetSlot(key, roomID uint32) error {
	if key == 0 || uint64(key) > t.capacity {
		return fmt.Errorf("%w: key %d outside 1..%d", ErrInvalidArgument, key, t.capacity)
	}
	if roomID == 0 {
		return nil
	}
	if k, ok := t.keys[roomID]; ok && k != key {
		return fmt.Errorf("%w: room %d already under key %d", ErrInvalidArgument, roomID, k)
	}
	for uint64(len(t.slots)) <= uint64(key) {
		t.slots = append(t.slots, 0)
	}
	if old := t.slots[key]; old != 0 {
		delete(t.keys, old)
	}
	t.slots[key] = roomID
	t.keys[roomID] = key
	return nil
}

// Rooms returns the stored room IDs in ascending order.
func (t *KeyTable) Rooms() []uint32 {
	out := make([]uint32, 0, len(t.keys))
	for id := range t.keys {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
