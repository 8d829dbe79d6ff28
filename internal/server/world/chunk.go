package world

import (
	"fmt"
	"iter"
	"math"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/OCharnyshevich/roomguard/pkg/bitarray"
)

const (
	// SectionCount is the number of 16-block-tall sections in a chunk column.
	SectionCount = 16
	// SectionVolume is the number of blocks in one section.
	SectionVolume = 16 * 16 * 16
	// ChunkHeight is the number of block layers in a chunk column.
	ChunkHeight = SectionCount * 16
	// ChunkVolume is the number of blocks in a chunk column.
	ChunkVolume = SectionCount * SectionVolume

	initialKeyWidth = 1
)

// BlockPos is a block position. Chunk methods take chunk-relative positions
// (x and z in 0..15); World methods take absolute ones.
type BlockPos struct {
	X, Y, Z int
}

// blockIndex returns the linear index of a chunk-relative position. Sections
// are contiguous runs of 4096 blocks, x varies fastest, then z, then y.
func blockIndex(pos BlockPos) int {
	return pos.Y<<8 | pos.Z<<4 | pos.X
}

func blockAt(index int) BlockPos {
	return BlockPos{X: index & 0xF, Y: index >> 8, Z: (index >> 4) & 0xF}
}

func checkLocal(pos BlockPos) error {
	if pos.X < 0 || pos.X > 15 || pos.Z < 0 || pos.Z > 15 || pos.Y < 0 || pos.Y >= ChunkHeight {
		return fmt.Errorf("%w: block (%d,%d,%d) outside chunk", ErrInvalidArgument, pos.X, pos.Y, pos.Z)
	}
	return nil
}

func checkRoomID(roomID int64) (uint32, error) {
	if roomID < 0 || roomID > math.MaxUint32 {
		return 0, fmt.Errorf("%w: room ID %d must be 0 (none) or a positive 32-bit value", ErrInvalidArgument, roomID)
	}
	return uint32(roomID), nil
}

// Chunk stores the room ID of every block in one chunk column. Each block
// holds a small key in a bit-packed array; the chunk's KeyTable turns keys
// into room IDs. The key width grows by one bit whenever the table runs out
// of slots.
//
// All methods lock the chunk, so background cleanup never overlaps a
// mutation of the same chunk.
type Chunk struct {
	mu sync.Mutex

	x, z int
	data *bitarray.Dynamic
	keys *KeyTable

	// nonzero[s] counts blocks in section s with a key other than 0.
	nonzero     [SectionCount]int
	lastCleanUp int64 // unix millis
	retired     bool
}

// NewChunk returns a blank chunk at chunk coordinates (x, z).
func NewChunk(x, z int) *Chunk {
	data, err := bitarray.NewDynamic(initialKeyWidth, ChunkVolume)
	if err != nil {
		panic(err) // constant shape
	}
	return &Chunk{
		x:    x,
		z:    z,
		data: data,
		keys: NewKeyTable(initialKeyWidth),
	}
}

// Pos returns the chunk coordinates.
func (c *Chunk) Pos() ChunkPos { return ChunkPos{X: c.x, Z: c.z} }

// KeyWidth returns the current number of bits per block.
func (c *Chunk) KeyWidth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data.Width()
}

// LastCleanUp returns when CleanUp last ran, or the zero time.
func (c *Chunk) LastCleanUp() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastCleanUp == 0 {
		return time.Time{}
	}
	return time.UnixMilli(c.lastCleanUp)
}

// SetBlockToRoomID assigns roomID to the block at chunk-relative pos; 0 clears
// it. A room new to this chunk gets a key, widening the key array when the
// table is full.
func (c *Chunk) SetBlockToRoomID(pos BlockPos, roomID int64) error {
	if err := checkLocal(pos); err != nil {
		return err
	}
	id, err := checkRoomID(roomID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var key uint32
	if id != 0 {
		if key, err = c.keyForLocked(id); err != nil {
			return err
		}
	}
	return c.setKeyLocked(blockIndex(pos), key)
}

// keyForLocked returns the key of id, allocating one if needed.
func (c *Chunk) keyForLocked(id uint32) (uint32, error) {
	if key := c.keys.KeyFor(id); key != 0 {
		return key, nil
	}
	for {
		if key, ok := c.keys.Add(id); ok {
			return key, nil
		}
		w := c.data.Width()
		if w >= bitarray.MaxWidth {
			return 0, fmt.Errorf("%w: chunk (%d,%d) at %d bits", ErrKeySpaceExhausted, c.x, c.z, w)
		}
		if err := c.resizeLocked(w + 1); err != nil {
			return 0, err
		}
	}
}

// resizeLocked re-encodes the key array at width bits and moves the table's
// capacity with it.
func (c *Chunk) resizeLocked(width int) error {
	if err := c.keys.SetCapacity(width); err != nil {
		return err
	}
	if err := c.data.ConvertTo(width); err != nil {
		return fmt.Errorf("convert key array to %d bits: %w", width, err)
	}
	return nil
}

func (c *Chunk) setKeyLocked(index int, key uint32) error {
	old, err := c.data.Get(index)
	if err != nil {
		return err
	}
	if old == key {
		return nil
	}
	if err := c.data.Set(index, key); err != nil {
		return err
	}
	sec := index / SectionVolume
	switch {
	case old == 0:
		c.nonzero[sec]++
	case key == 0:
		c.nonzero[sec]--
	}
	return nil
}

// RoomIDAtBlock returns the room of the block at chunk-relative pos, or 0.
func (c *Chunk) RoomIDAtBlock(pos BlockPos) (uint32, error) {
	if err := checkLocal(pos); err != nil {
		return 0, err
	}
	return c.RoomIDAtIndex(blockIndex(pos))
}

// RoomIDAtIndex returns the room of the block at a linear index, or 0.
func (c *Chunk) RoomIDAtIndex(index int) (uint32, error) {
	if index < 0 || index >= ChunkVolume {
		return 0, fmt.Errorf("%w: block index %d", ErrInvalidArgument, index)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	key, err := c.data.Get(index)
	if err != nil {
		return 0, err
	}
	return c.keys.RoomFor(key), nil
}

// BlockSet returns the linear indices of every block assigned to roomID.
// Sections without protected blocks are skipped.
func (c *Chunk) BlockSet(roomID uint32) *roaring.Bitmap {
	set := roaring.New()
	if roomID == 0 {
		return set
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := c.keys.KeyFor(roomID)
	if key == 0 {
		return set
	}
	for s := 0; s < SectionCount; s++ {
		if c.nonzero[s] == 0 {
			continue
		}
		start := s * SectionVolume
		_ = c.data.Scan(start, start+SectionVolume, func(i int, v uint32) bool {
			if v == key {
				set.Add(uint32(i))
			}
			return true
		})
	}
	return set
}

// BlocksForRoomID yields the chunk-relative position of every block assigned
// to roomID. Each iteration rescans the chunk.
func (c *Chunk) BlocksForRoomID(roomID uint32) iter.Seq[BlockPos] {
	return func(yield func(BlockPos) bool) {
		it := c.BlockSet(roomID).Iterator()
		for it.HasNext() {
			if !yield(blockAt(int(it.Next()))) {
				return
			}
		}
	}
}

// RemoveRoomID clears every block assigned to roomID and frees its key.
func (c *Chunk) RemoveRoomID(roomID uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := c.keys.KeyFor(roomID)
	if key == 0 {
		return nil
	}
	if _, err := c.data.Replace(0, ChunkVolume, key, 0); err != nil {
		return err
	}
	c.keys.Remove(roomID)
	return c.recountLocked()
}

// recountLocked rebuilds the per-section counters with a full scan.
func (c *Chunk) recountLocked() error {
	c.nonzero = [SectionCount]int{}
	return c.data.Scan(0, ChunkVolume, func(i int, v uint32) bool {
		if v != 0 {
			c.nonzero[i/SectionVolume]++
		}
		return true
	})
}

// ContainsRoomID reports whether roomID has a key in this chunk.
func (c *Chunk) ContainsRoomID(roomID uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keys.Contains(roomID)
}

// RoomIDs returns the rooms with a key in this chunk, ascending.
func (c *Chunk) RoomIDs() []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keys.Rooms()
}

// IsSectionEmpty reports whether no block in section holds a room.
func (c *Chunk) IsSectionEmpty(section int) (bool, error) {
	if section < 0 || section >= SectionCount {
		return false, fmt.Errorf("%w: section %d must be between 0 and 15", ErrInvalidArgument, section)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonzero[section] == 0, nil
}

// IsEmpty reports whether the chunk carries no usable room data: either no
// keys are mapped or no block holds a key. Neither half means anything
// without the other.
func (c *Chunk) IsEmpty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keys.IsEmpty() || c.blocksEmptyLocked()
}

func (c *Chunk) blocksEmptyLocked() bool {
	for _, n := range c.nonzero {
		if n != 0 {
			return false
		}
	}
	return true
}

// IsFull reports whether the key table is full at the current width.
func (c *Chunk) IsFull() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keys.IsFull()
}

// CleanUp frees keys whose room no longer covers any block, shrinks the key
// width to the smallest that fits the remaining keys and records now as the
// cleanup time. It returns false without doing anything once the chunk has
// been retired by its final save.
func (c *Chunk) CleanUp(now time.Time) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.retired {
		return false, nil
	}

	used := roaring.New()
	for s := 0; s < SectionCount; s++ {
		if c.nonzero[s] == 0 {
			continue
		}
		start := s * SectionVolume
		if err := c.data.Scan(start, start+SectionVolume, func(_ int, v uint32) bool {
			if v != 0 {
				used.Add(v)
			}
			return true
		}); err != nil {
			return false, err
		}
	}
	for _, id := range c.keys.Rooms() {
		if !used.Contains(c.keys.KeyFor(id)) {
			c.keys.Remove(id)
		}
	}

	if w := widthFor(c.keys.HighestKey()); w < c.data.Width() {
		if err := c.data.ConvertTo(w); err != nil {
			return false, fmt.Errorf("convert key array to %d bits: %w", w, err)
		}
		if err := c.keys.SetCapacity(w); err != nil {
			return false, err
		}
	}

	c.lastCleanUp = now.UnixMilli()
	return true, nil
}

// widthFor returns the smallest key width (at least 1) that can hold key.
func widthFor(key uint32) int {
	w := initialKeyWidth
	for uint64(key) > capacityFor(w) {
		w++
	}
	return w
}

// retire marks the chunk as persisted for the last time. Cleanups that were
// waiting on the lock return without effect.
func (c *Chunk) retire() {
	c.mu.Lock()
	c.retired = true
	c.mu.Unlock()
}

// unretire undoes retire after a final save that did not reach the disk.
func (c *Chunk) unretire() {
	c.mu.Lock()
	c.retired = false
	c.mu.Unlock()
}

// ChunkStats summarizes a chunk for inspection.
type ChunkStats struct {
	X               int      `json:"x"`
	Z               int      `json:"z"`
	KeyWidth        int      `json:"key_width"`
	Slots           []uint32 `json:"slots"`
	ProtectedBlocks int      `json:"protected_blocks"`
	EmptySections   []int    `json:"empty_sections"`
	LastCleanUp     int64    `json:"last_cleanup_millis"`
}

// Stats returns a summary of the chunk.
func (c *Chunk) Stats() ChunkStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := ChunkStats{
		X:           c.x,
		Z:           c.z,
		KeyWidth:    c.data.Width(),
		Slots:       c.keys.Slots(),
		LastCleanUp: c.lastCleanUp,
	}
	for s, n := range c.nonzero {
		st.ProtectedBlocks += n
		if n == 0 {
			st.EmptySections = append(st.EmptySections, s)
		}
	}
	return st
}
