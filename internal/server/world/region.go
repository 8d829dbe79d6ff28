package world

import (
	"fmt"
	"io"
	"sort"

	"github.com/OCharnyshevich/roomguard/pkg/world/region"
)

// ChunkPos identifies a chunk column.
type ChunkPos struct {
	X, Z int
}

// RegionPos identifies a 32x32 chunk region.
type RegionPos struct {
	X, Z int
}

// RegionOf returns the region that contains chunk (cx, cz).
func RegionOf(cx, cz int) RegionPos {
	return RegionPos{X: cx >> region.Shift, Z: cz >> region.Shift}
}

// Region holds the resident chunks of one region file and counts how many of
// its chunks the host currently has loaded.
type Region struct {
	pos    RegionPos
	chunks [region.ChunkCount]*Chunk
	inUse  int
}

// NewRegion returns an empty region.
func NewRegion(pos RegionPos) *Region {
	return &Region{pos: pos}
}

// Pos returns the region coordinates.
func (r *Region) Pos() RegionPos { return r.pos }

// ChunkInUse records that one more chunk of this region is loaded.
func (r *Region) ChunkInUse() { r.inUse++ }

// ChunkNotInUse records that a chunk of this region was unloaded and returns
// how many remain in use. The counter never drops below zero.
func (r *Region) ChunkNotInUse() (int, error) {
	if r.inUse == 0 {
		return 0, fmt.Errorf("%w: region (%d,%d) has no chunks in use", ErrInvalidArgument, r.pos.X, r.pos.Z)
	}
	r.inUse--
	return r.inUse, nil
}

// InUse returns the number of chunks currently in use.
func (r *Region) InUse() int { return r.inUse }

func (r *Region) contains(cx, cz int) bool {
	return RegionOf(cx, cz) == r.pos
}

// Chunk returns the chunk at (cx, cz), creating a blank one if it is not
// resident yet.
func (r *Region) Chunk(cx, cz int) (*Chunk, error) {
	if !r.contains(cx, cz) {
		return nil, fmt.Errorf("%w: chunk (%d,%d) is outside region (%d,%d)", ErrInvalidArgument, cx, cz, r.pos.X, r.pos.Z)
	}
	idx := region.ChunkIndex(cx, cz)
	if r.chunks[idx] == nil {
		r.chunks[idx] = NewChunk(cx, cz)
	}
	return r.chunks[idx], nil
}

// Peek returns the chunk at (cx, cz) if it is resident.
func (r *Region) Peek(cx, cz int) *Chunk {
	if !r.contains(cx, cz) {
		return nil
	}
	return r.chunks[region.ChunkIndex(cx, cz)]
}

// Chunks returns the resident chunks in slot order.
func (r *Region) Chunks() []*Chunk {
	var out []*Chunk
	for _, c := range r.chunks {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

// Load reads the region file from dir. A missing file leaves the region
// blank. Chunks are installed only after the whole file decoded, so a corrupt
// file never leaves a half-populated region behind.
func (r *Region) Load(dir string) error {
	var loaded [region.ChunkCount]*Chunk
	found, err := region.Load(dir, r.pos.X, r.pos.Z, func(index int, rd io.Reader) error {
		cx, cz := region.ChunkAt(r.pos.X, r.pos.Z, index)
		c := NewChunk(cx, cz)
		if _, err := c.ReadFrom(rd); err != nil {
			return fmt.Errorf("chunk (%d,%d): %w", cx, cz, err)
		}
		loaded[index] = c
		return nil
	})
	if err != nil {
		return fmt.Errorf("load region (%d,%d): %w", r.pos.X, r.pos.Z, err)
	}
	if found {
		r.chunks = loaded
	}
	return nil
}

// Save writes every non-empty resident chunk to the region file in dir.
func (r *Region) Save(dir string) error {
	chunks := make(map[int]io.WriterTo)
	for idx, c := range r.chunks {
		if c != nil && !c.IsEmpty() {
			chunks[idx] = c
		}
	}
	if err := region.Save(dir, r.pos.X, r.pos.Z, chunks); err != nil {
		return fmt.Errorf("save region (%d,%d): %w", r.pos.X, r.pos.Z, err)
	}
	return nil
}

// retire marks every resident chunk as receiving its final save.
func (r *Region) retire() {
	for _, c := range r.chunks {
		if c != nil {
			c.retire()
		}
	}
}

func (r *Region) unretire() {
	for _, c := range r.chunks {
		if c != nil {
			c.unretire()
		}
	}
}

// ChunkRooms lists the rooms present in one chunk.
type ChunkRooms struct {
	Chunk ChunkPos
	Rooms []uint32
}

// RoomSummary lists the rooms of every non-empty resident chunk. A room stays
// listed until its chunk's next cleanup even if its last block was cleared.
func (r *Region) RoomSummary() []ChunkRooms {
	var out []ChunkRooms
	for _, c := range r.chunks {
		if c == nil || c.IsEmpty() {
			continue
		}
		out = append(out, ChunkRooms{Chunk: c.Pos(), Rooms: c.RoomIDs()})
	}
	return out
}

// RegionMap holds the resident regions of one world, at most one per
// coordinate. It is not safe for concurrent use; World guards it.
type RegionMap struct {
	regions map[RegionPos]*Region
}

// NewRegionMap returns an empty map.
func NewRegionMap() *RegionMap {
	return &RegionMap{regions: make(map[RegionPos]*Region)}
}

// Get returns the resident region at pos.
func (m *RegionMap) Get(pos RegionPos) (*Region, bool) {
	r, ok := m.regions[pos]
	return r, ok
}

// Contains reports whether a region is resident at pos.
func (m *RegionMap) Contains(pos RegionPos) bool {
	_, ok := m.regions[pos]
	return ok
}

// GetOrLoad returns the resident region at pos, creating it and running load
// on it first if absent. A region whose load fails is not kept.
func (m *RegionMap) GetOrLoad(pos RegionPos, load func(*Region) error) (*Region, error) {
	if r, ok := m.regions[pos]; ok {
		return r, nil
	}
	r := NewRegion(pos)
	if load != nil {
		if err := load(r); err != nil {
			return nil, err
		}
	}
	m.regions[pos] = r
	return r, nil
}

// Remove drops the region at pos.
func (m *RegionMap) Remove(pos RegionPos) {
	delete(m.regions, pos)
}

// Len returns the number of resident regions.
func (m *RegionMap) Len() int { return len(m.regions) }

// Positions returns the resident region coordinates sorted by X, then Z.
func (m *RegionMap) Positions() []RegionPos {
	out := make([]RegionPos, 0, len(m.regions))
	for pos := range m.regions {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].X != out[j].X {
			return out[i].X < out[j].X
		}
		return out[i].Z < out[j].Z
	})
	return out
}
