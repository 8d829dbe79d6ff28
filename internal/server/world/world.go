package world

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"
)

// RoomIndex records which chunks hold which rooms so rooms can be found
// without loading every region.
type RoomIndex interface {
	RecordRegion(ctx context.Context, world string, rx, rz int, chunks []ChunkRooms) error
	ChunksForRoom(ctx context.Context, world string, roomID uint32) ([]ChunkPos, error)
}

// Option configures a World.
type Option func(*World)

// WithLogger sets the logger. The default discards output.
func WithLogger(log *slog.Logger) Option {
	return func(w *World) { w.log = log }
}

// WithIndex makes every region save refresh idx.
func WithIndex(idx RoomIndex) Option {
	return func(w *World) { w.index = idx }
}

// WithSaveConcurrency bounds how many regions SaveAllData writes at once.
func WithSaveConcurrency(n int) Option {
	return func(w *World) {
		if n > 0 {
			w.saveLimit = n
		}
	}
}

// World is the room store of one game world. The host tells it which chunks
// are loaded; it keeps the owning regions resident, saving and evicting a
// region once none of its chunks are in use.
type World struct {
	name      string
	dir       string
	log       *slog.Logger
	index     RoomIndex
	saveLimit int

	mu      sync.Mutex
	regions *RegionMap
}

// New returns the store for world name, persisting region files under dir.
// The directory is created if needed.
func New(name, dir string, opts ...Option) (*World, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create world directory %s: %w", dir, err)
	}
	w := &World{
		name:      name,
		dir:       dir,
		log:       slog.New(slog.DiscardHandler),
		saveLimit: 4,
		regions:   NewRegionMap(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.With("world", name)
	return w, nil
}

// Name returns the world name.
func (w *World) Name() string { return w.name }

// Dir returns the directory holding the world's region files.
func (w *World) Dir() string { return w.dir }

// ChunkInUse handles a chunk activation: the owning region is loaded from
// disk the first time and its use count is incremented.
func (w *World) ChunkInUse(cx, cz int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	pos := RegionOf(cx, cz)
	r, err := w.regions.GetOrLoad(pos, func(r *Region) error {
		if err := r.Load(w.dir); err != nil {
			return err
		}
		w.log.Debug("region loaded", "rx", pos.X, "rz", pos.Z, "chunks", len(r.Chunks()))
		return nil
	})
	if err != nil {
		return err
	}
	r.ChunkInUse()
	return nil
}

// ChunkNotInUse handles a chunk deactivation. When the owning region has no
// chunks left in use it is saved and evicted. If the save fails the region
// stays resident and live so a later SaveAllData can retry.
func (w *World) ChunkNotInUse(cx, cz int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	pos := RegionOf(cx, cz)
	r, ok := w.regions.Get(pos)
	if !ok {
		return nil
	}
	remaining, err := r.ChunkNotInUse()
	if err != nil {
		return err
	}
	if remaining > 0 {
		return nil
	}

	r.retire()
	if err := w.saveRegion(context.Background(), r); err != nil {
		r.unretire()
		return err
	}
	w.regions.Remove(pos)
	w.log.Debug("region unloaded", "rx", pos.X, "rz", pos.Z)
	return nil
}

func (w *World) saveRegion(ctx context.Context, r *Region) error {
	if err := r.Save(w.dir); err != nil {
		return err
	}
	if w.index != nil {
		pos := r.Pos()
		if err := w.index.RecordRegion(ctx, w.name, pos.X, pos.Z, r.RoomSummary()); err != nil {
			return fmt.Errorf("index region (%d,%d): %w", pos.X, pos.Z, err)
		}
	}
	return nil
}

// SaveAllData writes every resident region to disk. Regions stay resident.
func (w *World) SaveAllData() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(w.saveLimit)
	for _, pos := range w.regions.Positions() {
		r, _ := w.regions.Get(pos)
		g.Go(func() error { return w.saveRegion(ctx, r) })
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("save world %s: %w", w.name, err)
	}
	w.log.Info("world saved", "regions", w.regions.Len())
	return nil
}

// ResidentRegions returns the number of regions in memory.
func (w *World) ResidentRegions() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.regions.Len()
}

// RegionInUse returns the use count of the region containing chunk (cx, cz),
// and false if that region is not resident.
func (w *World) RegionInUse(cx, cz int) (int, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.regions.Get(RegionOf(cx, cz))
	if !ok {
		return 0, false
	}
	return r.InUse(), true
}

// ResidentChunks returns every chunk currently in memory.
func (w *World) ResidentChunks() []*Chunk {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []*Chunk
	for _, pos := range w.regions.Positions() {
		r, _ := w.regions.Get(pos)
		out = append(out, r.Chunks()...)
	}
	return out
}

// Chunk returns the chunk at (cx, cz). Its region must be resident.
func (w *World) Chunk(cx, cz int) (*Chunk, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.regions.Get(RegionOf(cx, cz))
	if !ok {
		return nil, fmt.Errorf("%w: chunk (%d,%d)", ErrChunkNotLoaded, cx, cz)
	}
	return r.Chunk(cx, cz)
}

func (w *World) chunkAtBlock(x, y, z int) (*Chunk, BlockPos, error) {
	c, err := w.Chunk(x>>4, z>>4)
	if err != nil {
		return nil, BlockPos{}, err
	}
	return c, BlockPos{X: x & 0xF, Y: y, Z: z & 0xF}, nil
}

// SetBlockToRoomID assigns roomID to the block at absolute (x, y, z).
func (w *World) SetBlockToRoomID(x, y, z int, roomID int64) error {
	c, local, err := w.chunkAtBlock(x, y, z)
	if err != nil {
		return err
	}
	return c.SetBlockToRoomID(local, roomID)
}

// RoomIDAtBlock returns the room of the block at absolute (x, y, z).
func (w *World) RoomIDAtBlock(x, y, z int) (uint32, error) {
	c, local, err := w.chunkAtBlock(x, y, z)
	if err != nil {
		return 0, err
	}
	return c.RoomIDAtBlock(local)
}

// BlocksForRoomID returns the absolute positions of roomID's blocks in chunk (cx, cz).
func (w *World) BlocksForRoomID(cx, cz int, roomID uint32) ([]BlockPos, error) {
	c, err := w.Chunk(cx, cz)
	if err != nil {
		return nil, err
	}
	var out []BlockPos
	for p := range c.BlocksForRoomID(roomID) {
		out = append(out, BlockPos{X: cx<<4 + p.X, Y: p.Y, Z: cz<<4 + p.Z})
	}
	return out, nil
}

// RemoveRoomID clears roomID from chunk (cx, cz).
func (w *World) RemoveRoomID(cx, cz int, roomID uint32) error {
	c, err := w.Chunk(cx, cz)
	if err != nil {
		return err
	}
	return c.RemoveRoomID(roomID)
}

// ContainsRoomID reports whether chunk (cx, cz) has a key for roomID.
func (w *World) ContainsRoomID(cx, cz int, roomID uint32) (bool, error) {
	c, err := w.Chunk(cx, cz)
	if err != nil {
		return false, err
	}
	return c.ContainsRoomID(roomID), nil
}

// ChunksWithRoom asks the room index which chunks held roomID at their last save.
func (w *World) ChunksWithRoom(ctx context.Context, roomID uint32) ([]ChunkPos, error) {
	if w.index == nil {
		return nil, ErrNoIndex
	}
	return w.index.ChunksForRoom(ctx, w.name, roomID)
}
