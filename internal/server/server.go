package server

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/OCharnyshevich/roomguard/internal/server/config"
	"github.com/OCharnyshevich/roomguard/internal/server/storage"
	"github.com/OCharnyshevich/roomguard/internal/server/world"
)

// Server hosts the room stores of every world. The host game tells it which
// chunks are loaded and unloaded; it keeps their regions resident, runs
// background cleanup and saves everything on shutdown.
type Server struct {
	cfg   *config.Config
	log   *slog.Logger
	store *storage.Storage
	index world.RoomIndex

	mu     sync.Mutex
	worlds map[string]*world.World
}

// New creates a new Server. idx may be nil to run without a room index.
func New(cfg *config.Config, log *slog.Logger, store *storage.Storage, idx world.RoomIndex) *Server {
	return &Server{
		cfg:    cfg,
		log:    log,
		store:  store,
		index:  idx,
		worlds: make(map[string]*world.World),
	}
}

// World returns the store for the named world, opening it on first use.
func (s *Server) World(name string) (*world.World, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w, ok := s.worlds[name]; ok {
		return w, nil
	}
	dir, err := s.store.WorldDir(name)
	if err != nil {
		return nil, err
	}
	opts := []world.Option{
		world.WithLogger(s.log),
		world.WithSaveConcurrency(s.cfg.SaveConcurrency),
	}
	if s.index != nil {
		opts = append(opts, world.WithIndex(s.index))
	}
	w, err := world.New(name, dir, opts...)
	if err != nil {
		return nil, err
	}
	s.worlds[name] = w
	s.log.Info("world opened", "world", name, "dir", dir)
	return w, nil
}

// Worlds returns the open worlds sorted by name.
func (s *Server) Worlds() []*world.World {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*world.World, 0, len(s.worlds))
	for _, w := range s.worlds {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// ChunkLoaded handles the host's chunk load event.
func (s *Server) ChunkLoaded(worldName string, cx, cz int) error {
	w, err := s.World(worldName)
	if err != nil {
		return err
	}
	return w.ChunkInUse(cx, cz)
}

// ChunkUnloaded handles the host's chunk unload event.
func (s *Server) ChunkUnloaded(worldName string, cx, cz int) error {
	w, err := s.World(worldName)
	if err != nil {
		return err
	}
	return w.ChunkNotInUse(cx, cz)
}

// SaveAll saves every open world, keeping their regions resident.
func (s *Server) SaveAll() error {
	var g errgroup.Group
	g.SetLimit(s.cfg.SaveConcurrency)
	for _, w := range s.Worlds() {
		g.Go(w.SaveAllData)
	}
	return g.Wait()
}

// Start opens the configured worlds and those already on disk, runs the
// cleaner until ctx is cancelled, then saves everything.
func (s *Server) Start(ctx context.Context) error {
	onDisk, err := s.store.Worlds()
	if err != nil {
		return err
	}
	for _, name := range slices.Concat(s.cfg.Worlds, onDisk) {
		if _, err := s.World(name); err != nil {
			return fmt.Errorf("open world %s: %w", name, err)
		}
	}

	s.log.Info("room store started",
		"data", s.store.Dir(),
		"worlds", len(s.Worlds()),
		"cleanupInterval", s.cfg.CleanupInterval,
		"index", s.index != nil,
	)

	cleaner := world.NewCleaner(world.CleanerConfig{
		Interval:  s.cfg.CleanupInterval,
		MinAge:    s.cfg.CleanupMinAge,
		PerSecond: s.cfg.CleanupPerSecond,
	}, s.log, s.Worlds)
	if err := cleaner.Run(ctx); err != nil {
		s.log.Error("cleaner", "error", err)
	}

	s.log.Info("room store shutting down")
	if err := s.SaveAll(); err != nil {
		return fmt.Errorf("final save: %w", err)
	}
	return nil
}
