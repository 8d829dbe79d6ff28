package world

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// CleanerConfig controls background chunk cleanup.
type CleanerConfig struct {
	// Interval between passes.
	Interval time.Duration
	// MinAge skips chunks cleaned more recently than this.
	MinAge time.Duration
	// PerSecond caps chunk cleanups per second; 0 means unlimited.
	PerSecond float64
}

// Cleaner periodically runs Chunk.CleanUp over the resident chunks of a set
// of worlds.
type Cleaner struct {
	cfg     CleanerConfig
	log     *slog.Logger
	worlds  func() []*World
	limiter *rate.Limiter
	now     func() time.Time
}

// NewCleaner returns a cleaner over the worlds reported by worlds.
func NewCleaner(cfg CleanerConfig, log *slog.Logger, worlds func() []*World) *Cleaner {
	limit := rate.Inf
	if cfg.PerSecond > 0 {
		limit = rate.Limit(cfg.PerSecond)
	}
	return &Cleaner{
		cfg:     cfg,
		log:     log,
		worlds:  worlds,
		limiter: rate.NewLimiter(limit, 1),
		now:     time.Now,
	}
}

// Run makes a pass every interval until ctx is done.
func (c *Cleaner) Run(ctx context.Context) error {
	if c.cfg.Interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := c.Pass(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.log.Error("cleanup pass", "error", err)
				continue
			}
			if n > 0 {
				c.log.Debug("cleanup pass done", "chunks", n)
			}
		}
	}
}

// Pass cleans every resident chunk that is due and returns how many it cleaned.
// Chunks retired by a final save are skipped.
func (c *Cleaner) Pass(ctx context.Context) (int, error) {
	cleaned := 0
	for _, w := range c.worlds() {
		for _, ch := range w.ResidentChunks() {
			now := c.now()
			if last := ch.LastCleanUp(); !last.IsZero() && now.Sub(last) < c.cfg.MinAge {
				continue
			}
			if err := c.limiter.Wait(ctx); err != nil {
				return cleaned, err
			}
			ok, err := ch.CleanUp(now)
			if err != nil {
				pos := ch.Pos()
				c.log.Error("clean chunk", "world", w.Name(), "cx", pos.X, "cz", pos.Z, "error", err)
				continue
			}
			if ok {
				cleaned++
			}
		}
	}
	return cleaned, nil
}
