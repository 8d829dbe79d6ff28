package world

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanerPass(t *testing.T) {
	w := newTestWorld(t)
	require.NoError(t, w.ChunkInUse(0, 0))
	require.NoError(t, w.ChunkInUse(1, 0))
	require.NoError(t, w.SetBlockToRoomID(0, 0, 0, 1))
	require.NoError(t, w.SetBlockToRoomID(1, 0, 0, 2))
	require.NoError(t, w.SetBlockToRoomID(1, 0, 0, 0))
	require.NoError(t, w.SetBlockToRoomID(16, 0, 0, 3))

	now := time.UnixMilli(1_700_000_000_000)
	cl := NewCleaner(CleanerConfig{MinAge: time.Minute}, slog.New(slog.DiscardHandler), func() []*World { return []*World{w} })
	cl.now = func() time.Time { return now }

	n, err := cl.Pass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	c, err := w.Chunk(0, 0)
	require.NoError(t, err)
	assert.False(t, c.ContainsRoomID(2), "unused room freed")
	assert.True(t, c.ContainsRoomID(1))
	assert.Equal(t, now, c.LastCleanUp())

	// Too soon for another cleanup.
	now = now.Add(30 * time.Second)
	n, err = cl.Pass(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	now = now.Add(time.Minute)
	n, err = cl.Pass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCleanerSkipsRetiredChunks(t *testing.T) {
	w := newTestWorld(t)
	require.NoError(t, w.ChunkInUse(0, 0))
	require.NoError(t, w.SetBlockToRoomID(0, 0, 0, 1))
	chunks := w.ResidentChunks()
	require.NoError(t, w.ChunkNotInUse(0, 0))

	// A pass that captured the chunk list before eviction.
	cl := NewCleaner(CleanerConfig{}, slog.New(slog.DiscardHandler), func() []*World { return nil })
	for _, c := range chunks {
		ok, err := c.CleanUp(cl.now())
		require.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestCleanerRateLimitHonorsContext(t *testing.T) {
	w := newTestWorld(t)
	for cx := 0; cx < 3; cx++ {
		require.NoError(t, w.ChunkInUse(cx, 0))
		require.NoError(t, w.SetBlockToRoomID(cx*16, 0, 0, 1))
	}

	cl := NewCleaner(CleanerConfig{PerSecond: 0.001}, slog.New(slog.DiscardHandler), func() []*World { return []*World{w} })
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	n, err := cl.Pass(ctx)
	assert.Error(t, err)
	assert.Equal(t, 1, n, "the burst allows one cleanup before the limiter blocks")
}

func TestCleanerRunStopsOnCancel(t *testing.T) {
	cl := NewCleaner(CleanerConfig{Interval: time.Millisecond}, slog.New(slog.DiscardHandler), func() []*World { return nil })
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cl.Run(ctx) }()

	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
