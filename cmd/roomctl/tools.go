package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/OCharnyshevich/roomguard/internal/server/index"
	"github.com/OCharnyshevich/roomguard/internal/server/storage"
	"github.com/OCharnyshevich/roomguard/internal/server/world"
	"github.com/OCharnyshevich/roomguard/pkg/world/region"
)

// inspectRegion decodes a region file and summarizes each chunk record.
func inspectRegion(path string) ([]world.ChunkStats, error) {
	rx, rz, ok := region.ParseFileName(path)
	if !ok {
		return nil, fmt.Errorf("%s: not a region file name", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []world.ChunkStats
	err = region.Decode(f, func(i int, r io.Reader) error {
		cx, cz := region.ChunkAt(rx, rz, i)
		c := world.NewChunk(cx, cz)
		if _, err := c.ReadFrom(r); err != nil {
			return fmt.Errorf("chunk (%d,%d): %w", cx, cz, err)
		}
		out = append(out, c.Stats())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return out, nil
}

func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	_ = fs.Parse(args)
	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: roomctl inspect <r.X.Z.nxr>...")
		os.Exit(2)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	failed := false
	for _, path := range fs.Args() {
		stats, err := inspectRegion(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, "inspect:", err)
			failed = true
			continue
		}
		_ = enc.Encode(map[string]any{"file": path, "chunks": stats})
	}
	if failed {
		os.Exit(1)
	}
}

// worldFlags registers the flags shared by the archive commands.
func worldFlags(fs *flag.FlagSet) (dataDir, worldName, indexPath *string) {
	dataDir = fs.String("data", "./data", "data directory")
	worldName = fs.String("world", "", "world name (required)")
	indexPath = fs.String("index", "", "room index to invalidate for the world (optional)")
	return
}

func openStore(dataDir, worldName string) (*storage.Storage, *slog.Logger) {
	log := newLogger(slog.LevelInfo)
	if strings.TrimSpace(worldName) == "" {
		fmt.Fprintln(os.Stderr, "missing -world")
		os.Exit(2)
	}
	store, err := storage.New(dataDir, log)
	if err != nil {
		log.Error("open data dir", "error", err)
		os.Exit(1)
	}
	return store, log
}

// forgetIndexed drops stale index rows after a world's files were replaced.
// They are rebuilt as regions are saved again.
func forgetIndexed(ctx context.Context, log *slog.Logger, path, worldName string) {
	if path == "" {
		return
	}
	idx, err := index.Open(path)
	if err != nil {
		log.Error("open room index", "error", err)
		os.Exit(1)
	}
	defer idx.Close()
	if err := idx.ForgetWorld(ctx, worldName); err != nil {
		log.Error("invalidate room index", "error", err)
		os.Exit(1)
	}
}

func backupCmd(args []string) {
	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	dataDir, worldName, _ := worldFlags(fs)
	out := fs.String("o", "-", "output archive path (- for stdout)")
	_ = fs.Parse(args)

	store, log := openStore(*dataDir, *worldName)

	w := io.Writer(os.Stdout)
	if *out != "-" {
		f, err := os.Create(*out)
		if err != nil {
			log.Error("create archive", "error", err)
			os.Exit(1)
		}
		defer f.Close()
		w = f
	}
	if _, err := store.Backup(*worldName, w); err != nil {
		log.Error("backup", "world", *worldName, "error", err)
		os.Exit(1)
	}
}

func restoreCmd(args []string) {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	dataDir, worldName, indexPath := worldFlags(fs)
	in := fs.String("i", "-", "input archive path (- for stdin)")
	_ = fs.Parse(args)

	store, log := openStore(*dataDir, *worldName)

	r := io.Reader(os.Stdin)
	if *in != "-" {
		f, err := os.Open(*in)
		if err != nil {
			log.Error("open archive", "error", err)
			os.Exit(1)
		}
		defer f.Close()
		r = f
	}
	if _, err := store.Restore(*worldName, r); err != nil {
		log.Error("restore", "world", *worldName, "error", err)
		os.Exit(1)
	}
	forgetIndexed(context.Background(), log, *indexPath, *worldName)
}

func fetchCmd(args []string) {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	dataDir, worldName, indexPath := worldFlags(fs)
	src := fs.String("src", "", "go-getter source: path, URL, git::, s3:: (required)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*src) == "" {
		fmt.Fprintln(os.Stderr, "missing -src")
		os.Exit(2)
	}
	store, log := openStore(*dataDir, *worldName)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if _, err := store.Fetch(ctx, *worldName, *src); err != nil {
		log.Error("fetch", "world", *worldName, "error", err)
		os.Exit(1)
	}
	forgetIndexed(ctx, log, *indexPath, *worldName)
}
