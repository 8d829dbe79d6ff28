package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/OCharnyshevich/roomguard/internal/server"
	"github.com/OCharnyshevich/roomguard/internal/server/config"
	"github.com/OCharnyshevich/roomguard/internal/server/console"
	"github.com/OCharnyshevich/roomguard/internal/server/index"
	"github.com/OCharnyshevich/roomguard/internal/server/storage"
	"github.com/OCharnyshevich/roomguard/internal/server/world"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "serve":
			serveCmd(os.Args[2:])
			return
		case "inspect":
			inspectCmd(os.Args[2:])
			return
		case "backup":
			backupCmd(os.Args[2:])
			return
		case "restore":
			restoreCmd(os.Args[2:])
			return
		case "fetch":
			fetchCmd(os.Args[2:])
			return
		}
	}
	fmt.Fprintln(os.Stderr, "usage: roomctl <serve|inspect|backup|restore|fetch> [flags]")
	os.Exit(2)
}

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func serveCmd(args []string) {
	cfg := config.DefaultConfig()

	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	cfgPath := fs.String("config", "", "config file (default <data>/roomguard.yaml if present)")
	fs.StringVar(&cfg.DataDir, "data", cfg.DataDir, "data directory")
	worlds := fs.String("worlds", "", "comma-separated worlds to open at startup")
	fs.DurationVar(&cfg.CleanupInterval, "cleanup-interval", cfg.CleanupInterval, "time between cleanup passes (0 disables)")
	fs.Float64Var(&cfg.CleanupPerSecond, "cleanup-per-second", cfg.CleanupPerSecond, "max chunk cleanups per second (0 = unlimited)")
	fs.DurationVar(&cfg.CleanupMinAge, "cleanup-min-age", cfg.CleanupMinAge, "skip chunks cleaned more recently than this")
	fs.IntVar(&cfg.SaveConcurrency, "save-concurrency", cfg.SaveConcurrency, "regions saved in parallel")
	fs.StringVar(&cfg.IndexPath, "index", cfg.IndexPath, "room index sqlite path (empty disables)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	writeConfig := fs.Bool("write-config", false, "save the effective config to <data>/roomguard.yaml")
	useConsole := fs.Bool("console", true, "read commands from stdin, replies on stdout")
	_ = fs.Parse(args)

	explicit := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })
	if explicit["worlds"] {
		cfg.Worlds = splitList(*worlds)
	}

	var level slog.LevelVar
	log := newLogger(&level)

	fromFile := config.DefaultConfig()
	if *cfgPath != "" {
		var err error
		if fromFile, err = config.Load(*cfgPath); err != nil {
			log.Error("load config", "error", err)
			os.Exit(1)
		}
		log.Info("loaded config from file", "path", *cfgPath)
	}

	store, err := storage.New(cfg.DataDir, log)
	if err != nil {
		log.Error("open data dir", "error", err)
		os.Exit(1)
	}
	if *cfgPath == "" {
		if err := store.LoadConfig(fromFile); err != nil {
			log.Error("load config", "error", err)
			os.Exit(1)
		}
	}
	config.Merge(cfg, fromFile, explicit)
	if err := cfg.Validate(); err != nil {
		log.Error("invalid config", "error", err)
		os.Exit(2)
	}
	l, _ := config.ParseLevel(cfg.LogLevel)
	level.Set(l)

	if cfg.DataDir != store.Dir() {
		if store, err = storage.New(cfg.DataDir, log); err != nil {
			log.Error("open data dir", "error", err)
			os.Exit(1)
		}
	}
	if *writeConfig {
		if err := store.SaveConfig(cfg); err != nil {
			log.Error("save config", "error", err)
			os.Exit(1)
		}
	}

	var idx world.RoomIndex
	if cfg.IndexPath != "" {
		sqlIdx, err := index.Open(cfg.IndexPath)
		if err != nil {
			log.Error("open room index", "error", err)
			os.Exit(1)
		}
		defer sqlIdx.Close()
		idx = sqlIdx
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv := server.New(cfg, log, store, idx)
	if *useConsole {
		go runConsole(ctx, srv, os.Stdin, os.Stdout, log)
	}

	if err := srv.Start(ctx); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

// runConsole serves console commands until in is exhausted. Closing the input
// leaves the server running; it stops on SIGINT or SIGTERM.
func runConsole(ctx context.Context, srv *server.Server, in io.Reader, out io.Writer, log *slog.Logger) {
	if err := console.New(srv, out, log).Run(ctx, in); err != nil {
		log.Error("console", "error", err)
		return
	}
	log.Info("console input closed")
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
