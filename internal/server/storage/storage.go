package storage

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	getter "github.com/hashicorp/go-getter"
	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"

	"github.com/OCharnyshevich/roomguard/internal/server/config"
	"github.com/OCharnyshevich/roomguard/pkg/world/region"
)

// ErrInvalidName reports a world name that cannot be used as a directory.
var ErrInvalidName = errors.New("storage: invalid world name")

var worldName = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]{0,63}$`)

const configFile = "roomguard.yaml"

// Storage lays out the data directory: the config file at the root and one
// directory of region files per world under worlds/.
type Storage struct {
	dir string
	log *slog.Logger
}

// New creates a new Storage rooted at dir, creating subdirectories as needed.
func New(dir string, log *slog.Logger) (*Storage, error) {
	dirs := []string{
		dir,
		filepath.Join(dir, "worlds"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", d, err)
		}
	}
	return &Storage{dir: dir, log: log}, nil
}

// Dir returns the data directory.
func (s *Storage) Dir() string { return s.dir }

// WorldDir returns the region directory of world name.
func (s *Storage) WorldDir(name string) (string, error) {
	if !worldName.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(s.dir, "worlds", name), nil
}

// Worlds lists the worlds that have a directory on disk.
func (s *Storage) Worlds() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, "worlds"))
	if err != nil {
		return nil, fmt.Errorf("list worlds: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && worldName.MatchString(e.Name()) {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

// LoadConfig reads roomguard.yaml into cfg. If the file does not exist, cfg is unchanged.
func (s *Storage) LoadConfig(cfg *config.Config) error {
	path := filepath.Join(s.dir, configFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	s.log.Info("loaded config from file", "path", path)
	return nil
}

// SaveConfig writes cfg to roomguard.yaml atomically.
func (s *Storage) SaveConfig(cfg *config.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return atomicWrite(filepath.Join(s.dir, configFile), data)
}

// regionFiles returns the region file names in dir, sorted.
func regionFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if _, _, ok := region.ParseFileName(e.Name()); ok && e.Type().IsRegular() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// Backup writes the region files of world name to w as a zstd-compressed tar
// stream and returns how many files it archived. The world should be saved
// first; files are read as they are on disk.
func (s *Storage) Backup(name string, w io.Writer) (int, error) {
	dir, err := s.WorldDir(name)
	if err != nil {
		return 0, err
	}
	files, err := regionFiles(dir)
	if err != nil {
		return 0, fmt.Errorf("list region files: %w", err)
	}

	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return 0, fmt.Errorf("create zstd writer: %w", err)
	}
	tw := tar.NewWriter(enc)
	for _, f := range files {
		if err := addFile(tw, filepath.Join(dir, f), f); err != nil {
			enc.Close()
			return 0, fmt.Errorf("archive %s: %w", f, err)
		}
	}
	if err := tw.Close(); err != nil {
		enc.Close()
		return 0, fmt.Errorf("close tar: %w", err)
	}
	if err := enc.Close(); err != nil {
		return 0, fmt.Errorf("close zstd: %w", err)
	}
	s.log.Info("world backed up", "world", name, "files", len(files))
	return len(files), nil
}

func addFile(tw *tar.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Mode:     0o644,
		Size:     fi.Size(),
		ModTime:  fi.ModTime(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

// Restore replaces region files of world name with those in a stream written
// by Backup and returns how many it restored. Entries that are not plain
// region files are rejected before anything in the world directory changes.
// The world must not be open while it is restored.
func (s *Storage) Restore(name string, r io.Reader) (int, error) {
	dir, err := s.WorldDir(name)
	if err != nil {
		return 0, err
	}
	staging, err := os.MkdirTemp(s.dir, ".restore-*")
	if err != nil {
		return 0, fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	dec, err := zstd.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("create zstd reader: %w", err)
	}
	defer dec.Close()

	tr := tar.NewReader(dec)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("read backup: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg || filepath.Base(hdr.Name) != hdr.Name {
			return 0, fmt.Errorf("backup entry %q is not a region file", hdr.Name)
		}
		if _, _, ok := region.ParseFileName(hdr.Name); !ok {
			return 0, fmt.Errorf("backup entry %q is not a region file", hdr.Name)
		}
		if err := writeFile(filepath.Join(staging, hdr.Name), tr); err != nil {
			return 0, fmt.Errorf("extract %s: %w", hdr.Name, err)
		}
	}

	n, err := s.install(staging, dir)
	if err != nil {
		return n, err
	}
	s.log.Info("world restored", "world", name, "files", n)
	return n, nil
}

// Fetch downloads region files for world name from src into the world
// directory. src is any go-getter source: a local path, an HTTP(S) URL, a
// git repository or an S3/GCS bucket. Archives are unpacked. Region files
// are picked up from anywhere in the downloaded tree; everything else is
// ignored.
func (s *Storage) Fetch(ctx context.Context, name, src string) (int, error) {
	dir, err := s.WorldDir(name)
	if err != nil {
		return 0, err
	}
	staging, err := os.MkdirTemp(s.dir, ".fetch-*")
	if err != nil {
		return 0, fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	pwd, err := os.Getwd()
	if err != nil {
		return 0, fmt.Errorf("get working dir: %w", err)
	}

	getters := maps.Clone(getter.Getters)
	getters["file"] = &getter.FileGetter{Copy: true}

	dst := filepath.Join(staging, "src")
	client := &getter.Client{
		Ctx:     ctx,
		Src:     src,
		Dst:     dst,
		Pwd:     pwd,
		Mode:    getter.ClientModeAny,
		Getters: getters,
	}
	s.log.Info("start fetching world", "world", name, "src", src)
	if err := client.Get(); err != nil {
		return 0, fmt.Errorf("fetch %s: %w", src, err)
	}

	flat := filepath.Join(staging, "regions")
	if err := os.Mkdir(flat, 0o755); err != nil {
		return 0, fmt.Errorf("create staging dir: %w", err)
	}
	err = filepath.WalkDir(dst, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if _, _, ok := region.ParseFileName(d.Name()); !ok {
			return nil
		}
		return os.Rename(path, filepath.Join(flat, d.Name()))
	})
	if err != nil {
		return 0, fmt.Errorf("collect region files: %w", err)
	}

	n, err := s.install(flat, dir)
	if err != nil {
		return n, err
	}
	if n == 0 {
		return 0, fmt.Errorf("fetch %s: no region files found", src)
	}
	s.log.Info("done fetching world", "world", name, "files", n)
	return n, nil
}

// install moves every region file in staging into dir.
func (s *Storage) install(staging, dir string) (int, error) {
	files, err := regionFiles(staging)
	if err != nil {
		return 0, fmt.Errorf("list staged files: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create world dir: %w", err)
	}
	for i, f := range files {
		if err := os.Rename(filepath.Join(staging, f), filepath.Join(dir, f)); err != nil {
			return i, fmt.Errorf("install %s: %w", f, err)
		}
	}
	return len(files), nil
}

func writeFile(path string, r io.Reader) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// atomicWrite writes data to path using a temp file + rename.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
