// Package region frames per-chunk records into one file per 32x32 chunk region.
//
// Layout, big-endian:
//
//	magic    [4]byte "NXRR"
//	version  uint8
//	count    uint16
//	count records, ascending by index:
//	  index  uint16  (cx&31) + (cz&31)*32
//	  body   chunk record, written and read by the caller
//
// The package does not interpret chunk bodies; callers must consume exactly the
// bytes they wrote.
package region

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

const (
	// Shift converts a chunk coordinate to a region coordinate.
	Shift = 5
	// Width is the number of chunks along each side of a region.
	Width = 1 << Shift
	// ChunkCount is the number of chunk slots in a region.
	ChunkCount = Width * Width

	magic   = "NXRR"
	version = 1
)

// ErrCorrupt is wrapped by every error caused by malformed region data.
var ErrCorrupt = errors.New("region: corrupt data")

// ChunkIndex returns the slot of chunk (cx, cz) inside its region.
func ChunkIndex(cx, cz int) int {
	return (cx & (Width - 1)) + (cz&(Width-1))*Width
}

// ChunkAt returns the absolute chunk coordinates of slot index in region (rx, rz).
func ChunkAt(rx, rz, index int) (cx, cz int) {
	return rx<<Shift + index%Width, rz<<Shift + index/Width
}

// FileName returns the file name for region (rx, rz).
func FileName(rx, rz int) string {
	return fmt.Sprintf("r.%d.%d.nxr", rx, rz)
}

// ParseFileName extracts region coordinates from a region file name.
func ParseFileName(name string) (rx, rz int, ok bool) {
	var tail string
	n, _ := fmt.Sscanf(filepath.Base(name), "r.%d.%d.%s", &rx, &rz, &tail)
	if n != 3 || tail != "nxr" {
		return 0, 0, false
	}
	return rx, rz, true
}

// Path returns the region file path inside dir.
func Path(dir string, rx, rz int) string {
	return filepath.Join(dir, FileName(rx, rz))
}

// Save writes the given chunk records to the region file in dir, replacing any
// previous file atomically. chunks maps slot index to the record body. An
// empty map removes the file.
func Save(dir string, rx, rz int, chunks map[int]io.WriterTo) error {
	path := Path(dir, rx, rz)
	if len(chunks) == 0 {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove empty region file: %w", err)
		}
		return nil
	}
	if len(chunks) > ChunkCount {
		return fmt.Errorf("region (%d,%d) has %d chunks, max %d", rx, rz, len(chunks), ChunkCount)
	}

	indexes := make([]int, 0, len(chunks))
	for idx := range chunks {
		if idx < 0 || idx >= ChunkCount {
			return fmt.Errorf("chunk index %d out of range", idx)
		}
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create region dir: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp region file: %w", err)
	}
	defer func() {
		f.Close()
		os.Remove(tmp)
	}()

	bw := bufio.NewWriterSize(f, 64*1024)

	var header [7]byte
	copy(header[:4], magic)
	header[4] = version
	binary.BigEndian.PutUint16(header[5:7], uint16(len(indexes)))
	if _, err := bw.Write(header[:]); err != nil {
		return fmt.Errorf("write region header: %w", err)
	}

	for _, idx := range indexes {
		var ib [2]byte
		binary.BigEndian.PutUint16(ib[:], uint16(idx))
		if _, err := bw.Write(ib[:]); err != nil {
			return fmt.Errorf("write chunk index: %w", err)
		}
		if _, err := chunks[idx].WriteTo(bw); err != nil {
			cx, cz := ChunkAt(rx, rz, idx)
			return fmt.Errorf("write chunk (%d,%d): %w", cx, cz, err)
		}
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush region file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync region file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close region file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename region file: %w", err)
	}
	return nil
}

// Load reads the region file in dir and calls fn once per chunk record, in file
// order. fn must consume the whole record body from r. A missing file is not an
// error: Load returns found=false and never calls fn.
func Load(dir string, rx, rz int, fn func(index int, r io.Reader) error) (found bool, err error) {
	f, err := os.Open(Path(dir, rx, rz))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("open region file: %w", err)
	}
	defer f.Close()

	return true, Decode(bufio.NewReaderSize(f, 64*1024), fn)
}

// Decode reads a complete region stream from r. See Load.
func Decode(r io.Reader, fn func(index int, r io.Reader) error) error {
	var header [7]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return fmt.Errorf("%w: read header: %w", ErrCorrupt, err)
	}
	if string(header[:4]) != magic {
		return fmt.Errorf("%w: bad magic %q", ErrCorrupt, header[:4])
	}
	if header[4] != version {
		return fmt.Errorf("%w: unsupported version %d", ErrCorrupt, header[4])
	}
	count := int(binary.BigEndian.Uint16(header[5:7]))
	if count > ChunkCount {
		return fmt.Errorf("%w: %d chunk records, max %d", ErrCorrupt, count, ChunkCount)
	}

	var seen [ChunkCount]bool
	for i := 0; i < count; i++ {
		var ib [2]byte
		if _, err := io.ReadFull(r, ib[:]); err != nil {
			return fmt.Errorf("%w: read chunk index: %w", ErrCorrupt, err)
		}
		idx := int(binary.BigEndian.Uint16(ib[:]))
		if idx >= ChunkCount {
			return fmt.Errorf("%w: chunk index %d out of range", ErrCorrupt, idx)
		}
		if seen[idx] {
			return fmt.Errorf("%w: duplicate chunk index %d", ErrCorrupt, idx)
		}
		seen[idx] = true
		if err := fn(idx, r); err != nil {
			return err
		}
	}

	var probe [1]byte
	if n, _ := r.Read(probe[:]); n != 0 {
		return fmt.Errorf("%w: trailing data after %d records", ErrCorrupt, count)
	}
	return nil
}
