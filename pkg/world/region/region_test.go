package region

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// record is a length-prefixed test body.
type record []byte

func (r record) WriteTo(w io.Writer) (int64, error) {
	var lb [2]byte
	binary.BigEndian.PutUint16(lb[:], uint16(len(r)))
	n1, err := w.Write(lb[:])
	if err != nil {
		return int64(n1), err
	}
	n2, err := w.Write(r)
	return int64(n1 + n2), err
}

func readRecord(r io.Reader) (record, error) {
	var lb [2]byte
	if _, err := io.ReadFull(r, lb[:]); err != nil {
		return nil, err
	}
	body := make([]byte, binary.BigEndian.Uint16(lb[:]))
	_, err := io.ReadFull(r, body)
	return body, err
}

func TestChunkIndexRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		cx, cz int
		rx, rz int
		index  int
	}{
		{"origin", 0, 0, 0, 0, 0},
		{"last", 31, 31, 0, 0, 1023},
		{"x_row", 5, 0, 0, 0, 5},
		{"z_row", 0, 5, 0, 0, 160},
		{"negative", -1, -1, -1, -1, 1023},
		{"negative_far", -33, 40, -2, 1, 31 + 8*32},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.rx, tt.cx>>Shift)
			assert.Equal(t, tt.rz, tt.cz>>Shift)
			idx := ChunkIndex(tt.cx, tt.cz)
			assert.Equal(t, tt.index, idx)
			cx, cz := ChunkAt(tt.rx, tt.rz, idx)
			assert.Equal(t, tt.cx, cx)
			assert.Equal(t, tt.cz, cz)
		})
	}
}

func TestParseFileName(t *testing.T) {
	rx, rz, ok := ParseFileName("/data/world/" + FileName(-3, 7))
	require.True(t, ok)
	assert.Equal(t, -3, rx)
	assert.Equal(t, 7, rz)

	for _, name := range []string{"r.1.2.mca", "r.1.2.nxr.tmp", "level.dat", "r.a.b.nxr"} {
		_, _, ok := ParseFileName(name)
		assert.False(t, ok, name)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	in := map[int]io.WriterTo{
		1023: record("last"),
		0:    record("first"),
		77:   record{},
	}
	require.NoError(t, Save(dir, 2, -1, in))

	var order []int
	got := map[int]string{}
	found, err := Load(dir, 2, -1, func(index int, r io.Reader) error {
		rec, err := readRecord(r)
		if err != nil {
			return err
		}
		order = append(order, index)
		got[index] = string(rec)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []int{0, 77, 1023}, order)
	assert.Equal(t, map[int]string{0: "first", 77: "", 1023: "last"}, got)

	_, err = os.Stat(Path(dir, 2, -1) + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file should be removed")
}

func TestLoadMissingFile(t *testing.T) {
	found, err := Load(t.TempDir(), 0, 0, func(int, io.Reader) error {
		t.Fatal("callback must not run for a missing file")
		return nil
	})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSaveEmptyRemovesFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Save(dir, 0, 0, map[int]io.WriterTo{3: record("x")}))
	require.FileExists(t, Path(dir, 0, 0))

	require.NoError(t, Save(dir, 0, 0, nil))
	assert.NoFileExists(t, Path(dir, 0, 0))

	// Removing an absent file is fine too.
	require.NoError(t, Save(dir, 0, 0, nil))
}

func TestDecodeCorrupt(t *testing.T) {
	valid := func() []byte {
		var buf bytes.Buffer
		buf.WriteString(magic)
		buf.WriteByte(version)
		buf.Write([]byte{0, 1})
		buf.Write([]byte{0, 4})
		_, _ = record("ok").WriteTo(&buf)
		return buf.Bytes()
	}

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"bad_magic", func(b []byte) []byte { b[0] = 'X'; return b }},
		{"bad_version", func(b []byte) []byte { b[4] = 9; return b }},
		{"truncated_header", func(b []byte) []byte { return b[:5] }},
		{"truncated_index", func(b []byte) []byte { return b[:8] }},
		{"index_out_of_range", func(b []byte) []byte { b[7], b[8] = 0x04, 0x00; return b }},
		{"too_many_records", func(b []byte) []byte { b[5], b[6] = 0x04, 0x01; return b }},
		{"trailing_data", func(b []byte) []byte { return append(b, 0xFF) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.mutate(valid())
			err := Decode(bytes.NewReader(data), func(_ int, r io.Reader) error {
				_, err := readRecord(r)
				return err
			})
			assert.ErrorIs(t, err, ErrCorrupt)
		})
	}

	t.Run("valid", func(t *testing.T) {
		err := Decode(bytes.NewReader(valid()), func(index int, r io.Reader) error {
			assert.Equal(t, 4, index)
			_, err := readRecord(r)
			return err
		})
		assert.NoError(t, err)
	})
}

func TestDecodeDuplicateIndex(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(magic)
	buf.WriteByte(version)
	buf.Write([]byte{0, 2})
	for i := 0; i < 2; i++ {
		buf.Write([]byte{0, 9})
		_, _ = record("dup").WriteTo(&buf)
	}
	err := Decode(&buf, func(_ int, r io.Reader) error {
		_, err := readRecord(r)
		return err
	})
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestLoadIgnoresTempFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName(0, 0)+".tmp"), []byte("junk"), 0o644))
	found, err := Load(dir, 0, 0, func(int, io.Reader) error { return nil })
	require.NoError(t, err)
	assert.False(t, found)
}
