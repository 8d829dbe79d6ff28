package world

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/OCharnyshevich/roomguard/pkg/bitarray"
	"github.com/OCharnyshevich/roomguard/pkg/world/region"
)

// Chunk record layout inside a region file, big-endian:
//
//	last_cleanup_millis  int64
//	key_width            uint8   1..32
//	slot_count           VarInt  keys 1..slot_count follow
//	slot_count × int32   room ID per key, 0 for a free slot
//	payload              ceil(65536*key_width/8) bytes, MSB-first packing

// WriteTo writes the chunk record to w.
func (c *Chunk) WriteTo(w io.Writer) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var head [9]byte
	binary.BigEndian.PutUint64(head[:8], uint64(c.lastCleanUp))
	head[8] = byte(c.data.Width())
	n1, err := w.Write(head[:])
	if err != nil {
		return int64(n1), fmt.Errorf("write chunk header: %w", err)
	}

	slots := c.keys.Slots()
	n2, err := region.WriteVarInt(w, uint32(len(slots)))
	if err != nil {
		return int64(n1 + n2), fmt.Errorf("write slot count: %w", err)
	}

	payload := c.data.Bytes()
	body := make([]byte, 0, 4*len(slots)+len(payload))
	for _, id := range slots {
		body = binary.BigEndian.AppendUint32(body, id)
	}
	body = append(body, payload...)
	n3, err := w.Write(body)
	n := int64(n1 + n2 + n3)
	if err != nil {
		return n, fmt.Errorf("write chunk body: %w", err)
	}
	return n, nil
}

// ReadFrom replaces the chunk's contents with a record read from r. The chunk
// is left untouched unless the whole record decodes and validates.
func (c *Chunk) ReadFrom(r io.Reader) (int64, error) {
	cr := &countingReader{r: r}

	var head [9]byte
	if _, err := io.ReadFull(cr, head[:]); err != nil {
		return cr.n, fmt.Errorf("%w: read chunk header: %w", region.ErrCorrupt, err)
	}
	lastCleanUp := int64(binary.BigEndian.Uint64(head[:8]))
	width := int(head[8])
	if width < 1 || width > bitarray.MaxWidth {
		return cr.n, fmt.Errorf("%w: key width %d", region.ErrCorrupt, width)
	}

	count, _, err := region.ReadVarInt(cr)
	if err != nil {
		return cr.n, fmt.Errorf("%w: read slot count: %w", region.ErrCorrupt, err)
	}
	if uint64(count) > capacityFor(width) {
		return cr.n, fmt.Errorf("%w: %d slots exceed %d-bit key width", region.ErrCorrupt, count, width)
	}

	keys := NewKeyTable(width)
	var sb [4]byte
	for k := uint32(1); k <= count; k++ {
		if _, err := io.ReadFull(cr, sb[:]); err != nil {
			return cr.n, fmt.Errorf("%w: read slot %d: %w", region.ErrCorrupt, k, err)
		}
		if err := keys.SetSlot(k, binary.BigEndian.Uint32(sb[:])); err != nil {
			return cr.n, fmt.Errorf("%w: slot %d: %w", region.ErrCorrupt, k, err)
		}
	}

	payload := make([]byte, bitarray.SizeFor(ChunkVolume, width))
	if _, err := io.ReadFull(cr, payload); err != nil {
		return cr.n, fmt.Errorf("%w: read payload: %w", region.ErrCorrupt, err)
	}
	data, err := bitarray.WrapDynamic(width, ChunkVolume, payload)
	if err != nil {
		return cr.n, fmt.Errorf("%w: %w", region.ErrCorrupt, err)
	}

	var nonzero [SectionCount]int
	bad := -1
	_ = data.Scan(0, ChunkVolume, func(i int, v uint32) bool {
		if v == 0 {
			return true
		}
		if keys.RoomFor(v) == 0 {
			bad = i
			return false
		}
		nonzero[i/SectionVolume]++
		return true
	})
	if bad >= 0 {
		v, _ := data.Get(bad)
		return cr.n, fmt.Errorf("%w: block %d holds unmapped key %d", region.ErrCorrupt, bad, v)
	}

	c.mu.Lock()
	c.lastCleanUp = lastCleanUp
	c.keys = keys
	c.data = data
	c.nonzero = nonzero
	c.mu.Unlock()
	return cr.n, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
