package region

import (
	"fmt"
	"io"
)

// ReadVarInt reads a little-endian base-128 unsigned integer of at most five bytes.
func ReadVarInt(r io.Reader) (uint32, int, error) {
	var result uint32
	var numRead int
	var buf [1]byte

	for {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, numRead, err
		}
		numRead++

		result |= uint32(buf[0]&0x7F) << (7 * (numRead - 1))

		if buf[0]&0x80 == 0 {
			break
		}

		if numRead >= 5 {
			return 0, numRead, fmt.Errorf("%w: VarInt too long", ErrCorrupt)
		}
	}

	return result, numRead, nil
}

// WriteVarInt writes value as a VarInt.
func WriteVarInt(w io.Writer, value uint32) (int, error) {
	var buf [5]byte
	n := 0
	for {
		b := byte(value & 0x7F)
		value >>= 7
		if value != 0 {
			b |= 0x80
		}
		buf[n] = b
		n++
		if value == 0 {
			break
		}
	}
	return w.Write(buf[:n])
}
