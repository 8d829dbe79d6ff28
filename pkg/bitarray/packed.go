// Package bitarray stores unsigned integers of a fixed bit width back to back
// in a byte buffer.
//
// Element i occupies bits [i*w, i*w+w) of the buffer, most significant bit
// first: bit 7 of byte 0 is the first bit of the array.
package bitarray

import (
	"errors"
	"fmt"
)

// MaxWidth is the widest element the array can hold.
const MaxWidth = 32

// ErrOutOfRange is returned for an index outside the array, a value that does
// not fit the element width, or an unsupported width.
var ErrOutOfRange = errors.New("bitarray: out of range")

// Packed is a fixed-width bit-packed array.
type Packed struct {
	width  int
	length int
	buf    []byte
}

// SizeFor returns the number of bytes needed to hold length elements of width bits.
func SizeFor(length, width int) int {
	return (length*width + 7) / 8
}

// New allocates a zeroed array of length elements, each width bits wide.
func New(width, length int) (*Packed, error) {
	if err := checkShape(width, length); err != nil {
		return nil, err
	}
	return &Packed{
		width:  width,
		length: length,
		buf:    make([]byte, SizeFor(length, width)),
	}, nil
}

// Wrap uses buf as the backing store for length elements of width bits.
// The buffer is not copied.
func Wrap(width, length int, buf []byte) (*Packed, error) {
	if err := checkShape(width, length); err != nil {
		return nil, err
	}
	if need := SizeFor(length, width); len(buf) < need {
		return nil, fmt.Errorf("%w: buffer has %d bytes, need %d", ErrOutOfRange, len(buf), need)
	}
	return &Packed{width: width, length: length, buf: buf}, nil
}

func checkShape(width, length int) error {
	if width < 1 || width > MaxWidth {
		return fmt.Errorf("%w: width %d", ErrOutOfRange, width)
	}
	if length < 0 {
		return fmt.Errorf("%w: length %d", ErrOutOfRange, length)
	}
	return nil
}

// Width returns the number of bits per element.
func (p *Packed) Width() int { return p.width }

// Len returns the number of elements.
func (p *Packed) Len() int { return p.length }

// Bytes returns the backing buffer trimmed to the bytes in use.
// The slice aliases the array.
func (p *Packed) Bytes() []byte { return p.buf[:SizeFor(p.length, p.width)] }

// MaxValue returns the largest value an element can hold.
func (p *Packed) MaxValue() uint32 { return maxValue(p.width) }

func maxValue(width int) uint32 {
	return uint32(uint64(1)<<width - 1)
}

// Get returns the element at index i.
func (p *Packed) Get(i int) (uint32, error) {
	if i < 0 || i >= p.length {
		return 0, fmt.Errorf("%w: index %d, length %d", ErrOutOfRange, i, p.length)
	}
	return p.get(i), nil
}

// Set stores v at index i.
func (p *Packed) Set(i int, v uint32) error {
	if i < 0 || i >= p.length {
		return fmt.Errorf("%w: index %d, length %d", ErrOutOfRange, i, p.length)
	}
	if v > p.MaxValue() {
		return fmt.Errorf("%w: value %d exceeds %d-bit width", ErrOutOfRange, v, p.width)
	}
	p.set(i, v)
	return nil
}

// span returns the first and last byte touched by element i and the right
// shift that aligns the element inside the big-endian composition of those bytes.
func (p *Packed) span(i int) (first, last int, shift uint) {
	off := i * p.width
	first = off / 8
	last = (off + p.width - 1) / 8
	total := (last - first + 1) * 8
	shift = uint(total - off%8 - p.width)
	return first, last, shift
}

func (p *Packed) get(i int) uint32 {
	first, last, shift := p.span(i)
	var acc uint64
	for b := first; b <= last; b++ {
		acc = acc<<8 | uint64(p.buf[b])
	}
	return uint32(acc>>shift) & maxValue(p.width)
}

func (p *Packed) set(i int, v uint32) {
	first, last, shift := p.span(i)
	var acc uint64
	for b := first; b <= last; b++ {
		acc = acc<<8 | uint64(p.buf[b])
	}
	mask := uint64(maxValue(p.width)) << shift
	acc = acc&^mask | uint64(v)<<shift&mask
	for b := last; b >= first; b-- {
		p.buf[b] = byte(acc)
		acc >>= 8
	}
}

// reencode copies every element of p into a fresh array of the given width.
// Values wider than the new width are truncated.
func (p *Packed) reencode(width int) (*Packed, error) {
	out, err := New(width, p.length)
	if err != nil {
		return nil, err
	}
	mask := maxValue(width)
	for i := 0; i < p.length; i++ {
		if v := p.get(i) & mask; v != 0 {
			out.set(i, v)
		}
	}
	return out, nil
}
