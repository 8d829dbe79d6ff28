package bitarray

import (
	"fmt"
	"sync"
)

// Dynamic is a packed array whose element width can change after
// construction and whose length grows when writing past the end.
//
// A width change re-encodes every element into a new buffer and swaps it in
// under the array's lock, so readers never see a mix of widths.
type Dynamic struct {
	mu  sync.RWMutex
	arr *Packed
}

// NewDynamic allocates a zeroed dynamic array.
func NewDynamic(width, length int) (*Dynamic, error) {
	arr, err := New(width, length)
	if err != nil {
		return nil, err
	}
	return &Dynamic{arr: arr}, nil
}

// WrapDynamic builds a dynamic array over an existing buffer.
func WrapDynamic(width, length int, buf []byte) (*Dynamic, error) {
	arr, err := Wrap(width, length, buf)
	if err != nil {
		return nil, err
	}
	return &Dynamic{arr: arr}, nil
}

// Width returns the current number of bits per element.
func (d *Dynamic) Width() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.arr.width
}

// Len returns the current number of elements.
func (d *Dynamic) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.arr.length
}

// Bytes returns a copy of the packed payload at the current width.
func (d *Dynamic) Bytes() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b := d.arr.Bytes()
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Get returns the element at index i.
func (d *Dynamic) Get(i int) (uint32, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.arr.Get(i)
}

// Set stores v at index i, extending the array when i is past the end.
func (d *Dynamic) Set(i int, v uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= d.arr.length {
		d.growLocked(i + 1)
	}
	return d.arr.Set(i, v)
}

// growLocked extends the declared length to n. The buffer grows through
// append, so repeated appends are amortized. A wrapped buffer may be longer
// than its payload, so the bits being exposed are zeroed first.
func (d *Dynamic) growLocked(n int) {
	used := d.arr.length * d.arr.width
	need := SizeFor(n, d.arr.width)
	if need > len(d.arr.buf) {
		d.arr.buf = append(d.arr.buf, make([]byte, need-len(d.arr.buf))...)
	}
	start := (used + 7) / 8
	if off := used % 8; off != 0 {
		d.arr.buf[used/8] &= 0xFF << (8 - off)
	}
	clear(d.arr.buf[start:need])
	d.arr.length = n
}

// Scan calls fn for every index in [from, to) with its value, holding the read
// lock for the whole range. It stops early when fn returns false.
func (d *Dynamic) Scan(from, to int, fn func(i int, v uint32) bool) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if from < 0 || to > d.arr.length || from > to {
		return fmt.Errorf("%w: range [%d, %d), length %d", ErrOutOfRange, from, to, d.arr.length)
	}
	for i := from; i < to; i++ {
		if !fn(i, d.arr.get(i)) {
			break
		}
	}
	return nil
}

// Replace rewrites every element in [from, to) equal to old with repl and
// returns how many were changed.
func (d *Dynamic) Replace(from, to int, old, repl uint32) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if from < 0 || to > d.arr.length || from > to {
		return 0, fmt.Errorf("%w: range [%d, %d), length %d", ErrOutOfRange, from, to, d.arr.length)
	}
	if repl > d.arr.MaxValue() {
		return 0, fmt.Errorf("%w: value %d exceeds %d-bit width", ErrOutOfRange, repl, d.arr.width)
	}
	n := 0
	for i := from; i < to; i++ {
		if d.arr.get(i) == old {
			d.arr.set(i, repl)
			n++
		}
	}
	return n, nil
}

// ConvertTo re-encodes every element at the new width. Widening always
// preserves values; narrowing truncates values that do not fit, so callers
// must check the highest stored value first.
func (d *Dynamic) ConvertTo(width int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if width == d.arr.width {
		return nil
	}
	arr, err := d.arr.reencode(width)
	if err != nil {
		return err
	}
	d.arr = arr
	return nil
}
