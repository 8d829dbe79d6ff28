package bitarray

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDynamicConvertToPreservesValues(t *testing.T) {
	d, err := NewDynamic(1, 100)
	require.NoError(t, err)
	for i := 0; i < 100; i += 3 {
		require.NoError(t, d.Set(i, 1))
	}

	for _, w := range []int{2, 3, 7, 8, 13, 32} {
		require.NoError(t, d.ConvertTo(w))
		assert.Equal(t, w, d.Width())
		assert.Equal(t, 100, d.Len())
		for i := 0; i < 100; i++ {
			got, err := d.Get(i)
			require.NoError(t, err)
			want := uint32(0)
			if i%3 == 0 {
				want = 1
			}
			require.Equal(t, want, got, "width %d index %d", w, i)
		}
	}
}

func TestDynamicWidenThenStoreWiderValue(t *testing.T) {
	d, err := NewDynamic(2, 16)
	require.NoError(t, err)
	require.NoError(t, d.Set(5, 3))
	assert.ErrorIs(t, d.Set(6, 4), ErrOutOfRange)

	require.NoError(t, d.ConvertTo(3))
	require.NoError(t, d.Set(6, 4))

	v, err := d.Get(5)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), v)
	v, err = d.Get(6)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), v)
	assert.Len(t, d.Bytes(), SizeFor(16, 3))
}

func TestDynamicNarrowKeepsFittingValues(t *testing.T) {
	d, err := NewDynamic(8, 10)
	require.NoError(t, err)
	require.NoError(t, d.Set(0, 1))
	require.NoError(t, d.Set(9, 1))

	require.NoError(t, d.ConvertTo(1))
	v, _ := d.Get(0)
	assert.Equal(t, uint32(1), v)
	v, _ = d.Get(9)
	assert.Equal(t, uint32(1), v)
	assert.Len(t, d.Bytes(), 2)
}

func TestDynamicGrowsLength(t *testing.T) {
	d, err := NewDynamic(5, 0)
	require.NoError(t, err)

	for i := 0; i < 40; i++ {
		require.NoError(t, d.Set(i, uint32(i%32)))
	}
	assert.Equal(t, 40, d.Len())
	require.NoError(t, d.Set(99, 17))
	assert.Equal(t, 100, d.Len())

	for i := 0; i < 40; i++ {
		v, err := d.Get(i)
		require.NoError(t, err)
		require.Equal(t, uint32(i%32), v)
	}
	v, err := d.Get(99)
	require.NoError(t, err)
	assert.Equal(t, uint32(17), v)
	v, err = d.Get(60)
	require.NoError(t, err)
	assert.Zero(t, v)
}

func TestDynamicGrowOverWrappedBufferReadsZero(t *testing.T) {
	// Three 4-bit elements 1, 2, 3 followed by stale bits.
	d, err := WrapDynamic(4, 3, []byte{0x12, 0x3F, 0xFF, 0xFF})
	require.NoError(t, err)

	require.NoError(t, d.Set(6, 9))
	assert.Equal(t, 7, d.Len())

	want := []uint32{1, 2, 3, 0, 0, 0, 9}
	for i, w := range want {
		v, err := d.Get(i)
		require.NoError(t, err)
		assert.Equal(t, w, v, "index %d", i)
	}
	assert.Equal(t, []byte{0x12, 0x30, 0x00, 0x90}, d.Bytes())
}

func TestDynamicScanAndReplace(t *testing.T) {
	d, err := NewDynamic(2, 32)
	require.NoError(t, err)
	for _, i := range []int{1, 4, 9, 31} {
		require.NoError(t, d.Set(i, 2))
	}
	require.NoError(t, d.Set(10, 1))

	var seen []int
	require.NoError(t, d.Scan(0, 32, func(i int, v uint32) bool {
		if v == 2 {
			seen = append(seen, i)
		}
		return true
	}))
	assert.Equal(t, []int{1, 4, 9, 31}, seen)

	n, err := d.Replace(0, 16, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	v, _ := d.Get(31)
	assert.Equal(t, uint32(2), v)
	v, _ = d.Get(10)
	assert.Equal(t, uint32(1), v)

	assert.ErrorIs(t, d.Scan(0, 33, func(int, uint32) bool { return true }), ErrOutOfRange)
}
