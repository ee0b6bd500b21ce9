package buffer

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_WriteRead(t *testing.T) {
	for _, mode := range []Mode{Pooled, Unpooled} {
		t.Run(mode.String(), func(t *testing.T) {
			b, err := New[float32](3, mode)
			require.NoError(t, err)
			defer b.Release()

			require.NoError(t, b.Write(1.5))
			require.NoError(t, b.Write(-2.25))
			require.NoError(t, b.Write(3))
			assert.ErrorIs(t, b.Write(4), ErrOutOfBounds)
			assert.Equal(t, 3, b.Len())

			for _, want := range []float32{1.5, -2.25, 3} {
				got, err := b.Read()
				require.NoError(t, err)
				assert.Equal(t, want, got)
			}
			_, err = b.Read()
			assert.ErrorIs(t, err, ErrOutOfBounds)
		})
	}
}

func TestBuffer_ReadPastWriter(t *testing.T) {
	b, err := New[uint64](8, Pooled)
	require.NoError(t, err)
	defer b.Release()

	require.NoError(t, b.Write(42))
	_, err = b.Read()
	require.NoError(t, err)
	_, err = b.Read()
	assert.ErrorIs(t, err, ErrOutOfBounds)
	assert.Equal(t, 0, b.Remaining())
}

func TestBuffer_LittleEndianLayout(t *testing.T) {
	b, err := New[float32](2, Pooled)
	require.NoError(t, err)
	defer b.Release()

	require.NoError(t, b.WriteSlice([]float32{1, 2}))
	raw := b.Bytes()
	require.Len(t, raw, 8)
	assert.Equal(t, math.Float32bits(1), binary.LittleEndian.Uint32(raw[0:]))
	assert.Equal(t, math.Float32bits(2), binary.LittleEndian.Uint32(raw[4:]))

	i, err := New[int64](1, Pooled)
	require.NoError(t, err)
	defer i.Release()
	require.NoError(t, i.Write(-1))
	assert.Equal(t, []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, i.Bytes())
}

func TestBuffer_GetSet(t *testing.T) {
	b, err := New[uint16](4, Pooled)
	require.NoError(t, err)
	defer b.Release()

	require.NoError(t, b.Set(3, 7))
	v, err := b.Get(3)
	require.NoError(t, err)
	assert.Equal(t, uint16(7), v)
	assert.Equal(t, 0, b.Len(), "random access leaves cursors alone")

	_, err = b.Get(4)
	assert.ErrorIs(t, err, ErrOutOfBounds)
	assert.ErrorIs(t, b.Set(-1, 0), ErrOutOfBounds)
}

func TestBuffer_SideChannelWrite(t *testing.T) {
	b, err := New[float32](4, Pooled)
	require.NoError(t, err)
	defer b.Release()

	elems, err := b.Elems()
	require.NoError(t, err)
	copy(elems, []float32{9, 8, 7})

	require.NoError(t, b.SetWriterIndex(3))
	got, err := b.ToSlice()
	require.NoError(t, err)
	assert.Equal(t, []float32{9, 8, 7}, got)

	assert.ErrorIs(t, b.SetWriterIndex(5), ErrOutOfBounds)
	assert.ErrorIs(t, b.SetReaderIndex(4), ErrOutOfBounds)
}

func TestBuffer_WriteFromAndZero(t *testing.T) {
	src, err := FromSlice([]float32{1, 2, 3})
	require.NoError(t, err)
	defer src.Release()
	_, err = src.Read()
	require.NoError(t, err)

	dst, err := New[float32](4, Pooled)
	require.NoError(t, err)
	defer dst.Release()

	require.NoError(t, dst.WriteFrom(src))
	require.NoError(t, dst.WriteZero(2))
	got, err := dst.ToSlice()
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 3, 0, 0}, got)
	assert.Equal(t, 0, src.Remaining())
}

func TestBuffer_ReleaseOnce(t *testing.T) {
	calls := 0
	b := Wrap[uint8]([]byte{1, 2, 3}, func() { calls++ })

	require.NoError(t, b.Release())
	assert.ErrorIs(t, b.Release(), ErrReleased)
	assert.Equal(t, 1, calls)

	_, err := b.Read()
	assert.ErrorIs(t, err, ErrReleased)
	assert.Nil(t, b.Bytes())
	assert.True(t, b.Released())
}

func TestBuffer_Move(t *testing.T) {
	calls := 0
	b := Wrap[uint8]([]byte{1, 2}, func() { calls++ })

	moved, err := b.Move()
	require.NoError(t, err)

	assert.ErrorIs(t, b.Release(), ErrMoved)
	_, err = b.Get(0)
	assert.ErrorIs(t, err, ErrMoved)
	assert.Zero(t, calls)

	v, err := moved.Get(1)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), v)

	require.NoError(t, moved.Release())
	assert.Equal(t, 1, calls)

	_, err = moved.Move()
	assert.ErrorIs(t, err, ErrReleased)
}

func TestBuffer_ViewReleaseFreesNothing(t *testing.T) {
	region := []byte{0, 0, 0x80, 0x3f} // 1.0f
	v := ViewOf[float32](region)

	assert.Equal(t, View, v.Mode())
	assert.Equal(t, 1, v.Len())
	got, err := v.Read()
	require.NoError(t, err)
	assert.Equal(t, float32(1), got)

	require.NoError(t, v.Release())
	assert.Equal(t, []byte{0, 0, 0x80, 0x3f}, region)
}

func TestBuffer_Grow(t *testing.T) {
	a := NewAllocator(nil)
	b, err := NewWith[float32](a, 2, Pooled)
	require.NoError(t, err)
	require.NoError(t, b.WriteSlice([]float32{1, 2}))

	g, err := b.Grow(10)
	require.NoError(t, err)
	defer g.Release()

	assert.True(t, b.Released())
	assert.Equal(t, 10, g.Cap())
	require.NoError(t, g.Write(3))
	got, err := g.ToSlice()
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, got)

	same, err := g.Grow(5)
	require.NoError(t, err)
	assert.Same(t, g, same)
}

func TestBuffer_ElemsMisaligned(t *testing.T) {
	region := make([]byte, 17)
	aligned := ViewOf[uint64](region)
	if _, err := aligned.Elems(); err != nil {
		// make() may or may not hand out an 8-byte aligned block
		t.Skip("heap block not aligned")
	}

	shifted := ViewOf[uint64](region[1:])
	_, err := shifted.Elems()
	assert.ErrorIs(t, err, ErrMisaligned)
}

func TestNew_InvalidCapacity(t *testing.T) {
	_, err := New[float32](-1, Pooled)
	assert.ErrorIs(t, err, ErrInvalidCapacity)

	_, err = New[float32](math.MaxInt/2, Pooled)
	assert.ErrorIs(t, err, ErrInvalidCapacity)

	_, err = New[uint64](math.MaxInt/4, Unpooled)
	assert.ErrorIs(t, err, ErrInvalidCapacity)
}
