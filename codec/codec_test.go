package codec

import (
	"math/rand"
	"testing"

	"github.com/hupe1980/hnswbridge/buffer"
	"github.com/hupe1980/hnswbridge/precision"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomVectors(rng *rand.Rand, n, dim int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		for j := range v {
			v[j] = rng.Float32()*4 - 2
		}
		out[i] = v
	}
	return out
}

func newCodec(t *testing.T, dim int, p precision.Precision, train [][]float32) *Codec {
	t.Helper()
	c, err := New(dim, p)
	require.NoError(t, err)
	require.NoError(t, c.Train(train))
	return c
}

func TestCodec_RoundTripWithinBound(t *testing.T) {
	const dim = 24
	rng := rand.New(rand.NewSource(1))
	vectors := randomVectors(rng, 50, dim)

	for _, p := range []precision.Precision{precision.Float32, precision.Float16, precision.Float8} {
		t.Run(p.String(), func(t *testing.T) {
			c := newCodec(t, dim, p, vectors)
			dc, err := c.NewDecodeContext()
			require.NoError(t, err)
			defer dc.Close()

			for _, v := range vectors {
				src, err := buffer.FromSlice(v)
				require.NoError(t, err)

				enc, err := c.Encode(src)
				require.NoError(t, err)
				assert.Equal(t, c.EncodedSize(), enc.Len())

				dec, err := c.Decode(dc, enc)
				require.NoError(t, err)
				got, err := dec.ToSlice()
				require.NoError(t, err)

				for i := range v {
					if p.Lossless() {
						require.Equal(t, v[i], got[i])
					} else {
						require.InDelta(t, v[i], got[i], float64(c.ErrorBound(i, v[i])))
					}
				}

				require.NoError(t, dec.Release())
				require.NoError(t, enc.Release())
				require.NoError(t, src.Release())
			}
		})
	}
}

func TestCodec_Float32IsZeroCopy(t *testing.T) {
	c, err := New(2, precision.Float32)
	require.NoError(t, err)

	src, err := buffer.FromSlice([]float32{1, 2})
	require.NoError(t, err)
	defer src.Release()

	enc, err := c.Encode(src)
	require.NoError(t, err)
	assert.Equal(t, buffer.View, enc.Mode())
	assert.Same(t, &src.Bytes()[0], &enc.Bytes()[0])

	dec, err := c.Decode(nil, enc)
	require.NoError(t, err)
	assert.Same(t, &src.Bytes()[0], &dec.Bytes()[0])

	// Releasing views leaves the source intact.
	require.NoError(t, dec.Release())
	require.NoError(t, enc.Release())
	v, err := src.Get(1)
	require.NoError(t, err)
	assert.Equal(t, float32(2), v)
}

func TestCodec_DecodeContextInvalidatesPreviousResult(t *testing.T) {
	c, err := New(2, precision.Float16)
	require.NoError(t, err)
	dc, err := c.NewDecodeContext()
	require.NoError(t, err)
	defer dc.Close()

	encode := func(v []float32) *buffer.Buffer[byte] {
		src, err := buffer.FromSlice(v)
		require.NoError(t, err)
		defer src.Release()
		enc, err := c.Encode(src)
		require.NoError(t, err)
		return enc
	}
	a, b := encode([]float32{1, 2}), encode([]float32{3, 4})
	defer a.Release()
	defer b.Release()

	first, err := c.Decode(dc, a)
	require.NoError(t, err)
	second, err := c.Decode(dc, b)
	require.NoError(t, err)

	_, err = first.Get(0)
	assert.ErrorIs(t, err, buffer.ErrReleased)

	got, err := second.ToSlice()
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 4}, got)

	other, err := New(2, precision.Float16)
	require.NoError(t, err)
	_, err = other.Decode(dc, a)
	assert.ErrorIs(t, err, ErrForeignContext)
}

func TestCodec_DecodeInto(t *testing.T) {
	c, err := New(3, precision.Float16)
	require.NoError(t, err)

	enc := make([]byte, c.EncodedSize())
	require.NoError(t, c.EncodeSlice(enc, []float32{0.5, -1, 8}))

	dst, err := buffer.New[float32](3, buffer.Unpooled)
	require.NoError(t, err)
	defer dst.Release()

	require.NoError(t, c.DecodeInto(dst, buffer.ViewOf[byte](enc)))
	got, err := dst.ToSlice()
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -1, 8}, got)

	small, err := buffer.New[float32](2, buffer.Pooled)
	require.NoError(t, err)
	defer small.Release()
	var dm *ErrDimensionMismatch
	assert.ErrorAs(t, c.DecodeInto(small, buffer.ViewOf[byte](enc)), &dm)

	owned, err := c.DecodeOwned(buffer.ViewOf[byte](enc))
	require.NoError(t, err)
	assert.Equal(t, buffer.Pooled, owned.Mode())
	require.NoError(t, owned.Release())
}

func TestCodec_Float8NeedsTraining(t *testing.T) {
	c, err := New(2, precision.Float8)
	require.NoError(t, err)
	assert.True(t, c.NeedsTraining())

	src, err := buffer.FromSlice([]float32{1, 2})
	require.NoError(t, err)
	defer src.Release()

	_, err = c.Encode(src)
	assert.ErrorIs(t, err, precision.ErrNotTrained)

	require.NoError(t, c.Train([][]float32{{0, 0}, {2, 4}}))
	assert.False(t, c.NeedsTraining())

	enc, err := c.Encode(src)
	require.NoError(t, err)
	defer enc.Release()
	assert.Equal(t, 2, enc.Len())
}

func TestCodec_Errors(t *testing.T) {
	_, err := New(0, precision.Float32)
	assert.ErrorIs(t, err, ErrInvalidDimension)

	_, err = New(4, precision.Precision(9))
	assert.ErrorIs(t, err, ErrInvalidPrecision)

	c, err := New(4, precision.Float32)
	require.NoError(t, err)

	short, err := buffer.FromSlice([]float32{1, 2})
	require.NoError(t, err)
	defer short.Release()

	var dm *ErrDimensionMismatch
	_, err = c.Encode(short)
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, 4, dm.Expected)
	assert.Equal(t, 2, dm.Actual)

	released, err := buffer.FromSlice([]float32{1, 2, 3, 4})
	require.NoError(t, err)
	require.NoError(t, released.Release())
	_, err = c.Encode(released)
	assert.ErrorIs(t, err, buffer.ErrReleased)
}
