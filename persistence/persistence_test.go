package persistence

import (
	"bytes"
	"context"
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/hupe1980/hnswbridge/codec"
	"github.com/hupe1980/hnswbridge/metric"
	"github.com/hupe1980/hnswbridge/precision"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomVectors(rng *rand.Rand, n, dim int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		for j := range v {
			v[j] = rng.Float32()*2 - 1
		}
		out[i] = v
	}
	return out
}

func encodeAll(t *testing.T, c *codec.Codec, vecs [][]float32) []byte {
	t.Helper()
	out := make([]byte, len(vecs)*c.EncodedSize())
	for i, v := range vecs {
		require.NoError(t, c.EncodeSlice(out[i*c.EncodedSize():(i+1)*c.EncodedSize()], v))
	}
	return out
}

func testSnapshot(t *testing.T, n int, p precision.Precision, comp Compression) *Snapshot {
	t.Helper()
	const dim = 16
	rng := rand.New(rand.NewSource(int64(n)))
	vecs := randomVectors(rng, n, dim)

	c, err := codec.New(dim, p)
	require.NoError(t, err)
	if n > 0 {
		require.NoError(t, c.Train(vecs))
	}

	labels := make([]uint64, n)
	for i := range labels {
		labels[i] = uint64(i*7 + 3)
	}

	return &Snapshot{
		Header: Header{
			Algorithm:        AlgorithmGraph,
			Compression:      comp,
			Metric:           metric.Euclidean,
			Precision:        p,
			Dimension:        dim,
			Count:            n,
			MaxElements:      1000,
			SearchBreadth:    50,
			BruteforceSearch: true,
		},
		Params:  c.Params(),
		Labels:  labels,
		Vectors: encodeAll(t, c, vecs),
		Graph:   bytes.Repeat([]byte{1, 2, 3, 4}, 100),
	}
}

func TestWriteRead_RoundTrip(t *testing.T) {
	for _, comp := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		for _, p := range []precision.Precision{precision.Float32, precision.Float16, precision.Float8} {
			t.Run(comp.String()+"/"+p.String(), func(t *testing.T) {
				want := testSnapshot(t, 300, p, comp)

				var buf bytes.Buffer
				n, err := Write(&buf, want)
				require.NoError(t, err)
				assert.Equal(t, int64(buf.Len()), n)

				got, err := Read(bytes.NewReader(buf.Bytes()))
				require.NoError(t, err)
				assert.Equal(t, want.Header, got.Header)
				assert.Equal(t, want.Labels, got.Labels)
				assert.Equal(t, want.Vectors, got.Vectors)
				assert.Equal(t, want.Graph, got.Graph)
				assert.Equal(t, want.Params, got.Params)
			})
		}
	}
}

func TestWriteRead_Empty(t *testing.T) {
	s := testSnapshot(t, 0, precision.Float8, CompressionZSTD)
	s.Algorithm = AlgorithmBruteforce
	s.Graph = nil

	var buf bytes.Buffer
	_, err := Write(&buf, s)
	require.NoError(t, err)

	got, err := Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Count)
	assert.Nil(t, got.Params)
	assert.Empty(t, got.Graph)
}

func TestWrite_LargePayloadSpansBlocks(t *testing.T) {
	s := testSnapshot(t, 5000, precision.Float32, CompressionLZ4)

	var buf bytes.Buffer
	_, err := Write(&buf, s)
	require.NoError(t, err)

	got, err := Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, s.Vectors, got.Vectors)
}

func TestReadHeader(t *testing.T) {
	s := testSnapshot(t, 10, precision.Float16, CompressionNone)
	var buf bytes.Buffer
	_, err := Write(&buf, s)
	require.NoError(t, err)

	h, err := ReadHeader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, s.Header, h)
}

func TestRead_Corruption(t *testing.T) {
	s := testSnapshot(t, 50, precision.Float32, CompressionNone)
	var buf bytes.Buffer
	_, err := Write(&buf, s)
	require.NoError(t, err)
	data := buf.Bytes()

	t.Run("magic", func(t *testing.T) {
		bad := bytes.Clone(data)
		bad[0] ^= 0xFF
		_, err := Read(bytes.NewReader(bad))
		assert.ErrorIs(t, err, ErrInvalidMagic)
	})

	t.Run("version", func(t *testing.T) {
		bad := bytes.Clone(data)
		binary.LittleEndian.PutUint32(bad[4:], 99)
		_, err := Read(bytes.NewReader(bad))
		assert.ErrorIs(t, err, ErrInvalidVersion)
	})

	t.Run("header checksum", func(t *testing.T) {
		bad := bytes.Clone(data)
		bad[12] ^= 0x01
		_, err := Read(bytes.NewReader(bad))
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("payload bit flip", func(t *testing.T) {
		bad := bytes.Clone(data)
		bad[HeaderSize+blockHeaderSize+100] ^= 0x01
		_, err := Read(bytes.NewReader(bad))
		var mismatch *ChecksumMismatchError
		assert.ErrorAs(t, err, &mismatch)
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := Read(bytes.NewReader(data[:len(data)/2]))
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("short header", func(t *testing.T) {
		_, err := ReadHeader(bytes.NewReader(data[:10]))
		assert.ErrorIs(t, err, ErrCorrupt)
	})
}

func TestWrite_Validation(t *testing.T) {
	s := testSnapshot(t, 10, precision.Float32, CompressionNone)
	s.Labels = s.Labels[:5]
	_, err := Write(&bytes.Buffer{}, s)
	assert.Error(t, err)

	s = testSnapshot(t, 10, precision.Float32, CompressionNone)
	s.Vectors = s.Vectors[:7]
	_, err = Write(&bytes.Buffer{}, s)
	assert.Error(t, err)

	s = testSnapshot(t, 10, precision.Float8, CompressionNone)
	s.Params = nil
	_, err = Write(&bytes.Buffer{}, s)
	assert.Error(t, err)

	s = testSnapshot(t, 10, precision.Float8, CompressionNone)
	s.Params, err = precision.NewParams(make([]float32, 4), []float32{1, 1, 1, 1})
	require.NoError(t, err)
	_, err = Write(&bytes.Buffer{}, s)
	assert.ErrorContains(t, err, "parameters for dimension 4")
}

func TestParseCompression(t *testing.T) {
	for name, want := range map[string]Compression{"": CompressionNone, "none": CompressionNone, "LZ4": CompressionLZ4, "zstd": CompressionZSTD} {
		got, err := ParseCompression(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseCompression("snappy")
	assert.Error(t, err)
}

func TestTranscode(t *testing.T) {
	const dim = 8
	rng := rand.New(rand.NewSource(9))
	vecs := randomVectors(rng, 1000, dim)

	src, err := codec.New(dim, precision.Float32)
	require.NoError(t, err)
	data := encodeAll(t, src, vecs)

	t.Run("to float16", func(t *testing.T) {
		dst, err := codec.New(dim, precision.Float16)
		require.NoError(t, err)

		out, err := Transcode(context.Background(), src, dst, data, len(vecs), 4)
		require.NoError(t, err)
		require.Len(t, out, len(vecs)*dst.EncodedSize())

		got := make([]float32, dim)
		require.NoError(t, dst.DecodeSlice(got, out[5*dst.EncodedSize():6*dst.EncodedSize()]))
		for i, v := range vecs[5] {
			assert.InDelta(t, v, got[i], float64(dst.ErrorBound(i, v)))
		}
	})

	t.Run("to float8 trains", func(t *testing.T) {
		dst, err := codec.New(dim, precision.Float8)
		require.NoError(t, err)
		require.True(t, dst.NeedsTraining())

		out, err := Transcode(context.Background(), src, dst, data, len(vecs), 0)
		require.NoError(t, err)
		assert.False(t, dst.NeedsTraining())

		got := make([]float32, dim)
		require.NoError(t, dst.DecodeSlice(got, out[:dst.EncodedSize()]))
		for i, v := range vecs[0] {
			assert.InDelta(t, v, got[i], float64(dst.ErrorBound(i, v)))
		}
	})

	t.Run("empty", func(t *testing.T) {
		dst, err := codec.New(dim, precision.Float8)
		require.NoError(t, err)
		out, err := Transcode(context.Background(), src, dst, nil, 0, 1)
		require.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("size mismatch", func(t *testing.T) {
		dst, err := codec.New(dim, precision.Float16)
		require.NoError(t, err)
		_, err = Transcode(context.Background(), src, dst, data[:10], len(vecs), 1)
		assert.Error(t, err)
	})

	t.Run("canceled", func(t *testing.T) {
		dst, err := codec.New(dim, precision.Float16)
		require.NoError(t, err)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = Transcode(ctx, src, dst, data, len(vecs), 2)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
