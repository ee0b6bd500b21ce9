package flat

import (
	"testing"

	"github.com/hupe1980/hnswbridge/internal/searcher"
	"github.com/hupe1980/hnswbridge/metric"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceVectors [][]float32

func (s sliceVectors) Vector(id uint32, dst []float32) []float32 {
	copy(dst, s[id])
	return dst
}

func TestScan(t *testing.T) {
	vecs := sliceVectors{{5}, {1}, {3}, {2}, {4}}
	s := searcher.Get()
	defer searcher.Put(s)

	t.Run("top k ascending", func(t *testing.T) {
		res := Scan(s, vecs, len(vecs), metric.SquaredL2, []float32{0}, 3, nil)
		require.Len(t, res, 3)
		assert.Equal(t, uint32(1), res[0].Node)
		assert.Equal(t, uint32(3), res[1].Node)
		assert.Equal(t, uint32(2), res[2].Node)
		assert.Equal(t, []float32{1, 4, 9}, []float32{res[0].Distance, res[1].Distance, res[2].Distance})
	})

	t.Run("k larger than n", func(t *testing.T) {
		res := Scan(s, vecs, len(vecs), metric.SquaredL2, []float32{0}, 10, nil)
		assert.Len(t, res, 5)
	})

	t.Run("skip", func(t *testing.T) {
		res := Scan(s, vecs, len(vecs), metric.SquaredL2, []float32{0}, 1, func(id uint32) bool { return id == 1 })
		require.Len(t, res, 1)
		assert.Equal(t, uint32(3), res[0].Node)
	})

	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, Scan(s, vecs, 0, metric.SquaredL2, []float32{0}, 3, nil))
		assert.Empty(t, Scan(s, vecs, 5, metric.SquaredL2, []float32{0}, 0, nil))
	})
}
