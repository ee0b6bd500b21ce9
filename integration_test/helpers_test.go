package integration_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/hnswbridge"
	"github.com/hupe1980/hnswbridge/buffer"
	"github.com/hupe1980/hnswbridge/metric"
	"github.com/hupe1980/hnswbridge/precision"
	"github.com/hupe1980/hnswbridge/testutil"
)

type indexConfig struct {
	metric    metric.Metric
	precision precision.Precision
	mode      hnswbridge.Mode
	dim       int
}

// buildIndex creates and fills an index with data, using the slice index as
// id. Float8 indexes are trained on the data first.
func buildIndex(t testing.TB, cfg indexConfig, data [][]float32, opts ...hnswbridge.Option) *hnswbridge.Index {
	t.Helper()

	idx, err := hnswbridge.New(cfg.metric, cfg.dim, cfg.precision, cfg.mode, opts...)
	require.NoError(t, err)

	if cfg.mode == hnswbridge.ModeGraph {
		require.NoError(t, idx.InitGraph(hnswbridge.GraphParams{
			MaxElements:    len(data),
			M:              16,
			EFConstruction: 200,
			RandomSeed:     42,
		}))
	} else {
		require.NoError(t, idx.InitBruteforce(len(data)))
	}
	if idx.NeedsTraining() {
		require.NoError(t, idx.Train(data))
	}

	bufs := make([]*buffer.Buffer[float32], len(data))
	ids := make([]uint64, len(data))
	for i, v := range data {
		bufs[i] = testutil.Buffer(v)
		ids[i] = uint64(i)
	}
	n, err := idx.AddItems(context.Background(), bufs, ids)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	for _, b := range bufs {
		require.NoError(t, b.Release())
	}
	return idx
}

// searchIDs runs a query and converts the result for testutil.ComputeRecall.
func searchIDs(t testing.TB, idx *hnswbridge.Index, q []float32, k int, opts ...hnswbridge.SearchOption) []testutil.SearchResult {
	t.Helper()

	qb := testutil.Buffer(q)
	defer func() { _ = qb.Release() }()

	res, err := idx.Search(qb, k, opts...)
	require.NoError(t, err)
	defer func() { require.NoError(t, res.Release()) }()

	labels := res.Labels()
	dists := res.Distances()
	out := make([]testutil.SearchResult, len(labels))
	for i := range labels {
		out[i] = testutil.SearchResult{ID: labels[i], Distance: dists[i]}
	}
	return out
}

// distanceFunc returns the reference metric, normalizing cosine inputs the
// way the index does.
func distanceFunc(t testing.TB, m metric.Metric) metric.Func {
	t.Helper()
	f, err := metric.Provider(m)
	require.NoError(t, err)
	if !m.Normalizes() {
		return f
	}
	return func(a, b []float32) float32 {
		na := make([]float32, len(a))
		nb := make([]float32, len(b))
		metric.NormalizeL2(na, a)
		metric.NormalizeL2(nb, b)
		return f(na, nb)
	}
}
