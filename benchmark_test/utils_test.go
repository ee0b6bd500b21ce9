package benchmark_test

import (
	"context"
	"testing"

	"github.com/hupe1980/hnswbridge"
	"github.com/hupe1980/hnswbridge/buffer"
	"github.com/hupe1980/hnswbridge/metric"
	"github.com/hupe1980/hnswbridge/precision"
	"github.com/hupe1980/hnswbridge/testutil"
)

const (
	dimSmall  = 32
	dimMedium = 128
	dimLarge  = 768

	sizeSmall  = 10_000
	sizeMedium = 50_000

	benchSeed = 4711
)

var precisions = []precision.Precision{precision.Float32, precision.Float16, precision.Float8}

// openBenchIndex returns an initialized, empty index. It is unloaded when
// the benchmark ends.
func openBenchIndex(b *testing.B, m metric.Metric, p precision.Precision, mode hnswbridge.Mode, dim, capacity int, opts ...hnswbridge.Option) *hnswbridge.Index {
	b.Helper()

	idx, err := hnswbridge.New(m, dim, p, mode, opts...)
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = idx.Unload() })

	if mode == hnswbridge.ModeGraph {
		err = idx.InitGraph(hnswbridge.GraphParams{MaxElements: capacity, M: 16, EFConstruction: 100, RandomSeed: benchSeed})
	} else {
		err = idx.InitBruteforce(capacity)
	}
	if err != nil {
		b.Fatal(err)
	}
	return idx
}

// loadData fills idx with n uniform vectors and returns them.
func loadData(b *testing.B, idx *hnswbridge.Index, n int) [][]float32 {
	b.Helper()

	data := testutil.NewRNG(benchSeed).UniformVectors(n, idx.Dimension())
	if idx.NeedsTraining() {
		if err := idx.Train(data); err != nil {
			b.Fatal(err)
		}
	}

	bufs := make([]*buffer.Buffer[float32], n)
	ids := make([]uint64, n)
	for i, v := range data {
		bufs[i] = testutil.Buffer(v)
		ids[i] = uint64(i)
	}
	if _, err := idx.AddItems(context.Background(), bufs, ids); err != nil {
		b.Fatal(err)
	}
	for _, buf := range bufs {
		_ = buf.Release()
	}
	return data
}

// makeQueries returns pooled query buffers, released at cleanup.
func makeQueries(b *testing.B, n, dim int) []*buffer.Buffer[float32] {
	b.Helper()

	vecs := testutil.NewRNG(benchSeed+1).UniformVectors(n, dim)
	qs := make([]*buffer.Buffer[float32], n)
	for i, v := range vecs {
		qs[i] = testutil.Buffer(v)
	}
	b.Cleanup(func() {
		for _, q := range qs {
			_ = q.Release()
		}
	})
	return qs
}

// recallAtK is the fraction of truth ids found in labels.
func recallAtK(labels []uint64, truth []testutil.SearchResult) float64 {
	return testutil.ComputeRecall(truth, toResults(labels))
}

func toResults(labels []uint64) []testutil.SearchResult {
	out := make([]testutil.SearchResult, len(labels))
	for i, l := range labels {
		out[i] = testutil.SearchResult{ID: l}
	}
	return out
}
