package testutil

import (
	"math/rand"
	"sort"
	"sync"

	"github.com/hupe1980/hnswbridge/buffer"
	"github.com/hupe1980/hnswbridge/metric"
)

// SearchResult represents a search result.
type SearchResult struct {
	ID       uint64
	Distance float32
}

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)), //nolint:gosec // deterministic test data
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand = rand.New(rand.NewSource(r.seed)) //nolint:gosec // deterministic test data
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Float32 returns, as a float32, a pseudo-random number in [0.0,1.0).
func (r *RNG) Float32() float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float32()
}

// FillUniform fills dst with random values in range [0, 1).
// Locks only once per call (preferred over calling Float32 in a loop).
func (r *RNG) FillUniform(dst []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range dst {
		dst[i] = r.rand.Float32()
	}
}

// vectors fills num vectors of dim components from gen, using a single
// backing array.
func (r *RNG) vectors(num, dim int, gen func() float32) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dim)
	out := make([][]float32, num)
	for i := range num {
		vec := data[i*dim : (i+1)*dim]
		for j := range vec {
			vec[j] = gen()
		}
		out[i] = vec
	}
	return out
}

// UniformVectors generates random vectors with values in range [0, 1).
func (r *RNG) UniformVectors(num, dim int) [][]float32 {
	return r.vectors(num, dim, func() float32 { return r.rand.Float32() })
}

// UniformRangeVectors generates random vectors with values in range [-1, 1).
func (r *RNG) UniformRangeVectors(num, dim int) [][]float32 {
	return r.vectors(num, dim, func() float32 { return r.rand.Float32()*2 - 1 })
}

// GaussianVectors generates random vectors from a standard normal distribution.
func (r *RNG) GaussianVectors(num, dim int) [][]float32 {
	return r.vectors(num, dim, func() float32 { return float32(r.rand.NormFloat64()) })
}

// UnitVectors generates L2-normalized random vectors (on the hypersphere).
// Uses Gaussian distribution for uniform distribution on the sphere.
func (r *RNG) UnitVectors(num, dim int) [][]float32 {
	vecs := r.GaussianVectors(num, dim)
	for _, v := range vecs {
		metric.NormalizeL2(v, v)
	}
	return vecs
}

// ClusteredVectors generates vectors clustered around random centroids.
// Useful for testing ANN index quality on non-uniform data.
func (r *RNG) ClusteredVectors(num, dim, clusters int, spread float32) [][]float32 {
	centroids := r.UnitVectors(clusters, dim)

	i := 0
	return r.vectors(num, dim, func() float32 {
		c := centroids[(i/dim)%clusters]
		v := c[i%dim] + float32(r.rand.NormFloat64())*spread
		i++
		return v
	})
}

// Buffer copies v into a pooled float32 buffer. The test must release it.
func Buffer(v []float32) *buffer.Buffer[float32] {
	b, err := buffer.FromSlice(v)
	if err != nil {
		panic(err)
	}
	return b
}

// ExactTopK returns the k nearest entries of dataset to query under dist,
// using the slice index as id. Ties keep dataset order.
func ExactTopK(query []float32, dataset [][]float32, k int, dist metric.Func) []SearchResult {
	all := make([]SearchResult, len(dataset))
	for i, v := range dataset {
		all[i] = SearchResult{ID: uint64(i), Distance: dist(query, v)}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Distance < all[j].Distance })
	return all[:min(k, len(all))]
}

// ComputeRecall computes recall@k by comparing approximate results against ground truth.
func ComputeRecall(groundTruth, approximate []SearchResult) float64 {
	if len(groundTruth) == 0 || len(approximate) == 0 {
		if len(groundTruth) == 0 && len(approximate) == 0 {
			return 1.0
		}
		return 0.0
	}

	k := min(len(approximate), len(groundTruth))

	truthSet := make(map[uint64]struct{}, k)
	for i := range k {
		truthSet[groundTruth[i].ID] = struct{}{}
	}

	hits := 0
	for _, r := range approximate {
		if _, ok := truthSet[r.ID]; ok {
			hits++
		}
	}

	return float64(hits) / float64(k)
}
