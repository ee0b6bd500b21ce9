package metric

import (
	"math"
)

// Dot returns the dot product of a and b.
func Dot(a, b []float32) float32 {
	var sum float32
	b = b[:len(a)]
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// SquaredL2 returns the squared Euclidean distance between a and b.
func SquaredL2(a, b []float32) float32 {
	var sum float32
	b = b[:len(a)]
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// L2NormSquared returns dot(v, v).
func L2NormSquared(v []float32) float32 {
	return Dot(v, v)
}

// InnerProductDistance returns 1 - dot(a, b).
func InnerProductDistance(a, b []float32) float32 {
	return 1 - Dot(a, b)
}

// KendallDistance returns 1 - tau over all component pairs. A pair counts
// +1 when both vectors order it strictly the same way and -1 otherwise, so
// ties are discordant. Vectors shorter than two components have distance 0
// to each other.
func KendallDistance(a, b []float32) float32 {
	n := len(a)
	if n < 2 {
		return 0
	}
	b = b[:n]

	var score int
	for i := 0; i < n-1; i++ {
		for j := i + 1; j < n; j++ {
			if (a[i] < a[j] && b[i] < b[j]) || (a[i] > a[j] && b[i] > b[j]) {
				score++
			} else {
				score--
			}
		}
	}
	pairs := n * (n - 1) / 2
	return 1 - float32(score)/float32(pairs)
}

// NormalizeL2 writes v / |v| into dst. A zero vector stays zero.
// dst and v may alias.
func NormalizeL2(dst, v []float32) {
	norm := float32(math.Sqrt(float64(Dot(v, v))))
	inv := 1 / (norm + 1e-30)
	for i, x := range v {
		dst[i] = x * inv
	}
}
