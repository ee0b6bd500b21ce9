// Package metric defines the distance metrics an index can be built with and
// their float32 kernels.
//
// # Supported Metrics
//
//   - Euclidean: squared L2 distance
//   - Cosine: vectors are L2-normalized on the way in, then compared with
//     the inner-product distance
//   - InnerProduct: 1 - dot(a, b)
//   - Kendall: 1 - tau, where tau is Kendall's rank correlation with ties
//     counted as discordant
//
// Smaller is always closer.
package metric
