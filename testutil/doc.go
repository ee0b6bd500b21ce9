// Package testutil provides testing utilities for hnswbridge.
//
// This package is intended for use in tests and benchmarks only.
// It provides helpers for generating random vectors, computing exact
// nearest neighbors, and verifying search recall.
//
// # Random Vector Generation
//
//	rng := testutil.NewRNG(seed)
//	vec := make([]float32, 128)
//	rng.FillUniform(vec)      // uniform [0, 1)
//	vecs := rng.UnitVectors(100, 128)
//
// # Exact Search (Ground Truth)
//
//	results := testutil.ExactTopK(query, dataset, k, metric.SquaredL2)
//
// # Recall Verification
//
//	recall := testutil.ComputeRecall(exactResults, approxResults)
package testutil
