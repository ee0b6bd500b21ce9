// Package hnsw implements Hierarchical Navigable Small World graphs over
// vectors held by the caller.
//
// The graph stores topology only. Vectors are fetched through the Vectors
// interface, so storage precision and layout stay with the owner.
//
// # Concurrency
//
// Insert and Restore must be serialized by the caller and must not run
// concurrently with Search. Concurrent Search calls are safe as long as
// each uses its own searcher.
//
// # Parameters
//
//   - M: Max connections per node on upper layers; layer 0 allows 2*M
//   - EFConstruction: Candidate list size during insertion
//   - EF: Candidate list size during search (at least k)
//
// # Reference
//
// Malkov & Yashunin, "Efficient and robust approximate nearest neighbor search
// using Hierarchical Navigable Small World graphs", IEEE TPAMI 2018.
package hnsw
