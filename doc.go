// Package hnswbridge is a client-side layer in front of an approximate
// nearest-neighbor engine. It moves vectors and query results across the
// engine boundary with as little copying as possible, stores vectors at
// Float32, Float16 or trained Float8 precision, and tracks the lifetime of
// every off-heap buffer it hands out.
//
// # Quick Start
//
//	idx, _ := hnswbridge.New(metric.Euclidean, 128, precision.Float16, hnswbridge.ModeGraph)
//	defer idx.Unload()
//
//	_ = idx.InitGraph(hnswbridge.GraphParams{MaxElements: 10_000, M: 16, EFConstruction: 200})
//
//	vec, _ := buffer.FromSlice(embedding)
//	_ = idx.AddItem(vec, 42)
//	_ = vec.Release()
//
//	res, _ := idx.SearchDecoded(query, 10)
//	defer res.Release()
//	for i := 0; i < res.Len(); i++ {
//	    id, _ := res.Label(i)
//	    d, _ := res.Distance(i)
//	    fmt.Println(id, d)
//	}
//
// # Buffers and Ownership
//
// Vectors travel in buffer.Buffer values. GetItem and Search return buffers
// that point straight into engine storage; they must be released, and they
// stay valid until then even if the index is unloaded. A Result owns all of
// its vectors: Release frees them together, TakeVector moves one out to the
// caller.
//
// # Precision
//
// Float16 and Float32 need no preparation. Float8 quantizes each component
// into a trained [min, max] range, so Train must run before the first item:
//
//	if idx.NeedsTraining() {
//	    _ = idx.Train(sample)
//	}
//
// Decoding goes through the index codec. Decode with a per-goroutine
// codec.DecodeContext avoids allocating; GetItemDecoded and SearchDecoded
// return owned copies instead.
//
// # Persistence
//
// Snapshots are written to any blobstore.BlobStore:
//
//	store := blobstore.NewLocalStore("./snapshots")
//	_ = idx.Save(ctx, store, "v1.hnsw")
//
//	idx2, _ := hnswbridge.Open(ctx, store, "v1.hnsw", precision.Float8)
//
// S3 (blobstore/s3) and MinIO (blobstore/minio) stores are available for
// remote snapshots; blobstore.NewCachingStore adds a block cache in front of
// either. A snapshot may be loaded at another precision than it was saved
// with: vectors are decoded and re-encoded on the way in.
//
// # Errors
//
// Lifecycle violations return ErrInvalidState, construction with an
// unsupported metric, precision or mode returns *ErrUnsupportedConfiguration,
// and engine failures wrap ErrNativeEngineFailure around a *native.Error
// that names the failing operation. A missing item is not an error: GetItem
// reports ok=false.
package hnswbridge
