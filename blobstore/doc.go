// Package blobstore abstracts where index snapshots live.
//
// A BlobStore holds named, immutable blobs. Indexes write snapshots through
// Create and read them back through Open, so the same snapshot can move
// between the local file system, memory and object storage.
//
// # Built-in Implementations
//
//   - LocalStore: local file system, reads through mmap
//   - MemoryStore: in-process, for tests and ephemeral indexes
//   - CachingStore: block cache in front of any remote store
//   - s3.Store and s3.CommitStore: Amazon S3, optionally with a DynamoDB
//     pointer to the latest snapshot
//   - minio.Store: MinIO and other S3-compatible services
package blobstore
