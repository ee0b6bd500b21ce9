// Package persistence defines the snapshot stream an index is saved to and
// loaded from.
//
// A snapshot is a fixed 64-byte header followed by a block-compressed
// payload and a CRC32C trailer:
//
//	+----------------------+
//	| header (64 bytes)    |  magic, version, metric, precision, dimension, ...
//	+----------------------+
//	| block 0 .. block n   |  [raw u32][stored u32][bytes]; stored == 0 means raw
//	| end block            |  [0][0]
//	+----------------------+
//	| crc32c u32           |  over the uncompressed payload
//	+----------------------+
//
// The payload holds, in order: Float8 parameters (if any), labels, encoded
// vectors, and the graph topology (graph snapshots only).
//
// All integers are little-endian.
package persistence
