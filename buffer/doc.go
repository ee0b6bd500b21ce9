// Package buffer provides typed, cursor-based views over contiguous memory
// regions and the process-wide allocator that backs them.
//
// A Buffer holds fixed-width little-endian elements with a write cursor
// (number of valid elements) and a read cursor. Memory comes from one of
// four places:
//
//   - Pooled: size-classed, 64-byte aligned heap blocks recycled through
//     the allocator.
//   - Unpooled: a dedicated anonymous mapping outside the Go heap.
//   - Wrapped: an external region handed over together with its release
//     callback (engine-owned memory, for example).
//   - View: a borrowed region with no release responsibility.
//
// # Ownership
//
// Every buffer handle is in exactly one of three states: live, released or
// moved. Release and Move consume the handle; any later access fails with
// ErrReleased or ErrMoved instead of touching freed memory, and a second
// Release never frees twice. Releasing a view is always safe and frees
// nothing, so callers can release every buffer they receive.
//
// Buffers are not safe for concurrent mutation. Use one buffer per goroutine.
package buffer
