// Package mmap provides memory-mapped file access and anonymous off-heap
// regions.
//
// # Usage
//
//	m, err := mmap.Open("index.snap")
//	if err != nil { ... }
//	defer m.Close()
//
//	data := m.Bytes() // zero-copy view of the file
//
// Anonymous mappings back unpooled buffers and the engine's item arena:
//
//	m, err := mmap.MapAnon(1 << 20)
//	defer m.Close()
//
// # Platform Support
//
//   - Unix (Linux, macOS, BSD): mmap(2) with madvise(2) for access hints
//   - Windows: CreateFileMapping/MapViewOfFile and VirtualAlloc (Advise is a no-op)
//
// # Thread Safety
//
// Close is idempotent. Callers must ensure no goroutine touches Bytes()
// after Close returns.
package mmap
