package mem

import (
	"unsafe"
)

// Alignment is the byte alignment of every block returned by AllocAligned.
const Alignment = 64

// AllocAligned allocates a zeroed byte slice of the given size whose first
// byte sits on an Alignment boundary. It returns nil for non-positive sizes.
//
// The slice over-allocates by Alignment bytes; the backing array stays alive
// as long as the returned slice does.
func AllocAligned(size int) []byte {
	if size <= 0 {
		return nil
	}

	buf := make([]byte, size+Alignment)

	addr := uintptr(unsafe.Pointer(&buf[0])) //nolint:gosec // alignment arithmetic
	offset := (Alignment - (addr & (Alignment - 1))) & (Alignment - 1)

	return buf[offset : offset+uintptr(size) : offset+uintptr(size)]
}

// IsAligned reports whether the first byte of b is aligned to align bytes.
// Empty slices are considered aligned.
func IsAligned(b []byte, align int) bool {
	if len(b) == 0 || align <= 1 {
		return true
	}
	return uintptr(unsafe.Pointer(&b[0]))%uintptr(align) == 0 //nolint:gosec // alignment check
}
