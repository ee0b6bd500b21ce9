// Package mem provides aligned heap allocation for pooled buffers.
//
// Pooled buffer memory is 64-byte aligned so that every element type a
// buffer can hold (up to 8 bytes wide) is naturally aligned and typed views
// over the bytes are valid.
package mem
