package buffer

import (
	"math"
	"sync/atomic"
	"unsafe"

	"github.com/hupe1980/hnswbridge/internal/mem"
)

const (
	stateLive int32 = iota
	stateReleased
	stateMoved
)

// Buffer is a fixed-element-width view over a contiguous memory region with
// sequential read and write cursors.
//
// Invariant: 0 <= reader <= writer <= capacity.
type Buffer[T Element] struct {
	data     []byte
	width    int
	capacity int
	writer   int
	reader   int
	mode     Mode
	alloc    *Allocator
	release  func()
	state    atomic.Int32
}

// New allocates a buffer for capacity elements from the default allocator.
func New[T Element](capacity int, mode Mode) (*Buffer[T], error) {
	return NewWith[T](DefaultAllocator(), capacity, mode)
}

// NewWith allocates a buffer for capacity elements from a.
func NewWith[T Element](a *Allocator, capacity int, mode Mode) (*Buffer[T], error) {
	width := WidthOf[T]()
	if capacity < 0 || capacity > math.MaxInt/width {
		return nil, ErrInvalidCapacity
	}

	data, release, err := a.allocate(capacity*width, mode)
	if err != nil {
		return nil, err
	}

	return &Buffer[T]{
		data:     data,
		width:    width,
		capacity: capacity,
		mode:     mode,
		alloc:    a,
		release:  release,
	}, nil
}

// Wrap adopts region as a buffer whose elements are all valid. release is
// invoked exactly once when the buffer is released; it may be nil.
// No bytes are copied. A trailing partial element is ignored.
func Wrap[T Element](region []byte, release func()) *Buffer[T] {
	b := viewOf[T](region)
	b.mode = Wrapped
	b.release = release
	return b
}

// ViewOf returns a borrowed buffer over region. Releasing it frees nothing.
func ViewOf[T Element](region []byte) *Buffer[T] {
	return viewOf[T](region)
}

func viewOf[T Element](region []byte) *Buffer[T] {
	width := WidthOf[T]()
	n := len(region) / width
	return &Buffer[T]{
		data:     region[:n*width:n*width],
		width:    width,
		capacity: n,
		writer:   n,
		mode:     View,
	}
}

// FromSlice copies values into a new pooled buffer from the default
// allocator. The returned buffer holds len(values) readable elements.
func FromSlice[T Element](values []T) (*Buffer[T], error) {
	b, err := New[T](len(values), Pooled)
	if err != nil {
		return nil, err
	}
	for _, v := range values {
		store(b.data[b.writer*b.width:], v)
		b.writer++
	}
	return b, nil
}

func (b *Buffer[T]) check() error {
	switch b.state.Load() {
	case stateReleased:
		return ErrReleased
	case stateMoved:
		return ErrMoved
	default:
		return nil
	}
}

// Err reports whether the handle is still usable.
func (b *Buffer[T]) Err() error {
	return b.check()
}

// Mode returns where the buffer's memory comes from.
func (b *Buffer[T]) Mode() Mode { return b.mode }

// Width returns the element width in bytes.
func (b *Buffer[T]) Width() int { return b.width }

// Cap returns the capacity in elements.
func (b *Buffer[T]) Cap() int { return b.capacity }

// Len returns the number of valid elements (the write cursor).
func (b *Buffer[T]) Len() int { return b.writer }

// Remaining returns the number of elements left to read.
func (b *Buffer[T]) Remaining() int { return b.writer - b.reader }

// ReaderIndex returns the read cursor.
func (b *Buffer[T]) ReaderIndex() int { return b.reader }

// Write appends v at the write cursor.
func (b *Buffer[T]) Write(v T) error {
	if err := b.check(); err != nil {
		return err
	}
	if b.writer >= b.capacity {
		return ErrOutOfBounds
	}
	store(b.data[b.writer*b.width:], v)
	b.writer++
	return nil
}

// WriteSlice appends all of vs, or nothing if they do not fit.
func (b *Buffer[T]) WriteSlice(vs []T) error {
	if err := b.check(); err != nil {
		return err
	}
	if b.writer+len(vs) > b.capacity {
		return ErrOutOfBounds
	}
	for _, v := range vs {
		store(b.data[b.writer*b.width:], v)
		b.writer++
	}
	return nil
}

// WriteFrom appends the unread elements of src and advances its read cursor.
func (b *Buffer[T]) WriteFrom(src *Buffer[T]) error {
	if err := b.check(); err != nil {
		return err
	}
	if err := src.check(); err != nil {
		return err
	}
	n := src.Remaining()
	if b.writer+n > b.capacity {
		return ErrOutOfBounds
	}
	copy(b.data[b.writer*b.width:], src.data[src.reader*src.width:src.writer*src.width])
	b.writer += n
	src.reader += n
	return nil
}

// WriteZero appends n zero elements.
func (b *Buffer[T]) WriteZero(n int) error {
	if err := b.check(); err != nil {
		return err
	}
	if n < 0 || b.writer+n > b.capacity {
		return ErrOutOfBounds
	}
	clear(b.data[b.writer*b.width : (b.writer+n)*b.width])
	b.writer += n
	return nil
}

// Read returns the element at the read cursor and advances it.
func (b *Buffer[T]) Read() (T, error) {
	var zero T
	if err := b.check(); err != nil {
		return zero, err
	}
	if b.reader >= b.writer {
		return zero, ErrOutOfBounds
	}
	v := load[T](b.data[b.reader*b.width:])
	b.reader++
	return v, nil
}

// Get returns the element at index i without moving either cursor.
// Any index below the capacity is addressable.
func (b *Buffer[T]) Get(i int) (T, error) {
	var zero T
	if err := b.check(); err != nil {
		return zero, err
	}
	if i < 0 || i >= b.capacity {
		return zero, ErrOutOfBounds
	}
	return load[T](b.data[i*b.width:]), nil
}

// Set stores v at index i without moving either cursor.
func (b *Buffer[T]) Set(i int, v T) error {
	if err := b.check(); err != nil {
		return err
	}
	if i < 0 || i >= b.capacity {
		return ErrOutOfBounds
	}
	store(b.data[i*b.width:], v)
	return nil
}

// SetWriterIndex declares the first n elements valid, typically after the
// region was filled through Elems or Bytes by a side channel.
func (b *Buffer[T]) SetWriterIndex(n int) error {
	if err := b.check(); err != nil {
		return err
	}
	if n < 0 || n > b.capacity {
		return ErrOutOfBounds
	}
	b.writer = n
	if b.reader > n {
		b.reader = n
	}
	return nil
}

// SetReaderIndex moves the read cursor.
func (b *Buffer[T]) SetReaderIndex(n int) error {
	if err := b.check(); err != nil {
		return err
	}
	if n < 0 || n > b.writer {
		return ErrOutOfBounds
	}
	b.reader = n
	return nil
}

// Reset clears both cursors.
func (b *Buffer[T]) Reset() {
	b.writer, b.reader = 0, 0
}

// Bytes returns the valid region (up to the write cursor) without copying.
// The slice is only valid while the buffer is live.
func (b *Buffer[T]) Bytes() []byte {
	if b.check() != nil {
		return nil
	}
	return b.data[:b.writer*b.width]
}

// Region returns the full capacity of the underlying memory without copying.
func (b *Buffer[T]) Region() []byte {
	if b.check() != nil {
		return nil
	}
	return b.data
}

// Elems returns a typed zero-copy view over the full capacity. It requires
// a little-endian host and a region aligned for T.
func (b *Buffer[T]) Elems() ([]T, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	if b.capacity == 0 {
		return nil, nil
	}
	if !littleEndianHost || !mem.IsAligned(b.data, b.width) {
		return nil, ErrMisaligned
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&b.data[0])), b.capacity), nil //nolint:gosec // aligned typed view
}

// ToSlice copies the valid elements into a new slice.
func (b *Buffer[T]) ToSlice() ([]T, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	out := make([]T, b.writer)
	for i := range out {
		out[i] = load[T](b.data[i*b.width:])
	}
	return out, nil
}

// Grow returns a buffer with at least newCap capacity holding the same valid
// elements and cursors, and releases b. Views and wrapped buffers grow into
// pooled memory from the default allocator. If newCap fits, b itself is
// returned.
func (b *Buffer[T]) Grow(newCap int) (*Buffer[T], error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	if newCap <= b.capacity {
		return b, nil
	}

	alloc, mode := b.alloc, b.mode
	if alloc == nil || (mode != Pooled && mode != Unpooled) {
		alloc, mode = DefaultAllocator(), Pooled
	}

	nb, err := NewWith[T](alloc, newCap, mode)
	if err != nil {
		return nil, err
	}
	copy(nb.data, b.data[:b.writer*b.width])
	nb.writer, nb.reader = b.writer, b.reader

	if err := b.Release(); err != nil {
		_ = nb.Release()
		return nil, err
	}
	return nb, nil
}

// Move transfers ownership of the memory to a new handle. The old handle
// becomes unusable and releasing it reports ErrMoved.
func (b *Buffer[T]) Move() (*Buffer[T], error) {
	if !b.state.CompareAndSwap(stateLive, stateMoved) {
		return nil, b.check()
	}
	nb := &Buffer[T]{
		data:     b.data,
		width:    b.width,
		capacity: b.capacity,
		writer:   b.writer,
		reader:   b.reader,
		mode:     b.mode,
		alloc:    b.alloc,
		release:  b.release,
	}
	b.data, b.release = nil, nil
	return nb, nil
}

// Release gives the memory back to its owner. It succeeds exactly once per
// handle; later calls return ErrReleased (or ErrMoved) and free nothing.
func (b *Buffer[T]) Release() error {
	if !b.state.CompareAndSwap(stateLive, stateReleased) {
		return b.check()
	}
	release := b.release
	b.data, b.release = nil, nil
	b.writer, b.reader = 0, 0
	if release != nil {
		release()
	}
	return nil
}

// Released reports whether the handle no longer owns memory.
func (b *Buffer[T]) Released() bool {
	return b.state.Load() != stateLive
}
