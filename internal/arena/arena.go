package arena

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/hnswbridge/internal/mmap"
)

// MemoryAcquirer is implemented by resource controllers that account for
// chunk memory. TryAcquireMemory must not block.
type MemoryAcquirer interface {
	TryAcquireMemory(amount int64) error
	ReleaseMemory(amount int64)
}

var (
	// ErrClosed is returned when allocating from or pinning a closed arena.
	ErrClosed = errors.New("arena: closed")
	// ErrInvalidSlotSize is returned for non-positive slot sizes.
	ErrInvalidSlotSize = errors.New("arena: slot size must be positive")
)

// DefaultChunkSize is the target size of one mapping.
const DefaultChunkSize = 1 << 20

// Stats tracks arena memory usage.
type Stats struct {
	Slots         int
	Chunks        int
	BytesReserved int64
	Pins          int64
}

// Arena is a chunked, fixed-slot allocator. Alloc is serialized internally;
// Slot may be called concurrently with Alloc.
type Arena struct {
	slotSize      int
	slotsPerChunk int
	acquirer      MemoryAcquirer

	mu     sync.RWMutex
	chunks []*mmap.Mapping
	slots  int

	pins   atomic.Int64
	closed atomic.Bool
	freed  atomic.Bool
}

// Option configures an Arena.
type Option func(*Arena)

// WithMemoryAcquirer charges chunk memory to acquirer.
func WithMemoryAcquirer(acquirer MemoryAcquirer) Option {
	return func(a *Arena) {
		a.acquirer = acquirer
	}
}

// WithChunkSize sets the target chunk size in bytes. A chunk always holds
// at least one slot.
func WithChunkSize(size int) Option {
	return func(a *Arena) {
		if size > 0 {
			a.slotsPerChunk = max(1, size/a.slotSize)
		}
	}
}

// New creates an arena of slotSize-byte records.
func New(slotSize int, optFns ...Option) (*Arena, error) {
	if slotSize <= 0 {
		return nil, ErrInvalidSlotSize
	}
	a := &Arena{
		slotSize:      slotSize,
		slotsPerChunk: max(1, DefaultChunkSize/slotSize),
	}
	for _, fn := range optFns {
		fn(a)
	}
	return a, nil
}

// SlotSize returns the size of one record in bytes.
func (a *Arena) SlotSize() int { return a.slotSize }

// Len returns the number of allocated slots.
func (a *Arena) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.slots
}

// Alloc reserves the next slot and returns its index and zeroed memory.
// Growing past the acquirer's budget fails instead of waiting, since
// callers typically hold their own write lock.
func (a *Arena) Alloc(ctx context.Context) (int, []byte, error) {
	if a.closed.Load() {
		return 0, nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	idx := a.slots
	chunk, off := idx/a.slotsPerChunk, idx%a.slotsPerChunk
	if chunk == len(a.chunks) {
		if err := a.growLocked(); err != nil {
			return 0, nil, err
		}
	}
	a.slots++

	start := off * a.slotSize
	return idx, a.chunks[chunk].Bytes()[start : start+a.slotSize : start+a.slotSize], nil
}

func (a *Arena) growLocked() error {
	size := a.slotsPerChunk * a.slotSize
	if a.acquirer != nil {
		if err := a.acquirer.TryAcquireMemory(int64(size)); err != nil {
			return fmt.Errorf("arena: reserve chunk: %w", err)
		}
	}
	m, err := mmap.MapAnon(size)
	if err != nil {
		if a.acquirer != nil {
			a.acquirer.ReleaseMemory(int64(size))
		}
		return fmt.Errorf("arena: map chunk: %w", err)
	}
	_ = m.Advise(mmap.AccessRandom)
	a.chunks = append(a.chunks, m)
	return nil
}

// Slot returns the record at idx, or nil if idx was never allocated or the
// memory has been unmapped.
func (a *Arena) Slot(idx int) []byte {
	if a.freed.Load() {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if idx < 0 || idx >= a.slots {
		return nil
	}
	chunk, off := idx/a.slotsPerChunk, idx%a.slotsPerChunk
	start := off * a.slotSize
	data := a.chunks[chunk].Bytes()
	if data == nil {
		return nil
	}
	return data[start : start+a.slotSize : start+a.slotSize]
}

// Pin keeps the memory mapped until the matching Unpin, even across Close.
// It fails once the arena is closed.
func (a *Arena) Pin() error {
	a.pins.Add(1)
	if a.closed.Load() {
		a.Unpin()
		return ErrClosed
	}
	return nil
}

// Unpin drops a pin taken with Pin.
func (a *Arena) Unpin() {
	if a.pins.Add(-1) == 0 && a.closed.Load() {
		a.free()
	}
}

// Close marks the arena closed. The memory is unmapped immediately if no
// pins are held, otherwise when the last pin is dropped. Close is
// idempotent.
func (a *Arena) Close() error {
	if a.closed.Swap(true) {
		return nil
	}
	if a.pins.Load() == 0 {
		return a.free()
	}
	return nil
}

// Freed reports whether the memory has been unmapped.
func (a *Arena) Freed() bool {
	return a.freed.Load()
}

func (a *Arena) free() error {
	if a.freed.Swap(true) {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	for _, m := range a.chunks {
		if err := m.Close(); err != nil {
			errs = append(errs, err)
		}
		if a.acquirer != nil {
			a.acquirer.ReleaseMemory(int64(m.Size()))
		}
	}
	a.chunks = nil
	a.slots = 0
	return errors.Join(errs...)
}

// Stats returns a snapshot of arena usage.
func (a *Arena) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return Stats{
		Slots:         a.slots,
		Chunks:        len(a.chunks),
		BytesReserved: int64(len(a.chunks) * a.slotsPerChunk * a.slotSize),
		Pins:          a.pins.Load(),
	}
}
