package buffer

import (
	"fmt"
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/hnswbridge/internal/mem"
	"github.com/hupe1980/hnswbridge/internal/mmap"
	"github.com/hupe1980/hnswbridge/resource"
)

// Mode selects where a buffer's memory comes from.
type Mode int

const (
	// Pooled draws from the allocator's size-classed pool.
	Pooled Mode = iota
	// Unpooled maps a dedicated off-heap region.
	Unpooled
	// Wrapped adopts an external region and its release callback.
	Wrapped
	// View borrows a region without release responsibility.
	View
)

func (m Mode) String() string {
	switch m {
	case Pooled:
		return "pooled"
	case Unpooled:
		return "unpooled"
	case Wrapped:
		return "wrapped"
	case View:
		return "view"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

const (
	minClassShift = 6  // 64 B
	maxClassShift = 24 // 16 MiB
	numClasses    = maxClassShift - minClassShift + 1
)

// Allocator hands out buffer memory and accounts for it against an optional
// resource controller. It is safe for concurrent use.
type Allocator struct {
	rc    *resource.Controller
	pools [numClasses]sync.Pool

	outstanding atomic.Int64
	allocs      atomic.Int64
	reuses      atomic.Int64
}

// NewAllocator creates an allocator. rc may be nil for unlimited memory.
func NewAllocator(rc *resource.Controller) *Allocator {
	return &Allocator{rc: rc}
}

var defaultAllocator = sync.OnceValue(func() *Allocator {
	return NewAllocator(nil)
})

// DefaultAllocator returns the process-wide allocator used by New.
func DefaultAllocator() *Allocator {
	return defaultAllocator()
}

// AllocatorStats is a snapshot of allocator counters.
type AllocatorStats struct {
	// Outstanding is the number of allocations not yet released.
	Outstanding int64
	// Allocs counts fresh allocations.
	Allocs int64
	// Reuses counts pooled blocks served from the pool.
	Reuses int64
	// ReservedBytes is the memory currently charged to the controller.
	ReservedBytes int64
}

// Stats returns a snapshot of the allocator counters.
func (a *Allocator) Stats() AllocatorStats {
	return AllocatorStats{
		Outstanding:   a.outstanding.Load(),
		Allocs:        a.allocs.Load(),
		Reuses:        a.reuses.Load(),
		ReservedBytes: a.rc.MemoryUsage(),
	}
}

// allocate returns a zeroed region of at least size bytes and the function
// that gives it back. The release function must be called exactly once.
func (a *Allocator) allocate(size int, mode Mode) ([]byte, func(), error) {
	switch mode {
	case Pooled:
		return a.allocatePooled(size)
	case Unpooled:
		return a.allocateUnpooled(size)
	default:
		return nil, nil, fmt.Errorf("buffer: cannot allocate in %s mode", mode)
	}
}

func sizeClass(size int) (int, bool) {
	if size <= 1<<minClassShift {
		return 0, true
	}
	shift := bits.Len(uint(size - 1))
	if shift > maxClassShift {
		return 0, false
	}
	return shift - minClassShift, true
}

func (a *Allocator) allocatePooled(size int) ([]byte, func(), error) {
	class, ok := sizeClass(size)
	if !ok {
		// Too large to pool; keep it off the heap instead.
		return a.allocateUnpooled(size)
	}
	blockSize := 1 << (class + minClassShift)

	if err := a.rc.TryAcquireMemory(int64(blockSize)); err != nil {
		return nil, nil, err
	}

	var block []byte
	if p, _ := a.pools[class].Get().(*[]byte); p != nil {
		block = *p
		clear(block)
		a.reuses.Add(1)
	} else {
		block = mem.AllocAligned(blockSize)
		a.allocs.Add(1)
	}
	a.outstanding.Add(1)

	release := func() {
		a.pools[class].Put(&block)
		a.rc.ReleaseMemory(int64(blockSize))
		a.outstanding.Add(-1)
	}
	return block[:size], release, nil
}

func (a *Allocator) allocateUnpooled(size int) ([]byte, func(), error) {
	if size == 0 {
		a.outstanding.Add(1)
		return nil, func() { a.outstanding.Add(-1) }, nil
	}

	if err := a.rc.TryAcquireMemory(int64(size)); err != nil {
		return nil, nil, err
	}

	m, err := mmap.MapAnon(size)
	if err != nil {
		a.rc.ReleaseMemory(int64(size))
		return nil, nil, err
	}
	a.allocs.Add(1)
	a.outstanding.Add(1)

	release := func() {
		_ = m.Close()
		a.rc.ReleaseMemory(int64(size))
		a.outstanding.Add(-1)
	}
	return m.Bytes(), release, nil
}
