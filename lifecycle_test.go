package hnswbridge

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/hnswbridge/blobstore"
	"github.com/hupe1980/hnswbridge/buffer"
	"github.com/hupe1980/hnswbridge/metric"
	"github.com/hupe1980/hnswbridge/precision"
	"github.com/hupe1980/hnswbridge/testutil"
)

// TestNoGoroutineLeaks verifies that batch inserts and snapshot IO leave no
// goroutines behind once the index is unloaded.
func TestNoGoroutineLeaks(t *testing.T) {
	const maxLeaks = 2

	runtime.GC()
	time.Sleep(50 * time.Millisecond)
	initial := runtime.NumGoroutine()

	ctx := context.Background()
	idx := newTestIndex(t, metric.Euclidean, 32, precision.Float16, ModeGraph)

	rng := testutil.NewRNG(7)
	vecs := rng.UniformVectors(200, 32)
	bufs := make([]*buffer.Buffer[float32], len(vecs))
	ids := make([]uint64, len(vecs))
	for i, v := range vecs {
		bufs[i] = testutil.Buffer(v)
		ids[i] = uint64(i)
	}
	n, err := idx.AddItems(ctx, bufs, ids)
	require.NoError(t, err)
	require.Equal(t, len(vecs), n)
	for _, b := range bufs {
		require.NoError(t, b.Release())
	}

	store := blobstore.NewMemoryStore()
	require.NoError(t, idx.Save(ctx, store, "leak.snap"))
	require.NoError(t, idx.Unload())

	reopened, err := Open(ctx, store, "leak.snap", precision.Float32)
	require.NoError(t, err)
	require.NoError(t, reopened.Unload())

	deadline := time.Now().Add(2 * time.Second)
	var leaked int
	for {
		runtime.GC()
		time.Sleep(50 * time.Millisecond)
		leaked = runtime.NumGoroutine() - initial
		if leaked <= maxLeaks || time.Now().After(deadline) {
			break
		}
	}

	if leaked > maxLeaks {
		buf := make([]byte, 1<<20)
		n := runtime.Stack(buf, true)
		t.Fatalf("goroutine leak: %d extra goroutines\n%s", leaked, buf[:n])
	}
}

// TestUnloadIsNotIdempotent verifies that a second Unload reports the
// state error instead of touching the engine again.
func TestUnloadIsNotIdempotent(t *testing.T) {
	idx, err := New(metric.Euclidean, 4, precision.Float32, ModeBruteforce)
	require.NoError(t, err)
	require.NoError(t, idx.InitBruteforce(0))

	require.NoError(t, idx.Unload())
	assert.ErrorIs(t, idx.Unload(), ErrInvalidState)
	assert.Equal(t, 0, idx.Count())
}

func TestNeedsTrainingAfterUnload(t *testing.T) {
	idx, err := New(metric.Euclidean, 4, precision.Float8, ModeBruteforce)
	require.NoError(t, err)
	require.NoError(t, idx.InitBruteforce(0))
	require.True(t, idx.NeedsTraining())

	require.NoError(t, idx.Unload())
	assert.False(t, idx.NeedsTraining())
	assert.ErrorIs(t, idx.Train([][]float32{{0, 0, 0, 0}, {1, 1, 1, 1}}), ErrInvalidState)
}

// TestConcurrentSearchAndInsert runs readers against a writer. Every search
// must return a consistent, sorted result.
func TestConcurrentSearchAndInsert(t *testing.T) {
	const (
		dim     = 16
		items   = 300
		readers = 4
	)

	idx := newTestIndex(t, metric.Euclidean, dim, precision.Float32, ModeGraph)
	rng := testutil.NewRNG(11)
	vecs := rng.UniformVectors(items, dim)
	addVector(t, idx, vecs[0], 0)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	errs := make(chan error, readers)

	for r := range readers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q := testutil.Buffer(vecs[r])
			defer func() { _ = q.Release() }()

			for {
				select {
				case <-stop:
					return
				default:
				}
				res, err := idx.Search(q, 5)
				if err != nil {
					errs <- err
					return
				}
				d := res.Distances()
				for i := 1; i < len(d); i++ {
					if d[i] < d[i-1] {
						errs <- assert.AnError
						_ = res.Release()
						return
					}
				}
				if err := res.Release(); err != nil {
					errs <- err
					return
				}
			}
		}()
	}

	for i := 1; i < items; i++ {
		b := testutil.Buffer(vecs[i])
		require.NoError(t, idx.AddItem(b, uint64(i)))
		require.NoError(t, b.Release())
	}
	close(stop)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, items, idx.Count())
}

// TestUnloadWithActiveReaders verifies that searches racing an Unload
// either succeed or report ErrInvalidState.
func TestUnloadWithActiveReaders(t *testing.T) {
	idx, err := New(metric.Euclidean, 8, precision.Float32, ModeBruteforce)
	require.NoError(t, err)
	require.NoError(t, idx.InitBruteforce(0))
	populate(t, idx, 50, 8)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q := testutil.Buffer(constVector(8, 0.5))
			defer func() { _ = q.Release() }()
			for range 100 {
				res, err := idx.Search(q, 3)
				if err != nil {
					assert.ErrorIs(t, err, ErrInvalidState)
					return
				}
				assert.NoError(t, res.Release())
			}
		}()
	}

	time.Sleep(time.Millisecond)
	require.NoError(t, idx.Unload())
	wg.Wait()
}
