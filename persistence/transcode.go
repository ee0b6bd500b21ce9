package persistence

import (
	"context"
	"fmt"
	"runtime"

	"github.com/hupe1980/hnswbridge/codec"
	"golang.org/x/sync/errgroup"
)

// minChunk is the smallest number of vectors handed to one worker.
const minChunk = 256

// Transcode re-encodes count vectors from src's precision into dst's. If
// dst needs training and has no parameters yet, it is trained on the
// decoded vectors first. Work is split over at most parallelism goroutines;
// parallelism <= 0 means GOMAXPROCS.
func Transcode(ctx context.Context, src, dst *codec.Codec, data []byte, count, parallelism int) ([]byte, error) {
	if src.Dimension() != dst.Dimension() {
		return nil, &codec.ErrDimensionMismatch{Expected: dst.Dimension(), Actual: src.Dimension()}
	}
	if want := count * src.EncodedSize(); len(data) != want {
		return nil, fmt.Errorf("persistence: transcode input is %d bytes, want %d", len(data), want)
	}
	if count == 0 {
		return []byte{}, nil
	}
	if parallelism <= 0 {
		parallelism = runtime.GOMAXPROCS(0)
	}

	dim := src.Dimension()
	decoded := make([]float32, count*dim)
	if err := parallelChunks(ctx, count, parallelism, func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			if err := src.DecodeSlice(decoded[i*dim:(i+1)*dim], data[i*src.EncodedSize():(i+1)*src.EncodedSize()]); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if dst.NeedsTraining() {
		views := make([][]float32, count)
		for i := range views {
			views[i] = decoded[i*dim : (i+1)*dim]
		}
		if err := dst.Train(views); err != nil {
			return nil, err
		}
	}

	out := make([]byte, count*dst.EncodedSize())
	if err := parallelChunks(ctx, count, parallelism, func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			if err := dst.EncodeSlice(out[i*dst.EncodedSize():(i+1)*dst.EncodedSize()], decoded[i*dim:(i+1)*dim]); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return out, nil
}

func parallelChunks(ctx context.Context, n, parallelism int, fn func(lo, hi int) error) error {
	chunk := max(minChunk, (n+parallelism-1)/parallelism)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(lo, hi)
		})
	}
	return g.Wait()
}
