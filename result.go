package hnswbridge

import (
	"errors"
	"fmt"

	"github.com/hupe1980/hnswbridge/buffer"
)

// Result is the answer to a k-NN query: ids, distances and vectors in
// ascending distance order. It owns every vector buffer until the buffer is
// taken with TakeVector; Release frees the rest.
//
// A Result is not safe for concurrent use.
type Result[T buffer.Element] struct {
	labels    []uint64
	distances []float32
	// a nil slot was taken by the caller
	vectors  []*buffer.Buffer[T]
	released bool
}

func newResult[T buffer.Element](labels []uint64, distances []float32, vectors []*buffer.Buffer[T]) *Result[T] {
	return &Result[T]{labels: labels, distances: distances, vectors: vectors}
}

// Len returns the number of results.
func (r *Result[T]) Len() int { return len(r.labels) }

func (r *Result[T]) check(i int) error {
	if r.released {
		return buffer.ErrReleased
	}
	if i < 0 || i >= len(r.labels) {
		return fmt.Errorf("%w: result %d of %d", ErrOutOfBounds, i, len(r.labels))
	}
	return nil
}

// Label returns the id of result i.
func (r *Result[T]) Label(i int) (uint64, error) {
	if err := r.check(i); err != nil {
		return 0, err
	}
	return r.labels[i], nil
}

// Distance returns the distance of result i to the query.
func (r *Result[T]) Distance(i int) (float32, error) {
	if err := r.check(i); err != nil {
		return 0, err
	}
	return r.distances[i], nil
}

// Labels returns a copy of all result ids.
func (r *Result[T]) Labels() []uint64 {
	return append([]uint64(nil), r.labels...)
}

// Distances returns a copy of all result distances.
func (r *Result[T]) Distances() []float32 {
	return append([]float32(nil), r.distances...)
}

// Vector borrows the vector of result i. It stays owned by the result and
// is invalid after Release.
func (r *Result[T]) Vector(i int) (*buffer.Buffer[T], error) {
	if err := r.check(i); err != nil {
		return nil, err
	}
	if r.vectors[i] == nil {
		return nil, ErrSlotTaken
	}
	return r.vectors[i], nil
}

// TakeVector transfers ownership of result i's vector to the caller, who
// must release it. Release skips taken slots.
func (r *Result[T]) TakeVector(i int) (*buffer.Buffer[T], error) {
	v, err := r.Vector(i)
	if err != nil {
		return nil, err
	}
	r.vectors[i] = nil
	return v, nil
}

// Release frees every vector still owned by the result. A second call
// returns buffer.ErrReleased.
func (r *Result[T]) Release() error {
	if r.released {
		return buffer.ErrReleased
	}
	r.released = true

	var errs []error
	for i, v := range r.vectors {
		if v == nil {
			continue
		}
		if err := v.Release(); err != nil {
			errs = append(errs, fmt.Errorf("result %d: %w", i, err))
		}
		r.vectors[i] = nil
	}
	return errors.Join(errs...)
}
