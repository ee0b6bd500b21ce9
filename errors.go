package hnswbridge

import (
	"errors"
	"fmt"

	"github.com/hupe1980/hnswbridge/buffer"
	"github.com/hupe1980/hnswbridge/codec"
	"github.com/hupe1980/hnswbridge/metric"
	"github.com/hupe1980/hnswbridge/native"
	"github.com/hupe1980/hnswbridge/precision"
)

var (
	// ErrOutOfBounds is returned for indexes outside a buffer or result.
	ErrOutOfBounds = buffer.ErrOutOfBounds

	// ErrInvalidState is returned when an operation is not allowed in the
	// index's current lifecycle state.
	ErrInvalidState = errors.New("invalid index state")

	// ErrNativeEngineFailure is returned when the engine fails for a reason
	// the caller cannot correct by changing arguments.
	ErrNativeEngineFailure = errors.New("native engine failure")

	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrSlotTaken is returned when a result slot's vector was already
	// transferred out with TakeVector.
	ErrSlotTaken = errors.New("result slot already taken")
)

// ErrUnsupportedConfiguration indicates a metric, precision or mode the
// index cannot be built with.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrUnsupportedConfiguration struct {
	Field string
	Value any
	cause error
}

func (e *ErrUnsupportedConfiguration) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("unsupported configuration: %s=%v: %v", e.Field, e.Value, e.cause)
	}
	return fmt.Sprintf("unsupported configuration: %s=%v", e.Field, e.Value)
}

func (e *ErrUnsupportedConfiguration) Unwrap() error { return e.cause }

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

func invalidState(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Lifecycle violations reported by the engine.
	switch {
	case errors.Is(err, native.ErrNotInitialized),
		errors.Is(err, native.ErrDestroyed),
		errors.Is(err, native.ErrPopulated),
		errors.Is(err, native.ErrBruteforceDisabled),
		errors.Is(err, precision.ErrNotTrained):
		return fmt.Errorf("%w: %w", ErrInvalidState, err)
	}

	// Dimension and argument normalization.
	var dm *codec.ErrDimensionMismatch
	if errors.As(err, &dm) {
		return &ErrDimensionMismatch{Expected: dm.Expected, Actual: dm.Actual, cause: err}
	}
	if errors.Is(err, native.ErrUnsupportedPrecision) {
		return &ErrUnsupportedConfiguration{Field: "precision", cause: err}
	}
	if errors.Is(err, metric.ErrUnknownMetric) {
		return &ErrUnsupportedConfiguration{Field: "metric", cause: err}
	}
	if errors.Is(err, codec.ErrInvalidDimension) {
		return &ErrUnsupportedConfiguration{Field: "dimension", cause: err}
	}

	// Anything else the engine raised keeps its op context.
	var ne *native.Error
	if errors.As(err, &ne) {
		return fmt.Errorf("%w: %w", ErrNativeEngineFailure, err)
	}

	return err
}
