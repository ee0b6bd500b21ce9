package native

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hupe1980/hnswbridge/buffer"
	"github.com/hupe1980/hnswbridge/codec"
	"github.com/hupe1980/hnswbridge/metric"
	"github.com/hupe1980/hnswbridge/persistence"
	"github.com/hupe1980/hnswbridge/precision"
)

// Algorithm is the search structure an engine was initialized with.
type Algorithm uint8

const (
	// AlgorithmNone means the engine holds no items yet.
	AlgorithmNone Algorithm = iota
	// AlgorithmGraph is an HNSW graph.
	AlgorithmGraph
	// AlgorithmBruteforce is an exhaustive index.
	AlgorithmBruteforce
)

func (a Algorithm) String() string {
	switch a {
	case AlgorithmNone:
		return "none"
	case AlgorithmGraph:
		return "graph"
	case AlgorithmBruteforce:
		return "bruteforce"
	default:
		return fmt.Sprintf("Algorithm(%d)", uint8(a))
	}
}

func (a Algorithm) snapshot() persistence.Algorithm {
	if a == AlgorithmBruteforce {
		return persistence.AlgorithmBruteforce
	}
	return persistence.AlgorithmGraph
}

func algorithmOf(a persistence.Algorithm) Algorithm {
	if a == persistence.AlgorithmBruteforce {
		return AlgorithmBruteforce
	}
	return AlgorithmGraph
}

// GraphParams configures an HNSW graph.
type GraphParams struct {
	MaxElements    int
	M              int
	EFConstruction int
	RandomSeed     int64
}

// Engine is the ANN engine boundary.
type Engine interface {
	Dimension() int
	Metric() metric.Metric
	Precision() precision.Precision
	Algorithm() Algorithm

	// InitGraph installs an empty graph, replacing any previous algorithm.
	InitGraph(p GraphParams) error
	// InitBruteforce installs an empty exhaustive index.
	InitBruteforce(maxElements int) error
	// EnableBruteforceSearch allows exhaustive searches over a graph's items.
	EnableBruteforceSearch() error
	SetEF(ef int) error

	// AddItem stores vector under label. Duplicate labels are rejected.
	AddItem(vector []float32, label uint64) error
	Count() int
	// Labels returns all labels in ascending order.
	Labels() []uint64
	Contains(label uint64) bool
	// Item returns the stored encoded vector of label, or ok=false.
	Item(label uint64) (item *buffer.Buffer[byte], ok bool, err error)

	// Search writes up to len(labels) nearest results into labels,
	// distances and items in ascending distance order and returns how many
	// were written. All three slices must have the same length.
	Search(query []float32, labels []uint64, distances []float32, items []*buffer.Buffer[byte], bruteforce bool) (int, error)

	DistanceBetweenLabels(a, b uint64) (float32, error)
	DistanceBetweenVectors(a, b []float32) (float32, error)

	Encode(dst []byte, src []float32) error
	Decode(dst []float32, src []byte) error
	// Codec returns the codec the engine stores vectors with.
	Codec() *codec.Codec

	NeedsTraining() bool
	Train(vectors [][]float32) error

	Save(w io.Writer, compression persistence.Compression) (int64, error)
	// Load replaces the engine's content with a snapshot. If want is not
	// AlgorithmNone the snapshot must hold that algorithm.
	Load(ctx context.Context, r io.Reader, want Algorithm) error

	// Destroy frees the engine. Later calls fail with ErrDestroyed.
	Destroy() error
}

// Engine errors, wrapped in *Error by every operation.
var (
	ErrNotInitialized       = errors.New("engine not initialized")
	ErrDestroyed            = errors.New("engine destroyed")
	ErrDuplicateLabel       = errors.New("duplicate label")
	ErrCapacityExceeded     = errors.New("capacity exceeded")
	ErrUnknownLabel         = errors.New("unknown label")
	ErrBruteforceDisabled   = errors.New("bruteforce search not enabled")
	ErrAlgorithmMismatch    = errors.New("snapshot algorithm mismatch")
	ErrIncompatible         = errors.New("incompatible snapshot")
	ErrPopulated            = errors.New("engine already holds items")
	ErrUnsupportedPrecision = errors.New("unsupported precision for metric")
)

// Error is a failure reported by an engine operation.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("native: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func opError(op string, err error) error {
	if err == nil {
		return nil
	}
	var ne *Error
	if errors.As(err, &ne) {
		return err
	}
	return &Error{Op: op, Err: err}
}
