package metric

import (
	"errors"
	"fmt"
	"strings"
)

// Metric selects the distance function of an index.
type Metric int

const (
	// Euclidean is the squared L2 distance.
	Euclidean Metric = iota
	// Cosine normalizes vectors and uses the inner-product distance.
	Cosine
	// InnerProduct is 1 - dot(a, b).
	InnerProduct
	// Kendall is 1 - Kendall's tau.
	Kendall
)

// ErrUnknownMetric is returned when a name or engine code does not map to a
// metric.
var ErrUnknownMetric = errors.New("unknown metric")

var metricInfo = [...]struct {
	name string
	code int32
}{
	Euclidean:    {"euclidean", 1},
	Cosine:       {"cosine", 2},
	InnerProduct: {"inner_product", 3},
	Kendall:      {"kendall", 4},
}

// Valid reports whether m is one of the defined metrics.
func (m Metric) Valid() bool {
	return m >= Euclidean && m <= Kendall
}

func (m Metric) String() string {
	if !m.Valid() {
		return fmt.Sprintf("Metric(%d)", int(m))
	}
	return metricInfo[m].name
}

// Code returns the engine boundary code (1..4).
func (m Metric) Code() int32 {
	if !m.Valid() {
		return 0
	}
	return metricInfo[m].code
}

// Normalizes reports whether vectors are L2-normalized before storage and
// search.
func (m Metric) Normalizes() bool {
	return m == Cosine
}

// FromCode maps an engine boundary code back to a Metric.
func FromCode(code int32) (Metric, error) {
	for m, info := range metricInfo {
		if info.code == code {
			return Metric(m), nil
		}
	}
	return 0, fmt.Errorf("%w: code %d", ErrUnknownMetric, code)
}

// Parse maps a case-insensitive name to a Metric. "angular" is accepted as
// an alias for Cosine and "l2" for Euclidean.
func Parse(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "euclidean", "l2":
		return Euclidean, nil
	case "cosine", "angular":
		return Cosine, nil
	case "inner_product", "innerproduct", "ip", "dot":
		return InnerProduct, nil
	case "kendall":
		return Kendall, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMetric, s)
	}
}

// Func computes the distance between two equal-length vectors.
type Func func(a, b []float32) float32

// Provider returns the distance function for m. Cosine returns the
// inner-product distance; callers normalize inputs first.
func Provider(m Metric) (Func, error) {
	switch m {
	case Euclidean:
		return SquaredL2, nil
	case Cosine, InnerProduct:
		return InnerProductDistance, nil
	case Kendall:
		return KendallDistance, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownMetric, m)
	}
}
