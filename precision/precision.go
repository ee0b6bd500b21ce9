// Package precision defines the storage precisions a vector index can hold
// and the per-component Float8 quantization parameters.
package precision

import (
	"errors"
	"fmt"
	"strings"
)

// Precision is the storage width of one vector component.
// Canonical (query and decoded) vectors are always float32.
type Precision int

const (
	// Float32 stores components verbatim (4 bytes).
	Float32 Precision = iota
	// Float16 stores IEEE-754 binary16 components (2 bytes).
	Float16
	// Float8 stores trained min/max scalar-quantized components (1 byte).
	Float8
)

// ErrUnknownPrecision is returned when a name or engine code does not map to
// a precision.
var ErrUnknownPrecision = errors.New("unknown precision")

var precisionInfo = [...]struct {
	name  string
	width int
	code  int32
}{
	Float32: {"float32", 4, 1},
	Float16: {"float16", 2, 2},
	Float8:  {"float8", 1, 3},
}

// Valid reports whether p is one of the defined precisions.
func (p Precision) Valid() bool {
	return p >= Float32 && p <= Float8
}

// Width returns the encoded size of one component in bytes.
func (p Precision) Width() int {
	if !p.Valid() {
		return 0
	}
	return precisionInfo[p].width
}

// Lossless reports whether a round trip through p reproduces every float32.
func (p Precision) Lossless() bool {
	return p == Float32
}

// NeedsTraining reports whether encoding requires trained parameters.
func (p Precision) NeedsTraining() bool {
	return p == Float8
}

func (p Precision) String() string {
	if !p.Valid() {
		return fmt.Sprintf("Precision(%d)", int(p))
	}
	return precisionInfo[p].name
}

// Code returns the engine boundary code (1, 2, 3).
func (p Precision) Code() int32 {
	if !p.Valid() {
		return 0
	}
	return precisionInfo[p].code
}

// FromCode maps an engine boundary code back to a Precision.
func FromCode(code int32) (Precision, error) {
	for p, info := range precisionInfo {
		if info.code == code {
			return Precision(p), nil
		}
	}
	return 0, fmt.Errorf("%w: code %d", ErrUnknownPrecision, code)
}

// Parse maps a case-insensitive name ("float32", "f16", ...) to a Precision.
func Parse(s string) (Precision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "float32", "f32":
		return Float32, nil
	case "float16", "f16":
		return Float16, nil
	case "float8", "f8":
		return Float8, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownPrecision, s)
	}
}
