package precision

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// levels is the largest Float8 code.
const levels = 255

var (
	// ErrNotTrained is returned when Float8 parameters are required but no
	// training data was seen.
	ErrNotTrained = errors.New("float8: not trained")
	// ErrDimensionMismatch is returned when a vector does not match the
	// configured dimension.
	ErrDimensionMismatch = errors.New("float8: dimension mismatch")
)

// Range accumulates per-component minimum and maximum values from training
// vectors. It is not safe for concurrent use.
type Range struct {
	mins []float32
	maxs []float32
	n    int
}

// NewRange creates an empty range for vectors of dimension dim.
func NewRange(dim int) *Range {
	r := &Range{
		mins: make([]float32, dim),
		maxs: make([]float32, dim),
	}
	for i := range dim {
		r.mins[i] = math.MaxFloat32
		r.maxs[i] = -math.MaxFloat32
	}
	return r
}

// Add widens the range to include v.
func (r *Range) Add(v []float32) error {
	if len(v) != len(r.mins) {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, len(r.mins), len(v))
	}
	for i, x := range v {
		r.mins[i] = min(r.mins[i], x)
		r.maxs[i] = max(r.maxs[i], x)
	}
	r.n++
	return nil
}

// Count returns the number of vectors added.
func (r *Range) Count() int {
	return r.n
}

// Params derives quantization parameters from the accumulated range.
func (r *Range) Params() (*Params, error) {
	if r.n == 0 {
		return nil, ErrNotTrained
	}
	return NewParams(r.mins, r.maxs)
}

// Params holds the trained Float8 mapping: component i encodes x as
// round((x - Min[i]) / Diff[i]) and decodes c as Diff[i]*c + Min[i], where
// Diff[i] = (max[i] - min[i]) / 255.
type Params struct {
	Min  []float32
	Diff []float32
}

// NewParams builds parameters from explicit per-component bounds.
func NewParams(mins, maxs []float32) (*Params, error) {
	if len(mins) != len(maxs) || len(mins) == 0 {
		return nil, ErrDimensionMismatch
	}
	p := &Params{
		Min:  make([]float32, len(mins)),
		Diff: make([]float32, len(mins)),
	}
	copy(p.Min, mins)
	for i := range mins {
		if maxs[i] < mins[i] {
			return nil, fmt.Errorf("float8: component %d has max %g < min %g", i, maxs[i], mins[i])
		}
		p.Diff[i] = (maxs[i] - mins[i]) / levels
	}
	return p, nil
}

// Dimension returns the number of components.
func (p *Params) Dimension() int {
	return len(p.Min)
}

// Encode quantizes src into dst. Values outside the trained range clamp to
// the nearest code.
func (p *Params) Encode(dst []byte, src []float32) {
	for i, x := range src {
		d := p.Diff[i]
		if d == 0 {
			dst[i] = 0
			continue
		}
		c := math.Round(float64((x - p.Min[i]) / d))
		switch {
		case c < 0:
			dst[i] = 0
		case c > levels:
			dst[i] = levels
		default:
			dst[i] = uint8(c)
		}
	}
}

// Decode reconstructs float32 components from codes.
func (p *Params) Decode(dst []float32, src []byte) {
	for i, c := range src {
		dst[i] = p.Diff[i]*float32(c) + p.Min[i]
	}
}

// ErrorBound returns the largest reconstruction error for an in-range value
// of component i: half a quantization step plus float32 rounding slack.
func (p *Params) ErrorBound(i int) float32 {
	span := float32(math.Abs(float64(p.Min[i]))) + levels*p.Diff[i]
	return p.Diff[i]/2 + 4*span*epsilon32
}

const epsilon32 = 1.0 / (1 << 23)

// MarshalBinary encodes the parameters as dim followed by Min and Diff,
// little-endian.
func (p *Params) MarshalBinary() ([]byte, error) {
	dim := len(p.Min)
	out := make([]byte, 4+8*dim)
	binary.LittleEndian.PutUint32(out, uint32(dim))
	for i := range dim {
		binary.LittleEndian.PutUint32(out[4+4*i:], math.Float32bits(p.Min[i]))
		binary.LittleEndian.PutUint32(out[4+4*dim+4*i:], math.Float32bits(p.Diff[i]))
	}
	return out, nil
}

// UnmarshalBinary decodes parameters written by MarshalBinary.
func (p *Params) UnmarshalBinary(data []byte) error {
	if len(data) < 4 {
		return errors.New("float8: truncated params")
	}
	dim := int(binary.LittleEndian.Uint32(data))
	if len(data) != 4+8*dim {
		return errors.New("float8: truncated params")
	}
	p.Min = make([]float32, dim)
	p.Diff = make([]float32, dim)
	for i := range dim {
		p.Min[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4+4*i:]))
		p.Diff[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4+4*dim+4*i:]))
	}
	return nil
}
