// Package codec converts vectors between canonical float32 and an index's
// storage precision.
//
// Encoding and decoding to Float32 never copies: the returned buffer is a
// view of the input. For the lossy precisions Decode writes into the scratch
// space of an explicit DecodeContext, which each goroutine owns; the result
// stays valid until the next Decode through the same context. DecodeInto
// writes into caller-owned memory instead. Callers may release every buffer
// they receive; releasing a view frees nothing.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/hupe1980/hnswbridge/buffer"
	"github.com/hupe1980/hnswbridge/internal/f16"
	"github.com/hupe1980/hnswbridge/precision"
)

var (
	// ErrInvalidDimension is returned for non-positive dimensions.
	ErrInvalidDimension = errors.New("codec: dimension must be positive")
	// ErrInvalidPrecision is returned for undefined precisions.
	ErrInvalidPrecision = errors.New("codec: invalid precision")
	// ErrForeignContext is returned when a DecodeContext from another codec
	// is used.
	ErrForeignContext = errors.New("codec: decode context belongs to another codec")
)

// ErrDimensionMismatch indicates a vector of the wrong length.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("codec: dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Codec converts vectors of a fixed dimension to and from one precision.
// It is safe for concurrent use; Float8 parameters may be set once training
// data is available.
type Codec struct {
	dim    int
	prec   precision.Precision
	size   int
	alloc  *buffer.Allocator
	params atomic.Pointer[precision.Params]
}

// Option configures a Codec.
type Option func(*Codec)

// WithAllocator sets the allocator for buffers returned by Encode and for
// decode scratch space.
func WithAllocator(a *buffer.Allocator) Option {
	return func(c *Codec) {
		if a != nil {
			c.alloc = a
		}
	}
}

// WithParams presets trained Float8 parameters.
func WithParams(p *precision.Params) Option {
	return func(c *Codec) {
		c.params.Store(p)
	}
}

// New creates a codec for vectors of dim components stored at precision p.
func New(dim int, p precision.Precision, optFns ...Option) (*Codec, error) {
	if dim <= 0 {
		return nil, ErrInvalidDimension
	}
	if !p.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrecision, p)
	}

	c := &Codec{
		dim:   dim,
		prec:  p,
		size:  dim * p.Width(),
		alloc: buffer.DefaultAllocator(),
	}
	for _, fn := range optFns {
		fn(c)
	}

	if params := c.params.Load(); params != nil && params.Dimension() != dim {
		return nil, &ErrDimensionMismatch{Expected: dim, Actual: params.Dimension()}
	}
	return c, nil
}

// Dimension returns the number of components per vector.
func (c *Codec) Dimension() int { return c.dim }

// Precision returns the storage precision.
func (c *Codec) Precision() precision.Precision { return c.prec }

// EncodedSize returns the number of bytes of one encoded vector.
func (c *Codec) EncodedSize() int { return c.size }

// NeedsTraining reports whether the codec cannot encode until Float8
// parameters are supplied.
func (c *Codec) NeedsTraining() bool {
	return c.prec.NeedsTraining() && c.params.Load() == nil
}

// Params returns the Float8 parameters, or nil.
func (c *Codec) Params() *precision.Params {
	return c.params.Load()
}

// SetParams installs Float8 parameters.
func (c *Codec) SetParams(p *precision.Params) error {
	if p.Dimension() != c.dim {
		return &ErrDimensionMismatch{Expected: c.dim, Actual: p.Dimension()}
	}
	c.params.Store(p)
	return nil
}

// Train derives Float8 parameters from the component ranges of vectors.
// It is a no-op for precisions that need no training.
func (c *Codec) Train(vectors [][]float32) error {
	if !c.prec.NeedsTraining() {
		return nil
	}
	r := precision.NewRange(c.dim)
	for _, v := range vectors {
		if err := r.Add(v); err != nil {
			return &ErrDimensionMismatch{Expected: c.dim, Actual: len(v)}
		}
	}
	p, err := r.Params()
	if err != nil {
		return err
	}
	c.params.Store(p)
	return nil
}

// ErrorBound returns the maximum absolute reconstruction error for value v
// in component i.
func (c *Codec) ErrorBound(i int, v float32) float32 {
	switch c.prec {
	case precision.Float32:
		return 0
	case precision.Float16:
		return f16.ErrorBound(v)
	default:
		p := c.params.Load()
		if p == nil {
			return float32(math.Inf(1))
		}
		return p.ErrorBound(i)
	}
}

// EncodeSlice encodes src (dim components) into dst (EncodedSize bytes).
func (c *Codec) EncodeSlice(dst []byte, src []float32) error {
	if len(src) != c.dim {
		return &ErrDimensionMismatch{Expected: c.dim, Actual: len(src)}
	}
	if len(dst) < c.size {
		return &ErrDimensionMismatch{Expected: c.size, Actual: len(dst)}
	}
	switch c.prec {
	case precision.Float32:
		for i, v := range src {
			binary.LittleEndian.PutUint32(dst[4*i:], math.Float32bits(v))
		}
	case precision.Float16:
		f16.EncodeBytes(dst, src)
	default:
		p := c.params.Load()
		if p == nil {
			return precision.ErrNotTrained
		}
		p.Encode(dst, src)
	}
	return nil
}

// DecodeSlice decodes src (EncodedSize bytes) into dst (dim components).
func (c *Codec) DecodeSlice(dst []float32, src []byte) error {
	if len(src) != c.size {
		return &ErrDimensionMismatch{Expected: c.size, Actual: len(src)}
	}
	if len(dst) < c.dim {
		return &ErrDimensionMismatch{Expected: c.dim, Actual: len(dst)}
	}
	switch c.prec {
	case precision.Float32:
		for i := range c.dim {
			dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[4*i:]))
		}
	case precision.Float16:
		f16.DecodeBytes(dst, src)
	default:
		p := c.params.Load()
		if p == nil {
			return precision.ErrNotTrained
		}
		p.Decode(dst, src)
	}
	return nil
}

// decodeBytes writes the float32 little-endian form of src into dst.
func (c *Codec) decodeBytes(dst, src []byte) error {
	switch c.prec {
	case precision.Float32:
		copy(dst, src)
	case precision.Float16:
		for i := range c.dim {
			v := f16.ToFloat32(f16.Bits(binary.LittleEndian.Uint16(src[2*i:])))
			binary.LittleEndian.PutUint32(dst[4*i:], math.Float32bits(v))
		}
	default:
		p := c.params.Load()
		if p == nil {
			return precision.ErrNotTrained
		}
		for i, code := range src[:c.dim] {
			v := p.Diff[i]*float32(code) + p.Min[i]
			binary.LittleEndian.PutUint32(dst[4*i:], math.Float32bits(v))
		}
	}
	return nil
}

func (c *Codec) checkEncoded(src *buffer.Buffer[byte]) error {
	if err := src.Err(); err != nil {
		return err
	}
	if src.Len() != c.size {
		return &ErrDimensionMismatch{Expected: c.size, Actual: src.Len()}
	}
	return nil
}

// Encode converts a canonical vector to the storage precision. For Float32
// the result is a view of src; otherwise it is a new pooled buffer the
// caller must release.
func (c *Codec) Encode(src *buffer.Buffer[float32]) (*buffer.Buffer[byte], error) {
	if err := src.Err(); err != nil {
		return nil, err
	}
	if src.Len() != c.dim {
		return nil, &ErrDimensionMismatch{Expected: c.dim, Actual: src.Len()}
	}
	if c.prec == precision.Float32 {
		return buffer.ViewOf[byte](src.Bytes()), nil
	}
	if c.NeedsTraining() {
		return nil, precision.ErrNotTrained
	}

	vals, err := src.ToSlice()
	if err != nil {
		return nil, err
	}
	out, err := buffer.NewWith[byte](c.alloc, c.size, buffer.Pooled)
	if err != nil {
		return nil, err
	}
	if err := c.EncodeSlice(out.Region(), vals); err != nil {
		_ = out.Release()
		return nil, err
	}
	if err := out.SetWriterIndex(c.size); err != nil {
		_ = out.Release()
		return nil, err
	}
	return out, nil
}

// Decode converts an encoded vector to float32. For Float32 the result is a
// view of src. Otherwise it is a view of dc's scratch space, valid until the
// next Decode through dc; after that the view reports buffer.ErrReleased.
func (c *Codec) Decode(dc *DecodeContext, src *buffer.Buffer[byte]) (*buffer.Buffer[float32], error) {
	if err := c.checkEncoded(src); err != nil {
		return nil, err
	}
	if c.prec == precision.Float32 {
		return buffer.ViewOf[float32](src.Bytes()), nil
	}
	if dc == nil || dc.codec != c {
		return nil, ErrForeignContext
	}
	return dc.decode(src.Bytes())
}

// DecodeInto decodes src into the start of dst and sets dst's write cursor
// to the dimension. dst must have capacity for dim components.
func (c *Codec) DecodeInto(dst *buffer.Buffer[float32], src *buffer.Buffer[byte]) error {
	if err := c.checkEncoded(src); err != nil {
		return err
	}
	if err := dst.Err(); err != nil {
		return err
	}
	if dst.Cap() < c.dim {
		return &ErrDimensionMismatch{Expected: c.dim, Actual: dst.Cap()}
	}
	if err := c.decodeBytes(dst.Region(), src.Bytes()); err != nil {
		return err
	}
	if err := dst.SetReaderIndex(0); err != nil {
		return err
	}
	return dst.SetWriterIndex(c.dim)
}

// DecodeOwned decodes src into a new pooled buffer the caller must release.
func (c *Codec) DecodeOwned(src *buffer.Buffer[byte]) (*buffer.Buffer[float32], error) {
	out, err := buffer.NewWith[float32](c.alloc, c.dim, buffer.Pooled)
	if err != nil {
		return nil, err
	}
	if err := c.DecodeInto(out, src); err != nil {
		_ = out.Release()
		return nil, err
	}
	return out, nil
}
