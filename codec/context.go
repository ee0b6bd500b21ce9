package codec

import (
	"github.com/hupe1980/hnswbridge/buffer"
)

// DecodeContext is per-goroutine scratch space for Decode. It is not safe
// for concurrent use. Close returns the scratch memory.
type DecodeContext struct {
	codec   *Codec
	scratch *buffer.Buffer[float32]
	last    *buffer.Buffer[float32]
}

// NewDecodeContext creates a decode context bound to c.
func (c *Codec) NewDecodeContext() (*DecodeContext, error) {
	dc := &DecodeContext{codec: c}
	if c.prec.Lossless() {
		return dc, nil
	}
	scratch, err := buffer.NewWith[float32](c.alloc, c.dim, buffer.Pooled)
	if err != nil {
		return nil, err
	}
	dc.scratch = scratch
	return dc, nil
}

func (dc *DecodeContext) decode(src []byte) (*buffer.Buffer[float32], error) {
	if dc.scratch == nil {
		return nil, buffer.ErrReleased
	}
	dc.invalidate()

	region := dc.scratch.Region()
	if err := dc.codec.decodeBytes(region, src); err != nil {
		return nil, err
	}
	dc.last = buffer.ViewOf[float32](region[:4*dc.codec.dim])
	return dc.last, nil
}

// invalidate retires the view handed out by the previous decode.
func (dc *DecodeContext) invalidate() {
	if dc.last != nil {
		_ = dc.last.Release()
		dc.last = nil
	}
}

// Close invalidates the last decoded view and releases the scratch space.
// It is idempotent.
func (dc *DecodeContext) Close() error {
	dc.invalidate()
	if dc.scratch == nil {
		return nil
	}
	err := dc.scratch.Release()
	dc.scratch = nil
	return err
}
