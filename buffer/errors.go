package buffer

import "errors"

var (
	// ErrOutOfBounds is returned when an index or cursor falls outside the
	// readable or writable range.
	ErrOutOfBounds = errors.New("buffer: index out of bounds")

	// ErrReleased is returned when a released buffer is accessed or
	// released again.
	ErrReleased = errors.New("buffer: already released")

	// ErrMoved is returned when a buffer whose ownership was transferred
	// with Move is accessed.
	ErrMoved = errors.New("buffer: ownership moved")

	// ErrInvalidCapacity is returned for negative capacities and capacities
	// whose byte size overflows int.
	ErrInvalidCapacity = errors.New("buffer: invalid capacity")

	// ErrMisaligned is returned when a typed view is requested over memory
	// that is not aligned for the element type.
	ErrMisaligned = errors.New("buffer: region not aligned for element type")
)
