package buffer

import (
	"encoding/binary"
	"math"
	"unsafe"
)

// Element is the set of fixed-width types a Buffer can hold.
type Element interface {
	uint8 | uint16 | uint32 | uint64 | int64 | float32
}

// WidthOf returns the encoded width of T in bytes.
func WidthOf[T Element]() int {
	var z T
	return int(unsafe.Sizeof(z))
}

func load[T Element](b []byte) T {
	var z T
	switch any(z).(type) {
	case uint8:
		return T(b[0])
	case uint16:
		return T(binary.LittleEndian.Uint16(b))
	case uint32:
		return T(binary.LittleEndian.Uint32(b))
	case uint64:
		return T(binary.LittleEndian.Uint64(b))
	case int64:
		return T(int64(binary.LittleEndian.Uint64(b)))
	default:
		return T(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	}
}

func store[T Element](b []byte, v T) {
	switch x := any(v).(type) {
	case uint8:
		b[0] = x
	case uint16:
		binary.LittleEndian.PutUint16(b, x)
	case uint32:
		binary.LittleEndian.PutUint32(b, x)
	case uint64:
		binary.LittleEndian.PutUint64(b, x)
	case int64:
		binary.LittleEndian.PutUint64(b, uint64(x))
	case float32:
		binary.LittleEndian.PutUint32(b, math.Float32bits(x))
	}
}

var littleEndianHost = func() bool {
	x := uint16(1)
	return *(*byte)(unsafe.Pointer(&x)) == 1
}()
