package transport

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Payload is one wire message. The set of implementations is closed: only the
// types in this file satisfy it.
type Payload interface {
	// Kind reports the element type of the payload.
	Kind() ElemType
	appendTo(b []byte) []byte
	len() int
}

type (
	Uint16   uint16
	Uint32   uint32
	Float32  float32
	Float64  float64
	Float32s []float32
	Float64s []float64
)

func (Uint16) Kind() ElemType   { return TypeUint16 }
func (Uint32) Kind() ElemType   { return TypeUint32 }
func (Float32) Kind() ElemType  { return TypeFloat32 }
func (Float64) Kind() ElemType  { return TypeFloat64 }
func (Float32s) Kind() ElemType { return TypeFloat32 }
func (Float64s) Kind() ElemType { return TypeFloat64 }

func (Uint16) len() int     { return 1 }
func (Uint32) len() int     { return 1 }
func (Float32) len() int    { return 1 }
func (Float64) len() int    { return 1 }
func (v Float32s) len() int { return len(v) }
func (v Float64s) len() int { return len(v) }

func (v Uint16) appendTo(b []byte) []byte {
	return binary.NativeEndian.AppendUint16(b, uint16(v))
}

func (v Uint32) appendTo(b []byte) []byte {
	return binary.NativeEndian.AppendUint32(b, uint32(v))
}

func (v Float32) appendTo(b []byte) []byte {
	return binary.NativeEndian.AppendUint32(b, math.Float32bits(float32(v)))
}

func (v Float64) appendTo(b []byte) []byte {
	return binary.NativeEndian.AppendUint64(b, math.Float64bits(float64(v)))
}

func (v Float32s) appendTo(b []byte) []byte {
	for _, f := range v {
		b = binary.NativeEndian.AppendUint32(b, math.Float32bits(f))
	}
	return b
}

func (v Float64s) appendTo(b []byte) []byte {
	for _, f := range v {
		b = binary.NativeEndian.AppendUint64(b, math.Float64bits(f))
	}
	return b
}

// Encode returns the native byte representation of p.
func Encode(p Payload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil payload", ErrUnsupportedType)
	}
	return p.appendTo(make([]byte, 0, p.len()*p.Kind().Size())), nil
}

// ElemType is the element type of a wire value.
type ElemType int

const (
	TypeUint16 ElemType = iota
	TypeUint32
	TypeFloat32
	TypeFloat64
)

// Size is the encoded width of one element in bytes.
func (t ElemType) Size() int {
	switch t {
	case TypeUint16:
		return 2
	case TypeUint32, TypeFloat32:
		return 4
	case TypeFloat64:
		return 8
	}
	return 0
}

func (t ElemType) String() string {
	switch t {
	case TypeUint16:
		return "uint16"
	case TypeUint32:
		return "uint32"
	case TypeFloat32:
		return "float32"
	case TypeFloat64:
		return "float64"
	}
	return fmt.Sprintf("ElemType(%d)", int(t))
}

// Array is a shaped block of elements read off the wire.
type Array struct {
	Type  ElemType
	Shape []int
	Data  []byte
}

// Len is the number of elements.
func (a Array) Len() int {
	if a.Type.Size() == 0 {
		return 0
	}
	return len(a.Data) / a.Type.Size()
}

func (a Array) Uint16s() []uint16 {
	out := make([]uint16, a.Len())
	for i := range out {
		out[i] = binary.NativeEndian.Uint16(a.Data[i*2:])
	}
	return out
}

func (a Array) Uint32s() []uint32 {
	out := make([]uint32, a.Len())
	for i := range out {
		out[i] = binary.NativeEndian.Uint32(a.Data[i*4:])
	}
	return out
}

func (a Array) Float32s() []float32 {
	out := make([]float32, a.Len())
	for i := range out {
		out[i] = math.Float32frombits(binary.NativeEndian.Uint32(a.Data[i*4:]))
	}
	return out
}

func (a Array) Float64s() []float64 {
	out := make([]float64, a.Len())
	for i := range out {
		out[i] = math.Float64frombits(binary.NativeEndian.Uint64(a.Data[i*8:]))
	}
	return out
}

// Decode reinterprets b as a payload of kind t. scalar selects the scalar
// variant when b holds exactly one element.
func Decode(t ElemType, b []byte, scalar bool) (Payload, error) {
	size := t.Size()
	if size == 0 {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedType, t)
	}
	if len(b)%size != 0 {
		return nil, fmt.Errorf("decode %v: %d bytes is not a multiple of %d", t, len(b), size)
	}
	a := Array{Type: t, Shape: []int{len(b) / size}, Data: b}
	if scalar {
		if a.Len() != 1 {
			return nil, fmt.Errorf("decode %v: want 1 element, have %d", t, a.Len())
		}
		switch t {
		case TypeUint16:
			return Uint16(a.Uint16s()[0]), nil
		case TypeUint32:
			return Uint32(a.Uint32s()[0]), nil
		case TypeFloat32:
			return Float32(a.Float32s()[0]), nil
		case TypeFloat64:
			return Float64(a.Float64s()[0]), nil
		}
	}
	switch t {
	case TypeFloat32:
		return Float32s(a.Float32s()), nil
	case TypeFloat64:
		return Float64s(a.Float64s()), nil
	}
	return nil, fmt.Errorf("%w: no array variant for %v", ErrUnsupportedType, t)
}
