// Package ir is the intermediate representation handed to code-generation
// backends: functions made of basic blocks of SSA values, with the integer,
// float, pointer and 128-bit vector types used by guest state.
package ir

import "fmt"

// Kind classifies a Type
type Kind uint8

const (
	KindVoid Kind = iota
	KindInt
	KindFloat
	KindPtr
	KindVector
)

// Type is a small comparable type descriptor. For vectors bits and elem
// describe one lane.
type Type struct {
	kind  Kind
	elem  Kind
	bits  uint16
	lanes uint8
}

var (
	Void = Type{kind: KindVoid}
	I1   = Type{kind: KindInt, bits: 1}
	I8   = Type{kind: KindInt, bits: 8}
	I16  = Type{kind: KindInt, bits: 16}
	I32  = Type{kind: KindInt, bits: 32}
	I64  = Type{kind: KindInt, bits: 64}
	F32  = Type{kind: KindFloat, bits: 32}
	F64  = Type{kind: KindFloat, bits: 64}
	Ptr  = Type{kind: KindPtr, bits: 64}

	V16xI8 = Vector(I8, 16)
	V8xI16 = Vector(I16, 8)
	V4xI32 = Vector(I32, 4)
	V2xI64 = Vector(I64, 2)
	V4xF32 = Vector(F32, 4)
	V2xF64 = Vector(F64, 2)
)

// Int returns the integer type of the given width
func Int(bits int) Type {
	return Type{kind: KindInt, bits: uint16(bits)}
}

// Vector returns a vector of lanes elements of the scalar type elem
func Vector(elem Type, lanes int) Type {
	if elem.kind != KindInt && elem.kind != KindFloat {
		panic(fmt.Sprintf("ir: invalid vector element %v", elem))
	}
	return Type{kind: KindVector, elem: elem.kind, bits: elem.bits, lanes: uint8(lanes)}
}

func (t Type) Kind() Kind      { return t.kind }
func (t Type) IsInt() bool     { return t.kind == KindInt }
func (t Type) IsFloat() bool   { return t.kind == KindFloat }
func (t Type) IsVector() bool  { return t.kind == KindVector }
func (t Type) IsPtr() bool     { return t.kind == KindPtr }
func (t Type) IsVoid() bool    { return t.kind == KindVoid }
func (t Type) Lanes() int      { return int(t.lanes) }
func (t Type) ScalarBits() int { return int(t.bits) }

// Bits is the total width of a value of this type
func (t Type) Bits() int {
	if t.kind == KindVector {
		return int(t.bits) * int(t.lanes)
	}
	return int(t.bits)
}

// Size is the in-memory size in bytes (i1 occupies one byte)
func (t Type) Size() int {
	return (t.Bits() + 7) / 8
}

// Elem returns the lane type of a vector
func (t Type) Elem() Type {
	if t.kind != KindVector {
		return t
	}
	return Type{kind: t.elem, bits: t.bits}
}

func (t Type) String() string {
	switch t.kind {
	case KindVoid:
		return "void"
	case KindInt:
		return fmt.Sprintf("i%d", t.bits)
	case KindFloat:
		if t.bits == 32 {
			return "float"
		}
		return "double"
	case KindPtr:
		return "ptr"
	case KindVector:
		return fmt.Sprintf("<%d x %v>", t.lanes, t.Elem())
	}
	return "?"
}
