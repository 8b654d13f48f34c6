// Package ice holds the typed, SSA-style intermediate representation the
// bitcode front end builds and the target back ends consume.
package ice

import "fmt"

// Type is a compact identifier for an ICE first-class type.
type Type byte

const (
	TypeVoid Type = iota
	TypeI1
	TypeI8
	TypeI16
	TypeI32
	TypeI64
	TypeF32
	TypeF64
	TypeV4I1
	TypeV8I1
	TypeV16I1
	TypeV16I8
	TypeV8I16
	TypeV4I32
	TypeV4F32
	numTypes
)

// typeAttrs is indexed by Type. Alignment for the data vectors follows the
// PNaCl ABI (element width), not the register width.
var typeAttrs = [numTypes]struct {
	name        string
	width       uint32 // memory width in bytes
	align       uint32 // natural load/store alignment in bytes
	numElements uint32 // 0 for scalars
	elementType Type
	isLoadStore bool
}{
	TypeVoid:  {name: "void"},
	TypeI1:    {name: "i1", width: 1, align: 1},
	TypeI8:    {name: "i8", width: 1, align: 1, isLoadStore: true},
	TypeI16:   {name: "i16", width: 2, align: 2, isLoadStore: true},
	TypeI32:   {name: "i32", width: 4, align: 4, isLoadStore: true},
	TypeI64:   {name: "i64", width: 8, align: 8, isLoadStore: true},
	TypeF32:   {name: "f32", width: 4, align: 4, isLoadStore: true},
	TypeF64:   {name: "f64", width: 8, align: 8, isLoadStore: true},
	TypeV4I1:  {name: "v4i1", width: 16, align: 1, numElements: 4, elementType: TypeI1},
	TypeV8I1:  {name: "v8i1", width: 16, align: 1, numElements: 8, elementType: TypeI1},
	TypeV16I1: {name: "v16i1", width: 16, align: 1, numElements: 16, elementType: TypeI1},
	TypeV16I8: {name: "v16i8", width: 16, align: 1, numElements: 16, elementType: TypeI8, isLoadStore: true},
	TypeV8I16: {name: "v8i16", width: 16, align: 2, numElements: 8, elementType: TypeI16, isLoadStore: true},
	TypeV4I32: {name: "v4i32", width: 16, align: 4, numElements: 4, elementType: TypeI32, isLoadStore: true},
	TypeV4F32: {name: "v4f32", width: 16, align: 4, numElements: 4, elementType: TypeF32, isLoadStore: true},
}

// String implements fmt.Stringer.
func (t Type) String() string {
	if t >= numTypes {
		return fmt.Sprintf("Type(%d)", byte(t))
	}
	return typeAttrs[t].name
}

// WidthInBytes returns the memory width of t.
func (t Type) WidthInBytes() uint32 { return typeAttrs[t].width }

// AlignInBytes returns the natural load/store alignment of t.
func (t Type) AlignInBytes() uint32 { return typeAttrs[t].align }

// NumElements returns the element count of a vector type, or 0 for scalars.
func (t Type) NumElements() uint32 { return typeAttrs[t].numElements }

// ElementType returns the element type of a vector type.
func (t Type) ElementType() Type { return typeAttrs[t].elementType }

// IsVector returns true for the vector types.
func (t Type) IsVector() bool { return typeAttrs[t].numElements != 0 }

// IsFloat returns true for f32, f64 and the float vector.
func (t Type) IsFloat() bool {
	switch t {
	case TypeF32, TypeF64, TypeV4F32:
		return true
	}
	return false
}

// IsScalarInteger returns true for i1..i64.
func (t Type) IsScalarInteger() bool {
	switch t {
	case TypeI1, TypeI8, TypeI16, TypeI32, TypeI64:
		return true
	}
	return false
}

// IsInteger returns true for scalar integers and integer vectors.
func (t Type) IsInteger() bool {
	if t.IsScalarInteger() {
		return true
	}
	switch t {
	case TypeV4I1, TypeV8I1, TypeV16I1, TypeV16I8, TypeV8I16, TypeV4I32:
		return true
	}
	return false
}

// IsIntegerArithmetic reports whether integer arithmetic (mul, div, etc.) is
// defined for t. i1 and the boolean vectors are excluded.
func (t Type) IsIntegerArithmetic() bool {
	switch t {
	case TypeI8, TypeI16, TypeI32, TypeI64, TypeV16I8, TypeV8I16, TypeV4I32:
		return true
	}
	return false
}

// IsBooleanVector returns true for the i1 vectors.
func (t Type) IsBooleanVector() bool {
	switch t {
	case TypeV4I1, TypeV8I1, TypeV16I1:
		return true
	}
	return false
}

// IsLoadStoreLegal reports whether t may be the type of a load or store.
func (t Type) IsLoadStoreLegal() bool { return typeAttrs[t].isLoadStore }

// ScalarIntBitWidth returns the bit width of a scalar integer type.
func (t Type) ScalarIntBitWidth() uint32 {
	switch t {
	case TypeI1:
		return 1
	case TypeI8:
		return 8
	case TypeI16:
		return 16
	case TypeI32:
		return 32
	case TypeI64:
		return 64
	}
	panic("BUG: ScalarIntBitWidth on non-integer " + t.String())
}

// BitcastWidth returns the number of bits t occupies for the purpose of the
// bitcast legality check: i1 counts as one bit, other scalars as their
// memory width, vectors as elements times element width.
func (t Type) BitcastWidth() uint32 {
	if t.IsVector() {
		return t.NumElements() * t.ElementType().BitcastWidth()
	}
	if t == TypeI1 {
		return 1
	}
	return t.WidthInBytes() * 8
}

// CompareResultType returns the result type of an icmp/fcmp whose operands
// have type t: i1 for scalars, the boolean vector of equal element count for
// vectors, and void when comparison is not defined for t.
func (t Type) CompareResultType() Type {
	if !t.IsVector() {
		return TypeI1
	}
	switch t.NumElements() {
	case 4:
		return TypeV4I1
	case 8:
		return TypeV8I1
	case 16:
		return TypeV16I1
	}
	return TypeVoid
}

// PointerType is the type used to model addresses. PNaCl is ILP32 on every
// supported target.
const PointerType = TypeI32

// FuncSig describes a function signature: a return type and the ordered
// argument types.
type FuncSig struct {
	Ret  Type
	Args []Type
}

// String implements fmt.Stringer.
func (s *FuncSig) String() string {
	out := s.Ret.String() + " ("
	for i, a := range s.Args {
		if i > 0 {
			out += ", "
		}
		out += a.String()
	}
	return out + ")"
}
