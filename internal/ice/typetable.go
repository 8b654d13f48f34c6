package ice

import "fmt"

type extendedTypeKind byte

const (
	extendedTypeUndefined extendedTypeKind = iota
	extendedTypeSimple
	extendedTypeFuncSig
)

// extendedType is one entry in the type table. An entry starts out undefined
// and transitions exactly once to a simple type or a function signature.
type extendedType struct {
	kind   extendedTypeKind
	simple Type
	sig    FuncSig
}

// TypeTable maps dense bitcode type IDs to resolved type descriptors.
type TypeTable struct {
	entries []extendedType
}

// Resize installs capacity for n undefined entries. Called on the NUMENTRY
// record; growing later is still possible via ensure.
func (t *TypeTable) Resize(n uint64) {
	if n > uint64(len(t.entries)) {
		entries := make([]extendedType, n)
		copy(entries, t.entries)
		t.entries = entries
	}
}

// Len returns the number of entries in the table.
func (t *TypeTable) Len() int { return len(t.entries) }

func (t *TypeTable) ensure(id uint64) *extendedType {
	if id >= uint64(len(t.entries)) {
		t.Resize(id + 1)
	}
	return &t.entries[id]
}

// DefineSimple defines type ID id as the simple type ty.
func (t *TypeTable) DefineSimple(id uint64, ty Type) error {
	e := t.ensure(id)
	if e.kind != extendedTypeUndefined {
		return fmt.Errorf("type id %d defined more than once", id)
	}
	e.kind = extendedTypeSimple
	e.simple = ty
	return nil
}

// DefineFuncSig defines type ID id as the function signature sig.
func (t *TypeTable) DefineFuncSig(id uint64, sig FuncSig) error {
	e := t.ensure(id)
	if e.kind != extendedTypeUndefined {
		return fmt.Errorf("type id %d defined more than once", id)
	}
	e.kind = extendedTypeFuncSig
	e.sig = sig
	return nil
}

// Simple resolves id to a simple type. Undefined or function-typed IDs are
// errors.
func (t *TypeTable) Simple(id uint64) (Type, error) {
	if id >= uint64(len(t.entries)) {
		return TypeVoid, fmt.Errorf("type id %d not defined (table size %d)", id, len(t.entries))
	}
	e := &t.entries[id]
	switch e.kind {
	case extendedTypeSimple:
		return e.simple, nil
	case extendedTypeFuncSig:
		return TypeVoid, fmt.Errorf("type id %d is a function signature, not a simple type", id)
	default:
		return TypeVoid, fmt.Errorf("type id %d used before definition", id)
	}
}

// FuncSig resolves id to a function signature.
func (t *TypeTable) FuncSig(id uint64) (*FuncSig, error) {
	if id >= uint64(len(t.entries)) {
		return nil, fmt.Errorf("type id %d not defined (table size %d)", id, len(t.entries))
	}
	e := &t.entries[id]
	switch e.kind {
	case extendedTypeFuncSig:
		return &e.sig, nil
	case extendedTypeSimple:
		return nil, fmt.Errorf("type id %d is a simple type, not a function signature", id)
	default:
		return nil, fmt.Errorf("type id %d used before definition", id)
	}
}
