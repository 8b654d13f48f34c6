package ice

import "fmt"

// Linkage is the subset of linkage kinds PNaCl admits.
type Linkage byte

const (
	LinkageExternal Linkage = iota
	LinkageInternal
)

// String implements fmt.Stringer.
func (l Linkage) String() string {
	if l == LinkageInternal {
		return "internal"
	}
	return "external"
}

// CallingConv is the subset of calling conventions PNaCl admits.
type CallingConv byte

// CallingConvC is the only convention the frozen ABI defines.
const CallingConvC CallingConv = 0

// GlobalDeclaration is either a function declaration or a variable
// declaration from the module's global tables.
type GlobalDeclaration interface {
	Name() string
	SetName(string)
	// SuppressMangling reports whether the symbol name must be emitted
	// verbatim (intrinsics and other "llvm."-reserved names).
	SuppressMangling() bool
}

// FunctionDeclaration describes one entry of the module's function table.
type FunctionDeclaration struct {
	name        string
	Sig         *FuncSig
	CallingConv CallingConv
	Linkage     Linkage
	// IsProto is true when no function block provides a body.
	IsProto bool
}

// NewFunctionDeclaration returns a declaration for the given signature.
func NewFunctionDeclaration(sig *FuncSig, cc CallingConv, linkage Linkage, isProto bool) *FunctionDeclaration {
	return &FunctionDeclaration{Sig: sig, CallingConv: cc, Linkage: linkage, IsProto: isProto}
}

// Name implements GlobalDeclaration.
func (d *FunctionDeclaration) Name() string { return d.name }

// SetName implements GlobalDeclaration.
func (d *FunctionDeclaration) SetName(name string) { d.name = name }

// SuppressMangling implements GlobalDeclaration.
func (d *FunctionDeclaration) SuppressMangling() bool { return d.IsProto }

// Initializer is one piece of a variable declaration's initial contents.
type Initializer interface {
	// NumBytes returns the byte size this initializer contributes.
	NumBytes() uint64
}

// ZeroInitializer is a zero-fill of Size bytes.
type ZeroInitializer struct {
	Size uint64
}

// NumBytes implements Initializer.
func (z ZeroInitializer) NumBytes() uint64 { return z.Size }

// DataInitializer is a raw byte vector.
type DataInitializer struct {
	Bytes []byte
}

// NumBytes implements Initializer.
func (d DataInitializer) NumBytes() uint64 { return uint64(len(d.Bytes)) }

// RelocInitializer is a pointer-sized reference to another global
// declaration plus a signed addend.
type RelocInitializer struct {
	Target GlobalDeclaration
	Addend int64
}

// NumBytes implements Initializer.
func (r RelocInitializer) NumBytes() uint64 { return uint64(PointerType.WidthInBytes()) }

// VariableDeclaration describes one entry of the module's global-variable
// table.
type VariableDeclaration struct {
	name         string
	Alignment    uint32
	IsConst      bool
	Initializers []Initializer
}

// NewVariableDeclaration returns an empty variable declaration.
func NewVariableDeclaration() *VariableDeclaration { return &VariableDeclaration{} }

// Name implements GlobalDeclaration.
func (d *VariableDeclaration) Name() string { return d.name }

// SetName implements GlobalDeclaration.
func (d *VariableDeclaration) SetName(name string) { d.name = name }

// SuppressMangling implements GlobalDeclaration.
func (d *VariableDeclaration) SuppressMangling() bool { return false }

// AddInitializer appends init to the declaration.
func (d *VariableDeclaration) AddInitializer(init Initializer) {
	d.Initializers = append(d.Initializers, init)
}

// NumBytes returns the total initialized size.
func (d *VariableDeclaration) NumBytes() uint64 {
	var total uint64
	for _, init := range d.Initializers {
		total += init.NumBytes()
	}
	return total
}

// HasNonzeroInitializer reports whether any initializer is not a zero fill.
func (d *VariableDeclaration) HasNonzeroInitializer() bool {
	for _, init := range d.Initializers {
		if _, ok := init.(ZeroInitializer); !ok {
			return true
		}
	}
	return false
}

// Module aggregates the global declaration tables: the ordered function
// declarations followed by the ordered variable declarations. IDs in the
// flat value space index functions first, then variables.
type Module struct {
	Functions []*FunctionDeclaration
	Variables []*VariableDeclaration
}

// NumGlobalIDs returns the size of the global partition of the value-ID
// space.
func (m *Module) NumGlobalIDs() uint32 {
	return uint32(len(m.Functions) + len(m.Variables))
}

// Global returns the declaration for the given flat global ID.
func (m *Module) Global(id uint32) (GlobalDeclaration, error) {
	if id < uint32(len(m.Functions)) {
		return m.Functions[id], nil
	}
	vid := id - uint32(len(m.Functions))
	if vid < uint32(len(m.Variables)) {
		return m.Variables[vid], nil
	}
	return nil, fmt.Errorf("global id %d out of range (have %d)", id, m.NumGlobalIDs())
}

// Function returns the function declaration for the given flat global ID.
func (m *Module) Function(id uint32) (*FunctionDeclaration, error) {
	if id >= uint32(len(m.Functions)) {
		return nil, fmt.Errorf("function id %d out of range (have %d)", id, len(m.Functions))
	}
	return m.Functions[id], nil
}

// AssignDefaultNames gives unnamed declarations stable names so emission
// always has a symbol to reference.
func (m *Module) AssignDefaultNames() {
	for i, f := range m.Functions {
		if f.Name() == "" {
			f.SetName(fmt.Sprintf("Function%d", i))
		}
	}
	for i, v := range m.Variables {
		if v.Name() == "" {
			v.SetName(fmt.Sprintf("Global%d", i))
		}
	}
}
