package arm32

import (
	"fmt"
	"math/bits"

	"github.com/tetratelabs/subzero/internal/ice"
)

// Reg is an ARM32 register number: r0..r15, then s0..s31, d0..d15, q0..q15.
type Reg uint8

const (
	RegR0 Reg = iota
	RegR1
	RegR2
	RegR3
	RegR4
	RegR5
	RegR6
	RegR7
	RegR8
	RegR9
	RegR10
	RegFP // r11
	RegIP // r12
	RegSP // r13
	RegLR // r14
	RegPC // r15
	RegS0
	RegD0 = RegS0 + 32
	RegQ0 = RegD0 + 16
	numRegs = RegQ0 + 16
)

var coreRegNames = [...]string{
	"r0", "r1", "r2", "r3", "r4", "r5", "r6", "r7",
	"r8", "r9", "r10", "fp", "ip", "sp", "lr", "pc",
}

// String implements fmt.Stringer.
func (r Reg) String() string {
	switch {
	case r < RegS0:
		return coreRegNames[r]
	case r < RegD0:
		return fmt.Sprintf("s%d", r-RegS0)
	case r < RegQ0:
		return fmt.Sprintf("d%d", r-RegD0)
	case r < numRegs:
		return fmt.Sprintf("q%d", r-RegQ0)
	}
	return fmt.Sprintf("Reg(%d)", uint8(r))
}

// IsCore reports whether r is one of the sixteen core registers.
func (r Reg) IsCore() bool { return r < RegS0 }

// IsVFP reports whether r is a floating-point or vector register.
func (r Reg) IsVFP() bool { return r >= RegS0 && r < numRegs }

// AddrMode is an ARM32 load/store addressing mode.
type AddrMode byte

const (
	// Offset: [base, offset].
	Offset AddrMode = iota
	// PreIndex: [base, offset]! with writeback.
	PreIndex
	// PostIndex: [base], offset with writeback.
	PostIndex
	// NegOffset and friends negate the index register.
	NegOffset
	NegPreIndex
	NegPostIndex
)

func (m AddrMode) negates() bool { return m >= NegOffset }

// ShiftKind is the shift applied to a register operand.
type ShiftKind byte

const (
	ShiftNone ShiftKind = iota
	ShiftLSL
	ShiftLSR
	ShiftASR
	ShiftROR
	ShiftRRX
)

var shiftNames = [...]string{"", "lsl", "lsr", "asr", "ror", "rrx"}

// String implements fmt.Stringer.
func (s ShiftKind) String() string { return shiftNames[s] }

// typeARM32Attrs carries the per-type emission attributes: the ldr/str width
// suffix and the sign-magnitude offset-bit budgets of the sign-extending and
// zero-extending load forms. A zero budget means no immediate offset at all.
var typeARM32Attrs = [ice.TypeV4F32 + 1]struct {
	widthSuffix string
	sextBits    int8
	zextBits    int8
}{
	ice.TypeVoid: {"", 0, 0},
	ice.TypeI1:   {"b", 8, 12},
	ice.TypeI8:   {"b", 8, 12},
	ice.TypeI16:  {"h", 8, 8},
	ice.TypeI32:  {"", 12, 12},
	ice.TypeI64:  {"", 12, 12},
	ice.TypeF32:  {"", 10, 10},
	ice.TypeF64:  {"", 10, 10},
	// Vector loads take no immediate offset.
	ice.TypeV4I1: {"", 0, 0}, ice.TypeV8I1: {"", 0, 0}, ice.TypeV16I1: {"", 0, 0},
	ice.TypeV16I8: {"", 0, 0}, ice.TypeV8I16: {"", 0, 0}, ice.TypeV4I32: {"", 0, 0},
	ice.TypeV4F32: {"", 0, 0},
}

// widthSuffix returns the ldr/str mnemonic suffix for ty: "b", "h" or "".
func widthSuffix(ty ice.Type) string { return typeARM32Attrs[ty].widthSuffix }

// CanHoldOffset reports whether offset fits the sign-magnitude offset field
// of a load/store of type ty. ARM offsets are sign-magnitude, so the check
// is on the absolute value.
func CanHoldOffset(ty ice.Type, signExt bool, offset int32) bool {
	budget := typeARM32Attrs[ty].zextBits
	if signExt {
		budget = typeARM32Attrs[ty].sextBits
	}
	if budget == 0 {
		return offset == 0
	}
	abs := offset
	if abs < 0 {
		abs = -abs
	}
	return uint32(abs) < 1<<uint(budget)
}

// Mem is a memory operand: base plus either an immediate offset or a
// shifted index register, under one of the six addressing modes.
type Mem struct {
	typ    ice.Type
	Base   Reg
	// Index is valid when HasIndex; otherwise ImmOffset applies.
	HasIndex bool
	Index    Reg
	Shift    ShiftKind
	ShiftAmt uint8
	ImmOffset int32
	Mode      AddrMode
}

// NewMemImm returns a [base, #imm] operand.
func NewMemImm(ty ice.Type, base Reg, offset int32, mode AddrMode) *Mem {
	return &Mem{typ: ty, Base: base, ImmOffset: offset, Mode: mode}
}

// NewMemIndex returns a [base, index shift #amt] operand.
func NewMemIndex(ty ice.Type, base, index Reg, shift ShiftKind, amt uint8, mode AddrMode) *Mem {
	return &Mem{typ: ty, Base: base, HasIndex: true, Index: index, Shift: shift, ShiftAmt: amt, Mode: mode}
}

// Type implements ice.Operand.
func (m *Mem) Type() ice.Type { return m.typ }

// String implements fmt.Stringer.
func (m *Mem) String() string {
	neg := ""
	if m.Mode.negates() {
		neg = "-"
	}
	var inner string
	if m.HasIndex {
		inner = fmt.Sprintf("%s, %s%s", m.Base, neg, m.Index)
		if m.Shift != ShiftNone {
			inner += fmt.Sprintf(", %s #%d", m.Shift, m.ShiftAmt)
		}
	} else if m.ImmOffset != 0 {
		inner = fmt.Sprintf("%s, #%s%d", m.Base, neg, m.ImmOffset)
	} else {
		inner = m.Base.String()
	}
	switch m.Mode {
	case PreIndex, NegPreIndex:
		return "[" + inner + "]!"
	case PostIndex, NegPostIndex:
		// The offset is applied after the access.
		if m.HasIndex {
			return fmt.Sprintf("[%s], %s%s", m.Base, neg, m.Index)
		}
		return fmt.Sprintf("[%s], #%s%d", m.Base, neg, m.ImmOffset)
	default:
		return "[" + inner + "]"
	}
}

// FlexImm is the immediate form of the flexible second operand: an 8-bit
// value rotated right by twice RotateAmt.
type FlexImm struct {
	typ       ice.Type
	Imm8      uint32
	RotateAmt uint32
}

// Type implements ice.Operand.
func (f *FlexImm) Type() ice.Type { return f.typ }

// String implements fmt.Stringer.
func (f *FlexImm) String() string {
	return fmt.Sprintf("#%d", bits.RotateLeft32(f.Imm8, -int(2*f.RotateAmt)))
}

// Value reconstructs the encoded 32-bit immediate.
func (f *FlexImm) Value() uint32 { return bits.RotateLeft32(f.Imm8, -int(2*f.RotateAmt)) }

// CanHoldImm reports whether imm is encodable as a flexible immediate, and
// if so returns the first (rotate, imm8) representation found. Rotation 0
// handles the frequent small values without the rotation scan.
func CanHoldImm(imm uint32) (rotateAmt, imm8 uint32, ok bool) {
	if imm <= 0xFF {
		return 0, imm, true
	}
	for rot := uint32(1); rot < 16; rot++ {
		if v := bits.RotateLeft32(imm, int(2*rot)); v <= 0xFF {
			return rot, v, true
		}
	}
	return 0, 0, false
}

// NewFlexImm returns the flexible-immediate operand for imm, or false when
// it is not representable.
func NewFlexImm(ty ice.Type, imm uint32) (*FlexImm, bool) {
	rot, imm8, ok := CanHoldImm(imm)
	if !ok {
		return nil, false
	}
	return &FlexImm{typ: ty, Imm8: imm8, RotateAmt: rot}, true
}

// FlexReg is the register form of the flexible second operand: a register
// with an optional shift by immediate or by register.
type FlexReg struct {
	typ   ice.Type
	Reg   Reg
	Shift ShiftKind
	// ShiftByReg selects the register-specified shift form.
	ShiftByReg bool
	ShiftReg   Reg
	ShiftAmt   uint8
}

// NewFlexReg returns an unshifted register operand.
func NewFlexReg(ty ice.Type, reg Reg) *FlexReg { return &FlexReg{typ: ty, Reg: reg} }

// NewFlexRegShiftImm returns reg shifted by an immediate amount.
func NewFlexRegShiftImm(ty ice.Type, reg Reg, shift ShiftKind, amt uint8) *FlexReg {
	return &FlexReg{typ: ty, Reg: reg, Shift: shift, ShiftAmt: amt}
}

// NewFlexRegShiftReg returns reg shifted by a register-held amount.
func NewFlexRegShiftReg(ty ice.Type, reg Reg, shift ShiftKind, shiftReg Reg) *FlexReg {
	return &FlexReg{typ: ty, Reg: reg, Shift: shift, ShiftByReg: true, ShiftReg: shiftReg}
}

// Type implements ice.Operand.
func (f *FlexReg) Type() ice.Type { return f.typ }

// String implements fmt.Stringer.
func (f *FlexReg) String() string {
	if f.Shift == ShiftNone {
		return f.Reg.String()
	}
	if f.ShiftByReg {
		return fmt.Sprintf("%s, %s %s", f.Reg, f.Shift, f.ShiftReg)
	}
	return fmt.Sprintf("%s, %s #%d", f.Reg, f.Shift, f.ShiftAmt)
}
