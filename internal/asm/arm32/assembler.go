// Package arm32 implements the ARM32 assembler on top of the golang-asm
// library's obj/arm backend. The encoder covers the core-register subset;
// VFP and NEON forms are recorded as text fixups and resolved by the
// textual emitter.
package arm32

import (
	"fmt"

	goasm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/arm"

	"github.com/tetratelabs/subzero/internal/asm"
)

// Cond mirrors the backend's four-bit condition encoding.
type Cond byte

// castAsGolangAsmCond maps condition encodings onto obj/arm scond values.
var castAsGolangAsmCond = [15]uint8{
	arm.C_SCOND_EQ, arm.C_SCOND_NE, arm.C_SCOND_HS, arm.C_SCOND_LO,
	arm.C_SCOND_MI, arm.C_SCOND_PL, arm.C_SCOND_VS, arm.C_SCOND_VC,
	arm.C_SCOND_HI, arm.C_SCOND_LS, arm.C_SCOND_GE, arm.C_SCOND_LT,
	arm.C_SCOND_GT, arm.C_SCOND_LE, arm.C_SCOND_NONE,
}

// ALUOp selects the encoded data-processing operation.
type ALUOp byte

const (
	OpAdd ALUOp = iota
	OpAdc
	OpSub
	OpSbc
	OpRsb
	OpMul
	OpAnd
	OpOrr
	OpEor
	OpBic
	OpLsl
	OpLsr
	OpAsr
	numALUOps
)

var castAsGolangAsmALUOp = [numALUOps]obj.As{
	OpAdd: arm.AADD, OpAdc: arm.AADC, OpSub: arm.ASUB, OpSbc: arm.ASBC,
	OpRsb: arm.ARSB, OpMul: arm.AMUL, OpAnd: arm.AAND, OpOrr: arm.AORR,
	OpEor: arm.AEOR, OpBic: arm.ABIC, OpLsl: arm.ASLL, OpLsr: arm.ASRL,
	OpAsr: arm.ASRA,
}

// castAsGolangAsmReg maps core register numbers r0..r15 onto obj/arm.
var castAsGolangAsmReg = [16]int16{
	arm.REG_R0, arm.REG_R1, arm.REG_R2, arm.REG_R3,
	arm.REG_R4, arm.REG_R5, arm.REG_R6, arm.REG_R7,
	arm.REG_R8, arm.REG_R9, arm.REG_R10, arm.REG_R11,
	arm.REG_R12, arm.REG_R13, arm.REG_R14, arm.REG_R15,
}

// Prog aliases the golang-asm instruction node so callers can hold branch
// handles without importing the library.
type Prog = obj.Prog

// Assembler encodes ARM32 instructions via golang-asm. It implements
// asm.Assembler.
type Assembler struct {
	b           *goasm.Builder
	fixups      []string
	encodeError error
}

var _ asm.Assembler = (*Assembler)(nil)

// NewAssembler returns an assembler for one function's worth of code.
func NewAssembler() (*Assembler, error) {
	b, err := goasm.NewBuilder("arm", 1024)
	if err != nil {
		return nil, fmt.Errorf("failed to create an assembly builder: %w", err)
	}
	return &Assembler{b: b}, nil
}

// EmitTextInst implements asm.Assembler.
func (a *Assembler) EmitTextInst(text string) { a.fixups = append(a.fixups, text) }

// NeedsTextFixup implements asm.Assembler.
func (a *Assembler) NeedsTextFixup() bool { return len(a.fixups) > 0 }

// TextFixups implements asm.Assembler.
func (a *Assembler) TextFixups() []string { return a.fixups }

// Assemble implements asm.Assembler.
func (a *Assembler) Assemble() ([]byte, error) {
	if a.encodeError != nil {
		return nil, a.encodeError
	}
	return a.b.Assemble(), nil
}

func (a *Assembler) newProg(as obj.As, cond Cond) *obj.Prog {
	p := a.b.NewProg()
	p.As = as
	p.Scond = castAsGolangAsmCond[cond]
	return p
}

// ALURegReg encodes op rd, rn, rm.
func (a *Assembler) ALURegReg(op ALUOp, cond Cond, rd, rn, rm uint8, setFlags bool) {
	p := a.newProg(castAsGolangAsmALUOp[op], cond)
	if setFlags {
		p.Scond |= arm.C_SBIT
	}
	p.From.Type = obj.TYPE_REG
	p.From.Reg = castAsGolangAsmReg[rm]
	p.Reg = castAsGolangAsmReg[rn]
	p.To.Type = obj.TYPE_REG
	p.To.Reg = castAsGolangAsmReg[rd]
	a.b.AddInstruction(p)
}

// ALURegImm encodes op rd, rn, #imm for flexible immediates.
func (a *Assembler) ALURegImm(op ALUOp, cond Cond, rd, rn uint8, imm uint32, setFlags bool) {
	p := a.newProg(castAsGolangAsmALUOp[op], cond)
	if setFlags {
		p.Scond |= arm.C_SBIT
	}
	p.From.Type = obj.TYPE_CONST
	p.From.Offset = int64(imm)
	p.Reg = castAsGolangAsmReg[rn]
	p.To.Type = obj.TYPE_REG
	p.To.Reg = castAsGolangAsmReg[rd]
	a.b.AddInstruction(p)
}

// MovRegReg encodes mov rd, rm.
func (a *Assembler) MovRegReg(cond Cond, rd, rm uint8) {
	p := a.newProg(arm.AMOVW, cond)
	p.From.Type = obj.TYPE_REG
	p.From.Reg = castAsGolangAsmReg[rm]
	p.To.Type = obj.TYPE_REG
	p.To.Reg = castAsGolangAsmReg[rd]
	a.b.AddInstruction(p)
}

// MovRegImm encodes a constant load. The assembler materializes wide
// constants through its constant pool.
func (a *Assembler) MovRegImm(cond Cond, rd uint8, imm uint32) {
	p := a.newProg(arm.AMOVW, cond)
	p.From.Type = obj.TYPE_CONST
	p.From.Offset = int64(int32(imm))
	p.To.Type = obj.TYPE_REG
	p.To.Reg = castAsGolangAsmReg[rd]
	a.b.AddInstruction(p)
}

// Cmp encodes cmp rn, rm.
func (a *Assembler) Cmp(cond Cond, rn, rm uint8) {
	p := a.newProg(arm.ACMP, cond)
	p.From.Type = obj.TYPE_REG
	p.From.Reg = castAsGolangAsmReg[rm]
	p.Reg = castAsGolangAsmReg[rn]
	a.b.AddInstruction(p)
}

// CmpImm encodes cmp rn, #imm.
func (a *Assembler) CmpImm(cond Cond, rn uint8, imm uint32) {
	p := a.newProg(arm.ACMP, cond)
	p.From.Type = obj.TYPE_CONST
	p.From.Offset = int64(int32(imm))
	p.Reg = castAsGolangAsmReg[rn]
	a.b.AddInstruction(p)
}

// loadStoreAs picks the obj/arm mnemonic for a width and extension.
func loadStoreAs(widthBytes uint8, signExt bool) obj.As {
	switch widthBytes {
	case 1:
		if signExt {
			return arm.AMOVBS
		}
		return arm.AMOVBU
	case 2:
		if signExt {
			return arm.AMOVHS
		}
		return arm.AMOVHU
	default:
		return arm.AMOVW
	}
}

// Ldr encodes a load of widthBytes from [rn, #offset] into rd.
func (a *Assembler) Ldr(cond Cond, rd, rn uint8, offset int32, widthBytes uint8, signExt bool) {
	p := a.newProg(loadStoreAs(widthBytes, signExt), cond)
	p.From.Type = obj.TYPE_MEM
	p.From.Reg = castAsGolangAsmReg[rn]
	p.From.Offset = int64(offset)
	p.To.Type = obj.TYPE_REG
	p.To.Reg = castAsGolangAsmReg[rd]
	a.b.AddInstruction(p)
}

// Str encodes a store of widthBytes of rd to [rn, #offset].
func (a *Assembler) Str(cond Cond, rd, rn uint8, offset int32, widthBytes uint8) {
	p := a.newProg(loadStoreAs(widthBytes, false), cond)
	p.From.Type = obj.TYPE_REG
	p.From.Reg = castAsGolangAsmReg[rd]
	p.To.Type = obj.TYPE_MEM
	p.To.Reg = castAsGolangAsmReg[rn]
	p.To.Offset = int64(offset)
	a.b.AddInstruction(p)
}

// B encodes a branch and returns the Prog so the caller can resolve the
// target once the destination instruction exists.
func (a *Assembler) B(cond Cond) *obj.Prog {
	p := a.newProg(arm.AB, cond)
	p.To.Type = obj.TYPE_BRANCH
	a.b.AddInstruction(p)
	return p
}

// SetBranchTarget points a previously emitted branch at target.
func (a *Assembler) SetBranchTarget(branch, target *obj.Prog) {
	branch.To.SetTarget(target)
}

// Nop emits a position marker usable as a branch target.
func (a *Assembler) Nop() *obj.Prog {
	p := a.newProg(obj.ANOP, 14)
	a.b.AddInstruction(p)
	return p
}

// Push encodes stmdb sp!, {mask}: the prologue register save.
func (a *Assembler) Push(cond Cond, mask uint16) {
	p := a.newProg(arm.AMOVM, cond)
	p.Scond |= arm.C_WBIT | arm.C_PBIT
	p.From.Type = obj.TYPE_REGLIST
	p.From.Offset = int64(mask)
	p.To.Type = obj.TYPE_MEM
	p.To.Reg = arm.REG_R13
	a.b.AddInstruction(p)
}

// Pop encodes ldmia sp!, {mask}: the epilogue register restore.
func (a *Assembler) Pop(cond Cond, mask uint16) {
	p := a.newProg(arm.AMOVM, cond)
	p.Scond |= arm.C_WBIT | arm.C_UBIT
	p.From.Type = obj.TYPE_MEM
	p.From.Reg = arm.REG_R13
	p.To.Type = obj.TYPE_REGLIST
	p.To.Offset = int64(mask)
	a.b.AddInstruction(p)
}

// Ret encodes bx lr.
func (a *Assembler) Ret() {
	p := a.newProg(obj.ARET, 14)
	a.b.AddInstruction(p)
}
