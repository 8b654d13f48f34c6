package arm32

import (
	"strings"

	asmarm32 "github.com/tetratelabs/subzero/internal/asm/arm32"
	"github.com/tetratelabs/subzero/internal/ice"
)

var aluToAsm = map[ALUOp]asmarm32.ALUOp{
	ALUAdd: asmarm32.OpAdd, ALUAdc: asmarm32.OpAdc,
	ALUSub: asmarm32.OpSub, ALUSbc: asmarm32.OpSbc, ALURsb: asmarm32.OpRsb,
	ALUMul: asmarm32.OpMul, ALUAnd: asmarm32.OpAnd, ALUOrr: asmarm32.OpOrr,
	ALUEor: asmarm32.OpEor, ALUBic: asmarm32.OpBic,
	ALULsl: asmarm32.OpLsl, ALULsr: asmarm32.OpLsr, ALUAsr: asmarm32.OpAsr,
}

// textOf renders the instruction's textual form, for fixups.
func (i *Inst) textOf() string {
	var b strings.Builder
	_ = i.EmitText(&b)
	return strings.TrimRight(b.String(), "\n")
}

// coreReg returns the core-register number of op, or false when op is not a
// plain core register.
func coreReg(op ice.Operand) (uint8, bool) {
	switch v := op.(type) {
	case *ice.Variable:
		if v.HasReg() && Reg(v.RegNum()).IsCore() {
			return uint8(v.RegNum()), true
		}
	case *FlexReg:
		if v.Shift == ShiftNone && v.Reg.IsCore() {
			return uint8(v.Reg), true
		}
	}
	return 0, false
}

type branchFix struct {
	prog   *asmarm32.Prog
	target *MNode
}

// EmitIAS drives the assembler over the lowered function. Instructions the
// encoder does not support become text fixups; the textual form is then the
// final authority for them.
func (f *Func) EmitIAS(a *asmarm32.Assembler) {
	nodeMarkers := make(map[*MNode]*asmarm32.Prog, len(f.Nodes))
	var branches []branchFix
	for _, n := range f.Nodes {
		nodeMarkers[n] = a.Nop()
		for _, inst := range n.Insts {
			if inst.Deleted() {
				continue
			}
			inst.emitIAS(a, &branches)
		}
	}
	for _, b := range branches {
		a.SetBranchTarget(b.prog, nodeMarkers[b.target])
	}
}

// emitIAS encodes one instruction, or records its text form as a fixup.
func (i *Inst) emitIAS(a *asmarm32.Assembler, branches *[]branchFix) {
	cond := asmarm32.Cond(i.pred)
	switch i.kind {
	case instALU:
		op, supported := aluToAsm[i.aluOp]
		if !supported {
			break
		}
		rd, ok := coreReg(i.dest)
		if !ok {
			break
		}
		rn, ok := coreReg(i.srcs[0])
		if !ok {
			break
		}
		if rm, ok := coreReg(i.srcs[1]); ok {
			a.ALURegReg(op, cond, rd, rn, rm, i.setFlags)
			return
		}
		if imm, ok := i.srcs[1].(*FlexImm); ok {
			a.ALURegImm(op, cond, rd, rn, imm.Value(), i.setFlags)
			return
		}
	case instCmp:
		rn, ok := coreReg(i.srcs[0])
		if !ok {
			break
		}
		if rm, ok := coreReg(i.srcs[1]); ok {
			a.Cmp(cond, rn, rm)
			return
		}
		if imm, ok := i.srcs[1].(*FlexImm); ok {
			a.CmpImm(cond, rn, imm.Value())
			return
		}
	case instMov:
		if i.hasHi || i.hasSrcHi {
			break
		}
		if m, ok := i.dest.(*Mem); ok {
			if rd, okSrc := coreReg(i.srcs[0]); okSrc && !m.HasIndex && m.Mode == Offset {
				a.Str(cond, rd, uint8(m.Base), m.ImmOffset, uint8(m.Type().WidthInBytes()))
				return
			}
			break
		}
		rd, ok := coreReg(i.dest)
		if !ok {
			break
		}
		if m, okMem := i.srcs[0].(*Mem); okMem {
			if !m.HasIndex && m.Mode == Offset {
				a.Ldr(cond, rd, uint8(m.Base), m.ImmOffset, uint8(m.Type().WidthInBytes()), false)
				return
			}
			break
		}
		if rm, okReg := coreReg(i.srcs[0]); okReg {
			a.MovRegReg(cond, rd, rm)
			return
		}
		switch c := i.srcs[0].(type) {
		case *FlexImm:
			a.MovRegImm(cond, rd, c.Value())
			return
		case *ice.ConstantInteger32:
			a.MovRegImm(cond, rd, uint32(c.Value))
			return
		}
	case instBr:
		if i.pred == CondAL {
			*branches = append(*branches, branchFix{prog: a.B(asmarm32.Cond(CondAL)), target: i.targetTrue})
			return
		}
		*branches = append(*branches, branchFix{prog: a.B(cond), target: i.targetTrue})
		if i.targetFalse != nil {
			*branches = append(*branches, branchFix{prog: a.B(asmarm32.Cond(CondAL)), target: i.targetFalse})
		}
		return
	case instPush, instPop:
		var mask uint16
		for _, r := range i.regs {
			if !r.IsCore() {
				mask = 0
				break
			}
			mask |= 1 << uint(r)
		}
		if mask != 0 {
			if i.kind == instPush {
				a.Push(cond, mask)
			} else {
				a.Pop(cond, mask)
			}
			return
		}
	case instRet:
		a.Ret()
		return
	}
	a.EmitTextInst(i.textOf())
}
