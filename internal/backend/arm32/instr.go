package arm32

import (
	"fmt"
	"io"
	"strings"

	"github.com/tetratelabs/subzero/internal/ice"
)

// instKind discriminates the flattened machine instruction struct.
type instKind byte

const (
	instInvalid instKind = iota
	instALU              // op rd, rn, <op2>
	instMls              // mls rd, rn, rm, ra
	instCmp              // cmp rn, <op2>
	instTst              // tst rn, <op2>
	instMov              // register/immediate/memory moves, incl. vmov forms
	instMovT             // movt rd, #imm16
	instMovWSym          // movw rd, #:lower16:sym
	instMovTSym          // movt rd, #:upper16:sym
	instClz              // clz rd, rm
	instRev              // rev rd, rm
	instRbit             // rbit rd, rm
	instSxt              // sxtb/sxth rd, rm
	instUxt              // uxtb/uxth rd, rm
	instVcvt             // vcvt.<dst>.<src> sd, sm
	instVcmp             // vcmp.f32/.f64 + trailing vmrs
	instVabs
	instVsqrt
	instBr   // b<cond> to block targets
	instCall // bl symbol / blx reg
	instRet  // bx lr
	instPush
	instPop
	instAdjustStack // sub sp, sp, #imm
	instTrap
)

// ALUOp selects the operation of an instALU.
type ALUOp byte

const (
	ALUAdd ALUOp = iota
	ALUAdc
	ALUSub
	ALUSbc
	ALURsb
	ALUMul
	ALUAnd
	ALUOrr
	ALUEor
	ALUBic
	ALULsl
	ALULsr
	ALUAsr
	ALUSdiv
	ALUUdiv
	ALUVadd
	ALUVsub
	ALUVmul
	ALUVdiv
)

var aluOpNames = [...]string{
	ALUAdd: "add", ALUAdc: "adc", ALUSub: "sub", ALUSbc: "sbc", ALURsb: "rsb",
	ALUMul: "mul", ALUAnd: "and", ALUOrr: "orr", ALUEor: "eor", ALUBic: "bic",
	ALULsl: "lsl", ALULsr: "lsr", ALUAsr: "asr", ALUSdiv: "sdiv", ALUUdiv: "udiv",
	ALUVadd: "vadd", ALUVsub: "vsub", ALUVmul: "vmul", ALUVdiv: "vdiv",
}

// String implements fmt.Stringer.
func (op ALUOp) String() string { return aluOpNames[op] }

func (op ALUOp) isVFP() bool { return op >= ALUVadd }

// MNode is one machine basic block: the lowered instructions of the ICE
// node with the same index.
type MNode struct {
	Index uint32
	Label string
	Insts []*Inst
}

func (n *MNode) append(i *Inst) { n.Insts = append(n.Insts, i) }

// Func is one lowered machine function.
type Func struct {
	Name     string
	Internal bool
	Nodes    []*MNode
	// StackBytes is the fixed frame reserved below the pushed registers.
	StackBytes uint32
}

// Inst is one ARM32 machine instruction. Fields are interpreted per kind.
type Inst struct {
	kind     instKind
	aluOp    ALUOp
	pred     Cond
	setFlags bool
	deleted  bool

	// dest is a register operand or a *Mem for memory-destined moves;
	// destHi extends the destination to a register pair.
	dest   ice.Operand
	destHi Reg
	hasHi  bool

	srcs []ice.Operand
	// srcHi extends srcs[0] to a register pair (pair-sourced vmov).
	srcHi    Reg
	hasSrcHi bool

	// branch targets (instBr); nil targetFalse means fallthrough.
	targetTrue  *MNode
	targetFalse *MNode

	// call target: symbol name for bl, register operand for blx.
	callName string

	regs []Reg // push/pop register list

	// vcvt/sxt/uxt type context.
	fromType ice.Type
	toType   ice.Type

	imm uint32 // movt / adjust-stack immediate
}

// Pred returns the instruction's predicate.
func (i *Inst) Pred() Cond { return i.pred }

// SetPred sets the predicate.
func (i *Inst) SetPred(c Cond) { i.pred = c }

// SetFlags marks the S-bit.
func (i *Inst) SetFlags() { i.setFlags = true }

// Deleted reports whether a pass removed the instruction.
func (i *Inst) Deleted() bool { return i.deleted }

// Dest returns the destination operand.
func (i *Inst) Dest() ice.Operand { return i.dest }

// Srcs returns the source operands.
func (i *Inst) Srcs() []ice.Operand { return i.srcs }

// NewALU returns op dest, src0, src1.
func NewALU(op ALUOp, pred Cond, dest, src0, src1 ice.Operand) *Inst {
	return &Inst{kind: instALU, aluOp: op, pred: pred, dest: dest, srcs: []ice.Operand{src0, src1}}
}

// NewMls returns mls dest, rn, rm, ra (dest = ra - rn*rm).
func NewMls(pred Cond, dest, rn, rm, ra ice.Operand) *Inst {
	return &Inst{kind: instMls, pred: pred, dest: dest, srcs: []ice.Operand{rn, rm, ra}}
}

// NewCmp returns cmp src0, src1.
func NewCmp(pred Cond, src0, src1 ice.Operand) *Inst {
	return &Inst{kind: instCmp, pred: pred, srcs: []ice.Operand{src0, src1}}
}

// NewTst returns tst src0, src1.
func NewTst(pred Cond, src0, src1 ice.Operand) *Inst {
	return &Inst{kind: instTst, pred: pred, srcs: []ice.Operand{src0, src1}}
}

// NewMov returns a move; the emitter picks mov/vmov/ldr/vldr/vld1/str/vstr/
// vst1 from the operand classes.
func NewMov(pred Cond, dest, src ice.Operand) *Inst {
	return &Inst{kind: instMov, pred: pred, dest: dest, srcs: []ice.Operand{src}}
}

// NewMovMultiDest returns the pair-destination vmov: destLo, destHi = src.
func NewMovMultiDest(pred Cond, destLo ice.Operand, destHi Reg, src ice.Operand) *Inst {
	return &Inst{kind: instMov, pred: pred, dest: destLo, destHi: destHi, hasHi: true, srcs: []ice.Operand{src}}
}

// NewMovMultiSource returns the pair-source vmov: dest = srcLo, srcHi.
func NewMovMultiSource(pred Cond, dest, srcLo ice.Operand, srcHi Reg) *Inst {
	return &Inst{kind: instMov, pred: pred, dest: dest, srcs: []ice.Operand{srcLo}, srcHi: srcHi, hasSrcHi: true}
}

// NewMovT returns movt dest, #imm16.
func NewMovT(pred Cond, dest ice.Operand, imm uint32) *Inst {
	return &Inst{kind: instMovT, pred: pred, dest: dest, imm: imm}
}

// NewMovWSym returns movw dest, #:lower16:sym.
func NewMovWSym(pred Cond, dest ice.Operand, sym *ice.ConstantRelocatable) *Inst {
	return &Inst{kind: instMovWSym, pred: pred, dest: dest, callName: sym.Name}
}

// NewMovTSym returns movt dest, #:upper16:sym.
func NewMovTSym(pred Cond, dest ice.Operand, sym *ice.ConstantRelocatable) *Inst {
	return &Inst{kind: instMovTSym, pred: pred, dest: dest, callName: sym.Name}
}

// NewClz returns clz dest, src.
func NewClz(pred Cond, dest, src ice.Operand) *Inst {
	return &Inst{kind: instClz, pred: pred, dest: dest, srcs: []ice.Operand{src}}
}

// NewRev returns rev dest, src.
func NewRev(pred Cond, dest, src ice.Operand) *Inst {
	return &Inst{kind: instRev, pred: pred, dest: dest, srcs: []ice.Operand{src}}
}

// NewRbit returns rbit dest, src.
func NewRbit(pred Cond, dest, src ice.Operand) *Inst {
	return &Inst{kind: instRbit, pred: pred, dest: dest, srcs: []ice.Operand{src}}
}

// NewSxt returns sxtb/sxth dest, src depending on fromType.
func NewSxt(pred Cond, dest, src ice.Operand, fromType ice.Type) *Inst {
	return &Inst{kind: instSxt, pred: pred, dest: dest, srcs: []ice.Operand{src}, fromType: fromType}
}

// NewUxt returns uxtb/uxth dest, src depending on fromType.
func NewUxt(pred Cond, dest, src ice.Operand, fromType ice.Type) *Inst {
	return &Inst{kind: instUxt, pred: pred, dest: dest, srcs: []ice.Operand{src}, fromType: fromType}
}

// NewVcvt returns vcvt from fromType to toType.
func NewVcvt(pred Cond, dest, src ice.Operand, fromType, toType ice.Type) *Inst {
	return &Inst{kind: instVcvt, pred: pred, dest: dest, srcs: []ice.Operand{src}, fromType: fromType, toType: toType}
}

// NewVcmp returns vcmp src0, src1 followed by the implicit vmrs flag
// transfer.
func NewVcmp(pred Cond, src0, src1 ice.Operand) *Inst {
	return &Inst{kind: instVcmp, pred: pred, srcs: []ice.Operand{src0, src1}}
}

// NewVabs returns vabs dest, src.
func NewVabs(pred Cond, dest, src ice.Operand) *Inst {
	return &Inst{kind: instVabs, pred: pred, dest: dest, srcs: []ice.Operand{src}}
}

// NewVsqrt returns vsqrt dest, src.
func NewVsqrt(pred Cond, dest, src ice.Operand) *Inst {
	return &Inst{kind: instVsqrt, pred: pred, dest: dest, srcs: []ice.Operand{src}}
}

// NewBr returns an unconditional branch.
func NewBr(target *MNode) *Inst {
	return &Inst{kind: instBr, pred: CondAL, targetTrue: target}
}

// NewBrCond returns a conditional branch: b<pred> targetTrue, else
// targetFalse.
func NewBrCond(pred Cond, targetTrue, targetFalse *MNode) *Inst {
	return &Inst{kind: instBr, pred: pred, targetTrue: targetTrue, targetFalse: targetFalse}
}

// NewCall returns bl name.
func NewCall(name string) *Inst { return &Inst{kind: instCall, pred: CondAL, callName: name} }

// NewCallIndirect returns blx target.
func NewCallIndirect(target ice.Operand) *Inst {
	return &Inst{kind: instCall, pred: CondAL, srcs: []ice.Operand{target}}
}

// NewRet returns bx lr.
func NewRet() *Inst { return &Inst{kind: instRet, pred: CondAL} }

// NewPush returns push {regs}.
func NewPush(regs []Reg) *Inst { return &Inst{kind: instPush, pred: CondAL, regs: regs} }

// NewPop returns pop {regs}.
func NewPop(regs []Reg) *Inst { return &Inst{kind: instPop, pred: CondAL, regs: regs} }

// NewAdjustStack returns sub sp, sp, #bytes.
func NewAdjustStack(bytes uint32) *Inst { return &Inst{kind: instAdjustStack, pred: CondAL, imm: bytes} }

// NewTrap returns the canonical NaCl trap filler word.
func NewTrap() *Inst { return &Inst{kind: instTrap, pred: CondAL} }

// IsBranch reports whether the instruction is a block-level branch.
func (i *Inst) IsBranch() bool { return i.kind == instBr }

// OptimizeBranch rewrites a branch given the next node in layout order:
// an unconditional branch to next is deleted; a conditional branch whose
// false target is next drops it (fallthrough); one whose true target is
// next swaps targets and inverts the predicate. Returns whether anything
// changed; applying it twice never changes the result again.
func (i *Inst) OptimizeBranch(next *MNode) bool {
	if next == nil || i.kind != instBr || i.deleted {
		return false
	}
	if i.pred == CondAL {
		if i.targetTrue == next {
			i.deleted = true
			return true
		}
		return false
	}
	if i.targetFalse == nil {
		return false
	}
	if i.targetFalse == next {
		i.targetFalse = nil
		return true
	}
	if i.targetTrue == next {
		i.pred = i.pred.Opposite()
		i.targetTrue = i.targetFalse
		i.targetFalse = nil
		return true
	}
	return false
}

// regOf returns the bound register of a register operand.
func regOf(op ice.Operand) Reg {
	switch v := op.(type) {
	case *ice.Variable:
		if !v.HasReg() {
			panic("BUG: variable without register at emission: " + v.String())
		}
		return Reg(v.RegNum())
	case *FlexReg:
		return v.Reg
	}
	panic(fmt.Sprintf("BUG: operand %s is not a register", op))
}

// opText renders an operand the way the textual emitter expects it.
func opText(op ice.Operand) string {
	switch v := op.(type) {
	case *ice.Variable:
		if v.HasReg() {
			return Reg(v.RegNum()).String()
		}
		return v.String()
	case *ice.ConstantInteger32:
		return fmt.Sprintf("#%d", v.Value)
	default:
		return op.String()
	}
}

func (i *Inst) suffix() string {
	s := ""
	if i.setFlags {
		s = "s"
	}
	return s + i.pred.String()
}

// vfpTypeSuffix returns ".f32"/".f64" for a scalar float type.
func vfpTypeSuffix(ty ice.Type) string {
	if ty == ice.TypeF64 {
		return ".f64"
	}
	return ".f32"
}

// movMnemonic picks the move mnemonic from the operand classes, per the
// target's move-lowering rules.
func (i *Inst) movMnemonic() string {
	if i.hasHi || i.hasSrcHi {
		return "vmov" + i.pred.String()
	}
	if m, ok := i.dest.(*Mem); ok {
		src := i.srcs[0]
		switch {
		case src.Type().IsVector():
			return "vst1" + i.pred.String() + ".64"
		case src.Type().IsFloat():
			return "vstr" + i.pred.String()
		default:
			return "str" + i.pred.String() + widthSuffix(m.Type())
		}
	}
	if _, ok := i.srcs[0].(*Mem); ok {
		switch {
		case i.dest.Type().IsVector():
			return "vld1" + i.pred.String() + ".64"
		case i.dest.Type().IsFloat():
			return "vldr" + i.pred.String()
		default:
			return "ldr" + i.pred.String() + widthSuffix(i.dest.Type())
		}
	}
	destVFP := isVFPOperand(i.dest)
	srcVFP := isVFPOperand(i.srcs[0])
	if destVFP || srcVFP {
		// Core<->VFP and VFP<->VFP transfers. A same-class VFP copy needs a
		// width suffix so the assembler doesn't guess a vector form.
		if destVFP && srcVFP {
			return "vmov" + i.pred.String() + vfpTypeSuffix(i.dest.Type())
		}
		return "vmov" + i.pred.String()
	}
	if c, ok := i.srcs[0].(*ice.ConstantInteger32); ok {
		if _, _, encodable := CanHoldImm(uint32(c.Value)); !encodable {
			return "movw" + i.pred.String()
		}
	}
	return "mov" + i.pred.String()
}

func isVFPOperand(op ice.Operand) bool {
	switch v := op.(type) {
	case *ice.Variable:
		return v.HasReg() && Reg(v.RegNum()).IsVFP()
	case *FlexReg:
		return v.Shift == ShiftNone && v.Reg.IsVFP()
	}
	return false
}

// EmitText writes the textual assembly form. Branch emission assumes
// OptimizeBranch already ran for the layout.
func (i *Inst) EmitText(w io.Writer) error {
	if i.deleted {
		return nil
	}
	var line string
	switch i.kind {
	case instALU:
		mnemonic := i.aluOp.String()
		if i.aluOp.isVFP() {
			line = fmt.Sprintf("\t%s%s%s\t%s, %s, %s", mnemonic, i.pred.String(),
				vfpTypeSuffix(i.dest.Type()), opText(i.dest), opText(i.srcs[0]), opText(i.srcs[1]))
		} else {
			line = fmt.Sprintf("\t%s%s\t%s, %s, %s", mnemonic, i.suffix(),
				opText(i.dest), opText(i.srcs[0]), opText(i.srcs[1]))
		}
	case instMls:
		line = fmt.Sprintf("\tmls%s\t%s, %s, %s, %s", i.pred.String(),
			opText(i.dest), opText(i.srcs[0]), opText(i.srcs[1]), opText(i.srcs[2]))
	case instCmp:
		line = fmt.Sprintf("\tcmp%s\t%s, %s", i.pred.String(), opText(i.srcs[0]), opText(i.srcs[1]))
	case instTst:
		line = fmt.Sprintf("\ttst%s\t%s, %s", i.pred.String(), opText(i.srcs[0]), opText(i.srcs[1]))
	case instMov:
		switch {
		case i.hasHi:
			line = fmt.Sprintf("\t%s\t%s, %s, %s", i.movMnemonic(), opText(i.dest), i.destHi, opText(i.srcs[0]))
		case i.hasSrcHi:
			line = fmt.Sprintf("\t%s\t%s, %s, %s", i.movMnemonic(), opText(i.dest), opText(i.srcs[0]), i.srcHi)
		default:
			if _, ok := i.dest.(*Mem); ok {
				// Stores name the source register first: str rX, [base].
				line = fmt.Sprintf("\t%s\t%s, %s", i.movMnemonic(), opText(i.srcs[0]), opText(i.dest))
			} else {
				line = fmt.Sprintf("\t%s\t%s, %s", i.movMnemonic(), opText(i.dest), opText(i.srcs[0]))
			}
		}
	case instMovT:
		line = fmt.Sprintf("\tmovt%s\t%s, #%d", i.pred.String(), opText(i.dest), i.imm)
	case instMovWSym:
		line = fmt.Sprintf("\tmovw%s\t%s, #:lower16:%s", i.pred.String(), opText(i.dest), i.callName)
	case instMovTSym:
		line = fmt.Sprintf("\tmovt%s\t%s, #:upper16:%s", i.pred.String(), opText(i.dest), i.callName)
	case instClz:
		line = fmt.Sprintf("\tclz%s\t%s, %s", i.pred.String(), opText(i.dest), opText(i.srcs[0]))
	case instRev:
		line = fmt.Sprintf("\trev%s\t%s, %s", i.pred.String(), opText(i.dest), opText(i.srcs[0]))
	case instRbit:
		line = fmt.Sprintf("\trbit%s\t%s, %s", i.pred.String(), opText(i.dest), opText(i.srcs[0]))
	case instSxt:
		line = fmt.Sprintf("\tsxt%s%s\t%s, %s", widthSuffix(i.fromType), i.pred.String(), opText(i.dest), opText(i.srcs[0]))
	case instUxt:
		line = fmt.Sprintf("\tuxt%s%s\t%s, %s", widthSuffix(i.fromType), i.pred.String(), opText(i.dest), opText(i.srcs[0]))
	case instVcvt:
		line = fmt.Sprintf("\tvcvt%s.%s.%s\t%s, %s", i.pred.String(),
			vcvtSuffix(i.toType), vcvtSuffix(i.fromType), opText(i.dest), opText(i.srcs[0]))
	case instVcmp:
		line = fmt.Sprintf("\tvcmp%s%s\t%s, %s\n\tvmrs%s\tAPSR_nzcv, FPSCR",
			i.pred.String(), vfpTypeSuffix(i.srcs[0].Type()), opText(i.srcs[0]), opText(i.srcs[1]), i.pred.String())
	case instVabs:
		line = fmt.Sprintf("\tvabs%s%s\t%s, %s", i.pred.String(), vfpTypeSuffix(i.dest.Type()), opText(i.dest), opText(i.srcs[0]))
	case instVsqrt:
		line = fmt.Sprintf("\tvsqrt%s%s\t%s, %s", i.pred.String(), vfpTypeSuffix(i.dest.Type()), opText(i.dest), opText(i.srcs[0]))
	case instBr:
		if i.pred == CondAL {
			line = fmt.Sprintf("\tb\t%s", i.targetTrue.Label)
		} else if i.targetFalse == nil {
			line = fmt.Sprintf("\tb%s\t%s", i.pred.String(), i.targetTrue.Label)
		} else {
			line = fmt.Sprintf("\tb%s\t%s\n\tb\t%s", i.pred.String(), i.targetTrue.Label, i.targetFalse.Label)
		}
	case instCall:
		if i.callName != "" {
			line = fmt.Sprintf("\tbl\t%s", i.callName)
		} else {
			line = fmt.Sprintf("\tblx\t%s", opText(i.srcs[0]))
		}
	case instRet:
		line = "\tbx\tlr"
	case instPush:
		line = "\tpush\t{" + regListText(i.regs) + "}"
	case instPop:
		line = "\tpop\t{" + regListText(i.regs) + "}"
	case instAdjustStack:
		line = fmt.Sprintf("\tsub\tsp, sp, #%d", i.imm)
	case instTrap:
		line = "\t.long 0xE7FEDEF0"
	default:
		panic(fmt.Sprintf("BUG: EmitText for kind %d not defined", i.kind))
	}
	_, err := io.WriteString(w, line+"\n")
	return err
}

func vcvtSuffix(ty ice.Type) string {
	switch ty {
	case ice.TypeF32:
		return "f32"
	case ice.TypeF64:
		return "f64"
	case ice.TypeI32:
		return "s32"
	}
	panic("BUG: vcvt on " + ty.String())
}

func regListText(regs []Reg) string {
	parts := make([]string, len(regs))
	for i, r := range regs {
		parts[i] = r.String()
	}
	return strings.Join(parts, ", ")
}

// OptimizeBranches runs the branch optimization over the whole function in
// layout order.
func (f *Func) OptimizeBranches() {
	for idx, n := range f.Nodes {
		var next *MNode
		if idx+1 < len(f.Nodes) {
			next = f.Nodes[idx+1]
		}
		for _, inst := range n.Insts {
			inst.OptimizeBranch(next)
		}
	}
}

// EmitText writes the function's textual assembly.
func (f *Func) EmitText(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "\t.text\n"); err != nil {
		return err
	}
	if !f.Internal {
		if _, err := fmt.Fprintf(w, "\t.globl\t%s\n", f.Name); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "\t.type\t%s, %%function\n%s:\n", f.Name, f.Name); err != nil {
		return err
	}
	for idx, n := range f.Nodes {
		if idx != 0 {
			if _, err := fmt.Fprintf(w, "%s:\n", n.Label); err != nil {
				return err
			}
		}
		for _, inst := range n.Insts {
			if err := inst.EmitText(w); err != nil {
				return err
			}
		}
	}
	return nil
}
