package ice

import (
	"fmt"
	"strings"
)

// InstKind discriminates the flattened Inst struct.
type InstKind byte

const (
	InstInvalid InstKind = iota
	InstArith
	InstCast
	InstSelect
	InstExtractElement
	InstInsertElement
	InstIcmp
	InstFcmp
	InstRet
	InstBr
	InstSwitch
	InstUnreachable
	InstPhi
	InstAlloca
	InstLoad
	InstStore
	InstCall
	InstIntrinsicCall
	// InstAssign is only produced by error recovery: it keeps the value-ID
	// space aligned after a rejected value-producing record.
	InstAssign
)

// ArithOp is the sub-kind of an InstArith.
type ArithOp byte

const (
	ArithAdd ArithOp = iota
	ArithSub
	ArithMul
	ArithUdiv
	ArithSdiv
	ArithUrem
	ArithSrem
	ArithShl
	ArithLshr
	ArithAshr
	ArithAnd
	ArithOr
	ArithXor
	ArithFadd
	ArithFsub
	ArithFmul
	ArithFdiv
	ArithFrem
)

var arithOpNames = [...]string{
	ArithAdd: "add", ArithSub: "sub", ArithMul: "mul",
	ArithUdiv: "udiv", ArithSdiv: "sdiv", ArithUrem: "urem", ArithSrem: "srem",
	ArithShl: "shl", ArithLshr: "lshr", ArithAshr: "ashr",
	ArithAnd: "and", ArithOr: "or", ArithXor: "xor",
	ArithFadd: "fadd", ArithFsub: "fsub", ArithFmul: "fmul", ArithFdiv: "fdiv", ArithFrem: "frem",
}

// String implements fmt.Stringer.
func (op ArithOp) String() string { return arithOpNames[op] }

// IsFloatOp returns true for the fadd..frem family.
func (op ArithOp) IsFloatOp() bool { return op >= ArithFadd }

// CastOp is the sub-kind of an InstCast.
type CastOp byte

const (
	CastTrunc CastOp = iota
	CastZext
	CastSext
	CastFptoui
	CastFptosi
	CastUitofp
	CastSitofp
	CastFptrunc
	CastFpext
	CastBitcast
)

var castOpNames = [...]string{
	CastTrunc: "trunc", CastZext: "zext", CastSext: "sext",
	CastFptoui: "fptoui", CastFptosi: "fptosi", CastUitofp: "uitofp", CastSitofp: "sitofp",
	CastFptrunc: "fptrunc", CastFpext: "fpext", CastBitcast: "bitcast",
}

// String implements fmt.Stringer.
func (op CastOp) String() string { return castOpNames[op] }

// IcmpCond is the predicate of an InstIcmp.
type IcmpCond byte

const (
	IcmpEq IcmpCond = iota
	IcmpNe
	IcmpUgt
	IcmpUge
	IcmpUlt
	IcmpUle
	IcmpSgt
	IcmpSge
	IcmpSlt
	IcmpSle
)

var icmpCondNames = [...]string{
	IcmpEq: "eq", IcmpNe: "ne",
	IcmpUgt: "ugt", IcmpUge: "uge", IcmpUlt: "ult", IcmpUle: "ule",
	IcmpSgt: "sgt", IcmpSge: "sge", IcmpSlt: "slt", IcmpSle: "sle",
}

// String implements fmt.Stringer.
func (c IcmpCond) String() string { return icmpCondNames[c] }

// FcmpCond is the predicate of an InstFcmp: the sixteen IEEE ordered and
// unordered comparisons.
type FcmpCond byte

const (
	FcmpFalse FcmpCond = iota
	FcmpOeq
	FcmpOgt
	FcmpOge
	FcmpOlt
	FcmpOle
	FcmpOne
	FcmpOrd
	FcmpUeq
	FcmpUgt
	FcmpUge
	FcmpUlt
	FcmpUle
	FcmpUne
	FcmpUno
	FcmpTrue
)

var fcmpCondNames = [...]string{
	FcmpFalse: "false", FcmpOeq: "oeq", FcmpOgt: "ogt", FcmpOge: "oge",
	FcmpOlt: "olt", FcmpOle: "ole", FcmpOne: "one", FcmpOrd: "ord",
	FcmpUeq: "ueq", FcmpUgt: "ugt", FcmpUge: "uge", FcmpUlt: "ult",
	FcmpUle: "ule", FcmpUne: "une", FcmpUno: "uno", FcmpTrue: "true",
}

// String implements fmt.Stringer.
func (c FcmpCond) String() string { return fcmpCondNames[c] }

// SwitchCase pairs one case value with its target block.
type SwitchCase struct {
	Value  int64
	Target *Node
}

// Inst is a single high-level instruction. Go has no union type, so this is
// a flattened struct; each field is meaningful only for some kinds.
type Inst struct {
	kind InstKind
	op   byte // ArithOp, CastOp, IcmpCond or FcmpCond depending on kind

	dest *Variable
	srcs []Operand

	// Branch targets: targetTrue/targetFalse for br (unconditional branches
	// use only targetTrue), default target and cases for switch.
	targetTrue  *Node
	targetFalse *Node
	cases       []SwitchCase

	// phiBlocks[i] is the predecessor block paired with srcs[i].
	phiBlocks []*Node

	alignment uint32 // alloca, load, store

	tail      bool       // call
	intrinsic *Intrinsic // intrinsic-call
}

// Kind returns the instruction kind.
func (i *Inst) Kind() InstKind { return i.kind }

// Dest returns the destination variable, or nil for instructions that do not
// produce a value.
func (i *Inst) Dest() *Variable { return i.dest }

// Srcs returns the source operands.
func (i *Inst) Srcs() []Operand { return i.srcs }

// Src returns the n'th source operand.
func (i *Inst) Src(n int) Operand { return i.srcs[n] }

// ArithOp returns the arithmetic sub-kind.
func (i *Inst) ArithOp() ArithOp { return ArithOp(i.op) }

// CastOp returns the cast sub-kind.
func (i *Inst) CastOp() CastOp { return CastOp(i.op) }

// IcmpCond returns the integer comparison predicate.
func (i *Inst) IcmpCond() IcmpCond { return IcmpCond(i.op) }

// FcmpCond returns the float comparison predicate.
func (i *Inst) FcmpCond() FcmpCond { return FcmpCond(i.op) }

// Alignment returns the alignment of an alloca, load or store.
func (i *Inst) Alignment() uint32 { return i.alignment }

// IsTailCall returns the tail-call flag of a call.
func (i *Inst) IsTailCall() bool { return i.tail }

// Intrinsic returns the resolved intrinsic of an intrinsic-call.
func (i *Inst) Intrinsic() *Intrinsic { return i.intrinsic }

// TargetTrue returns the taken target of a br.
func (i *Inst) TargetTrue() *Node { return i.targetTrue }

// TargetFalse returns the fallthrough target of a conditional br, nil for an
// unconditional one.
func (i *Inst) TargetFalse() *Node { return i.targetFalse }

// SwitchDefault returns the default target of a switch.
func (i *Inst) SwitchDefault() *Node { return i.targetFalse }

// Cases returns the case list of a switch.
func (i *Inst) Cases() []SwitchCase { return i.cases }

// PhiBlock returns the predecessor paired with the n'th phi source.
func (i *Inst) PhiBlock(n int) *Node { return i.phiBlocks[n] }

// IsTerminator reports whether this instruction must end its block.
func (i *Inst) IsTerminator() bool {
	switch i.kind {
	case InstRet, InstBr, InstSwitch, InstUnreachable:
		return true
	}
	return false
}

// TerminatorSuccessors returns the out-edges of a terminator in a fixed
// order: br true then false, switch default then cases.
func (i *Inst) TerminatorSuccessors() []*Node {
	switch i.kind {
	case InstBr:
		if i.targetFalse == nil {
			return []*Node{i.targetTrue}
		}
		return []*Node{i.targetTrue, i.targetFalse}
	case InstSwitch:
		succs := make([]*Node, 0, 1+len(i.cases))
		succs = append(succs, i.targetFalse)
		for _, c := range i.cases {
			succs = append(succs, c.Target)
		}
		return succs
	case InstRet, InstUnreachable:
		return nil
	}
	panic("BUG: TerminatorSuccessors on non-terminator")
}

// NewArith returns dest = op srcs[0], srcs[1].
func NewArith(op ArithOp, dest *Variable, src0, src1 Operand) *Inst {
	return &Inst{kind: InstArith, op: byte(op), dest: dest, srcs: []Operand{src0, src1}}
}

// NewCast returns dest = op src to dest.Type().
func NewCast(op CastOp, dest *Variable, src Operand) *Inst {
	return &Inst{kind: InstCast, op: byte(op), dest: dest, srcs: []Operand{src}}
}

// NewSelect returns dest = select cond, thenVal, elseVal.
func NewSelect(dest *Variable, cond, thenVal, elseVal Operand) *Inst {
	return &Inst{kind: InstSelect, dest: dest, srcs: []Operand{cond, thenVal, elseVal}}
}

// NewExtractElement returns dest = extractelement vec, index.
func NewExtractElement(dest *Variable, vec, index Operand) *Inst {
	return &Inst{kind: InstExtractElement, dest: dest, srcs: []Operand{vec, index}}
}

// NewInsertElement returns dest = insertelement vec, elt, index.
func NewInsertElement(dest *Variable, vec, elt, index Operand) *Inst {
	return &Inst{kind: InstInsertElement, dest: dest, srcs: []Operand{vec, elt, index}}
}

// NewIcmp returns dest = icmp cond src0, src1.
func NewIcmp(cond IcmpCond, dest *Variable, src0, src1 Operand) *Inst {
	return &Inst{kind: InstIcmp, op: byte(cond), dest: dest, srcs: []Operand{src0, src1}}
}

// NewFcmp returns dest = fcmp cond src0, src1.
func NewFcmp(cond FcmpCond, dest *Variable, src0, src1 Operand) *Inst {
	return &Inst{kind: InstFcmp, op: byte(cond), dest: dest, srcs: []Operand{src0, src1}}
}

// NewRet returns a return. val may be nil.
func NewRet(val Operand) *Inst {
	i := &Inst{kind: InstRet}
	if val != nil {
		i.srcs = []Operand{val}
	}
	return i
}

// NewBr returns an unconditional branch to target.
func NewBr(target *Node) *Inst {
	return &Inst{kind: InstBr, targetTrue: target}
}

// NewBrCond returns a conditional branch on cond.
func NewBrCond(cond Operand, targetTrue, targetFalse *Node) *Inst {
	return &Inst{kind: InstBr, srcs: []Operand{cond}, targetTrue: targetTrue, targetFalse: targetFalse}
}

// NewSwitch returns a switch on cond with the given default target.
func NewSwitch(cond Operand, defaultTarget *Node, cases []SwitchCase) *Inst {
	return &Inst{kind: InstSwitch, srcs: []Operand{cond}, targetFalse: defaultTarget, cases: cases}
}

// NewUnreachable returns an unreachable terminator.
func NewUnreachable() *Inst { return &Inst{kind: InstUnreachable} }

// NewPhi returns an empty phi producing dest; arguments are attached with
// AddPhiArgument.
func NewPhi(dest *Variable) *Inst { return &Inst{kind: InstPhi, dest: dest} }

// AddPhiArgument pairs value with the predecessor block it flows in from.
func (i *Inst) AddPhiArgument(value Operand, block *Node) {
	if i.kind != InstPhi {
		panic("BUG: AddPhiArgument on non-phi")
	}
	i.srcs = append(i.srcs, value)
	i.phiBlocks = append(i.phiBlocks, block)
}

// NewAlloca returns dest = alloca byteCount, align.
func NewAlloca(dest *Variable, byteCount Operand, alignment uint32) *Inst {
	return &Inst{kind: InstAlloca, dest: dest, srcs: []Operand{byteCount}, alignment: alignment}
}

// NewLoad returns dest = load addr, align.
func NewLoad(dest *Variable, addr Operand, alignment uint32) *Inst {
	return &Inst{kind: InstLoad, dest: dest, srcs: []Operand{addr}, alignment: alignment}
}

// NewStore returns store val, addr, align.
func NewStore(val, addr Operand, alignment uint32) *Inst {
	return &Inst{kind: InstStore, srcs: []Operand{val, addr}, alignment: alignment}
}

// NewCall returns dest = call callee(args...). dest is nil for void returns.
func NewCall(dest *Variable, callee Operand, args []Operand, tail bool) *Inst {
	return &Inst{kind: InstCall, dest: dest, srcs: append([]Operand{callee}, args...), tail: tail}
}

// NewIntrinsicCall is NewCall for a resolved intrinsic.
func NewIntrinsicCall(dest *Variable, callee Operand, args []Operand, intrinsic *Intrinsic) *Inst {
	return &Inst{kind: InstIntrinsicCall, dest: dest, srcs: append([]Operand{callee}, args...), intrinsic: intrinsic}
}

// Callee returns the callee operand of a call or intrinsic-call.
func (i *Inst) Callee() Operand { return i.srcs[0] }

// CallArgs returns the argument operands of a call or intrinsic-call.
func (i *Inst) CallArgs() []Operand { return i.srcs[1:] }

// NewAssign returns dest = src. Only error recovery creates these.
func NewAssign(dest *Variable, src Operand) *Inst {
	return &Inst{kind: InstAssign, dest: dest, srcs: []Operand{src}}
}

// String implements fmt.Stringer, in an LLVM-flavoured syntax for dump
// output.
func (i *Inst) String() string {
	var b strings.Builder
	if i.dest != nil {
		fmt.Fprintf(&b, "%s = ", i.dest)
	}
	switch i.kind {
	case InstArith:
		fmt.Fprintf(&b, "%s %s %s, %s", i.ArithOp(), i.srcs[0].Type(), i.srcs[0], i.srcs[1])
	case InstCast:
		fmt.Fprintf(&b, "%s %s %s to %s", i.CastOp(), i.srcs[0].Type(), i.srcs[0], i.dest.Type())
	case InstSelect:
		fmt.Fprintf(&b, "select %s %s, %s, %s", i.srcs[0].Type(), i.srcs[0], i.srcs[1], i.srcs[2])
	case InstExtractElement:
		fmt.Fprintf(&b, "extractelement %s %s, %s", i.srcs[0].Type(), i.srcs[0], i.srcs[1])
	case InstInsertElement:
		fmt.Fprintf(&b, "insertelement %s %s, %s, %s", i.srcs[0].Type(), i.srcs[0], i.srcs[1], i.srcs[2])
	case InstIcmp:
		fmt.Fprintf(&b, "icmp %s %s %s, %s", i.IcmpCond(), i.srcs[0].Type(), i.srcs[0], i.srcs[1])
	case InstFcmp:
		fmt.Fprintf(&b, "fcmp %s %s %s, %s", i.FcmpCond(), i.srcs[0].Type(), i.srcs[0], i.srcs[1])
	case InstRet:
		if len(i.srcs) == 0 {
			b.WriteString("ret void")
		} else {
			fmt.Fprintf(&b, "ret %s %s", i.srcs[0].Type(), i.srcs[0])
		}
	case InstBr:
		if i.targetFalse == nil {
			fmt.Fprintf(&b, "br label %%%s", i.targetTrue.LabelName())
		} else {
			fmt.Fprintf(&b, "br i1 %s, label %%%s, label %%%s", i.srcs[0], i.targetTrue.LabelName(), i.targetFalse.LabelName())
		}
	case InstSwitch:
		fmt.Fprintf(&b, "switch %s %s, label %%%s [", i.srcs[0].Type(), i.srcs[0], i.targetFalse.LabelName())
		for n, c := range i.cases {
			if n > 0 {
				b.WriteString(" ")
			}
			fmt.Fprintf(&b, "%d, label %%%s", c.Value, c.Target.LabelName())
		}
		b.WriteString("]")
	case InstUnreachable:
		b.WriteString("unreachable")
	case InstPhi:
		fmt.Fprintf(&b, "phi %s ", i.dest.Type())
		for n, s := range i.srcs {
			if n > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "[ %s, %%%s ]", s, i.phiBlocks[n].LabelName())
		}
	case InstAlloca:
		fmt.Fprintf(&b, "alloca i8, i32 %s, align %d", i.srcs[0], i.alignment)
	case InstLoad:
		fmt.Fprintf(&b, "load %s, %s* %s, align %d", i.dest.Type(), i.dest.Type(), i.srcs[0], i.alignment)
	case InstStore:
		fmt.Fprintf(&b, "store %s %s, %s* %s, align %d", i.srcs[0].Type(), i.srcs[0], i.srcs[0].Type(), i.srcs[1], i.alignment)
	case InstCall, InstIntrinsicCall:
		retTy := TypeVoid
		if i.dest != nil {
			retTy = i.dest.Type()
		}
		fmt.Fprintf(&b, "call %s %s(", retTy, i.srcs[0])
		for n, a := range i.CallArgs() {
			if n > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s %s", a.Type(), a)
		}
		b.WriteString(")")
	case InstAssign:
		fmt.Fprintf(&b, "%s", i.srcs[0])
	default:
		panic(fmt.Sprintf("BUG: String for kind %d not defined", i.kind))
	}
	return b.String()
}
