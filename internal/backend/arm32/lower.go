package arm32

import (
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/tetratelabs/subzero/internal/ice"
)

// Target lowers ICE functions onto the ARM32 instruction model. One Target
// may be shared by concurrent workers; it holds no per-function state.
type Target struct{}

// NewTarget returns the ARM32 lowering.
func NewTarget() *Target { return &Target{} }

// Lower converts cfg into a machine function. Lowering uses a simple
// assign-once register allocator over the callee-saved sets; functions whose
// live values exceed the register file are reported as errors rather than
// spilled.
func (t *Target) Lower(cfg *ice.Cfg) (*Func, error) {
	l := &lowerer{
		cfg:      cfg,
		fn:       &Func{Name: cfg.Name(), Internal: cfg.Internal()},
		varRegHi: map[uint32]Reg{},
	}
	if err := l.run(); err != nil {
		return nil, err
	}
	return l.fn, nil
}

type lowerer struct {
	cfg *ice.Cfg
	fn  *Func

	varRegHi map[uint32]Reg // high half register for i64 pairs

	nextCore Reg // next free callee-saved core register
	nextS    Reg // next free f32 register
	nextD    Reg // next free f64 register
	nextQ    Reg // next free vector register

	cur *MNode
}

const (
	firstFreeCore = RegR4
	lastFreeCore  = RegR10
	firstFreeS    = RegS0 + 16 // s16
	lastFreeS     = RegS0 + 31
	firstFreeD    = RegD0 + 8 // d8
	lastFreeD     = RegD0 + 15
	firstFreeQ    = RegQ0 + 4 // q4
	lastFreeQ     = RegQ0 + 7
)

func (l *lowerer) unimplemented(what string) error {
	return fmt.Errorf("unimplemented lowering for %s in %s", what, l.cfg.Name())
}

// assignVar binds v (and the hidden high half of an i64) to registers.
func (l *lowerer) assignVar(v *ice.Variable) error {
	if v.HasReg() {
		return nil
	}
	switch ty := v.Type(); {
	case ty == ice.TypeF32:
		if l.nextS > lastFreeS {
			return fmt.Errorf("out of f32 registers in %s", l.cfg.Name())
		}
		v.SetRegNum(int32(l.nextS))
		l.nextS++
	case ty == ice.TypeF64:
		if l.nextD > lastFreeD {
			return fmt.Errorf("out of f64 registers in %s", l.cfg.Name())
		}
		v.SetRegNum(int32(l.nextD))
		l.nextD++
	case ty.IsVector():
		if l.nextQ > lastFreeQ {
			return fmt.Errorf("out of vector registers in %s", l.cfg.Name())
		}
		v.SetRegNum(int32(l.nextQ))
		l.nextQ++
	case ty == ice.TypeI64:
		if l.nextCore+1 > lastFreeCore {
			return fmt.Errorf("out of core registers in %s", l.cfg.Name())
		}
		v.SetRegNum(int32(l.nextCore))
		l.varRegHi[v.Num()] = l.nextCore + 1
		l.nextCore += 2
	default:
		if l.nextCore > lastFreeCore {
			return fmt.Errorf("out of core registers in %s", l.cfg.Name())
		}
		v.SetRegNum(int32(l.nextCore))
		l.nextCore++
	}
	return nil
}

func (l *lowerer) regOp(r Reg) *FlexReg { return NewFlexReg(ice.TypeI32, r) }

func (l *lowerer) emit(i *Inst) { l.cur.append(i) }

// hiHalf returns the register holding the high 32 bits of an i64 variable.
func (l *lowerer) hiHalf(v *ice.Variable) Reg { return l.varRegHi[v.Num()] }

// legalizeToReg ensures op is in a register, materializing constants through
// the scratch registers.
func (l *lowerer) legalizeToReg(op ice.Operand) (ice.Operand, error) {
	switch c := op.(type) {
	case *ice.Variable:
		return c, nil
	case *FlexReg:
		return c, nil
	case *ice.ConstantInteger32:
		l.movConst32(RegIP, uint32(c.Value))
		return l.regOp(RegIP), nil
	case *ice.ConstantUndef:
		l.movConst32(RegIP, 0)
		return l.regOp(RegIP), nil
	case *ice.ConstantRelocatable:
		l.movSym(RegIP, c)
		return l.regOp(RegIP), nil
	case *ice.ConstantFloat:
		l.movConst32(RegIP, c.Bits())
		s := l.regOp(RegIP)
		d := NewFlexReg(ice.TypeF32, RegS0+14) // s14 scratch
		l.emit(NewMov(CondAL, d, s))
		return d, nil
	case *ice.ConstantDouble:
		bitsVal := c.Bits()
		l.movConst32(RegIP, uint32(bitsVal))
		l.movConst32(RegLR, uint32(bitsVal>>32))
		d := NewFlexReg(ice.TypeF64, RegD0+7) // d7 scratch
		l.emit(NewMovMultiSource(CondAL, d, l.regOp(RegIP), RegLR))
		return d, nil
	}
	return nil, l.unimplemented(fmt.Sprintf("operand %s", op))
}

// legalizeFlex ensures op is usable as a flexible second operand.
func (l *lowerer) legalizeFlex(op ice.Operand) (ice.Operand, error) {
	if c, ok := op.(*ice.ConstantInteger32); ok {
		if imm, encodable := NewFlexImm(c.Type(), uint32(c.Value)); encodable {
			return imm, nil
		}
	}
	return l.legalizeToReg(op)
}

// movConst32 loads an arbitrary 32-bit constant into reg.
func (l *lowerer) movConst32(reg Reg, v uint32) {
	dst := l.regOp(reg)
	if imm, ok := NewFlexImm(ice.TypeI32, v); ok {
		l.emit(NewMov(CondAL, dst, imm))
		return
	}
	l.emit(NewMov(CondAL, dst, ice.NewConstantInteger32(ice.TypeI32, int32(v&0xFFFF))))
	if hi := v >> 16; hi != 0 {
		l.emit(NewMovT(CondAL, dst, hi))
	}
}

// movSym loads a relocatable symbol address via the movw/movt pair.
func (l *lowerer) movSym(reg Reg, c *ice.ConstantRelocatable) {
	dst := l.regOp(reg)
	l.emit(NewMovWSym(CondAL, dst, c))
	l.emit(NewMovTSym(CondAL, dst, c))
}

// copyTo moves src (any class) into the variable dest.
func (l *lowerer) copyTo(dest *ice.Variable, src ice.Operand) error {
	if err := l.assignVar(dest); err != nil {
		return err
	}
	if dest.Type() == ice.TypeI64 {
		return l.copyI64(dest, src)
	}
	switch c := src.(type) {
	case *ice.ConstantInteger32:
		l.movConst32(Reg(dest.RegNum()), uint32(c.Value))
		return nil
	case *ice.ConstantRelocatable:
		l.movSym(Reg(dest.RegNum()), c)
		return nil
	case *ice.ConstantUndef:
		if dest.Type().IsFloat() || dest.Type().IsVector() {
			s, err := l.legalizeToReg(ice.NewConstantFloat(0))
			if err != nil {
				return err
			}
			l.emit(NewMov(CondAL, dest, s))
			return nil
		}
		l.movConst32(Reg(dest.RegNum()), 0)
		return nil
	}
	s, err := l.legalizeToReg(src)
	if err != nil {
		return err
	}
	l.emit(NewMov(CondAL, dest, s))
	return nil
}

func (l *lowerer) copyI64(dest *ice.Variable, src ice.Operand) error {
	destLo := l.regOp(Reg(dest.RegNum()))
	destHi := l.regOp(l.hiHalf(dest))
	switch s := src.(type) {
	case *ice.ConstantInteger64:
		l.movConst32(Reg(dest.RegNum()), uint32(uint64(s.Value)))
		l.movConst32(l.hiHalf(dest), uint32(uint64(s.Value)>>32))
		return nil
	case *ice.ConstantUndef:
		l.movConst32(Reg(dest.RegNum()), 0)
		l.movConst32(l.hiHalf(dest), 0)
		return nil
	case *ice.Variable:
		l.emit(NewMov(CondAL, destLo, l.regOp(Reg(s.RegNum()))))
		l.emit(NewMov(CondAL, destHi, l.regOp(l.hiHalf(s))))
		return nil
	}
	return l.unimplemented(fmt.Sprintf("i64 copy from %s", src))
}

func (l *lowerer) run() error {
	// Machine nodes mirror the CFG layout.
	for _, n := range l.cfg.Nodes() {
		l.fn.Nodes = append(l.fn.Nodes, &MNode{
			Index: n.Index(),
			Label: fmt.Sprintf(".L%s$%s", l.cfg.Name(), n.LabelName()),
		})
	}

	// Bind arguments to their AAPCS registers.
	if err := l.bindArgs(); err != nil {
		return err
	}

	// Phi destinations are defined across edges; allocate them up front.
	for _, n := range l.cfg.Nodes() {
		for _, inst := range n.Insts() {
			if inst.Kind() == ice.InstPhi {
				if err := l.assignVar(inst.Dest()); err != nil {
					return err
				}
			}
		}
	}

	for idx, n := range l.cfg.Nodes() {
		l.cur = l.fn.Nodes[idx]
		for _, inst := range n.Insts() {
			if err := l.lowerInst(inst); err != nil {
				return err
			}
		}
	}

	if err := l.lowerPhiMoves(); err != nil {
		return err
	}
	l.addProEpilogue()
	l.fn.OptimizeBranches()
	return nil
}

// bindArgs binds the function arguments to their incoming AAPCS registers,
// then copies them into allocated registers so calls don't clobber them.
func (l *lowerer) bindArgs() error {
	l.nextCore = firstFreeCore
	l.nextS = firstFreeS
	l.nextD = firstFreeD
	l.nextQ = firstFreeQ
	l.cur = l.fn.Nodes[0]

	nextCoreArg := RegR0
	nextSArg := RegS0
	nextDArg := RegD0
	for _, arg := range l.cfg.Args() {
		var src ice.Operand
		var srcHi Reg
		switch ty := arg.Type(); {
		case ty == ice.TypeF32:
			if nextSArg > RegS0+15 {
				return l.unimplemented("stack-passed arguments")
			}
			src = NewFlexReg(ice.TypeF32, nextSArg)
			nextSArg++
		case ty == ice.TypeF64:
			if nextDArg > RegD0+7 {
				return l.unimplemented("stack-passed arguments")
			}
			src = NewFlexReg(ice.TypeF64, nextDArg)
			nextDArg++
		case ty == ice.TypeI64:
			if nextCoreArg%2 != 0 {
				nextCoreArg++
			}
			if nextCoreArg+1 > RegR3 {
				return l.unimplemented("stack-passed arguments")
			}
			src = l.regOp(nextCoreArg)
			srcHi = nextCoreArg + 1
			nextCoreArg += 2
		case ty.IsVector():
			return l.unimplemented("vector arguments")
		default:
			if nextCoreArg > RegR3 {
				return l.unimplemented("stack-passed arguments")
			}
			src = l.regOp(nextCoreArg)
			nextCoreArg++
		}
		if err := l.assignVar(arg); err != nil {
			return err
		}
		if arg.Type() == ice.TypeI64 {
			l.emit(NewMov(CondAL, l.regOp(Reg(arg.RegNum())), src))
			l.emit(NewMov(CondAL, l.regOp(l.hiHalf(arg)), l.regOp(srcHi)))
		} else {
			l.emit(NewMov(CondAL, arg, src))
		}
	}
	return nil
}

// lowerPhiMoves performs phi elimination: each phi argument becomes a move
// at the bottom of the corresponding predecessor, before its branch.
func (l *lowerer) lowerPhiMoves() error {
	for _, n := range l.cfg.Nodes() {
		for _, inst := range n.Insts() {
			if inst.Kind() != ice.InstPhi {
				continue
			}
			dest := inst.Dest()
			for i, src := range inst.Srcs() {
				pred := inst.PhiBlock(i)
				m := l.fn.Nodes[pred.Index()]
				l.cur = m
				saved := m.Insts
				m.Insts = nil
				if err := l.copyTo(dest, src); err != nil {
					return err
				}
				moves := m.Insts
				m.Insts = saved
				insertBeforeBranch(m, moves)
			}
		}
	}
	return nil
}

func insertBeforeBranch(m *MNode, moves []*Inst) {
	at := len(m.Insts)
	for i, inst := range m.Insts {
		if inst.IsBranch() || inst.kind == instRet {
			at = i
			break
		}
	}
	rest := append([]*Inst(nil), m.Insts[at:]...)
	m.Insts = append(append(m.Insts[:at:at], moves...), rest...)
}

// addProEpilogue pushes the used callee-saved registers plus lr on entry and
// restores them before every return.
func (l *lowerer) addProEpilogue() {
	var saved []Reg
	for r := firstFreeCore; r < l.nextCore; r++ {
		saved = append(saved, r)
	}
	saved = append(saved, RegLR)
	slices.Sort(saved)

	entry := l.fn.Nodes[0]
	entry.Insts = append([]*Inst{NewPush(saved)}, entry.Insts...)
	for _, n := range l.fn.Nodes {
		var out []*Inst
		for _, inst := range n.Insts {
			if inst.kind == instRet {
				out = append(out, NewPop(saved))
			}
			out = append(out, inst)
		}
		n.Insts = out
	}
}

var icmpCondMap = [...]Cond{
	ice.IcmpEq: CondEQ, ice.IcmpNe: CondNE,
	ice.IcmpUgt: CondHI, ice.IcmpUge: CondCS, ice.IcmpUlt: CondCC, ice.IcmpUle: CondLS,
	ice.IcmpSgt: CondGT, ice.IcmpSge: CondGE, ice.IcmpSlt: CondLT, ice.IcmpSle: CondLE,
}

// fcmpCondMap gives, per float predicate, the conditions under which the
// result is 1 after vcmp+vmrs. Two entries model the ordered/unordered
// unions; CondNone is unused.
var fcmpCondMap = [...][2]Cond{
	ice.FcmpFalse: {CondNone, CondNone},
	ice.FcmpOeq:   {CondEQ, CondNone},
	ice.FcmpOgt:   {CondGT, CondNone},
	ice.FcmpOge:   {CondGE, CondNone},
	ice.FcmpOlt:   {CondMI, CondNone},
	ice.FcmpOle:   {CondLS, CondNone},
	ice.FcmpOne:   {CondMI, CondGT},
	ice.FcmpOrd:   {CondVC, CondNone},
	ice.FcmpUeq:   {CondEQ, CondVS},
	ice.FcmpUgt:   {CondHI, CondNone},
	ice.FcmpUge:   {CondPL, CondNone},
	ice.FcmpUlt:   {CondLT, CondNone},
	ice.FcmpUle:   {CondLE, CondNone},
	ice.FcmpUne:   {CondNE, CondNone},
	ice.FcmpUno:   {CondVS, CondNone},
	ice.FcmpTrue:  {CondAL, CondNone},
}

func (l *lowerer) lowerInst(inst *ice.Inst) error {
	switch inst.Kind() {
	case ice.InstArith:
		return l.lowerArith(inst)
	case ice.InstCast:
		return l.lowerCast(inst)
	case ice.InstSelect:
		return l.lowerSelect(inst)
	case ice.InstIcmp:
		return l.lowerIcmp(inst)
	case ice.InstFcmp:
		return l.lowerFcmp(inst)
	case ice.InstRet:
		return l.lowerRet(inst)
	case ice.InstBr:
		return l.lowerBr(inst)
	case ice.InstSwitch:
		return l.lowerSwitch(inst)
	case ice.InstUnreachable:
		l.emit(NewTrap())
		return nil
	case ice.InstPhi:
		// Lowered separately into predecessor moves.
		return nil
	case ice.InstAlloca:
		return l.lowerAlloca(inst)
	case ice.InstLoad:
		return l.lowerLoad(inst)
	case ice.InstStore:
		return l.lowerStore(inst)
	case ice.InstCall:
		return l.lowerCall(inst)
	case ice.InstIntrinsicCall:
		return l.lowerIntrinsic(inst)
	case ice.InstAssign:
		// Error-recovery placeholder: the value was never really computed.
		return l.copyTo(inst.Dest(), inst.Src(0))
	case ice.InstExtractElement, ice.InstInsertElement:
		return l.unimplemented("vector element access")
	}
	return l.unimplemented(fmt.Sprintf("instruction kind %d", inst.Kind()))
}

var arithALUMap = map[ice.ArithOp]ALUOp{
	ice.ArithAdd: ALUAdd, ice.ArithSub: ALUSub, ice.ArithMul: ALUMul,
	ice.ArithUdiv: ALUUdiv, ice.ArithSdiv: ALUSdiv,
	ice.ArithShl: ALULsl, ice.ArithLshr: ALULsr, ice.ArithAshr: ALUAsr,
	ice.ArithAnd: ALUAnd, ice.ArithOr: ALUOrr, ice.ArithXor: ALUEor,
	ice.ArithFadd: ALUVadd, ice.ArithFsub: ALUVsub,
	ice.ArithFmul: ALUVmul, ice.ArithFdiv: ALUVdiv,
}

func (l *lowerer) lowerArith(inst *ice.Inst) error {
	dest := inst.Dest()
	ty := dest.Type()
	if ty.IsVector() && !ty.IsFloat() || ty.IsBooleanVector() {
		return l.unimplemented("vector arithmetic")
	}
	if ty == ice.TypeI64 {
		return l.lowerArithI64(inst)
	}
	op := inst.ArithOp()
	switch op {
	case ice.ArithUrem, ice.ArithSrem:
		// rem: divide then multiply-subtract.
		lhs, err := l.legalizeToReg(inst.Src(0))
		if err != nil {
			return err
		}
		rhs, err := l.legalizeToReg(inst.Src(1))
		if err != nil {
			return err
		}
		div := ALUSdiv
		if op == ice.ArithUrem {
			div = ALUUdiv
		}
		if err := l.assignVar(dest); err != nil {
			return err
		}
		tmp := l.regOp(RegIP)
		l.emit(NewALU(div, CondAL, tmp, lhs, rhs))
		l.emit(NewMls(CondAL, dest, tmp, rhs, lhs))
		return nil
	case ice.ArithFrem:
		helper := "fmodf"
		if ty == ice.TypeF64 {
			helper = "fmod"
		}
		return l.genHelperCall(helper, dest, inst.Src(0), inst.Src(1))
	}
	alu, ok := arithALUMap[op]
	if !ok {
		return l.unimplemented("arithmetic op " + op.String())
	}
	lhs, err := l.legalizeToReg(inst.Src(0))
	if err != nil {
		return err
	}
	var rhs ice.Operand
	if alu.isVFP() {
		rhs, err = l.legalizeToReg(inst.Src(1))
	} else {
		rhs, err = l.legalizeFlex(inst.Src(1))
	}
	if err != nil {
		return err
	}
	if err := l.assignVar(dest); err != nil {
		return err
	}
	l.emit(NewALU(alu, CondAL, dest, lhs, rhs))
	return nil
}

func (l *lowerer) lowerArithI64(inst *ice.Inst) error {
	dest := inst.Dest()
	op := inst.ArithOp()
	switch op {
	case ice.ArithAdd, ice.ArithSub, ice.ArithAnd, ice.ArithOr, ice.ArithXor:
	case ice.ArithMul:
		return l.genHelperCall("__aeabi_lmul", dest, inst.Src(0), inst.Src(1))
	case ice.ArithSdiv, ice.ArithSrem:
		return l.genHelperCall("__aeabi_ldivmod", dest, inst.Src(0), inst.Src(1))
	case ice.ArithUdiv, ice.ArithUrem:
		return l.genHelperCall("__aeabi_uldivmod", dest, inst.Src(0), inst.Src(1))
	case ice.ArithShl:
		return l.genHelperCall("__aeabi_llsl", dest, inst.Src(0), inst.Src(1))
	case ice.ArithLshr:
		return l.genHelperCall("__aeabi_llsr", dest, inst.Src(0), inst.Src(1))
	case ice.ArithAshr:
		return l.genHelperCall("__aeabi_lasr", dest, inst.Src(0), inst.Src(1))
	default:
		return l.unimplemented("i64 arithmetic op " + op.String())
	}
	lhsLo, lhsHi, err := l.i64Halves(inst.Src(0))
	if err != nil {
		return err
	}
	rhsLo, rhsHi, err := l.i64Halves(inst.Src(1))
	if err != nil {
		return err
	}
	if err := l.assignVar(dest); err != nil {
		return err
	}
	destLo := l.regOp(Reg(dest.RegNum()))
	destHi := l.regOp(l.hiHalf(dest))
	switch op {
	case ice.ArithAdd:
		lo := NewALU(ALUAdd, CondAL, destLo, lhsLo, rhsLo)
		lo.SetFlags()
		l.emit(lo)
		l.emit(NewALU(ALUAdc, CondAL, destHi, lhsHi, rhsHi))
	case ice.ArithSub:
		lo := NewALU(ALUSub, CondAL, destLo, lhsLo, rhsLo)
		lo.SetFlags()
		l.emit(lo)
		l.emit(NewALU(ALUSbc, CondAL, destHi, lhsHi, rhsHi))
	case ice.ArithAnd:
		l.emit(NewALU(ALUAnd, CondAL, destLo, lhsLo, rhsLo))
		l.emit(NewALU(ALUAnd, CondAL, destHi, lhsHi, rhsHi))
	case ice.ArithOr:
		l.emit(NewALU(ALUOrr, CondAL, destLo, lhsLo, rhsLo))
		l.emit(NewALU(ALUOrr, CondAL, destHi, lhsHi, rhsHi))
	case ice.ArithXor:
		l.emit(NewALU(ALUEor, CondAL, destLo, lhsLo, rhsLo))
		l.emit(NewALU(ALUEor, CondAL, destHi, lhsHi, rhsHi))
	}
	return nil
}

// i64Halves yields register operands for the low and high words of an i64
// value.
func (l *lowerer) i64Halves(op ice.Operand) (lo, hi ice.Operand, err error) {
	switch v := op.(type) {
	case *ice.Variable:
		return l.regOp(Reg(v.RegNum())), l.regOp(l.hiHalf(v)), nil
	case *ice.ConstantInteger64:
		l.movConst32(RegIP, uint32(uint64(v.Value)))
		l.movConst32(RegLR, uint32(uint64(v.Value)>>32))
		return l.regOp(RegIP), l.regOp(RegLR), nil
	case *ice.ConstantUndef:
		l.movConst32(RegIP, 0)
		return l.regOp(RegIP), l.regOp(RegIP), nil
	}
	return nil, nil, l.unimplemented(fmt.Sprintf("i64 operand %s", op))
}

func (l *lowerer) lowerCast(inst *ice.Inst) error {
	dest := inst.Dest()
	src := inst.Src(0)
	srcTy, dstTy := src.Type(), dest.Type()
	if srcTy.IsVector() || dstTy.IsVector() {
		return l.unimplemented("vector cast")
	}
	s, err := l.legalizeToReg(src)
	if err != nil {
		return err
	}
	if err := l.assignVar(dest); err != nil {
		return err
	}
	switch inst.CastOp() {
	case ice.CastTrunc:
		if srcTy == ice.TypeI64 {
			lo, _, err := l.i64Halves(src)
			if err != nil {
				return err
			}
			l.emit(NewMov(CondAL, dest, lo))
			return nil
		}
		l.emit(NewMov(CondAL, dest, s))
		return nil
	case ice.CastZext:
		if dstTy == ice.TypeI64 {
			l.emit(NewMov(CondAL, l.regOp(Reg(dest.RegNum())), s))
			l.movConst32(l.hiHalf(dest), 0)
			return nil
		}
		switch srcTy {
		case ice.TypeI1:
			one, _ := NewFlexImm(ice.TypeI32, 1)
			l.emit(NewALU(ALUAnd, CondAL, dest, s, one))
		case ice.TypeI8, ice.TypeI16:
			l.emit(NewUxt(CondAL, dest, s, srcTy))
		default:
			l.emit(NewMov(CondAL, dest, s))
		}
		return nil
	case ice.CastSext:
		if dstTy == ice.TypeI64 {
			lo := l.regOp(Reg(dest.RegNum()))
			hi := l.regOp(l.hiHalf(dest))
			l.emit(NewMov(CondAL, lo, s))
			thirtyOne, _ := NewFlexImm(ice.TypeI32, 31)
			l.emit(NewALU(ALUAsr, CondAL, hi, lo, thirtyOne))
			return nil
		}
		switch srcTy {
		case ice.TypeI1:
			thirtyOne, _ := NewFlexImm(ice.TypeI32, 31)
			l.emit(NewALU(ALULsl, CondAL, dest, s, thirtyOne))
			l.emit(NewALU(ALUAsr, CondAL, dest, NewFlexReg(ice.TypeI32, Reg(dest.RegNum())), thirtyOne))
		case ice.TypeI8, ice.TypeI16:
			l.emit(NewSxt(CondAL, dest, s, srcTy))
		default:
			l.emit(NewMov(CondAL, dest, s))
		}
		return nil
	case ice.CastFptrunc, ice.CastFpext:
		l.emit(NewVcvt(CondAL, dest, s, srcTy, dstTy))
		return nil
	case ice.CastFptosi, ice.CastFptoui:
		if dstTy == ice.TypeI64 {
			return l.unimplemented("float to i64 conversion")
		}
		// Convert in a VFP scratch, then transfer.
		scratch := NewFlexReg(ice.TypeF32, RegS0+14)
		l.emit(NewVcvt(CondAL, scratch, s, srcTy, ice.TypeI32))
		l.emit(NewMov(CondAL, dest, scratch))
		return nil
	case ice.CastSitofp, ice.CastUitofp:
		if srcTy == ice.TypeI64 {
			return l.unimplemented("i64 to float conversion")
		}
		scratch := NewFlexReg(ice.TypeF32, RegS0+14)
		l.emit(NewMov(CondAL, scratch, s))
		l.emit(NewVcvt(CondAL, dest, scratch, ice.TypeI32, dstTy))
		return nil
	case ice.CastBitcast:
		switch {
		case srcTy == ice.TypeI64 && dstTy == ice.TypeF64:
			lo, hi, err := l.i64Halves(src)
			if err != nil {
				return err
			}
			l.emit(NewMovMultiSource(CondAL, dest, lo, regOf(hi)))
		case srcTy == ice.TypeF64 && dstTy == ice.TypeI64:
			l.emit(NewMovMultiDest(CondAL, l.regOp(Reg(dest.RegNum())), l.hiHalf(dest), s))
		default:
			l.emit(NewMov(CondAL, dest, s))
		}
		return nil
	}
	return l.unimplemented("cast op " + inst.CastOp().String())
}

func (l *lowerer) lowerSelect(inst *ice.Inst) error {
	dest := inst.Dest()
	if dest.Type().IsVector() || dest.Type() == ice.TypeI64 {
		return l.unimplemented("wide select")
	}
	cond, err := l.legalizeToReg(inst.Src(0))
	if err != nil {
		return err
	}
	thenVal, err := l.legalizeToReg(inst.Src(1))
	if err != nil {
		return err
	}
	elseVal, err := l.legalizeToReg(inst.Src(2))
	if err != nil {
		return err
	}
	if err := l.assignVar(dest); err != nil {
		return err
	}
	zero, _ := NewFlexImm(ice.TypeI32, 0)
	l.emit(NewCmp(CondAL, cond, zero))
	l.emit(NewMov(CondAL, dest, elseVal))
	l.emit(NewMov(CondNE, dest, thenVal))
	return nil
}

func (l *lowerer) lowerIcmp(inst *ice.Inst) error {
	dest := inst.Dest()
	ty := inst.Src(0).Type()
	if ty.IsVector() {
		return l.unimplemented("vector compare")
	}
	if err := l.assignVar(dest); err != nil {
		return err
	}
	cond := icmpCondMap[inst.IcmpCond()]
	if ty == ice.TypeI64 {
		return l.lowerIcmpI64(inst, cond)
	}
	lhs, err := l.legalizeToReg(inst.Src(0))
	if err != nil {
		return err
	}
	rhs, err := l.legalizeFlex(inst.Src(1))
	if err != nil {
		return err
	}
	l.emit(NewCmp(CondAL, lhs, rhs))
	l.setBool(dest, cond, CondNone)
	return nil
}

func (l *lowerer) lowerIcmpI64(inst *ice.Inst, cond Cond) error {
	lhsLo, lhsHi, err := l.i64Halves(inst.Src(0))
	if err != nil {
		return err
	}
	rhsLo, rhsHi, err := l.i64Halves(inst.Src(1))
	if err != nil {
		return err
	}
	dest := inst.Dest()
	switch inst.IcmpCond() {
	case ice.IcmpEq, ice.IcmpNe:
		l.emit(NewCmp(CondAL, lhsHi, rhsHi))
		l.emit(NewCmp(CondEQ, lhsLo, rhsLo))
		l.setBool(dest, cond, CondNone)
		return nil
	default:
		// subs/sbcs leaves flags describing the 64-bit subtraction.
		ip := l.regOp(RegIP)
		lo := NewALU(ALUSub, CondAL, ip, lhsLo, rhsLo)
		lo.SetFlags()
		l.emit(lo)
		hi := NewALU(ALUSbc, CondAL, ip, lhsHi, rhsHi)
		hi.SetFlags()
		l.emit(hi)
		// hi/ls and gt/le read the Z flag, which sbcs leaves describing
		// only the high word; the strict forms are not lowered.
		switch inst.IcmpCond() {
		case ice.IcmpUgt, ice.IcmpUle:
			return l.unimplemented("strict unsigned i64 compare")
		case ice.IcmpSgt, ice.IcmpSle:
			return l.unimplemented("strict signed i64 compare")
		}
		l.setBool(dest, cond, CondNone)
		return nil
	}
}

// setBool materializes a comparison outcome: 0, then 1 under cond (and
// cond2 when the predicate is a union of two conditions).
func (l *lowerer) setBool(dest *ice.Variable, cond, cond2 Cond) {
	zero, _ := NewFlexImm(ice.TypeI32, 0)
	one, _ := NewFlexImm(ice.TypeI32, 1)
	if cond == CondNone {
		l.emit(NewMov(CondAL, dest, zero))
		return
	}
	if cond == CondAL {
		l.emit(NewMov(CondAL, dest, one))
		return
	}
	l.emit(NewMov(CondAL, dest, zero))
	l.emit(NewMov(cond, dest, one))
	if cond2 != CondNone {
		l.emit(NewMov(cond2, dest, one))
	}
}

func (l *lowerer) lowerFcmp(inst *ice.Inst) error {
	dest := inst.Dest()
	if inst.Src(0).Type().IsVector() {
		return l.unimplemented("vector compare")
	}
	lhs, err := l.legalizeToReg(inst.Src(0))
	if err != nil {
		return err
	}
	rhs, err := l.legalizeToReg(inst.Src(1))
	if err != nil {
		return err
	}
	if err := l.assignVar(dest); err != nil {
		return err
	}
	conds := fcmpCondMap[inst.FcmpCond()]
	if conds[0] != CondNone && conds[0] != CondAL {
		l.emit(NewVcmp(CondAL, lhs, rhs))
	}
	l.setBool(dest, conds[0], conds[1])
	return nil
}

func (l *lowerer) lowerRet(inst *ice.Inst) error {
	if len(inst.Srcs()) != 0 {
		val := inst.Src(0)
		switch ty := val.Type(); {
		case ty == ice.TypeF32:
			s, err := l.legalizeToReg(val)
			if err != nil {
				return err
			}
			l.emit(NewMov(CondAL, NewFlexReg(ice.TypeF32, RegS0), s))
		case ty == ice.TypeF64:
			s, err := l.legalizeToReg(val)
			if err != nil {
				return err
			}
			l.emit(NewMov(CondAL, NewFlexReg(ice.TypeF64, RegD0), s))
		case ty == ice.TypeI64:
			lo, hi, err := l.i64Halves(val)
			if err != nil {
				return err
			}
			l.emit(NewMov(CondAL, l.regOp(RegR0), lo))
			l.emit(NewMov(CondAL, l.regOp(RegR1), hi))
		case ty.IsVector():
			return l.unimplemented("vector return")
		default:
			s, err := l.legalizeFlex(val)
			if err != nil {
				return err
			}
			l.emit(NewMov(CondAL, l.regOp(RegR0), s))
		}
	}
	l.emit(NewRet())
	return nil
}

func (l *lowerer) lowerBr(inst *ice.Inst) error {
	if inst.TargetFalse() == nil {
		l.emit(NewBr(l.fn.Nodes[inst.TargetTrue().Index()]))
		return nil
	}
	cond, err := l.legalizeToReg(inst.Src(0))
	if err != nil {
		return err
	}
	zero, _ := NewFlexImm(ice.TypeI32, 0)
	l.emit(NewCmp(CondAL, cond, zero))
	l.emit(NewBrCond(CondNE,
		l.fn.Nodes[inst.TargetTrue().Index()],
		l.fn.Nodes[inst.TargetFalse().Index()]))
	return nil
}

func (l *lowerer) lowerSwitch(inst *ice.Inst) error {
	cond := inst.Src(0)
	if cond.Type() == ice.TypeI64 {
		return l.unimplemented("i64 switch")
	}
	c, err := l.legalizeToReg(cond)
	if err != nil {
		return err
	}
	for _, cs := range inst.Cases() {
		val, err := l.legalizeFlex(ice.NewConstantInteger32(ice.TypeI32, int32(cs.Value)))
		if err != nil {
			return err
		}
		l.emit(NewCmp(CondAL, c, val))
		l.emit(NewBrCond(CondEQ, l.fn.Nodes[cs.Target.Index()], nil))
	}
	l.emit(NewBr(l.fn.Nodes[inst.SwitchDefault().Index()]))
	return nil
}

func (l *lowerer) lowerAlloca(inst *ice.Inst) error {
	dest := inst.Dest()
	if err := l.assignVar(dest); err != nil {
		return err
	}
	sp := l.regOp(RegSP)
	if c, ok := inst.Src(0).(*ice.ConstantInteger32); ok {
		size := (uint32(c.Value) + 7) &^ 7
		l.emit(NewAdjustStack(size))
		l.fn.StackBytes += size
	} else {
		amt, err := l.legalizeToReg(inst.Src(0))
		if err != nil {
			return err
		}
		l.emit(NewALU(ALUSub, CondAL, sp, sp, amt))
	}
	l.emit(NewMov(CondAL, dest, sp))
	return nil
}

// memOperand builds [base, #offset], folding the offset through the scratch
// register when it exceeds the type's offset-bit budget. The zero-extending
// budget applies: sub-word loads are emitted as ldrb/ldrh.
func (l *lowerer) memOperand(ty ice.Type, base Reg, offset int32) *Mem {
	if CanHoldOffset(ty, false, offset) {
		return NewMemImm(ty, base, offset, Offset)
	}
	l.movConst32(RegIP, uint32(offset))
	l.emit(NewALU(ALUAdd, CondAL, l.regOp(RegIP), l.regOp(base), l.regOp(RegIP)))
	return NewMemImm(ty, RegIP, 0, Offset)
}

func (l *lowerer) lowerLoad(inst *ice.Inst) error {
	dest := inst.Dest()
	addr, err := l.legalizeToReg(inst.Src(0))
	if err != nil {
		return err
	}
	if err := l.assignVar(dest); err != nil {
		return err
	}
	base := regOf(addr)
	ty := dest.Type()
	if ty == ice.TypeI64 {
		l.emit(NewMov(CondAL, l.regOp(Reg(dest.RegNum())), l.memOperand(ice.TypeI32, base, 0)))
		l.emit(NewMov(CondAL, l.regOp(l.hiHalf(dest)), l.memOperand(ice.TypeI32, base, 4)))
		return nil
	}
	l.emit(NewMov(CondAL, dest, l.memOperand(ty, base, 0)))
	return nil
}

func (l *lowerer) lowerStore(inst *ice.Inst) error {
	val := inst.Src(0)
	addr, err := l.legalizeToReg(inst.Src(1))
	if err != nil {
		return err
	}
	base := regOf(addr)
	ty := val.Type()
	if ty == ice.TypeI64 {
		lo, hi, err := l.i64Halves(val)
		if err != nil {
			return err
		}
		l.emit(NewMov(CondAL, l.memOperand(ice.TypeI32, base, 0), lo))
		l.emit(NewMov(CondAL, l.memOperand(ice.TypeI32, base, 4), hi))
		return nil
	}
	v, err := l.legalizeToReg(val)
	if err != nil {
		return err
	}
	l.emit(NewMov(CondAL, l.memOperand(ty, base, 0), v))
	return nil
}

// marshalCallArgs moves call arguments into their AAPCS registers.
func (l *lowerer) marshalCallArgs(args []ice.Operand) error {
	nextCore := RegR0
	nextS := RegS0
	nextD := RegD0
	for _, arg := range args {
		switch ty := arg.Type(); {
		case ty == ice.TypeF32:
			if nextS > RegS0+15 {
				return l.unimplemented("stack-passed call arguments")
			}
			s, err := l.legalizeToReg(arg)
			if err != nil {
				return err
			}
			l.emit(NewMov(CondAL, NewFlexReg(ice.TypeF32, nextS), s))
			nextS++
		case ty == ice.TypeF64:
			if nextD > RegD0+7 {
				return l.unimplemented("stack-passed call arguments")
			}
			s, err := l.legalizeToReg(arg)
			if err != nil {
				return err
			}
			l.emit(NewMov(CondAL, NewFlexReg(ice.TypeF64, nextD), s))
			nextD++
		case ty == ice.TypeI64:
			if nextCore%2 != 0 {
				nextCore++
			}
			if nextCore+1 > RegR3 {
				return l.unimplemented("stack-passed call arguments")
			}
			lo, hi, err := l.i64Halves(arg)
			if err != nil {
				return err
			}
			l.emit(NewMov(CondAL, l.regOp(nextCore), lo))
			l.emit(NewMov(CondAL, l.regOp(nextCore+1), hi))
			nextCore += 2
		case ty.IsVector():
			return l.unimplemented("vector call arguments")
		default:
			if nextCore > RegR3 {
				return l.unimplemented("stack-passed call arguments")
			}
			s, err := l.legalizeFlex(arg)
			if err != nil {
				return err
			}
			l.emit(NewMov(CondAL, l.regOp(nextCore), s))
			nextCore++
		}
	}
	return nil
}

// receiveCallResult copies the AAPCS return registers into dest.
func (l *lowerer) receiveCallResult(dest *ice.Variable) error {
	if dest == nil {
		return nil
	}
	if err := l.assignVar(dest); err != nil {
		return err
	}
	switch ty := dest.Type(); {
	case ty == ice.TypeF32:
		l.emit(NewMov(CondAL, dest, NewFlexReg(ice.TypeF32, RegS0)))
	case ty == ice.TypeF64:
		l.emit(NewMov(CondAL, dest, NewFlexReg(ice.TypeF64, RegD0)))
	case ty == ice.TypeI64:
		l.emit(NewMov(CondAL, l.regOp(Reg(dest.RegNum())), l.regOp(RegR0)))
		l.emit(NewMov(CondAL, l.regOp(l.hiHalf(dest)), l.regOp(RegR1)))
	case ty.IsVector():
		return l.unimplemented("vector call results")
	default:
		l.emit(NewMov(CondAL, dest, l.regOp(RegR0)))
	}
	return nil
}

func (l *lowerer) lowerCall(inst *ice.Inst) error {
	if err := l.marshalCallArgs(inst.CallArgs()); err != nil {
		return err
	}
	switch callee := inst.Callee().(type) {
	case *ice.ConstantRelocatable:
		l.emit(NewCall(callee.Name))
	default:
		c, err := l.legalizeToReg(callee)
		if err != nil {
			return err
		}
		l.emit(NewCallIndirect(c))
	}
	return l.receiveCallResult(inst.Dest())
}

// genHelperCall lowers an operation to a runtime-helper call.
func (l *lowerer) genHelperCall(name string, dest *ice.Variable, args ...ice.Operand) error {
	if err := l.marshalCallArgs(args); err != nil {
		return err
	}
	l.emit(NewCall(name))
	return l.receiveCallResult(dest)
}

func (l *lowerer) lowerIntrinsic(inst *ice.Inst) error {
	in := inst.Intrinsic()
	dest := inst.Dest()
	args := inst.CallArgs()
	switch in.Name {
	case "trap":
		l.emit(NewTrap())
		return nil
	case "sqrt.f32", "sqrt.f64":
		s, err := l.legalizeToReg(args[0])
		if err != nil {
			return err
		}
		if err := l.assignVar(dest); err != nil {
			return err
		}
		l.emit(NewVsqrt(CondAL, dest, s))
		return nil
	case "fabs.f32", "fabs.f64":
		s, err := l.legalizeToReg(args[0])
		if err != nil {
			return err
		}
		if err := l.assignVar(dest); err != nil {
			return err
		}
		l.emit(NewVabs(CondAL, dest, s))
		return nil
	case "bswap.i16", "bswap.i32":
		s, err := l.legalizeToReg(args[0])
		if err != nil {
			return err
		}
		if err := l.assignVar(dest); err != nil {
			return err
		}
		l.emit(NewRev(CondAL, dest, s))
		if in.Name == "bswap.i16" {
			sixteen, _ := NewFlexImm(ice.TypeI32, 16)
			l.emit(NewALU(ALULsr, CondAL, dest, NewFlexReg(ice.TypeI32, Reg(dest.RegNum())), sixteen))
		}
		return nil
	case "ctlz.i32":
		s, err := l.legalizeToReg(args[0])
		if err != nil {
			return err
		}
		if err := l.assignVar(dest); err != nil {
			return err
		}
		l.emit(NewClz(CondAL, dest, s))
		return nil
	case "cttz.i32":
		s, err := l.legalizeToReg(args[0])
		if err != nil {
			return err
		}
		if err := l.assignVar(dest); err != nil {
			return err
		}
		l.emit(NewRbit(CondAL, dest, s))
		l.emit(NewClz(CondAL, dest, NewFlexReg(ice.TypeI32, Reg(dest.RegNum()))))
		return nil
	case "ctpop.i32":
		return l.genHelperCall("__popcountsi2", dest, args[0])
	case "memcpy.p0i8.p0i8.i32":
		return l.genHelperCall("memcpy", dest, args[0], args[1], args[2])
	case "memmove.p0i8.p0i8.i32":
		return l.genHelperCall("memmove", dest, args[0], args[1], args[2])
	case "memset.p0i8.i32":
		return l.genHelperCall("memset", dest, args[0], args[1], args[2])
	}
	return l.unimplemented("intrinsic " + in.Name)
}
