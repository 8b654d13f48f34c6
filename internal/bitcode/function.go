package bitcode

import (
	"strings"

	"github.com/tetratelabs/subzero/internal/bitstream"
	"github.com/tetratelabs/subzero/internal/ice"
)

// funcParser builds one function's CFG from the records of a function
// block.
type funcParser struct {
	p    *parser
	decl *ice.FunctionDeclaration
	cfg  *ice.Cfg

	curNode       *ice.Node
	curBlockIndex uint32

	// The flat value-ID space: [0, numGlobalIDs) are global declarations,
	// then arguments, then value-producing instructions. locals is indexed
	// by (absolute - numGlobalIDs); a nil slot is undefined, and a slot
	// reserved by FORWARDTYPEREF holds the variable its definition adopts.
	numGlobalIDs       uint32
	locals             []ice.Operand
	nextLocalInstIndex uint32

	instIsTerminating bool
	declaredBlocks    bool
	seenInsts         bool
}

// parseFunctionBlock reads one function block. Function blocks define, in
// order, the function declarations whose is_proto flag was zero.
func (p *parser) parseFunctionBlock() error {
	prevBlock := p.block
	p.block = "function"
	defer func() { p.block = prevBlock }()

	p.ensureGlobalNames()
	if p.nextDefinedFunc >= len(p.definedFuncIDs) {
		if err := p.errf("Function block without corresponding function address record"); err != nil {
			return err
		}
		return p.cur.SkipBlock()
	}
	decl := p.mod.Functions[p.definedFuncIDs[p.nextDefinedFunc]]
	p.nextDefinedFunc++
	p.opts.Log.V(1).Info("entering function block", "name", decl.Name())

	f := &funcParser{
		p:            p,
		decl:         decl,
		cfg:          ice.NewCfg(decl.Name()),
		numGlobalIDs: p.mod.NumGlobalIDs(),
	}
	f.nextLocalInstIndex = f.numGlobalIDs
	f.cfg.SetReturnType(decl.Sig.Ret)
	f.cfg.SetInternal(decl.Linkage == ice.LinkageInternal)
	f.curNode = f.cfg.Entry()
	for _, argTy := range decl.Sig.Args {
		arg, err := f.getNextInstVar(argTy)
		if err != nil {
			return err
		}
		f.cfg.AddArg(arg)
	}

	for {
		ev, err := p.cur.Next()
		if err != nil {
			return p.streamErr(err)
		}
		switch ev {
		case bitstream.EventEndBlock:
			return f.exitBlock()
		case bitstream.EventEnterBlock:
			switch p.cur.BlockID() {
			case blockIDConstants:
				if err := f.parseConstants(); err != nil {
					return err
				}
			case blockIDValueSymtab:
				if err := f.parseValueSymtab(); err != nil {
					return err
				}
			default:
				if err := p.errf("Unknown block id %d inside function block. Skipping.", p.cur.BlockID()); err != nil {
					return err
				}
				if err := p.cur.SkipBlock(); err != nil {
					return p.streamErr(err)
				}
			}
		case bitstream.EventEndStream:
			return p.streamErr(bitstream.ErrTruncated)
		case bitstream.EventRecord:
			if err := f.record(p.cur.Record()); err != nil {
				return err
			}
		}
	}
}

// exitBlock finalizes the function: empty blocks are patched with
// unreachable, predecessors recomputed, and the function handed to the
// consumer when no error has been seen so far.
func (f *funcParser) exitBlock() error {
	for i, n := range f.cfg.Nodes() {
		if len(n.Insts()) == 0 {
			if err := f.p.errf("Basic block %d contains no instructions", i); err != nil {
				return err
			}
			n.AppendInst(ice.NewUnreachable())
		}
	}
	f.cfg.ComputePredecessors()
	if !f.p.hasErrors() && f.p.opts.OnFunction != nil {
		f.p.opts.OnFunction(f.cfg)
	}
	return nil
}

// operandAt returns the operand at an absolute value index without
// diagnosing, or nil.
func (f *funcParser) operandAt(index uint32) ice.Operand {
	if index < f.numGlobalIDs {
		c, err := f.p.globalRelocatable(index)
		if err != nil {
			return nil
		}
		return c
	}
	local := index - f.numGlobalIDs
	if local >= uint32(len(f.locals)) {
		return nil
	}
	return f.locals[local]
}

// getOperand resolves an absolute value index, diagnosing undefined slots.
// Error recovery substitutes an undef i32 so parsing can continue.
func (f *funcParser) getOperand(index uint32) (ice.Operand, error) {
	if op := f.operandAt(index); op != nil {
		return op, nil
	}
	if err := f.p.errf("Value index %d not defined!", index); err != nil {
		return nil, err
	}
	return ice.NewConstantUndef(ice.TypeI32), nil
}

// relOperand resolves a relative operand reference against base.
func (f *funcParser) relOperand(rel uint64, base uint32) (ice.Operand, error) {
	abs, err := f.relToAbs(rel, base)
	if err != nil {
		return nil, err
	}
	return f.getOperand(abs)
}

// relToAbs converts the relative reference rel into an absolute value ID.
// References must not exceed the base index.
func (f *funcParser) relToAbs(rel uint64, base uint32) (uint32, error) {
	if uint64(base) < rel {
		if err := f.p.errf("Invalid relative value id: %d (must be <= %d)", rel, base); err != nil {
			return 0, err
		}
		return 0, nil
	}
	return base - uint32(rel), nil
}

// createInstVar makes a fresh variable; void recovers as i32.
func (f *funcParser) createInstVar(ty ice.Type) (*ice.Variable, error) {
	if ty == ice.TypeVoid {
		if err := f.p.errf("Can't define instruction value using type void"); err != nil {
			return nil, err
		}
		ty = ice.TypeI32
	}
	return f.cfg.MakeVariable(ty), nil
}

// setOperand installs op at an absolute index, growing the sparse slot
// array for forward references. A second, different definition is an error.
func (f *funcParser) setOperand(index uint32, op ice.Operand) error {
	if index < f.numGlobalIDs {
		return f.p.errf("Invalid local value index: %d", index)
	}
	local := index - f.numGlobalIDs
	if local >= uint32(len(f.locals)) {
		grown := make([]ice.Operand, local+1)
		copy(grown, f.locals)
		f.locals = grown
	}
	if old := f.locals[local]; old != nil && old != op {
		if err := f.p.errf("Multiple definitions for index %d: %s and %s", index, op, old); err != nil {
			return err
		}
	}
	f.locals[local] = op
	return nil
}

// getNextInstVar allocates the variable for the next value-producing
// instruction, honouring a slot pre-created by a forward type reference.
func (f *funcParser) getNextInstVar(ty ice.Type) (*ice.Variable, error) {
	local := f.nextLocalInstIndex - f.numGlobalIDs
	if local < uint32(len(f.locals)) {
		if op := f.locals[local]; op != nil {
			if v, ok := op.(*ice.Variable); ok && v.Type() == ty {
				f.nextLocalInstIndex++
				return v, nil
			}
			if err := f.p.errf("Illegal forward referenced instruction (%d): %s", f.nextLocalInstIndex, op); err != nil {
				return nil, err
			}
			f.nextLocalInstIndex++
			return f.createInstVar(ty)
		}
	}
	v, err := f.createInstVar(ty)
	if err != nil {
		return nil, err
	}
	if err := f.setOperand(f.nextLocalInstIndex, v); err != nil {
		return nil, err
	}
	f.nextLocalInstIndex++
	return v, nil
}

// setNextLocalInstIndex appends op as the next value in the local ID space;
// used by the constants parser.
func (f *funcParser) setNextLocalInstIndex(op ice.Operand) error {
	if err := f.setOperand(f.nextLocalInstIndex, op); err != nil {
		return err
	}
	f.nextLocalInstIndex++
	return nil
}

// appendErrorInstruction keeps later value IDs aligned after a rejected
// value-producing record by inserting a placeholder assignment.
func (f *funcParser) appendErrorInstruction(ty ice.Type) error {
	v, err := f.getNextInstVar(ty)
	if err != nil {
		return err
	}
	f.curNode.AppendInst(ice.NewAssign(v, v))
	return nil
}

// getBasicBlock resolves a block index, recovering to the entry.
func (f *funcParser) getBasicBlock(index uint32) (*ice.Node, error) {
	nodes := f.cfg.Nodes()
	if index >= uint32(len(nodes)) {
		if err := f.p.errf("Reference to basic block %d not found. Must be less than %d", index, len(nodes)); err != nil {
			return nil, err
		}
		index = 0
	}
	return nodes[index], nil
}

// getBranchBasicBlock is getBasicBlock plus the branch-specific rule that
// the entry block is not a legal target.
func (f *funcParser) getBranchBasicBlock(index uint64) (*ice.Node, error) {
	if index == 0 {
		if err := f.p.errf("Branch to entry block not allowed"); err != nil {
			return nil, err
		}
	}
	return f.getBasicBlock(uint32(index))
}

// signExtend truncates v to width bits and sign-extends.
func signExtend(v int64, width uint32) int64 {
	if width >= 64 {
		return v
	}
	shift := 64 - width
	return v << shift >> shift
}

func (f *funcParser) record(r *bitstream.Record) error {
	p := f.p
	// A terminator closes the current block; the next instruction record
	// opens the next block in declaration order.
	if f.instIsTerminating {
		f.instIsTerminating = false
		f.curBlockIndex++
		node, err := f.getBasicBlock(f.curBlockIndex)
		if err != nil {
			return err
		}
		f.curNode = node
	}
	base := f.nextLocalInstIndex

	switch r.Code {
	case funcCodeDeclareBlocks:
		// DECLAREBLOCKS: [n]
		if ok, err := p.checkRecordSize(r, 1, "count"); !ok {
			return err
		}
		numBbs := r.Vals[0]
		if numBbs == 0 {
			if err := p.errf("Functions must contain at least one basic block."); err != nil {
				return err
			}
			numBbs = 1
		}
		if f.declaredBlocks || len(f.cfg.Nodes()) != 1 {
			return p.errf("Duplicate function block count record")
		}
		if f.seenInsts {
			return p.errf("Function block count record not allowed after instructions")
		}
		f.declaredBlocks = true
		for i := uint64(1); i < numBbs; i++ {
			f.cfg.MakeNode()
		}
		return nil

	case funcCodeInstBinop:
		// BINOP: [opval, opval, opcode]
		f.seenInsts = true
		if ok, err := p.checkRecordSize(r, 3, "binop"); !ok {
			return err
		}
		op1, err := f.relOperand(r.Vals[0], base)
		if err != nil {
			return err
		}
		op2, err := f.relOperand(r.Vals[1], base)
		if err != nil {
			return err
		}
		if op1.Type() != op2.Type() {
			if err := p.errf("Binop argument types differ: %s and %s", op1.Type(), op2.Type()); err != nil {
				return err
			}
			return f.appendErrorInstruction(op1.Type())
		}
		op, ok, err := f.convertBinop(r.Vals[2], op1.Type())
		if err != nil {
			return err
		}
		if !ok {
			return f.appendErrorInstruction(op1.Type())
		}
		dest, err := f.getNextInstVar(op1.Type())
		if err != nil {
			return err
		}
		f.curNode.AppendInst(ice.NewArith(op, dest, op1, op2))
		return nil

	case funcCodeInstCast:
		// CAST: [opval, destty, castopc]
		f.seenInsts = true
		if ok, err := p.checkRecordSize(r, 3, "cast"); !ok {
			return err
		}
		src, err := f.relOperand(r.Vals[0], base)
		if err != nil {
			return err
		}
		castType, err := p.simpleType(r.Vals[1])
		if err != nil {
			return err
		}
		op, ok, err := f.convertCastOp(r.Vals[2], src.Type(), castType)
		if err != nil {
			return err
		}
		if !ok {
			return f.appendErrorInstruction(castType)
		}
		dest, err := f.getNextInstVar(castType)
		if err != nil {
			return err
		}
		f.curNode.AppendInst(ice.NewCast(op, dest, src))
		return nil

	case funcCodeInstVselect:
		// VSELECT: [opval, opval, pred]
		f.seenInsts = true
		if ok, err := p.checkRecordSize(r, 3, "select"); !ok {
			return err
		}
		thenVal, err := f.relOperand(r.Vals[0], base)
		if err != nil {
			return err
		}
		elseVal, err := f.relOperand(r.Vals[1], base)
		if err != nil {
			return err
		}
		condVal, err := f.relOperand(r.Vals[2], base)
		if err != nil {
			return err
		}
		thenType := thenVal.Type()
		if thenType != elseVal.Type() {
			if err := p.errf("Select operands not same type. Found %s and %s", thenType, elseVal.Type()); err != nil {
				return err
			}
			return f.appendErrorInstruction(thenType)
		}
		condType := condVal.Type()
		if condType.IsVector() {
			if !thenType.IsVector() || condType.ElementType() != ice.TypeI1 ||
				thenType.NumElements() != condType.NumElements() {
				if err := p.errf("Select condition type %s not allowed for values of type %s", condType, thenType); err != nil {
					return err
				}
				return f.appendErrorInstruction(thenType)
			}
		} else if condType != ice.TypeI1 {
			if err := p.errf("Select condition %s not type i1. Found: %s", condVal, condType); err != nil {
				return err
			}
			return f.appendErrorInstruction(thenType)
		}
		dest, err := f.getNextInstVar(thenType)
		if err != nil {
			return err
		}
		f.curNode.AppendInst(ice.NewSelect(dest, condVal, thenVal, elseVal))
		return nil

	case funcCodeInstExtractElt:
		// EXTRACTELT: [opval, opval]
		f.seenInsts = true
		if ok, err := p.checkRecordSize(r, 2, "extract element"); !ok {
			return err
		}
		vec, err := f.relOperand(r.Vals[0], base)
		if err != nil {
			return err
		}
		index, err := f.relOperand(r.Vals[1], base)
		if err != nil {
			return err
		}
		vecType := vec.Type()
		if msg := validateVectorIndex(vec, index); msg != "" {
			if err := p.errf("%s: extractelement %s %s, %s %s", msg, vecType, vec, index.Type(), index); err != nil {
				return err
			}
			return f.appendErrorInstruction(vecType)
		}
		dest, err := f.getNextInstVar(vecType.ElementType())
		if err != nil {
			return err
		}
		f.curNode.AppendInst(ice.NewExtractElement(dest, vec, index))
		return nil

	case funcCodeInstInsertElt:
		// INSERTELT: [opval, opval, opval]
		f.seenInsts = true
		if ok, err := p.checkRecordSize(r, 3, "insert element"); !ok {
			return err
		}
		vec, err := f.relOperand(r.Vals[0], base)
		if err != nil {
			return err
		}
		elt, err := f.relOperand(r.Vals[1], base)
		if err != nil {
			return err
		}
		index, err := f.relOperand(r.Vals[2], base)
		if err != nil {
			return err
		}
		vecType := vec.Type()
		if msg := validateVectorIndex(vec, index); msg != "" {
			if err := p.errf("%s: insertelement %s %s, %s %s, %s %s", msg, vecType, vec,
				elt.Type(), elt, index.Type(), index); err != nil {
				return err
			}
			return f.appendErrorInstruction(elt.Type())
		}
		dest, err := f.getNextInstVar(vecType)
		if err != nil {
			return err
		}
		f.curNode.AppendInst(ice.NewInsertElement(dest, vec, elt, index))
		return nil

	case funcCodeInstCmp2:
		// CMP2: [opval, opval, pred]
		f.seenInsts = true
		if ok, err := p.checkRecordSize(r, 3, "compare"); !ok {
			return err
		}
		op1, err := f.relOperand(r.Vals[0], base)
		if err != nil {
			return err
		}
		op2, err := f.relOperand(r.Vals[1], base)
		if err != nil {
			return err
		}
		destType := op1.Type().CompareResultType()
		if op1.Type() != op2.Type() {
			if err := p.errf("Compare argument types differ: %s and %s", op1.Type(), op2.Type()); err != nil {
				return err
			}
			op2 = op1
		}
		if destType == ice.TypeVoid {
			return p.errf("Compare not defined for type %s", op1.Type())
		}
		dest, err := f.getNextInstVar(destType)
		if err != nil {
			return err
		}
		switch {
		case op1.Type().IsInteger():
			cond, ok := convertIcmpPredicate(r.Vals[2])
			if !ok {
				if err := p.errf("Compare record contains unknown integer predicate index: %d", r.Vals[2]); err != nil {
					return err
				}
			}
			f.curNode.AppendInst(ice.NewIcmp(cond, dest, op1, op2))
		case op1.Type().IsFloat():
			cond, ok := convertFcmpPredicate(r.Vals[2])
			if !ok {
				if err := p.errf("Compare record contains unknown float predicate index: %d", r.Vals[2]); err != nil {
					return err
				}
			}
			f.curNode.AppendInst(ice.NewFcmp(cond, dest, op1, op2))
		default:
			return p.errf("Compare on type not understood: %s", op1.Type())
		}
		return nil

	case funcCodeInstRet:
		// RET: [opval?]
		f.seenInsts = true
		if ok, err := p.checkRecordSizeInRange(r, 0, 1, "return"); !ok {
			return err
		}
		if len(r.Vals) == 0 {
			f.curNode.AppendInst(ice.NewRet(nil))
		} else {
			val, err := f.relOperand(r.Vals[0], base)
			if err != nil {
				return err
			}
			f.curNode.AppendInst(ice.NewRet(val))
		}
		f.instIsTerminating = true
		return nil

	case funcCodeInstBr:
		f.seenInsts = true
		if len(r.Vals) == 1 {
			// BR: [bb#]
			target, err := f.getBranchBasicBlock(r.Vals[0])
			if err != nil {
				return err
			}
			f.curNode.AppendInst(ice.NewBr(target))
		} else {
			// BR: [bb#, bb#, opval]
			if ok, err := p.checkRecordSize(r, 3, "branch"); !ok {
				return err
			}
			cond, err := f.relOperand(r.Vals[2], base)
			if err != nil {
				return err
			}
			if cond.Type() != ice.TypeI1 {
				return p.errf("Branch condition %s not i1. Found: %s", cond, cond.Type())
			}
			thenBlock, err := f.getBranchBasicBlock(r.Vals[0])
			if err != nil {
				return err
			}
			elseBlock, err := f.getBranchBasicBlock(r.Vals[1])
			if err != nil {
				return err
			}
			f.curNode.AppendInst(ice.NewBrCond(cond, thenBlock, elseBlock))
		}
		f.instIsTerminating = true
		return nil

	case funcCodeInstSwitch:
		// SWITCH: [condty, cond, default bb#, numcases, [1, 1, value, bb#]*]
		f.seenInsts = true
		if ok, err := p.checkRecordSizeAtLeast(r, 4, "switch"); !ok {
			return err
		}
		condType, err := p.simpleType(r.Vals[0])
		if err != nil {
			return err
		}
		if !condType.IsScalarInteger() {
			return p.errf("Case condition must be non-wide integer. Found: %s", condType)
		}
		bitWidth := condType.ScalarIntBitWidth()
		cond, err := f.relOperand(r.Vals[1], base)
		if err != nil {
			return err
		}
		if cond.Type() != condType {
			return p.errf("Case condition expects type %s. Found: %s", condType, cond.Type())
		}
		defaultTarget, err := f.getBranchBasicBlock(r.Vals[2])
		if err != nil {
			return err
		}
		numCases := r.Vals[3]
		if ok, err := p.checkRecordSize(r, int(4+numCases*4), "switch"); !ok {
			return err
		}
		cases := make([]ice.SwitchCase, 0, numCases)
		for i := uint64(0); i < numCases; i++ {
			entry := r.Vals[4+i*4 : 4+i*4+4]
			if entry[0] != 1 || entry[1] != 1 {
				return p.errf("Sequence [1, 1, value, label] expected for case entry in switch record. (at index %d)", 4+i*4)
			}
			value := signExtend(bitstream.DecodeSignRotated(entry[2]), bitWidth)
			target, err := f.getBranchBasicBlock(entry[3])
			if err != nil {
				return err
			}
			cases = append(cases, ice.SwitchCase{Value: value, Target: target})
		}
		f.curNode.AppendInst(ice.NewSwitch(cond, defaultTarget, cases))
		f.instIsTerminating = true
		return nil

	case funcCodeInstUnreachable:
		f.seenInsts = true
		if ok, err := p.checkRecordSize(r, 0, "unreachable"); !ok {
			return err
		}
		f.curNode.AppendInst(ice.NewUnreachable())
		f.instIsTerminating = true
		return nil

	case funcCodeInstPhi:
		// PHI: [ty, val1, bb1, ..., valN, bbN]
		f.seenInsts = true
		if ok, err := p.checkRecordSizeAtLeast(r, 3, "phi"); !ok {
			return err
		}
		ty, err := p.simpleType(r.Vals[0])
		if err != nil {
			return err
		}
		if len(r.Vals)&1 == 0 {
			if err := p.errf("function block phi record size not valid: %d", len(r.Vals)); err != nil {
				return err
			}
			return f.appendErrorInstruction(ty)
		}
		if ty == ice.TypeVoid {
			return p.errf("Phi record using type void not allowed")
		}
		dest, err := f.getNextInstVar(ty)
		if err != nil {
			return err
		}
		phi := ice.NewPhi(dest)
		for i := 1; i < len(r.Vals); i += 2 {
			rel := bitstream.DecodeSignRotated(r.Vals[i])
			if rel < 0 {
				if err := p.errf("Invalid relative value id: %d", rel); err != nil {
					return err
				}
				rel = 0
			}
			op, err := f.relOperand(uint64(rel), base)
			if err != nil {
				return err
			}
			if op.Type() != ty {
				if err := p.errf("Value %s not type %s in phi instruction. Found: %s", op, ty, op.Type()); err != nil {
					return err
				}
				continue
			}
			block, err := f.getBasicBlock(uint32(r.Vals[i+1]))
			if err != nil {
				return err
			}
			phi.AddPhiArgument(op, block)
		}
		f.curNode.AppendInst(phi)
		return nil

	case funcCodeInstAlloca:
		// ALLOCA: [size, align]
		f.seenInsts = true
		if ok, err := p.checkRecordSize(r, 2, "alloca"); !ok {
			return err
		}
		byteCount, err := f.relOperand(r.Vals[0], base)
		if err != nil {
			return err
		}
		align, err := p.decodeAlignment("Alloca", r.Vals[1])
		if err != nil {
			return err
		}
		if byteCount.Type() != ice.TypeI32 {
			if err := p.errf("Alloca on non-i32 value. Found: %s", byteCount.Type()); err != nil {
				return err
			}
			return f.appendErrorInstruction(ice.PointerType)
		}
		dest, err := f.getNextInstVar(ice.PointerType)
		if err != nil {
			return err
		}
		f.curNode.AppendInst(ice.NewAlloca(dest, byteCount, align))
		return nil

	case funcCodeInstLoad:
		// LOAD: [address, align, ty]
		f.seenInsts = true
		if ok, err := p.checkRecordSize(r, 3, "load"); !ok {
			return err
		}
		addr, err := f.relOperand(r.Vals[0], base)
		if err != nil {
			return err
		}
		ty, err := p.simpleType(r.Vals[2])
		if err != nil {
			return err
		}
		align, err := p.decodeAlignment("Load", r.Vals[1])
		if err != nil {
			return err
		}
		if ok, err := f.checkPointerType(addr, "Load"); !ok {
			if err != nil {
				return err
			}
			return f.appendErrorInstruction(ty)
		}
		if ok, err := f.checkLoadStoreAlignment(align, ty, "Load"); !ok {
			if err != nil {
				return err
			}
			return f.appendErrorInstruction(ty)
		}
		dest, err := f.getNextInstVar(ty)
		if err != nil {
			return err
		}
		f.curNode.AppendInst(ice.NewLoad(dest, addr, align))
		return nil

	case funcCodeInstStore:
		// STORE: [address, value, align]
		f.seenInsts = true
		if ok, err := p.checkRecordSize(r, 3, "store"); !ok {
			return err
		}
		addr, err := f.relOperand(r.Vals[0], base)
		if err != nil {
			return err
		}
		value, err := f.relOperand(r.Vals[1], base)
		if err != nil {
			return err
		}
		align, err := p.decodeAlignment("Store", r.Vals[2])
		if err != nil {
			return err
		}
		if ok, err := f.checkPointerType(addr, "Store"); !ok {
			return err
		}
		if ok, err := f.checkLoadStoreAlignment(align, value.Type(), "Store"); !ok {
			return err
		}
		f.curNode.AppendInst(ice.NewStore(value, addr, align))
		return nil

	case funcCodeInstCall, funcCodeInstCallIndir:
		f.seenInsts = true
		return f.callRecord(r, base)

	case funcCodeInstForwardRef:
		// FORWARDTYPEREF: [opval, ty]
		if ok, err := p.checkRecordSize(r, 2, "forward type ref"); !ok {
			return err
		}
		ty, err := p.simpleType(r.Vals[1])
		if err != nil {
			return err
		}
		v, err := f.createInstVar(ty)
		if err != nil {
			return err
		}
		return f.setOperand(uint32(r.Vals[0]), v)

	default:
		return p.errf("Unknown record code %d in function block", r.Code)
	}
}

// callRecord handles CALL and CALL_INDIRECT.
func (f *funcParser) callRecord(r *bitstream.Record, base uint32) error {
	p := f.p
	// CALL: [cc, fnid, arg...]; CALL_INDIRECT: [cc, fn, returnty, arg...]
	paramsStart := 2
	if r.Code == funcCodeInstCall {
		if ok, err := p.checkRecordSizeAtLeast(r, 2, "call"); !ok {
			return err
		}
	} else {
		if ok, err := p.checkRecordSizeAtLeast(r, 3, "call indirect"); !ok {
			return err
		}
		paramsStart = 3
	}

	calleeIndex, err := f.relToAbs(r.Vals[1], base)
	if err != nil {
		return err
	}
	callee, err := f.getOperand(calleeIndex)
	if err != nil {
		return err
	}

	returnType := ice.TypeVoid
	var intrinsic *ice.Intrinsic
	if r.Code == funcCodeInstCall {
		decl, err := p.mod.Function(calleeIndex)
		if err != nil {
			if e := p.errf("Call to non-function value index %d", calleeIndex); e != nil {
				return e
			}
			// Recover with the first known function, if any.
			if len(p.mod.Functions) == 0 {
				return nil
			}
			decl = p.mod.Functions[0]
		}
		returnType = decl.Sig.Ret
		if name := decl.Name(); strings.HasPrefix(name, ice.IntrinsicPrefix) {
			intrinsic = p.opts.Intrinsics.Find(name[len(ice.IntrinsicPrefix):])
			if intrinsic == nil {
				if err := p.errf("Invalid PNaCl intrinsic call to %s", name); err != nil {
					return err
				}
				if returnType != ice.TypeVoid {
					return f.appendErrorInstruction(returnType)
				}
				return nil
			}
		}
	} else {
		returnType, err = p.simpleType(r.Vals[2])
		if err != nil {
			return err
		}
	}

	ccInfo := r.Vals[0]
	if cc := ccInfo >> 1; cc != callingConvC {
		if err := p.errf("Function call calling convention value %d not understood.", cc); err != nil {
			return err
		}
		if returnType != ice.TypeVoid {
			return f.appendErrorInstruction(returnType)
		}
		return nil
	}
	isTailCall := ccInfo&1 != 0

	var dest *ice.Variable
	if returnType != ice.TypeVoid {
		dest, err = f.getNextInstVar(returnType)
		if err != nil {
			return err
		}
	}
	args := make([]ice.Operand, 0, len(r.Vals)-paramsStart)
	for _, v := range r.Vals[paramsStart:] {
		arg, err := f.relOperand(v, base)
		if err != nil {
			return err
		}
		args = append(args, arg)
	}

	var inst *ice.Inst
	if intrinsic != nil {
		inst = ice.NewIntrinsicCall(dest, callee, args, intrinsic)
		switch verdict, argIndex := intrinsic.ValidateCall(inst); verdict {
		case ice.IsValidCall:
		case ice.BadReturnType:
			if err := p.errf("Intrinsic call expects return type %s. Found: %s", intrinsic.Sig.Ret, returnType); err != nil {
				return err
			}
		case ice.WrongNumOfArgs:
			if err := p.errf("Intrinsic call expects %d. Found: %d", len(intrinsic.Sig.Args), len(args)); err != nil {
				return err
			}
		case ice.WrongCallArgType:
			if err := p.errf("Intrinsic call argument %d expects type %s. Found: %s",
				argIndex, intrinsic.Sig.Args[argIndex], args[argIndex].Type()); err != nil {
				return err
			}
		}
	} else {
		inst = ice.NewCall(dest, callee, args, isTailCall)
	}
	f.curNode.AppendInst(inst)
	return nil
}

// checkPointerType diagnoses a non-pointer address.
func (f *funcParser) checkPointerType(op ice.Operand, instName string) (bool, error) {
	if op.Type() == ice.PointerType {
		return true, nil
	}
	return false, f.p.errf("%s address not %s. Found: %s", instName, ice.PointerType, op)
}

// checkLoadStoreAlignment validates both the type legality and the
// alignment of a load or store.
func (f *funcParser) checkLoadStoreAlignment(align uint32, ty ice.Type, instName string) (bool, error) {
	if !ty.IsLoadStoreLegal() {
		return false, f.p.errf("%s type not allowed: %s*", instName, ty)
	}
	if align == ty.AlignInBytes() || (align == 1 && !ty.IsVector()) {
		return true, nil
	}
	return false, f.p.errf("%s %s*: not allowed for alignment %d", instName, ty, align)
}

// validateVectorIndex checks an extractelement/insertelement index, and
// returns a diagnostic prefix or "" when valid.
func validateVectorIndex(vec, index ice.Operand) string {
	if !vec.Type().IsVector() {
		return "Vector index on non vector"
	}
	c, ok := index.(*ice.ConstantInteger32)
	if !ok {
		return "Vector index not integer constant"
	}
	if c.Type() != ice.TypeI32 {
		return "Vector index not of type i32"
	}
	if c.Value < 0 || uint32(c.Value) >= vec.Type().NumElements() {
		return "Vector index not in range of vector"
	}
	return ""
}

func (f *funcParser) convertBinop(opcode uint64, ty ice.Type) (ice.ArithOp, bool, error) {
	p := f.p
	reportInvalid := func(op ice.ArithOp) (ice.ArithOp, bool, error) {
		err := p.errf("Invalid operator type for %s. Found %s", op, ty)
		return op, false, err
	}
	switch opcode {
	case binopAdd:
		if ty.IsInteger() {
			if !ty.IsIntegerArithmetic() {
				return reportInvalid(ice.ArithAdd)
			}
			return ice.ArithAdd, true, nil
		}
		if !ty.IsFloat() {
			return reportInvalid(ice.ArithFadd)
		}
		return ice.ArithFadd, true, nil
	case binopSub:
		if ty.IsInteger() {
			if !ty.IsIntegerArithmetic() {
				return reportInvalid(ice.ArithSub)
			}
			return ice.ArithSub, true, nil
		}
		if !ty.IsFloat() {
			return reportInvalid(ice.ArithFsub)
		}
		return ice.ArithFsub, true, nil
	case binopMul:
		if ty.IsInteger() {
			if !ty.IsIntegerArithmetic() {
				return reportInvalid(ice.ArithMul)
			}
			return ice.ArithMul, true, nil
		}
		if !ty.IsFloat() {
			return reportInvalid(ice.ArithFmul)
		}
		return ice.ArithFmul, true, nil
	case binopUdiv:
		if !ty.IsIntegerArithmetic() {
			return reportInvalid(ice.ArithUdiv)
		}
		return ice.ArithUdiv, true, nil
	case binopSdiv:
		if ty.IsInteger() {
			if !ty.IsIntegerArithmetic() {
				return reportInvalid(ice.ArithSdiv)
			}
			return ice.ArithSdiv, true, nil
		}
		if !ty.IsFloat() {
			return reportInvalid(ice.ArithFdiv)
		}
		return ice.ArithFdiv, true, nil
	case binopUrem:
		if !ty.IsIntegerArithmetic() {
			return reportInvalid(ice.ArithUrem)
		}
		return ice.ArithUrem, true, nil
	case binopSrem:
		if ty.IsInteger() {
			if !ty.IsIntegerArithmetic() {
				return reportInvalid(ice.ArithSrem)
			}
			return ice.ArithSrem, true, nil
		}
		if !ty.IsFloat() {
			return reportInvalid(ice.ArithFrem)
		}
		return ice.ArithFrem, true, nil
	case binopShl:
		if !ty.IsIntegerArithmetic() {
			return reportInvalid(ice.ArithShl)
		}
		return ice.ArithShl, true, nil
	case binopLshr:
		if !ty.IsIntegerArithmetic() {
			return reportInvalid(ice.ArithLshr)
		}
		return ice.ArithLshr, true, nil
	case binopAshr:
		if !ty.IsIntegerArithmetic() {
			return reportInvalid(ice.ArithAshr)
		}
		return ice.ArithAshr, true, nil
	case binopAnd:
		if !ty.IsInteger() {
			return reportInvalid(ice.ArithAnd)
		}
		return ice.ArithAnd, true, nil
	case binopOr:
		if !ty.IsInteger() {
			return reportInvalid(ice.ArithOr)
		}
		return ice.ArithOr, true, nil
	case binopXor:
		if !ty.IsInteger() {
			return reportInvalid(ice.ArithXor)
		}
		return ice.ArithXor, true, nil
	default:
		err := p.errf("Binary opcode %d not understood for type %s", opcode, ty)
		return ice.ArithAdd, false, err
	}
}

// simplifyOutCommonVectorType strips one vector level from both types when
// their element counts agree. Returns false on vector/scalar mismatch.
func simplifyOutCommonVectorType(t1, t2 *ice.Type) bool {
	v1, v2 := t1.IsVector(), t2.IsVector()
	if v1 != v2 {
		return false
	}
	if !v1 {
		return true
	}
	if t1.NumElements() != t2.NumElements() {
		return false
	}
	*t1 = t1.ElementType()
	*t2 = t2.ElementType()
	return true
}

func isIntTruncCastValid(src, dst ice.Type) bool {
	return src.IsInteger() && dst.IsInteger() &&
		simplifyOutCommonVectorType(&src, &dst) &&
		src.ScalarIntBitWidth() > dst.ScalarIntBitWidth()
}

func isFloatTruncCastValid(src, dst ice.Type) bool {
	return simplifyOutCommonVectorType(&src, &dst) &&
		src == ice.TypeF64 && dst == ice.TypeF32
}

func isFloatToIntCastValid(src, dst ice.Type) bool {
	if !src.IsFloat() || !dst.IsInteger() {
		return false
	}
	if src.IsVector() != dst.IsVector() {
		return false
	}
	if src.IsVector() {
		return src.NumElements() == dst.NumElements()
	}
	return true
}

func (f *funcParser) convertCastOp(opcode uint64, src, dst ice.Type) (ice.CastOp, bool, error) {
	p := f.p
	var op ice.CastOp
	var valid bool
	switch opcode {
	case castTrunc:
		op, valid = ice.CastTrunc, isIntTruncCastValid(src, dst)
	case castZext:
		op, valid = ice.CastZext, isIntTruncCastValid(dst, src)
	case castSext:
		op, valid = ice.CastSext, isIntTruncCastValid(dst, src)
	case castFptoui:
		op, valid = ice.CastFptoui, isFloatToIntCastValid(src, dst)
	case castFptosi:
		op, valid = ice.CastFptosi, isFloatToIntCastValid(src, dst)
	case castUitofp:
		op, valid = ice.CastUitofp, isFloatToIntCastValid(dst, src)
	case castSitofp:
		op, valid = ice.CastSitofp, isFloatToIntCastValid(dst, src)
	case castFptrunc:
		op, valid = ice.CastFptrunc, isFloatTruncCastValid(src, dst)
	case castFpext:
		op, valid = ice.CastFpext, isFloatTruncCastValid(dst, src)
	case castBitcast:
		op, valid = ice.CastBitcast, src.BitcastWidth() == dst.BitcastWidth()
	default:
		err := p.errf("Cast opcode %d not understood.", opcode)
		return ice.CastBitcast, false, err
	}
	if !valid {
		err := p.errf("Illegal cast: %s %s to %s", op, src, dst)
		return op, false, err
	}
	return op, true, nil
}

func convertIcmpPredicate(v uint64) (ice.IcmpCond, bool) {
	switch v {
	case icmpEq:
		return ice.IcmpEq, true
	case icmpNe:
		return ice.IcmpNe, true
	case icmpUgt:
		return ice.IcmpUgt, true
	case icmpUge:
		return ice.IcmpUge, true
	case icmpUlt:
		return ice.IcmpUlt, true
	case icmpUle:
		return ice.IcmpUle, true
	case icmpSgt:
		return ice.IcmpSgt, true
	case icmpSge:
		return ice.IcmpSge, true
	case icmpSlt:
		return ice.IcmpSlt, true
	case icmpSle:
		return ice.IcmpSle, true
	}
	return ice.IcmpEq, false
}

func convertFcmpPredicate(v uint64) (ice.FcmpCond, bool) {
	switch v {
	case fcmpFalse:
		return ice.FcmpFalse, true
	case fcmpOeq:
		return ice.FcmpOeq, true
	case fcmpOgt:
		return ice.FcmpOgt, true
	case fcmpOge:
		return ice.FcmpOge, true
	case fcmpOlt:
		return ice.FcmpOlt, true
	case fcmpOle:
		return ice.FcmpOle, true
	case fcmpOne:
		return ice.FcmpOne, true
	case fcmpOrd:
		return ice.FcmpOrd, true
	case fcmpUno:
		return ice.FcmpUno, true
	case fcmpUeq:
		return ice.FcmpUeq, true
	case fcmpUgt:
		return ice.FcmpUgt, true
	case fcmpUge:
		return ice.FcmpUge, true
	case fcmpUlt:
		return ice.FcmpUlt, true
	case fcmpUle:
		return ice.FcmpUle, true
	case fcmpUne:
		return ice.FcmpUne, true
	case fcmpTrue:
		return ice.FcmpTrue, true
	}
	return ice.FcmpFalse, false
}
