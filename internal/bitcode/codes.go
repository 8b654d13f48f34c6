// Package bitcode reads PNaCl bitcode: it dispatches the block structure
// yielded by the bitstream cursor to per-block parsers and materializes the
// ICE intermediate representation.
package bitcode

// Block IDs. Numeric values are PNaCl's frozen bitcode ABI.
const (
	blockIDModule      = 8
	blockIDConstants   = 11
	blockIDFunction    = 12
	blockIDValueSymtab = 14
	blockIDTypes       = 17
	blockIDGlobals     = 19
)

// Module block record codes.
const (
	moduleCodeVersion  = 1
	moduleCodeFunction = 8
)

// Types block record codes.
const (
	typeCodeNumEntry = 1
	typeCodeVoid     = 2
	typeCodeFloat    = 3
	typeCodeDouble   = 4
	typeCodeInteger  = 7
	typeCodeVector   = 12
	typeCodeFunction = 21
)

// Globals block record codes.
const (
	globalVarVar      = 0
	globalVarCompound = 1
	globalVarZeroFill = 2
	globalVarData     = 3
	globalVarReloc    = 4
	globalVarCount    = 5
)

// Value-symbol-table record codes.
const (
	vstCodeEntry   = 1
	vstCodeBBEntry = 2
)

// Constants block record codes.
const (
	cstCodeSetType = 1
	cstCodeUndef   = 3
	cstCodeInteger = 4
	cstCodeFloat   = 6
)

// Function block record codes.
const (
	funcCodeDeclareBlocks   = 1
	funcCodeInstBinop       = 2
	funcCodeInstCast        = 3
	funcCodeInstExtractElt  = 6
	funcCodeInstInsertElt   = 7
	funcCodeInstRet         = 10
	funcCodeInstBr          = 11
	funcCodeInstSwitch      = 12
	funcCodeInstUnreachable = 15
	funcCodeInstPhi         = 16
	funcCodeInstAlloca      = 19
	funcCodeInstLoad        = 20
	funcCodeInstStore       = 24
	funcCodeInstCmp2        = 28
	funcCodeInstVselect     = 29
	funcCodeInstCall        = 34
	funcCodeInstForwardRef  = 43
	funcCodeInstCallIndir   = 44
)

// Binary opcode record values.
const (
	binopAdd  = 0
	binopSub  = 1
	binopMul  = 2
	binopUdiv = 3
	binopSdiv = 4
	binopUrem = 5
	binopSrem = 6
	binopShl  = 7
	binopLshr = 8
	binopAshr = 9
	binopAnd  = 10
	binopOr   = 11
	binopXor  = 12
)

// Cast opcode record values.
const (
	castTrunc   = 0
	castZext    = 1
	castSext    = 2
	castFptoui  = 3
	castFptosi  = 4
	castUitofp  = 5
	castSitofp  = 6
	castFptrunc = 7
	castFpext   = 8
	castBitcast = 11
)

// Integer comparison predicate record values.
const (
	icmpEq  = 32
	icmpNe  = 33
	icmpUgt = 34
	icmpUge = 35
	icmpUlt = 36
	icmpUle = 37
	icmpSgt = 38
	icmpSge = 39
	icmpSlt = 40
	icmpSle = 41
)

// Float comparison predicate record values.
const (
	fcmpFalse = 0
	fcmpOeq   = 1
	fcmpOgt   = 2
	fcmpOge   = 3
	fcmpOlt   = 4
	fcmpOle   = 5
	fcmpOne   = 6
	fcmpOrd   = 7
	fcmpUno   = 8
	fcmpUeq   = 9
	fcmpUgt   = 10
	fcmpUge   = 11
	fcmpUlt   = 12
	fcmpUle   = 13
	fcmpUne   = 14
	fcmpTrue  = 15
)

// Linkage record values.
const (
	linkageExternal = 0
	linkageInternal = 3
)

// Calling-convention record values.
const callingConvC = 0
