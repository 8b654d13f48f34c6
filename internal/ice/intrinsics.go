package ice

// IntrinsicPrefix is the name prefix that routes a direct call through the
// intrinsic registry.
const IntrinsicPrefix = "llvm."

// Intrinsic describes one known intrinsic: its name suffix (after
// IntrinsicPrefix) and the signature every call site must match.
type Intrinsic struct {
	Name           string
	Sig            FuncSig
	HasSideEffects bool
}

// CallValidation is the verdict of Intrinsic.ValidateCall. Checks run in a
// fixed order: return type, argument count, argument types.
type CallValidation byte

const (
	IsValidCall CallValidation = iota
	BadReturnType
	WrongNumOfArgs
	WrongCallArgType
)

// ValidateCall checks the call instruction against the intrinsic's
// signature. For WrongCallArgType the returned index identifies the first
// offending argument.
func (in *Intrinsic) ValidateCall(call *Inst) (CallValidation, int) {
	retType := TypeVoid
	if call.Dest() != nil {
		retType = call.Dest().Type()
	}
	if retType != in.Sig.Ret {
		return BadReturnType, 0
	}
	args := call.CallArgs()
	if len(args) != len(in.Sig.Args) {
		return WrongNumOfArgs, 0
	}
	for i, a := range args {
		if a.Type() != in.Sig.Args[i] {
			return WrongCallArgType, i
		}
	}
	return IsValidCall, 0
}

// IntrinsicRegistry resolves "llvm."-suffixed names. It is populated once
// before translation starts and read-only afterwards, so workers share it
// without locking.
type IntrinsicRegistry struct {
	byName map[string]*Intrinsic
}

// Find resolves the name suffix after IntrinsicPrefix, or nil when unknown.
func (r *IntrinsicRegistry) Find(suffix string) *Intrinsic {
	return r.byName[suffix]
}

// Register adds in to the registry, replacing any previous entry of the same
// name.
func (r *IntrinsicRegistry) Register(in *Intrinsic) {
	r.byName[in.Name] = in
}

// NewIntrinsicRegistry returns a registry preloaded with the PNaCl stable
// intrinsic set.
func NewIntrinsicRegistry() *IntrinsicRegistry {
	r := &IntrinsicRegistry{byName: map[string]*Intrinsic{}}
	for _, in := range []*Intrinsic{
		{Name: "memcpy.p0i8.p0i8.i32", HasSideEffects: true,
			Sig: FuncSig{Ret: TypeVoid, Args: []Type{TypeI32, TypeI32, TypeI32, TypeI32, TypeI1}}},
		{Name: "memmove.p0i8.p0i8.i32", HasSideEffects: true,
			Sig: FuncSig{Ret: TypeVoid, Args: []Type{TypeI32, TypeI32, TypeI32, TypeI32, TypeI1}}},
		{Name: "memset.p0i8.i32", HasSideEffects: true,
			Sig: FuncSig{Ret: TypeVoid, Args: []Type{TypeI32, TypeI8, TypeI32, TypeI32, TypeI1}}},
		{Name: "nacl.read.tp", Sig: FuncSig{Ret: TypeI32}},
		{Name: "nacl.longjmp", HasSideEffects: true,
			Sig: FuncSig{Ret: TypeVoid, Args: []Type{TypeI32, TypeI32}}},
		{Name: "nacl.setjmp", HasSideEffects: true,
			Sig: FuncSig{Ret: TypeI32, Args: []Type{TypeI32}}},
		{Name: "sqrt.f32", Sig: FuncSig{Ret: TypeF32, Args: []Type{TypeF32}}},
		{Name: "sqrt.f64", Sig: FuncSig{Ret: TypeF64, Args: []Type{TypeF64}}},
		{Name: "fabs.f32", Sig: FuncSig{Ret: TypeF32, Args: []Type{TypeF32}}},
		{Name: "fabs.f64", Sig: FuncSig{Ret: TypeF64, Args: []Type{TypeF64}}},
		{Name: "trap", HasSideEffects: true, Sig: FuncSig{Ret: TypeVoid}},
		{Name: "ctlz.i32", Sig: FuncSig{Ret: TypeI32, Args: []Type{TypeI32, TypeI1}}},
		{Name: "ctlz.i64", Sig: FuncSig{Ret: TypeI64, Args: []Type{TypeI64, TypeI1}}},
		{Name: "cttz.i32", Sig: FuncSig{Ret: TypeI32, Args: []Type{TypeI32, TypeI1}}},
		{Name: "cttz.i64", Sig: FuncSig{Ret: TypeI64, Args: []Type{TypeI64, TypeI1}}},
		{Name: "ctpop.i32", Sig: FuncSig{Ret: TypeI32, Args: []Type{TypeI32}}},
		{Name: "ctpop.i64", Sig: FuncSig{Ret: TypeI64, Args: []Type{TypeI64}}},
		{Name: "bswap.i16", Sig: FuncSig{Ret: TypeI16, Args: []Type{TypeI16}}},
		{Name: "bswap.i32", Sig: FuncSig{Ret: TypeI32, Args: []Type{TypeI32}}},
		{Name: "bswap.i64", Sig: FuncSig{Ret: TypeI64, Args: []Type{TypeI64}}},
		{Name: "stacksave", HasSideEffects: true, Sig: FuncSig{Ret: TypeI32}},
		{Name: "stackrestore", HasSideEffects: true, Sig: FuncSig{Ret: TypeVoid, Args: []Type{TypeI32}}},
	} {
		r.Register(in)
	}
	return r
}
