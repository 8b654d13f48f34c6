package arm32

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tetratelabs/subzero/internal/ice"
)

func lowerToText(t *testing.T, cfg *ice.Cfg) string {
	t.Helper()
	fn, err := NewTarget().Lower(cfg)
	require.NoError(t, err)
	var b strings.Builder
	require.NoError(t, fn.EmitText(&b))
	return b.String()
}

func TestLowerIdentity(t *testing.T) {
	cfg := ice.NewCfg("id")
	cfg.SetReturnType(ice.TypeI32)
	arg := cfg.MakeVariable(ice.TypeI32)
	cfg.AddArg(arg)
	cfg.Entry().AppendInst(ice.NewRet(arg))
	cfg.ComputePredecessors()

	got := lowerToText(t, cfg)
	require.Contains(t, got, "\t.globl\tid\n")
	require.Contains(t, got, "\tmov\tr4, r0\n") // bind the argument
	require.Contains(t, got, "\tmov\tr0, r4\n") // return value
	require.Contains(t, got, "\tbx\tlr\n")
	require.Contains(t, got, "\tpush\t{r4, lr}\n")
	require.Contains(t, got, "\tpop\t{r4, lr}\n")
}

func TestLowerAddReturn(t *testing.T) {
	cfg := ice.NewCfg("addit")
	cfg.SetReturnType(ice.TypeI32)
	arg := cfg.MakeVariable(ice.TypeI32)
	cfg.AddArg(arg)
	sum := cfg.MakeVariable(ice.TypeI32)
	cfg.Entry().AppendInst(ice.NewArith(ice.ArithAdd, sum, arg, arg))
	cfg.Entry().AppendInst(ice.NewRet(sum))
	cfg.ComputePredecessors()

	got := lowerToText(t, cfg)
	require.Contains(t, got, "\tadd\tr5, r4, r4\n")
	require.Contains(t, got, "\tmov\tr0, r5\n")
}

func TestLowerConditionalBranchFallthrough(t *testing.T) {
	cfg := ice.NewCfg("pick")
	cond := cfg.MakeVariable(ice.TypeI1)
	cfg.AddArg(cond)
	b1 := cfg.MakeNode()
	b2 := cfg.MakeNode()
	cfg.Entry().AppendInst(ice.NewBrCond(cond, b1, b2))
	b1.AppendInst(ice.NewRet(nil))
	b2.AppendInst(ice.NewRet(nil))
	cfg.ComputePredecessors()

	got := lowerToText(t, cfg)
	// Block 1 is the layout successor: the true target, so the branch is
	// inverted to fall through into it.
	require.Contains(t, got, "\tcmp\tr4, #0\n")
	require.Contains(t, got, "\tbeq\t.Lpick$__2\n")
	require.NotContains(t, got, "\tbne\t")
}

func TestLowerSwitch(t *testing.T) {
	cfg := ice.NewCfg("sw")
	c := cfg.MakeVariable(ice.TypeI32)
	cfg.AddArg(c)
	b1 := cfg.MakeNode()
	b2 := cfg.MakeNode()
	b3 := cfg.MakeNode()
	cfg.Entry().AppendInst(ice.NewSwitch(c, b3, []ice.SwitchCase{
		{Value: -1, Target: b1},
		{Value: 2, Target: b2},
	}))
	for _, n := range []*ice.Node{b1, b2, b3} {
		n.AppendInst(ice.NewRet(nil))
	}
	cfg.ComputePredecessors()

	got := lowerToText(t, cfg)
	require.Contains(t, got, "\tbeq\t.Lsw$__1\n")
	require.Contains(t, got, "\tbeq\t.Lsw$__2\n")
	// -1 is not a flexible immediate; it goes through the scratch register.
	require.Contains(t, got, "\tmovw\tip, #65535\n")
	require.Contains(t, got, "\tmovt\tip, #65535\n")
	require.Contains(t, got, "\tcmp\tr4, ip\n")
	require.Contains(t, got, "\tcmp\tr4, #2\n")
}

func TestLowerPhi(t *testing.T) {
	cfg := ice.NewCfg("phi")
	cond := cfg.MakeVariable(ice.TypeI1)
	cfg.AddArg(cond)
	cfg.SetReturnType(ice.TypeI32)
	b1 := cfg.MakeNode()
	b2 := cfg.MakeNode()
	b3 := cfg.MakeNode()
	cfg.Entry().AppendInst(ice.NewBrCond(cond, b1, b2))
	b1.AppendInst(ice.NewBr(b3))
	b2.AppendInst(ice.NewBr(b3))
	merged := cfg.MakeVariable(ice.TypeI32)
	phi := ice.NewPhi(merged)
	phi.AddPhiArgument(ice.NewConstantInteger32(ice.TypeI32, 1), b1)
	phi.AddPhiArgument(ice.NewConstantInteger32(ice.TypeI32, 2), b2)
	b3.AppendInst(phi)
	b3.AppendInst(ice.NewRet(merged))
	cfg.ComputePredecessors()

	got := lowerToText(t, cfg)
	// The phi becomes a move at the bottom of each predecessor.
	require.Contains(t, got, "\tmov\tr5, #1\n")
	require.Contains(t, got, "\tmov\tr5, #2\n")
	require.Contains(t, got, "\tmov\tr0, r5\n")
}

func TestLowerLoadStore(t *testing.T) {
	cfg := ice.NewCfg("mem")
	addr := cfg.MakeVariable(ice.TypeI32)
	cfg.AddArg(addr)
	loaded := cfg.MakeVariable(ice.TypeI32)
	cfg.Entry().AppendInst(ice.NewLoad(loaded, addr, 1))
	cfg.Entry().AppendInst(ice.NewStore(loaded, addr, 1))
	cfg.Entry().AppendInst(ice.NewRet(nil))
	cfg.ComputePredecessors()

	got := lowerToText(t, cfg)
	require.Contains(t, got, "\tldr\tr5, [r4]\n")
	require.Contains(t, got, "\tstr\tr5, [r4]\n")
}

func TestLowerI64AddUsesCarry(t *testing.T) {
	cfg := ice.NewCfg("wide")
	cfg.SetReturnType(ice.TypeI64)
	a := cfg.MakeVariable(ice.TypeI64)
	b := cfg.MakeVariable(ice.TypeI64)
	cfg.AddArg(a)
	cfg.AddArg(b)
	sum := cfg.MakeVariable(ice.TypeI64)
	cfg.Entry().AppendInst(ice.NewArith(ice.ArithAdd, sum, a, b))
	cfg.Entry().AppendInst(ice.NewRet(sum))
	cfg.ComputePredecessors()

	got := lowerToText(t, cfg)
	require.Contains(t, got, "\tadds\tr8, r4, r6\n")
	require.Contains(t, got, "\tadc\tr9, r5, r7\n")
}

func TestLowerFloatArith(t *testing.T) {
	cfg := ice.NewCfg("fmath")
	cfg.SetReturnType(ice.TypeF32)
	a := cfg.MakeVariable(ice.TypeF32)
	cfg.AddArg(a)
	prod := cfg.MakeVariable(ice.TypeF32)
	cfg.Entry().AppendInst(ice.NewArith(ice.ArithFmul, prod, a, a))
	cfg.Entry().AppendInst(ice.NewRet(prod))
	cfg.ComputePredecessors()

	got := lowerToText(t, cfg)
	require.Contains(t, got, "\tvmul.f32\ts17, s16, s16\n")
	require.Contains(t, got, "\tvmov.f32\ts0, s17\n")
}

func TestLowerIcmp(t *testing.T) {
	cfg := ice.NewCfg("cmp")
	cfg.SetReturnType(ice.TypeI1)
	a := cfg.MakeVariable(ice.TypeI32)
	cfg.AddArg(a)
	res := cfg.MakeVariable(ice.TypeI1)
	cfg.Entry().AppendInst(ice.NewIcmp(ice.IcmpSlt, res, a, ice.NewConstantInteger32(ice.TypeI32, 10)))
	cfg.Entry().AppendInst(ice.NewRet(res))
	cfg.ComputePredecessors()

	got := lowerToText(t, cfg)
	require.Contains(t, got, "\tcmp\tr4, #10\n")
	require.Contains(t, got, "\tmov\tr5, #0\n")
	require.Contains(t, got, "\tmovlt\tr5, #1\n")
}

func TestLowerCall(t *testing.T) {
	cfg := ice.NewCfg("caller")
	cfg.SetReturnType(ice.TypeI32)
	res := cfg.MakeVariable(ice.TypeI32)
	callee := ice.NewConstantRelocatable("callee", 0, false)
	cfg.Entry().AppendInst(ice.NewCall(res, callee, []ice.Operand{ice.NewConstantInteger32(ice.TypeI32, 7)}, false))
	cfg.Entry().AppendInst(ice.NewRet(res))
	cfg.ComputePredecessors()

	got := lowerToText(t, cfg)
	require.Contains(t, got, "\tmov\tr0, #7\n")
	require.Contains(t, got, "\tbl\tcallee\n")
	require.Contains(t, got, "\tmov\tr4, r0\n")
}

func TestLowerIntrinsics(t *testing.T) {
	reg := ice.NewIntrinsicRegistry()

	t.Run("trap", func(t *testing.T) {
		cfg := ice.NewCfg("t")
		trap := reg.Find("trap")
		cfg.Entry().AppendInst(ice.NewIntrinsicCall(nil, ice.NewConstantRelocatable("llvm.trap", 0, true), nil, trap))
		cfg.Entry().AppendInst(ice.NewUnreachable())
		cfg.ComputePredecessors()
		got := lowerToText(t, cfg)
		require.Contains(t, got, "\t.long 0xE7FEDEF0\n")
	})
	t.Run("sqrt", func(t *testing.T) {
		cfg := ice.NewCfg("s")
		cfg.SetReturnType(ice.TypeF64)
		a := cfg.MakeVariable(ice.TypeF64)
		cfg.AddArg(a)
		dest := cfg.MakeVariable(ice.TypeF64)
		sqrt := reg.Find("sqrt.f64")
		cfg.Entry().AppendInst(ice.NewIntrinsicCall(dest, ice.NewConstantRelocatable("llvm.sqrt.f64", 0, true), []ice.Operand{a}, sqrt))
		cfg.Entry().AppendInst(ice.NewRet(dest))
		cfg.ComputePredecessors()
		got := lowerToText(t, cfg)
		require.Contains(t, got, "\tvsqrt.f64\td9, d8\n")
	})
	t.Run("memcpy becomes a helper call", func(t *testing.T) {
		cfg := ice.NewCfg("m")
		memcpy := reg.Find("memcpy.p0i8.p0i8.i32")
		args := []ice.Operand{
			ice.NewConstantInteger32(ice.TypeI32, 1),
			ice.NewConstantInteger32(ice.TypeI32, 2),
			ice.NewConstantInteger32(ice.TypeI32, 3),
			ice.NewConstantInteger32(ice.TypeI32, 0),
			ice.NewConstantInteger32(ice.TypeI1, 0),
		}
		cfg.Entry().AppendInst(ice.NewIntrinsicCall(nil, ice.NewConstantRelocatable("llvm.memcpy.p0i8.p0i8.i32", 0, true), args, memcpy))
		cfg.Entry().AppendInst(ice.NewRet(nil))
		cfg.ComputePredecessors()
		got := lowerToText(t, cfg)
		require.Contains(t, got, "\tbl\tmemcpy\n")
	})
}

func TestLowerVectorArgumentsUnimplemented(t *testing.T) {
	cfg := ice.NewCfg("v")
	a := cfg.MakeVariable(ice.TypeV4I32)
	cfg.AddArg(a)
	cfg.Entry().AppendInst(ice.NewRet(nil))
	cfg.ComputePredecessors()
	_, err := NewTarget().Lower(cfg)
	require.ErrorContains(t, err, "unimplemented lowering for vector arguments")
}
