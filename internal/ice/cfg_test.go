package ice

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputePredecessors(t *testing.T) {
	f := NewCfg("f")
	b0 := f.Entry()
	b1 := f.MakeNode()
	b2 := f.MakeNode()
	b3 := f.MakeNode()

	cond := f.MakeVariable(TypeI1)
	b0.AppendInst(NewBrCond(cond, b1, b2))
	b1.AppendInst(NewBr(b3))
	b2.AppendInst(NewBr(b3))
	b3.AppendInst(NewRet(nil))

	f.ComputePredecessors()
	require.Empty(t, b0.Preds())
	require.Equal(t, []*Node{b0}, b1.Preds())
	require.Equal(t, []*Node{b0}, b2.Preds())
	require.Equal(t, []*Node{b1, b2}, b3.Preds())

	// Recomputation is deterministic and does not accumulate.
	f.ComputePredecessors()
	require.Equal(t, []*Node{b1, b2}, b3.Preds())
}

func TestTerminators(t *testing.T) {
	f := NewCfg("f")
	b0 := f.Entry()
	b1 := f.MakeNode()

	sw := NewSwitch(f.MakeVariable(TypeI32), b1, []SwitchCase{{Value: -1, Target: b1}})
	require.True(t, sw.IsTerminator())
	require.Equal(t, []*Node{b1, b1}, sw.TerminatorSuccessors())

	ret := NewRet(nil)
	require.True(t, ret.IsTerminator())
	require.Nil(t, ret.TerminatorSuccessors())

	add := NewArith(ArithAdd, f.MakeVariable(TypeI32), f.MakeVariable(TypeI32), f.MakeVariable(TypeI32))
	require.False(t, add.IsTerminator())
	b0.AppendInst(add)
	require.Nil(t, b0.Terminator())
	b0.AppendInst(sw)
	require.Equal(t, sw, b0.Terminator())
}

func TestPhiArguments(t *testing.T) {
	f := NewCfg("f")
	b0 := f.Entry()
	b1 := f.MakeNode()
	b2 := f.MakeNode()

	phi := NewPhi(f.MakeVariable(TypeI32))
	phi.AddPhiArgument(NewConstantInteger32(TypeI32, 1), b0)
	phi.AddPhiArgument(NewConstantInteger32(TypeI32, 2), b1)
	require.Len(t, phi.Srcs(), 2)
	require.Equal(t, b0, phi.PhiBlock(0))
	require.Equal(t, b1, phi.PhiBlock(1))
	b2.AppendInst(phi)

	cond := f.MakeVariable(TypeI1)
	b0.AppendInst(NewBrCond(cond, b1, b2))
	b1.AppendInst(NewBr(b2))
	b2.AppendInst(NewRet(phi.Dest()))
	f.ComputePredecessors()
	require.Len(t, b2.Preds(), len(phi.Srcs()))
}

func TestInstString(t *testing.T) {
	f := NewCfg("f")
	v := f.MakeVariable(TypeI32)
	add := NewArith(ArithAdd, v, NewConstantInteger32(TypeI32, 1), NewConstantInteger32(TypeI32, 2))
	require.Equal(t, "%v0 = add i32 1, 2", add.String())

	ret := NewRet(v)
	require.Equal(t, "ret i32 %v0", ret.String())

	cast := NewCast(CastTrunc, f.MakeVariable(TypeI8), v)
	require.Equal(t, "%v1 = trunc i32 %v0 to i8", cast.String())
}

func TestCfgFormat(t *testing.T) {
	f := NewCfg("fib")
	f.SetReturnType(TypeI32)
	arg := f.MakeVariable(TypeI32)
	f.AddArg(arg)
	f.Entry().AppendInst(NewRet(arg))
	got := f.Format()
	require.Contains(t, got, "define i32 @fib(i32 %v0) {")
	require.Contains(t, got, "ret i32 %v0")
}
