package arm32

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tetratelabs/subzero/internal/ice"
)

func textOfInst(t *testing.T, i *Inst) string {
	t.Helper()
	var b strings.Builder
	require.NoError(t, i.EmitText(&b))
	return b.String()
}

func coreVar(ty ice.Type, num uint32, r Reg) *ice.Variable {
	v := ice.NewVariable(ty, num)
	v.SetRegNum(int32(r))
	return v
}

func TestOptimizeBranch(t *testing.T) {
	n1 := &MNode{Index: 1, Label: ".Lf$b1"}
	n2 := &MNode{Index: 2, Label: ".Lf$b2"}

	t.Run("unconditional to next is deleted", func(t *testing.T) {
		br := NewBr(n1)
		require.True(t, br.OptimizeBranch(n1))
		require.True(t, br.Deleted())
		require.Equal(t, "", textOfInst(t, br))
	})
	t.Run("unconditional elsewhere is kept", func(t *testing.T) {
		br := NewBr(n2)
		require.False(t, br.OptimizeBranch(n1))
		require.Equal(t, "\tb\t.Lf$b2\n", textOfInst(t, br))
	})
	t.Run("false target next becomes fallthrough", func(t *testing.T) {
		br := NewBrCond(CondEQ, n2, n1)
		require.True(t, br.OptimizeBranch(n1))
		require.Nil(t, br.targetFalse)
		require.Equal(t, CondEQ, br.Pred())
		require.Equal(t, "\tbeq\t.Lf$b2\n", textOfInst(t, br))
	})
	t.Run("true target next swaps and inverts", func(t *testing.T) {
		br := NewBrCond(CondEQ, n1, n2)
		require.True(t, br.OptimizeBranch(n1))
		require.Equal(t, CondNE, br.Pred())
		require.Equal(t, n2, br.targetTrue)
		require.Nil(t, br.targetFalse)
		require.Equal(t, "\tbne\t.Lf$b2\n", textOfInst(t, br))
	})
	t.Run("no fallthrough opportunity", func(t *testing.T) {
		n3 := &MNode{Index: 3, Label: ".Lf$b3"}
		br := NewBrCond(CondLT, n1, n2)
		require.False(t, br.OptimizeBranch(n3))
		require.Equal(t, "\tblt\t.Lf$b1\n\tb\t.Lf$b2\n", textOfInst(t, br))
	})
	t.Run("idempotent", func(t *testing.T) {
		for _, br := range []*Inst{NewBr(n1), NewBrCond(CondEQ, n1, n2), NewBrCond(CondEQ, n2, n1)} {
			br.OptimizeBranch(n1)
			afterOnce := *br
			require.False(t, br.OptimizeBranch(n1))
			require.Equal(t, afterOnce, *br)
		}
	})
}

func TestEmitTextALU(t *testing.T) {
	dest := coreVar(ice.TypeI32, 0, RegR0)
	lhs := coreVar(ice.TypeI32, 1, RegR1)
	imm, _ := NewFlexImm(ice.TypeI32, 0xFF00)

	add := NewALU(ALUAdd, CondAL, dest, lhs, imm)
	require.Equal(t, "\tadd\tr0, r1, #65280\n", textOfInst(t, add))

	sub := NewALU(ALUSub, CondAL, dest, lhs, NewFlexReg(ice.TypeI32, RegR2))
	sub.SetFlags()
	require.Equal(t, "\tsubs\tr0, r1, r2\n", textOfInst(t, sub))

	pred := NewALU(ALUAdc, CondCS, dest, lhs, NewFlexReg(ice.TypeI32, RegR2))
	require.Equal(t, "\tadccs\tr0, r1, r2\n", textOfInst(t, pred))

	shifted := NewALU(ALUOrr, CondAL, dest, lhs, NewFlexRegShiftImm(ice.TypeI32, RegR2, ShiftLSL, 4))
	require.Equal(t, "\torr\tr0, r1, r2, lsl #4\n", textOfInst(t, shifted))

	fdest := coreVar(ice.TypeF32, 2, RegS0+1)
	fadd := NewALU(ALUVadd, CondAL, fdest, coreVar(ice.TypeF32, 3, RegS0+2), coreVar(ice.TypeF32, 4, RegS0+3))
	require.Equal(t, "\tvadd.f32\ts1, s2, s3\n", textOfInst(t, fadd))
}

func TestMovMnemonicSelection(t *testing.T) {
	r0 := coreVar(ice.TypeI32, 0, RegR0)
	s0 := coreVar(ice.TypeF32, 1, RegS0)
	d8 := coreVar(ice.TypeF64, 2, RegD0+8)
	q4 := coreVar(ice.TypeV4I32, 3, RegQ0+4)

	tests := []struct {
		name string
		inst *Inst
		want string
	}{
		{name: "core to core", inst: NewMov(CondAL, r0, coreVar(ice.TypeI32, 9, RegR1)), want: "\tmov\tr0, r1\n"},
		{name: "core to vfp", inst: NewMov(CondAL, s0, coreVar(ice.TypeI32, 9, RegR1)), want: "\tvmov\ts0, r1\n"},
		{name: "vfp to vfp", inst: NewMov(CondAL, s0, coreVar(ice.TypeF32, 9, RegS0+4)), want: "\tvmov.f32\ts0, s4\n"},
		{name: "memory to core", inst: NewMov(CondAL, r0, NewMemImm(ice.TypeI32, RegR1, 8, Offset)), want: "\tldr\tr0, [r1, #8]\n"},
		{name: "byte load", inst: NewMov(CondAL, coreVar(ice.TypeI8, 9, RegR0), NewMemImm(ice.TypeI8, RegR1, 0, Offset)), want: "\tldrb\tr0, [r1]\n"},
		{name: "halfword store", inst: NewMov(CondAL, NewMemImm(ice.TypeI16, RegR1, 0, Offset), coreVar(ice.TypeI16, 9, RegR0)), want: "\tstrh\tr0, [r1]\n"},
		{name: "memory to vfp", inst: NewMov(CondAL, d8, NewMemImm(ice.TypeF64, RegR1, 0, Offset)), want: "\tvldr\td8, [r1]\n"},
		{name: "vfp to memory", inst: NewMov(CondAL, NewMemImm(ice.TypeF64, RegR1, 0, Offset), d8), want: "\tvstr\td8, [r1]\n"},
		{name: "memory to vector", inst: NewMov(CondAL, q4, NewMemImm(ice.TypeV4I32, RegR1, 0, Offset)), want: "\tvld1.64\tq4, [r1]\n"},
		{name: "vector to memory", inst: NewMov(CondAL, NewMemImm(ice.TypeV4I32, RegR1, 0, Offset), q4), want: "\tvst1.64\tq4, [r1]\n"},
		{name: "small immediate", inst: NewMov(CondAL, r0, ice.NewConstantInteger32(ice.TypeI32, 42)), want: "\tmov\tr0, #42\n"},
		{name: "wide immediate", inst: NewMov(CondAL, r0, ice.NewConstantInteger32(ice.TypeI32, 0x12345)), want: "\tmovw\tr0, #74565\n"},
		{name: "pair destination", inst: NewMovMultiDest(CondAL, coreVar(ice.TypeI32, 9, RegR0), RegR1, d8), want: "\tvmov\tr0, r1, d8\n"},
		{name: "pair source", inst: NewMovMultiSource(CondAL, d8, coreVar(ice.TypeI32, 9, RegR0), RegR1), want: "\tvmov\td8, r0, r1\n"},
		{name: "predicated", inst: NewMov(CondNE, r0, coreVar(ice.TypeI32, 9, RegR1)), want: "\tmovne\tr0, r1\n"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, textOfInst(t, tc.inst))
		})
	}
}

func TestEmitTextMisc(t *testing.T) {
	r0 := coreVar(ice.TypeI32, 0, RegR0)
	imm, _ := NewFlexImm(ice.TypeI32, 0)
	require.Equal(t, "\tcmp\tr0, #0\n", textOfInst(t, NewCmp(CondAL, r0, imm)))
	require.Equal(t, "\tbx\tlr\n", textOfInst(t, NewRet()))
	require.Equal(t, "\tpush\t{r4, r5, lr}\n", textOfInst(t, NewPush([]Reg{RegR4, RegR5, RegLR})))
	require.Equal(t, "\tpop\t{r4, lr}\n", textOfInst(t, NewPop([]Reg{RegR4, RegLR})))
	require.Equal(t, "\tbl\tmemcpy\n", textOfInst(t, NewCall("memcpy")))
	require.Equal(t, "\tblx\tr0\n", textOfInst(t, NewCallIndirect(r0)))
	require.Equal(t, "\t.long 0xE7FEDEF0\n", textOfInst(t, NewTrap()))
	require.Equal(t, "\tsub\tsp, sp, #16\n", textOfInst(t, NewAdjustStack(16)))
	require.Equal(t, "\tmovt\tr0, #18\n", textOfInst(t, NewMovT(CondAL, r0, 18)))

	sym := ice.NewConstantRelocatable("counter", 0, false)
	require.Equal(t, "\tmovw\tr0, #:lower16:counter\n", textOfInst(t, NewMovWSym(CondAL, r0, sym)))
	require.Equal(t, "\tmovt\tr0, #:upper16:counter\n", textOfInst(t, NewMovTSym(CondAL, r0, sym)))

	s1 := coreVar(ice.TypeF32, 1, RegS0+1)
	s2 := coreVar(ice.TypeF32, 2, RegS0+2)
	require.Equal(t, "\tvcmp.f32\ts1, s2\n\tvmrs\tAPSR_nzcv, FPSCR\n", textOfInst(t, NewVcmp(CondAL, s1, s2)))
	require.Equal(t, "\tvsqrt.f32\ts1, s2\n", textOfInst(t, NewVsqrt(CondAL, s1, s2)))
	require.Equal(t, "\tvcvt.f64.f32\td8, s2\n",
		textOfInst(t, NewVcvt(CondAL, coreVar(ice.TypeF64, 3, RegD0+8), s2, ice.TypeF32, ice.TypeF64)))
}

func TestFuncEmitText(t *testing.T) {
	fn := &Func{Name: "f"}
	entry := &MNode{Index: 0, Label: ".Lf$__0"}
	next := &MNode{Index: 1, Label: ".Lf$__1"}
	fn.Nodes = []*MNode{entry, next}
	entry.append(NewBr(next))
	next.append(NewRet())

	fn.OptimizeBranches()
	var b strings.Builder
	require.NoError(t, fn.EmitText(&b))
	got := b.String()
	require.Contains(t, got, "\t.globl\tf\n")
	require.Contains(t, got, "f:\n")
	require.Contains(t, got, ".Lf$__1:\n")
	require.NotContains(t, got, "\tb\t", "branch to layout successor must be deleted")
	require.Contains(t, got, "\tbx\tlr\n")

	internal := &Func{Name: "g", Internal: true, Nodes: []*MNode{{Index: 0, Label: ".Lg$__0"}}}
	internal.Nodes[0].append(NewRet())
	b.Reset()
	require.NoError(t, internal.EmitText(&b))
	require.NotContains(t, b.String(), ".globl")
}
