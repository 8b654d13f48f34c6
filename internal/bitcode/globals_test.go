package bitcode

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tetratelabs/subzero/internal/bitstream"
	"github.com/tetratelabs/subzero/internal/ice"
)

func TestGlobalsBlock(t *testing.T) {
	payload := buildModule(func(w *bitstream.Writer) {
		w.EnterBlock(blockIDGlobals, 2)
		w.WriteRecord(globalVarCount, 3)
		// Variable 0: align 2**3 >> 1 = 4, const, single data initializer.
		w.WriteRecord(globalVarVar, 3, 1)
		w.WriteRecord(globalVarData, 1, 2, 3)
		// Variable 1: compound of a zero fill and a reloc to variable 2
		// (declared later, exercising the forward reference).
		w.WriteRecord(globalVarVar, 0, 0)
		w.WriteRecord(globalVarCompound, 2)
		w.WriteRecord(globalVarZeroFill, 8)
		w.WriteRecord(globalVarReloc, 2, 16)
		// Variable 2: zero fill only.
		w.WriteRecord(globalVarVar, 1, 0)
		w.WriteRecord(globalVarZeroFill, 64)
		w.EndBlock()
	})
	res, _ := parseCollecting(t, payload, Options{})
	require.Empty(t, diagMessages(res))
	require.Len(t, res.Module.Variables, 3)

	v0 := res.Module.Variables[0]
	require.Equal(t, uint32(4), v0.Alignment)
	require.True(t, v0.IsConst)
	require.Equal(t, []ice.Initializer{ice.DataInitializer{Bytes: []byte{1, 2, 3}}}, v0.Initializers)

	v1 := res.Module.Variables[1]
	require.Equal(t, uint32(0), v1.Alignment)
	require.Len(t, v1.Initializers, 2)
	reloc, ok := v1.Initializers[1].(ice.RelocInitializer)
	require.True(t, ok)
	require.Same(t, ice.GlobalDeclaration(res.Module.Variables[2]), reloc.Target)
	require.Equal(t, int64(16), reloc.Addend)
	require.Equal(t, uint64(12), v1.NumBytes())

	v2 := res.Module.Variables[2]
	require.Equal(t, uint32(1), v2.Alignment)
	require.False(t, v2.HasNonzeroInitializer())
}

func TestGlobalsCountNotFirst(t *testing.T) {
	payload := buildModule(func(w *bitstream.Writer) {
		w.EnterBlock(blockIDGlobals, 2)
		w.WriteRecord(globalVarVar, 0, 0)
		w.WriteRecord(globalVarZeroFill, 4)
		w.WriteRecord(globalVarCount, 1)
		w.EndBlock()
	})
	res, _ := parseCollecting(t, payload, Options{})
	require.Contains(t, diagMessages(res), "Globals count record not first in block.")
}

func TestGlobalsMissingInitializers(t *testing.T) {
	payload := buildModule(func(w *bitstream.Writer) {
		w.EnterBlock(blockIDGlobals, 2)
		w.WriteRecord(globalVarCount, 2)
		w.WriteRecord(globalVarVar, 0, 0)
		w.WriteRecord(globalVarVar, 0, 0) // previous variable got none
		w.WriteRecord(globalVarZeroFill, 4)
		w.EndBlock()
	})
	res, _ := parseCollecting(t, payload, Options{})
	require.Contains(t, diagMessages(res), "Global variable declaration expects 1 initializer. Found: 0")
}

func TestGlobalsCountMismatch(t *testing.T) {
	payload := buildModule(func(w *bitstream.Writer) {
		w.EnterBlock(blockIDGlobals, 2)
		w.WriteRecord(globalVarCount, 2)
		w.WriteRecord(globalVarVar, 0, 0)
		w.WriteRecord(globalVarZeroFill, 4)
		w.EndBlock()
	})
	res, _ := parseCollecting(t, payload, Options{})
	require.Contains(t, diagMessages(res), "Globals block expects 2 global declarations. Found: 1")
}

func TestGlobalsCompoundRules(t *testing.T) {
	t.Run("compound must be first initializer", func(t *testing.T) {
		payload := buildModule(func(w *bitstream.Writer) {
			w.EnterBlock(blockIDGlobals, 2)
			w.WriteRecord(globalVarCount, 1)
			w.WriteRecord(globalVarVar, 0, 0)
			w.WriteRecord(globalVarZeroFill, 4)
			w.WriteRecord(globalVarCompound, 2)
			w.EndBlock()
		})
		res, _ := parseCollecting(t, payload, Options{})
		require.Contains(t, diagMessages(res), "Globals compound record not first initializer")
	})
	t.Run("compound of one is invalid", func(t *testing.T) {
		payload := buildModule(func(w *bitstream.Writer) {
			w.EnterBlock(blockIDGlobals, 2)
			w.WriteRecord(globalVarCount, 1)
			w.WriteRecord(globalVarVar, 0, 0)
			w.WriteRecord(globalVarCompound, 1)
			w.WriteRecord(globalVarZeroFill, 4)
			w.EndBlock()
		})
		res, _ := parseCollecting(t, payload, Options{})
		require.Contains(t, diagMessages(res), "globals compound record size invalid. Found: 1")
	})
}

func TestTypesBlockErrors(t *testing.T) {
	t.Run("void parameter recovers as i32", func(t *testing.T) {
		payload := buildModule(func(w *bitstream.Writer) {
			w.EnterBlock(blockIDTypes, 2)
			w.WriteRecord(typeCodeNumEntry, 2)
			w.WriteRecord(typeCodeVoid)
			w.WriteRecord(typeCodeFunction, 0, 0, 0) // void parameter
			w.EndBlock()
		})
		res, _ := parseCollecting(t, payload, Options{})
		require.Contains(t, diagMessages(res), "Type for parameter 1 not valid. Found: void")
		sig, err := res.Types.FuncSig(1)
		require.NoError(t, err)
		require.Equal(t, []ice.Type{ice.TypeI32}, sig.Args)
	})
	t.Run("vararg rejected", func(t *testing.T) {
		payload := buildModule(func(w *bitstream.Writer) {
			w.EnterBlock(blockIDTypes, 2)
			w.WriteRecord(typeCodeVoid)
			w.WriteRecord(typeCodeFunction, 1, 0)
			w.EndBlock()
		})
		res, _ := parseCollecting(t, payload, Options{})
		require.Contains(t, diagMessages(res), "Function type can't define varargs")
	})
	t.Run("illegal vector combination", func(t *testing.T) {
		payload := buildModule(func(w *bitstream.Writer) {
			w.EnterBlock(blockIDTypes, 2)
			w.WriteRecord(typeCodeInteger, 64)
			w.WriteRecord(typeCodeVector, 2, 0)
			w.EndBlock()
		})
		res, _ := parseCollecting(t, payload, Options{})
		require.Contains(t, diagMessages(res), "Invalid type vector record: <2 x i64>")
	})
	t.Run("vector combinations accepted", func(t *testing.T) {
		payload := buildModule(func(w *bitstream.Writer) {
			w.EnterBlock(blockIDTypes, 2)
			w.WriteRecord(typeCodeNumEntry, 4)
			w.WriteRecord(typeCodeInteger, 1)
			w.WriteRecord(typeCodeVector, 4, 0)
			w.WriteRecord(typeCodeInteger, 32)
			w.WriteRecord(typeCodeVector, 4, 2)
			w.EndBlock()
		})
		res, _ := parseCollecting(t, payload, Options{})
		require.Empty(t, diagMessages(res))
		ty, err := res.Types.Simple(1)
		require.NoError(t, err)
		require.Equal(t, ice.TypeV4I1, ty)
		ty, err = res.Types.Simple(3)
		require.NoError(t, err)
		require.Equal(t, ice.TypeV4I32, ty)
	})
}

func TestConstantsBlockErrors(t *testing.T) {
	payload := buildModule(func(w *bitstream.Writer) {
		writeTypesI32Sig(w)
		w.WriteRecord(moduleCodeFunction, 1, 0, 0, 0)
		w.EnterBlock(blockIDFunction, 2)
		w.WriteRecord(funcCodeDeclareBlocks, 1)
		w.EnterBlock(blockIDConstants, 2)
		w.WriteRecord(cstCodeInteger, 2) // no SETTYPE yet
		w.EndBlock()
		w.WriteRecord(funcCodeInstRet, 1)
		w.EndBlock()
	})
	res, _ := parseCollecting(t, payload, Options{})
	require.Contains(t, diagMessages(res), "Constant record not preceded by set type record")
}

func TestFunctionValueSymtab(t *testing.T) {
	payload := buildModule(func(w *bitstream.Writer) {
		writeTypesI32Sig(w)
		w.WriteRecord(moduleCodeFunction, 1, 0, 0, 0)
		w.EnterBlock(blockIDFunction, 2)
		w.WriteRecord(funcCodeDeclareBlocks, 1)
		w.WriteRecord(funcCodeInstRet, 1)
		w.EnterBlock(blockIDValueSymtab, 2)
		w.WriteRecord(vstCodeEntry, 1, 'x') // the argument
		w.WriteRecord(vstCodeEntry, 0, 'g') // global id: not assignable here
		w.WriteRecord(vstCodeBBEntry, 0, 'e', 'n', 't', 'r', 'y')
		w.EndBlock()
		w.EndBlock()
	})
	res, fns := parseCollecting(t, payload, Options{KeepNames: true})
	require.Contains(t, diagMessages(res), "Function-local instruction name 'g' can't be associated with index 0")
	require.Empty(t, fns) // the bad entry counts as an error
	require.Len(t, res.Diags, 1)
}
