package translator

import (
	"bytes"
	"strings"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"github.com/tetratelabs/subzero/internal/bitstream"
	"github.com/tetratelabs/subzero/internal/objwriter"
)

// Bitcode block and record codes used by the test inputs; the numeric
// values are PNaCl's frozen ABI.
const (
	blockModule   = 8
	blockFunction = 12
	blockSymtab   = 14
	blockTypes    = 17
	blockGlobals  = 19
)

// buildAddModule builds a complete bitcode file defining
// `define i32 @f(i32 %a) { ret (%a + %a) }`.
func buildAddModule() []byte {
	w := bitstream.NewWriter()
	w.EnterBlock(blockModule, 2)
	w.WriteRecord(1, 1) // VERSION
	w.EnterBlock(blockTypes, 2)
	w.WriteRecord(1, 2)        // NUMENTRY
	w.WriteRecord(7, 32)       // INTEGER i32
	w.WriteRecord(21, 0, 0, 0) // FUNCTION i32 (i32)
	w.EndBlock()
	w.WriteRecord(8, 1, 0, 0, 0) // FUNCTION @f, defined
	w.EnterBlock(blockSymtab, 2)
	w.WriteRecord(1, 0, 'f')
	w.EndBlock()
	w.EnterBlock(blockFunction, 2)
	w.WriteRecord(1, 1)       // DECLAREBLOCKS
	w.WriteRecord(2, 1, 1, 0) // BINOP add
	w.WriteRecord(10, 1)      // RET
	w.EndBlock()
	w.EndBlock()
	return w.Bytes()
}

func TestTranslateAsm(t *testing.T) {
	var out bytes.Buffer
	numErrors, err := Translate(Config{Format: FormatAsm}, buildAddModule(), &out, nil)
	require.NoError(t, err)
	require.Zero(t, numErrors)

	got := out.String()
	require.Contains(t, got, "\t.globl\tf\n")
	require.Contains(t, got, "f:\n")
	require.Contains(t, got, "\tadd\t")
	require.Contains(t, got, "\tbx\tlr\n")
}

func TestTranslateAsmDeterministicWithWorkers(t *testing.T) {
	var first string
	for i := 0; i < 3; i++ {
		var out bytes.Buffer
		numErrors, err := Translate(Config{Format: FormatAsm, NumWorkers: 4}, buildAddModule(), &out, nil)
		require.NoError(t, err)
		require.Zero(t, numErrors)
		if i == 0 {
			first = out.String()
		} else {
			// A single function cannot interleave, regardless of workers.
			require.Equal(t, first, out.String())
		}
	}
}

func TestTranslateObj(t *testing.T) {
	var out bytes.Buffer
	objw := objwriter.NewRawWriter(&out)
	numErrors, err := Translate(Config{Format: FormatObj}, buildAddModule(), &out, objw)
	require.NoError(t, err)
	require.Zero(t, numErrors)
	require.True(t, strings.HasPrefix(out.String(), "SZO1"))
	require.Contains(t, out.String(), ".text")
}

func TestTranslateBadHeader(t *testing.T) {
	_, err := Translate(Config{}, []byte{1, 2, 3, 4, 5, 6, 7, 8}, &bytes.Buffer{}, nil)
	require.ErrorIs(t, err, bitstream.ErrBadHeader)
}

func TestTranslateOddSize(t *testing.T) {
	_, err := Translate(Config{}, make([]byte, 5), &bytes.Buffer{}, nil)
	require.ErrorIs(t, err, bitstream.ErrOddSize)
}

func TestTranslateUnknownTarget(t *testing.T) {
	numErrors, err := Translate(Config{Target: "mips"}, nil, &bytes.Buffer{}, nil)
	require.Error(t, err)
	require.NotZero(t, numErrors)
}

func TestTranslateAccumulatesErrors(t *testing.T) {
	w := bitstream.NewWriter()
	w.EnterBlock(blockModule, 2)
	w.WriteRecord(1, 1)
	w.EnterBlock(blockTypes, 2)
	w.WriteRecord(7, 13) // invalid integer width
	w.EndBlock()
	w.EndBlock()

	var out bytes.Buffer
	numErrors, err := Translate(Config{Format: FormatAsm}, w.Bytes(), &out, nil)
	require.NoError(t, err)
	require.NotZero(t, numErrors)
}

func TestTranslateGlobalsAsm(t *testing.T) {
	w := bitstream.NewWriter()
	w.EnterBlock(blockModule, 2)
	w.WriteRecord(1, 1)
	w.EnterBlock(blockGlobals, 2)
	w.WriteRecord(5, 2)    // COUNT
	w.WriteRecord(0, 3, 1) // VAR align=4 const
	w.WriteRecord(3, 1, 2) // DATA {1, 2}
	w.WriteRecord(0, 0, 0) // VAR
	w.WriteRecord(2, 32)   // ZEROFILL
	w.EndBlock()
	w.EnterBlock(blockSymtab, 2)
	w.WriteRecord(1, 0, 'g')
	w.WriteRecord(1, 1, 'z')
	w.EndBlock()
	w.EndBlock()

	var out bytes.Buffer
	numErrors, err := Translate(Config{Format: FormatAsm}, w.Bytes(), &out, nil)
	require.NoError(t, err)
	require.Zero(t, numErrors)
	got := out.String()
	require.Contains(t, got, "\t.section .rodata\n")
	require.Contains(t, got, "g:\n")
	require.Contains(t, got, "\t.byte 1\n")
	require.Contains(t, got, "\t.section .bss\n")
	require.Contains(t, got, "z:\n")
	require.Contains(t, got, "\t.zero 32\n")
	require.Contains(t, got, "\t.size z, 32\n")
}

func TestContextInternRelocatable(t *testing.T) {
	c := NewContext(&bytes.Buffer{}, logr.Discard())
	a := c.InternRelocatable("sym", false)
	b := c.InternRelocatable("sym", false)
	require.Same(t, a, b)
	other := c.InternRelocatable("other", true)
	require.NotSame(t, a, other)
	require.True(t, other.SuppressMangling)
}
