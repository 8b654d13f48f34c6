package objwriter

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRawWriter(t *testing.T) {
	var out bytes.Buffer
	w := NewRawWriter(&out)

	require.NoError(t, w.WriteInitialHeader())
	require.NoError(t, w.EmitSection(".text", []byte{1, 2, 3, 4}, SectionExec))
	require.NoError(t, w.EmitSection(".bss", make([]byte, 8), SectionWrite|SectionZeroFill))
	require.NoError(t, w.WriteRelocations([]Relocation{
		{Section: ".data", Offset: 4, Symbol: "extern_sym", Addend: -8},
	}))
	require.NoError(t, w.Finish())

	got := out.Bytes()
	require.Equal(t, []byte("SZO1"), got[:4])
	require.Contains(t, out.String(), ".text")
	require.Contains(t, out.String(), "extern_sym")

	// Chunks after Finish are rejected.
	require.Error(t, w.EmitSection(".late", nil, 0))
}

func TestRawWriterRequiresHeader(t *testing.T) {
	w := NewRawWriter(&bytes.Buffer{})
	require.Error(t, w.EmitSection(".text", nil, SectionExec))
	require.NoError(t, w.WriteInitialHeader())
	require.Error(t, w.WriteInitialHeader())
}
