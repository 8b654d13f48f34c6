package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tetratelabs/subzero/internal/bitstream"
)

// writeTestPexe writes a minimal valid bitcode file and returns its path.
func writeTestPexe(t *testing.T) string {
	t.Helper()
	w := bitstream.NewWriter()
	w.EnterBlock(8, 2)
	w.WriteRecord(1, 1)
	w.EnterBlock(17, 2)
	w.WriteRecord(1, 2)
	w.WriteRecord(7, 32)
	w.WriteRecord(21, 0, 0, 0)
	w.EndBlock()
	w.WriteRecord(8, 1, 0, 0, 0)
	w.EnterBlock(14, 2)
	w.WriteRecord(1, 0, 'f')
	w.EndBlock()
	w.EnterBlock(12, 2)
	w.WriteRecord(1, 1)
	w.WriteRecord(10, 1)
	w.EndBlock()
	w.EndBlock()

	path := filepath.Join(t.TempDir(), "in.pexe")
	require.NoError(t, os.WriteFile(path, w.Bytes(), 0o600))
	return path
}

func runMain(t *testing.T, args []string) (exitCode int, stdOut, stdErr string) {
	t.Helper()
	var out, errOut bytes.Buffer
	exitCode = -1
	doMain(args, &out, &errOut, func(code int) {
		if exitCode == -1 {
			exitCode = code
		}
	})
	return exitCode, out.String(), errOut.String()
}

func TestMainTranslates(t *testing.T) {
	path := writeTestPexe(t)
	code, stdOut, stdErr := runMain(t, []string{path})
	require.Equal(t, 0, code, stdErr)
	require.Contains(t, stdOut, "f:")
	require.Contains(t, stdOut, "\tbx\tlr\n")
}

func TestMainWritesOutputFile(t *testing.T) {
	path := writeTestPexe(t)
	outPath := filepath.Join(t.TempDir(), "out.s")
	code, _, stdErr := runMain(t, []string{"-o", outPath, path})
	require.Equal(t, 0, code, stdErr)
	got, err := os.ReadFile(outPath)
	require.NoError(t, err)
	require.Contains(t, string(got), "f:")
}

func TestMainNoArgs(t *testing.T) {
	code, _, stdErr := runMain(t, nil)
	require.Equal(t, 1, code)
	require.Contains(t, stdErr, "Usage: subzero")
}

func TestMainMissingInput(t *testing.T) {
	code, _, stdErr := runMain(t, []string{filepath.Join(t.TempDir(), "nope.pexe")})
	require.Equal(t, 1, code)
	require.Contains(t, stdErr, "error reading")
}

func TestMainBadFiletype(t *testing.T) {
	path := writeTestPexe(t)
	code, _, stdErr := runMain(t, []string{"-filetype", "coff", path})
	require.Equal(t, 1, code)
	require.Contains(t, stdErr, "invalid -filetype")
}

func TestMainConfigFile(t *testing.T) {
	path := writeTestPexe(t)
	outPath := filepath.Join(t.TempDir(), "from-config.s")
	cfgPath := filepath.Join(t.TempDir(), "subzero.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("output: "+outPath+"\nfiletype: asm\n"), 0o600))

	code, _, stdErr := runMain(t, []string{"-config", cfgPath, path})
	require.Equal(t, 0, code, stdErr)
	got, err := os.ReadFile(outPath)
	require.NoError(t, err)
	require.Contains(t, string(got), "f:")
}
