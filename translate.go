package subzero

import (
	"fmt"
	"io"

	"github.com/tetratelabs/subzero/internal/objwriter"
	"github.com/tetratelabs/subzero/internal/translator"
)

// Translate reads the bitcode file contents in input and writes the result
// to out. With OutputObj the object container is written to out through the
// raw object writer. The returned count is the number of diagnostics; the
// translation succeeded only when it is zero and err is nil.
func Translate(config Config, input []byte, out io.Writer) (numErrors int, err error) {
	c, ok := config.(*configImpl)
	if !ok {
		return 1, fmt.Errorf("config must be created by NewConfig")
	}
	var objw objwriter.Writer
	if c.cfg.Format == translator.FormatObj {
		objw = objwriter.NewRawWriter(out)
	}
	return translator.Translate(c.cfg, input, out, objw)
}
