// Package translator composes the front end, the target lowering and the
// emitters: a single producer parses the bitstream while a worker pool
// lowers and emits functions.
package translator

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"

	"github.com/tetratelabs/subzero/internal/ice"
)

// OutputFormat selects the emission back end.
type OutputFormat byte

const (
	// FormatAsm writes textual assembly.
	FormatAsm OutputFormat = iota
	// FormatObj writes a relocatable object through the object writer.
	FormatObj
)

// Config configures one translation.
type Config struct {
	// Target selects the lowering; "arm32" is the only one registered.
	Target string
	Format OutputFormat
	// FailFast aborts at the first diagnostic instead of recovering.
	FailFast bool
	// KeepNames preserves function-local symbol-table names in dumps.
	KeepNames bool
	// NumWorkers sizes the lowering pool; 0 means one worker.
	NumWorkers int
	// TimeFuncs logs the wall-clock lowering time of every function.
	TimeFuncs bool
	Log       logr.Logger
}

// Context is the shared mutable state of a translation: the serialized
// output stream and the diagnostic counter. The symbol interning table and
// the intrinsic registry are write-once during parsing and read-only for
// the workers.
type Context struct {
	mu  sync.Mutex
	out io.Writer

	numErrors int32

	symMu sync.Mutex
	syms  map[string]*ice.ConstantRelocatable

	// text accumulates encoded function code in object mode. Append order
	// follows worker completion, not source order.
	textMu sync.Mutex
	text   []byte

	log logr.Logger
}

// NewContext returns a context writing to out.
func NewContext(out io.Writer, log logr.Logger) *Context {
	return &Context{out: out, syms: map[string]*ice.ConstantRelocatable{}, log: log}
}

// Write serializes a complete record's worth of output under the single
// output lock.
func (c *Context) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.Write(b)
}

// AppendText adds one function's encoded code to the text image.
func (c *Context) AppendText(code []byte) {
	c.textMu.Lock()
	defer c.textMu.Unlock()
	c.text = append(c.text, code...)
}

// TextBytes returns the accumulated text image.
func (c *Context) TextBytes() []byte {
	c.textMu.Lock()
	defer c.textMu.Unlock()
	return c.text
}

// ReportError counts one diagnostic and logs it.
func (c *Context) ReportError(msg string) {
	atomic.AddInt32(&c.numErrors, 1)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log.Info("error", "message", msg)
}

// NumErrors returns the accumulated diagnostic count.
func (c *Context) NumErrors() int { return int(atomic.LoadInt32(&c.numErrors)) }

// InternRelocatable returns the process-wide constant symbol for name,
// creating it on first reference.
func (c *Context) InternRelocatable(name string, suppressMangling bool) *ice.ConstantRelocatable {
	c.symMu.Lock()
	defer c.symMu.Unlock()
	if s, ok := c.syms[name]; ok {
		return s
	}
	s := ice.NewConstantRelocatable(name, 0, suppressMangling)
	c.syms[name] = s
	return s
}
