// Package subzero translates PNaCl bitcode into native code: it parses the
// bitcode stream into a typed CFG-IR and lowers each function onto a target
// instruction set, emitting textual assembly or a relocatable object.
package subzero

import (
	"github.com/go-logr/logr"

	"github.com/tetratelabs/subzero/internal/translator"
)

// OutputFormat selects what Translate writes.
type OutputFormat byte

const (
	// OutputAsm writes textual assembly.
	OutputAsm OutputFormat = iota
	// OutputObj writes a relocatable object.
	OutputObj
)

// Config configures translation. Use NewConfig and the With* chain; the
// zero value of the implementation is not usable.
type Config interface {
	// WithTarget selects the lowering target. Defaults to "arm32".
	WithTarget(target string) Config

	// WithOutputFormat selects assembly or object output. Defaults to
	// assembly.
	WithOutputFormat(format OutputFormat) Config

	// WithFailFast aborts translation on the first diagnostic instead of
	// recovering with substitute values.
	WithFailFast(failFast bool) Config

	// WithWorkers sizes the lowering worker pool. Defaults to 1.
	WithWorkers(n int) Config

	// WithKeepNames preserves function-local symbol-table names for dump
	// output.
	WithKeepNames(keep bool) Config

	// WithTimeFunctions logs per-function translation time.
	WithTimeFunctions(time bool) Config

	// WithLogger installs the verbose-tracing logger.
	WithLogger(log logr.Logger) Config
}

// NewConfig returns the default configuration: arm32 target, assembly
// output, error recovery on, one worker.
func NewConfig() Config {
	return &configImpl{cfg: translator.Config{Target: "arm32", Log: logr.Discard()}}
}

type configImpl struct {
	cfg translator.Config
}

func (c *configImpl) clone() *configImpl {
	out := *c
	return &out
}

// WithTarget implements Config.WithTarget.
func (c *configImpl) WithTarget(target string) Config {
	ret := c.clone()
	ret.cfg.Target = target
	return ret
}

// WithOutputFormat implements Config.WithOutputFormat.
func (c *configImpl) WithOutputFormat(format OutputFormat) Config {
	ret := c.clone()
	if format == OutputObj {
		ret.cfg.Format = translator.FormatObj
	} else {
		ret.cfg.Format = translator.FormatAsm
	}
	return ret
}

// WithFailFast implements Config.WithFailFast.
func (c *configImpl) WithFailFast(failFast bool) Config {
	ret := c.clone()
	ret.cfg.FailFast = failFast
	return ret
}

// WithWorkers implements Config.WithWorkers.
func (c *configImpl) WithWorkers(n int) Config {
	ret := c.clone()
	ret.cfg.NumWorkers = n
	return ret
}

// WithKeepNames implements Config.WithKeepNames.
func (c *configImpl) WithKeepNames(keep bool) Config {
	ret := c.clone()
	ret.cfg.KeepNames = keep
	return ret
}

// WithTimeFunctions implements Config.WithTimeFunctions.
func (c *configImpl) WithTimeFunctions(time bool) Config {
	ret := c.clone()
	ret.cfg.TimeFuncs = time
	return ret
}

// WithLogger implements Config.WithLogger.
func (c *configImpl) WithLogger(log logr.Logger) Config {
	ret := c.clone()
	ret.cfg.Log = log
	return ret
}
