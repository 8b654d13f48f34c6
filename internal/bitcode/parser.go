package bitcode

import (
	"errors"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/tetratelabs/subzero/internal/bitstream"
	"github.com/tetratelabs/subzero/internal/ice"
)

// Diagnostic is one structured parse error, prefixed with the bit position
// it was raised at and the block being parsed.
type Diagnostic struct {
	BitPos  uint64
	Block   string
	Message string
}

// String implements fmt.Stringer in the byte:bit form diagnostics are
// reported with.
func (d Diagnostic) String() string {
	return fmt.Sprintf("(%d:%d) %s block: %s", d.BitPos/8, d.BitPos%8, d.Block, d.Message)
}

// ErrFailFast aborts parsing at the first diagnostic when Options.FailFast
// is set. The diagnostic itself is still recorded in the Result.
var ErrFailFast = errors.New("parse aborted on first error")

// Options configures a parse.
type Options struct {
	// FailFast aborts on the first diagnostic instead of recovering with a
	// substitute value.
	FailFast bool
	// KeepNames applies function-local symbol-table names to values and
	// blocks. Module-level names are always applied; emission needs them.
	KeepNames bool
	// Intrinsics resolves "llvm."-prefixed direct callees. Defaults to the
	// stable PNaCl set.
	Intrinsics *ice.IntrinsicRegistry
	// Log receives verbose progress tracing.
	Log logr.Logger
	// OnFunction is invoked with each function whose block parsed while the
	// accumulated error count was still zero. May be nil.
	OnFunction func(*ice.Cfg)
	// InternRelocatable interns constant symbols process-wide. Defaults to a
	// parse-local table.
	InternRelocatable func(name string, suppressMangling bool) *ice.ConstantRelocatable
}

// Result is the outcome of a parse: the module tables plus all accumulated
// diagnostics. The translation failed if Diags is non-empty.
type Result struct {
	Module *ice.Module
	Types  *ice.TypeTable
	Diags  []Diagnostic
}

// Parse reads the bitstream payload (after the file header) and returns the
// populated module tables. The only hard error conditions are a malformed
// bitstream below the record level and ErrFailFast; everything else is
// recovered and recorded as a Diagnostic.
func Parse(payload []byte, opts Options) (*Result, error) {
	if opts.Intrinsics == nil {
		opts.Intrinsics = ice.NewIntrinsicRegistry()
	}
	if opts.Log.GetSink() == nil {
		opts.Log = logr.Discard()
	}
	if opts.InternRelocatable == nil {
		local := map[string]*ice.ConstantRelocatable{}
		opts.InternRelocatable = func(name string, suppressMangling bool) *ice.ConstantRelocatable {
			if c, ok := local[name]; ok {
				return c
			}
			c := ice.NewConstantRelocatable(name, 0, suppressMangling)
			local[name] = c
			return c
		}
	}
	p := &parser{
		opts:  opts,
		cur:   bitstream.NewCursor(payload),
		types: &ice.TypeTable{},
		mod:   &ice.Module{},
		block: "top-level",
	}
	err := p.parseTopLevel()
	res := &Result{Module: p.mod, Types: p.types, Diags: p.diags}
	return res, err
}

type parser struct {
	opts  Options
	cur   *bitstream.Cursor
	types *ice.TypeTable
	mod   *ice.Module
	diags []Diagnostic
	block string

	// definedFuncIDs holds, in order, the global IDs of function
	// declarations with bodies; the n'th function block defines the n'th.
	definedFuncIDs  []uint32
	nextDefinedFunc int
	namesAssigned   bool

	globalConsts map[uint32]*ice.ConstantRelocatable
}

// errf records a diagnostic at the current bit position. The returned error
// is non-nil only in fail-fast mode.
func (p *parser) errf(format string, args ...interface{}) error {
	d := Diagnostic{BitPos: p.cur.BitPos(), Block: p.block, Message: fmt.Sprintf(format, args...)}
	p.diags = append(p.diags, d)
	p.opts.Log.V(1).Info("diagnostic", "at", d.BitPos, "block", d.Block, "message", d.Message)
	if p.opts.FailFast {
		return fmt.Errorf("%s: %w", d, ErrFailFast)
	}
	return nil
}

func (p *parser) hasErrors() bool { return len(p.diags) > 0 }

// checkRecordSize validates an exact record size.
func (p *parser) checkRecordSize(r *bitstream.Record, want int, kind string) (bool, error) {
	if len(r.Vals) == want {
		return true, nil
	}
	return false, p.errf("Invalid %s record size. Expecting %d. Found: %d", kind, want, len(r.Vals))
}

func (p *parser) checkRecordSizeAtLeast(r *bitstream.Record, want int, kind string) (bool, error) {
	if len(r.Vals) >= want {
		return true, nil
	}
	return false, p.errf("Invalid %s record size. Expecting at least %d. Found: %d", kind, want, len(r.Vals))
}

func (p *parser) checkRecordSizeInRange(r *bitstream.Record, lo, hi int, kind string) (bool, error) {
	if len(r.Vals) >= lo && len(r.Vals) <= hi {
		return true, nil
	}
	return false, p.errf("Invalid %s record size. Expecting %d..%d. Found: %d", kind, lo, hi, len(r.Vals))
}

func (p *parser) parseTopLevel() error {
	topBlocks := 0
	for {
		ev, err := p.cur.Next()
		if err != nil {
			return p.streamErr(err)
		}
		switch ev {
		case bitstream.EventEndStream:
			if topBlocks != 1 {
				return p.errf("Expected exactly one module block. Found: %d", topBlocks)
			}
			return nil
		case bitstream.EventEnterBlock:
			topBlocks++
			if p.cur.BlockID() != blockIDModule {
				if err := p.errf("Unknown top-level block id %d. Skipping.", p.cur.BlockID()); err != nil {
					return err
				}
				if err := p.cur.SkipBlock(); err != nil {
					return p.streamErr(err)
				}
				continue
			}
			if err := p.parseModule(); err != nil {
				return err
			}
		case bitstream.EventRecord:
			if err := p.errf("Record at top level not in any block"); err != nil {
				return err
			}
		case bitstream.EventEndBlock:
			return p.streamErr(fmt.Errorf("%w: unbalanced block end", bitstream.ErrMalformed))
		}
	}
}

// streamErr wraps a cursor fault: these are unrecoverable regardless of the
// error-recovery mode.
func (p *parser) streamErr(err error) error {
	p.diags = append(p.diags, Diagnostic{BitPos: p.cur.BitPos(), Block: p.block, Message: err.Error()})
	return err
}

func (p *parser) parseModule() error {
	p.block = "module"
	defer func() { p.block = "top-level" }()
	p.opts.Log.V(1).Info("entering module block")
	for {
		ev, err := p.cur.Next()
		if err != nil {
			return p.streamErr(err)
		}
		switch ev {
		case bitstream.EventEndBlock:
			return nil
		case bitstream.EventEndStream:
			return p.streamErr(fmt.Errorf("%w: stream ended inside module block", bitstream.ErrMalformed))
		case bitstream.EventEnterBlock:
			if err := p.parseModuleSubblock(); err != nil {
				return err
			}
		case bitstream.EventRecord:
			if err := p.moduleRecord(p.cur.Record()); err != nil {
				return err
			}
		}
	}
}

func (p *parser) parseModuleSubblock() error {
	switch p.cur.BlockID() {
	case blockIDTypes:
		return p.parseTypesBlock()
	case blockIDGlobals:
		return p.parseGlobalsBlock()
	case blockIDValueSymtab:
		return p.parseModuleValueSymtab()
	case blockIDFunction:
		return p.parseFunctionBlock()
	default:
		if err := p.errf("Unknown block id %d. Skipping.", p.cur.BlockID()); err != nil {
			return err
		}
		if err := p.cur.SkipBlock(); err != nil {
			return p.streamErr(err)
		}
		return nil
	}
}

func (p *parser) moduleRecord(r *bitstream.Record) error {
	switch r.Code {
	case moduleCodeVersion:
		if ok, err := p.checkRecordSize(r, 1, "version"); !ok {
			return err
		}
		if r.Vals[0] != 1 {
			return p.errf("Unknown bitstream version: %d", r.Vals[0])
		}
		return nil
	case moduleCodeFunction:
		// FUNCTION: [type, callingconv, isproto, linkage]
		if ok, err := p.checkRecordSize(r, 4, "function address"); !ok {
			return err
		}
		sig, err := p.types.FuncSig(r.Vals[0])
		if err != nil {
			if e := p.errf("Function address type not signature: %v", err); e != nil {
				return e
			}
			sig = &ice.FuncSig{Ret: ice.TypeVoid}
		}
		if r.Vals[1] != callingConvC {
			if err := p.errf("Function address has unknown calling convention: %d", r.Vals[1]); err != nil {
				return err
			}
		}
		var linkage ice.Linkage
		switch r.Vals[3] {
		case linkageExternal:
			linkage = ice.LinkageExternal
		case linkageInternal:
			linkage = ice.LinkageInternal
		default:
			if err := p.errf("Function address has unknown linkage. Found %d", r.Vals[3]); err != nil {
				return err
			}
		}
		isProto := r.Vals[2] != 0
		decl := ice.NewFunctionDeclaration(sig, ice.CallingConvC, linkage, isProto)
		if !isProto {
			p.definedFuncIDs = append(p.definedFuncIDs, uint32(len(p.mod.Functions)))
		}
		p.mod.Functions = append(p.mod.Functions, decl)
		return nil
	default:
		return p.errf("Unknown record code %d in module block", r.Code)
	}
}

// globalRelocatable lazily materializes the interned constant symbol for a
// global declaration ID referenced from a function body.
func (p *parser) globalRelocatable(id uint32) (*ice.ConstantRelocatable, error) {
	if c, ok := p.globalConsts[id]; ok {
		return c, nil
	}
	decl, err := p.mod.Global(id)
	if err != nil {
		return nil, err
	}
	c := p.opts.InternRelocatable(decl.Name(), decl.SuppressMangling())
	if p.globalConsts == nil {
		p.globalConsts = map[uint32]*ice.ConstantRelocatable{}
	}
	p.globalConsts[id] = c
	return c, nil
}

// ensureGlobalNames backfills default names once all declarations are known;
// first needed when a function block references globals by symbol.
func (p *parser) ensureGlobalNames() {
	if !p.namesAssigned {
		p.mod.AssignDefaultNames()
		p.namesAssigned = true
	}
}
