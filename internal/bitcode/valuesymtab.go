package bitcode

import (
	"github.com/tetratelabs/subzero/internal/bitstream"
	"github.com/tetratelabs/subzero/internal/ice"
)

// vstName converts the tail of a value-symbol record to a name. Names are
// opaque byte strings.
func vstName(vals []uint64) string {
	b := make([]byte, len(vals))
	for i, v := range vals {
		b[i] = byte(v)
	}
	return string(b)
}

// parseModuleValueSymtab assigns names to global declaration IDs.
func (p *parser) parseModuleValueSymtab() error {
	prevBlock := p.block
	p.block = "valuesymtab"
	defer func() { p.block = prevBlock }()

	for {
		ev, err := p.cur.Next()
		if err != nil {
			return p.streamErr(err)
		}
		switch ev {
		case bitstream.EventEndBlock:
			return nil
		case bitstream.EventEnterBlock:
			if err := p.errf("Unknown block id %d inside valuesymtab block. Skipping.", p.cur.BlockID()); err != nil {
				return err
			}
			if err := p.cur.SkipBlock(); err != nil {
				return p.streamErr(err)
			}
		case bitstream.EventEndStream:
			return p.streamErr(bitstream.ErrTruncated)
		case bitstream.EventRecord:
			r := p.cur.Record()
			switch r.Code {
			case vstCodeEntry:
				if ok, err := p.checkRecordSizeAtLeast(r, 2, "value entry"); !ok {
					return err
				}
				decl, err := p.mod.Global(uint32(r.Vals[0]))
				if err != nil {
					if e := p.errf("Symbol entry: %v", err); e != nil {
						return e
					}
					continue
				}
				decl.SetName(vstName(r.Vals[1:]))
			case vstCodeBBEntry:
				if err := p.errf("Basic block entry not legal in module symbol table"); err != nil {
					return err
				}
			default:
				if err := p.errf("Unknown record code %d in valuesymtab block", r.Code); err != nil {
					return err
				}
			}
		}
	}
}

// parseFunctionValueSymtab assigns names to function-local value IDs and
// basic-block indices.
func (f *funcParser) parseValueSymtab() error {
	p := f.p
	prevBlock := p.block
	p.block = "valuesymtab"
	defer func() { p.block = prevBlock }()

	for {
		ev, err := p.cur.Next()
		if err != nil {
			return p.streamErr(err)
		}
		switch ev {
		case bitstream.EventEndBlock:
			return nil
		case bitstream.EventEnterBlock:
			if err := p.errf("Unknown block id %d inside valuesymtab block. Skipping.", p.cur.BlockID()); err != nil {
				return err
			}
			if err := p.cur.SkipBlock(); err != nil {
				return p.streamErr(err)
			}
		case bitstream.EventEndStream:
			return p.streamErr(bitstream.ErrTruncated)
		case bitstream.EventRecord:
			r := p.cur.Record()
			switch r.Code {
			case vstCodeEntry:
				if ok, err := p.checkRecordSizeAtLeast(r, 2, "value entry"); !ok {
					return err
				}
				if err := f.setValueName(r.Vals[0], vstName(r.Vals[1:])); err != nil {
					return err
				}
			case vstCodeBBEntry:
				if ok, err := p.checkRecordSizeAtLeast(r, 2, "basic block entry"); !ok {
					return err
				}
				if err := f.setBlockName(r.Vals[0], vstName(r.Vals[1:])); err != nil {
					return err
				}
			default:
				if err := p.errf("Unknown record code %d in valuesymtab block", r.Code); err != nil {
					return err
				}
			}
		}
	}
}

func (f *funcParser) setValueName(index uint64, name string) error {
	p := f.p
	if index < uint64(f.numGlobalIDs) {
		return p.errf("Function-local instruction name '%s' can't be associated with index %d", name, index)
	}
	op := f.operandAt(uint32(index))
	if op == nil {
		return p.errf("Function-local name '%s' can't be associated with index %d", name, index)
	}
	v, ok := op.(*ice.Variable)
	if !ok {
		return p.errf("Function-local variable name '%s' can't be associated with index %d", name, index)
	}
	if p.opts.KeepNames {
		v.SetName(name)
	}
	return nil
}

func (f *funcParser) setBlockName(index uint64, name string) error {
	p := f.p
	if index >= uint64(len(f.cfg.Nodes())) {
		return p.errf("Function-local block name '%s' can't be associated with index %d", name, index)
	}
	if p.opts.KeepNames {
		f.cfg.Nodes()[index].SetName(name)
	}
	return nil
}
