package bitcode

import (
	"github.com/tetratelabs/subzero/internal/bitstream"
	"github.com/tetratelabs/subzero/internal/ice"
)

// alignPowerLimit is the largest accepted alignment exponent.
const alignPowerLimit = 29

// decodeAlignment turns an alignment exponent into a byte alignment:
// (1 << p) >> 1, so p == 0 yields 0. Out-of-range exponents recover as 1.
func (p *parser) decodeAlignment(context string, alignPower uint64) (uint32, error) {
	if alignPower <= alignPowerLimit {
		return (1 << alignPower) >> 1, nil
	}
	err := p.errf("%s alignment greater than 2**%d. Found: 2**%d", context, alignPowerLimit, alignPower)
	return 1, err
}

// parseGlobalsBlock reads the global-variable declarations and their
// initializers.
func (p *parser) parseGlobalsBlock() error {
	prevBlock := p.block
	p.block = "globals"
	defer func() { p.block = prevBlock }()

	g := &globalsParser{p: p}
	for {
		ev, err := p.cur.Next()
		if err != nil {
			return p.streamErr(err)
		}
		switch ev {
		case bitstream.EventEndBlock:
			if err := g.verifyNoMissingInitializers(); err != nil {
				return err
			}
			if declared, seen := g.declaredCount, g.nextGlobalID; g.haveCount && declared != uint64(seen) {
				if err := p.errf("Globals block expects %d global declarations. Found: %d", declared, seen); err != nil {
					return err
				}
			}
			return nil
		case bitstream.EventEnterBlock:
			if err := p.errf("Unknown block id %d inside globals block. Skipping.", p.cur.BlockID()); err != nil {
				return err
			}
			if err := p.cur.SkipBlock(); err != nil {
				return p.streamErr(err)
			}
		case bitstream.EventEndStream:
			return p.streamErr(bitstream.ErrTruncated)
		case bitstream.EventRecord:
			if err := g.record(p.cur.Record()); err != nil {
				return err
			}
		}
	}
}

type globalsParser struct {
	p *parser

	haveCount     bool
	declaredCount uint64
	nextGlobalID  int

	cur                 *ice.VariableDeclaration
	initializersNeeded  int
	compoundInitializer bool
}

// verifyNoMissingInitializers diagnoses an initializer-count mismatch on the
// open declaration and clamps the expectation to what was seen.
func (g *globalsParser) verifyNoMissingInitializers() error {
	if g.cur == nil {
		return nil
	}
	if seen := len(g.cur.Initializers); seen != g.initializersNeeded {
		plural := ""
		if g.initializersNeeded > 1 {
			plural = "s"
		}
		err := g.p.errf("Global variable declaration expects %d initializer%s. Found: %d",
			g.initializersNeeded, plural, seen)
		g.initializersNeeded = seen
		return err
	}
	return nil
}

func (g *globalsParser) addInitializer(init ice.Initializer) error {
	if g.cur == nil {
		return g.p.errf("Global initializer record not preceded by variable declaration")
	}
	g.cur.AddInitializer(init)
	return nil
}

func (g *globalsParser) record(r *bitstream.Record) error {
	p := g.p
	switch r.Code {
	case globalVarCount:
		if ok, err := p.checkRecordSize(r, 1, "count"); !ok {
			return err
		}
		if g.haveCount || g.nextGlobalID != 0 {
			return p.errf("Globals count record not first in block.")
		}
		g.haveCount = true
		g.declaredCount = r.Vals[0]
		// Pre-create the declarations so RELOC records can reference
		// variables that are declared further down the block.
		for i := uint64(0); i < r.Vals[0]; i++ {
			p.mod.Variables = append(p.mod.Variables, ice.NewVariableDeclaration())
		}
		return nil
	case globalVarVar:
		// VAR: [align, isconst]
		if ok, err := p.checkRecordSize(r, 2, "variable"); !ok {
			return err
		}
		if err := g.verifyNoMissingInitializers(); err != nil {
			return err
		}
		align, err := p.decodeAlignment("Global variable", r.Vals[0])
		if err != nil {
			return err
		}
		if g.nextGlobalID < len(p.mod.Variables) {
			g.cur = p.mod.Variables[g.nextGlobalID]
		} else {
			g.cur = ice.NewVariableDeclaration()
			p.mod.Variables = append(p.mod.Variables, g.cur)
		}
		g.nextGlobalID++
		g.cur.Alignment = align
		g.cur.IsConst = r.Vals[1] != 0
		g.initializersNeeded = 1
		g.compoundInitializer = false
		return nil
	case globalVarCompound:
		// COMPOUND: [size]
		if ok, err := p.checkRecordSize(r, 1, "compound"); !ok {
			return err
		}
		if g.cur == nil || len(g.cur.Initializers) != 0 || g.compoundInitializer {
			return p.errf("Globals compound record not first initializer")
		}
		if r.Vals[0] < 2 {
			return p.errf("globals compound record size invalid. Found: %d", r.Vals[0])
		}
		g.compoundInitializer = true
		g.initializersNeeded = int(r.Vals[0])
		return nil
	case globalVarZeroFill:
		if ok, err := p.checkRecordSize(r, 1, "zerofill"); !ok {
			return err
		}
		return g.addInitializer(ice.ZeroInitializer{Size: r.Vals[0]})
	case globalVarData:
		if ok, err := p.checkRecordSizeAtLeast(r, 1, "data"); !ok {
			return err
		}
		bytes := make([]byte, len(r.Vals))
		for i, v := range r.Vals {
			if v > 0xff {
				if err := p.errf("Data initializer byte out of range: %d", v); err != nil {
					return err
				}
			}
			bytes[i] = byte(v)
		}
		return g.addInitializer(ice.DataInitializer{Bytes: bytes})
	case globalVarReloc:
		// RELOC: [val, [addend]]
		if ok, err := p.checkRecordSizeInRange(r, 1, 2, "reloc"); !ok {
			return err
		}
		target, err := p.mod.Global(uint32(r.Vals[0]))
		if err != nil {
			if e := p.errf("Reloc initializer: %v", err); e != nil {
				return e
			}
			return nil
		}
		var addend int64
		if len(r.Vals) == 2 {
			addend = int64(r.Vals[1])
		}
		return g.addInitializer(ice.RelocInitializer{Target: target, Addend: addend})
	default:
		return p.errf("Unknown record code %d in globals block", r.Code)
	}
}
