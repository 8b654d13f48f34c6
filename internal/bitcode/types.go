package bitcode

import (
	"github.com/tetratelabs/subzero/internal/bitstream"
	"github.com/tetratelabs/subzero/internal/ice"
)

// parseTypesBlock reads the types block. Each record defines the next dense
// type ID; NUMENTRY sizes the table up front.
func (p *parser) parseTypesBlock() error {
	prevBlock := p.block
	p.block = "type"
	defer func() { p.block = prevBlock }()

	nextTypeID := uint64(0)
	for {
		ev, err := p.cur.Next()
		if err != nil {
			return p.streamErr(err)
		}
		switch ev {
		case bitstream.EventEndBlock:
			return nil
		case bitstream.EventEnterBlock:
			if err := p.errf("Unknown block id %d inside types block. Skipping.", p.cur.BlockID()); err != nil {
				return err
			}
			if err := p.cur.SkipBlock(); err != nil {
				return p.streamErr(err)
			}
		case bitstream.EventEndStream:
			return p.streamErr(bitstream.ErrTruncated)
		case bitstream.EventRecord:
			if err := p.typeRecord(p.cur.Record(), &nextTypeID); err != nil {
				return err
			}
		}
	}
}

func (p *parser) defineSimpleType(id *uint64, ty ice.Type) error {
	if err := p.types.DefineSimple(*id, ty); err != nil {
		if e := p.errf("%v", err); e != nil {
			return e
		}
	}
	*id++
	return nil
}

func (p *parser) typeRecord(r *bitstream.Record, nextTypeID *uint64) error {
	switch r.Code {
	case typeCodeNumEntry:
		if ok, err := p.checkRecordSize(r, 1, "count"); !ok {
			return err
		}
		p.types.Resize(r.Vals[0])
		return nil
	case typeCodeVoid:
		if ok, err := p.checkRecordSize(r, 0, "void"); !ok {
			return err
		}
		return p.defineSimpleType(nextTypeID, ice.TypeVoid)
	case typeCodeFloat:
		if ok, err := p.checkRecordSize(r, 0, "float"); !ok {
			return err
		}
		return p.defineSimpleType(nextTypeID, ice.TypeF32)
	case typeCodeDouble:
		if ok, err := p.checkRecordSize(r, 0, "double"); !ok {
			return err
		}
		return p.defineSimpleType(nextTypeID, ice.TypeF64)
	case typeCodeInteger:
		if ok, err := p.checkRecordSize(r, 1, "integer"); !ok {
			return err
		}
		var ty ice.Type
		switch r.Vals[0] {
		case 1:
			ty = ice.TypeI1
		case 8:
			ty = ice.TypeI8
		case 16:
			ty = ice.TypeI16
		case 32:
			ty = ice.TypeI32
		case 64:
			ty = ice.TypeI64
		default:
			if err := p.errf("Type integer record with invalid bitsize: %d", r.Vals[0]); err != nil {
				return err
			}
			ty = ice.TypeI32
		}
		return p.defineSimpleType(nextTypeID, ty)
	case typeCodeVector:
		if ok, err := p.checkRecordSize(r, 2, "vector"); !ok {
			return err
		}
		base, err := p.types.Simple(r.Vals[1])
		if err != nil {
			if e := p.errf("%v", err); e != nil {
				return e
			}
		}
		var ty ice.Type
		switch {
		case base == ice.TypeI1 && r.Vals[0] == 4:
			ty = ice.TypeV4I1
		case base == ice.TypeI1 && r.Vals[0] == 8:
			ty = ice.TypeV8I1
		case base == ice.TypeI1 && r.Vals[0] == 16:
			ty = ice.TypeV16I1
		case base == ice.TypeI8 && r.Vals[0] == 16:
			ty = ice.TypeV16I8
		case base == ice.TypeI16 && r.Vals[0] == 8:
			ty = ice.TypeV8I16
		case base == ice.TypeI32 && r.Vals[0] == 4:
			ty = ice.TypeV4I32
		case base == ice.TypeF32 && r.Vals[0] == 4:
			ty = ice.TypeV4F32
		default:
			if err := p.errf("Invalid type vector record: <%d x %s>", r.Vals[0], base); err != nil {
				return err
			}
			ty = ice.TypeV4I32
		}
		return p.defineSimpleType(nextTypeID, ty)
	case typeCodeFunction:
		// FUNCTION: [vararg, retty, paramty x N]
		if ok, err := p.checkRecordSizeAtLeast(r, 2, "signature"); !ok {
			return err
		}
		if r.Vals[0] != 0 {
			if err := p.errf("Function type can't define varargs"); err != nil {
				return err
			}
		}
		ret, err := p.types.Simple(r.Vals[1])
		if err != nil {
			if e := p.errf("%v", err); e != nil {
				return e
			}
		}
		sig := ice.FuncSig{Ret: ret}
		for i := 2; i < len(r.Vals); i++ {
			arg, err := p.types.Simple(r.Vals[i])
			if err != nil {
				if e := p.errf("%v", err); e != nil {
					return e
				}
				arg = ice.TypeI32
			}
			if arg == ice.TypeVoid {
				if err := p.errf("Type for parameter %d not valid. Found: %s", i-1, arg); err != nil {
					return err
				}
				arg = ice.TypeI32
			}
			sig.Args = append(sig.Args, arg)
		}
		if err := p.types.DefineFuncSig(*nextTypeID, sig); err != nil {
			if e := p.errf("%v", err); e != nil {
				return e
			}
		}
		*nextTypeID++
		return nil
	default:
		return p.errf("Unknown record code %d in types block", r.Code)
	}
}

// simpleType resolves a type ID that must denote a simple type, recovering
// to i32.
func (p *parser) simpleType(id uint64) (ice.Type, error) {
	ty, err := p.types.Simple(id)
	if err != nil {
		if e := p.errf("%v", err); e != nil {
			return ice.TypeI32, e
		}
		return ice.TypeI32, nil
	}
	return ty, nil
}
