package bitcode

import (
	"math"

	"github.com/tetratelabs/subzero/internal/bitstream"
	"github.com/tetratelabs/subzero/internal/ice"
)

// parseConstants reads a constants block inside a function block. Each
// accepted record appends one constant to the function-local value space.
func (f *funcParser) parseConstants() error {
	p := f.p
	prevBlock := p.block
	p.block = "constants"
	defer func() { p.block = prevBlock }()

	nextConstantType := ice.TypeVoid
	haveType := func() (bool, error) {
		if nextConstantType != ice.TypeVoid {
			return true, nil
		}
		return false, p.errf("Constant record not preceded by set type record")
	}

	for {
		ev, err := p.cur.Next()
		if err != nil {
			return p.streamErr(err)
		}
		switch ev {
		case bitstream.EventEndBlock:
			return nil
		case bitstream.EventEnterBlock:
			if err := p.errf("Unknown block id %d inside constants block. Skipping.", p.cur.BlockID()); err != nil {
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
			case cstCodeSetType:
				if ok, err := p.checkRecordSize(r, 1, "set type"); !ok {
					return err
				}
				ty, err := p.simpleType(r.Vals[0])
				if err != nil {
					return err
				}
				if ty == ice.TypeVoid {
					if err := p.errf("constants block set type not allowed for void type"); err != nil {
						return err
					}
				}
				nextConstantType = ty
			case cstCodeUndef:
				if ok, err := p.checkRecordSize(r, 0, "undef"); !ok {
					return err
				}
				if ok, err := haveType(); !ok {
					if err != nil {
						return err
					}
					continue
				}
				if err := f.setNextLocalInstIndex(ice.NewConstantUndef(nextConstantType)); err != nil {
					return err
				}
			case cstCodeInteger:
				if ok, err := p.checkRecordSize(r, 1, "integer"); !ok {
					return err
				}
				if ok, err := haveType(); !ok {
					if err != nil {
						return err
					}
					continue
				}
				if !nextConstantType.IsScalarInteger() {
					if err := p.errf("constant block integer record for non-integer type %s", nextConstantType); err != nil {
						return err
					}
					continue
				}
				v := signExtend(bitstream.DecodeSignRotated(r.Vals[0]), nextConstantType.ScalarIntBitWidth())
				var c ice.Constant
				if nextConstantType == ice.TypeI64 {
					c = ice.NewConstantInteger64(v)
				} else {
					c = ice.NewConstantInteger32(nextConstantType, int32(v))
				}
				if err := f.setNextLocalInstIndex(c); err != nil {
					return err
				}
			case cstCodeFloat:
				if ok, err := p.checkRecordSize(r, 1, "float"); !ok {
					return err
				}
				if ok, err := haveType(); !ok {
					if err != nil {
						return err
					}
					continue
				}
				switch nextConstantType {
				case ice.TypeF32:
					c := ice.NewConstantFloat(math.Float32frombits(uint32(r.Vals[0])))
					if err := f.setNextLocalInstIndex(c); err != nil {
						return err
					}
				case ice.TypeF64:
					c := ice.NewConstantDouble(math.Float64frombits(r.Vals[0]))
					if err := f.setNextLocalInstIndex(c); err != nil {
						return err
					}
				default:
					if err := p.errf("constant block float record for non-floating type %s", nextConstantType); err != nil {
						return err
					}
				}
			default:
				if err := p.errf("Unknown record code %d in constants block", r.Code); err != nil {
					return err
				}
			}
		}
	}
}
