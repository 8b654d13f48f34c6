package translator

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/tetratelabs/subzero/internal/backend/arm32"
	"github.com/tetratelabs/subzero/internal/bitcode"
	"github.com/tetratelabs/subzero/internal/bitstream"
	"github.com/tetratelabs/subzero/internal/ice"
	"github.com/tetratelabs/subzero/internal/objwriter"

	asmarm32 "github.com/tetratelabs/subzero/internal/asm/arm32"
)

// Translate reads the bitcode file contents and writes either textual
// assembly to out or an object through objw, depending on cfg.Format.
// The returned error covers I/O and stream-structure faults; semantic
// diagnostics are counted in the context, and the translation failed when
// the returned error count is non-zero.
func Translate(cfg Config, input []byte, out io.Writer, objw objwriter.Writer) (numErrors int, err error) {
	if cfg.Target != "" && cfg.Target != "arm32" {
		return 1, fmt.Errorf("unknown target: %s", cfg.Target)
	}
	if cfg.Log.GetSink() == nil {
		cfg.Log = logr.Discard()
	}
	header, payload, err := bitstream.ReadHeader(input)
	if err != nil {
		return 1, err
	}
	if !header.IsSupported() {
		return 1, fmt.Errorf("%w: PNaCl version %d", bitstream.ErrBadHeader, header.PNaClVersion)
	}

	tctx := NewContext(out, cfg.Log)
	target := arm32.NewTarget()

	numWorkers := cfg.NumWorkers
	if numWorkers <= 0 {
		numWorkers = 1
	}
	work := make(chan *ice.Cfg, numWorkers)
	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for fn := range work {
				translateFcn(cfg, tctx, target, fn)
			}
		}()
	}

	res, parseErr := bitcode.Parse(payload, bitcode.Options{
		FailFast:          cfg.FailFast,
		KeepNames:         cfg.KeepNames,
		Log:               cfg.Log,
		InternRelocatable: tctx.InternRelocatable,
		OnFunction: func(fn *ice.Cfg) {
			// Workers own the function exclusively from here on. Once any
			// error is on record, later functions are parsed but not
			// translated.
			if tctx.NumErrors() == 0 {
				work <- fn
			}
		},
	})
	close(work)
	wg.Wait()

	for _, d := range res.Diags {
		tctx.ReportError(d.String())
	}
	if parseErr != nil {
		return tctx.NumErrors() + 1, parseErr
	}

	if tctx.NumErrors() == 0 {
		if err := lowerGlobals(cfg, tctx, res.Module, objw); err != nil {
			return tctx.NumErrors() + 1, err
		}
	}
	return tctx.NumErrors(), nil
}

// translateFcn lowers and emits one function on a worker. Emission goes
// through a per-function buffer so the output lock is held only for the
// final write.
func translateFcn(cfg Config, tctx *Context, target *arm32.Target, fn *ice.Cfg) {
	start := time.Now()
	mfn, err := target.Lower(fn)
	if err != nil {
		tctx.ReportError(err.Error())
		return
	}
	var buf bytes.Buffer
	switch cfg.Format {
	case FormatAsm:
		if err := mfn.EmitText(&buf); err != nil {
			tctx.ReportError(err.Error())
			return
		}
	case FormatObj:
		a, err := asmarm32.NewAssembler()
		if err != nil {
			tctx.ReportError(err.Error())
			return
		}
		mfn.EmitIAS(a)
		if a.NeedsTextFixup() {
			tctx.ReportError(fmt.Sprintf("%s: %d instructions need text fixups; object output not possible", fn.Name(), len(a.TextFixups())))
			return
		}
		code, err := a.Assemble()
		if err != nil {
			tctx.ReportError(err.Error())
			return
		}
		tctx.AppendText(code)
	}
	if buf.Len() > 0 {
		if _, err := tctx.Write(buf.Bytes()); err != nil {
			tctx.ReportError(err.Error())
		}
	}
	if cfg.TimeFuncs {
		cfg.Log.Info("translated function", "name", fn.Name(), "elapsed", time.Since(start))
	}
}

// lowerGlobals emits the variable declarations: assembly directives in asm
// mode, data/bss sections plus relocations through the object writer in
// object mode.
func lowerGlobals(cfg Config, tctx *Context, mod *ice.Module, objw objwriter.Writer) error {
	if cfg.Format == FormatAsm {
		var buf bytes.Buffer
		emitGlobalsText(&buf, mod)
		_, err := tctx.Write(buf.Bytes())
		return err
	}
	if objw == nil {
		return fmt.Errorf("object output requested without an object writer")
	}
	if err := objw.WriteInitialHeader(); err != nil {
		return err
	}
	if err := objw.EmitSection(".text", tctx.TextBytes(), objwriter.SectionExec); err != nil {
		return err
	}
	data, bssSize, relocs := layoutGlobals(mod)
	if err := objw.EmitSection(".data", data, objwriter.SectionWrite); err != nil {
		return err
	}
	if bssSize > 0 {
		if err := objw.EmitSection(".bss", make([]byte, bssSize), objwriter.SectionWrite|objwriter.SectionZeroFill); err != nil {
			return err
		}
	}
	if err := objw.WriteRelocations(relocs); err != nil {
		return err
	}
	return objw.Finish()
}

func emitGlobalsText(w io.Writer, mod *ice.Module) {
	for _, v := range mod.Variables {
		section := ".data"
		if !v.HasNonzeroInitializer() {
			section = ".bss"
		} else if v.IsConst {
			section = ".rodata"
		}
		fmt.Fprintf(w, "\t.section %s\n", section)
		if align := v.Alignment; align > 1 {
			fmt.Fprintf(w, "\t.p2align %d\n", log2(align))
		}
		fmt.Fprintf(w, "%s:\n", v.Name())
		for _, init := range v.Initializers {
			switch in := init.(type) {
			case ice.ZeroInitializer:
				fmt.Fprintf(w, "\t.zero %d\n", in.Size)
			case ice.DataInitializer:
				for _, b := range in.Bytes {
					fmt.Fprintf(w, "\t.byte %d\n", b)
				}
			case ice.RelocInitializer:
				if in.Addend != 0 {
					fmt.Fprintf(w, "\t.long %s + %d\n", in.Target.Name(), in.Addend)
				} else {
					fmt.Fprintf(w, "\t.long %s\n", in.Target.Name())
				}
			}
		}
		fmt.Fprintf(w, "\t.size %s, %d\n", v.Name(), v.NumBytes())
	}
}

// layoutGlobals packs the initialized declarations into one .data image,
// returning its relocations and the total zero-fill size.
func layoutGlobals(mod *ice.Module) (data []byte, bssSize uint64, relocs []objwriter.Relocation) {
	for _, v := range mod.Variables {
		if !v.HasNonzeroInitializer() {
			bssSize += v.NumBytes()
			continue
		}
		for _, init := range v.Initializers {
			switch in := init.(type) {
			case ice.ZeroInitializer:
				data = append(data, make([]byte, in.Size)...)
			case ice.DataInitializer:
				data = append(data, in.Bytes...)
			case ice.RelocInitializer:
				relocs = append(relocs, objwriter.Relocation{
					Section: ".data",
					Offset:  uint64(len(data)),
					Symbol:  in.Target.Name(),
					Addend:  in.Addend,
				})
				data = append(data, make([]byte, in.NumBytes())...)
			}
		}
	}
	return data, bssSize, relocs
}

func log2(v uint32) uint32 {
	var n uint32
	for v > 1 {
		v >>= 1
		n++
	}
	return n
}
