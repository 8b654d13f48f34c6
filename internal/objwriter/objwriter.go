// Package objwriter defines the object-file writer collaborator contract.
// The translator drives it section by section; the concrete layout (ELF or
// otherwise) is the implementation's business.
package objwriter

import (
	"encoding/binary"
	"fmt"
	"io"
)

// SectionFlags describe how a section may be mapped.
type SectionFlags uint32

const (
	// SectionExec marks executable contents (.text).
	SectionExec SectionFlags = 1 << iota
	// SectionWrite marks writable contents (.data, .bss).
	SectionWrite
	// SectionZeroFill marks contents that occupy no file space (.bss).
	SectionZeroFill
)

// Relocation references an extern symbol from section contents.
type Relocation struct {
	Section string
	Offset  uint64
	Symbol  string
	Addend  int64
}

// Writer is the object-writer contract: WriteInitialHeader, then any number
// of EmitSection and WriteRelocations calls, then Finish.
type Writer interface {
	WriteInitialHeader() error
	EmitSection(name string, contents []byte, flags SectionFlags) error
	WriteRelocations(relocs []Relocation) error
	Finish() error
}

// RawWriter is a minimal Writer that serializes sections into a flat
// container: enough for tests and for piping into an external linker shim.
type RawWriter struct {
	w        io.Writer
	started  bool
	finished bool
}

// NewRawWriter returns a RawWriter over w.
func NewRawWriter(w io.Writer) *RawWriter { return &RawWriter{w: w} }

var rawMagic = [4]byte{'S', 'Z', 'O', '1'}

// WriteInitialHeader implements Writer.
func (r *RawWriter) WriteInitialHeader() error {
	if r.started {
		return fmt.Errorf("header already written")
	}
	r.started = true
	_, err := r.w.Write(rawMagic[:])
	return err
}

func (r *RawWriter) writeChunk(kind byte, body []byte) error {
	if !r.started || r.finished {
		return fmt.Errorf("writer not accepting chunks")
	}
	var hdr [5]byte
	hdr[0] = kind
	binary.LittleEndian.PutUint32(hdr[1:], uint32(len(body)))
	if _, err := r.w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := r.w.Write(body)
	return err
}

// EmitSection implements Writer.
func (r *RawWriter) EmitSection(name string, contents []byte, flags SectionFlags) error {
	body := make([]byte, 0, 8+len(name)+len(contents))
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(flags))
	body = append(body, tmp[:]...)
	binary.LittleEndian.PutUint32(tmp[:], uint32(len(name)))
	body = append(body, tmp[:]...)
	body = append(body, name...)
	body = append(body, contents...)
	return r.writeChunk('S', body)
}

// WriteRelocations implements Writer.
func (r *RawWriter) WriteRelocations(relocs []Relocation) error {
	var body []byte
	var tmp [8]byte
	for _, rel := range relocs {
		binary.LittleEndian.PutUint32(tmp[:4], uint32(len(rel.Section)))
		body = append(body, tmp[:4]...)
		body = append(body, rel.Section...)
		binary.LittleEndian.PutUint64(tmp[:], rel.Offset)
		body = append(body, tmp[:]...)
		binary.LittleEndian.PutUint32(tmp[:4], uint32(len(rel.Symbol)))
		body = append(body, tmp[:4]...)
		body = append(body, rel.Symbol...)
		binary.LittleEndian.PutUint64(tmp[:], uint64(rel.Addend))
		body = append(body, tmp[:]...)
	}
	return r.writeChunk('R', body)
}

// Finish implements Writer.
func (r *RawWriter) Finish() error {
	if err := r.writeChunk('E', nil); err != nil {
		return err
	}
	r.finished = true
	return nil
}
