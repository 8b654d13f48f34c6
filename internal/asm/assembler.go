// Package asm holds the target-independent assembler contract. Each target
// provides an implementation that encodes its machine instructions; where
// an encoding is not supported the assembler records a text fixup and the
// textual emitter's output stands in for the instruction.
package asm

// Assembler is the minimal surface the emitters drive.
type Assembler interface {
	// EmitTextInst records a textual stand-in for an instruction the
	// encoder cannot handle, and marks the output as needing text fixups.
	EmitTextInst(text string)
	// NeedsTextFixup reports whether any text fixup was recorded.
	NeedsTextFixup() bool
	// TextFixups returns the recorded stand-ins, in order.
	TextFixups() []string
	// Assemble returns the encoded bytes of everything accepted so far.
	Assemble() ([]byte, error)
}
