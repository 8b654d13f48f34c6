package ice

import (
	"fmt"
	"strings"
)

// Node is a basic block: an ordered list of instructions ending in a
// terminator once parsing completes.
type Node struct {
	index uint32
	name  string
	insts []*Inst
	preds []*Node
}

// Index returns the block's position in declaration order; 0 is the entry.
func (n *Node) Index() uint32 { return n.index }

// LabelName returns the dump label for this block.
func (n *Node) LabelName() string {
	if n.name != "" {
		return n.name
	}
	return fmt.Sprintf("__%d", n.index)
}

// SetName attaches a symbol-table name.
func (n *Node) SetName(name string) { n.name = name }

// Insts returns the instruction list.
func (n *Node) Insts() []*Inst { return n.insts }

// AppendInst adds inst at the end of the block.
func (n *Node) AppendInst(inst *Inst) { n.insts = append(n.insts, inst) }

// Preds returns the predecessor blocks, valid after ComputePredecessors.
func (n *Node) Preds() []*Node { return n.preds }

// Terminator returns the block's final instruction if it is a terminator,
// else nil.
func (n *Node) Terminator() *Inst {
	if len(n.insts) == 0 {
		return nil
	}
	last := n.insts[len(n.insts)-1]
	if !last.IsTerminator() {
		return nil
	}
	return last
}

// Cfg is the control-flow graph of one function. It is owned exclusively by
// the parser while being built and by a single lowering worker afterwards.
type Cfg struct {
	name       string
	returnType Type
	internal   bool
	args       []*Variable
	nodes      []*Node
	numVars    uint32
}

// NewCfg returns an empty function with the entry block pre-allocated.
func NewCfg(name string) *Cfg {
	f := &Cfg{name: name}
	f.MakeNode()
	return f
}

// Name returns the function's symbol name.
func (f *Cfg) Name() string { return f.name }

// ReturnType returns the declared return type.
func (f *Cfg) ReturnType() Type { return f.returnType }

// SetReturnType records the declared return type.
func (f *Cfg) SetReturnType(ty Type) { f.returnType = ty }

// Internal reports internal linkage.
func (f *Cfg) Internal() bool { return f.internal }

// SetInternal records internal linkage.
func (f *Cfg) SetInternal(internal bool) { f.internal = internal }

// Args returns the argument variables in declaration order.
func (f *Cfg) Args() []*Variable { return f.args }

// AddArg appends v as the next argument.
func (f *Cfg) AddArg(v *Variable) { f.args = append(f.args, v) }

// Nodes returns the basic blocks in declaration order.
func (f *Cfg) Nodes() []*Node { return f.nodes }

// Entry returns the entry block.
func (f *Cfg) Entry() *Node { return f.nodes[0] }

// MakeNode appends a new empty basic block.
func (f *Cfg) MakeNode() *Node {
	n := &Node{index: uint32(len(f.nodes))}
	f.nodes = append(f.nodes, n)
	return n
}

// MakeVariable returns a fresh variable of type ty.
func (f *Cfg) MakeVariable(ty Type) *Variable {
	v := NewVariable(ty, f.numVars)
	f.numVars++
	return v
}

// NumVariables returns the number of variables created so far.
func (f *Cfg) NumVariables() uint32 { return f.numVars }

// ComputePredecessors recomputes every block's predecessor list from the
// successor edges of the terminators. Deterministic: predecessors appear in
// block declaration order, once per edge.
func (f *Cfg) ComputePredecessors() {
	for _, n := range f.nodes {
		n.preds = nil
	}
	for _, n := range f.nodes {
		term := n.Terminator()
		if term == nil {
			continue
		}
		for _, succ := range term.TerminatorSuccessors() {
			succ.preds = append(succ.preds, n)
		}
	}
}

// Format renders the function in an LLVM-flavoured syntax for dump output.
func (f *Cfg) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "define %s @%s(", f.returnType, f.name)
	for i, a := range f.args {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s %s", a.Type(), a)
	}
	b.WriteString(") {\n")
	for _, n := range f.nodes {
		fmt.Fprintf(&b, "%s:\n", n.LabelName())
		for _, inst := range n.insts {
			fmt.Fprintf(&b, "  %s\n", inst)
		}
	}
	b.WriteString("}\n")
	return b.String()
}
