package ssa

import "fmt"

// Block is a single basic block: an ordered parameter list, an ordered
// instruction list, the continuation that leaves it, and the
// predecessor/successor edges kept consistent with that continuation.
type Block struct {
	Label  string
	Params []*Param
	Insts  []*Inst
	Cont   Cont
	Preds  []*Block
	Succs  []*Block

	paramCounter int
}

// NewBlock returns a fresh, empty, unsealed block. label is used as-is;
// callers are responsible for keeping labels unique within a procedure.
func NewBlock(label string) *Block {
	return &Block{Label: label}
}

// Param allocates a fresh parameter on this block and appends it to
// Params.
func (b *Block) Param() *Param {
	b.paramCounter++
	p := &Param{Block: b, Label: fmt.Sprintf("%s.p%d", b.Label, b.paramCounter)}
	b.Params = append(b.Params, p)
	return p
}

// Emit appends inst to this block's instruction list and returns it.
func (b *Block) Emit(inst *Inst) *Inst {
	b.Insts = append(b.Insts, inst)
	return inst
}

// EmitBefore inserts insts immediately before the existing instruction
// before, in order. Used by the peephole optimiser to introduce helper
// instructions for a rewrite.
func (b *Block) EmitBefore(before *Inst, insts ...*Inst) {
	for i, inst := range b.Insts {
		if inst == before {
			tail := append([]*Inst{}, b.Insts[i:]...)
			b.Insts = append(append(b.Insts[:i], insts...), tail...)
			return
		}
	}
	panic("ssa: EmitBefore: instruction not found in block")
}

// AddArg records value as param's argument on every edge of this
// block's continuation; ContEdge.AddArg skips edges whose target does
// not own param. The builder back-patches through its own addPredArg
// instead.
func (b *Block) AddArg(param *Param, value Value) {
	for _, edge := range b.Cont.Edges() {
		edge.AddArg(param, value)
	}
}

// link records target as a new successor of b and b as one of target's
// predecessors, so Preds/Succs always agree with the continuations.
func link(from, to *Block) {
	from.Succs = append(from.Succs, to)
	to.Preds = append(to.Preds, from)
}

// Ret closes b with a (possibly void) return. Panics if b already has a
// continuation: a block has exactly one continuation once closed.
func (b *Block) Ret(value Value) {
	b.mustBeOpen()
	b.Cont = &ReturnCont{Value: value}
}

// Jump closes b with an unconditional transfer to target.
func (b *Block) Jump(target *Block) *ContEdge {
	b.mustBeOpen()
	edge := NewContEdge(target)
	b.Cont = &JumpCont{Edge: edge}
	link(b, target)
	return edge
}

// Branch closes b with a conditional transfer.
func (b *Block) Branch(value Value, then, alt *Block) (*ContEdge, *ContEdge) {
	b.mustBeOpen()
	tedge, aedge := NewContEdge(then), NewContEdge(alt)
	b.Cont = &BranchCont{Value: value, TrueEdge: tedge, FalseEdge: aedge}
	link(b, then)
	link(b, alt)
	return tedge, aedge
}

// Call closes b with a call to proc, transferring to then on return.
func (b *Block) Call(proc string, args []Value, then *Block) *ContEdge {
	b.mustBeOpen()
	edge := NewContEdge(then)
	b.Cont = &CallCont{Proc: proc, Args: args, ThenEdge: edge}
	link(b, then)
	return edge
}

func (b *Block) mustBeOpen() {
	if b.Cont != nil {
		panic(fmt.Sprintf("ssa: block %s already has a continuation", b.Label))
	}
}
