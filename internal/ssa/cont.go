package ssa

// ContEdge is a successor reference: a target block plus the mapping
// from the target's parameters to the values the current block supplies
// for them. This is how SSA values cross a control-flow edge in lieu of
// phi-node arguments.
type ContEdge struct {
	Target *Block
	Args   map[*Param]Value
}

// NewContEdge returns an edge to target with no arguments yet; arguments
// are attached as the builder seals blocks and learns them.
func NewContEdge(target *Block) *ContEdge {
	return &ContEdge{Target: target, Args: map[*Param]Value{}}
}

// AddArg records that value is the argument for param on this edge, if
// param belongs to this edge's target (a no-op otherwise).
func (e *ContEdge) AddArg(param *Param, value Value) {
	if param.Block != e.Target {
		return
	}
	e.Args[param] = value
}

// Cont is a block's continuation: exactly one of Return, Jump, Branch or
// Call. Every variant below implements Cont.
type Cont interface {
	// Edges returns every ContEdge this continuation carries, in a
	// stable order (then/true before alt/false for Branch).
	Edges() []*ContEdge
	// Uses returns the values this continuation itself reads, distinct
	// from the edge argument maps (e.g. a Branch's condition).
	Uses() []Value
}

// ReturnCont ends a procedure. Value is nil for a void return. A
// non-nil value is an ABI matter the register allocator honours (it
// lands in A0), not an IR-level edge: procedures compile independently,
// so the call side cannot be linked by data flow.
type ReturnCont struct {
	Value Value
}

func (*ReturnCont) Edges() []*ContEdge { return nil }
func (r *ReturnCont) Uses() []Value {
	if r.Value == nil {
		return nil
	}
	return []Value{r.Value}
}

// JumpCont is an unconditional transfer to a single successor.
type JumpCont struct {
	Edge *ContEdge
}

func (j *JumpCont) Edges() []*ContEdge { return []*ContEdge{j.Edge} }
func (*JumpCont) Uses() []Value        { return nil }

// BranchCont transfers to TrueEdge if Value is non-zero, otherwise to
// FalseEdge.
type BranchCont struct {
	Value     Value
	TrueEdge  *ContEdge
	FalseEdge *ContEdge
}

func (b *BranchCont) Edges() []*ContEdge { return []*ContEdge{b.TrueEdge, b.FalseEdge} }
func (b *BranchCont) Uses() []Value      { return []Value{b.Value} }

// CallCont calls Proc with Args and transfers to ThenEdge, whose target
// block carries a parameter materialising the callee's return value.
type CallCont struct {
	Proc     string
	Args     []Value
	ThenEdge *ContEdge
}

func (c *CallCont) Edges() []*ContEdge { return []*ContEdge{c.ThenEdge} }
func (c *CallCont) Uses() []Value      { return c.Args }

// Targets returns the target blocks of every edge cont carries, in the
// same order as Edges.
func Targets(cont Cont) []*Block {
	edges := cont.Edges()
	targets := make([]*Block, len(edges))
	for i, e := range edges {
		targets[i] = e.Target
	}
	return targets
}
