// Package isel implements the instruction selector: greedy
// bottom-up maximal-munch tree tiling from abstract SSA to RISC-V 64
// SSA. Each block is munched terminator-first: continuation edge
// arguments, then the effectful instructions in reverse program order,
// then the continuation's own uses (a branch condition, call arguments,
// a return value), with the per-munch output lists reassembled so the
// selected block reads in program order.
//
// Selected results are cached per abstract value; the cache is
// invalidated for a block's own instructions and edge arguments before
// that block is munched, so a value consumed by an edge is rematerialised
// in the block that sends it.
package isel

import (
	"fmt"

	"garnetc/internal/ast"
	"garnetc/internal/diagnostics"
	"garnetc/internal/riscv64"
	"garnetc/internal/ssa"
)

var cmpRegister = map[ssa.AbstractOp]riscv64.Opcode{
	ssa.OpSeq: riscv64.SEQ,
	ssa.OpSne: riscv64.SNE,
	ssa.OpSlt: riscv64.SLT,
	ssa.OpSgt: riscv64.SGT,
	ssa.OpSle: riscv64.SLE,
	ssa.OpSge: riscv64.SGE,
}

var cmpZero = map[ssa.AbstractOp]riscv64.Opcode{
	ssa.OpSeq: riscv64.SEQZ,
	ssa.OpSne: riscv64.SNEZ,
	ssa.OpSlt: riscv64.SLTZ,
	ssa.OpSgt: riscv64.SGTZ,
	ssa.OpSle: riscv64.SLEZ,
	ssa.OpSge: riscv64.SGEZ,
}

// Select lowers proc and every procedure nested within it to a fresh
// RV64 SSA Procedure. The abstract procedure is left untouched apart
// from block parameters, which migrate to the selected blocks (the two
// procedures share Param objects, and downstream stages own the
// selected one).
func Select(proc *ssa.Procedure) (*ssa.Procedure, error) {
	nested := make([]*ssa.Procedure, 0, len(proc.Procedures))
	for _, sub := range proc.Procedures {
		p, err := Select(sub)
		if err != nil {
			return nil, err
		}
		nested = append(nested, p)
	}

	sel := &selector{
		blockmap: map[*ssa.Block]*ssa.Block{},
		done:     map[ssa.Value]bool{},
		cached:   map[ssa.Value]ssa.Value{},
	}
	blocks := make([]*ssa.Block, 0, len(proc.Blocks))
	for _, block := range proc.Blocks {
		nb, err := sel.munchBlock(block)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, nb)
	}

	newproc := &ssa.Procedure{Label: proc.Label, Blocks: blocks, Procedures: nested}
	sel.fixBlocks(newproc)
	return newproc, nil
}

type selector struct {
	blockmap map[*ssa.Block]*ssa.Block
	done     map[ssa.Value]bool
	cached   map[ssa.Value]ssa.Value
	output   []*ssa.Inst
	outputs  [][]*ssa.Inst
}

func unary(op riscv64.Opcode, v ssa.Value) *ssa.Inst {
	return &ssa.Inst{Op: op, Args: []ssa.Value{v}}
}

func binary(op riscv64.Opcode, v0, v1 ssa.Value) *ssa.Inst {
	return &ssa.Inst{Op: op, Args: []ssa.Value{v0, v1}}
}

func constOf(v ssa.Value) (int64, bool) {
	inst, ok := ssa.Find(v).(*ssa.Inst)
	if !ok {
		return 0, false
	}
	ao, ok := inst.Op.(ssa.AbstractOp)
	if !ok || ao != ssa.OpConst {
		return 0, false
	}
	return inst.Const, true
}

// munchExpr returns the selected RV64 value for v, munching it first if
// this block has not selected it yet. Block parameters select as
// themselves.
func (s *selector) munchExpr(v ssa.Value) (ssa.Value, error) {
	if _, ok := v.(*ssa.Param); ok {
		return v, nil
	}
	if s.done[v] {
		return s.cached[v], nil
	}
	result, err := s.doMunchExpr(v)
	if err != nil {
		return nil, err
	}
	s.done[v] = true
	s.cached[v] = result
	if inst, ok := result.(*ssa.Inst); ok {
		s.output = append(s.output, inst)
	}
	return result, nil
}

func (s *selector) munchArgs(inst *ssa.Inst) (ssa.Value, ssa.Value, error) {
	v0, err := s.munchExpr(inst.Arg(0))
	if err != nil {
		return nil, nil, err
	}
	v1, err := s.munchExpr(inst.Arg(1))
	if err != nil {
		return nil, nil, err
	}
	return v0, v1, nil
}

func (s *selector) doMunchExpr(v ssa.Value) (ssa.Value, error) {
	inst, ok := v.(*ssa.Inst)
	if !ok {
		return nil, fmt.Errorf("isel: cannot munch %T", v)
	}
	op, ok := inst.Op.(ssa.AbstractOp)
	if !ok {
		return nil, fmt.Errorf("isel: instruction already selected: %s", inst.Op)
	}

	switch op {
	case ssa.OpConst:
		return unary(riscv64.LI, ssa.Imm{Value: inst.Const}), nil

	case ssa.OpAdd:
		if c, ok := constOf(inst.Arg(1)); ok {
			v0, err := s.munchExpr(inst.Arg(0))
			if err != nil {
				return nil, err
			}
			return binary(riscv64.ADDI, v0, ssa.Imm{Value: c}), nil
		}
		v0, v1, err := s.munchArgs(inst)
		if err != nil {
			return nil, err
		}
		return binary(riscv64.ADD, v0, v1), nil

	case ssa.OpSub:
		if c, ok := constOf(inst.Arg(1)); ok {
			v0, err := s.munchExpr(inst.Arg(0))
			if err != nil {
				return nil, err
			}
			return binary(riscv64.ADDI, v0, ssa.Imm{Value: -c}), nil
		}
		v0, v1, err := s.munchArgs(inst)
		if err != nil {
			return nil, err
		}
		return binary(riscv64.SUB, v0, v1), nil

	case ssa.OpNeg:
		v0, err := s.munchExpr(inst.Arg(0))
		if err != nil {
			return nil, err
		}
		return unary(riscv64.NEG, v0), nil

	case ssa.OpMul:
		v0, v1, err := s.munchArgs(inst)
		if err != nil {
			return nil, err
		}
		return binary(riscv64.MUL, v0, v1), nil

	case ssa.OpMulh:
		v0, v1, err := s.munchArgs(inst)
		if err != nil {
			return nil, err
		}
		return binary(riscv64.MULH, v0, v1), nil

	case ssa.OpDiv:
		v0, v1, err := s.munchArgs(inst)
		if err != nil {
			return nil, err
		}
		return binary(riscv64.DIV, v0, v1), nil

	case ssa.OpSll, ssa.OpSrl, ssa.OpSra:
		immOp := map[ssa.AbstractOp]riscv64.Opcode{
			ssa.OpSll: riscv64.SLLI, ssa.OpSrl: riscv64.SRLI, ssa.OpSra: riscv64.SRAI,
		}[op]
		regOp := map[ssa.AbstractOp]riscv64.Opcode{
			ssa.OpSll: riscv64.SLL, ssa.OpSrl: riscv64.SRL, ssa.OpSra: riscv64.SRA,
		}[op]
		if c, ok := constOf(inst.Arg(1)); ok {
			v0, err := s.munchExpr(inst.Arg(0))
			if err != nil {
				return nil, err
			}
			return binary(immOp, v0, ssa.Imm{Value: c}), nil
		}
		v0, v1, err := s.munchArgs(inst)
		if err != nil {
			return nil, err
		}
		return binary(regOp, v0, v1), nil

	case ssa.OpSeq, ssa.OpSne, ssa.OpSlt, ssa.OpSgt, ssa.OpSle, ssa.OpSge:
		if c, ok := constOf(inst.Arg(1)); ok && c == 0 {
			v0, err := s.munchExpr(inst.Arg(0))
			if err != nil {
				return nil, err
			}
			return unary(cmpZero[op], v0), nil
		}
		v0, v1, err := s.munchArgs(inst)
		if err != nil {
			return nil, err
		}
		return binary(cmpRegister[op], v0, v1), nil

	case ssa.OpOdd:
		v0, err := s.munchExpr(inst.Arg(0))
		if err != nil {
			return nil, err
		}
		andi := binary(riscv64.ANDI, v0, ssa.Imm{Value: 1})
		s.output = append(s.output, andi)
		return unary(riscv64.SNEZ, andi), nil

	case ssa.OpLoad:
		la := unary(riscv64.LA, ssa.Sym{Name: inst.Variable})
		s.output = append(s.output, la)
		return unary(riscv64.LD, ssa.Off{Base: la}), nil

	case ssa.OpStore:
		v0, err := s.munchExpr(inst.Arg(0))
		if err != nil {
			return nil, err
		}
		la := unary(riscv64.LA, ssa.Sym{Name: inst.Variable})
		s.output = append(s.output, la)
		return binary(riscv64.SD, v0, ssa.Off{Base: la}), nil

	case ssa.OpScan:
		return &ssa.Inst{Op: riscv64.ECALLRead}, nil

	case ssa.OpPrint:
		v0, err := s.munchExpr(inst.Arg(0))
		if err != nil {
			return nil, err
		}
		return unary(riscv64.ECALLWrite, v0), nil

	default:
		return nil, diagnostics.New(
			diagnostics.ErrSelectorUnsupported,
			"no tile matches this operator shape", ast.Position{},
		).WithDetail(fmt.Sprintf("opcode %s", inst.Op))
	}
}

// edgeArgValues collects the distinct values a continuation's edges
// carry, ordered by edge then target parameter so selection is
// deterministic.
func edgeArgValues(cont ssa.Cont) []ssa.Value {
	var vals []ssa.Value
	seen := map[ssa.Value]bool{}
	for _, e := range cont.Edges() {
		for _, p := range e.Target.Params {
			a, ok := e.Args[p]
			if !ok || seen[a] {
				continue
			}
			seen[a] = true
			vals = append(vals, a)
		}
	}
	return vals
}

func (s *selector) munchBlock(block *ssa.Block) (*ssa.Block, error) {
	// Invalidate cached selections for everything this block defines or
	// sends across an edge, so each is rematerialised here.
	edgeArgs := edgeArgValues(block.Cont)
	for _, a := range edgeArgs {
		delete(s.done, ssa.Find(a))
	}
	for _, inst := range block.Insts {
		delete(s.done, ssa.Find(inst))
	}

	s.outputs = nil
	args := map[ssa.Value]ssa.Value{}
	for _, a := range edgeArgs {
		s.output = nil
		r, err := s.munchExpr(ssa.Find(a))
		if err != nil {
			return nil, err
		}
		args[a] = r
		s.outputs = append(s.outputs, s.output)
	}

	for i := len(block.Insts) - 1; i >= 0; i-- {
		inst, ok := ssa.Find(block.Insts[i]).(*ssa.Inst)
		if !ok || !inst.Effectful() {
			continue
		}
		s.output = nil
		if _, err := s.munchExpr(inst); err != nil {
			return nil, err
		}
		s.outputs = append(s.outputs, s.output)
	}

	nb := ssa.NewBlock(block.Label)
	s.blockmap[block] = nb

	remap := func(old *ssa.ContEdge) *ssa.ContEdge {
		e := ssa.NewContEdge(old.Target)
		for p, a := range old.Args {
			e.Args[p] = ssa.Find(args[a])
		}
		return e
	}
	// munchUse selects a value the continuation itself reads; its
	// computation is prepended to outputs so it lands at the very end of
	// the reassembled block, next to the continuation.
	munchUse := func(v ssa.Value) (ssa.Value, error) {
		s.output = nil
		r, err := s.munchExpr(ssa.Find(v))
		if err != nil {
			return nil, err
		}
		s.outputs = append([][]*ssa.Inst{s.output}, s.outputs...)
		return r, nil
	}

	switch c := block.Cont.(type) {
	case *ssa.ReturnCont:
		ret := &ssa.ReturnCont{}
		if c.Value != nil {
			rv, err := munchUse(c.Value)
			if err != nil {
				return nil, err
			}
			ret.Value = rv
		}
		nb.Cont = ret

	case *ssa.JumpCont:
		nb.Cont = &ssa.JumpCont{Edge: remap(c.Edge)}

	case *ssa.CallCont:
		selArgs := make([]ssa.Value, len(c.Args))
		for i := len(c.Args) - 1; i >= 0; i-- {
			r, err := munchUse(c.Args[i])
			if err != nil {
				return nil, err
			}
			selArgs[i] = r
		}
		nb.Cont = &ssa.CallCont{Proc: c.Proc, Args: selArgs, ThenEdge: remap(c.ThenEdge)}

	case *ssa.BranchCont:
		value, err := munchUse(c.Value)
		if err != nil {
			return nil, err
		}
		nb.Cont = &ssa.BranchCont{Value: value, TrueEdge: remap(c.TrueEdge), FalseEdge: remap(c.FalseEdge)}

	default:
		return nil, fmt.Errorf("isel: unhandled continuation %T", block.Cont)
	}

	for i := len(s.outputs) - 1; i >= 0; i-- {
		nb.Insts = append(nb.Insts, s.outputs[i]...)
	}
	nb.Params = append([]*ssa.Param{}, block.Params...)
	nb.Preds = append([]*ssa.Block{}, block.Preds...)
	nb.Succs = append([]*ssa.Block{}, block.Succs...)
	return nb, nil
}

// fixBlocks rewrites every predecessor, successor and edge target from
// the abstract blocks to their selected counterparts, and repoints the
// migrated parameters at their new owning blocks.
func (s *selector) fixBlocks(proc *ssa.Procedure) {
	for _, b := range proc.Blocks {
		for i, p := range b.Preds {
			b.Preds[i] = s.blockmap[p]
		}
		for i, sc := range b.Succs {
			b.Succs[i] = s.blockmap[sc]
		}
		for _, p := range b.Params {
			p.Block = b
		}
		for _, e := range b.Cont.Edges() {
			e.Target = s.blockmap[e.Target]
		}
	}
}
