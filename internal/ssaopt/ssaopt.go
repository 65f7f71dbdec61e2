// Package ssaopt implements the peephole optimiser: a fixed-point,
// per-block pass of constant folding, algebraic identities,
// commutativity normalisation and division-by-constant lowering over
// abstract SSA.
//
// Every newly constructed helper instruction is emitted into its block
// with EmitBefore, except a bare constant whose only consumer reads it
// through Find; such a constant needs no position of its own.
package ssaopt

import (
	"garnetc/internal/ast"
	"garnetc/internal/diagnostics"
	"garnetc/internal/ssa"
)

// Optimise rewrites proc and every procedure nested within it to a
// per-block peephole fixed point, nested procedures first.
func Optimise(proc *ssa.Procedure) error {
	for _, nested := range proc.Procedures {
		if err := Optimise(nested); err != nil {
			return err
		}
	}
	for _, block := range proc.Blocks {
		if err := peepholeBlock(block); err != nil {
			return err
		}
	}
	return nil
}

func peepholeBlock(block *ssa.Block) error {
	for {
		changed := false
		for _, inst := range block.Insts {
			did, err := peepExpr(block, inst)
			if err != nil {
				return err
			}
			changed = changed || did
		}
		if !changed {
			return nil
		}
	}
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

func newConst(n int64) *ssa.Inst { return &ssa.Inst{Op: ssa.OpConst, Const: n} }

func isPowerOfTwo(n int64) bool { return n > 0 && n&(n-1) == 0 }

// peepExpr tries one rewrite of inst, operands resolved via Arg().
// Already-forwarded instructions are left alone: once replaced, an Inst
// keeps its single forwarding target for good.
func peepExpr(block *ssa.Block, inst *ssa.Inst) (bool, error) {
	if inst.Forwarded != nil {
		return false, nil
	}
	ao, ok := inst.Op.(ssa.AbstractOp)
	if !ok {
		return false, nil
	}

	switch ao {
	case ssa.OpAdd:
		return peepAdd(block, inst)
	case ssa.OpSub:
		return peepSub(block, inst)
	case ssa.OpMul:
		return peepMul(block, inst)
	case ssa.OpDiv:
		return peepDiv(block, inst)
	default:
		return false, nil
	}
}

func peepAdd(block *ssa.Block, inst *ssa.Inst) (bool, error) {
	a0, a0c := constOf(inst.Arg(0))
	a1, a1c := constOf(inst.Arg(1))

	switch {
	case a0c && a1c:
		inst.Replace(newConst(a0 + a1))
		return true, nil
	case a0c && !a1c:
		// Normalise so a constant operand always sits on the right.
		swapped := &ssa.Inst{Op: ssa.OpAdd, Args: []ssa.Value{inst.Arg(1), inst.Arg(0)}}
		block.EmitBefore(inst, swapped)
		inst.Replace(swapped)
		return true, nil
	case a1c && a1 == 0:
		inst.Replace(inst.Arg(0))
		return true, nil
	default:
		return false, nil
	}
}

// peepSub folds constant subtraction and applies the x-0 and 0-x
// identities. SUB is not commutative, so there is no swap rule.
func peepSub(block *ssa.Block, inst *ssa.Inst) (bool, error) {
	a0, a0c := constOf(inst.Arg(0))
	a1, a1c := constOf(inst.Arg(1))

	switch {
	case a0c && a1c:
		inst.Replace(newConst(a0 - a1))
		return true, nil
	case a1c && a1 == 0:
		inst.Replace(inst.Arg(0))
		return true, nil
	case a0c && a0 == 0:
		neg := &ssa.Inst{Op: ssa.OpNeg, Args: []ssa.Value{inst.Arg(1)}}
		block.EmitBefore(inst, neg)
		inst.Replace(neg)
		return true, nil
	default:
		return false, nil
	}
}

func peepMul(block *ssa.Block, inst *ssa.Inst) (bool, error) {
	a0, a0c := constOf(inst.Arg(0))
	a1, a1c := constOf(inst.Arg(1))

	switch {
	case a0c && a1c:
		inst.Replace(newConst(a0 * a1))
		return true, nil
	case a0c && !a1c:
		swapped := &ssa.Inst{Op: ssa.OpMul, Args: []ssa.Value{inst.Arg(1), inst.Arg(0)}}
		block.EmitBefore(inst, swapped)
		inst.Replace(swapped)
		return true, nil
	case a1c && a1 == 0:
		inst.Replace(inst.Arg(1))
		return true, nil
	case a1c && a1 == 1:
		inst.Replace(inst.Arg(0))
		return true, nil
	case a1c && a1 == 2:
		one := newConst(1)
		sll := &ssa.Inst{Op: ssa.OpSll, Args: []ssa.Value{inst.Arg(0), one}}
		block.EmitBefore(inst, one, sll)
		inst.Replace(sll)
		return true, nil
	default:
		return false, nil
	}
}

// peepDiv lowers a known divisor to shifts and, for 3, a single MULH.
// A known zero divisor raises ErrDivisionByZero rather than folding to
// some arbitrary value.
func peepDiv(block *ssa.Block, inst *ssa.Inst) (bool, error) {
	a0, a0c := constOf(inst.Arg(0))
	a1, a1c := constOf(inst.Arg(1))

	if !a1c {
		return false, nil
	}
	if a1 == 0 {
		return false, diagnostics.New(diagnostics.ErrDivisionByZero, "division by the constant 0", ast.Position{})
	}
	if a0c {
		inst.Replace(newConst(a0 / a1))
		return true, nil
	}

	e1 := inst.Arg(0)
	switch {
	case a1 == 1:
		inst.Replace(e1)
		return true, nil

	case a1 == 2:
		c63 := newConst(63)
		srl := &ssa.Inst{Op: ssa.OpSrl, Args: []ssa.Value{e1, c63}}
		add := &ssa.Inst{Op: ssa.OpAdd, Args: []ssa.Value{e1, srl}}
		c1 := newConst(1)
		sra := &ssa.Inst{Op: ssa.OpSra, Args: []ssa.Value{add, c1}}
		block.EmitBefore(inst, c63, srl, add, c1, sra)
		inst.Replace(sra)
		return true, nil

	case a1 == 3:
		// x/3 = MULH(ceil((2^64+2)/3), x) + SRL(x, 63). The magic
		// constant is 0x5555555555555556, which fits in a positive
		// int64, so the signed MULH yields the high half directly.
		magic := newConst(int64((uint64(1)<<63 + 1) / 3 * 2))
		mulh := &ssa.Inst{Op: ssa.OpMulh, Args: []ssa.Value{magic, e1}}
		c63 := newConst(63)
		srl := &ssa.Inst{Op: ssa.OpSrl, Args: []ssa.Value{e1, c63}}
		add := &ssa.Inst{Op: ssa.OpAdd, Args: []ssa.Value{mulh, srl}}
		block.EmitBefore(inst, magic, mulh, c63, srl, add)
		inst.Replace(add)
		return true, nil

	case isPowerOfTwo(a1) && a1 > 2:
		k := bitLen(a1) - 1
		ckm1 := newConst(int64(k - 1))
		sra1 := &ssa.Inst{Op: ssa.OpSra, Args: []ssa.Value{e1, ckm1}}
		c64k := newConst(int64(64 - k))
		srl := &ssa.Inst{Op: ssa.OpSrl, Args: []ssa.Value{sra1, c64k}}
		add := &ssa.Inst{Op: ssa.OpAdd, Args: []ssa.Value{e1, srl}}
		ck := newConst(int64(k))
		sra2 := &ssa.Inst{Op: ssa.OpSra, Args: []ssa.Value{add, ck}}
		block.EmitBefore(inst, ckm1, sra1, c64k, srl, add, ck, sra2)
		inst.Replace(sra2)
		return true, nil

	default:
		return false, nil
	}
}

func bitLen(n int64) int {
	k := 0
	for n > 0 {
		k++
		n >>= 1
	}
	return k
}
