// Package regalloc implements the SSA register allocator. The
// colouring walk visits blocks in dominator-tree pre-order; inside a
// block it runs a linear scan with last-use bookkeeping, freeing a
// value's colour at its final read and handing each produced value the
// lowest-numbered free register from the colouring pool. Block
// parameters are preassigned: the argument registers a0, a1, ... in
// parameter order, except that a call continuation's then-block keeps
// its first parameter (the callee's return value) in a0 and draws the
// rest from the general pool so they cannot collide with outgoing call
// arguments.
//
// After colouring, every control-flow edge's argument map becomes a
// parallel move, serialised with Dybvig-style cycle breaking: a cycle
// is broken by parking the blocked source in a scratch register
// numbered strictly above every colour the two endpoint blocks use.
package regalloc

import (
	"fmt"
	"strings"

	"garnetc/internal/ast"
	"garnetc/internal/diagnostics"
	"garnetc/internal/dom"
	"garnetc/internal/riscv64"
	"garnetc/internal/ssa"
)

// Colouring maps, per block, every value coloured while allocating that
// block (its parameters and produced instruction results) to the
// assigned register.
type Colouring map[*ssa.Block]map[ssa.Value]riscv64.Register

// Allocate colours proc and rewrites its blocks in place with the MV
// sequences that realise every edge's argument transfer. proc must
// already be critical-edge split (dom.Analyse does this).
func Allocate(proc *ssa.Procedure, d *dom.Result) (Colouring, error) {
	ra := &allocator{proc: proc, dom: d, colours: Colouring{}, pool: poolIndex()}
	if err := ra.allocateFrom(proc.Entry()); err != nil {
		return nil, err
	}
	if err := ra.parmove(); err != nil {
		return nil, err
	}
	return ra.colours, nil
}

type allocator struct {
	proc    *ssa.Procedure
	dom     *dom.Result
	colours Colouring
	pool    map[riscv64.Register]int
}

func poolIndex() map[riscv64.Register]int {
	m := make(map[riscv64.Register]int, len(riscv64.REGALLOC))
	for i, r := range riscv64.REGALLOC {
		m[r] = i
	}
	return m
}

func exhausted(detail string) error {
	return diagnostics.New(
		diagnostics.ErrRegisterAllocationFull,
		"ran out of registers", ast.Position{},
	).WithDetail(detail)
}

func (ra *allocator) allocateFrom(block *ssa.Block) error {
	if err := ra.allocateBlock(block); err != nil {
		return err
	}
	for child := range ra.dom.Dom[block] {
		if child == block {
			continue
		}
		if err := ra.allocateFrom(child); err != nil {
			return err
		}
	}
	return nil
}

func (ra *allocator) allocateBlock(block *ssa.Block) error {
	assignment := map[ssa.Value]riscv64.Register{}
	if strings.HasSuffix(block.Label, "_cthen") {
		assignment[block.Params[0]] = riscv64.A0
		for i, p := range block.Params[1:] {
			if i >= len(riscv64.REGALLOC) {
				return exhausted(fmt.Sprintf("block %s carries too many parameters", block.Label))
			}
			assignment[p] = riscv64.REGALLOC[i]
		}
	} else {
		for i, p := range block.Params {
			if i >= len(riscv64.ArgRegisters) {
				return exhausted(fmt.Sprintf("block %s carries more parameters than argument registers", block.Label))
			}
			assignment[p] = riscv64.ArgRegisters[i]
		}
	}

	assigned := map[riscv64.Register]bool{}
	for _, r := range assignment {
		assigned[r] = true
	}

	// lastUse maps a value to the instruction (or the continuation)
	// that reads it last within this block; colours free at that point.
	lastUse := map[ssa.Value]any{}
	for _, inst := range block.Insts {
		for i := range inst.Args {
			if a := inst.Arg(i); ssa.Assignable(a) {
				lastUse[a] = inst
			}
		}
	}
	for _, u := range block.Cont.Uses() {
		lastUse[ssa.Find(u)] = block.Cont
	}
	for _, e := range block.Cont.Edges() {
		for _, p := range e.Target.Params {
			if a, ok := e.Args[p]; ok {
				lastUse[ssa.Find(a)] = block.Cont
			}
		}
	}

	for _, inst := range block.Insts {
		for i := range inst.Args {
			a := inst.Arg(i)
			if !ssa.Assignable(a) || lastUse[a] != ssa.Value(inst) {
				continue
			}
			if r, ok := assignment[a]; ok {
				delete(assigned, r)
			}
		}
		if !inst.Op.Output() {
			continue
		}
		reg, ok := firstFree(assigned)
		if !ok {
			return exhausted(fmt.Sprintf("block %s holds too many simultaneously live values", block.Label))
		}
		assignment[inst] = reg
		if _, used := lastUse[inst]; used {
			assigned[reg] = true
		}
	}

	ra.colours[block] = assignment
	return nil
}

func firstFree(assigned map[riscv64.Register]bool) (riscv64.Register, bool) {
	for _, r := range riscv64.REGALLOC {
		if !assigned[r] {
			return r, true
		}
	}
	return 0, false
}

type moveState int

const (
	notMoved moveState = iota
	moving
	moved
)

// parallelMoves serialises moves, pairs of (source, destination) pool
// indices with simultaneous-assignment semantics. A move whose source a
// pending move is about to clobber is emitted first; a cycle parks the
// blocked source in tmp.
func parallelMoves(moves [][2]int, tmp int) [][2]int {
	state := make([]moveState, len(moves))
	var results [][2]int
	var pmov1 func(i int)
	pmov1 = func(i int) {
		if moves[i][0] == moves[i][1] {
			return
		}
		state[i] = moving
		for j := range moves {
			if moves[j][0] != moves[i][1] {
				continue
			}
			switch state[j] {
			case notMoved:
				pmov1(j)
			case moving:
				results = append(results, [2]int{moves[j][0], tmp})
				moves[j][0] = tmp
			}
		}
		results = append(results, moves[i])
		state[i] = moved
	}
	for i := range moves {
		if state[i] == notMoved {
			pmov1(i)
		}
	}
	return results
}

// edgeMovePairs collects the register transfers edge e requires, from
// v's colouring of each argument to u's colouring of the receiving
// parameter, plus the highest pool index held by any value coloured in
// v or u (for scratch selection).
func (ra *allocator) edgeMovePairs(e *ssa.ContEdge, v, u *ssa.Block) (movs [][2]int, high int) {
	for _, r := range ra.colours[v] {
		high = max(high, ra.pool[r])
	}
	for _, r := range ra.colours[u] {
		high = max(high, ra.pool[r])
	}
	for _, ru := range u.Params {
		rv, ok := e.Args[ru]
		if !ok {
			continue
		}
		cu := ra.pool[ra.colours[u][ru]]
		cv := ra.pool[ra.colours[v][ssa.Find(rv)]]
		high = max(high, cu, cv)
		if cu != cv {
			movs = append(movs, [2]int{cv, cu})
		}
	}
	return movs, high
}

// callMovePairs routes a call continuation's arguments into the
// argument registers a0, a1, ... so the callee's entry block finds them
// where its parameter preassignment expects them.
func (ra *allocator) callMovePairs(c *ssa.CallCont, v *ssa.Block) (movs [][2]int, high int, err error) {
	for i, a := range c.Args {
		if i >= len(riscv64.ArgRegisters) {
			return nil, 0, exhausted(fmt.Sprintf("call to %s passes more arguments than argument registers", c.Proc))
		}
		cv := ra.pool[ra.colours[v][ssa.Find(a)]]
		cu := ra.pool[riscv64.ArgRegisters[i]]
		high = max(high, cu, cv)
		if cu != cv {
			movs = append(movs, [2]int{cv, cu})
		}
	}
	return movs, high, nil
}

func (ra *allocator) emit(movs [][2]int, high int) ([]*ssa.Inst, error) {
	if len(movs) == 0 {
		return nil, nil
	}
	tmp := high + 1
	if tmp >= len(riscv64.REGALLOC) {
		return nil, exhausted("no scratch register above the colours a parallel move touches")
	}
	var insts []*ssa.Inst
	for _, m := range parallelMoves(movs, tmp) {
		insts = append(insts, &ssa.Inst{Op: riscv64.MV, Args: []ssa.Value{
			ssa.Reg{Reg: riscv64.REGALLOC[m[1]]},
			ssa.Reg{Reg: riscv64.REGALLOC[m[0]]},
		}})
	}
	return insts, nil
}

// parmove resolves every edge's argument transfer. Moves land at the
// end of a single-successor predecessor; a multi-successor predecessor
// instead prepends them to the receiving block, which critical-edge
// splitting guarantees has that predecessor alone.
func (ra *allocator) parmove() error {
	for _, v := range ra.proc.Blocks {
		switch {
		case len(v.Succs) > 1:
			edges := v.Cont.Edges()
			for i, u := range v.Succs {
				if len(u.Preds) != 1 {
					panic(&diagnostics.InvariantError{
						Invariant: "critical-edge-free",
						Detail:    fmt.Sprintf("edge %s -> %s joins a multi-successor block to a multi-predecessor block", v.Label, u.Label),
					})
				}
				movs, high := ra.edgeMovePairs(edges[i], v, u)
				insts, err := ra.emit(movs, high)
				if err != nil {
					return err
				}
				u.Insts = append(insts, u.Insts...)
			}

		case len(v.Succs) == 1:
			u := v.Succs[0]
			movs, high := ra.edgeMovePairs(v.Cont.Edges()[0], v, u)
			if cc, ok := v.Cont.(*ssa.CallCont); ok {
				cmovs, chigh, err := ra.callMovePairs(cc, v)
				if err != nil {
					return err
				}
				movs = append(movs, cmovs...)
				high = max(high, chigh)
			}
			insts, err := ra.emit(movs, high)
			if err != nil {
				return err
			}
			v.Insts = append(v.Insts, insts...)

		default:
			rc, ok := v.Cont.(*ssa.ReturnCont)
			if !ok || rc.Value == nil {
				continue
			}
			// The return value travels in a0, the same convention the
			// call side's then-block parameter assumes.
			c := ra.colours[v][ssa.Find(rc.Value)]
			if c != riscv64.A0 {
				v.Insts = append(v.Insts, &ssa.Inst{Op: riscv64.MV, Args: []ssa.Value{
					ssa.Reg{Reg: riscv64.A0},
					ssa.Reg{Reg: c},
				}})
			}
		}
	}
	return nil
}
