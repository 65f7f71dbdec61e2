// Package builder implements the SSA builder: incremental
// block-parameter construction in the style of Braun et al.'s "Simple
// and Efficient Construction of Static Single Assignment Form", with
// block parameters in place of phi functions, from an AST plus the
// symbol table internal/symbols computes for it.
//
// The write/read/readRecursive/seal bookkeeping only tracks variables
// the table classifies as SSA-reachable; constants materialise at use
// sites and escaped variables go through LOAD/STORE instead.
package builder

import (
	"fmt"

	"garnetc/internal/ast"
	"garnetc/internal/diagnostics"
	"garnetc/internal/ssa"
	"garnetc/internal/symbols"
)

var binaryOpcode = map[ast.BinaryOp]ssa.AbstractOp{
	ast.BinaryAdd: ssa.OpAdd,
	ast.BinarySub: ssa.OpSub,
	ast.BinaryMul: ssa.OpMul,
	ast.BinaryDiv: ssa.OpDiv,
	ast.BinaryLt:  ssa.OpSlt,
	ast.BinaryGt:  ssa.OpSgt,
	ast.BinaryLe:  ssa.OpSle,
	ast.BinaryGe:  ssa.OpSge,
	ast.BinaryEq:  ssa.OpSeq,
	ast.BinaryNe:  ssa.OpSne,
}

// Build compiles root (and every procedure nested within it,
// transitively) into an abstract ssa.Procedure named "main", given the
// symbol table internal/symbols computed for the same AST.
func Build(root *ast.Decl, table *symbols.Table) (*ssa.Procedure, error) {
	return buildProcedure("main", nil, root, table)
}

// state holds the per-procedure SSA construction bookkeeping. Every
// nested procedure gets a fresh state: definitions never leak across a
// procedure boundary.
type state struct {
	decl  *ast.Decl
	table *symbols.Table

	currentDef       map[string]map[*ssa.Block]ssa.Value
	incompleteParams map[*ssa.Block]map[string]*ssa.Param
	sealed           map[*ssa.Block]bool

	blocks       []*ssa.Block
	blockCounter int

	// currentBreak is reserved for a future break statement: LoopStmt
	// assigns its exit block here but nothing reads it, since the
	// language has no break.
	currentBreak *ssa.Block
}

func newState(decl *ast.Decl, table *symbols.Table) *state {
	return &state{
		decl:             decl,
		table:            table,
		currentDef:       map[string]map[*ssa.Block]ssa.Value{},
		incompleteParams: map[*ssa.Block]map[string]*ssa.Param{},
		sealed:           map[*ssa.Block]bool{},
	}
}

func buildProcedure(name string, params []string, decl *ast.Decl, table *symbols.Table) (*ssa.Procedure, error) {
	st := newState(decl, table)

	var nested []*ssa.Procedure
	for _, pd := range decl.ProcDecls {
		child, err := buildProcedure(pd.Name, pd.Params, pd.Body, table)
		if err != nil {
			return nil, err
		}
		nested = append(nested, child)
	}

	entry := st.newBlock("fentry")
	if err := st.seal(entry); err != nil {
		return nil, err
	}
	for _, p := range params {
		param := entry.Param()
		// A formal parameter captured by a nested procedure lives in
		// memory like any other escaped variable; spill it on entry.
		if info, ok := table.Lookup(decl, p); ok && info.Kind == symbols.KindGlobal {
			entry.Emit(&ssa.Inst{Op: ssa.OpStore, Args: []ssa.Value{param}, Variable: p})
			continue
		}
		st.write(p, entry, param)
	}

	last, err := st.visitStmt(entry, decl.Stmt)
	if err != nil {
		return nil, err
	}

	// A nil last block means control never falls out of the body (it
	// ends in an unconditional loop); every block is already closed and
	// an exit block would be unreachable.
	if last != nil {
		bexit := st.newBlock("fexit")
		last.Jump(bexit)
		if err := st.seal(bexit); err != nil {
			return nil, err
		}

		var retval ssa.Value
		if name != "main" {
			// The return slot carries the same name as the procedure;
			// reading it here threads whatever was last written to it
			// through the exit block, exactly the way a plain local
			// would.
			if _, ok := table.Lookup(decl, name); ok {
				retval, err = st.read(name, bexit)
				if err != nil {
					return nil, err
				}
			}
		}
		bexit.Ret(retval)
	}

	return &ssa.Procedure{Label: name, Blocks: st.blocks, Procedures: nested}, nil
}

func (st *state) newBlock(suffix string) *ssa.Block {
	st.blockCounter++
	b := ssa.NewBlock(fmt.Sprintf("b%d_%s", st.blockCounter, suffix))
	st.blocks = append(st.blocks, b)
	return b
}

func (st *state) write(name string, block *ssa.Block, v ssa.Value) {
	m, ok := st.currentDef[name]
	if !ok {
		m = map[*ssa.Block]ssa.Value{}
		st.currentDef[name] = m
	}
	m[block] = v
}

func (st *state) read(name string, block *ssa.Block) (ssa.Value, error) {
	if m, ok := st.currentDef[name]; ok {
		if v, ok := m[block]; ok {
			return v, nil
		}
	}
	return st.readRecursive(name, block)
}

// readRecursive resolves a name with no definition in block: an
// unsealed block always gets a fresh deferred Param; a sealed block
// with predecessors synthesises a Param and feeds it from every
// predecessor immediately. A single-predecessor block could reuse the
// predecessor's value instead of a one-argument Param, but the uniform
// shape keeps every cross-block value an explicit parameter.
func (st *state) readRecursive(name string, block *ssa.Block) (ssa.Value, error) {
	if !st.sealed[block] {
		param := block.Param()
		if st.incompleteParams[block] == nil {
			st.incompleteParams[block] = map[string]*ssa.Param{}
		}
		st.incompleteParams[block][name] = param
		st.write(name, block, param)
		return param, nil
	}
	if len(block.Preds) == 0 {
		return nil, &diagnostics.CompilerError{
			Level:   diagnostics.LevelError,
			Code:    diagnostics.ErrUnboundLocal,
			Message: fmt.Sprintf("unbound local %q", name),
			Detail:  fmt.Sprintf("block %s has no predecessors", block.Label),
		}
	}
	param := block.Param()
	st.write(name, block, param)
	for _, pred := range block.Preds {
		v, err := st.read(name, pred)
		if err != nil {
			return nil, err
		}
		st.addPredArg(block, pred, param, v)
	}
	return param, nil
}

// addPredArg wires value as pred's argument for param on whichever of
// pred's continuation edges targets block.
func (st *state) addPredArg(block, pred *ssa.Block, param *ssa.Param, value ssa.Value) {
	for _, e := range pred.Cont.Edges() {
		if e.Target == block {
			e.AddArg(param, value)
		}
	}
}

// seal marks block's predecessor set final, back-patching every param
// deferred while the block was unsealed.
func (st *state) seal(block *ssa.Block) error {
	for name, param := range st.incompleteParams[block] {
		for _, pred := range block.Preds {
			v, err := st.read(name, pred)
			if err != nil {
				return err
			}
			st.addPredArg(block, pred, param, v)
		}
	}
	delete(st.incompleteParams, block)
	st.sealed[block] = true
	return nil
}

func (st *state) getVariable(name string, block *ssa.Block) (ssa.Value, error) {
	info, ok := st.table.Lookup(st.decl, name)
	if !ok {
		return nil, fmt.Errorf("builder: unresolved identifier %q", name)
	}
	switch info.Kind {
	case symbols.KindConst:
		return block.Emit(&ssa.Inst{Op: ssa.OpConst, Const: info.Const}), nil
	case symbols.KindGlobal:
		return block.Emit(&ssa.Inst{Op: ssa.OpLoad, Variable: name}), nil
	case symbols.KindProc:
		return nil, fmt.Errorf("builder: %q is a procedure, not a value", name)
	default: // KindLocal, KindParam, KindReturn
		return st.read(name, block)
	}
}

func (st *state) setVariable(name string, block *ssa.Block, value ssa.Value) error {
	info, ok := st.table.Lookup(st.decl, name)
	if !ok {
		return fmt.Errorf("builder: unresolved identifier %q", name)
	}
	switch info.Kind {
	case symbols.KindGlobal:
		block.Emit(&ssa.Inst{Op: ssa.OpStore, Args: []ssa.Value{value}, Variable: name})
	case symbols.KindConst:
		return fmt.Errorf("builder: cannot assign to constant %q", name)
	case symbols.KindProc:
		return fmt.Errorf("builder: cannot assign to procedure %q", name)
	default:
		st.write(name, block, value)
	}
	return nil
}

// emitCall lowers a call site: arguments evaluate left to right (each
// may itself switch the current block via a nested call), then block
// closes with a CallCont into a fresh "_cthen" block. That block always
// carries exactly one parameter materialising the return value, whether
// or not the call site is an expression; the register allocator keys
// its return-register convention on the exact "_cthen" suffix.
func (st *state) emitCall(block *ssa.Block, proc string, argExprs []ast.Expr) (ssa.Value, *ssa.Block, error) {
	args := make([]ssa.Value, 0, len(argExprs))
	for _, a := range argExprs {
		v, nb, err := st.visitExpr(block, a)
		if err != nil {
			return nil, nil, err
		}
		block = nb
		args = append(args, v)
	}
	then := st.newBlock("cthen")
	block.Call(proc, args, then)
	if err := st.seal(then); err != nil {
		return nil, nil, err
	}
	retval := then.Param()
	return retval, then, nil
}

func (st *state) visitExpr(block *ssa.Block, expr ast.Expr) (ssa.Value, *ssa.Block, error) {
	switch e := expr.(type) {
	case *ast.Number:
		return block.Emit(&ssa.Inst{Op: ssa.OpConst, Const: e.Value}), block, nil

	case *ast.Ident:
		v, err := st.getVariable(e.Name, block)
		if cerr, ok := err.(*diagnostics.CompilerError); ok && cerr.Position == (ast.Position{}) {
			cerr.Position = e.Pos
		}
		return v, block, err

	case *ast.Unary:
		v, nb, err := st.visitExpr(block, e.Expr)
		if err != nil {
			return nil, nil, err
		}
		switch e.Op {
		case ast.UnaryPlus:
			return v, nb, nil
		case ast.UnaryNeg:
			zero := nb.Emit(&ssa.Inst{Op: ssa.OpConst, Const: 0})
			return nb.Emit(&ssa.Inst{Op: ssa.OpSub, Args: []ssa.Value{zero, v}}), nb, nil
		case ast.UnaryOdd:
			return nb.Emit(&ssa.Inst{Op: ssa.OpOdd, Args: []ssa.Value{v}}), nb, nil
		default:
			return nil, nil, fmt.Errorf("builder: unhandled unary operator %v", e.Op)
		}

	case *ast.Binary:
		lv, nb, err := st.visitExpr(block, e.Lhs)
		if err != nil {
			return nil, nil, err
		}
		rv, nb, err := st.visitExpr(nb, e.Rhs)
		if err != nil {
			return nil, nil, err
		}
		op, ok := binaryOpcode[e.Op]
		if !ok {
			return nil, nil, fmt.Errorf("builder: unhandled binary operator %v", e.Op)
		}
		return nb.Emit(&ssa.Inst{Op: op, Args: []ssa.Value{lv, rv}}), nb, nil

	case *ast.Assign:
		v, nb, err := st.visitExpr(block, e.Expr)
		if err != nil {
			return nil, nil, err
		}
		if err := st.setVariable(e.Ident, nb, v); err != nil {
			return nil, nil, err
		}
		return v, nb, nil

	case *ast.Call:
		return st.emitCall(block, e.Name, e.Args)

	default:
		return nil, nil, fmt.Errorf("builder: unhandled expression %T", expr)
	}
}

// visitStmt lowers stmt into block and returns the block where control
// continues afterwards. A nil block (with a nil error) means control
// can never reach the end of stmt — it ends in an unconditional loop —
// so nothing may be built after it.
func (st *state) visitStmt(block *ssa.Block, stmt ast.Stmt) (*ssa.Block, error) {
	switch s := stmt.(type) {
	case nil:
		return block, nil

	case *ast.AssignStmt:
		v, nb, err := st.visitExpr(block, s.Expr)
		if err != nil {
			return nil, err
		}
		if err := st.setVariable(s.Ident, nb, v); err != nil {
			return nil, err
		}
		return nb, nil

	case *ast.ExprStmt:
		_, nb, err := st.visitExpr(block, s.Expr)
		return nb, err

	case *ast.CallStmt:
		_, then, err := st.emitCall(block, s.Name, nil)
		return then, err

	case *ast.ReadStmt:
		v := block.Emit(&ssa.Inst{Op: ssa.OpScan})
		if err := st.setVariable(s.Ident, block, v); err != nil {
			return nil, err
		}
		return block, nil

	case *ast.WriteStmt:
		v, nb, err := st.visitExpr(block, s.Expr)
		if err != nil {
			return nil, err
		}
		nb.Emit(&ssa.Inst{Op: ssa.OpPrint, Args: []ssa.Value{v}})
		return nb, nil

	case *ast.Statements:
		cur := block
		for _, inner := range s.Stmts {
			var err error
			cur, err = st.visitStmt(cur, inner)
			if err != nil {
				return nil, err
			}
			if cur == nil {
				// The remaining statements are dead: building them
				// would create unreachable blocks.
				return nil, nil
			}
		}
		return cur, nil

	case *ast.IfStmt:
		return st.visitIf(block, s.Cond, s.Body, nil)

	case *ast.IfElseStmt:
		return st.visitIf(block, s.Cond, s.Body, s.Alt)

	case *ast.WhileStmt:
		return st.visitWhile(block, s.Cond, s.Body)

	case *ast.LoopStmt:
		return st.visitLoop(block, s.Body)

	default:
		return nil, fmt.Errorf("builder: unhandled statement %T", stmt)
	}
}

// visitIf lowers IfStmt/IfElseStmt: bthen (and balt, for the two-armed
// form) seal immediately since the branch is their only predecessor;
// bexit seals once every arm that still runs to completion has joined
// it. An arm ending in an unconditional loop never joins; if both arms
// of a two-armed form diverge, there is no join block at all and the
// conditional itself diverges.
func (st *state) visitIf(bentry *ssa.Block, cond ast.Expr, body, alt ast.Stmt) (*ssa.Block, error) {
	bthen := st.newBlock("ithen")
	// With no else arm, a false condition falls straight through to
	// bexit; balt is only a distinct block when there is an alt to run.
	var bexit, balt *ssa.Block
	if alt == nil {
		bexit = st.newBlock("iexit")
		balt = bexit
	} else {
		balt = st.newBlock("ialt")
	}

	cv, condBlock, err := st.visitExpr(bentry, cond)
	if err != nil {
		return nil, err
	}
	condBlock.Branch(cv, bthen, balt)

	if err := st.seal(bthen); err != nil {
		return nil, err
	}
	bthenEnd, err := st.visitStmt(bthen, body)
	if err != nil {
		return nil, err
	}

	if alt == nil {
		if bthenEnd != nil {
			bthenEnd.Jump(bexit)
		}
		if err := st.seal(bexit); err != nil {
			return nil, err
		}
		return bexit, nil
	}

	if err := st.seal(balt); err != nil {
		return nil, err
	}
	baltEnd, err := st.visitStmt(balt, alt)
	if err != nil {
		return nil, err
	}

	if bthenEnd == nil && baltEnd == nil {
		return nil, nil
	}
	bexit = st.newBlock("iexit")
	if bthenEnd != nil {
		bthenEnd.Jump(bexit)
	}
	if baltEnd != nil {
		baltEnd.Jump(bexit)
	}
	if err := st.seal(bexit); err != nil {
		return nil, err
	}
	return bexit, nil
}

// visitWhile lowers WhileStmt: the header is left unsealed until the
// back edge from the body is known, so reads of a loop-carried variable
// inside the condition synthesise a deferred parameter that
// seal(bheader) later back-patches from both the pre-header and the
// body's end.
func (st *state) visitWhile(bentry *ssa.Block, cond ast.Expr, body ast.Stmt) (*ssa.Block, error) {
	bheader := st.newBlock("wheader")
	bexit := st.newBlock("wexit")

	bentry.Jump(bheader)

	cv, condBlock, err := st.visitExpr(bheader, cond)
	if err != nil {
		return nil, err
	}
	bbody := st.newBlock("wbody")
	condBlock.Branch(cv, bbody, bexit)

	if err := st.seal(bbody); err != nil {
		return nil, err
	}
	bbodyEnd, err := st.visitStmt(bbody, body)
	if err != nil {
		return nil, err
	}
	// A body ending in an unconditional loop never takes the back edge;
	// the header then has the pre-header as its only predecessor.
	if bbodyEnd != nil {
		bbodyEnd.Jump(bheader)
	}

	if err := st.seal(bheader); err != nil {
		return nil, err
	}
	if err := st.seal(bexit); err != nil {
		return nil, err
	}
	return bexit, nil
}

// visitLoop lowers LoopStmt: the language has no break, so the loop
// never exits and visitLoop returns a nil block — statements sequenced
// after it are dead and must not be built. The exit block currentBreak
// reserves for a future break statement is never wired to any
// continuation and is deliberately not added to the procedure's block
// list (no block may be unreachable).
func (st *state) visitLoop(bentry *ssa.Block, body ast.Stmt) (*ssa.Block, error) {
	bheader := st.newBlock("lheader")
	bexit := ssa.NewBlock(fmt.Sprintf("b%d_lexit", st.blockCounter))

	prevBreak := st.currentBreak
	st.currentBreak = bexit
	defer func() { st.currentBreak = prevBreak }()

	bentry.Jump(bheader)

	bodyEnd, err := st.visitStmt(bheader, body)
	if err != nil {
		return nil, err
	}
	if bodyEnd != nil {
		bodyEnd.Jump(bheader)
	}

	if err := st.seal(bheader); err != nil {
		return nil, err
	}
	return nil, nil
}
