package ssaopt

import (
	"testing"

	"garnetc/internal/ast"
	"garnetc/internal/builder"
	"garnetc/internal/diagnostics"
	"garnetc/internal/ssa"
	"garnetc/internal/symbols"
)

func buildFor(t *testing.T, decl *ast.Decl) *ssa.Procedure {
	t.Helper()
	table, err := symbols.Build(decl)
	if err != nil {
		t.Fatalf("symbols: %v", err)
	}
	proc, err := builder.Build(decl, table)
	if err != nil {
		t.Fatalf("builder: %v", err)
	}
	return proc
}

func countOps(proc *ssa.Procedure, op ssa.AbstractOp) int {
	n := 0
	for _, b := range proc.Blocks {
		for _, inst := range b.Insts {
			if inst.Forwarded != nil {
				continue
			}
			if ao, ok := inst.Op.(ssa.AbstractOp); ok && ao == op {
				n++
			}
		}
	}
	return n
}

func constValue(t *testing.T, v ssa.Value) int64 {
	t.Helper()
	inst, ok := ssa.Find(v).(*ssa.Inst)
	if !ok {
		t.Fatalf("expected a CONST, got %T", ssa.Find(v))
	}
	if ao, ok := inst.Op.(ssa.AbstractOp); !ok || ao != ssa.OpConst {
		t.Fatalf("expected a CONST, got %s", inst.Op)
	}
	return inst.Const
}

// x := 1 + 2*3 folds to a single constant 7.
func TestConstantFolding(t *testing.T) {
	mul := &ast.Binary{Op: ast.BinaryMul, Lhs: &ast.Number{Value: 2}, Rhs: &ast.Number{Value: 3}}
	add := &ast.Binary{Op: ast.BinaryAdd, Lhs: &ast.Number{Value: 1}, Rhs: mul}
	decl := &ast.Decl{
		VarDecls: []string{"x"},
		Stmt:     &ast.AssignStmt{Ident: "x", Expr: add},
	}
	proc := buildFor(t, decl)

	var addInst *ssa.Inst
	for _, inst := range proc.Entry().Insts {
		if ao, ok := inst.Op.(ssa.AbstractOp); ok && ao == ssa.OpAdd {
			addInst = inst
		}
	}
	if addInst == nil {
		t.Fatal("expected an ADD before optimisation")
	}

	if err := Optimise(proc); err != nil {
		t.Fatal(err)
	}
	if got := constValue(t, addInst); got != 7 {
		t.Errorf("1 + 2*3 folded to %d, want 7", got)
	}
	if n := countOps(proc, ssa.OpMul); n != 0 {
		t.Errorf("%d MULs survive folding, want 0", n)
	}
	if n := countOps(proc, ssa.OpAdd); n != 0 {
		t.Errorf("%d ADDs survive folding, want 0", n)
	}
}

func TestAlgebraicIdentities(t *testing.T) {
	for _, tc := range []struct {
		name string
		expr ast.Expr
		want int64
	}{
		{"add zero", &ast.Binary{Op: ast.BinaryAdd, Lhs: &ast.Number{Value: 9}, Rhs: &ast.Number{Value: 0}}, 9},
		{"sub zero", &ast.Binary{Op: ast.BinarySub, Lhs: &ast.Number{Value: 9}, Rhs: &ast.Number{Value: 0}}, 9},
		{"mul one", &ast.Binary{Op: ast.BinaryMul, Lhs: &ast.Number{Value: 9}, Rhs: &ast.Number{Value: 1}}, 9},
		{"div one", &ast.Binary{Op: ast.BinaryDiv, Lhs: &ast.Number{Value: 9}, Rhs: &ast.Number{Value: 1}}, 9},
		{"div truncates toward zero", &ast.Binary{Op: ast.BinaryDiv, Lhs: &ast.Number{Value: -7}, Rhs: &ast.Number{Value: 2}}, -3},
	} {
		t.Run(tc.name, func(t *testing.T) {
			decl := &ast.Decl{
				VarDecls: []string{"x"},
				Stmt:     &ast.AssignStmt{Ident: "x", Expr: tc.expr},
			}
			proc := buildFor(t, decl)
			if err := Optimise(proc); err != nil {
				t.Fatal(err)
			}
			var last ssa.Value
			for _, inst := range proc.Entry().Insts {
				if inst.Op.Output() {
					last = inst
				}
			}
			if got := constValue(t, last); got != tc.want {
				t.Errorf("folded to %d, want %d", got, tc.want)
			}
		})
	}
}

// 2*x commutes the constant to the right and then strength-reduces to a
// shift.
func TestMulByTwoBecomesShift(t *testing.T) {
	decl := &ast.Decl{
		VarDecls: []string{"x", "y"},
		Stmt: &ast.Statements{Stmts: []ast.Stmt{
			&ast.ReadStmt{Ident: "x"},
			&ast.AssignStmt{Ident: "y", Expr: &ast.Binary{
				Op: ast.BinaryMul, Lhs: &ast.Number{Value: 2}, Rhs: &ast.Ident{Name: "x"},
			}},
			&ast.WriteStmt{Expr: &ast.Ident{Name: "y"}},
		}},
	}
	proc := buildFor(t, decl)
	if err := Optimise(proc); err != nil {
		t.Fatal(err)
	}
	if n := countOps(proc, ssa.OpSll); n != 1 {
		t.Errorf("%d SLLs after optimisation, want 1", n)
	}
	if n := countOps(proc, ssa.OpMul); n != 0 {
		t.Errorf("%d MULs after optimisation, want 0", n)
	}
}

// x/4 lowers to the SRA/SRL/ADD/SRA sequence for 2^k divisors.
func TestDivByPowerOfTwo(t *testing.T) {
	decl := &ast.Decl{
		VarDecls: []string{"x", "y"},
		Stmt: &ast.Statements{Stmts: []ast.Stmt{
			&ast.ReadStmt{Ident: "x"},
			&ast.AssignStmt{Ident: "y", Expr: &ast.Binary{
				Op: ast.BinaryDiv, Lhs: &ast.Ident{Name: "x"}, Rhs: &ast.Number{Value: 4},
			}},
			&ast.WriteStmt{Expr: &ast.Ident{Name: "y"}},
		}},
	}
	proc := buildFor(t, decl)
	if err := Optimise(proc); err != nil {
		t.Fatal(err)
	}
	if n := countOps(proc, ssa.OpDiv); n != 0 {
		t.Errorf("%d DIVs after optimisation, want 0", n)
	}
	if n := countOps(proc, ssa.OpSra); n != 2 {
		t.Errorf("%d SRAs after optimisation, want 2", n)
	}
	if n := countOps(proc, ssa.OpSrl); n != 1 {
		t.Errorf("%d SRLs after optimisation, want 1", n)
	}
	if n := countOps(proc, ssa.OpAdd); n != 1 {
		t.Errorf("%d ADDs after optimisation, want 1", n)
	}
}

func TestDivByThreeUsesMulh(t *testing.T) {
	decl := &ast.Decl{
		VarDecls: []string{"x", "y"},
		Stmt: &ast.Statements{Stmts: []ast.Stmt{
			&ast.ReadStmt{Ident: "x"},
			&ast.AssignStmt{Ident: "y", Expr: &ast.Binary{
				Op: ast.BinaryDiv, Lhs: &ast.Ident{Name: "x"}, Rhs: &ast.Number{Value: 3},
			}},
			&ast.WriteStmt{Expr: &ast.Ident{Name: "y"}},
		}},
	}
	proc := buildFor(t, decl)
	if err := Optimise(proc); err != nil {
		t.Fatal(err)
	}
	if n := countOps(proc, ssa.OpMulh); n != 1 {
		t.Errorf("%d MULHs after optimisation, want 1", n)
	}
	if n := countOps(proc, ssa.OpDiv); n != 0 {
		t.Errorf("%d DIVs after optimisation, want 0", n)
	}
}

func TestDivByZeroIsDiagnosed(t *testing.T) {
	decl := &ast.Decl{
		VarDecls: []string{"x", "y"},
		Stmt: &ast.Statements{Stmts: []ast.Stmt{
			&ast.ReadStmt{Ident: "x"},
			&ast.AssignStmt{Ident: "y", Expr: &ast.Binary{
				Op: ast.BinaryDiv, Lhs: &ast.Ident{Name: "x"}, Rhs: &ast.Number{Value: 0},
			}},
		}},
	}
	proc := buildFor(t, decl)
	err := Optimise(proc)
	if err == nil {
		t.Fatal("expected a division-by-zero diagnostic")
	}
	cerr, ok := err.(*diagnostics.CompilerError)
	if !ok {
		t.Fatalf("expected a CompilerError, got %T", err)
	}
	if cerr.Code != diagnostics.ErrDivisionByZero {
		t.Errorf("got code %s, want %s", cerr.Code, diagnostics.ErrDivisionByZero)
	}
}

// Re-running the pass on its own output changes nothing.
func TestOptimiseIsAFixedPoint(t *testing.T) {
	decl := &ast.Decl{
		VarDecls: []string{"x", "y"},
		Stmt: &ast.Statements{Stmts: []ast.Stmt{
			&ast.ReadStmt{Ident: "x"},
			&ast.AssignStmt{Ident: "y", Expr: &ast.Binary{
				Op:  ast.BinaryAdd,
				Lhs: &ast.Binary{Op: ast.BinaryMul, Lhs: &ast.Number{Value: 2}, Rhs: &ast.Ident{Name: "x"}},
				Rhs: &ast.Binary{Op: ast.BinaryDiv, Lhs: &ast.Ident{Name: "x"}, Rhs: &ast.Number{Value: 8}},
			}},
			&ast.WriteStmt{Expr: &ast.Ident{Name: "y"}},
		}},
	}
	proc := buildFor(t, decl)
	if err := Optimise(proc); err != nil {
		t.Fatal(err)
	}
	first := ssa.Print(proc)
	if err := Optimise(proc); err != nil {
		t.Fatal(err)
	}
	if second := ssa.Print(proc); second != first {
		t.Errorf("second run changed the procedure:\nfirst:\n%s\nsecond:\n%s", first, second)
	}
}
