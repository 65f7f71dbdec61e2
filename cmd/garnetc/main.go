// garnetc drives the backend pipeline over a set of built-in example
// programs. The front end (tokeniser, parser, variable checker) lives
// elsewhere, so the examples are pre-built ASTs rather than source
// text; the source each corresponds to is quoted above its builder.
package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/tliron/commonlog"

	"garnetc/internal/ast"
	"garnetc/internal/compiler"
	"garnetc/internal/diagnostics"
	"garnetc/internal/ssa"
)

func main() {
	verbose := false
	var names []string
	for _, arg := range os.Args[1:] {
		switch arg {
		case "-v":
			verbose = true
		case "-h", "-help", "--help":
			usage()
			return
		default:
			names = append(names, arg)
		}
	}
	if verbose {
		commonlog.Configure(1, nil)
	} else {
		commonlog.Configure(0, nil)
	}

	if len(names) == 0 {
		for name := range examples {
			names = append(names, name)
		}
		sort.Strings(names)
	}

	for _, name := range names {
		example, ok := examples[name]
		if !ok {
			color.Red("unknown example %q", name)
			usage()
			os.Exit(1)
		}
		if err := run(name, example()); err != nil {
			if cerr, ok := err.(*diagnostics.CompilerError); ok {
				fmt.Print(diagnostics.NewReporter(name, "").Format(cerr))
			} else {
				color.Red("%s: %s", name, err)
			}
			os.Exit(1)
		}
	}
}

func usage() {
	fmt.Println("Usage: garnetc [-v] [example ...]")
	var names []string
	for name := range examples {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Println("Examples:")
	for _, name := range names {
		fmt.Printf("  %s\n", name)
	}
}

func run(name string, decl *ast.Decl) error {
	result, err := compiler.Compile(decl, compiler.DefaultOptions)
	if err != nil {
		return err
	}

	color.Cyan("== %s: abstract SSA", name)
	fmt.Print(ssa.Print(result.Abstract))

	color.Cyan("== %s: RV64 SSA after allocation", name)
	for _, unit := range result.Units {
		fmt.Print(ssa.Print(unit.Procedure))
		for _, block := range unit.Procedure.Blocks {
			for _, param := range block.Params {
				fmt.Printf("\t# %s in %s\n", param.Label, unit.Colours[block][param])
			}
		}
	}
	return nil
}

// A counting loop with a conditional, a nested procedure over escaped
// variables, and shift-and-add multiplication driven by read/write
// statements.
var examples = map[string]func() *ast.Decl{
	"count":    count,
	"square":   square,
	"multiply": multiply,
}

func num(v int64) *ast.Number      { return &ast.Number{Value: v} }
func ident(name string) *ast.Ident { return &ast.Ident{Name: name} }
func bin(op ast.BinaryOp, l, r ast.Expr) *ast.Binary {
	return &ast.Binary{Op: op, Lhs: l, Rhs: r}
}
func assign(name string, e ast.Expr) *ast.AssignStmt {
	return &ast.AssignStmt{Ident: name, Expr: e}
}
func seq(stmts ...ast.Stmt) *ast.Statements { return &ast.Statements{Stmts: stmts} }

// var x, y;
// begin
//   x := 0;
//   while x < 10 do begin
//     if x < 5 then x := 5;
//     x := x + 1
//   end;
//   y := x;
//   ! y
// end.
func count() *ast.Decl {
	return &ast.Decl{
		VarDecls: []string{"x", "y"},
		Stmt: seq(
			assign("x", num(0)),
			&ast.WhileStmt{
				Cond: bin(ast.BinaryLt, ident("x"), num(10)),
				Body: seq(
					&ast.IfStmt{
						Cond: bin(ast.BinaryLt, ident("x"), num(5)),
						Body: assign("x", num(5)),
					},
					assign("x", bin(ast.BinaryAdd, ident("x"), num(1))),
				),
			},
			assign("y", ident("x")),
			&ast.WriteStmt{Expr: ident("y")},
		),
	}
}

// var x, squ;
// procedure square; begin squ := x * x; square := squ end;
// begin
//   x := 1;
//   while x <= 10 do begin
//     call square; ! squ; x := x + 1
//   end
// end.
func square() *ast.Decl {
	return &ast.Decl{
		VarDecls: []string{"x", "squ"},
		ProcDecls: []ast.ProcDecl{{
			Name: "square",
			Body: &ast.Decl{Stmt: seq(
				assign("squ", bin(ast.BinaryMul, ident("x"), ident("x"))),
				assign("square", ident("squ")),
			)},
		}},
		Stmt: seq(
			assign("x", num(1)),
			&ast.WhileStmt{
				Cond: bin(ast.BinaryLe, ident("x"), num(10)),
				Body: seq(
					&ast.CallStmt{Name: "square"},
					&ast.WriteStmt{Expr: ident("squ")},
					assign("x", bin(ast.BinaryAdd, ident("x"), num(1))),
				),
			},
		),
	}
}

// var x, y, z;
// begin
//   ? x; ? y;
//   z := 0;
//   while y > 0 do begin
//     if odd y then z := z + x;
//     x := 2 * x;
//     y := y / 2
//   end;
//   ! z
// end.
func multiply() *ast.Decl {
	return &ast.Decl{
		VarDecls: []string{"x", "y", "z"},
		Stmt: seq(
			&ast.ReadStmt{Ident: "x"},
			&ast.ReadStmt{Ident: "y"},
			assign("z", num(0)),
			&ast.WhileStmt{
				Cond: bin(ast.BinaryGt, ident("y"), num(0)),
				Body: seq(
					&ast.IfStmt{
						Cond: &ast.Unary{Op: ast.UnaryOdd, Expr: ident("y")},
						Body: assign("z", bin(ast.BinaryAdd, ident("z"), ident("x"))),
					},
					assign("x", bin(ast.BinaryMul, num(2), ident("x"))),
					assign("y", bin(ast.BinaryDiv, ident("y"), num(2))),
				),
			},
			&ast.WriteStmt{Expr: ident("z")},
		),
	}
}
